package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/buildcoord/internal/build"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based datastore.
// Use ":memory:" for in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps writes serialized and keeps ":memory:"
	// databases from being duplicated per pooled connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS configurations (
		id TEXT PRIMARY KEY,
		revision TEXT NOT NULL,
		dependencies TEXT
	);
	CREATE TABLE IF NOT EXISTS build_records (
		id TEXT PRIMARY KEY,
		config_id TEXT NOT NULL,
		status TEXT NOT NULL,
		dependency_inputs TEXT,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_config ON build_records(config_id, completed_at);
	CREATE TABLE IF NOT EXISTS build_groups (
		id TEXT PRIMARY KEY,
		config_set_id TEXT NOT NULL,
		member_task_ids TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_groups_status ON build_groups(status);
	CREATE TABLE IF NOT EXISTS build_tasks (
		id TEXT PRIMARY KEY,
		config_id TEXT NOT NULL,
		config_revision TEXT NOT NULL,
		status TEXT NOT NULL,
		group_id TEXT,
		depends_on TEXT,
		correlation_id TEXT,
		submitted_at INTEGER,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_group ON build_tasks(group_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_correlation ON build_tasks(correlation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func marshalStrings(ss []string) (string, error) {
	if len(ss) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("marshal string list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" || raw.String == "[]" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw.String), &ss); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w", err)
	}
	return ss, nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeFromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

// GetBuildConfiguration returns a configuration by id.
func (s *SQLiteStore) GetBuildConfiguration(ctx context.Context, id string) (*build.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, revision, dependencies FROM configurations WHERE id = ?", id)

	var c build.Configuration
	var deps sql.NullString
	if err := row.Scan(&c.ID, &c.Revision, &deps); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan configuration: %w", err)
	}
	var err error
	if c.Dependencies, err = unmarshalStrings(deps); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveBuildConfiguration upserts a configuration.
func (s *SQLiteStore) SaveBuildConfiguration(ctx context.Context, c *build.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deps, err := marshalStrings(c.Dependencies)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO configurations (id, revision, dependencies) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET revision = excluded.revision, dependencies = excluded.dependencies`,
		c.ID, c.Revision, deps)
	if err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}
	return nil
}

// GetBuildRecord returns a build record by id.
func (s *SQLiteStore) GetBuildRecord(ctx context.Context, id string) (*build.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, config_id, status, dependency_inputs, completed_at FROM build_records WHERE id = ?", id)
	return scanRecord(row)
}

// GetLatestSuccessfulBuildRecord returns the most recent SUCCESS record for a configuration.
func (s *SQLiteStore) GetLatestSuccessfulBuildRecord(ctx context.Context, configID string) (*build.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, config_id, status, dependency_inputs, completed_at FROM build_records
		 WHERE config_id = ? AND status = ? ORDER BY completed_at DESC, id DESC LIMIT 1`,
		configID, string(build.StatusSuccess))
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (*build.Record, error) {
	var r build.Record
	var status string
	var inputs sql.NullString
	var completed int64
	if err := row.Scan(&r.ID, &r.ConfigID, &status, &inputs, &completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan build record: %w", err)
	}
	r.Status = build.Status(status)
	r.CompletedAt = time.Unix(completed, 0)
	var err error
	if r.DependencyInputs, err = unmarshalStrings(inputs); err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveBuildRecord upserts a build record.
func (s *SQLiteStore) SaveBuildRecord(ctx context.Context, r *build.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputs, err := marshalStrings(r.DependencyInputs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO build_records (id, config_id, status, dependency_inputs, completed_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, dependency_inputs = excluded.dependency_inputs, completed_at = excluded.completed_at`,
		r.ID, r.ConfigID, string(r.Status), inputs, r.CompletedAt.Unix())
	if err != nil {
		return fmt.Errorf("save build record: %w", err)
	}
	return nil
}

// GetGroup returns a group by id.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*build.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, config_set_id, member_task_ids, status, created_at FROM build_groups WHERE id = ?", id)
	return scanGroup(row.Scan)
}

func scanGroup(scan func(...any) error) (*build.Group, error) {
	var g build.Group
	var members sql.NullString
	var status string
	var created int64
	if err := scan(&g.ID, &g.ConfigSetID, &members, &status, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan group: %w", err)
	}
	g.Status = build.GroupStatus(status)
	g.CreatedAt = time.Unix(created, 0)
	var err error
	if g.MemberTaskIDs, err = unmarshalStrings(members); err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveGroup upserts a group.
func (s *SQLiteStore) SaveGroup(ctx context.Context, g *build.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, err := marshalStrings(g.MemberTaskIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO build_groups (id, config_set_id, member_task_ids, status, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET member_task_ids = excluded.member_task_ids, status = excluded.status`,
		g.ID, g.ConfigSetID, members, string(g.Status), g.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	return nil
}

// SaveGroupStatus updates only the recorded status of a group.
func (s *SQLiteStore) SaveGroupStatus(ctx context.Context, id string, status build.GroupStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE build_groups SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("save group status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListNonTerminalGroups returns groups whose recorded status is not terminal.
func (s *SQLiteStore) ListNonTerminalGroups(ctx context.Context) ([]*build.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, config_set_id, member_task_ids, status, created_at FROM build_groups WHERE status NOT IN (?, ?) ORDER BY created_at",
		string(build.GroupDone), string(build.GroupDoneWithErrors))
	if err != nil {
		return nil, fmt.Errorf("list non-terminal groups: %w", err)
	}
	defer rows.Close()

	var groups []*build.Group
	for rows.Next() {
		g, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GetTask returns a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*build.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, config_id, config_revision, status, group_id, depends_on, correlation_id, submitted_at, completed_at
		 FROM build_tasks WHERE id = ?`, id)
	return scanTask(row.Scan)
}

func scanTask(scan func(...any) error) (*build.Task, error) {
	var t build.Task
	var status string
	var groupID, corrID sql.NullString
	var deps sql.NullString
	var submitted, completed sql.NullInt64
	if err := scan(&t.ID, &t.ConfigID, &t.ConfigRevision, &status, &groupID, &deps, &corrID, &submitted, &completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = build.Status(status)
	t.GroupID = groupID.String
	t.CorrelationID = corrID.String
	t.SubmittedAt = timeFromUnix(submitted)
	t.CompletedAt = timeFromUnix(completed)
	var err error
	if t.DependsOn, err = unmarshalStrings(deps); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTaskByCorrelationID resolves the task bound to a submission correlation id.
func (s *SQLiteStore) GetTaskByCorrelationID(ctx context.Context, correlationID string) (*build.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, config_id, config_revision, status, group_id, depends_on, correlation_id, submitted_at, completed_at
		 FROM build_tasks WHERE correlation_id = ?`, correlationID)
	return scanTask(row.Scan)
}

// SaveTask upserts a task.
func (s *SQLiteStore) SaveTask(ctx context.Context, t *build.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deps, err := marshalStrings(t.DependsOn)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO build_tasks (id, config_id, config_revision, status, group_id, depends_on, correlation_id, submitted_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			group_id = excluded.group_id,
			correlation_id = excluded.correlation_id,
			submitted_at = excluded.submitted_at,
			completed_at = excluded.completed_at`,
		t.ID, t.ConfigID, t.ConfigRevision, string(t.Status), t.GroupID, deps, t.CorrelationID,
		nullableUnix(t.SubmittedAt), nullableUnix(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// SaveTaskStatus updates only the status of a task, stamping completed_at the
// first time a terminal status is recorded.
func (s *SQLiteStore) SaveTaskStatus(ctx context.Context, id string, status build.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res sql.Result
	var err error
	if status.Terminal() {
		res, err = s.db.ExecContext(ctx,
			"UPDATE build_tasks SET status = ?, completed_at = COALESCE(completed_at, ?) WHERE id = ?",
			string(status), time.Now().Unix(), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE build_tasks SET status = ? WHERE id = ?", string(status), id)
	}
	if err != nil {
		return fmt.Errorf("save task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGroupTasks returns the member tasks of a group in member order.
func (s *SQLiteStore) ListGroupTasks(ctx context.Context, groupID string) ([]*build.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, config_id, config_revision, status, group_id, depends_on, correlation_id, submitted_at, completed_at
		 FROM build_tasks WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*build.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
