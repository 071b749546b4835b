package daemon

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/buildcoord/internal/version"
)

// HealthStatus represents the overall health of the daemon
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
}

// PerformHealthChecks executes all health checks and returns the overall status
func (d *Daemon) PerformHealthChecks() *HealthResponse {
	var checks []HealthCheck
	overallStatus := HealthStatusHealthy

	daemonCheck := d.checkDaemonHealth()
	checks = append(checks, daemonCheck)
	if daemonCheck.Status == HealthStatusUnhealthy {
		overallStatus = HealthStatusUnhealthy
	} else if daemonCheck.Status != HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	storeCheck := d.checkStoreHealth()
	checks = append(checks, storeCheck)
	if storeCheck.Status == HealthStatusUnhealthy {
		overallStatus = HealthStatusUnhealthy
	} else if storeCheck.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	journalCheck := d.checkJournalHealth()
	checks = append(checks, journalCheck)
	if journalCheck.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	reconcilerCheck := d.checkReconcilerHealth()
	checks = append(checks, reconcilerCheck)
	if reconcilerCheck.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	return &HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(d.startTime).String(),
		Version:   version.Version,
		Checks:    checks,
	}
}

// checkDaemonHealth verifies the daemon is in a healthy state
func (d *Daemon) checkDaemonHealth() HealthCheck {
	start := time.Now()

	status := d.GetStatus()
	check := HealthCheck{
		Name:        "daemon_status",
		LastChecked: time.Now(),
		Duration:    time.Since(start),
	}

	switch status {
	case StatusRunning:
		check.Status = HealthStatusHealthy
		check.Message = "Daemon is running normally"
	case StatusStarting:
		check.Status = HealthStatusDegraded
		check.Message = "Daemon is still starting up"
	case StatusStopping:
		check.Status = HealthStatusDegraded
		check.Message = "Daemon is shutting down"
	case StatusStopped:
		check.Status = HealthStatusUnhealthy
		check.Message = "Daemon is not running"
	case StatusError:
		check.Status = HealthStatusUnhealthy
		check.Message = "Daemon is in error state"
	default:
		check.Status = HealthStatusUnhealthy
		check.Message = "Daemon is in unknown state"
	}

	return check
}

// checkStoreHealth verifies the task store answers queries
func (d *Daemon) checkStoreHealth() HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        "task_store",
		LastChecked: time.Now(),
	}

	if d.store == nil {
		check.Status = HealthStatusUnhealthy
		check.Message = "Task store not initialized"
		check.Duration = time.Since(start)
		return check
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	groups, err := d.store.ListNonTerminalGroups(ctx)
	check.Duration = time.Since(start)
	if err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("Store query failed: %v", err)
		return check
	}

	check.Status = HealthStatusHealthy
	check.Message = fmt.Sprintf("Store reachable, %d groups in flight", len(groups))
	return check
}

// checkJournalHealth verifies the event journal projection is keeping up
func (d *Daemon) checkJournalHealth() HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        "event_journal",
		LastChecked: time.Now(),
		Duration:    time.Since(start),
	}

	if d.journal == nil || d.projection == nil {
		check.Status = HealthStatusDegraded
		check.Message = "Event journal not initialized"
		return check
	}

	check.Status = HealthStatusHealthy
	if sync := d.projection.LastSyncTime(); !sync.IsZero() {
		check.Message = fmt.Sprintf("Projection synced %s ago", time.Since(sync).Round(time.Second))
	} else {
		check.Message = "Projection initialized, no events yet"
	}
	return check
}

// checkReconcilerHealth verifies the reconciliation loop is present when enabled
func (d *Daemon) checkReconcilerHealth() HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        "reconciler",
		LastChecked: time.Now(),
		Duration:    time.Since(start),
	}

	if d.reconciler == nil {
		check.Status = HealthStatusHealthy
		check.Message = "Reconciliation disabled by configuration"
		return check
	}

	check.Status = HealthStatusHealthy
	check.Message = "Reconciliation loop scheduled"
	return check
}
