// Package depend decides whether a build configuration needs rebuilding
// because an upstream dependency produced a newer successful build.
package depend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/buildcoord/internal/build"
	coorderrors "git.home.luguber.info/inful/buildcoord/internal/errors"
	"git.home.luguber.info/inful/buildcoord/internal/store"
)

// Reason explains a rebuild decision, for logging and tests.
type Reason string

const (
	ReasonNoPriorBuild         Reason = "no_prior_build"
	ReasonDependencyNeverBuilt Reason = "dependency_never_built"
	ReasonDependencyAdded      Reason = "dependency_added"
	ReasonDependencyAdvanced   Reason = "dependency_advanced"
	ReasonUpToDate             Reason = "up_to_date"
)

// Decision is the outcome of a rebuild evaluation.
type Decision struct {
	ConfigID string
	Rebuild  bool
	Reason   Reason
	// Dependency names the configuration that triggered the rebuild, when one did.
	Dependency string
}

// Evaluator is a pure function over the read-only datastore. It has no side
// effects and never mutates entities.
type Evaluator struct {
	reader store.Reader
}

// NewEvaluator creates an evaluator over the given reader.
func NewEvaluator(r store.Reader) *Evaluator {
	return &Evaluator{reader: r}
}

// NeedsRebuild reports whether the configuration must be rebuilt.
//
// A configuration with no prior successful build always needs building.
// Otherwise every dependency input of the latest successful build is compared
// against the dependency configuration's current latest successful build; any
// difference means a dependency moved forward. A dependency configuration
// with no successful build at all forces a rebuild (conservative reading of
// an ambiguity in the source logic; see DESIGN.md).
//
// A cycle in the dependency graph fails the evaluation with a validation
// error instead of looping.
func (e *Evaluator) NeedsRebuild(ctx context.Context, configID string) (Decision, error) {
	cfg, err := e.reader.GetBuildConfiguration(ctx, configID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Decision{}, coorderrors.ValidationError("unknown build configuration").WithContext("config_id", configID)
		}
		return Decision{}, coorderrors.StoreError(err, "load configuration")
	}

	if cycle, err := e.findCycle(ctx, cfg); err != nil {
		return Decision{}, err
	} else if len(cycle) > 0 {
		return Decision{}, coorderrors.ValidationError(
			fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> "))).
			WithContext("config_id", configID)
	}

	latest, err := e.reader.GetLatestSuccessfulBuildRecord(ctx, cfg.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Decision{ConfigID: cfg.ID, Rebuild: true, Reason: ReasonNoPriorBuild}, nil
		}
		return Decision{}, coorderrors.StoreError(err, "load latest successful build")
	}

	// Index the dependency inputs of the last successful build by the
	// configuration that produced them.
	inputByConfig := make(map[string]*build.Record, len(latest.DependencyInputs))
	for _, recordID := range latest.DependencyInputs {
		rec, err := e.reader.GetBuildRecord(ctx, recordID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// The recorded input vanished; re-resolution below decides.
				continue
			}
			return Decision{}, coorderrors.StoreError(err, "load dependency input record")
		}
		inputByConfig[rec.ConfigID] = rec
	}

	for _, depConfigID := range cfg.Dependencies {
		depLatest, err := e.reader.GetLatestSuccessfulBuildRecord(ctx, depConfigID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Decision{ConfigID: cfg.ID, Rebuild: true, Reason: ReasonDependencyNeverBuilt, Dependency: depConfigID}, nil
			}
			return Decision{}, coorderrors.StoreError(err, "load dependency latest build")
		}

		input, ok := inputByConfig[depConfigID]
		if !ok {
			// Dependency added since the last successful build.
			return Decision{ConfigID: cfg.ID, Rebuild: true, Reason: ReasonDependencyAdded, Dependency: depConfigID}, nil
		}
		if depLatest.ID != input.ID {
			return Decision{ConfigID: cfg.ID, Rebuild: true, Reason: ReasonDependencyAdvanced, Dependency: depConfigID}, nil
		}
	}

	return Decision{ConfigID: cfg.ID, Rebuild: false, Reason: ReasonUpToDate}, nil
}

// findCycle walks the configuration graph reachable from cfg and returns the
// first cycle found as a path of configuration ids.
func (e *Evaluator) findCycle(ctx context.Context, cfg *build.Configuration) ([]string, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var path []string

	var visit func(id string) ([]string, error)
	visit = func(id string) ([]string, error) {
		switch state[id] {
		case visiting:
			// Close the loop for the error message.
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			return append(append([]string{}, path[start:]...), id), nil
		case done:
			return nil, nil
		}
		state[id] = visiting
		path = append(path, id)

		node, err := e.reader.GetBuildConfiguration(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Unknown dependency configs are handled by the rebuild walk.
				state[id] = done
				path = path[:len(path)-1]
				return nil, nil
			}
			return nil, coorderrors.StoreError(err, "load configuration for cycle check")
		}
		for _, dep := range node.Dependencies {
			cycle, err := visit(dep)
			if err != nil || len(cycle) > 0 {
				return cycle, err
			}
		}

		state[id] = done
		path = path[:len(path)-1]
		return nil, nil
	}

	return visit(cfg.ID)
}
