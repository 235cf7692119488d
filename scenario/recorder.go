package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ggoodman/mcp-stdio-harness/storage"
)

var (
	// ErrReportNotFound is returned by Recorder.Get for unknown run ids.
	ErrReportNotFound = errors.New("scenario: report not found")
	// ErrInvalidName is returned for names a scenario file could not declare,
	// such as store key patterns like "*".
	ErrInvalidName = errors.New("scenario: invalid scenario name")
)

func checkName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return nil
}

// Recorder persists run reports in a storage.Storage, one namespace per
// scenario, keyed by run id.
type Recorder struct {
	store storage.Storage
	ttl   time.Duration
}

// NewRecorder returns a Recorder writing into store. Reports expire after
// ttl; zero keeps them until deleted.
func NewRecorder(store storage.Storage, ttl time.Duration) *Recorder {
	return &Recorder{store: store, ttl: ttl}
}

// Save stores rep.
func (r *Recorder) Save(ctx context.Context, rep *Report) error {
	if err := checkName(rep.Scenario); err != nil {
		return err
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("scenario: encode report: %w", err)
	}
	return r.store.Set(ctx, rep.RunID, data, storage.WithScenario(rep.Scenario), storage.WithTTL(r.ttl))
}

// Get loads one report.
func (r *Recorder) Get(ctx context.Context, scenario, runID string) (*Report, error) {
	if err := checkName(scenario); err != nil {
		return nil, err
	}
	item, err := r.store.Get(ctx, runID, storage.WithScenario(scenario))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrReportNotFound, scenario, runID)
	}
	var rep Report
	if err := json.Unmarshal(item.Data, &rep); err != nil {
		return nil, fmt.Errorf("scenario: decode report %s: %w", runID, err)
	}
	return &rep, nil
}

// List returns the stored reports of a scenario, newest first.
func (r *Recorder) List(ctx context.Context, scenario string) ([]*Report, error) {
	if err := checkName(scenario); err != nil {
		return nil, err
	}
	ids, err := r.store.List(ctx, storage.WithScenario(scenario))
	if err != nil {
		return nil, err
	}
	reps := make([]*Report, 0, len(ids))
	for _, id := range ids {
		rep, err := r.Get(ctx, scenario, id)
		if errors.Is(err, ErrReportNotFound) {
			continue // expired between List and Get
		}
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	sort.Slice(reps, func(i, j int) bool { return reps[i].StartedAt.After(reps[j].StartedAt) })
	return reps, nil
}

// Purge deletes every report of a scenario.
func (r *Recorder) Purge(ctx context.Context, scenario string) error {
	if err := checkName(scenario); err != nil {
		return err
	}
	return r.store.Delete(ctx, storage.WithScenario(scenario))
}
