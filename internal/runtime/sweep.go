package runtime

import (
	"context"
	"time"

	"github.com/datakit-labs/flowctl/internal/control"
)

// SweepStuck polls the task table for in-progress rows and flags the
// ones whose row has not moved across checks consecutive snapshots. A
// cancelled worker cannot clean up its own PROCESSING row, so this sweep
// is how such rows surface. Flagged rows are logged and returned; the
// operator decides what to do with them.
func (r *Runtime) SweepStuck(ctx context.Context, checks int, interval time.Duration) ([]*control.TaskRecord, error) {
	if checks < 2 {
		checks = 2
	}

	// seen counts consecutive snapshots with an unchanged update_date
	seen := make(map[string]int)
	last := make(map[string]string)

	for i := 0; i < checks; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}

		tasks, err := r.store.ProcessingTasks(ctx)
		if err != nil {
			return nil, err
		}

		current := make(map[string]string, len(tasks))
		for _, tk := range tasks {
			current[tk.ProcessID] = tk.UpdateDate
			if prev, ok := last[tk.ProcessID]; ok && prev == tk.UpdateDate {
				seen[tk.ProcessID]++
			} else {
				seen[tk.ProcessID] = 1
			}
		}
		// rows that finished or moved drop out of the running count
		for id := range seen {
			if _, ok := current[id]; !ok {
				delete(seen, id)
			}
		}
		last = current
	}

	var stuck []*control.TaskRecord
	for id, n := range seen {
		if n < checks {
			continue
		}
		tk, err := r.store.Task(ctx, id)
		if err != nil {
			return nil, err
		}
		r.logger.Warn("stuck task detected",
			"task", id, "target", tk.ProcessNameGet, "last_update", tk.UpdateDate)
		stuck = append(stuck, tk)
	}
	return stuck, nil
}
