package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that the Engine is reachable and that the given models
// are available. Missing models are pulled when the backend supports it, with
// progress written to w. The first model is warmed with a trivial chat so the
// first turn does not pay the cold-load penalty.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%s inference backend is not reachable; please ensure it is started", Name(e))
	}

	seen := make(map[string]bool, len(models))
	var unique []string
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		unique = append(unique, m)
	}

	for _, model := range unique {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if errors.Is(err, ErrPullUnsupported) {
			return fmt.Errorf("model %s is not served by the %s backend", model, Name(e))
		}
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if len(unique) > 0 {
		warm := unique[0]
		warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := e.Chat(warmCtx, warm, []Message{{Role: RoleUser, Content: "ping"}}, nil); err != nil {
			fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", warm, err)
		} else {
			fmt.Fprintf(w, "model %s: warm\n", warm)
		}
	}

	return nil
}
