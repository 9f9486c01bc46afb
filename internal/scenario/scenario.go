// Package scenario runs independent golden-DM scenarios concurrently: each
// scenario builds its own scanqueue.Sim and hart.Session (never shared
// across goroutines, since spec.md §5 fixes the driver itself as
// single-threaded/cooperative per session) and the runner only parallelizes
// across scenarios, the same fan-out-then-Wait shape
// IntuitionAmiga-IntuitionEngine's build pipeline uses golang.org/x/sync/errgroup for.
package scenario

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Scenario is one named, self-contained end-to-end check against a golden
// DM (spec.md §8's S1-S6 literal scenarios are expressed as Scenarios by
// this package's own scenario_test.go).
type Scenario struct {
	Name string
	Run  func() error
}

// RunAll runs every scenario concurrently and returns the first errors,
// each wrapped with its scenario name, joined into one error if more than
// one scenario failed.
func RunAll(scenarios []Scenario) error {
	var g errgroup.Group
	errs := make([]error, len(scenarios))
	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			if err := sc.Run(); err != nil {
				errs[i] = fmt.Errorf("%s: %w", sc.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	if len(failed) == 1 {
		return failed[0]
	}
	msg := fmt.Sprintf("%d scenarios failed:", len(failed))
	for _, err := range failed {
		msg += "\n  - " + err.Error()
	}
	return fmt.Errorf("%s", msg)
}
