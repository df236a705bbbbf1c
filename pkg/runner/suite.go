package runner

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SuiteResult summarizes a sequence of benchmark runs.
type SuiteResult struct {
	Total     int
	Succeeded int
	Results   []*RunResult
}

// SuccessRatio reports the fraction of runs that completed cleanly.
func (s *SuiteResult) SuccessRatio() float64 {
	if s.Total == 0 {
		return 0
	}

	return float64(s.Succeeded) / float64(s.Total)
}

// RunSuite executes one run per concurrency level in order. A failed run
// never aborts the suite; the cooldown applies between runs regardless of
// outcome so the target settles before the next level.
func (r *runner) RunSuite(ctx context.Context, userCounts []int) *SuiteResult {
	suite := &SuiteResult{Total: len(userCounts)}

	for i, users := range userCounts {
		select {
		case <-ctx.Done():
			r.log.Info("Suite interrupted")

			return suite
		default:
		}

		r.log.WithFields(logrus.Fields{
			"test":  fmt.Sprintf("%d/%d", i+1, len(userCounts)),
			"users": users,
		}).Info("Starting suite run")

		result := r.RunSingle(ctx, users)
		suite.Results = append(suite.Results, result)

		if result.Succeeded() {
			suite.Succeeded++
		} else {
			r.log.WithFields(logrus.Fields{
				"run_id": result.RunID,
				"state":  result.State,
			}).Error("Suite run failed")
		}

		if i < len(userCounts)-1 && r.cfg.Cooldown > 0 {
			r.log.WithField("cooldown", r.cfg.Cooldown).Info("Cooling down")
			r.sleep(ctx, r.cfg.Cooldown)
		}
	}

	r.log.WithFields(logrus.Fields{
		"succeeded":     suite.Succeeded,
		"total":         suite.Total,
		"success_ratio": fmt.Sprintf("%.2f", suite.SuccessRatio()),
	}).Info("Benchmark suite completed")

	return suite
}
