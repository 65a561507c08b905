package domain

import "time"

type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckSkipped CheckStatus = "skipped"
)

// CheckResult is the outcome of a single check within a phase.
type CheckResult struct {
	Phase    string        `json:"phase"`
	Check    string        `json:"check"`
	Status   CheckStatus   `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// RunReport collects every check result of one harness run.
type RunReport struct {
	RunID      string        `json:"run_id"`
	Target     string        `json:"target"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Results    []CheckResult `json:"results"`
}

func (r *RunReport) Passed() bool {
	for _, res := range r.Results {
		if res.Status == CheckFailed {
			return false
		}
	}
	return true
}

// FirstFailure returns the earliest failed check, or nil.
func (r *RunReport) FirstFailure() *CheckResult {
	for i := range r.Results {
		if r.Results[i].Status == CheckFailed {
			return &r.Results[i]
		}
	}
	return nil
}

func (r *RunReport) Counts() (passed, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case CheckPassed:
			passed++
		case CheckFailed:
			failed++
		case CheckSkipped:
			skipped++
		}
	}
	return passed, failed, skipped
}
