package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"enharness/internal/domain"
	"enharness/internal/state"
)

// Check is one assertion within a phase. Checks run in declared order
// because later checks consume artifacts produced by earlier ones.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Phase is a named, ordered stage of the workflow. Requires lists the
// shared-state keys that must exist before the phase may run.
type Phase struct {
	Name     string
	Requires []string
	Checks   []Check
}

// Orchestrator executes phases in a fixed total order. A failing
// check aborts only its phase; downstream phases still run unless an
// artifact they require is missing.
type Orchestrator struct {
	phases []Phase
	store  state.Store
	logger *zap.Logger
	target string
}

func NewOrchestrator(phases []Phase, store state.Store, logger *zap.Logger, target string) *Orchestrator {
	return &Orchestrator{
		phases: phases,
		store:  store,
		logger: logger,
		target: target,
	}
}

// Filter restricts the run to the named phases, keeping the fixed
// order. Prerequisite gating still applies to whatever remains.
func (o *Orchestrator) Filter(names []string) error {
	if len(names) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var kept []Phase
	for _, p := range o.phases {
		if wanted[p.Name] {
			kept = append(kept, p)
			delete(wanted, p.Name)
		}
	}
	for n := range wanted {
		return fmt.Errorf("unknown phase %q", n)
	}
	o.phases = kept
	return nil
}

func (o *Orchestrator) Run(ctx context.Context) *domain.RunReport {
	report := &domain.RunReport{
		RunID:     uuid.NewString(),
		Target:    o.target,
		StartedAt: time.Now().UTC(),
	}

	for _, phase := range o.phases {
		o.runPhase(ctx, phase, report)
	}

	report.FinishedAt = time.Now().UTC()
	return report
}

func (o *Orchestrator) runPhase(ctx context.Context, phase Phase, report *domain.RunReport) {
	if missing := o.missingArtifact(phase); missing != "" {
		err := &domain.PrerequisiteMissing{Phase: phase.Name, Artifact: missing}
		o.logger.Warn("phase skipped", zap.String("phase", phase.Name), zap.Error(err))
		report.Results = append(report.Results, domain.CheckResult{
			Phase:  phase.Name,
			Check:  "prerequisites",
			Status: domain.CheckFailed,
			Detail: err.Error(),
		})
		for _, check := range phase.Checks {
			report.Results = append(report.Results, domain.CheckResult{
				Phase:  phase.Name,
				Check:  check.Name,
				Status: domain.CheckSkipped,
				Detail: "prerequisite missing",
			})
		}
		return
	}

	aborted := false
	for _, check := range phase.Checks {
		if aborted {
			report.Results = append(report.Results, domain.CheckResult{
				Phase:  phase.Name,
				Check:  check.Name,
				Status: domain.CheckSkipped,
				Detail: "earlier check in phase failed",
			})
			continue
		}

		start := time.Now()
		err := check.Run(ctx)
		elapsed := time.Since(start)

		result := domain.CheckResult{
			Phase:    phase.Name,
			Check:    check.Name,
			Status:   domain.CheckPassed,
			Duration: elapsed,
		}
		if err != nil {
			result.Status = domain.CheckFailed
			result.Detail = err.Error()
			aborted = true
			o.logger.Error("check failed",
				zap.String("phase", phase.Name),
				zap.String("check", check.Name),
				zap.Error(err))
		} else {
			o.logger.Info("check passed",
				zap.String("phase", phase.Name),
				zap.String("check", check.Name),
				zap.Duration("duration", elapsed))
		}
		report.Results = append(report.Results, result)
	}
}

func (o *Orchestrator) missingArtifact(phase Phase) string {
	for _, key := range phase.Requires {
		if _, ok := o.store.Lookup(key); !ok {
			return key
		}
	}
	return ""
}
