package run

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"enharness/internal/domain"
	"enharness/internal/state/memory"
)

func passing(name string, log *[]string) Check {
	return Check{Name: name, Run: func(ctx context.Context) error {
		*log = append(*log, name)
		return nil
	}}
}

func failing(name string, log *[]string) Check {
	return Check{Name: name, Run: func(ctx context.Context) error {
		*log = append(*log, name)
		return errors.New(name + " broke")
	}}
}

func TestRunExecutesChecksInDeclaredOrder(t *testing.T) {
	var log []string
	phases := []Phase{
		{Name: "first", Checks: []Check{passing("a", &log), passing("b", &log)}},
		{Name: "second", Checks: []Check{passing("c", &log)}},
	}
	orch := NewOrchestrator(phases, memory.NewStore(), zap.NewNop(), "target")

	report := orch.Run(context.Background())

	require.Equal(t, []string{"a", "b", "c"}, log)
	require.True(t, report.Passed())
	require.Len(t, report.Results, 3)
	require.NotEmpty(t, report.RunID)
	require.Equal(t, "target", report.Target)
}

func TestFailingCheckAbortsOnlyItsPhase(t *testing.T) {
	var log []string
	phases := []Phase{
		{Name: "first", Checks: []Check{failing("a", &log), passing("b", &log)}},
		{Name: "second", Checks: []Check{passing("c", &log)}},
	}
	orch := NewOrchestrator(phases, memory.NewStore(), zap.NewNop(), "target")

	report := orch.Run(context.Background())

	require.Equal(t, []string{"a", "c"}, log)
	require.False(t, report.Passed())

	require.Equal(t, domain.CheckFailed, report.Results[0].Status)
	require.Equal(t, domain.CheckSkipped, report.Results[1].Status)
	require.Equal(t, domain.CheckPassed, report.Results[2].Status)

	first := report.FirstFailure()
	require.NotNil(t, first)
	require.Equal(t, "first", first.Phase)
	require.Equal(t, "a", first.Check)
}

func TestMissingPrerequisiteSkipsPhase(t *testing.T) {
	var log []string
	phases := []Phase{
		{Name: "gated", Requires: []string{"absent_key"}, Checks: []Check{passing("a", &log)}},
		{Name: "open", Checks: []Check{passing("b", &log)}},
	}
	orch := NewOrchestrator(phases, memory.NewStore(), zap.NewNop(), "target")

	report := orch.Run(context.Background())

	require.Equal(t, []string{"b"}, log)
	require.Equal(t, "prerequisites", report.Results[0].Check)
	require.Equal(t, domain.CheckFailed, report.Results[0].Status)
	require.Contains(t, report.Results[0].Detail, "absent_key")
	require.Equal(t, domain.CheckSkipped, report.Results[1].Status)
}

func TestSatisfiedPrerequisiteRunsPhase(t *testing.T) {
	var log []string
	store := memory.NewStore()
	require.NoError(t, store.Put("present_key", "value"))

	phases := []Phase{
		{Name: "gated", Requires: []string{"present_key"}, Checks: []Check{passing("a", &log)}},
	}
	orch := NewOrchestrator(phases, store, zap.NewNop(), "target")

	report := orch.Run(context.Background())

	require.Equal(t, []string{"a"}, log)
	require.True(t, report.Passed())
}

func TestFilterKeepsFixedOrder(t *testing.T) {
	var log []string
	phases := []Phase{
		{Name: "first", Checks: []Check{passing("a", &log)}},
		{Name: "second", Checks: []Check{passing("b", &log)}},
		{Name: "third", Checks: []Check{passing("c", &log)}},
	}
	orch := NewOrchestrator(phases, memory.NewStore(), zap.NewNop(), "target")

	require.NoError(t, orch.Filter([]string{"third", "first"}))
	orch.Run(context.Background())

	require.Equal(t, []string{"a", "c"}, log)
}

func TestFilterRejectsUnknownPhase(t *testing.T) {
	phases := []Phase{{Name: "first"}}
	orch := NewOrchestrator(phases, memory.NewStore(), zap.NewNop(), "target")

	err := orch.Filter([]string{"first", "nonsense"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "nonsense")
}
