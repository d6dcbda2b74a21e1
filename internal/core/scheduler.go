package core

import (
	"fmt"
	"time"
)

// PlannedStep is a step with every substitution applied.
type PlannedStep struct {
	Index   int
	Ref     string
	Step    Step
	Timeout time.Duration
}

// Plan is the eagerly resolved, ordered form of a Build.
type Plan struct {
	BuildID       string
	Steps         []PlannedStep
	Images        []string
	Tags          []string
	Options       Options
	Timeout       time.Duration
	Substitutions Substitutions
}

// Scheduler decides execution order and resolves every step up front,
// so a strict-mode miss anywhere stops the build before any step runs.
type Scheduler struct{}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Plan resolves build against table in declared order.
func (s *Scheduler) Plan(build *Build, table Substitutions) (*Plan, error) {
	loose := build.Options.Loose()
	buildID, _ := table.Lookup(VarBuildID)

	plan := &Plan{
		BuildID:       buildID,
		Steps:         make([]PlannedStep, 0, len(build.Steps)),
		Options:       build.Options,
		Timeout:       build.BuildTimeout(),
		Substitutions: table,
	}

	for i, step := range build.Steps {
		resolved, err := resolveStep(step, i, table, loose)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, PlannedStep{
			Index:   i,
			Ref:     step.Ref(i),
			Step:    resolved,
			Timeout: step.StepTimeout(),
		})
	}

	for i, img := range build.Images {
		v, err := table.Expand(img, loose, fmt.Sprintf("images[%d]", i))
		if err != nil {
			return nil, err
		}
		plan.Images = append(plan.Images, v)
	}

	for i, tag := range build.Tags {
		v, err := table.Expand(tag, loose, fmt.Sprintf("tags[%d]", i))
		if err != nil {
			return nil, err
		}
		plan.Tags = append(plan.Tags, v)
	}
	return plan, nil
}

// NextStep returns the step at index, or false past the end.
func (s *Scheduler) NextStep(plan *Plan, index int) (PlannedStep, bool) {
	if index < 0 || index >= len(plan.Steps) {
		return PlannedStep{}, false
	}
	return plan.Steps[index], true
}

func resolveStep(step Step, index int, table Substitutions, loose bool) (Step, error) {
	prefix := fmt.Sprintf("steps[%d]", index)
	out := step

	var err error
	if out.Name, err = table.Expand(step.Name, loose, prefix+".name"); err != nil {
		return Step{}, err
	}
	if out.Entrypoint, err = table.Expand(step.Entrypoint, loose, prefix+".entrypoint"); err != nil {
		return Step{}, err
	}
	if out.Dir, err = table.Expand(step.Dir, loose, prefix+".dir"); err != nil {
		return Step{}, err
	}
	if out.Args, err = expandAll(table, step.Args, loose, prefix+".args"); err != nil {
		return Step{}, err
	}
	if out.Env, err = expandAll(table, step.Env, loose, prefix+".env"); err != nil {
		return Step{}, err
	}
	return out, nil
}

func expandAll(table Substitutions, values []string, loose bool, field string) ([]string, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		r, err := table.Expand(v, loose, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
