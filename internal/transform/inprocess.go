package transform

import (
	"context"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// InProcessName is the registry name of the in-process strategy.
const InProcessName = "in-process"

const inProcessDescription = "Compute measures in the pipeline process"

// InProcess computes every measure in Go.
type InProcess struct{}

// NewInProcess returns the in-process strategy. It needs no resources.
func NewInProcess(Deps) (Strategy, error) {
	return &InProcess{}, nil
}

// Name returns the strategy name.
func (s *InProcess) Name() string {
	return InProcessName
}

// Description returns a human-readable description.
func (s *InProcess) Description() string {
	return inProcessDescription
}

// Transform computes facts for the terminal projects of the snapshot.
func (s *InProcess) Transform(ctx context.Context, snap *model.Snapshot) (*Result, error) {
	sel := selectTerminal(snap)
	res := &Result{Strategy: InProcessName}

	for _, p := range sel.projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tasks := make([]TaskFact, 0, len(sel.tasks[p.ID]))
		for _, t := range sel.tasks[p.ID] {
			tasks = append(tasks, TaskFact{
				Task:     t,
				TeamID:   sel.teamOf(t.ID),
				Measures: MeasureTask(t),
			})
		}
		res.Projects = append(res.Projects, ProjectFact{
			Project:  p,
			Measures: ComputeProject(p, tasks),
			Tasks:    tasks,
		})
	}

	return res, nil
}
