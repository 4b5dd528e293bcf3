package source

import (
	"context"
	"sync"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// StaticReader serves extractions from an in-memory snapshot. It applies
// the same filtering and row checks as PostgresReader.
type StaticReader struct {
	mu   sync.RWMutex
	data *model.Snapshot
}

// NewStaticReader returns a reader over data. Skipped entries of data are
// ignored; rows are checked on every extraction.
func NewStaticReader(data *model.Snapshot) *StaticReader {
	return &StaticReader{data: data}
}

// Replace swaps the underlying records, simulating source edits between
// runs.
func (r *StaticReader) Replace(data *model.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
}

// Verify always succeeds.
func (r *StaticReader) Verify(ctx context.Context) error {
	return ctx.Err()
}

// Extract returns the records matching f.
func (r *StaticReader) Extract(ctx context.Context, f Filter) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	in := r.data
	if in == nil {
		in = &model.Snapshot{}
	}
	out := &model.Snapshot{}

	for _, c := range in.Clients {
		if f.changed(c.UpdatedAt) {
			out.Clients = append(out.Clients, c)
		}
	}
	members := make(map[int64]bool)
	teams := make(map[int64]bool)
	for _, m := range in.Memberships {
		members[m.EmployeeID] = true
		teams[m.TeamID] = true
	}
	for _, e := range in.Employees {
		bad := checkEmployee(e)
		if !f.changed(e.UpdatedAt) && !members[e.ID] && bad == nil {
			continue
		}
		if bad != nil {
			out.Skipped = append(out.Skipped, bad)
			continue
		}
		out.Employees = append(out.Employees, e)
	}
	for _, t := range in.Teams {
		if f.changed(t.UpdatedAt) || teams[t.ID] {
			out.Teams = append(out.Teams, t)
		}
	}
	out.Memberships = append(out.Memberships, in.Memberships...)

	touched := make(map[int64]bool)
	for _, t := range in.Tasks {
		if f.changed(t.UpdatedAt) {
			touched[t.ProjectID] = true
		}
	}
	selected := make(map[int64]bool)
	for _, p := range in.Projects {
		if !f.changed(p.UpdatedAt) && !touched[p.ID] {
			continue
		}
		if bad := checkProject(p); bad != nil {
			out.Skipped = append(out.Skipped, bad)
			continue
		}
		if !f.stateAllowed(p.State) {
			continue
		}
		selected[p.ID] = true
		out.Projects = append(out.Projects, p)
	}

	tasks := make(map[int64]bool)
	for _, t := range in.Tasks {
		if !selected[t.ProjectID] {
			continue
		}
		if bad := checkTask(t); bad != nil {
			out.Skipped = append(out.Skipped, bad)
			continue
		}
		if !f.stateAllowed(t.State) {
			continue
		}
		tasks[t.ID] = true
		out.Tasks = append(out.Tasks, t)
	}
	for _, a := range in.Assignments {
		if tasks[a.TaskID] {
			out.Assignments = append(out.Assignments, a)
		}
	}
	return out, nil
}
