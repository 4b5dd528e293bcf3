package transform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pgEdge/pgedge-pmdw/internal/db"
	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// TaskFact is a terminal task with its measures and resolved team.
type TaskFact struct {
	Task     model.Task
	TeamID   *int64
	Measures TaskMeasures
}

// ProjectFact is a terminal project with its measures and task facts.
type ProjectFact struct {
	Project  model.Project
	Measures ProjectMeasures
	Tasks    []TaskFact
}

// Result is the output of a transform, ordered by project id.
type Result struct {
	Strategy string
	Projects []ProjectFact
}

// TaskCount returns the number of task facts across all projects.
func (r *Result) TaskCount() int {
	n := 0
	for _, p := range r.Projects {
		n += len(p.Tasks)
	}
	return n
}

// Strategy turns an extracted snapshot into fact measures. All strategies
// must return identical results for identical sources.
type Strategy interface {
	// Name returns the registry name.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Transform computes facts for the terminal projects of the snapshot.
	Transform(ctx context.Context, snap *model.Snapshot) (*Result, error)
}

// Deps are the resources a strategy may use.
type Deps struct {
	// Source is the operational database. Strategies that compute in
	// process leave it unused.
	Source db.DB
}

type entry struct {
	description string
	constructor func(Deps) (Strategy, error)
}

var (
	registry = make(map[string]entry)
	mu       sync.RWMutex
)

// Register adds a strategy constructor to the registry.
func Register(name, description string, constructor func(Deps) (Strategy, error)) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = entry{description: description, constructor: constructor}
}

// Describe returns the description of the named strategy without
// constructing it.
func Describe(name string) (string, error) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := registry[name]
	if !ok {
		return "", fmt.Errorf("unknown transform strategy: %s", name)
	}
	return e.description, nil
}

// New constructs the named strategy.
func New(name string, deps Deps) (Strategy, error) {
	mu.RLock()
	e, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transform strategy: %s", name)
	}
	return e.constructor(deps)
}

// List returns all registered strategy names in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// selection is the terminal subset of a snapshot that produces facts.
type selection struct {
	projects []model.Project
	tasks    map[int64][]model.Task
	teams    map[int64]int64
}

// selectTerminal keeps terminal projects and, for each, its terminal tasks.
// Extraction already filters by state; this guards against unfiltered
// snapshots.
func selectTerminal(snap *model.Snapshot) selection {
	byProject := snap.TasksByProject()
	sel := selection{
		tasks: make(map[int64][]model.Task),
		teams: snap.TeamByTask(),
	}
	for _, p := range snap.Projects {
		if !p.State.Terminal() {
			continue
		}
		sel.projects = append(sel.projects, p)
		for _, t := range byProject[p.ID] {
			if t.State.Terminal() {
				sel.tasks[p.ID] = append(sel.tasks[p.ID], t)
			}
		}
	}
	sort.Slice(sel.projects, func(i, j int) bool { return sel.projects[i].ID < sel.projects[j].ID })
	return sel
}

func (s selection) teamOf(taskID int64) *int64 {
	if id, ok := s.teams[taskID]; ok {
		return &id
	}
	return nil
}

func init() {
	Register(InProcessName, inProcessDescription, NewInProcess)
	Register(DatabaseName, databaseDescription, NewDatabase)
}
