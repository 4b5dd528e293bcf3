//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package load writes transformed records into the warehouse inside the
// run transaction: dimensions first, then facts.
package load

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
	"github.com/pgEdge/pgedge-pmdw/internal/warehouse"
)

// Counts holds rows written per warehouse table.
type Counts map[string]int64

// Add merges other into c.
func (c Counts) Add(other Counts) {
	for k, v := range other {
		c[k] += v
	}
}

// Dimensions are the dimension rows derived from one snapshot.
type Dimensions struct {
	Clients   []model.DimClient
	Employees []model.DimEmployee
	Teams     []model.DimTeam
	Projects  []model.DimProject
}

// BuildDimensions derives dimension rows for every extracted record,
// whatever its lifecycle state. Team and member counts come from the
// membership table.
func BuildDimensions(snap *model.Snapshot) Dimensions {
	teamsOf := make(map[int64]map[int64]struct{})
	membersOf := make(map[int64]map[int64]struct{})
	for _, m := range snap.Memberships {
		if teamsOf[m.EmployeeID] == nil {
			teamsOf[m.EmployeeID] = make(map[int64]struct{})
		}
		teamsOf[m.EmployeeID][m.TeamID] = struct{}{}
		if membersOf[m.TeamID] == nil {
			membersOf[m.TeamID] = make(map[int64]struct{})
		}
		membersOf[m.TeamID][m.EmployeeID] = struct{}{}
	}

	var d Dimensions
	for _, c := range snap.Clients {
		d.Clients = append(d.Clients, model.DimClient{
			ClientID: c.ID,
			Name:     c.Name,
			Industry: c.Industry,
			Country:  c.Country,
			Email:    c.Email,
		})
	}
	for _, e := range snap.Employees {
		d.Employees = append(d.Employees, model.DimEmployee{
			EmployeeID: e.ID,
			FullName:   strings.TrimSpace(e.FirstName + " " + e.LastName),
			Email:      e.Email,
			Role:       e.Role,
			HireDate:   e.HireDate,
			HourlyRate: e.HourlyRate,
			TeamCount:  len(teamsOf[e.ID]),
		})
	}
	for _, t := range snap.Teams {
		d.Teams = append(d.Teams, model.DimTeam{
			TeamID:      t.ID,
			Name:        t.Name,
			Department:  t.Department,
			LeadID:      t.LeadID,
			MemberCount: len(membersOf[t.ID]),
		})
	}
	for _, p := range snap.Projects {
		d.Projects = append(d.Projects, model.DimProject{
			ProjectID:  p.ID,
			Name:       p.Name,
			ClientID:   p.ClientID,
			ManagerID:  p.ManagerID,
			State:      p.State,
			IsTerminal: p.State.Terminal(),
			Start:      p.Start,
			EndPlan:    p.EndPlan,
			EndReal:    p.EndReal,
		})
	}
	return d
}

// DimensionLoader upserts dimension rows by natural key.
type DimensionLoader struct {
	log zerolog.Logger
}

// NewDimensionLoader returns a loader that logs through log.
func NewDimensionLoader(log zerolog.Logger) *DimensionLoader {
	return &DimensionLoader{log: log.With().Str("component", "dimensions").Logger()}
}

// Load upserts all dimensions of snap and inserts the missing days of
// times. It returns rows written per table.
func (l *DimensionLoader) Load(ctx context.Context, tx warehouse.Tx, snap *model.Snapshot, times []model.DimTime) (Counts, error) {
	d := BuildDimensions(snap)
	counts := make(Counts)

	steps := []struct {
		table string
		fn    func() (int64, error)
	}{
		{model.TableDimClient, func() (int64, error) { return tx.UpsertClients(ctx, d.Clients) }},
		{model.TableDimEmployee, func() (int64, error) { return tx.UpsertEmployees(ctx, d.Employees) }},
		{model.TableDimTeam, func() (int64, error) { return tx.UpsertTeams(ctx, d.Teams) }},
		{model.TableDimProject, func() (int64, error) { return tx.UpsertProjects(ctx, d.Projects) }},
		{model.TableDimTime, func() (int64, error) { return tx.InsertTimes(ctx, times) }},
	}
	for _, s := range steps {
		n, err := s.fn()
		if err != nil {
			return counts, errors.Wrapf(err, "load %s", s.table)
		}
		counts[s.table] = n
		l.log.Debug().Str("table", s.table).Int64("rows", n).Msg("Loaded dimension")
	}
	return counts, nil
}
