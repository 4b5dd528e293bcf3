//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package source

import (
	"context"

	"github.com/pgEdge/pgedge-pmdw/internal/db"
)

// Operational project-management schema. Lifecycle state is free text so
// that bad values reach the reader and are skipped there rather than
// rejected at write time.
const createSchemaSQL = `
-- Client: Customers commissioning projects
CREATE TABLE IF NOT EXISTS client (
    id          BIGINT PRIMARY KEY,
    name        VARCHAR(120) NOT NULL,
    industry    VARCHAR(60) NOT NULL DEFAULT '',
    country     VARCHAR(60) NOT NULL DEFAULT '',
    email       VARCHAR(120) NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Employee: Staff managing projects and working tasks
CREATE TABLE IF NOT EXISTS employee (
    id           BIGINT PRIMARY KEY,
    first_name   VARCHAR(60) NOT NULL,
    last_name    VARCHAR(60) NOT NULL,
    email        VARCHAR(120) NOT NULL DEFAULT '',
    role         VARCHAR(60) NOT NULL DEFAULT '',
    hire_date    DATE,
    hourly_rate  NUMERIC(14,2) NOT NULL DEFAULT 0,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Team: Groups of employees
CREATE TABLE IF NOT EXISTS team (
    id          BIGINT PRIMARY KEY,
    name        VARCHAR(80) NOT NULL,
    department  VARCHAR(60) NOT NULL DEFAULT '',
    lead_id     BIGINT REFERENCES employee(id),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS team_membership (
    team_id      BIGINT NOT NULL REFERENCES team(id),
    employee_id  BIGINT NOT NULL REFERENCES employee(id),
    joined_at    DATE,
    PRIMARY KEY (team_id, employee_id)
);

-- Project: Client engagements
CREATE TABLE IF NOT EXISTS project (
    id              BIGINT PRIMARY KEY,
    name            VARCHAR(160) NOT NULL,
    client_id       BIGINT NOT NULL REFERENCES client(id),
    manager_id      BIGINT NOT NULL REFERENCES employee(id),
    state           TEXT NOT NULL,
    start_date      DATE,
    end_plan        DATE,
    end_real        DATE,
    planned_budget  NUMERIC(14,2) NOT NULL DEFAULT 0,
    actual_cost     NUMERIC(14,2) NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Task: Units of work inside a project
CREATE TABLE IF NOT EXISTS task (
    id             BIGINT PRIMARY KEY,
    project_id     BIGINT NOT NULL REFERENCES project(id),
    name           VARCHAR(160) NOT NULL,
    assignee_id    BIGINT REFERENCES employee(id),
    state          TEXT NOT NULL,
    priority       VARCHAR(20) NOT NULL DEFAULT 'medium',
    start_date     DATE,
    end_plan       DATE,
    end_real       DATE,
    planned_hours  NUMERIC(10,2) NOT NULL DEFAULT 0,
    actual_hours   NUMERIC(10,2) NOT NULL DEFAULT 0,
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS task_team (
    task_id  BIGINT NOT NULL REFERENCES task(id),
    team_id  BIGINT NOT NULL REFERENCES team(id),
    PRIMARY KEY (task_id, team_id)
);

CREATE INDEX IF NOT EXISTS idx_project_updated ON project(updated_at);
CREATE INDEX IF NOT EXISTS idx_task_project ON task(project_id);
CREATE INDEX IF NOT EXISTS idx_task_updated ON task(updated_at);
`

const dropSchemaSQL = `
DROP TABLE IF EXISTS task_team CASCADE;
DROP TABLE IF EXISTS task CASCADE;
DROP TABLE IF EXISTS project CASCADE;
DROP TABLE IF EXISTS team_membership CASCADE;
DROP TABLE IF EXISTS team CASCADE;
DROP TABLE IF EXISTS employee CASCADE;
DROP TABLE IF EXISTS client CASCADE;
`

// requiredColumns lists the columns the reader selects, per table.
var requiredColumns = map[string][]string{
	"client":          {"id", "name", "industry", "country", "email", "updated_at"},
	"employee":        {"id", "first_name", "last_name", "email", "role", "hire_date", "hourly_rate", "updated_at"},
	"team":            {"id", "name", "department", "lead_id", "updated_at"},
	"team_membership": {"team_id", "employee_id", "joined_at"},
	"project": {"id", "name", "client_id", "manager_id", "state", "start_date", "end_plan", "end_real",
		"planned_budget", "actual_cost", "updated_at"},
	"task": {"id", "project_id", "name", "assignee_id", "state", "priority", "start_date", "end_plan", "end_real",
		"planned_hours", "actual_hours", "updated_at"},
	"task_team": {"task_id", "team_id"},
}

// CreateSchema creates the operational schema.
func CreateSchema(ctx context.Context, conn db.DB) error {
	_, err := conn.Exec(ctx, createSchemaSQL)
	return err
}

// DropSchema drops the operational schema.
func DropSchema(ctx context.Context, conn db.DB) error {
	_, err := conn.Exec(ctx, dropSchemaSQL)
	return err
}
