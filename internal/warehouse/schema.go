//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package warehouse

// createSchemaSQL creates the star schema. Each natural key also gets a
// unique index so upserts work against tables created by other tools.
const createSchemaSQL = `
-- Dimensions
CREATE TABLE IF NOT EXISTS dim_client (
    client_id BIGINT PRIMARY KEY,
    name      TEXT NOT NULL,
    industry  TEXT NOT NULL DEFAULT '',
    country   TEXT NOT NULL DEFAULT '',
    email     TEXT NOT NULL DEFAULT '',
    loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dim_employee (
    employee_id BIGINT PRIMARY KEY,
    full_name   TEXT NOT NULL,
    email       TEXT NOT NULL DEFAULT '',
    role        TEXT NOT NULL DEFAULT '',
    hire_date   DATE,
    hourly_rate NUMERIC(10,2) NOT NULL DEFAULT 0,
    team_count  INTEGER NOT NULL DEFAULT 0,
    loaded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dim_team (
    team_id      BIGINT PRIMARY KEY,
    name         TEXT NOT NULL,
    department   TEXT NOT NULL DEFAULT '',
    lead_id      BIGINT,
    member_count INTEGER NOT NULL DEFAULT 0,
    loaded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dim_project (
    project_id  BIGINT PRIMARY KEY,
    name        TEXT NOT NULL,
    client_id   BIGINT NOT NULL,
    manager_id  BIGINT NOT NULL,
    state       TEXT NOT NULL,
    is_terminal BOOLEAN NOT NULL,
    start_date  DATE NOT NULL,
    end_plan    DATE NOT NULL,
    end_real    DATE,
    loaded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dim_time (
    time_key     INTEGER PRIMARY KEY,
    full_date    DATE NOT NULL,
    year         SMALLINT NOT NULL,
    half         SMALLINT NOT NULL,
    quarter      SMALLINT NOT NULL,
    month        SMALLINT NOT NULL,
    month_name   TEXT NOT NULL,
    day          SMALLINT NOT NULL,
    day_of_week  SMALLINT NOT NULL,
    day_name     TEXT NOT NULL,
    week_of_year SMALLINT NOT NULL,
    is_weekend   BOOLEAN NOT NULL,
    is_holiday   BOOLEAN NOT NULL,
    holiday_name TEXT NOT NULL DEFAULT ''
);

-- Facts
CREATE TABLE IF NOT EXISTS fact_project (
    project_id        BIGINT PRIMARY KEY,
    client_id         BIGINT NOT NULL,
    manager_id        BIGINT NOT NULL,
    start_key         INTEGER NOT NULL,
    end_plan_key      INTEGER NOT NULL,
    end_real_key      INTEGER,
    state             TEXT NOT NULL,
    duration_planned  INTEGER NOT NULL,
    duration_actual   INTEGER NOT NULL,
    schedule_variance INTEGER NOT NULL,
    on_time           SMALLINT NOT NULL,
    planned_budget    NUMERIC(14,2) NOT NULL,
    actual_cost       NUMERIC(14,2) NOT NULL,
    budget_variance   NUMERIC(14,2) NOT NULL,
    budget_met        SMALLINT NOT NULL,
    total_tasks       INTEGER NOT NULL,
    completed_tasks   INTEGER NOT NULL,
    completion_ratio  DOUBLE PRECISION NOT NULL,
    planned_hours     NUMERIC(12,2) NOT NULL,
    actual_hours      NUMERIC(12,2) NOT NULL,
    hours_variance    NUMERIC(12,2) NOT NULL,
    efficiency        NUMERIC(10,2) NOT NULL,
    loaded_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fact_task (
    task_id           BIGINT PRIMARY KEY,
    project_id        BIGINT NOT NULL,
    employee_id       BIGINT,
    team_id           BIGINT,
    start_key         INTEGER NOT NULL,
    end_plan_key      INTEGER NOT NULL,
    end_real_key      INTEGER,
    state             TEXT NOT NULL,
    priority          TEXT NOT NULL DEFAULT '',
    duration_planned  INTEGER NOT NULL,
    duration_actual   INTEGER NOT NULL,
    schedule_variance INTEGER NOT NULL,
    on_time           SMALLINT NOT NULL,
    planned_hours     NUMERIC(10,2) NOT NULL,
    actual_hours      NUMERIC(10,2) NOT NULL,
    hours_variance    NUMERIC(10,2) NOT NULL,
    efficiency        NUMERIC(10,2) NOT NULL,
    loaded_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Pipeline state
CREATE TABLE IF NOT EXISTS etl_watermark (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS etl_run (
    run_id         UUID PRIMARY KEY,
    mode           TEXT NOT NULL,
    strategy       TEXT NOT NULL,
    state          TEXT NOT NULL,
    dry_run        BOOLEAN NOT NULL,
    started_at     TIMESTAMPTZ NOT NULL,
    finished_at    TIMESTAMPTZ NOT NULL,
    rows_processed JSONB NOT NULL,
    rows_skipped   INTEGER NOT NULL,
    error          TEXT NOT NULL DEFAULT ''
);

-- Natural key uniqueness, enforced even when the tables predate this tool
CREATE UNIQUE INDEX IF NOT EXISTS dim_client_nk ON dim_client(client_id);
CREATE UNIQUE INDEX IF NOT EXISTS dim_employee_nk ON dim_employee(employee_id);
CREATE UNIQUE INDEX IF NOT EXISTS dim_team_nk ON dim_team(team_id);
CREATE UNIQUE INDEX IF NOT EXISTS dim_project_nk ON dim_project(project_id);
CREATE UNIQUE INDEX IF NOT EXISTS dim_time_nk ON dim_time(time_key);
CREATE UNIQUE INDEX IF NOT EXISTS fact_project_nk ON fact_project(project_id);
CREATE UNIQUE INDEX IF NOT EXISTS fact_task_nk ON fact_task(task_id);

-- Reporting access paths
CREATE INDEX IF NOT EXISTS idx_fact_task_project ON fact_task(project_id);
CREATE INDEX IF NOT EXISTS idx_fact_project_client ON fact_project(client_id);
CREATE INDEX IF NOT EXISTS idx_fact_project_end_plan ON fact_project(end_plan_key);
`

// dropSchemaSQL removes everything createSchemaSQL creates.
const dropSchemaSQL = `
DROP TABLE IF EXISTS fact_task CASCADE;
DROP TABLE IF EXISTS fact_project CASCADE;
DROP TABLE IF EXISTS dim_time CASCADE;
DROP TABLE IF EXISTS dim_project CASCADE;
DROP TABLE IF EXISTS dim_team CASCADE;
DROP TABLE IF EXISTS dim_employee CASCADE;
DROP TABLE IF EXISTS dim_client CASCADE;
DROP TABLE IF EXISTS etl_watermark CASCADE;
DROP TABLE IF EXISTS etl_run CASCADE;
`

// clearOrder lists warehouse tables facts first, as full refresh empties
// them.
var clearOrder = []string{
	"fact_task",
	"fact_project",
	"dim_time",
	"dim_project",
	"dim_team",
	"dim_employee",
	"dim_client",
}
