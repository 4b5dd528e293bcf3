package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Warehouse table names.
const (
	TableDimClient   = "dim_client"
	TableDimEmployee = "dim_employee"
	TableDimTeam     = "dim_team"
	TableDimProject  = "dim_project"
	TableDimTime     = "dim_time"
	TableFactProject = "fact_project"
	TableFactTask    = "fact_task"
)

// DimClient is one client dimension row, keyed by client id.
type DimClient struct {
	ClientID int64
	Name     string
	Industry string
	Country  string
	Email    string
}

// DimEmployee is one employee dimension row.
type DimEmployee struct {
	EmployeeID int64
	FullName   string
	Email      string
	Role       string
	HireDate   *time.Time
	HourlyRate decimal.Decimal
	TeamCount  int
}

// DimTeam is one team dimension row.
type DimTeam struct {
	TeamID      int64
	Name        string
	Department  string
	LeadID      *int64
	MemberCount int
}

// DimProject is one project dimension row, loaded for every state.
type DimProject struct {
	ProjectID  int64
	Name       string
	ClientID   int64
	ManagerID  int64
	State      State
	IsTerminal bool
	Start      time.Time
	EndPlan    time.Time
	EndReal    *time.Time
}

// DimTime is one calendar day.
type DimTime struct {
	TimeKey     int32
	FullDate    time.Time
	Year        int
	Half        int
	Quarter     int
	Month       int
	MonthName   string
	Day         int
	DayOfWeek   int // ISO 8601, Monday = 1
	DayName     string
	WeekOfYear  int
	IsWeekend   bool
	IsHoliday   bool
	HolidayName string
}

// FactProject is the project-grain fact, one row per terminal project.
type FactProject struct {
	ProjectID  int64
	ClientID   int64
	ManagerID  int64
	StartKey   int32
	EndPlanKey int32
	EndRealKey *int32
	State      State

	DurationPlanned  int
	DurationActual   int
	ScheduleVariance int
	OnTime           bool

	PlannedBudget  decimal.Decimal
	ActualCost     decimal.Decimal
	BudgetVariance decimal.Decimal
	BudgetMet      bool

	TotalTasks      int
	CompletedTasks  int
	CompletionRatio float64

	PlannedHours  decimal.Decimal
	ActualHours   decimal.Decimal
	HoursVariance decimal.Decimal
	Efficiency    decimal.Decimal
}

// FactTask is the task-grain fact, one row per terminal task of a terminal
// project.
type FactTask struct {
	TaskID     int64
	ProjectID  int64
	EmployeeID *int64
	TeamID     *int64
	StartKey   int32
	EndPlanKey int32
	EndRealKey *int32
	State      State
	Priority   string

	DurationPlanned  int
	DurationActual   int
	ScheduleVariance int
	OnTime           bool

	PlannedHours  decimal.Decimal
	ActualHours   decimal.Decimal
	HoursVariance decimal.Decimal
	Efficiency    decimal.Decimal
}
