package model

import "time"

// ReactivationMode selects how the reactivation scheduler computes fire times.
type ReactivationMode string

const (
	ReactivationModeInterval  ReactivationMode = "interval"
	ReactivationModeScheduled ReactivationMode = "scheduled"
)

// ReactivationConfig controls the auto-reactivation scheduler. Interval is
// used in interval mode; CronSpec and Timezone in scheduled mode.
type ReactivationConfig struct {
	Enabled  bool
	Mode     ReactivationMode
	Interval time.Duration
	CronSpec string
	Timezone string
}

// SchedulerState is the lifecycle state of the reactivation scheduler.
type SchedulerState string

const (
	SchedulerStopped SchedulerState = "stopped"
	SchedulerIdle    SchedulerState = "idle"
	SchedulerRunning SchedulerState = "running"
)

// SchedulerStatus is a point-in-time view of the scheduler for the admin API.
type SchedulerStatus struct {
	State        SchedulerState
	NextFireAt   time.Time
	LastTickAt   time.Time
	TicksRun     int
	TicksSkipped int
}
