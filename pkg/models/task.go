package models

import (
	"errors"

	"github.com/robfig/cron/v3"
)

// TaskStatus is the desired state of a scheduled task.
type TaskStatus int

const (
	TaskStatusStopped TaskStatus = 0
	TaskStatusRunning TaskStatus = 1
)

// DefaultCrontab fires daily at midnight.
const DefaultCrontab = "0 0 * * *"

// Task binds a flow to a cron expression. (Username, FlowType, FlowID,
// Crontab) is unique: the same flow may be scheduled under different cron
// expressions, but not twice under the same one. The scheduler observes
// tasks, it never writes them.
type Task struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"  validate:"required"`
	FlowType   FlowType   `json:"flow_type" validate:"required"`
	FlowName   string     `json:"flow_name"`
	FlowID     string     `json:"flow_id"   validate:"required"`
	Status     TaskStatus `json:"status"`
	Crontab    string     `json:"crontab"   validate:"required"`
	CreateTime int64      `json:"create_time"` // epoch milliseconds
	UpdateTime int64      `json:"update_time"` // epoch milliseconds
}

var (
	// ErrInvalidCrontab is returned when a task's cron expression does not
	// parse as a 5-field expression.
	ErrInvalidCrontab = errors.New("invalid crontab expression")
)

// CronParser accepts standard 5-field expressions (minute hour day month weekday).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the task's cron expression.
func (t *Task) Validate() error {
	if t.Crontab == "" {
		t.Crontab = DefaultCrontab
	}

	if _, err := CronParser.Parse(t.Crontab); err != nil {
		return ErrInvalidCrontab
	}

	return nil
}
