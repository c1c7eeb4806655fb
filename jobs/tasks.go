package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeDailyCharges posts the day's room and diet charges for every
	// active admission.
	TaskTypeDailyCharges = "billing:daily_charges"
)

// DailyChargesPayload pins the billing day so a delayed run still charges the
// day it was scheduled for. An empty date means the day the task is processed,
// which is what the nightly cron entry uses.
type DailyChargesPayload struct {
	Date string `json:"date"`
}

// NewDailyChargesTask constructs an Asynq task for one billing day.
func NewDailyChargesTask(day time.Time) (*asynq.Task, error) {
	payload := DailyChargesPayload{Date: day.UTC().Format("2006-01-02")}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDailyCharges, body, asynq.Queue(QueueDefault)), nil
}

// NewDailyChargesCronTask constructs the recurring task charging the current day.
func NewDailyChargesCronTask() (*asynq.Task, error) {
	body, err := json.Marshal(DailyChargesPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDailyCharges, body, asynq.Queue(QueueDefault)), nil
}
