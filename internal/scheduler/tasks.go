package scheduler

import (
	"encoding/json"

	"leadsync_backend/internal/webhook"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskInboundMessage = "webhook.message"

const TaskBookingEvent = "webhook.booking"

const TaskAccountResync = "crm.account_resync"

const TaskCRMSyncAll = "crm.sync_all"

type AccountResyncPayload struct {
	AccountID uuid.UUID `json:"accountId"`
}

func NewInboundMessageTask(job webhook.MessageJob) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInboundMessage, data), nil
}

func ParseInboundMessagePayload(task *asynq.Task) (webhook.MessageJob, error) {
	var job webhook.MessageJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return webhook.MessageJob{}, err
	}
	return job, nil
}

func NewBookingEventTask(job webhook.BookingJob) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBookingEvent, data), nil
}

func ParseBookingEventPayload(task *asynq.Task) (webhook.BookingJob, error) {
	var job webhook.BookingJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return webhook.BookingJob{}, err
	}
	return job, nil
}

func NewAccountResyncTask(payload AccountResyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccountResync, data), nil
}

func ParseAccountResyncPayload(task *asynq.Task) (AccountResyncPayload, error) {
	var payload AccountResyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AccountResyncPayload{}, err
	}
	return payload, nil
}

func NewCRMSyncAllTask() *asynq.Task {
	return asynq.NewTask(TaskCRMSyncAll, nil)
}
