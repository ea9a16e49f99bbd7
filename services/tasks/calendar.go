package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"psychology/models"

	"github.com/hibiken/asynq"
)

const TypeCalendarFollowUp = "calendar:create_event"

// followUpMaxRetry bounds queue-level retries; the sync tick backfills the rest.
const followUpMaxRetry = 5

// NewCalendarFollowUpTask builds the task that creates an appointment's
// calendar event. Its id is derived from the appointment so that a second
// enqueue while the first is pending is rejected by the queue.
func NewCalendarFollowUpTask(appointmentID string) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(models.CalendarFollowUpPayload{AppointmentID: appointmentID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeCalendarFollowUp, b)
	opts := []asynq.Option{
		asynq.TaskID("calendar-event:" + appointmentID),
		asynq.MaxRetry(followUpMaxRetry),
	}
	return task, opts, nil
}

// ParseCalendarFollowUp decodes a task built by NewCalendarFollowUpTask.
func ParseCalendarFollowUp(task *asynq.Task) (models.CalendarFollowUpPayload, error) {
	var p models.CalendarFollowUpPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, err
	}
	if p.AppointmentID == "" {
		return p, errors.New("missing appointmentId")
	}
	return p, nil
}

// Enqueuer is the part of *asynq.Client the follow-up needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueFollowUp defers calendar event creation to the worker.
type QueueFollowUp struct {
	Client Enqueuer
}

func (q QueueFollowUp) AppointmentConfirmed(ctx context.Context, appointmentID string) error {
	task, opts, err := NewCalendarFollowUpTask(appointmentID)
	if err != nil {
		return err
	}
	if _, err := q.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue calendar follow-up for %s: %w", appointmentID, err)
	}
	return nil
}
