package cron

import (
	"context"
	"errors"
	"testing"

	"psychology/services/calendar"
	"psychology/services/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type fakeCreator struct {
	err   error
	calls []string
}

func (f *fakeCreator) CreateEventFor(_ context.Context, appointmentID string) (calendar.CreateOutcome, error) {
	f.calls = append(f.calls, appointmentID)
	if f.err != nil {
		return "", f.err
	}
	return calendar.OutcomeCreated, nil
}

func TestHandleCalendarFollowUp(t *testing.T) {
	task, _, err := tasks.NewCalendarFollowUpTask("appt-1")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	tests := []struct {
		name      string
		task      *asynq.Task
		createErr error
		wantErr   bool
		skipRetry bool
	}{
		{"created", task, nil, false, false},
		{"not connected is dropped", task, calendar.ErrNotConnected, false, false},
		{"transient failure is retried", task, errors.New("503"), true, false},
		{"bad payload is not retried", asynq.NewTask(tasks.TypeCalendarFollowUp, []byte(`nope`)), nil, true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			creator := &fakeCreator{err: tc.createErr}
			err := handleCalendarFollowUp(creator, zap.NewNop())(context.Background(), tc.task)

			if (err != nil) != tc.wantErr {
				t.Fatalf("expected error=%v, got %v", tc.wantErr, err)
			}
			if errors.Is(err, asynq.SkipRetry) != tc.skipRetry {
				t.Errorf("expected SkipRetry=%v, got %v", tc.skipRetry, err)
			}
		})
	}
}
