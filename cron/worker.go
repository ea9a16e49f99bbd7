package cron

import (
	"context"
	"errors"
	"fmt"

	"psychology/config"
	"psychology/services/calendar"
	"psychology/services/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// EventCreator is the calendar side of a queued follow-up.
type EventCreator interface {
	CreateEventFor(ctx context.Context, appointmentID string) (calendar.CreateOutcome, error)
}

// QueueRedisOpt points asynq at the queue database.
func QueueRedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}
}

// StartCalendarWorker runs the calendar follow-up worker in the background.
// Call Shutdown on the returned server to drain it.
func StartCalendarWorker(creator EventCreator, logger *zap.Logger) (*asynq.Server, error) {
	srv := asynq.NewServer(
		QueueRedisOpt(),
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"default": 1,
			},
			Logger:   logger.Sugar(),
			LogLevel: asynq.WarnLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeCalendarFollowUp, handleCalendarFollowUp(creator, logger))

	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start calendar worker: %w", err)
	}
	logger.Info("Calendar follow-up worker started")
	return srv, nil
}

func handleCalendarFollowUp(creator EventCreator, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		p, err := tasks.ParseCalendarFollowUp(task)
		if err != nil {
			logger.Warn("Invalid calendar follow-up payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		outcome, err := creator.CreateEventFor(ctx, p.AppointmentID)
		if errors.Is(err, calendar.ErrNotConnected) {
			logger.Info("Calendar not connected, follow-up dropped", zap.String("appointmentId", p.AppointmentID))
			return nil
		}
		if err != nil {
			logger.Warn("Calendar follow-up failed", zap.String("appointmentId", p.AppointmentID), zap.Error(err))
			return err
		}
		logger.Debug("Calendar follow-up done", zap.String("appointmentId", p.AppointmentID), zap.String("outcome", string(outcome)))
		return nil
	}
}
