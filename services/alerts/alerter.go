package alerts

import (
	"context"
	"fmt"

	"psychology/utils"

	"go.uber.org/zap"
)

// Alerter raises operator alerts. Every alert is logged; sinks are notified at
// most once per key per throttle window.
type Alerter struct {
	throttle Throttle
	sinks    []Sink
	clock    utils.Clock
	logger   *zap.Logger
}

func NewAlerter(throttle Throttle, clock utils.Clock, logger *zap.Logger, sinks ...Sink) *Alerter {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{throttle: throttle, sinks: sinks, clock: clock, logger: logger}
}

// Raise logs the alert and notifies sinks unless key fired within the window.
// It reports whether sinks were notified.
func (a *Alerter) Raise(ctx context.Context, key, message string, cause error) bool {
	a.logger.Error(message, zap.String("alertKey", key), zap.Error(cause))

	allowed, err := a.throttle.Allow(ctx, key, a.clock.Now())
	if err != nil {
		// Suppress rather than notify when the window cannot be checked.
		a.logger.Warn("Alert throttle unavailable", zap.String("alertKey", key), zap.Error(err))
		return false
	}
	if !allowed {
		return false
	}

	text := message
	if cause != nil {
		text = fmt.Sprintf("%s: %v", message, cause)
	}
	for _, sink := range a.sinks {
		if err := sink.Send(ctx, text); err != nil {
			a.logger.Warn("Failed to deliver alert", zap.String("alertKey", key), zap.Error(err))
		}
	}
	return true
}
