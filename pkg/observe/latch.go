package observe

import (
	"context"
	"fmt"
	"time"

	"github.com/dm-alt/USM-scripts/pkg/errs"
	"github.com/dm-alt/USM-scripts/pkg/logging"
	"github.com/dm-alt/USM-scripts/pkg/models"
)

// DefaultPollInterval is the fallback check interval used when the live
// subscription is unavailable.
const DefaultPollInterval = 120 * time.Millisecond

// DefaultCorrelationTimeout bounds how long a run waits for a match.
const DefaultCorrelationTimeout = 8 * time.Second

// Latch resolves the correlation context for a pipeline run: the first
// match from the observer's latest slot, the recorded history, or live
// traffic, in that order.
type Latch struct {
	observer     *Observer
	history      History
	PollInterval time.Duration
	logger       *logging.Logger
}

// NewLatch creates a latch over o. history may be nil.
func NewLatch(o *Observer, history History, logger *logging.Logger) *Latch {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Latch{
		observer:     o,
		history:      history,
		PollInterval: DefaultPollInterval,
		logger:       logger,
	}
}

// AwaitMatch returns the freshest known match, waiting up to timeout for
// live traffic when none is known yet.
func (l *Latch) AwaitMatch(ctx context.Context, timeout time.Duration) (*models.ObservedRequest, error) {
	return l.await(ctx, timeout, func(*models.ObservedRequest) bool { return true })
}

// AwaitFresh waits for a match whose correlation id differs from afterID,
// ignoring the one already known. Used to pick up a job the user creates
// after the command starts.
func (l *Latch) AwaitFresh(ctx context.Context, timeout time.Duration, afterID string) (*models.ObservedRequest, error) {
	return l.await(ctx, timeout, func(req *models.ObservedRequest) bool {
		return req.CorrelationID != afterID
	})
}

func (l *Latch) await(ctx context.Context, timeout time.Duration, accept func(*models.ObservedRequest) bool) (*models.ObservedRequest, error) {
	if timeout <= 0 {
		timeout = DefaultCorrelationTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	usable := func(req *models.ObservedRequest) bool {
		return req != nil && accept(req)
	}

	if req := l.observer.Latest(); usable(req) {
		l.logger.Debug("correlation resolved from latest", logging.Fields{"correlation_id": req.CorrelationID})
		return req, nil
	}

	l.replayHistory(ctx)
	if req := l.observer.Latest(); usable(req) {
		l.logger.Debug("correlation resolved from history", logging.Fields{"correlation_id": req.CorrelationID})
		return req, nil
	}

	ch, unsubscribe, subscribed := l.observer.Subscribe()
	defer unsubscribe()

	// A match may have landed between the history check and Subscribe.
	if req := l.observer.Latest(); usable(req) {
		return req, nil
	}

	if subscribed {
		for {
			select {
			case req := <-ch:
				if usable(req) {
					l.logger.Debug("correlation resolved from live traffic", logging.Fields{"correlation_id": req.CorrelationID})
					return req, nil
				}
			case <-ctx.Done():
				return nil, l.timeoutError(ctx, timeout)
			}
		}
	}

	l.logger.Debug("live subscription busy, polling latest", logging.Fields{"interval": l.interval().String()})
	ticker := time.NewTicker(l.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if req := l.observer.Latest(); usable(req) {
				return req, nil
			}
		case <-ctx.Done():
			return nil, l.timeoutError(ctx, timeout)
		}
	}
}

func (l *Latch) replayHistory(ctx context.Context) {
	if l.history == nil {
		return
	}
	entries, err := l.history.Entries(ctx)
	if err != nil {
		l.logger.Warn("history unavailable", logging.Fields{"error": err})
		return
	}
	for _, e := range entries {
		at := e.At
		if at.IsZero() {
			at = time.Unix(0, 0)
		}
		l.observer.ObserveAt(e.URL, at)
	}
}

func (l *Latch) interval() time.Duration {
	if l.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return l.PollInterval
}

func (l *Latch) timeoutError(ctx context.Context, timeout time.Duration) error {
	return errs.New(errs.KindCorrelationTimeout, "correlate",
		fmt.Sprintf("no metrics request observed within %s", timeout), ctx.Err())
}
