package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/talk/internal/remote"
)

// deliver sends one action, retrying transient failures with back-off until
// MaxAttempts is reached.
func (t *Tracker) deliver(a Action) {
	defer t.wg.Done()

	for {
		a.Attempts++
		if !t.record(a) {
			return
		}

		ctx, cancel := context.WithTimeout(t.base, t.opts.SendTimeout)
		receipt, err := t.attempt(ctx, a)
		cancel()
		if t.base.Err() != nil {
			return
		}

		if err == nil {
			if a.Kind == Send {
				a.ServerID = receipt.ID
				t.record(a)
			}
			t.log.Info("action delivered",
				zap.String("temp_id", a.TempID),
				zap.String("kind", string(a.Kind)),
				zap.String("room", a.Room),
				zap.String("server_id", receipt.ID),
			)
			t.handler.Delivered(t.base, a, receipt)
			return
		}

		kind := remote.KindOf(err)
		if kind == remote.NotFound || kind == remote.AuthFailure || a.Attempts >= t.opts.MaxAttempts {
			t.log.Error("action failed",
				zap.String("temp_id", a.TempID),
				zap.String("kind", string(a.Kind)),
				zap.String("room", a.Room),
				zap.Int("attempts", a.Attempts),
				zap.Error(err),
			)
			t.handler.Rejected(t.base, a, err)
			return
		}

		delay := t.opts.Backoff.Delay(a.Attempts)
		if kind == remote.RateLimited {
			delay = t.opts.Backoff.RateLimited(a.Attempts, remote.RetryHint(err))
		}
		t.log.Warn("action attempt failed, retrying",
			zap.String("temp_id", a.TempID),
			zap.Int("attempts", a.Attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-t.base.Done():
			timer.Stop()
			return
		}
	}
}

func (t *Tracker) attempt(ctx context.Context, a Action) (remote.SendReceipt, error) {
	switch a.Kind {
	case Read:
		if err := t.svc.SetReadMarker(ctx, a.Room, a.Target); err != nil {
			return remote.SendReceipt{}, err
		}
		return remote.SendReceipt{ID: a.Target}, nil
	default:
		return t.svc.SendMessage(ctx, a.Room, a.Body, a.TempID)
	}
}
