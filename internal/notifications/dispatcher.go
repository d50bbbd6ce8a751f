package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/models"
)

// UserLookup resolves recipients.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type DispatcherConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Interval:    30 * time.Second,
		BatchSize:   50,
		MaxAttempts: 5,
		Backoff:     time.Minute,
	}
}

// Dispatcher drains the outbox. Delivery is at-least-once: a row is
// retried as a whole when any channel fails.
type Dispatcher struct {
	outbox   Outbox
	users    UserLookup
	channels []Channel
	config   DispatcherConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(outbox Outbox, users UserLookup, channels []Channel, config DispatcherConfig, logger *zap.Logger) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Backoff <= 0 {
		config.Backoff = defaults.Backoff
	}
	return &Dispatcher{
		outbox:   outbox,
		users:    users,
		channels: channels,
		config:   config,
		logger:   logger.Named("dispatcher"),
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run polls the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.logger.Info("Starting notification dispatcher", zap.Duration("interval", d.config.Interval))
	d.dispatch(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Stopping notification dispatcher")
			return
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	sent, failed, err := d.RunOnce(ctx)
	if err != nil {
		d.logger.Error("Failed to dispatch notifications", zap.Error(err))
		return
	}
	if sent > 0 || failed > 0 {
		d.logger.Info("Dispatched notifications", zap.Int("sent", sent), zap.Int("failed", failed))
	}
}

// RunOnce delivers one batch of due notifications.
func (d *Dispatcher) RunOnce(ctx context.Context) (sent, failed int, err error) {
	now := d.now()
	due, err := d.outbox.Due(ctx, now, d.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, n := range due {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}
		if deliverErr := d.deliver(ctx, n); deliverErr != nil {
			failed++
			d.handleFailure(ctx, n, now, deliverErr)
			continue
		}
		if err := d.outbox.MarkSent(ctx, n.ID, d.now()); err != nil {
			d.logger.Error("Failed to mark notification sent",
				zap.String("notification_id", n.ID.String()), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, failed, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) error {
	recipient, err := d.users.GetUser(ctx, n.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient %s: %w", n.RecipientID, err)
	}

	var errs []error
	for _, ch := range d.channels {
		if err := ch.Send(ctx, n, recipient); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) handleFailure(ctx context.Context, n *Notification, now time.Time, deliverErr error) {
	attempts := n.Attempts + 1
	fields := []zap.Field{
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("type", n.Type),
		zap.Int("attempts", attempts),
		zap.Error(deliverErr),
	}

	if attempts >= d.config.MaxAttempts {
		d.logger.Error("Notification delivery abandoned", fields...)
		if err := d.outbox.MarkFailed(ctx, n.ID, attempts, deliverErr.Error()); err != nil {
			d.logger.Error("Failed to mark notification failed", zap.String("notification_id", n.ID.String()), zap.Error(err))
		}
		return
	}

	next := now.Add(d.config.Backoff * time.Duration(attempts))
	d.logger.Warn("Notification delivery failed, retrying", append(fields, zap.Time("next_attempt_at", next))...)
	if err := d.outbox.MarkRetry(ctx, n.ID, attempts, next, deliverErr.Error()); err != nil {
		d.logger.Error("Failed to schedule notification retry", zap.String("notification_id", n.ID.String()), zap.Error(err))
	}
}
