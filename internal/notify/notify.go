// Package notify delivers financial notifications (work submitted, dispute
// opened, withdrawal settled) to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notification types.
const (
	TypeWorkSubmitted    = "work_submitted"
	TypeDisputeOpened    = "dispute_opened"
	TypeDisputeResolved  = "dispute_resolved"
	TypeEscrowReleased   = "escrow_released"
	TypeEscrowRefunded   = "escrow_refunded"
	TypeWithdrawalPaid   = "withdrawal_paid"
	TypeWithdrawalFailed = "withdrawal_failed"
)

// Notification is addressed to a single user about a single subject.
type Notification struct {
	Type      string         `json:"type"`
	UserID    uuid.UUID      `json:"user_id"`
	SubjectID uuid.UUID      `json:"subject_id"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier publishes notifications. Delivery is best effort; callers log failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RedisNotifier publishes JSON notifications on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, note Notification) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the logger. It is used when Redis is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.L()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info("notification",
		zap.String("type", note.Type),
		zap.String("user_id", note.UserID.String()),
		zap.String("subject_id", note.SubjectID.String()),
		zap.Any("data", note.Data),
	)
	return nil
}

// Send delivers note and logs a failure instead of returning it.
func Send(ctx context.Context, n Notifier, note Notification) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, note); err != nil {
		zap.L().Warn("notification delivery failed",
			zap.Error(err),
			zap.String("type", note.Type),
			zap.String("user_id", note.UserID.String()),
		)
	}
}

// Recorder keeps notifications in memory.
type Recorder struct {
	notes chan Notification
}

// NewRecorder buffers up to size notifications; further ones are dropped.
func NewRecorder(size int) *Recorder {
	return &Recorder{notes: make(chan Notification, size)}
}

func (r *Recorder) Notify(_ context.Context, note Notification) error {
	select {
	case r.notes <- note:
	default:
	}
	return nil
}

// Drain returns every buffered notification.
func (r *Recorder) Drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-r.notes:
			out = append(out, n)
		default:
			return out
		}
	}
}
