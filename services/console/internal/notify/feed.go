// Package notify keeps the transient notifications shown to the operator and
// optionally mirrors them to a message broker.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/internal/util"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const DefaultCapacity = 100

type Notification struct {
	ID         string    `json:"id"`
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
	InstanceID string    `json:"instanceId,omitempty"`
	Time       time.Time `json:"time"`
}

// Publisher forwards notifications outside the process.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Feed is a bounded ring of recent notifications.
type Feed struct {
	mu        sync.Mutex
	ring      []Notification
	next      int
	full      bool
	publisher Publisher
	now       func() time.Time
}

// NewFeed builds a feed. publisher may be nil.
func NewFeed(capacity int, publisher Publisher) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		ring:      make([]Notification, capacity),
		publisher: publisher,
		now:       time.Now,
	}
}

// Publish records a notification and hands it to the publisher.
// Publisher failures are logged and do not fail the caller.
func (f *Feed) Publish(ctx context.Context, level Level, instanceID, message string) Notification {
	n := Notification{
		ID:         util.NewPrefixedID("ntf"),
		Level:      level,
		Message:    message,
		InstanceID: instanceID,
		Time:       f.now().UTC(),
	}
	f.mu.Lock()
	f.ring[f.next] = n
	f.next = (f.next + 1) % len(f.ring)
	if f.next == 0 {
		f.full = true
	}
	f.mu.Unlock()

	if f.publisher != nil {
		if err := f.publisher.Publish(ctx, n); err != nil {
			slog.Warn("notification publish failed", "id", n.ID, "level", n.Level, "err", err)
		}
	}
	return n
}

func (f *Feed) Success(ctx context.Context, instanceID, message string) {
	f.Publish(ctx, LevelSuccess, instanceID, message)
}

func (f *Feed) Info(ctx context.Context, instanceID, message string) {
	f.Publish(ctx, LevelInfo, instanceID, message)
}

func (f *Feed) Warning(ctx context.Context, instanceID, message string) {
	f.Publish(ctx, LevelWarning, instanceID, message)
}

func (f *Feed) Error(ctx context.Context, instanceID, message string) {
	f.Publish(ctx, LevelError, instanceID, message)
}

// Recent returns up to n notifications, newest first. n <= 0 returns all.
func (f *Feed) Recent(n int) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	size := f.next
	if f.full {
		size = len(f.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Notification, 0, n)
	for i := 1; i <= n; i++ {
		idx := (f.next - i + len(f.ring)) % len(f.ring)
		out = append(out, f.ring[idx])
	}
	return out
}
