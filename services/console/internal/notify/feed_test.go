package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type recordingPublisher struct {
	got []Notification
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestFeedKeepsNewestWithinCapacity(t *testing.T) {
	f := NewFeed(3, nil)
	for i := 0; i < 5; i++ {
		f.Info(context.Background(), "", fmt.Sprintf("n%d", i))
	}
	got := f.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(got))
	}
	if got[0].Message != "n4" || got[2].Message != "n2" {
		t.Fatalf("unexpected order: %s .. %s", got[0].Message, got[2].Message)
	}
	if len(f.Recent(2)) != 2 {
		t.Fatalf("limit not applied")
	}
}

func TestFeedBeforeWrap(t *testing.T) {
	f := NewFeed(5, nil)
	f.Success(context.Background(), "inst_1", "created")
	got := f.Recent(10)
	if len(got) != 1 || got[0].Level != LevelSuccess || got[0].InstanceID != "inst_1" {
		t.Fatalf("unexpected feed: %+v", got)
	}
}

func TestFeedPublisherFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	f := NewFeed(2, pub)
	n := f.Publish(context.Background(), LevelError, "", "boom")
	if len(pub.got) != 1 || pub.got[0].ID != n.ID {
		t.Fatalf("publisher not called: %+v", pub.got)
	}
	if len(f.Recent(0)) != 1 {
		t.Fatalf("notification should still be recorded")
	}
	if RoutingKey(LevelError) != "console.error" {
		t.Fatalf("unexpected routing key %q", RoutingKey(LevelError))
	}
}
