package consumer

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/tutorslots/libs/kafkax"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/outbox"
	"github.com/segmentio/kafka-go"
)

type memInbox struct {
	seen map[string]bool
}

func (m *memInbox) Record(_ context.Context, eventID, _ string) (bool, error) {
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func (m *memInbox) Forget(_ context.Context, eventID string) error {
	delete(m.seen, eventID)
	return nil
}

type recordingCache struct {
	evicted []string
	err     error
}

func (c *recordingCache) Invalidate(_ context.Context, tutorID string) error {
	if c.err != nil {
		return c.err
	}
	c.evicted = append(c.evicted, tutorID)
	return nil
}

type sliceReader struct {
	msgs   []kafka.Message
	closed bool
	cancel context.CancelFunc
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

func availabilityMsg(eventID, tutorID string) kafka.Message {
	meta := kafkax.EventMeta{EventID: eventID, EventType: outbox.TopicAvailabilityUpdated}
	return kafka.Message{
		Topic:   outbox.TopicAvailabilityUpdated,
		Key:     []byte(tutorID),
		Value:   []byte(`{"tutor_id":"` + tutorID + `","updated_at":"2026-01-11T00:00:00Z"}`),
		Headers: meta.Headers(),
	}
}

func TestRun_EvictsOncePerEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.DiscardHandler)

	cache := &recordingCache{}
	reader := &sliceReader{
		msgs: []kafka.Message{
			availabilityMsg("e1", "t1"),
			availabilityMsg("e1", "t1"),
			availabilityMsg("e2", "t2"),
			{Topic: outbox.TopicAvailabilityUpdated, Value: []byte("not json")},
		},
		cancel: cancel,
	}
	c := NewWithReader(reader, logger, &memInbox{seen: map[string]bool{}}, EvictProfiles(cache, logger))
	c.Run(ctx)

	if len(cache.evicted) != 2 || cache.evicted[0] != "t1" || cache.evicted[1] != "t2" {
		t.Fatalf("expected evictions [t1 t2], got %v", cache.evicted)
	}
	if !reader.closed {
		t.Fatal("expected reader to be closed on shutdown")
	}
}

func TestProcess_FailedHandlerIsRetried(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	cache := &recordingCache{err: errors.New("redis down")}
	inbox := &memInbox{seen: map[string]bool{}}
	c := NewWithReader(&sliceReader{}, logger, inbox, EvictProfiles(cache, logger))

	c.Process(context.Background(), availabilityMsg("e1", "t1"))
	if inbox.seen["e1"] {
		t.Fatal("expected failed event to be released from the inbox")
	}

	cache.err = nil
	c.Process(context.Background(), availabilityMsg("e1", "t1"))
	if len(cache.evicted) != 1 {
		t.Fatalf("expected redelivery to evict, got %v", cache.evicted)
	}
}
