package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/die-net/samehost/internal/registry"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := newPublisher(w, zerolog.Nop())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	if err := p.Publish(context.Background(), registry.Mapping{Name: "www.example.com", Code: "example"}); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages", len(w.msgs))
	}
	if got := string(w.msgs[0].Key); got != "www.example.com" {
		t.Fatalf("key=%q", got)
	}

	var ev DomainAdded
	if err := json.Unmarshal(w.msgs[0].Value, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Name != "www.example.com" || ev.Code != "example" || !ev.AddedAt.Equal(at) {
		t.Fatalf("event=%+v", ev)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close err=%v closed=%v", err, w.closed)
	}
}

func TestHookSwallowsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	p := newPublisher(&fakeWriter{err: boom}, zerolog.Nop())

	if err := p.Publish(context.Background(), registry.Mapping{Name: "a.com", Code: "a"}); !errors.Is(err, boom) {
		t.Fatalf("err=%v want wrapped broker error", err)
	}
	// Must not panic or block.
	p.Hook()(context.Background(), registry.Mapping{Name: "a.com", Code: "a"})
}
