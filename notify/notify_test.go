package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	got    []Event
	fail   bool
	panics bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, e Event) error {
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func TestBusDeliversToEverySink(t *testing.T) {
	a := &recordingSink{}
	failing := &recordingSink{fail: true}
	broken := &recordingSink{panics: true}
	bus := NewBus(8, zap.NewNop().Sugar(), broken, failing, a)

	bus.Publish(Event{Kind: KindMod, Action: ActionNew, SubjectID: 1})
	bus.Publish(Event{Kind: KindModVersion, Action: ActionRevoked, SubjectID: 2})
	bus.Close()

	if len(a.got) != 2 || len(failing.got) != 2 {
		t.Fatalf("delivered %d and %d events, want 2 each", len(a.got), len(failing.got))
	}
	if a.got[0].SubjectID != 1 || a.got[1].SubjectID != 2 {
		t.Errorf("delivery order = %+v", a.got)
	}
	if a.got[0].At.IsZero() {
		t.Error("Publish() did not stamp the event time")
	}

	bus.Publish(Event{Kind: KindMod, Action: ActionNew, SubjectID: 3})
	if len(a.got) != 2 {
		t.Error("closed bus delivered an event")
	}
	bus.Close()
}

type blockingSink struct {
	release chan struct{}
	count   atomic.Int32
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(ctx context.Context, _ Event) error {
	<-s.release
	s.count.Add(1)
	return nil
}

func TestBusDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	bus := NewBus(1, zap.NewNop().Sugar(), sink)

	start := time.Now()
	for i := range 20 {
		bus.Publish(Event{Kind: KindMod, Action: ActionNew, SubjectID: uint(i)})
	}
	if time.Since(start) > time.Second {
		t.Error("Publish() blocked on a slow sink")
	}
	close(sink.release)
	bus.Close()

	// one in flight plus one queued
	if got := sink.count.Load(); got > 2 {
		t.Errorf("delivered %d events, want at most 2", got)
	}
}

func TestWebhookSink(t *testing.T) {
	var hits atomic.Int32
	var payload webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, zap.NewNop().Sugar())
	sink.HTTPClient.RetryWaitMin = time.Millisecond
	sink.HTTPClient.RetryWaitMax = time.Millisecond

	e := Event{Kind: KindEditProposal, Action: ActionApproved, ActorID: 4, SubjectID: 9}
	if err := sink.Deliver(context.Background(), e); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hit %d times, want a retry after 503", hits.Load())
	}
	if payload.Event.SubjectID != 9 || payload.Content != "edit_proposal 9 approved by user 4" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestWebhookSinkRejectsClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, zap.NewNop().Sugar())
	if err := sink.Deliver(context.Background(), Event{Kind: KindMod}); err == nil {
		t.Error("Deliver() succeeded on 401")
	}
}
