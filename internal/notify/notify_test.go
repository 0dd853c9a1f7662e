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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pledge/internal/model"
	"github.com/sells-group/pledge/internal/resilience"
)

func testEvent(typ Type) Event {
	c := &model.Commitment{ID: "c-1", UserID: "u-1", PartnerID: "p-1", Status: model.StatusActionPending}
	return NewEvent(typ, c, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), map[string]any{"k": "v"})
}

func fastBackoff() resilience.Backoff {
	return resilience.Backoff{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Deliver(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestType_Topic(t *testing.T) {
	assert.Equal(t, TopicNotification, RelapseReported.Topic())
	assert.Equal(t, TopicNotification, DeadlineOverdue.Topic())
	assert.Equal(t, TopicOutcome, OutcomeFailed.Topic())
	assert.Equal(t, TopicOutcome, OutcomePayToSkip.Topic())
}

func TestNewEvent(t *testing.T) {
	ev := testEvent(ProofSubmitted)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, TopicNotification, ev.Topic)
	assert.Equal(t, "c-1", ev.CommitmentID)
	assert.Equal(t, "p-1", ev.PartnerID)
	assert.Equal(t, model.StatusActionPending, ev.Status)
}

func TestDispatcher_DeliversToAllSinksOnClose(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{err: errors.New("down")}
	d := NewDispatcher([]Sink{a, b}, 16, 2, time.Second)

	for range 5 {
		d.Publish(context.Background(), testEvent(RelapseReported))
	}
	d.Close()

	assert.Equal(t, 5, a.count())
	assert.Equal(t, 5, b.count(), "a failing sink still sees every event")
}

func TestDispatcher_PublishAfterCloseDrops(t *testing.T) {
	s := &recordingSink{}
	d := NewDispatcher([]Sink{s}, 4, 1, time.Second)
	d.Close()
	d.Close()

	d.Publish(context.Background(), testEvent(RelapseReported))
	assert.Equal(t, 0, s.count())
}

type blockingSink struct {
	release chan struct{}
	seen    atomic.Int32
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Deliver(ctx context.Context, _ Event) error {
	b.seen.Add(1)
	<-b.release
	return nil
}

func TestDispatcher_FullQueueNeverBlocks(t *testing.T) {
	s := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher([]Sink{s}, 1, 1, time.Second)

	done := make(chan struct{})
	go func() {
		for range 20 {
			d.Publish(context.Background(), testEvent(RelapseReported))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	close(s.release)
	d.Close()
	assert.LessOrEqual(t, int(s.seen.Load()), 2)
}

func TestWebhookSink_PostsMatchingTopic(t *testing.T) {
	var got Event
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, string(OutcomeCompleted), r.Header.Get("X-Event-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, TopicOutcome, time.Second, fastBackoff(), nil)

	require.NoError(t, sink.Deliver(context.Background(), testEvent(RelapseReported)))
	assert.Equal(t, int32(0), hits.Load(), "other topics are skipped")

	ev := testEvent(OutcomeCompleted)
	require.NoError(t, sink.Deliver(context.Background(), ev))
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, TopicOutcome, got.Topic)
}

func TestWebhookSink_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "", time.Second, fastBackoff(), nil)
	require.NoError(t, sink.Deliver(context.Background(), testEvent(ProofResolved)))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebhookSink_PermanentStatusFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "", time.Second, fastBackoff(), nil)
	err := sink.Deliver(context.Background(), testEvent(ProofResolved))
	require.Error(t, err)

	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestWebhookSink_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	breaker := resilience.NewBreaker("test", 2, time.Hour)
	sink := NewWebhookSink(srv.URL, "", time.Second, fastBackoff(), breaker)

	for range 2 {
		assert.Error(t, sink.Deliver(context.Background(), testEvent(ProofResolved)))
	}
	err := sink.Deliver(context.Background(), testEvent(ProofResolved))
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestLogSinkAndNop(t *testing.T) {
	assert.NoError(t, LogSink{}.Deliver(context.Background(), testEvent(CommitmentCreated)))
	assert.Equal(t, "log", LogSink{}.Name())
	Nop{}.Publish(context.Background(), testEvent(CommitmentCreated))
}
