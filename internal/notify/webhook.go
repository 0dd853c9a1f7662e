package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pledge/internal/resilience"
)

// WebhookSink posts events of one topic to a URL, retrying transient
// failures behind a circuit breaker.
type WebhookSink struct {
	url     string
	topic   Topic
	client  *http.Client
	backoff resilience.Backoff
	breaker *resilience.Breaker
}

// NewWebhookSink creates a sink for events on topic. An empty topic accepts
// every event.
func NewWebhookSink(url string, topic Topic, timeout time.Duration, backoff resilience.Backoff, breaker *resilience.Breaker) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if breaker == nil {
		breaker = resilience.NewBreaker("webhook:"+string(topic), 0, 0)
	}
	return &WebhookSink{
		url:     url,
		topic:   topic,
		client:  &http.Client{Timeout: timeout},
		backoff: backoff,
		breaker: breaker,
	}
}

func (w *WebhookSink) Name() string { return "webhook:" + string(w.topic) }

// Deliver posts ev unless it belongs to another topic.
func (w *WebhookSink) Deliver(ctx context.Context, ev Event) error {
	if w.topic != "" && ev.Topic != w.topic {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	return resilience.Retry(ctx, w.backoff, w.Name(), func(ctx context.Context) error {
		return w.breaker.Execute(ctx, func(ctx context.Context) error {
			return w.post(ctx, ev, payload)
		})
	})
}

func (w *WebhookSink) post(ctx context.Context, ev Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Event-Type", string(ev.Type))

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return &resilience.StatusError{StatusCode: resp.StatusCode, Endpoint: w.Name()}
	}
	return nil
}

// LogSink writes every event to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, ev Event) error {
	zap.L().Info("notify: event",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("topic", string(ev.Topic)),
		zap.String("commitment_id", ev.CommitmentID),
		zap.String("user_id", ev.UserID),
		zap.String("status", string(ev.Status)),
	)
	return nil
}
