// Package webhooks delivers signed governance alerts to configured HTTP
// endpoints.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types dispatched by the system.
const (
	EventIntegrityDegraded = "ledger.integrity_degraded"
	EventReviewRequired    = "federation.review_required"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Ledger-Signature"

// Subscription is a configured webhook endpoint. An empty Events list
// receives every event.
type Subscription struct {
	URL    string   `yaml:"url" mapstructure:"url"`
	Events []string `yaml:"events" mapstructure:"events"`
	Secret string   `yaml:"secret" mapstructure:"secret"`
}

func (s Subscription) wants(eventType string) bool {
	return len(s.Events) == 0 || slices.Contains(s.Events, eventType)
}

// Event is the JSON body POSTed to subscribers.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Dispatcher fans events out to subscriptions.
type Dispatcher struct {
	subs       []Subscription
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for subs.
func NewDispatcher(subs []Subscription, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		subs:       subs,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Retry with exponential backoff: 1s, 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// Dispatch sends an event to every matching subscription in the background.
// Delivery outlives ctx cancellation; use Wait to drain.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: d.now(),
		Payload:   payload,
	}
	ctx = context.WithoutCancel(ctx)
	for _, sub := range d.subs {
		if !sub.wants(eventType) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(ctx, sub, event)
		}()
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// deliver sends the event to a single subscription with retries.
func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}
	signature := Sign(body, sub.Secret)

	for attempt, delay := range d.delays {
		if delay > 0 {
			time.Sleep(delay)
		}

		success, errMsg := d.doDelivery(ctx, sub.URL, body, signature)
		if d.onMetrics != nil {
			d.onMetrics(success)
		}
		if success {
			return
		}

		d.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (d *Dispatcher) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// Sign computes the HMAC-SHA256 signature of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
