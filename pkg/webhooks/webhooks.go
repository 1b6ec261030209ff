package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/creditgate/pkg/notify"
	"github.com/platinummonkey/creditgate/pkg/observability"
)

// Delivery headers
const (
	HeaderEvent     = "X-Creditgate-Event"
	HeaderDelivery  = "X-Creditgate-Delivery"
	HeaderSignature = "X-Creditgate-Signature"
)

// Endpoint is a receiver of lifecycle notifications. An empty Types list
// subscribes to every notification type.
type Endpoint struct {
	URL    string        `json:"url"`
	Secret string        `json:"-"`
	Types  []notify.Type `json:"types,omitempty"`
}

func (e Endpoint) wants(t notify.Type) bool {
	if len(e.Types) == 0 {
		return true
	}
	for _, want := range e.Types {
		if want == t {
			return true
		}
	}
	return false
}

// Config configures a Dispatcher
type Config struct {
	Endpoints []Endpoint
	Timeout   time.Duration // per attempt
	Retry     RetryConfig
	// RateLimit caps deliveries per endpoint per minute. Zero disables it.
	RateLimit int
}

// ParseEndpoints builds endpoints from a comma-separated URL list sharing
// one signing secret
func ParseEndpoints(urls, secret string) []Endpoint {
	var out []Endpoint
	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, Endpoint{URL: u, Secret: secret})
		}
	}
	return out
}

// Payload is the JSON body POSTed to an endpoint
type Payload struct {
	ID           string              `json:"id"`
	Type         notify.Type         `json:"type"`
	Timestamp    time.Time           `json:"timestamp"`
	Notification notify.Notification `json:"notification"`
}

// permanentError marks a delivery failure that retrying cannot fix
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err is a non-retryable delivery failure
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Dispatcher delivers notifications to webhook endpoints. It implements
// notify.Dispatcher; Send returns once every interested endpoint accepted
// the notification or exhausted its retries.
type Dispatcher struct {
	endpoints []Endpoint
	client    *http.Client
	retry     *RetryPolicy
	limiter   *RateLimiter
	logger    *observability.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a webhook dispatcher
func NewDispatcher(cfg Config, logger *observability.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	d := &Dispatcher{
		endpoints: cfg.Endpoints,
		client:    &http.Client{Timeout: cfg.Timeout},
		retry:     NewRetryPolicy(cfg.Retry),
		logger:    logger.WithField("component", "webhooks"),
		now:       time.Now,
		sleep:     sleepContext,
	}
	if cfg.RateLimit > 0 {
		d.limiter = NewRateLimiter(cfg.RateLimit, time.Minute/time.Duration(cfg.RateLimit))
	}
	return d
}

// Send delivers n to every endpoint subscribed to its type
func (d *Dispatcher) Send(ctx context.Context, n notify.Notification) error {
	payload := Payload{
		ID:           uuid.NewString(),
		Type:         n.Type,
		Timestamp:    d.now().UTC(),
		Notification: n,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var errs []error
	for _, ep := range d.endpoints {
		if !ep.wants(n.Type) {
			continue
		}
		if err := d.deliver(ctx, ep, payload, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, payload Payload, body []byte) error {
	log := d.logger.WithFields(map[string]interface{}{
		"url":             ep.URL,
		"delivery_id":     payload.ID,
		"type":            payload.Type,
		"organization_id": payload.Notification.OrganizationID,
	})

	for attempt := 1; ; attempt++ {
		err := d.attempt(ctx, ep, payload, body)
		if err == nil {
			log.WithField("attempts", attempt).Debug("Webhook delivered")
			return nil
		}
		if !d.retry.ShouldRetry(attempt, err) {
			log.WithError(err).WithField("attempts", attempt).Warn("Webhook delivery failed")
			return fmt.Errorf("webhook %s: %w", ep.URL, err)
		}
		if err := d.sleep(ctx, d.retry.NextRetryDelay(attempt)); err != nil {
			return fmt.Errorf("webhook %s: %w", ep.URL, err)
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, ep Endpoint, payload Payload, body []byte) error {
	if d.limiter != nil && !d.limiter.Allow(ep.URL) {
		return fmt.Errorf("rate limit exceeded")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return &permanentError{fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(payload.Type))
	req.Header.Set(HeaderDelivery, payload.ID)
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, ep.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return &permanentError{fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	}
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies the webhook signature
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
