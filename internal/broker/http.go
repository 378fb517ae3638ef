package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/quill/pkg/message"
)

// HTTPConfig configures an HTTPBroker.
type HTTPConfig struct {
	// Routes maps recipient names to service base URLs.
	Routes map[string]string

	// Client is the HTTP client used for remote publishes.
	Client *http.Client

	// MaxRetries bounds redelivery attempts of one publish.
	MaxRetries uint64

	// InitialInterval is the first retry delay; later delays grow exponentially.
	InitialInterval time.Duration
}

// HTTPBroker dispatches locally served names in process and POSTs everything
// else to {url}/send of the route for its recipient. Inbound messages arrive
// through SendHandler, which only delivers them in process.
type HTTPBroker struct {
	r          *router
	routes     map[string]string
	client     *http.Client
	maxRetries uint64
	initial    time.Duration
}

// NewHTTPBroker creates an HTTP broker from cfg.
func NewHTTPBroker(cfg HTTPConfig, opts ...Option) (*HTTPBroker, error) {
	routes := make(map[string]string, len(cfg.Routes))
	for name, url := range cfg.Routes {
		if name == "" || url == "" {
			return nil, fmt.Errorf("route entries need a name and a URL (got %q -> %q)", name, url)
		}
		routes[name] = strings.TrimRight(url, "/")
	}

	b := &HTTPBroker{
		r:          newRouter(opts...),
		routes:     routes,
		client:     cfg.Client,
		maxRetries: cfg.MaxRetries,
		initial:    cfg.InitialInterval,
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: 30 * time.Second}
	}
	if b.maxRetries == 0 {
		b.maxRetries = 5
	}
	if b.initial <= 0 {
		b.initial = 200 * time.Millisecond
	}

	if b.r.defaultRoute != "" {
		if _, ok := routes[b.r.defaultRoute]; !ok {
			return nil, fmt.Errorf("default route %q has no URL", b.r.defaultRoute)
		}
	}
	return b, nil
}

// Publish dispatches in process when the recipient is served here and
// otherwise delivers to the recipient's route.
func (b *HTTPBroker) Publish(ctx context.Context, msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if b.r.isClosed() {
		return ErrClosed
	}

	if b.r.hasRoute(msg.Recipient) {
		return b.r.dispatch(ctx, msg)
	}

	url, ok := b.routes[msg.Recipient]
	if !ok && b.r.defaultRoute != "" {
		url, ok = b.routes[b.r.defaultRoute]
	}
	if !ok {
		return &DeliveryError{Recipient: msg.Recipient, MessageID: msg.ID, Err: errUnknownRecipient}
	}

	if err := b.post(ctx, url, msg); err != nil {
		return &DeliveryError{Recipient: msg.Recipient, MessageID: msg.ID, Err: err}
	}
	return nil
}

// Deliver hands an inbound message to a handler or wait in this process. It
// never forwards, so a route pointing back at this process cannot loop.
func (b *HTTPBroker) Deliver(ctx context.Context, msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	return b.r.dispatch(ctx, msg)
}

// post delivers msg with exponential backoff. Server errors and transport
// failures are retried; client errors are permanent.
func (b *HTTPBroker) post(ctx context.Context, baseURL string, msg *message.Message) error {
	body, err := json.Marshal(NewSendRequest(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	endpoint := baseURL + "/send"
	attempt := 0

	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(req)
		if err != nil {
			log.Printf("[DEBUG] POST %s attempt %d failed: %v", endpoint, attempt, err)
			return err
		}
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			log.Printf("[DEBUG] POST %s attempt %d returned %d", endpoint, attempt, resp.StatusCode)
			return fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(detail)))
		default:
			return backoff.Permanent(fmt.Errorf("%s rejected message with %d: %s",
				endpoint, resp.StatusCode, strings.TrimSpace(string(detail))))
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.initial
	policy.MaxElapsedTime = 0

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, b.maxRetries), ctx))
}

// Subscribe registers the handler for a name served by this process.
func (b *HTTPBroker) Subscribe(name string, handler Handler) error {
	return b.r.subscribe(name, handler)
}

// Unsubscribe removes the handler for name.
func (b *HTTPBroker) Unsubscribe(name string) error {
	return b.r.unsubscribe(name)
}

// Request publishes msg and waits for its reply. The reply reaches this
// process through SendHandler, so the sender's route must point back here.
func (b *HTTPBroker) Request(ctx context.Context, msg *message.Message, timeout time.Duration) (*message.Message, error) {
	return b.r.request(ctx, msg, timeout, b.Publish)
}

// Close fails pending waits and drops all handlers.
func (b *HTTPBroker) Close() error {
	b.r.close()
	return nil
}
