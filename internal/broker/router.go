package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/quill/pkg/message"
)

const defaultDedupeWindow = 4096

// router is the routing core shared by every broker implementation: one
// handler per name, the table of pending request waits and a window of
// recently dispatched message ids.
type router struct {
	mu           sync.Mutex
	handlers     map[string]Handler
	waiters      map[string]*waiter // keyed by request id
	seen         *idWindow
	defaultRoute string
	closed       bool
}

type waiter struct {
	owner         string
	correlationID string
	ch            chan *message.Message
	delivered     bool
}

func newRouter(opts ...Option) *router {
	r := &router{
		handlers: make(map[string]Handler),
		waiters:  make(map[string]*waiter),
		seen:     newIDWindow(defaultDedupeWindow),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *router) subscribe(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("subscription name cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, name)
	}
	r.handlers[name] = h
	return nil
}

func (r *router) unsubscribe(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, name)
	}
	delete(r.handlers, name)
	return nil
}

// hasRoute reports whether name is served in this process, either by a
// handler or by a pending request wait it owns.
func (r *router) hasRoute(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[name]; ok {
		return true
	}
	return r.ownsWaitLocked(name)
}

func (r *router) ownsWait(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownsWaitLocked(name)
}

func (r *router) ownsWaitLocked(name string) bool {
	for _, w := range r.waiters {
		if w.owner == name {
			return true
		}
	}
	return false
}

func (r *router) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// dispatch delivers msg to a pending wait or to the recipient's handler.
// Redelivered message ids are dropped silently.
func (r *router) dispatch(ctx context.Context, msg *message.Message) error {
	msg = msg.Clone()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	if !r.seen.add(msg.ID) {
		r.mu.Unlock()
		log.Printf("[DEBUG] Dropping redelivered message %s", msg.ID)
		return nil
	}

	if msg.IsTerminal() {
		if w, ok := r.waiters[msg.InReplyTo]; ok && w.correlationID == msg.CorrelationID {
			if w.delivered {
				r.mu.Unlock()
				log.Printf("[WARN] %v: %s answers request %s which already has a reply",
					ErrDuplicateResponse, msg.ID, msg.InReplyTo)
				return nil
			}
			w.delivered = true
			w.ch <- msg
			r.mu.Unlock()
			return nil
		}
	}

	h, ok := r.handlers[msg.Recipient]
	if !ok && r.defaultRoute != "" {
		h, ok = r.handlers[r.defaultRoute]
	}
	r.mu.Unlock()

	if !ok {
		r.forget(msg.ID)
		return &DeliveryError{Recipient: msg.Recipient, MessageID: msg.ID, Err: errUnknownRecipient}
	}

	if err := h(ctx, msg); err != nil {
		r.forget(msg.ID)
		return &DeliveryError{Recipient: msg.Recipient, MessageID: msg.ID, Err: err}
	}
	return nil
}

// forget lets a failed delivery be retried with the same message id.
func (r *router) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen.forget(id)
}

func (r *router) addWaiter(req *message.Message) (*waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, exists := r.waiters[req.ID]; exists {
		return nil, fmt.Errorf("request %s is already awaiting a reply", req.ID)
	}

	w := &waiter{
		owner:         req.Sender,
		correlationID: req.CorrelationID,
		ch:            make(chan *message.Message, 1),
	}
	r.waiters[req.ID] = w
	return w, nil
}

func (r *router) removeWaiter(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, requestID)
}

// request registers a wait for req, publishes it and blocks until the reply,
// the timeout or ctx ends the wait. The wait is removed on return, so replies
// arriving afterwards go to the sender's handler as late messages.
func (r *router) request(ctx context.Context, req *message.Message, timeout time.Duration,
	publish func(context.Context, *message.Message) error) (*message.Message, error) {

	if req.Type != message.TypeRequest {
		return nil, fmt.Errorf("cannot wait on a %s message", req.Type)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	w, err := r.addWaiter(req)
	if err != nil {
		return nil, err
	}
	defer r.removeWaiter(req.ID)

	if err := publish(ctx, req); err != nil {
		return nil, err
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	timeoutErr := &TimeoutError{
		RequestID:     req.ID,
		CorrelationID: req.CorrelationID,
		Recipient:     req.Recipient,
		Timeout:       timeout,
	}

	select {
	case reply, ok := <-w.ch:
		if !ok {
			return nil, ErrClosed
		}
		return reply, nil
	case <-timer:
		return nil, timeoutErr
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutErr
		}
		return nil, fmt.Errorf("request %s cancelled: %w", req.ID, ctx.Err())
	}
}

// close fails all pending waits and rejects further work.
func (r *router) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for id, w := range r.waiters {
		if !w.delivered {
			close(w.ch)
		}
		delete(r.waiters, id)
	}
	r.handlers = make(map[string]Handler)
}

// idWindow remembers the most recent ids in insertion order.
type idWindow struct {
	ids  map[string]int // id -> ring slot
	ring []string
	next int
}

func newIDWindow(size int) *idWindow {
	return &idWindow{
		ids:  make(map[string]int, size),
		ring: make([]string, size),
	}
}

// add records id and returns false if it was already present.
func (w *idWindow) add(id string) bool {
	if _, ok := w.ids[id]; ok {
		return false
	}
	if old := w.ring[w.next]; old != "" {
		delete(w.ids, old)
	}
	w.ring[w.next] = id
	w.ids[id] = w.next
	w.next = (w.next + 1) % len(w.ring)
	return true
}

// forget removes id so a redelivery of it is dispatched again.
func (w *idWindow) forget(id string) {
	if slot, ok := w.ids[id]; ok {
		w.ring[slot] = ""
		delete(w.ids, id)
	}
}
