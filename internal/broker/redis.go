package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/quill/pkg/message"
	"github.com/redis/go-redis/v9"
)

// RedisBroker delivers messages over Redis Pub/Sub. Each subscribed name
// listens on its own channel and is recorded in the namespace's agent set so
// publishers in other processes can tell known recipients from unknown ones.
//
// Pub/Sub is at-most-once towards absent listeners: a publish that reaches no
// subscriber fails with a DeliveryError instead of being silently lost.
type RedisBroker struct {
	r          *router
	rdb        *redis.Client
	namespace  string
	ownsClient bool

	mu        sync.Mutex
	listeners map[string]*listener
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type listener struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (l *listener) close() {
	l.once.Do(func() {
		l.cancel()
		l.pubsub.Close()
	})
}

// NewRedisBroker creates a broker on an existing client. The caller keeps
// ownership of rdb.
func NewRedisBroker(rdb *redis.Client, namespace string, opts ...Option) (*RedisBroker, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBroker{
		r:         newRouter(opts...),
		rdb:       rdb,
		namespace: namespace,
		listeners: make(map[string]*listener),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// NewRedisBrokerFromURL parses a redis:// URL and creates a broker that owns
// its client.
func NewRedisBrokerFromURL(redisURL, namespace string, opts ...Option) (*RedisBroker, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	b, err := NewRedisBroker(redis.NewClient(redisOpts), namespace, opts...)
	if err != nil {
		return nil, err
	}
	b.ownsClient = true
	return b, nil
}

// Ping verifies Redis connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Publish sends msg on the recipient's channel.
func (b *RedisBroker) Publish(ctx context.Context, msg *message.Message) error {
	if b.r.isClosed() {
		return ErrClosed
	}

	data, err := message.Marshal(msg)
	if err != nil {
		return err
	}

	target, err := b.resolve(ctx, msg.Recipient)
	if err != nil {
		return &DeliveryError{Recipient: msg.Recipient, MessageID: msg.ID, Err: err}
	}

	receivers, err := b.rdb.Publish(ctx, message.AgentChannel(b.namespace, target), data).Result()
	if err != nil {
		return &DeliveryError{Recipient: msg.Recipient, MessageID: msg.ID,
			Err: fmt.Errorf("failed to publish to Redis: %w", err)}
	}
	if receivers == 0 {
		return &DeliveryError{Recipient: msg.Recipient, MessageID: msg.ID,
			Err: fmt.Errorf("no listener on channel for %q", target)}
	}

	return nil
}

// resolve picks the channel owner for a recipient: a local or registered
// name, else the default route.
func (b *RedisBroker) resolve(ctx context.Context, recipient string) (string, error) {
	if b.r.hasRoute(recipient) {
		return recipient, nil
	}

	known, err := b.rdb.SIsMember(ctx, message.AgentsKey(b.namespace), recipient).Result()
	if err != nil {
		return "", fmt.Errorf("failed to check agent registry: %w", err)
	}
	if known {
		return recipient, nil
	}

	if b.r.defaultRoute != "" {
		return b.r.defaultRoute, nil
	}
	return "", errUnknownRecipient
}

// Subscribe registers the handler, listens on the name's channel and adds the
// name to the agent registry. It returns once Redis has confirmed the
// subscription.
func (b *RedisBroker) Subscribe(name string, handler Handler) error {
	if err := b.r.subscribe(name, handler); err != nil {
		return err
	}

	if err := b.listen(name); err != nil {
		_ = b.r.unsubscribe(name)
		return err
	}
	return nil
}

// Unsubscribe removes the handler and the registry entry. The channel
// listener is kept while a request owned by name is still waiting.
func (b *RedisBroker) Unsubscribe(name string) error {
	if err := b.r.unsubscribe(name); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.rdb.SRem(ctx, message.AgentsKey(b.namespace), name).Err(); err != nil {
		log.Printf("[WARN] Failed to remove %s from agent registry: %v", name, err)
	}

	if !b.r.ownsWait(name) {
		b.stopListening(name)
	}
	return nil
}

// Request publishes msg and waits for its reply on the sender's channel.
func (b *RedisBroker) Request(ctx context.Context, msg *message.Message, timeout time.Duration) (*message.Message, error) {
	if err := b.listen(msg.Sender); err != nil {
		return nil, err
	}
	return b.r.request(ctx, msg, timeout, b.Publish)
}

// listen starts the channel listener for name if it is not running yet.
func (b *RedisBroker) listen(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.listeners[name]; ok {
		return nil
	}
	if b.ctx.Err() != nil {
		return ErrClosed
	}

	channel := message.AgentChannel(b.namespace, name)
	pubsub := b.rdb.Subscribe(b.ctx, channel)

	confirmCtx, confirmCancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer confirmCancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	if err := b.rdb.SAdd(confirmCtx, message.AgentsKey(b.namespace), name).Err(); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to register %s: %w", name, err)
	}

	subCtx, cancel := context.WithCancel(b.ctx)
	l := &listener{pubsub: pubsub, cancel: cancel}
	b.listeners[name] = l

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer l.close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}

				msg, err := message.Unmarshal([]byte(raw.Payload))
				if err != nil {
					log.Printf("[WARN] Skipping malformed message on %s: %v", channel, err)
					continue
				}

				if err := b.r.dispatch(subCtx, msg); err != nil {
					log.Printf("[WARN] Failed to dispatch %s: %v", msg, err)
				}
			}
		}
	}()

	log.Printf("[DEBUG] Listening on %s", channel)
	return nil
}

func (b *RedisBroker) stopListening(name string) {
	b.mu.Lock()
	l, ok := b.listeners[name]
	delete(b.listeners, name)
	b.mu.Unlock()

	if ok {
		l.close()
	}
}

// Close stops every listener and fails pending waits. The Redis client is
// closed only if the broker created it.
func (b *RedisBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.r.close()
		b.cancel()

		b.mu.Lock()
		for name, l := range b.listeners {
			l.close()
			delete(b.listeners, name)
		}
		b.mu.Unlock()

		b.wg.Wait()

		if b.ownsClient {
			err = b.rdb.Close()
		}
	})
	return err
}
