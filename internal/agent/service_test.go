package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/quill/internal/broker"
	"github.com/dyluth/quill/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storyCapability(fn func(ctx context.Context, task *message.Task) (message.Payload, error)) Capability {
	return CapabilityFunc{RoleName: RoleAuthor, Fn: fn}
}

func oneChapter(context.Context, *message.Task) (message.Payload, error) {
	return &message.StoryResponse{Chapters: []message.Chapter{{Number: 1, Title: "Start", Text: "Once."}}}, nil
}

func newStoryRequest(t *testing.T) *message.Message {
	t.Helper()
	msg, err := message.NewRequest("orchestrator", "author", "", &message.StoryRequest{
		Idea: message.StoryIdea{Plot: "Two snails race"},
	})
	require.NoError(t, err)
	return msg
}

func startService(t *testing.T, b broker.Broker, c Capability, cfg Config) *Service {
	t.Helper()
	svc, err := NewService("author", c, b, cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background(), true))
	t.Cleanup(func() { svc.Stop(true) })
	return svc
}

func TestNewService_Validation(t *testing.T) {
	b := broker.NewMemoryBroker()
	c := storyCapability(oneChapter)

	_, err := NewService("", c, b, Config{})
	assert.Error(t, err)
	_, err = NewService("author", nil, b, Config{})
	assert.Error(t, err)
	_, err = NewService("author", c, nil, Config{})
	assert.Error(t, err)
}

func TestService_RepliesWithSameCorrelation(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	var seen *message.Task
	s := startService(t, b, storyCapability(func(ctx context.Context, task *message.Task) (message.Payload, error) {
		seen = task
		return oneChapter(ctx, task)
	}), Config{})

	req := newStoryRequest(t)
	reply, err := b.Request(context.Background(), req, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, message.TypeResponse, reply.Type)
	assert.Equal(t, req.CorrelationID, reply.CorrelationID)
	assert.Equal(t, req.ID, reply.InReplyTo)

	require.NotNil(t, seen)
	assert.Equal(t, req.ID, seen.RequestID)
	assert.Equal(t, message.PhaseStoryCreation, seen.Phase)
	assert.Equal(t, 1, seen.Attempt)
	_, ok := seen.Input.(*message.StoryRequest)
	assert.True(t, ok)

	assert.Eventually(t, func() bool { return s.Counters().Processed == 1 }, time.Second, 5*time.Millisecond)
}

func TestService_FailureBecomesErrorMessageThenCoolsDown(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	s := startService(t, b, storyCapability(func(context.Context, *message.Task) (message.Payload, error) {
		return nil, &GenerationError{Role: RoleAuthor, Err: errors.New("model unavailable")}
	}), Config{Cooldown: 300 * time.Millisecond})

	req := newStoryRequest(t)
	reply, err := b.Request(context.Background(), req, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, message.TypeError, reply.Type)
	assert.Equal(t, req.CorrelationID, reply.CorrelationID)

	p, err := reply.Decode()
	require.NoError(t, err)
	ep := p.(*message.ErrorPayload)
	assert.Equal(t, message.ErrorCodeGeneration, ep.Code)
	assert.Equal(t, message.PhaseStoryCreation, ep.Phase)
	assert.Contains(t, ep.Message, "model unavailable")

	assert.Equal(t, StateError, s.Status().State)
	assert.Eventually(t, func() bool { return s.Status().State == StateIdle }, time.Second, 10*time.Millisecond)

	c := s.Counters()
	assert.Equal(t, 1, c.Failed)
	assert.Contains(t, c.LastError, "model unavailable")
}

func TestService_BusyWhileHandling(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	release := make(chan struct{})
	entered := make(chan struct{})
	s := startService(t, b, storyCapability(func(ctx context.Context, task *message.Task) (message.Payload, error) {
		close(entered)
		<-release
		return oneChapter(ctx, task)
	}), Config{})

	done := make(chan error, 1)
	go func() {
		_, err := b.Request(context.Background(), newStoryRequest(t), 2*time.Second)
		done <- err
	}()

	<-entered
	assert.Equal(t, StateBusy, s.Status().State)
	assert.Equal(t, StateBusy, s.Health().AgentState)
	close(release)

	require.NoError(t, <-done)
	assert.Eventually(t, func() bool { return s.Status().State == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestService_PanicIsRecovered(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	s := startService(t, b, storyCapability(func(context.Context, *message.Task) (message.Payload, error) {
		panic("boom")
	}), Config{})

	reply, err := b.Request(context.Background(), newStoryRequest(t), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, message.TypeError, reply.Type)

	p, err := reply.Decode()
	require.NoError(t, err)
	assert.Equal(t, message.ErrorCodeInternal, p.(*message.ErrorPayload).Code)

	// The service keeps serving after a panic.
	reply, err = b.Request(context.Background(), newStoryRequest(t), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, message.TypeError, reply.Type)
	assert.Equal(t, "healthy", s.Health().Status)
}

func TestService_RejectsWrongKind(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	startService(t, b, storyCapability(oneChapter), Config{})

	req, err := message.NewRequest("orchestrator", "author", "", &message.PublicationRequest{
		Chapters: []message.Chapter{{Number: 1}},
	})
	require.NoError(t, err)

	reply, err := b.Request(context.Background(), req, 2*time.Second)
	require.NoError(t, err)

	p, err := reply.Decode()
	require.NoError(t, err)
	assert.Equal(t, message.ErrorCodeInvalidRequest, p.(*message.ErrorPayload).Code)
}

func TestService_InvalidOutputBecomesError(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	startService(t, b, storyCapability(func(context.Context, *message.Task) (message.Payload, error) {
		return &message.StoryResponse{}, nil
	}), Config{})

	reply, err := b.Request(context.Background(), newStoryRequest(t), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, message.TypeError, reply.Type)
}

func TestService_QueueFullIsDeliveryError(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	release := make(chan struct{})
	defer close(release)
	startService(t, b, storyCapability(func(ctx context.Context, task *message.Task) (message.Payload, error) {
		<-release
		return oneChapter(ctx, task)
	}), Config{Concurrency: 1, QueueSize: 1})

	ctx := context.Background()
	var lastErr error
	for i := 0; i < 5 && lastErr == nil; i++ {
		lastErr = b.Publish(ctx, newStoryRequest(t))
	}
	require.Error(t, lastErr)
	assert.True(t, broker.IsDelivery(lastErr))
	assert.ErrorIs(t, lastErr, ErrQueueFull)
}

func TestService_RunsRedeliveredRequestOnce(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	var mu sync.Mutex
	calls := 0
	s := startService(t, b, storyCapability(func(ctx context.Context, task *message.Task) (message.Payload, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return oneChapter(ctx, task)
	}), Config{})

	req := newStoryRequest(t)
	require.NoError(t, s.enqueue(context.Background(), req))
	require.NoError(t, s.enqueue(context.Background(), req.Clone()))

	assert.Eventually(t, func() bool { return s.Counters().Processed == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.enqueue(context.Background(), req))
	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 1
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestService_QueueFullRequestCanBeRedelivered(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()
	s := startService(t, b, storyCapability(func(ctx context.Context, task *message.Task) (message.Payload, error) {
		<-release
		return oneChapter(ctx, task)
	}), Config{Concurrency: 1, QueueSize: 1})

	ctx := context.Background()
	var rejected *message.Message
	for i := 0; i < 5 && rejected == nil; i++ {
		req := newStoryRequest(t)
		if err := s.enqueue(ctx, req); err != nil {
			require.ErrorIs(t, err, ErrQueueFull)
			rejected = req
		}
	}
	require.NotNil(t, rejected)

	unblock()
	assert.Eventually(t, func() bool {
		return s.enqueue(ctx, rejected) == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestService_GracefulStopFinishesBacklog(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	var mu sync.Mutex
	handled := 0
	s, err := NewService("author", storyCapability(func(ctx context.Context, task *message.Task) (message.Payload, error) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		handled++
		mu.Unlock()
		return oneChapter(ctx, task)
	}), b, Config{})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), true))

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), newStoryRequest(t)))
	}
	require.NoError(t, s.Stop(false))

	mu.Lock()
	assert.Equal(t, 5, handled)
	mu.Unlock()

	assert.Equal(t, "unhealthy", s.Health().Status)
	assert.True(t, broker.IsDelivery(b.Publish(context.Background(), newStoryRequest(t))))
}

func TestService_HardStopDropsBacklog(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	entered := make(chan struct{}, 10)
	release := make(chan struct{})
	var mu sync.Mutex
	handled := 0
	s, err := NewService("author", storyCapability(func(ctx context.Context, task *message.Task) (message.Payload, error) {
		entered <- struct{}{}
		<-release
		mu.Lock()
		handled++
		mu.Unlock()
		return oneChapter(ctx, task)
	}), b, Config{Concurrency: 1})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), true))

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Publish(context.Background(), newStoryRequest(t)))
	}
	<-entered

	stopped := make(chan struct{})
	go func() {
		_ = s.Stop(true)
		close(stopped)
	}()

	// Let Stop discard the queue before the running task finishes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-stopped

	mu.Lock()
	assert.Equal(t, 1, handled)
	mu.Unlock()
}

func TestService_StartBlocksUntilContextDone(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	s, err := NewService("author", storyCapability(oneChapter), b, Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, false) }()

	require.Eventually(t, func() bool { return s.Health().Status == "healthy" }, time.Second, 5*time.Millisecond)
	assert.Error(t, s.Start(context.Background(), true), "second start must fail")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	assert.Equal(t, "unhealthy", s.Health().Status)
}

func TestService_StatusEventsToWatcher(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	var mu sync.Mutex
	var states []string
	require.NoError(t, b.Subscribe("watcher", func(_ context.Context, msg *message.Message) error {
		p, err := msg.Decode()
		if err != nil {
			return err
		}
		mu.Lock()
		states = append(states, p.(*message.StatusEvent).State)
		mu.Unlock()
		return nil
	}))

	startService(t, b, storyCapability(oneChapter), Config{Watcher: "watcher"})

	_, err := b.Request(context.Background(), newStoryRequest(t), 2*time.Second)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"busy", "idle"}, states)
	mu.Unlock()
}
