package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/quill/internal/broker"
	"github.com/dyluth/quill/pkg/message"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	t.Run("healthy when running", func(t *testing.T) {
		b := broker.NewMemoryBroker()
		defer b.Close()
		s := startService(t, b, storyCapability(oneChapter), Config{})

		w := serve(t, NewServer(s, b, ServerConfig{}).Handler(), http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, w.Code)

		var h HealthStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
		assert.Equal(t, "healthy", h.Status)
		assert.Equal(t, "author", h.Agent)
		assert.Equal(t, StateIdle, h.AgentState)
	})

	t.Run("unhealthy when stopped", func(t *testing.T) {
		b := broker.NewMemoryBroker()
		defer b.Close()
		s, err := NewService("author", storyCapability(oneChapter), b, Config{})
		require.NoError(t, err)

		w := serve(t, NewServer(s, b, ServerConfig{}).Handler(), http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("unhealthy when redis is down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()

		b, err := broker.NewRedisBroker(rdb, "test")
		require.NoError(t, err)
		defer b.Close()

		s := startService(t, b, storyCapability(oneChapter), Config{})
		h := NewServer(s, b, ServerConfig{}).Handler()

		assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/health", "").Code)

		mr.Close()
		w := serve(t, h, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "broker unreachable")
	})
}

func TestServer_SendAndStatus(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	s := startService(t, b, storyCapability(oneChapter), Config{})
	h := NewServer(s, b, ServerConfig{AllowOrigins: []string{"http://localhost:3000"}}).Handler()

	replies := make(chan *message.Message, 1)
	require.NoError(t, b.Subscribe(broker.DefaultSender, func(_ context.Context, msg *message.Message) error {
		replies <- msg
		return nil
	}))

	w := serve(t, h, http.MethodPost, "/send", `{"kind":"story_request","content":{"idea":{"plot":"A kite escapes"}}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted broker.SendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))

	select {
	case reply := <-replies:
		assert.Equal(t, accepted.MessageID, reply.InReplyTo)
		assert.Equal(t, accepted.MessageID, reply.CorrelationID)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply for injected request")
	}

	w = serve(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "author", st.Agent)
	assert.Equal(t, 1, st.State.Processed)
}

func TestServer_SendAcceptsBareBody(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	s := startService(t, b, storyCapability(oneChapter), Config{})
	h := NewServer(s, b, ServerConfig{}).Handler()

	replies := make(chan *message.Message, 1)
	require.NoError(t, b.Subscribe(broker.DefaultSender, func(_ context.Context, msg *message.Message) error {
		replies <- msg
		return nil
	}))

	w := serve(t, h, http.MethodPost, "/send",
		`{"sender":"external","message_type":"request","content":{"idea":{"plot":"A whale"}}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted broker.SendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, "accepted", accepted.Status)
	assert.NotEmpty(t, accepted.MessageID)

	select {
	case reply := <-replies:
		assert.Equal(t, accepted.MessageID, reply.InReplyTo)
		assert.Equal(t, message.KindStoryResponse, reply.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply for request without kind")
	}
}

func TestServer_StartAndProbe(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()

	s := startService(t, b, storyCapability(oneChapter), Config{})
	srv := NewServer(s, b, ServerConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background())

	p := NewRemoteProber("author", "http://"+srv.Addr()+"/")
	st := p.Probe(context.Background())
	assert.Equal(t, "author", st.Name)
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.LastHeartbeat.IsZero())

	assert.Equal(t, s.Status().State, s.Probe(context.Background()).State)
}

func TestRemoteProber_Unreachable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	st := NewRemoteProber("illustrator", down.URL).Probe(context.Background())
	assert.Equal(t, StateUnreachable, st.State)
	assert.Equal(t, "illustrator", st.Name)

	st = NewRemoteProber("publisher", "http://127.0.0.1:1").Probe(context.Background())
	assert.Equal(t, StateUnreachable, st.State)
}
