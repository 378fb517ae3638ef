package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/quill/internal/orchestrator"
	"github.com/dyluth/quill/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers status polls with each entry of states in turn,
// repeating the last one.
func scriptedServer(t *testing.T, states []orchestrator.TaskStatus) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		i := calls
		calls++
		mu.Unlock()

		switch r.URL.Path {
		case "/stories/c-1/status":
			if i >= len(states) {
				i = len(states) - 1
			}
			if states[i].State == "" {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(states[i])
		case "/stories/c-1":
			json.NewEncoder(w).Encode(orchestrator.WorkflowResult{CorrelationID: "c-1", Status: orchestrator.StatusComplete})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPollStatus_ReportsTransitions(t *testing.T) {
	srv := scriptedServer(t, []orchestrator.TaskStatus{
		{},
		{CorrelationID: "c-1", State: orchestrator.StateStoryCreation, Pending: 1, Phase: message.PhaseStoryCreation},
		{CorrelationID: "c-1", State: orchestrator.StateStoryCreation, Pending: 1, Phase: message.PhaseStoryCreation},
		{CorrelationID: "c-1", State: orchestrator.StateIllustration, Pending: 4, Phase: message.PhaseIllustration},
		{CorrelationID: "c-1", State: orchestrator.StateIllustration, Pending: 1, Phase: message.PhaseIllustration},
		{CorrelationID: "c-1", State: orchestrator.StateComplete, Status: orchestrator.StatusComplete},
	})

	var seen []orchestrator.TaskStatus
	final, err := PollStatus(t.Context(), NewClient(srv.URL), "c-1", 5*time.Millisecond, 5*time.Second,
		func(st orchestrator.TaskStatus) { seen = append(seen, st) })
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StateComplete, final.State)
	require.Len(t, seen, 4)
	assert.Equal(t, orchestrator.StateStoryCreation, seen[0].State)
	assert.Equal(t, 4, seen[1].Pending)
	assert.Equal(t, 1, seen[2].Pending)
}

func TestPollStatus_Timeout(t *testing.T) {
	srv := scriptedServer(t, []orchestrator.TaskStatus{
		{CorrelationID: "c-1", State: orchestrator.StateIllustration, Pending: 2},
	})

	_, err := PollStatus(t.Context(), NewClient(srv.URL), "c-1", 5*time.Millisecond, 50*time.Millisecond, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for workflow c-1")
}

func TestPollStatus_ContextCancelled(t *testing.T) {
	srv := scriptedServer(t, []orchestrator.TaskStatus{{}})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := PollStatus(ctx, NewClient(srv.URL), "c-1", 5*time.Millisecond, time.Second, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Result(t *testing.T) {
	srv := scriptedServer(t, []orchestrator.TaskStatus{{}})
	client := NewClient(srv.URL + "/")

	result, err := client.Result(t.Context(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusComplete, result.Status)

	_, err = client.Result(t.Context(), "c-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_Unreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.Status(t.Context(), "c-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach orchestrator")
}
