package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Transitions(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := newTracker("illustrator", time.Minute)
	tr.now = func() time.Time { return now }

	st, _ := tr.snapshot()
	assert.Equal(t, StateIdle, st.State)

	state, changed := tr.begin()
	assert.Equal(t, StateBusy, state)
	assert.True(t, changed)

	state, changed = tr.begin()
	assert.Equal(t, StateBusy, state)
	assert.False(t, changed)

	state, _ = tr.end(nil)
	assert.Equal(t, StateBusy, state, "still one in flight")

	state, changed = tr.end(errors.New("bad prompt"))
	assert.Equal(t, StateError, state)
	assert.True(t, changed)

	now = now.Add(30 * time.Second)
	state, changed = tr.beat()
	assert.Equal(t, StateError, state)
	assert.False(t, changed)

	now = now.Add(31 * time.Second)
	state, changed = tr.beat()
	assert.Equal(t, StateIdle, state)
	assert.True(t, changed)

	st, c := tr.snapshot()
	assert.Equal(t, "illustrator", st.Name)
	assert.Equal(t, now, st.LastHeartbeat)
	assert.Equal(t, Counters{InFlight: 0, Processed: 1, Failed: 1, LastError: "bad prompt"}, c)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "generation_failed", string(errorCode(RolePublisher, &GenerationError{Err: errors.New("x")})))
	assert.Equal(t, "assembly_failed", string(errorCode(RoleAuthor, &AssemblyError{Err: errors.New("x")})))
	assert.Equal(t, "generation_failed", string(errorCode(RoleIllustrator, errors.New("x"))))
	assert.Equal(t, "assembly_failed", string(errorCode(RolePublisher, errors.New("x"))))
	assert.Equal(t, "internal", string(errorCode("translator", errors.New("x"))))
}
