// Package orchestrator drives story workflows across the author,
// illustrator and publisher agents.
//
// Each CreateStory call owns one correlation id and walks it through a
// strict state machine:
//
//	INIT -> STORY_CREATION -> ILLUSTRATION -> PUBLICATION -> COMPLETE
//	  \__________\________________\_______________\______-> FAILED
//
// Broker.Request is the only point where a workflow waits. Every phase wait
// is bounded by the phase timeout and by what remains of the workflow
// timeout. The illustration phase sends one request per scene concurrently
// and re-associates replies by scene index; the first failed scene cancels
// the other waits of that workflow only.
//
// Requests and their replies are appended to a history.Store. Replies that
// arrive after their wait was abandoned reach the orchestrator's own
// subscription (see Start) and are recorded there without touching the
// finalized WorkflowResult.
package orchestrator
