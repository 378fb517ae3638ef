// Package message provides the typed envelope and payload definitions
// exchanged between the quill orchestrator and its agent services.
//
// # Overview
//
// Every interaction in quill is a Message: an immutable envelope addressed
// from one named party to another and tagged with a correlation id. The
// correlation id groups the requests of one story workflow with every
// response, error and event they trigger. Responses and errors additionally
// carry in_reply_to, the id of the exact request they answer, which lets a
// single workflow keep several requests in flight (one per illustrated
// scene) without ambiguity.
//
// # Payloads
//
// Payloads are tagged variants rather than free-form maps. Each variant has
// a fixed schema and a Validate method, and the envelope records the variant
// in its Kind field:
//
//	story_request          -> StoryRequest
//	story_response         -> StoryResponse
//	illustration_request   -> IllustrationRequest
//	illustration_response  -> IllustrationResponse
//	publication_request    -> PublicationRequest
//	publication_response   -> PublicationResponse
//	error                  -> ErrorPayload
//	status_event           -> StatusEvent
//
// Decode turns the raw payload bytes back into the concrete variant and
// validates it, so malformed payloads are rejected at the boundary instead of
// failing deep inside a phase.
//
// # Usage Example
//
//	req, err := message.NewRequest("orchestrator", "author", correlationID,
//		&message.StoryRequest{Idea: idea})
//	if err != nil {
//		return err
//	}
//
//	// ... the author service answers
//	reply, err := message.NewReply(req, &message.StoryResponse{Chapters: chapters})
//
// # Redis Schema
//
// Networked deployments namespace every key and channel by a namespace name:
//
//	Agent channel:  quill:{namespace}:agent:{name}
//	Agent registry: quill:{namespace}:agents
//	History list:   quill:{namespace}:history:{correlation_id}
package message
