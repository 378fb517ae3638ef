// Package capability provides the work performed behind the author,
// illustrator and publisher agent roles.
//
// Each type implements agent.Capability:
//
//	Author       StoryRequest        -> StoryResponse         (GenerationError)
//	Illustrator  IllustrationRequest -> IllustrationResponse  (GenerationError)
//	Publisher    PublicationRequest  -> PublicationResponse   (AssemblyError)
//	Command      any of the above, delegated to an external process
//
// A Command tool receives a ToolInput document on stdin and must write a
// ToolOutput document to stdout before its timeout expires:
//
//	{"kind": "story_response", "payload": {"chapters": [...]}}
package capability
