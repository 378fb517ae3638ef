// Package broker routes messages between the orchestrator and agent services.
//
// Three implementations share one routing core:
//
//	MemoryBroker  in-process, synchronous dispatch on the publisher's goroutine
//	RedisBroker   Redis Pub/Sub, one channel per recipient
//	HTTPBroker    POST {url}/send to remote services, local dispatch otherwise
//
// Request publishes a request and waits for the response or error whose
// in_reply_to matches the request id. Delivery is at-least-once, so the
// routing core drops message ids it has already dispatched and receivers stay
// idempotent.
package broker
