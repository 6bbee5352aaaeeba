package client

import "encoding/json"

// EventHandler receives asynchronous traffic from the network application.
// Methods run on the transport's dispatch goroutine; implementations doing
// significant work should hand off to their own goroutine.
//
// Handler methods must not call Disconnect (or otherwise close the session)
// synchronously: teardown waits for the dispatch goroutine the handler is
// running on, so the call would deadlock. Spawn a goroutine for it instead:
//
//	func (h *myHandler) OnControlError(payload json.RawMessage) {
//		go h.session.Disconnect()
//	}
type EventHandler interface {
	// OnResults delivers a result payload from the results channel.
	OnResults(payload json.RawMessage)

	// OnImageError delivers a server-side error for an image payload.
	OnImageError(payload json.RawMessage)

	// OnJSONError delivers a server-side error for a json payload.
	OnJSONError(payload json.RawMessage)

	// OnControlResult delivers an unsolicited control result, one not
	// correlated to an in-flight CallControlCommand.
	OnControlResult(payload json.RawMessage)

	// OnControlError delivers an unsolicited control error.
	OnControlError(payload json.RawMessage)
}

// BaseHandler is a no-op EventHandler. Embed it to implement only the
// callbacks a session cares about.
type BaseHandler struct{}

func (BaseHandler) OnResults(json.RawMessage)       {}
func (BaseHandler) OnImageError(json.RawMessage)    {}
func (BaseHandler) OnJSONError(json.RawMessage)     {}
func (BaseHandler) OnControlResult(json.RawMessage) {}
func (BaseHandler) OnControlError(json.RawMessage)  {}
