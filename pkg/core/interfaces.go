package core

// ActionSink accepts primitive actions for a body. Implemented by the
// environment; controllers only ever see this narrow view for submission.
type ActionSink interface {
	// SubmitAction buffers an action for the next step and reports whether it
	// was accepted.
	SubmitAction(body Body, action Action) bool
}

