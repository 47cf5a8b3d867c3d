package messaging

import (
	"time"
)

// Kind tags what a message is about.
type Kind string

// Lifecycle events published by a run.
const (
	KindRunStarted         Kind = "run_started"
	KindStepCompleted      Kind = "step_completed"
	KindControllerDisabled Kind = "controller_disabled"
	KindRunStopped         Kind = "run_stopped"
)

// Message represents a communication between participants of a run
type Message struct {
	From      string    // ID of sender
	To        []string  // IDs of recipients (empty means broadcast)
	Kind      Kind      // What Content holds
	Content   any       // The actual message content
	Timestamp time.Time // When the message was sent
}

// RunStarted is the content of a KindRunStarted message.
type RunStarted struct {
	RunID       string
	Controllers []string
}

// StepCompleted is the content of a KindStepCompleted message.
type StepCompleted struct {
	RunID    string
	Step     uint64
	Rewards  map[string]float64 // keyed by controller ID
	Duration time.Duration
}

// ControllerDisabled is the content of a KindControllerDisabled message.
type ControllerDisabled struct {
	RunID        string
	ControllerID string
	Reason       string
}

// RunStopped is the content of a KindRunStopped message.
type RunStopped struct {
	RunID string
	State string
	Steps uint64
	Err   error
}

// Broker handles message routing between participants
type Broker interface {
	// Publish sends a message to specified recipients
	Publish(msg Message) error
	// Subscribe registers a participant to receive messages
	Subscribe(id string, ch chan<- Message) error
	// Unsubscribe removes a participant's subscription
	Unsubscribe(id string) error
}
