package tx

import "github.com/nestkit/nestkit/internal/protocol"

// OutcomeKind is the result class of one step.
type OutcomeKind int

const (
	OutcomeSuspend OutcomeKind = iota
	OutcomeDone
	OutcomeFail
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuspend:
		return "suspend"
	case OutcomeDone:
		return "done"
	case OutcomeFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Outcome is what a step function returns.
type Outcome struct {
	Kind OutcomeKind

	// Suspend
	Next    State
	Target  protocol.ActorRef
	Request protocol.Kind
	Payload any
	Carry   any

	// Done
	Reply      protocol.Kind
	ReplyValue any

	// Fail
	Err error
}

// Suspend sends one request to target and waits in next for its reply.
func Suspend(next State, target protocol.ActorRef, kind protocol.Kind, payload, carry any) Outcome {
	return Outcome{Kind: OutcomeSuspend, Next: next, Target: target, Request: kind, Payload: payload, Carry: carry}
}

// Done finishes the operation with a success reply.
func Done(kind protocol.Kind, payload any) Outcome {
	return Outcome{Kind: OutcomeDone, Reply: kind, ReplyValue: payload}
}

// Fail finishes the operation with an error reply.
func Fail(err error) Outcome {
	if err == nil {
		err = protocol.ProtocolViolation("failure without error")
	}
	return Outcome{Kind: OutcomeFail, Err: err}
}
