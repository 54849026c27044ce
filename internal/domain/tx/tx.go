package tx

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nestkit/nestkit/internal/protocol"
)

// State is the position of an operation inside its protocol. Awaiting
// states have exactly one outbound message in flight; Received states
// hold the matching reply until the step function consumes it.
type State string

const (
	StateInitial State = "INITIAL"

	StateAwaitingRootOwner    State = "AWAITING_ROOT_OWNER"
	StateRootOwnerReceived    State = "ROOT_OWNER_RECEIVED"
	StateAwaitingNewRootOwner State = "AWAITING_NEW_ROOT_OWNER"
	StateNewRootOwnerReceived State = "NEW_ROOT_OWNER_RECEIVED"

	StateAwaitingAddChild            State = "AWAITING_ADD_CHILD"
	StateAddChildReceived            State = "ADD_CHILD_RECEIVED"
	StateAwaitingAddAcceptedChild    State = "AWAITING_ADD_ACCEPTED_CHILD"
	StateAddAcceptedChildReceived    State = "ADD_ACCEPTED_CHILD_RECEIVED"
	StateAwaitingTransferChild       State = "AWAITING_TRANSFER_CHILD"
	StateTransferChildReceived       State = "TRANSFER_CHILD_RECEIVED"
	StateAwaitingBurnChild           State = "AWAITING_BURN_CHILD"
	StateBurnChildReceived           State = "BURN_CHILD_RECEIVED"
	StateAwaitingBurnFromParent      State = "AWAITING_BURN_FROM_PARENT"
	StateBurnFromParentReceived      State = "BURN_FROM_PARENT_RECEIVED"
	StateAwaitingResourceEntry       State = "AWAITING_RESOURCE_ENTRY"
	StateResourceEntryReceived       State = "RESOURCE_ENTRY_RECEIVED"
	StateAwaitingResource            State = "AWAITING_RESOURCE"
	StateResourceReceived            State = "RESOURCE_RECEIVED"
	StateAwaitingCheckEquippable     State = "AWAITING_CHECK_EQUIPPABLE"
	StateCheckEquippableReceived     State = "CHECK_EQUIPPABLE_RECEIVED"
	StateAwaitingCatalogCheck        State = "AWAITING_CATALOG_CHECK"
	StateCatalogCheckReceived        State = "CATALOG_CHECK_RECEIVED"
	StateAwaitingPart                State = "AWAITING_PART"
	StatePartReceived                State = "PART_RECEIVED"
	StateAwaitingPartAddedToResource State = "AWAITING_PART_ADDED_TO_RESOURCE"
	StatePartAddedToResourceReceived State = "PART_ADDED_TO_RESOURCE_RECEIVED"

	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

type expectation struct {
	received State
	replies  []protocol.Kind
}

var expectations = map[State]expectation{
	StateAwaitingRootOwner:           {StateRootOwnerReceived, []protocol.Kind{protocol.EventRootOwner}},
	StateAwaitingNewRootOwner:        {StateNewRootOwnerReceived, []protocol.Kind{protocol.EventRootOwner}},
	StateAwaitingAddChild:            {StateAddChildReceived, []protocol.Kind{protocol.EventPendingChild}},
	StateAwaitingAddAcceptedChild:    {StateAddAcceptedChildReceived, []protocol.Kind{protocol.EventAcceptedChild, protocol.EventPendingChild}},
	StateAwaitingTransferChild:       {StateTransferChildReceived, []protocol.Kind{protocol.EventChildTransferred}},
	StateAwaitingBurnChild:           {StateBurnChildReceived, []protocol.Kind{protocol.EventChildBurnt}},
	StateAwaitingBurnFromParent:      {StateBurnFromParentReceived, []protocol.Kind{protocol.EventTokensBurnt}},
	StateAwaitingResourceEntry:       {StateResourceEntryReceived, []protocol.Kind{protocol.EventResourceEntryAdded}},
	StateAwaitingResource:            {StateResourceReceived, []protocol.Kind{protocol.EventResource}},
	StateAwaitingCheckEquippable:     {StateCheckEquippableReceived, []protocol.Kind{protocol.EventEquippableIsOk}},
	StateAwaitingCatalogCheck:        {StateCatalogCheckReceived, []protocol.Kind{protocol.EventInEquippableList}},
	StateAwaitingPart:                {StatePartReceived, []protocol.Kind{protocol.EventPart}},
	StateAwaitingPartAddedToResource: {StatePartAddedToResourceReceived, []protocol.Kind{protocol.EventPartAddedToResource}},
}

// IsAwaiting reports whether s has an outbound message in flight.
func (s State) IsAwaiting() bool {
	_, ok := expectations[s]
	return ok
}

// IsTerminal reports whether s ends the operation.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Tx is the continuation record of one logical operation.
type Tx struct {
	OperationID uuid.UUID         `json:"operation_id"`
	Request     protocol.Envelope `json:"request"`
	State       State             `json:"state"`
	Saved       json.RawMessage   `json:"saved,omitempty"`

	// Reply holds the payload of the last consumed reply; ReplyErr is set
	// instead when the collaborator answered with an error.
	Reply     json.RawMessage `json:"reply,omitempty"`
	ReplyKind protocol.Kind   `json:"reply_kind,omitempty"`
	ReplyErr  *protocol.Error `json:"reply_error,omitempty"`

	Outstanding uuid.UUID       `json:"outstanding"`
	Suspensions int             `json:"suspensions"`
	Deadline    time.Time       `json:"deadline"`
	Err         *protocol.Error `json:"error,omitempty"`
}

// Caller is the actor the final reply goes to.
func (t *Tx) Caller() protocol.ActorRef { return t.Request.Source }

// Self is the actor running the operation.
func (t *Tx) Self() protocol.ActorRef { return t.Request.Target }

// Expired reports whether the deadline passed at now.
func (t *Tx) Expired(now time.Time) bool {
	return !t.Deadline.IsZero() && now.After(t.Deadline)
}

// Request decodes the original request payload.
func Request[T any](t *Tx) (T, error) {
	return protocol.DecodePayload[T](t.Request.Payload)
}

// Saved decodes carried data. An empty carry yields the zero value.
func Saved[T any](t *Tx) (T, error) {
	var out T
	if len(t.Saved) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(t.Saved, &out); err != nil {
		return out, protocol.ProtocolViolation("decode saved data: %v", err)
	}
	return out, nil
}

// Reply decodes the consumed reply. A collaborator error is returned as is;
// an undecodable payload is a protocol violation.
func Reply[T any](t *Tx) (T, error) {
	var out T
	if t.ReplyErr != nil {
		return out, t.ReplyErr
	}
	if len(t.Reply) == 0 {
		return out, protocol.ProtocolViolation("no reply in state %s", t.State)
	}
	if err := json.Unmarshal(t.Reply, &out); err != nil {
		return out, protocol.ProtocolViolation("decode %s reply: %v", t.ReplyKind, err)
	}
	return out, nil
}
