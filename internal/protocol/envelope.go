package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a request (action) or a reply (event).
type Kind string

// Ownership family.
const (
	ActionMintToRootOwner Kind = "MINT_TO_ROOT_OWNER"
	ActionMintToNft       Kind = "MINT_TO_NFT"
	ActionTransfer        Kind = "TRANSFER"
	ActionTransferToNft   Kind = "TRANSFER_TO_NFT"
	ActionApprove         Kind = "APPROVE"
	ActionRootOwner       Kind = "ROOT_OWNER"
	ActionBurn            Kind = "BURN"
	ActionBurnFromParent  Kind = "BURN_FROM_PARENT"
)

// Children family.
const (
	ActionAddChild         Kind = "ADD_CHILD"
	ActionAddAcceptedChild Kind = "ADD_ACCEPTED_CHILD"
	ActionAcceptChild      Kind = "ACCEPT_CHILD"
	ActionRejectChild      Kind = "REJECT_CHILD"
	ActionRemoveChild      Kind = "REMOVE_CHILD"
	ActionTransferChild    Kind = "TRANSFER_CHILD"
	ActionBurnChild        Kind = "BURN_CHILD"
)

// Resources family.
const (
	ActionAddResourceEntry  Kind = "ADD_RESOURCE_ENTRY"
	ActionAddResource       Kind = "ADD_RESOURCE"
	ActionAcceptResource    Kind = "ACCEPT_RESOURCE"
	ActionRejectResource    Kind = "REJECT_RESOURCE"
	ActionSetPriority       Kind = "SET_PRIORITY"
	ActionGetResource       Kind = "GET_RESOURCE"
	ActionAddPartToResource Kind = "ADD_PART_TO_RESOURCE"
)

// Equip family.
const (
	ActionEquip           Kind = "EQUIP"
	ActionUnequip         Kind = "UNEQUIP"
	ActionCheckEquippable Kind = "CHECK_EQUIPPABLE"
)

// Catalog family.
const (
	ActionAddParts                 Kind = "ADD_PARTS"
	ActionRemoveParts              Kind = "REMOVE_PARTS"
	ActionAddEquippableAddresses   Kind = "ADD_EQUIPPABLE_ADDRESSES"
	ActionRemoveEquippableAddress  Kind = "REMOVE_EQUIPPABLE_ADDRESS"
	ActionResetEquippableAddresses Kind = "RESET_EQUIPPABLE_ADDRESSES"
	ActionSetEquippableToAll       Kind = "SET_EQUIPPABLE_TO_ALL"
	ActionCatalogCheckEquippable   Kind = "CATALOG_CHECK_EQUIPPABLE"
	ActionCheckPart                Kind = "CHECK_PART"
)

// Queries and runtime.
const (
	ActionTokenInfo  Kind = "TOKEN_INFO"
	ActionBalanceOf  Kind = "BALANCE_OF"
	ActionActorStats Kind = "ACTOR_STATS"
	ActionSweep      Kind = "SWEEP"
)

// Replies.
const (
	EventMintToRootOwner     Kind = "MINTED_TO_ROOT_OWNER"
	EventMintToNft           Kind = "MINTED_TO_NFT"
	EventTransfer            Kind = "TRANSFERRED"
	EventTransferToNft       Kind = "TRANSFERRED_TO_NFT"
	EventApproval            Kind = "APPROVAL"
	EventRootOwner           Kind = "ROOT_OWNER_RESOLVED"
	EventTokensBurnt         Kind = "TOKENS_BURNT"
	EventPendingChild        Kind = "PENDING_CHILD"
	EventAcceptedChild       Kind = "ACCEPTED_CHILD"
	EventRejectedChild       Kind = "REJECTED_CHILD"
	EventRemovedChild        Kind = "REMOVED_CHILD"
	EventChildTransferred    Kind = "CHILD_TRANSFERRED"
	EventChildBurnt          Kind = "CHILD_BURNT"
	EventResourceEntryAdded  Kind = "RESOURCE_ENTRY_ADDED"
	EventResourceAdded       Kind = "RESOURCE_ADDED"
	EventResourceAccepted    Kind = "RESOURCE_ACCEPTED"
	EventResourceRejected    Kind = "RESOURCE_REJECTED"
	EventPrioritySet         Kind = "PRIORITY_SET"
	EventResource            Kind = "RESOURCE"
	EventPartAddedToResource Kind = "PART_ADDED_TO_RESOURCE"
	EventTokenEquipped       Kind = "TOKEN_EQUIPPED"
	EventTokenUnequipped     Kind = "TOKEN_UNEQUIPPED"
	EventEquippableIsOk      Kind = "EQUIPPABLE_IS_OK"
	EventPartsAdded          Kind = "PARTS_ADDED"
	EventPartsRemoved        Kind = "PARTS_REMOVED"
	EventEquippablesAdded    Kind = "EQUIPPABLES_ADDED"
	EventEquippableRemoved   Kind = "EQUIPPABLE_REMOVED"
	EventEquippablesReset    Kind = "EQUIPPABLES_RESET"
	EventEquippableToAllSet  Kind = "EQUIPPABLE_TO_ALL_SET"
	EventInEquippableList    Kind = "IN_EQUIPPABLE_LIST"
	EventPart                Kind = "PART"
	EventTokenView           Kind = "TOKEN_VIEW"
	EventBalance             Kind = "BALANCE"
	EventStatsView           Kind = "STATS_VIEW"
	EventError               Kind = "ERROR"
)

var actions = map[Kind]struct{}{
	ActionMintToRootOwner: {}, ActionMintToNft: {}, ActionTransfer: {}, ActionTransferToNft: {},
	ActionApprove: {}, ActionRootOwner: {}, ActionBurn: {}, ActionBurnFromParent: {},
	ActionAddChild: {}, ActionAddAcceptedChild: {}, ActionAcceptChild: {}, ActionRejectChild: {},
	ActionRemoveChild: {}, ActionTransferChild: {}, ActionBurnChild: {},
	ActionAddResourceEntry: {}, ActionAddResource: {}, ActionAcceptResource: {}, ActionRejectResource: {},
	ActionSetPriority: {}, ActionGetResource: {}, ActionAddPartToResource: {},
	ActionEquip: {}, ActionUnequip: {}, ActionCheckEquippable: {},
	ActionAddParts: {}, ActionRemoveParts: {}, ActionAddEquippableAddresses: {},
	ActionRemoveEquippableAddress: {}, ActionResetEquippableAddresses: {}, ActionSetEquippableToAll: {},
	ActionCatalogCheckEquippable: {}, ActionCheckPart: {},
	ActionTokenInfo: {}, ActionBalanceOf: {}, ActionActorStats: {}, ActionSweep: {},
}

// IsAction reports whether k is a known request kind.
func IsAction(k Kind) bool {
	_, ok := actions[k]
	return ok
}

// Envelope is one message between actors. Replies set InReplyTo to the
// request id; requests leave it nil.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Source    ActorRef        `json:"source"`
	Target    ActorRef        `json:"target"`
	Origin    ActorRef        `json:"origin"`
	InReplyTo uuid.UUID       `json:"in_reply_to"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

func (e Envelope) IsReply() bool { return e.InReplyTo != uuid.Nil }

// ValidateBasic checks required envelope fields.
func (e Envelope) ValidateBasic() error {
	if e.ID == uuid.Nil {
		return errors.New("id is required")
	}
	if e.Target.IsZero() {
		return errors.New("target is required")
	}
	if e.SentAt.IsZero() {
		return errors.New("sent_at is required")
	}
	if e.IsReply() {
		if e.Kind == EventError && e.Error == nil {
			return errors.New("error reply without error")
		}
		return nil
	}
	if e.Source.IsZero() {
		return errors.New("source is required")
	}
	if !IsAction(e.Kind) {
		return fmt.Errorf("unsupported kind: %s", e.Kind)
	}
	return nil
}

// NewRequest builds a request originated by source.
func NewRequest(source, target ActorRef, kind Kind, payload any, at time.Time) (Envelope, error) {
	raw, err := Encode(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:     uuid.New(),
		Source: source,
		Target: target,
		Origin: source,
		Kind:   kind,
		// payload may be nil for SWEEP and stats queries
		Payload: raw,
		SentAt:  at.UTC(),
	}, nil
}

// ReplyID derives the id of the reply to a request.
func ReplyID(requestID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(requestID, []byte("reply"))
}

// Reply answers e with a success event.
func (e Envelope) Reply(kind Kind, payload any, at time.Time) (Envelope, error) {
	raw, err := Encode(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        ReplyID(e.ID),
		Source:    e.Target,
		Target:    e.Source,
		Origin:    e.Origin,
		InReplyTo: e.ID,
		Kind:      kind,
		Payload:   raw,
		SentAt:    at.UTC(),
	}, nil
}

// ReplyError answers e with a typed failure.
func (e Envelope) ReplyError(err error, at time.Time) Envelope {
	return Envelope{
		ID:        ReplyID(e.ID),
		Source:    e.Target,
		Target:    e.Source,
		Origin:    e.Origin,
		InReplyTo: e.ID,
		Kind:      EventError,
		Error:     AsError(err),
		SentAt:    at.UTC(),
	}
}

// Encode marshals a payload; nil stays nil.
func Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes message payloads.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, InvalidInput("payload is required")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, InvalidInput("decode payload: %v", err)
	}
	return out, nil
}
