package protocol

import "time"

// ChildStatus is the acknowledgement state of a child relationship.
type ChildStatus string

const (
	ChildPending  ChildStatus = "PENDING"
	ChildAccepted ChildStatus = "ACCEPTED"
)

// --- ownership ---

type MintToRootOwner struct {
	Owner ActorRef `json:"owner"`
	Token TokenID  `json:"token"`
}

type MintToNft struct {
	ParentActor ActorRef `json:"parent_actor"`
	ParentToken TokenID  `json:"parent_token"`
	Token       TokenID  `json:"token"`
}

type Transfer struct {
	To    ActorRef `json:"to"`
	Token TokenID  `json:"token"`
}

type TransferToNft struct {
	To          ActorRef `json:"to"`
	Token       TokenID  `json:"token"`
	Destination TokenID  `json:"destination"`
}

type Approve struct {
	To    ActorRef `json:"to"`
	Token TokenID  `json:"token"`
}

type Approval struct {
	RootOwner ActorRef `json:"root_owner"`
	Approved  ActorRef `json:"approved"`
	Token     TokenID  `json:"token"`
}

// RootOwnerQuery asks the hosting actor for the terminal owner of Token.
// Trail lists the tokens already visited by this lookup.
type RootOwnerQuery struct {
	Token TokenID    `json:"token"`
	Trail []TokenRef `json:"trail,omitempty"`
}

type RootOwnerResolved struct {
	Account ActorRef `json:"account"`
}

type Burn struct {
	Token TokenID `json:"token"`
}

type BurnFromParent struct {
	ChildToken TokenID  `json:"child_token"`
	RootOwner  ActorRef `json:"root_owner"`
}

type TokensBurnt struct {
	Tokens []TokenID `json:"tokens"`
}

// --- children ---

type AddChild struct {
	ParentToken TokenID `json:"parent_token"`
	ChildToken  TokenID `json:"child_token"`
}

// ChildOp addresses one child of a parent token. It is the request of
// accept/reject/remove and the payload of the matching events.
type ChildOp struct {
	ParentToken TokenID  `json:"parent_token"`
	ChildActor  ActorRef `json:"child_actor"`
	ChildToken  TokenID  `json:"child_token"`
}

func (c ChildOp) Key() ChildKey {
	return ChildKey{Actor: c.ChildActor, Token: c.ChildToken}
}

type TransferChild struct {
	From       TokenID `json:"from"`
	To         TokenID `json:"to"`
	ChildToken TokenID `json:"child_token"`
}

type ChildTransferred struct {
	From       TokenID     `json:"from"`
	To         TokenID     `json:"to"`
	ChildActor ActorRef    `json:"child_actor"`
	ChildToken TokenID     `json:"child_token"`
	Status     ChildStatus `json:"status"`
}

type BurnChild struct {
	ParentToken TokenID `json:"parent_token"`
	ChildToken  TokenID `json:"child_token"`
}

// --- resources ---

type ResourceKind string

const (
	ResourceBasic    ResourceKind = "BASIC"
	ResourceSlot     ResourceKind = "SLOT"
	ResourceComposed ResourceKind = "COMPOSED"
)

// Resource is a renderable payload. Slot and Composed resources point at a
// catalog (Base).
type Resource struct {
	Kind        ResourceKind `json:"kind"`
	Src         string       `json:"src,omitempty"`
	Thumb       string       `json:"thumb,omitempty"`
	MetadataURI string       `json:"metadata_uri,omitempty"`
	Base        ActorRef     `json:"base"`
	Slot        SlotID       `json:"slot,omitempty"`
	Parts       []PartID     `json:"parts,omitempty"`
}

// Validate checks shape constraints of each resource kind.
func (r Resource) Validate() error {
	switch r.Kind {
	case ResourceBasic:
		return nil
	case ResourceSlot:
		if r.Base.IsZero() {
			return InvalidInput("slot resource requires a base")
		}
		if r.Slot == 0 {
			return InvalidInput("slot resource requires a slot id")
		}
		return nil
	case ResourceComposed:
		if r.Base.IsZero() {
			return InvalidInput("composed resource requires a base")
		}
		return nil
	default:
		return InvalidInput("unknown resource kind %q", r.Kind)
	}
}

type AddResourceEntry struct {
	ID       ResourceID `json:"id"`
	Resource Resource   `json:"resource"`
}

type ResourceEntryAdded struct {
	ID ResourceID `json:"id"`
}

type GetResource struct {
	ID ResourceID `json:"id"`
}

type ResourceFound struct {
	ID       ResourceID `json:"id"`
	Resource Resource   `json:"resource"`
}

type AddPartToResource struct {
	ID   ResourceID `json:"id"`
	Part PartID     `json:"part"`
}

// AddResource proposes resource for token. A non-zero Overwrite replaces
// that active resource once accepted.
type AddResource struct {
	Token     TokenID    `json:"token"`
	Resource  ResourceID `json:"resource"`
	Overwrite ResourceID `json:"overwrite,omitempty"`
}

type ResourceOp struct {
	Token    TokenID    `json:"token"`
	Resource ResourceID `json:"resource"`
}

type SetPriority struct {
	Token      TokenID  `json:"token"`
	Priorities []uint64 `json:"priorities"`
}

// --- equip ---

// Equip is handled by the actor hosting Token (the child). Equippable is
// the parent token whose composed resource receives the slot.
type Equip struct {
	Token              TokenID    `json:"token"`
	Resource           ResourceID `json:"resource"`
	Equippable         TokenRef   `json:"equippable"`
	EquippableResource ResourceID `json:"equippable_resource"`
	Slot               SlotID     `json:"slot,omitempty"`
}

type TokenEquipped struct {
	Token      TokenID    `json:"token"`
	Resource   ResourceID `json:"resource"`
	Slot       SlotID     `json:"slot"`
	Equippable TokenRef   `json:"equippable"`
}

type Unequip struct {
	Token TokenID `json:"token"`
}

// CheckEquippable is sent by the child actor to the parent actor.
type CheckEquippable struct {
	Token      TokenID    `json:"token"`
	ChildToken TokenID    `json:"child_token"`
	Resource   ResourceID `json:"resource"`
	Slot       SlotID     `json:"slot"`
	Base       ActorRef   `json:"base"`
}

type EquippableIsOk struct {
	Token      TokenID `json:"token"`
	ChildToken TokenID `json:"child_token"`
	Slot       SlotID  `json:"slot"`
}

// --- catalog ---

type PartKind string

const (
	PartFixed PartKind = "FIXED"
	PartSlot  PartKind = "SLOT"
)

type Part struct {
	Kind            PartKind   `json:"kind"`
	Z               uint32     `json:"z"`
	MetadataURI     string     `json:"metadata_uri,omitempty"`
	Equippable      []ActorRef `json:"equippable,omitempty"`
	EquippableToAll bool       `json:"equippable_to_all,omitempty"`
}

func (p Part) Validate() error {
	switch p.Kind {
	case PartFixed:
		if len(p.Equippable) > 0 || p.EquippableToAll {
			return InvalidInput("fixed part cannot list equippables")
		}
		return nil
	case PartSlot:
		return nil
	default:
		return InvalidInput("unknown part kind %q", p.Kind)
	}
}

type AddParts struct {
	Parts map[PartID]Part `json:"parts"`
}

type PartIDs struct {
	Parts []PartID `json:"parts"`
}

type EquippableAddresses struct {
	Part        PartID     `json:"part"`
	Collections []ActorRef `json:"collections"`
}

type EquippableAddress struct {
	Part       PartID   `json:"part"`
	Collection ActorRef `json:"collection"`
}

type PartRef struct {
	Part PartID `json:"part"`
}

type PartFound struct {
	Part       PartID `json:"part"`
	Definition Part   `json:"definition"`
}

// --- queries ---

type TokenInfo struct {
	Token TokenID `json:"token"`
}

type TokenView struct {
	Token            TokenID        `json:"token"`
	Owner            ActorRef       `json:"owner"`
	ParentToken      *TokenID       `json:"parent_token,omitempty"`
	Pending          []TokenRef     `json:"pending"`
	Accepted         []TokenRef     `json:"accepted"`
	Approvals        []ActorRef     `json:"approvals"`
	PendingResources []ResourceID   `json:"pending_resources"`
	ActiveResources  []ResourceID   `json:"active_resources"`
	Priorities       []uint64       `json:"priorities"`
	Equipped         *TokenEquipped `json:"equipped,omitempty"`
}

type BalanceOf struct {
	Account ActorRef `json:"account"`
}

type Balance struct {
	Account ActorRef `json:"account"`
	Count   uint64   `json:"count"`
}

type StatsView struct {
	Tokens       int `json:"tokens"`
	InFlight     int `json:"in_flight"`
	Correlations int `json:"correlations"`
	Children     int `json:"children"`
}

type Sweep struct {
	Now time.Time `json:"now"`
}

// RequireToken rejects the zero token id.
func RequireToken(t TokenID) error {
	if t.IsZero() {
		return InvalidInput("token id cannot be zero")
	}
	return nil
}
