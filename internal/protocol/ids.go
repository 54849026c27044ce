package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ActorRef identifies an actor or an account. Both share one id space.
type ActorRef uuid.UUID

// ZeroActor is the "no owner" value.
var ZeroActor ActorRef

func NewActorRef() ActorRef {
	return ActorRef(uuid.New())
}

func ParseActorRef(raw string) (ActorRef, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ZeroActor, fmt.Errorf("invalid actor ref %q: %w", raw, err)
	}
	return ActorRef(id), nil
}

func (a ActorRef) IsZero() bool   { return a == ZeroActor }
func (a ActorRef) String() string { return uuid.UUID(a).String() }

func (a ActorRef) MarshalText() ([]byte, error) {
	return uuid.UUID(a).MarshalText()
}

func (a *ActorRef) UnmarshalText(data []byte) error {
	var id uuid.UUID
	if err := id.UnmarshalText(data); err != nil {
		return err
	}
	*a = ActorRef(id)
	return nil
}

// TokenID is a 256-bit unsigned token identifier, unique per hosting actor.
// It is comparable and encodes as a decimal string.
type TokenID struct {
	v uint256.Int
}

func NewTokenID(n uint64) TokenID {
	var t TokenID
	t.v.SetUint64(n)
	return t
}

func ParseTokenID(raw string) (TokenID, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return TokenID{}, fmt.Errorf("invalid token id %q: %w", raw, err)
	}
	return TokenID{v: *v}, nil
}

func (t TokenID) IsZero() bool   { return t.v.IsZero() }
func (t TokenID) String() string { return t.v.Dec() }

// Cmp returns -1, 0 or 1.
func (t TokenID) Cmp(other TokenID) int {
	return t.v.Cmp(&other.v)
}

func (t TokenID) MarshalText() ([]byte, error) {
	return []byte(t.v.Dec()), nil
}

func (t *TokenID) UnmarshalText(data []byte) error {
	parsed, err := ParseTokenID(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TokenRef names a token by its hosting actor and local id.
type TokenRef struct {
	Actor ActorRef `json:"actor"`
	Token TokenID  `json:"token"`
}

// ChildKey identifies a child in a parent's ledger.
type ChildKey = TokenRef

func (k TokenRef) String() string {
	return k.Actor.String() + "/" + k.Token.String()
}

// Less orders refs by actor bytes, then token id.
func (k TokenRef) Less(other TokenRef) bool {
	if c := bytes.Compare(k.Actor[:], other.Actor[:]); c != 0 {
		return c < 0
	}
	return k.Token.Cmp(other.Token) < 0
}

type (
	ResourceID uint8
	PartID     uint32
	SlotID     = PartID
)

// MarshalJSON keeps []ResourceID a JSON array of numbers instead of base64.
func (r ResourceID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(r))), nil
}
