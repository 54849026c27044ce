package token

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/nestkit/nestkit/internal/protocol"
)

// Record is the ownership of one token. When ParentToken is set, Owner is
// the actor hosting that parent rather than an account.
type Record struct {
	Owner       protocol.ActorRef `json:"owner"`
	ParentToken *protocol.TokenID `json:"parent_token,omitempty"`
}

func OwnedBy(account protocol.ActorRef) Record {
	return Record{Owner: account}
}

func NestedUnder(actor protocol.ActorRef, parent protocol.TokenID) Record {
	p := parent
	return Record{Owner: actor, ParentToken: &p}
}

func (r Record) IsNested() bool { return r.ParentToken != nil }

// Parent returns the parent reference of a nested token.
func (r Record) Parent() (protocol.TokenRef, bool) {
	if r.ParentToken == nil {
		return protocol.TokenRef{}, false
	}
	return protocol.TokenRef{Actor: r.Owner, Token: *r.ParentToken}, true
}

// Store holds ownership records and per-token approvals of one actor.
type Store struct {
	records   map[protocol.TokenID]Record
	approvals map[protocol.TokenID]map[protocol.ActorRef]struct{}
}

func NewStore() *Store {
	return &Store{
		records:   map[protocol.TokenID]Record{},
		approvals: map[protocol.TokenID]map[protocol.ActorRef]struct{}{},
	}
}

func (s *Store) Get(token protocol.TokenID) (Record, bool) {
	r, ok := s.records[token]
	return r, ok
}

// Lookup is Get with a NOT_FOUND error.
func (s *Store) Lookup(token protocol.TokenID) (Record, error) {
	r, ok := s.records[token]
	if !ok {
		return Record{}, protocol.NotFound("token %s does not exist", token)
	}
	return r, nil
}

func (s *Store) Exists(token protocol.TokenID) bool {
	_, ok := s.records[token]
	return ok
}

// Insert creates the record of a freshly minted token.
func (s *Store) Insert(token protocol.TokenID, r Record) error {
	if err := protocol.RequireToken(token); err != nil {
		return err
	}
	if r.Owner.IsZero() {
		return protocol.InvalidInput("owner cannot be zero")
	}
	if _, ok := s.records[token]; ok {
		return protocol.Conflict("token %s already exists", token)
	}
	s.records[token] = r
	return nil
}

// Set replaces the record of an existing token and clears its approvals.
func (s *Store) Set(token protocol.TokenID, r Record) error {
	if r.Owner.IsZero() {
		return protocol.InvalidInput("owner cannot be zero")
	}
	if _, ok := s.records[token]; !ok {
		return protocol.NotFound("token %s does not exist", token)
	}
	s.records[token] = r
	delete(s.approvals, token)
	return nil
}

func (s *Store) Remove(token protocol.TokenID) (Record, bool) {
	r, ok := s.records[token]
	if !ok {
		return Record{}, false
	}
	delete(s.records, token)
	delete(s.approvals, token)
	return r, true
}

func (s *Store) Approve(token protocol.TokenID, account protocol.ActorRef) error {
	if account.IsZero() {
		return protocol.InvalidInput("cannot approve the zero account")
	}
	if _, ok := s.records[token]; !ok {
		return protocol.NotFound("token %s does not exist", token)
	}
	set, ok := s.approvals[token]
	if !ok {
		set = map[protocol.ActorRef]struct{}{}
		s.approvals[token] = set
	}
	set[account] = struct{}{}
	return nil
}

func (s *Store) IsApproved(token protocol.TokenID, account protocol.ActorRef) bool {
	_, ok := s.approvals[token][account]
	return ok
}

// Authorize checks that caller is the root owner or approved for token.
func (s *Store) Authorize(token protocol.TokenID, caller, rootOwner protocol.ActorRef) error {
	if caller == rootOwner || s.IsApproved(token, caller) {
		return nil
	}
	return protocol.Unauthorized("%s is neither root owner nor approved for token %s", caller, token)
}

func (s *Store) Approvals(token protocol.TokenID) []protocol.ActorRef {
	set := s.approvals[token]
	out := make([]protocol.ActorRef, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// BalanceOf counts tokens owned directly by account.
func (s *Store) BalanceOf(account protocol.ActorRef) uint64 {
	var n uint64
	for _, r := range s.records {
		if !r.IsNested() && r.Owner == account {
			n++
		}
	}
	return n
}

func (s *Store) Len() int { return len(s.records) }

type storeSnapshot struct {
	Records   map[protocol.TokenID]Record              `json:"records"`
	Approvals map[protocol.TokenID][]protocol.ActorRef `json:"approvals,omitempty"`
}

func (s *Store) MarshalJSON() ([]byte, error) {
	snap := storeSnapshot{
		Records:   s.records,
		Approvals: make(map[protocol.TokenID][]protocol.ActorRef, len(s.approvals)),
	}
	for token := range s.approvals {
		snap.Approvals[token] = s.Approvals(token)
	}
	return json.Marshal(snap)
}

func (s *Store) UnmarshalJSON(data []byte) error {
	var snap storeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.records = snap.Records
	if s.records == nil {
		s.records = map[protocol.TokenID]Record{}
	}
	s.approvals = map[protocol.TokenID]map[protocol.ActorRef]struct{}{}
	for token, accounts := range snap.Approvals {
		set := make(map[protocol.ActorRef]struct{}, len(accounts))
		for _, a := range accounts {
			set[a] = struct{}{}
		}
		s.approvals[token] = set
	}
	return nil
}
