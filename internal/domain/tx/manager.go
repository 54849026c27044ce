package tx

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nestkit/nestkit/internal/protocol"
)

var (
	ErrDuplicateOperation = errors.New("operation already in flight")
	ErrOrphanReply        = errors.New("reply matches no suspended operation")
)

// Manager owns the in-flight operations of one actor and the correlation
// table from outbound message id to operation id.
type Manager struct {
	ttl          time.Duration
	txs          map[uuid.UUID]*Tx
	correlations map[uuid.UUID]uuid.UUID
}

// NewManager creates a manager. A positive ttl gives every Tx a deadline
// relative to its request's SentAt.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:          ttl,
		txs:          map[uuid.UUID]*Tx{},
		correlations: map[uuid.UUID]uuid.UUID{},
	}
}

// OutboundID derives the id of the n-th message sent by an operation.
func OutboundID(operationID uuid.UUID, n int) uuid.UUID {
	return uuid.NewSHA1(operationID, []byte("step-"+strconv.Itoa(n)))
}

// Begin registers the operation started by req. The operation id is the
// request id, so a redelivered request is rejected.
func (m *Manager) Begin(req protocol.Envelope) (*Tx, error) {
	if _, ok := m.txs[req.ID]; ok {
		return nil, ErrDuplicateOperation
	}
	t := &Tx{
		OperationID: req.ID,
		Request:     req,
		State:       StateInitial,
	}
	if m.ttl > 0 {
		t.Deadline = req.SentAt.Add(m.ttl)
	}
	m.txs[req.ID] = t
	return t, nil
}

func (m *Manager) Get(operationID uuid.UUID) (*Tx, bool) {
	t, ok := m.txs[operationID]
	return t, ok
}

// Suspend applies a Suspend outcome to t and returns the outbound message.
// The outcome's carry replaces the saved data.
func (m *Manager) Suspend(t *Tx, o Outcome, at time.Time) (protocol.Envelope, error) {
	if o.Kind != OutcomeSuspend {
		return protocol.Envelope{}, fmt.Errorf("suspend called with %s outcome", o.Kind)
	}
	if t.Outstanding != uuid.Nil {
		return protocol.Envelope{}, protocol.ProtocolViolation("operation %s already waits on %s", t.OperationID, t.Outstanding)
	}
	if !o.Next.IsAwaiting() {
		return protocol.Envelope{}, protocol.ProtocolViolation("state %s does not await a reply", o.Next)
	}
	if o.Target.IsZero() {
		return protocol.Envelope{}, protocol.InvalidInput("cannot send %s to the zero actor", o.Request)
	}
	payload, err := protocol.Encode(o.Payload)
	if err != nil {
		return protocol.Envelope{}, err
	}
	carry, err := protocol.Encode(o.Carry)
	if err != nil {
		return protocol.Envelope{}, err
	}

	id := OutboundID(t.OperationID, t.Suspensions)
	out := protocol.Envelope{
		ID:      id,
		Source:  t.Self(),
		Target:  o.Target,
		Origin:  t.Request.Origin,
		Kind:    o.Request,
		Payload: payload,
		SentAt:  at.UTC(),
	}

	t.Saved = carry
	t.Reply, t.ReplyKind, t.ReplyErr = nil, "", nil
	t.State = o.Next
	t.Outstanding = id
	t.Suspensions++
	m.correlations[id] = t.OperationID
	return out, nil
}

// Resolve consumes a reply. It returns ErrOrphanReply when no operation
// waits for it. A non-nil Tx with an error is a protocol violation that
// the caller must fail; the Tx is no longer waiting.
func (m *Manager) Resolve(reply protocol.Envelope) (*Tx, error) {
	opID, ok := m.correlations[reply.InReplyTo]
	if !ok {
		return nil, ErrOrphanReply
	}
	delete(m.correlations, reply.InReplyTo)
	t, ok := m.txs[opID]
	if !ok {
		return nil, ErrOrphanReply
	}
	t.Outstanding = uuid.Nil

	exp, ok := expectations[t.State]
	if !ok {
		return t, protocol.ProtocolViolation("state %s does not expect a reply", t.State)
	}
	if reply.Kind == protocol.EventError {
		if reply.Error == nil {
			return t, protocol.ProtocolViolation("error reply without error")
		}
		t.Reply, t.ReplyKind, t.ReplyErr = nil, reply.Kind, reply.Error
		t.State = exp.received
		return t, nil
	}
	for _, k := range exp.replies {
		if k == reply.Kind {
			t.Reply, t.ReplyKind, t.ReplyErr = reply.Payload, reply.Kind, nil
			t.State = exp.received
			return t, nil
		}
	}
	return t, protocol.ProtocolViolation("unexpected reply %s in state %s", reply.Kind, t.State)
}

// Finish terminates t and forgets it together with any outstanding
// correlation entry.
func (m *Manager) Finish(t *Tx, err error) {
	if t.Outstanding != uuid.Nil {
		delete(m.correlations, t.Outstanding)
		t.Outstanding = uuid.Nil
	}
	if err != nil {
		t.State = StateFailed
		t.Err = protocol.AsError(err)
	} else {
		t.State = StateCompleted
	}
	delete(m.txs, t.OperationID)
}

// Expired lists operations whose deadline passed at now, oldest first.
func (m *Manager) Expired(now time.Time) []*Tx {
	var out []*Tx
	for _, t := range m.txs {
		if t.Expired(now) {
			out = append(out, t)
		}
	}
	sortTxs(out)
	return out
}

// List returns every in-flight operation ordered by deadline.
func (m *Manager) List() []*Tx {
	out := make([]*Tx, 0, len(m.txs))
	for _, t := range m.txs {
		out = append(out, t)
	}
	sortTxs(out)
	return out
}

func (m *Manager) Len() int          { return len(m.txs) }
func (m *Manager) Correlations() int { return len(m.correlations) }

func sortTxs(txs []*Tx) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Deadline.Equal(txs[j].Deadline) {
			return txs[i].Deadline.Before(txs[j].Deadline)
		}
		return txs[i].OperationID.String() < txs[j].OperationID.String()
	})
}

type managerSnapshot struct {
	TTL time.Duration `json:"ttl"`
	Txs []*Tx         `json:"txs"`
}

// MarshalJSON stores the Tx table; correlations are rebuilt from each
// Tx's outstanding message.
func (m *Manager) MarshalJSON() ([]byte, error) {
	return json.Marshal(managerSnapshot{TTL: m.ttl, Txs: m.List()})
}

func (m *Manager) UnmarshalJSON(data []byte) error {
	var snap managerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if m.ttl == 0 {
		m.ttl = snap.TTL
	}
	m.txs = make(map[uuid.UUID]*Tx, len(snap.Txs))
	m.correlations = map[uuid.UUID]uuid.UUID{}
	for _, t := range snap.Txs {
		m.txs[t.OperationID] = t
		if t.Outstanding != uuid.Nil {
			m.correlations[t.Outstanding] = t.OperationID
		}
	}
	return nil
}
