package actor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/protocol"
)

var (
	ErrStopped      = errors.New("actor system is stopped")
	ErrMailboxFull  = errors.New("mailbox is full")
	ErrUnknownActor = errors.New("actor is not hosted here")
	ErrAlreadyTaken = errors.New("actor ref already registered")
)

// Handler is an aggregate driven by a mailbox. It must not block.
type Handler interface {
	HandleMessage(ctx context.Context, env protocol.Envelope) []protocol.Envelope
}

// Observer sees every reply that leaves the system towards an account.
type Observer func(env protocol.Envelope)

type Options struct {
	MailboxSize    int
	SweepInterval  time.Duration
	ProcessTimeout time.Duration
	Clock          func() time.Time
}

func (o Options) normalized() Options {
	if o.MailboxSize <= 0 {
		o.MailboxSize = 1024
	}
	if o.ProcessTimeout <= 0 {
		o.ProcessTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Stats is the runtime view of one mailbox.
type Stats struct {
	Ref       protocol.ActorRef `json:"ref"`
	Name      string            `json:"name"`
	Processed uint64            `json:"processed"`
	Queued    int               `json:"queued"`
	LastAt    time.Time         `json:"last_at"`
}

// System hosts actors in-process: one goroutine and mailbox per actor, a
// router keyed by ActorRef and a registry of callers waiting for replies.
type System struct {
	opts   Options
	logger zerolog.Logger

	mu        sync.RWMutex
	mailboxes map[protocol.ActorRef]*mailbox
	observers []Observer

	pending sync.Map // request id -> chan protocol.Envelope

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func NewSystem(opts Options, logger zerolog.Logger) *System {
	ctx, cancel := context.WithCancel(context.Background())
	return &System{
		opts:      opts.normalized(),
		logger:    logger.With().Str("component", "actor_system").Logger(),
		mailboxes: map[protocol.ActorRef]*mailbox{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Spawn registers h under ref and starts its message loop.
func (s *System) Spawn(ref protocol.ActorRef, name string, h Handler) error {
	if s.closed.Load() {
		return ErrStopped
	}
	if ref.IsZero() || h == nil {
		return fmt.Errorf("spawn %q: ref and handler are required", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mailboxes[ref]; ok {
		return fmt.Errorf("spawn %q: %w", name, ErrAlreadyTaken)
	}
	m := &mailbox{
		ref:     ref,
		name:    name,
		handler: h,
		inbox:   make(chan item, s.opts.MailboxSize),
	}
	s.mailboxes[ref] = m
	s.wg.Add(1)
	go s.loop(m)
	s.logger.Info().Str("actor", ref.String()).Str("name", name).Msg("actor spawned")
	return nil
}

// Observe registers fn for replies addressed to accounts.
func (s *System) Observe(fn Observer) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *System) lookup(ref protocol.ActorRef) (*mailbox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mailboxes[ref]
	return m, ok
}

// Hosts reports whether ref is served by this system.
func (s *System) Hosts(ref protocol.ActorRef) bool {
	_, ok := s.lookup(ref)
	return ok
}

// Send routes env without waiting. A request to an actor that is not hosted
// is answered with NOT_FOUND on behalf of the missing target.
func (s *System) Send(env protocol.Envelope) error {
	if s.closed.Load() {
		return ErrStopped
	}
	if env.IsReply() {
		if ch, ok := s.pending.LoadAndDelete(env.InReplyTo); ok {
			ch.(chan protocol.Envelope) <- env
			if !s.Hosts(env.Target) {
				s.notify(env)
			}
			return nil
		}
	}
	m, ok := s.lookup(env.Target)
	if !ok {
		if env.IsReply() {
			s.notify(env)
			return nil
		}
		s.logger.Warn().Str("target", env.Target.String()).Str("kind", string(env.Kind)).Msg("request to unknown actor")
		reply := env.ReplyError(protocol.NotFound("actor %s is not hosted here", env.Target), s.opts.Clock())
		if err := s.Send(reply); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", env.Target, ErrUnknownActor)
	}
	return m.push(s.ctx, item{env: env})
}

// Call sends a request and waits for the reply carrying its id.
func (s *System) Call(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	if env.IsReply() {
		return protocol.Envelope{}, errors.New("call expects a request")
	}
	ch := make(chan protocol.Envelope, 1)
	if _, loaded := s.pending.LoadOrStore(env.ID, ch); loaded {
		return protocol.Envelope{}, fmt.Errorf("request %s is already awaited", env.ID)
	}
	defer s.pending.Delete(env.ID)

	if err := s.Send(env); err != nil && !errors.Is(err, ErrUnknownActor) {
		return protocol.Envelope{}, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case <-s.ctx.Done():
		return protocol.Envelope{}, ErrStopped
	}
}

// Exec runs fn on the message loop of ref, between two messages.
func (s *System) Exec(ctx context.Context, ref protocol.ActorRef, fn func(Handler) error) error {
	if s.closed.Load() {
		return ErrStopped
	}
	m, ok := s.lookup(ref)
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrUnknownActor)
	}
	done := make(chan error, 1)
	if err := m.push(ctx, item{exec: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// Sweep asks every actor to fail its operations past their deadline.
func (s *System) Sweep(now time.Time) {
	for _, ref := range s.Actors() {
		env, err := protocol.NewRequest(ref, ref, protocol.ActionSweep, protocol.Sweep{Now: now}, now)
		if err != nil {
			s.logger.Error().Err(err).Msg("build sweep")
			return
		}
		if err := s.Send(env); err != nil {
			s.logger.Warn().Err(err).Str("actor", ref.String()).Msg("sweep not delivered")
		}
	}
}

// Run drives the sweep ticker until ctx ends. It returns immediately when
// no interval is configured.
func (s *System) Run(ctx context.Context) {
	if s.opts.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.opts.Clock())
		}
	}
}

// Actors lists hosted refs in a stable order.
func (s *System) Actors() []protocol.ActorRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.ActorRef, 0, len(s.mailboxes))
	for ref := range s.mailboxes {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *System) Stats() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Stats, 0, len(s.mailboxes))
	for _, m := range s.mailboxes {
		out = append(out, m.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop ends every message loop. Queued messages are discarded; callers
// waiting on them get ErrStopped.
func (s *System) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *System) notify(env protocol.Envelope) {
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(env)
	}
}

func (s *System) loop(m *mailbox) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case it := <-m.inbox:
			s.process(m, it)
		}
	}
}

func (s *System) process(m *mailbox, it item) {
	m.processed.Add(1)
	m.lastAt.Store(s.opts.Clock().UnixNano())
	if it.exec != nil {
		it.done <- it.exec(m.handler)
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ProcessTimeout)
	defer cancel()
	for _, out := range m.handler.HandleMessage(ctx, it.env) {
		if err := s.Send(out); err != nil && !errors.Is(err, ErrUnknownActor) {
			s.logger.Error().Err(err).
				Str("actor", m.ref.String()).
				Str("target", out.Target.String()).
				Str("kind", string(out.Kind)).
				Msg("outbound message lost")
		}
	}
}

type item struct {
	env  protocol.Envelope
	exec func(Handler) error
	done chan error
}

type mailbox struct {
	ref       protocol.ActorRef
	name      string
	handler   Handler
	inbox     chan item
	processed atomic.Uint64
	lastAt    atomic.Int64
}

func (m *mailbox) push(ctx context.Context, it item) error {
	select {
	case m.inbox <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%s: %w", m.ref, ErrMailboxFull)
	}
}

func (m *mailbox) stats() Stats {
	st := Stats{
		Ref:       m.ref,
		Name:      m.name,
		Processed: m.processed.Load(),
		Queued:    len(m.inbox),
	}
	if at := m.lastAt.Load(); at > 0 {
		st.LastAt = time.Unix(0, at).UTC()
	}
	return st
}
