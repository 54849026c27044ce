package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/actor"
	"github.com/nestkit/nestkit/internal/consensus"
	"github.com/nestkit/nestkit/internal/infrastructure/sse"
	"github.com/nestkit/nestkit/internal/protocol"
)

// Runtime is the actor system seen from the gateway.
type Runtime interface {
	Call(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error)
	Hosts(ref protocol.ActorRef) bool
	Stats() []actor.Stats
}

// Cluster is the raft node hosting replicated actors.
type Cluster interface {
	Status() consensus.Status
	IsLeader() bool
	LeaderAddr() string
	AddVoter(ctx context.Context, nodeID, raftAddr string) error
	RemoveServer(ctx context.Context, nodeID string) error
}

type Options struct {
	CallTimeout time.Duration
	Clock       func() time.Time
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	runtime Runtime
	cluster Cluster
	sseHub  *sse.Hub
	opts    Options
	logger  zerolog.Logger
}

// NewServer builds the gateway. cluster may be nil when no actor is
// replicated.
func NewServer(runtime Runtime, cluster Cluster, sseHub *sse.Hub, opts Options, logger zerolog.Logger) *Server {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Server{
		runtime: runtime,
		cluster: cluster,
		sseHub:  sseHub,
		opts:    opts,
		logger:  logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", s.sseEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/actors", s.listActors)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAccount)
				r.Route("/actors/{actorId}", func(r chi.Router) {
					r.Post("/messages", s.submitMessage)
					r.Get("/tokens/{tokenId}", s.getToken)
					r.Get("/balances/{account}", s.getBalance)
					r.Get("/stats", s.getActorStats)
				})
			})

			r.Route("/raft", func(r chi.Router) {
				r.Get("/", s.raftStatus)
				r.Post("/join", s.raftJoin)
				r.Post("/remove", s.raftRemove)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	out := map[string]any{
		"error":   code,
		"message": message,
	}
	for k, v := range extra {
		out[k] = v
	}
	respondJSON(w, status, out)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseActorParam(r *http.Request, key string) (protocol.ActorRef, error) {
	return protocol.ParseActorRef(chi.URLParam(r, key))
}

// statusFor maps a failure code to an HTTP status.
func statusFor(code protocol.Code) int {
	switch code {
	case protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeUnauthorized:
		return http.StatusForbidden
	case protocol.CodeInvalidInput:
		return http.StatusBadRequest
	case protocol.CodeConflict:
		return http.StatusConflict
	case protocol.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func isLeadershipErr(err error) bool {
	return errors.Is(err, raft.ErrNotLeader) ||
		errors.Is(err, raft.ErrLeadershipLost) ||
		errors.Is(err, raft.ErrLeadershipTransferInProgress)
}
