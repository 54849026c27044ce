package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nestkit/nestkit/internal/infrastructure/sse"
	"github.com/nestkit/nestkit/internal/protocol"
)

type messageRequest struct {
	Kind    protocol.Kind   `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"ok":     true,
		"actors": len(s.runtime.Stats()),
	}
	if s.cluster != nil {
		status := s.cluster.Status()
		out["state"] = status.State
		out["leader"] = status.Leader
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) listActors(w http.ResponseWriter, _ *http.Request) {
	stats := s.runtime.Stats()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	respondJSON(w, http.StatusOK, map[string]any{"actors": stats})
}

func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if !protocol.IsAction(req.Kind) || req.Kind == protocol.ActionSweep {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "unsupported kind: "+string(req.Kind), nil)
		return
	}
	s.call(w, r, req.Kind, req.Payload)
}

func (s *Server) getToken(w http.ResponseWriter, r *http.Request) {
	token, err := protocol.ParseTokenID(chi.URLParam(r, "tokenId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid tokenId", nil)
		return
	}
	s.call(w, r, protocol.ActionTokenInfo, protocol.TokenInfo{Token: token})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseActorParam(r, "account")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid account", nil)
		return
	}
	s.call(w, r, protocol.ActionBalanceOf, protocol.BalanceOf{Account: account})
}

func (s *Server) getActorStats(w http.ResponseWriter, r *http.Request) {
	s.call(w, r, protocol.ActionActorStats, nil)
}

// call sends kind to the actor in the path on behalf of the request's
// account and writes the reply.
func (s *Server) call(w http.ResponseWriter, r *http.Request, kind protocol.Kind, payload any) {
	target, err := parseActorParam(r, "actorId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid actorId", nil)
		return
	}
	if !s.runtime.Hosts(target) {
		respondError(w, http.StatusNotFound, string(protocol.CodeNotFound), "actor is not hosted here", nil)
		return
	}
	account, _ := accountFromContext(r.Context())
	env, err := protocol.NewRequest(account, target, kind, payload, s.opts.Clock())
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CallTimeout)
	defer cancel()
	reply, err := s.runtime.Call(ctx, env)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respondError(w, http.StatusGatewayTimeout, string(protocol.CodeTimeout), "no reply before deadline", map[string]any{
				"request_id": env.ID,
			})
			return
		}
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("call failed")
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil)
		return
	}
	if reply.Error != nil {
		extra := map[string]any{"request_id": env.ID}
		if s.cluster != nil && !s.cluster.IsLeader() {
			extra["leader"] = s.cluster.LeaderAddr()
		}
		respondError(w, statusFor(reply.Error.Code), string(reply.Error.Code), reply.Error.Message, extra)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) raftStatus(w http.ResponseWriter, _ *http.Request) {
	if s.cluster == nil {
		respondError(w, http.StatusNotFound, "RAFT_DISABLED", "no replicated actor on this node", nil)
		return
	}
	status := s.cluster.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"node_id":    status.NodeID,
		"raft_addr":  status.Addr,
		"state":      status.State,
		"leader":     status.Leader,
		"is_leader":  s.cluster.IsLeader(),
		"raft_stats": status.Stats,
	})
}

type raftJoinRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
}

func (s *Server) raftJoin(w http.ResponseWriter, r *http.Request) {
	if !s.requireLeader(w) {
		return
	}
	var req raftJoinRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if err := s.cluster.AddVoter(r.Context(), req.NodeID, req.RaftAddr); err != nil {
		s.membershipFailed(w, "JOIN_FAILED", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "OK"})
}

type raftRemoveRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) raftRemove(w http.ResponseWriter, r *http.Request) {
	if !s.requireLeader(w) {
		return
	}
	var req raftRemoveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error(), nil)
		return
	}
	if err := s.cluster.RemoveServer(r.Context(), req.NodeID); err != nil {
		s.membershipFailed(w, "REMOVE_FAILED", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "OK"})
}

func (s *Server) requireLeader(w http.ResponseWriter) bool {
	if s.cluster == nil {
		respondError(w, http.StatusNotFound, "RAFT_DISABLED", "no replicated actor on this node", nil)
		return false
	}
	if !s.cluster.IsLeader() {
		respondError(w, http.StatusConflict, "NOT_LEADER", "submit to leader", map[string]any{
			"leader": s.cluster.LeaderAddr(),
		})
		return false
	}
	return true
}

func (s *Server) membershipFailed(w http.ResponseWriter, code string, err error) {
	if isLeadershipErr(err) {
		respondError(w, http.StatusConflict, "NOT_LEADER", err.Error(), map[string]any{
			"leader": s.cluster.LeaderAddr(),
		})
		return
	}
	respondError(w, http.StatusBadRequest, code, err.Error(), nil)
}

// sseEndpoint streams completed operations. ?account= narrows the stream
// to replies addressed to or originated by one account.
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	account := protocol.ZeroActor
	if raw := r.URL.Query().Get("account"); raw != "" {
		parsed, err := protocol.ParseActorRef(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid account", nil)
			return
		}
		account = parsed
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported", nil)
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	client := sse.NewClient(clientID, account, 0)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, open := <-client.MessageChan:
			if !open || msg == nil {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("event: " + string(msg.Event) + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
