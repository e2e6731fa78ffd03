// Package ws exposes the tracker API over JSON frames on a WebSocket, plus
// a few plain HTTP endpoints for push registrations and health.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
	"github.com/wanderers-live/merchant-tracker/internal/hub"
	"github.com/wanderers-live/merchant-tracker/internal/model"
	"github.com/wanderers-live/merchant-tracker/internal/refdata"
	"github.com/wanderers-live/merchant-tracker/internal/service"
)

const (
	maxFramesPerSecond     = 20
	maxDecodeErrorsPerConn = 5
)

// Server wires the tracker service and broadcast hub into the client-facing
// surface. It never resolves identity inside business logic: the caller
// identity is built once per connection at the edge.
type Server struct {
	svc     service.TrackerService
	hub     *hub.Hub
	ref     *refdata.Provider
	signKey []byte
	log     *zap.Logger
}

// New constructs the transport server with injected collaborators.
func New(svc service.TrackerService, h *hub.Hub, ref *refdata.Provider, signKey []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, hub: h, ref: ref, signKey: signKey, log: log}
}

// Handler returns the full HTTP surface with logging and panic recovery applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/ws", websocket.Handler(s.handleConn))
	mux.HandleFunc("/push/", s.handlePush)
	mux.HandleFunc("/client-errors", s.handleClientErrors)
	return Recover(s.log, Logging(s.log, mux))
}

// peer is one connected client: a mutex-guarded JSON encoder plus the
// identity resolved at upgrade time. Implements hub.Conn.
type peer struct {
	mu     sync.Mutex
	enc    *json.Encoder
	caller model.CallerIdentity
}

func (p *peer) writeFrame(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(f)
}

// SendGroupUpdate delivers a broadcast group state to this connection.
func (p *peer) SendGroupUpdate(g *model.MerchantGroup) error {
	return p.writeFrame(Frame{
		Type:    frameUpdate,
		Payload: mustJSON(updatePayload{Group: toGroupDTO(g, p.caller)}),
	})
}

func (s *Server) handleConn(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	req := conn.Request()
	p := &peer{enc: json.NewEncoder(conn)}
	if req != nil {
		p.caller = resolveCaller(req, s.signKey)
	}
	defer s.hub.Drop(p)

	ctx := context.Background()
	if req != nil {
		ctx = req.Context()
	}

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeError(p, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeError(p, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case frameSubscribe:
			s.handleSubscribe(p, frame, true)
		case frameUnsubscribe:
			s.handleSubscribe(p, frame, false)
		case frameReport:
			s.handleReport(ctx, p, frame)
		case frameVote:
			s.handleVote(ctx, p, frame)
		case frameListGroups:
			s.handleListGroups(ctx, p, frame)
		case frameListVotes:
			s.handleListVotes(ctx, p, frame)
		case frameVersion:
			s.handleVersion(p, frame)
		default:
			_ = writeError(p, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func (s *Server) handleSubscribe(p *peer, frame Frame, join bool) {
	var payload serverPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeError(p, frame.RequestID, "INVALID_ARGUMENT", "invalid payload")
		return
	}
	if join {
		// An unknown server acks like a valid one and simply never joins;
		// validation rejections stay invisible on every operation.
		if s.ref.IsValidServer(payload.Server) {
			s.hub.Subscribe(payload.Server, p)
		}
	} else {
		s.hub.Unsubscribe(payload.Server, p)
	}
	_ = writeAck(p, frame.RequestID, nil)
}

func (s *Server) handleReport(ctx context.Context, p *peer, frame Frame) {
	var payload reportPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeError(p, frame.RequestID, "INVALID_ARGUMENT", "invalid payload")
		return
	}

	in := model.SubmissionInput{
		MerchantName: payload.Merchant,
		Zone:         payload.Zone,
		Card:         model.Card{Name: payload.Card.Name, Rarity: model.Rarity(payload.Card.Rarity)},
		Rapport:      model.Rapport{Name: payload.Rapport.Name, Rarity: model.Rarity(payload.Rapport.Rarity)},
	}
	result, err := s.svc.ReportMerchant(ctx, p.caller, payload.Server, in)
	if err != nil {
		s.log.Error("report failed", zap.Error(err))
		_ = writeError(p, frame.RequestID, "INTERNAL", "internal error")
		return
	}
	if result == nil {
		// Rejections are deliberately indistinguishable from success.
		_ = writeAck(p, frame.RequestID, nil)
		return
	}
	if result.MergedVote != nil {
		_ = writeAck(p, frame.RequestID, toVoteDTO(result.MergedVote))
		return
	}
	if result.Hidden {
		// The submitter sees their own submission; nobody else does.
		visible := result.Group.VisibleTo(p.caller)
		_ = p.SendGroupUpdate(&visible)
	}
	_ = writeAck(p, frame.RequestID, nil)
}

func (s *Server) handleVote(ctx context.Context, p *peer, frame Frame) {
	var payload votePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeError(p, frame.RequestID, "INVALID_ARGUMENT", "invalid payload")
		return
	}
	merchantID, err := uuid.FromString(payload.MerchantID)
	if err != nil {
		_ = writeError(p, frame.RequestID, "INVALID_ARGUMENT", "bad merchant id")
		return
	}

	vote, err := s.svc.Vote(ctx, p.caller, payload.Server, merchantID, model.VoteType(payload.VoteType))
	if err != nil {
		s.log.Error("vote failed", zap.Error(err))
		_ = writeError(p, frame.RequestID, "INTERNAL", "internal error")
		return
	}
	_ = writeAck(p, frame.RequestID, toVoteDTO(vote))
}

func (s *Server) handleListGroups(ctx context.Context, p *peer, frame Frame) {
	var payload serverPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeError(p, frame.RequestID, "INVALID_ARGUMENT", "invalid payload")
		return
	}
	groups, err := s.svc.ListActiveGroups(ctx, p.caller, payload.Server)
	if err != nil {
		s.log.Error("list groups failed", zap.Error(err))
		_ = writeError(p, frame.RequestID, "INTERNAL", "internal error")
		return
	}

	out := groupListPayload{Server: payload.Server, Groups: make([]groupDTO, 0, len(groups))}
	for i := range groups {
		out.Groups = append(out.Groups, toGroupDTO(&groups[i], p.caller))
	}
	_ = p.writeFrame(Frame{Type: frameListGroups, RequestID: frame.RequestID, Payload: mustJSON(out)})
}

func (s *Server) handleListVotes(ctx context.Context, p *peer, frame Frame) {
	var payload serverPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeError(p, frame.RequestID, "INVALID_ARGUMENT", "invalid payload")
		return
	}
	votes, err := s.svc.ListVotesForCaller(ctx, p.caller, payload.Server)
	if err != nil {
		s.log.Error("list votes failed", zap.Error(err))
		_ = writeError(p, frame.RequestID, "INTERNAL", "internal error")
		return
	}

	out := voteListPayload{Server: payload.Server, Votes: make([]voteDTO, 0, len(votes))}
	for i := range votes {
		out.Votes = append(out.Votes, *toVoteDTO(&votes[i]))
	}
	_ = p.writeFrame(Frame{Type: frameListVotes, RequestID: frame.RequestID, Payload: mustJSON(out)})
}

func (s *Server) handleVersion(p *peer, frame Frame) {
	var payload versionPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeError(p, frame.RequestID, "INVALID_ARGUMENT", "invalid payload")
		return
	}
	supported := s.svc.CheckClientVersion(payload.Version)
	_ = p.writeFrame(Frame{
		Type:      frameVersion,
		RequestID: frame.RequestID,
		Payload:   mustJSON(versionResult{Supported: supported}),
	})
}

// handlePush serves keyed CRUD on push registrations: GET, PUT and DELETE
// on /push/{token}. Deleting an absent token is success.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/push/")
	if token == "" || strings.Contains(token, "/") {
		http.Error(w, "bad token", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sub, err := s.svc.GetPushSubscription(r.Context(), token)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			s.httpInternal(w, "get push subscription", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":          sub.Token,
			"server":         sub.Server,
			"legendary_only": sub.LegendaryOnly,
		})
	case http.MethodPut:
		var body struct {
			Server        string `json:"server"`
			LegendaryOnly bool   `json:"legendary_only"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		err := s.svc.UpsertPushSubscription(r.Context(), model.PushSubscription{
			Token:         token,
			Server:        body.Server,
			LegendaryOnly: body.LegendaryOnly,
		})
		if err != nil {
			if errors.Is(err, errs.ErrInvalidInput) {
				http.Error(w, "bad subscription", http.StatusBadRequest)
				return
			}
			s.httpInternal(w, "upsert push subscription", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.svc.DeletePushSubscription(r.Context(), token); err != nil {
			s.httpInternal(w, "delete push subscription", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleClientErrors accepts arbitrary error payloads from clients and
// logs them. No core logic depends on this sink.
func (s *Server) handleClientErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<10))
	if err == nil && len(body) > 0 {
		s.log.Info("client error report",
			zap.String("client", HashClientID(r.RemoteAddr)),
			zap.ByteString("payload", body),
		)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) httpInternal(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeAck(p *peer, requestID string, vote *voteDTO) error {
	return p.writeFrame(Frame{
		Type:      frameAck,
		RequestID: requestID,
		Payload:   mustJSON(ackPayload{Status: "ok", Vote: vote}),
	})
}

func writeError(p *peer, requestID, code, message string) error {
	return p.writeFrame(Frame{
		Type:      frameError,
		RequestID: requestID,
		Payload:   mustJSON(errorPayload{Code: code, Message: message}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
