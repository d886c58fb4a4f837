// Package control implements the admin GraphQL-over-HTTP surface:
// register/unregister rooms and sessions, issue tokens, query stats. It
// is stateless — every request re-reads SharedState — and wraps its
// handler with a small CORS layer, dispatching through a gqlshape.Schema
// instead of a fixed set of routes.
package control

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/vulcan-relay/vulcan-relay/internal/gqlshape"
	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/relayerr"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
	"github.com/vulcan-relay/vulcan-relay/internal/sharedstate"
)

type Service struct {
	state  *sharedstate.SharedState
	log    *zap.Logger
	schema *gqlshape.Schema
}

func New(state *sharedstate.SharedState, log *zap.Logger) *Service {
	svc := &Service{state: state, log: log, schema: gqlshape.NewSchema("control")}
	svc.registerOperations()
	return svc
}

// Schema exposes the underlying operation registry for the schema-dump
// subcommand.
func (s *Service) Schema() *gqlshape.Schema { return s.schema }

// DumpSchema returns a representative operation registry for the
// schema-dump subcommand. No resolver is ever invoked against it; it
// exists purely to enumerate operation names, kinds and descriptions.
func DumpSchema() *gqlshape.Schema {
	svc := &Service{schema: gqlshape.NewSchema("control")}
	svc.registerOperations()
	return svc.schema
}

type registerRoomVars struct {
	RoomId           session.RoomId       `json:"roomId"`
	VulcastSessionId session.Id           `json:"vulcastSessionId"`
	RtpCodecConfig   mediaengine.RawJSON  `json:"rtpCodecConfig"`
}

type sessionWithToken struct {
	SessionId session.Id    `json:"sessionId"`
	Token     session.Token `json:"token"`
}

type roomResult struct {
	Id session.RoomId `json:"id"`
}

type unregisteredId struct {
	Id string `json:"id"`
}

func (s *Service) registerOperations() {
	s.schema.Register(gqlshape.Operation{
		Name:        "registerRoom",
		Kind:        gqlshape.Mutation,
		Description: "Creates a Room bound to an already-registered Vulcast session, returning the Room's id.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v registerRoomVars
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode registerRoom variables", err)
			}
			if _, err := s.state.RegisterRoom(v.RoomId, v.VulcastSessionId, v.RtpCodecConfig); err != nil {
				return nil, err
			}
			s.log.Info("room registered", zap.String("room_id", v.RoomId), zap.String("vulcast_session_id", v.VulcastSessionId))
			return roomResult{Id: v.RoomId}, nil
		},
	})

	s.schema.Register(gqlshape.Operation{
		Name:        "unregisterRoom",
		Kind:        gqlshape.Mutation,
		Description: "Destroys a Room and forces every bound Session closed.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				RoomId session.RoomId `json:"roomId"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode unregisterRoom variables", err)
			}
			if err := s.state.UnregisterRoom(v.RoomId); err != nil {
				return nil, err
			}
			s.log.Info("room unregistered", zap.String("room_id", v.RoomId))
			return roomResult{Id: v.RoomId}, nil
		},
	})

	s.schema.Register(gqlshape.Operation{
		Name:        "registerVulcastSession",
		Kind:        gqlshape.Mutation,
		Description: "Reserves a Vulcast session id and token, not yet bound to a Room.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				SessionId session.Id `json:"sessionId"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode registerVulcastSession variables", err)
			}
			token, err := s.state.RegisterVulcastSession(v.SessionId)
			if err != nil {
				return nil, err
			}
			s.log.Info("vulcast session registered", zap.String("session_id", v.SessionId))
			return sessionWithToken{SessionId: v.SessionId, Token: token}, nil
		},
	})

	s.schema.Register(gqlshape.Operation{
		Name:        "registerClientSession",
		Kind:        gqlshape.Mutation,
		Description: "Admits a WebClient session into an existing Room, returning its single-use token.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				SessionId session.Id     `json:"sessionId"`
				RoomId    session.RoomId `json:"roomId"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode registerClientSession variables", err)
			}
			token, err := s.state.RegisterClientSession(v.RoomId, v.SessionId)
			if err != nil {
				return nil, err
			}
			s.log.Info("client session registered", zap.String("room_id", v.RoomId), zap.String("session_id", v.SessionId))
			return sessionWithToken{SessionId: v.SessionId, Token: token}, nil
		},
	})

	s.schema.Register(gqlshape.Operation{
		Name:        "unregisterSession",
		Kind:        gqlshape.Mutation,
		Description: "Revokes a session's token and forces its WebSocket to close.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				SessionId session.Id `json:"sessionId"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode unregisterSession variables", err)
			}
			if err := s.state.UnregisterSession(v.SessionId); err != nil {
				return nil, err
			}
			s.log.Info("session unregistered", zap.String("session_id", v.SessionId))
			return unregisteredId{Id: v.SessionId}, nil
		},
	})

	s.schema.Register(gqlshape.Operation{
		Name:        "stats",
		Kind:        gqlshape.Query,
		Description: "Proxies to the Media Engine for every transport/producer/consumer a session owns.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				SessionId session.Id `json:"sessionId"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode stats variables", err)
			}
			sess, ok := s.state.Session(v.SessionId)
			if !ok {
				return nil, relayerr.New(relayerr.NoSuchSession, "session not registered")
			}
			return sess.Stats(), nil
		},
	})
}

// corsHandler allows any origin, method and header.
func corsHandler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method != http.MethodOptions {
			next(w, r)
		}
	}
}

// ServeHTTP decodes a gqlshape.Request body and dispatches it against the
// registered schema.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "control endpoint only accepts POST", http.StatusMethodNotAllowed)
		return
	}

	var req gqlshape.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Warn("decode control request failed", zap.Error(err))
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp := s.schema.Dispatch(req.OperationName, req.Variables)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("encode control response failed", zap.Error(err))
	}
}

// Handler wires ServeHTTP up with CORS, ready to mount on a ServeMux.
func (s *Service) Handler() http.HandlerFunc {
	return corsHandler(s.ServeHTTP)
}
