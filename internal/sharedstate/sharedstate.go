// Package sharedstate is the process-wide registry: it owns every Room
// and Session, mints and redeems connection tokens, and enforces two
// ordering rules: a Router exists before its Room becomes observable
// here, and a Session's registry entry is removed before its media
// objects are torn down.
package sharedstate

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/relayerr"
	"github.com/vulcan-relay/vulcan-relay/internal/room"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
)

// SharedState is safe for concurrent use from the Control and Signal
// planes. A single instance is constructed in main and threaded through
// both HTTP services.
type SharedState struct {
	worker mediaengine.Worker

	mu       sync.Mutex
	rooms    map[session.RoomId]*room.Room
	sessions map[session.Id]*session.Session
	tokens   map[session.Token]session.Id
}

// New constructs an empty registry backed by worker, the process' single
// embedded media Worker.
func New(worker mediaengine.Worker) *SharedState {
	return &SharedState{
		worker:   worker,
		rooms:    make(map[session.RoomId]*room.Room),
		sessions: make(map[session.Id]*session.Session),
		tokens:   make(map[session.Token]session.Id),
	}
}

func newToken() session.Token {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// RegisterVulcastSession reserves a Vulcast session id and mints its
// token, not yet bound to any Room. Binding happens implicitly when
// RegisterRoom references it.
func (s *SharedState) RegisterVulcastSession(vulcastSessionID session.Id) (session.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[vulcastSessionID]; exists {
		return "", relayerr.New(relayerr.SessionAlreadyExists, "session id already registered")
	}
	vulcastSession := session.New(vulcastSessionID, session.RoleVulcast, newToken())
	s.sessions[vulcastSessionID] = vulcastSession
	s.tokens[vulcastSession.Token()] = vulcastSessionID
	return vulcastSession.Token(), nil
}

// RegisterRoom creates a Room's Router and binds it to the already
// -registered Vulcast session named by vulcastSessionID, and only then
// inserts the Room into the registry: a Router is fully constructed
// before the Room that owns it becomes observable. vulcastSessionID must
// have been registered via RegisterVulcastSession and not already be
// bound to a Room (enforced via VulcastSessionAlreadyBound); roomID must
// not already be registered.
func (s *SharedState) RegisterRoom(roomID session.RoomId, vulcastSessionID session.Id, rtpCodecConfig mediaengine.RawJSON) (session.Token, error) {
	s.mu.Lock()
	if _, exists := s.rooms[roomID]; exists {
		s.mu.Unlock()
		return "", relayerr.New(relayerr.RoomAlreadyExists, "room already registered")
	}
	vulcastSession, ok := s.sessions[vulcastSessionID]
	if !ok {
		s.mu.Unlock()
		return "", relayerr.New(relayerr.NoSuchSession, "vulcast session not registered")
	}
	if vulcastSession.Role() != session.RoleVulcast {
		s.mu.Unlock()
		return "", relayerr.New(relayerr.VulcastSessionAlreadyBound, "session is not a vulcast session")
	}
	if vulcastSession.RoomID() != "" {
		s.mu.Unlock()
		return "", relayerr.New(relayerr.VulcastSessionAlreadyBound, "vulcast session already bound to a room")
	}
	s.mu.Unlock()

	router, err := s.worker.CreateRouter(rtpCodecConfig)
	if err != nil {
		return "", relayerr.Wrap(relayerr.WorkerCrashed, "create router", err)
	}

	r := room.New(roomID, router, vulcastSessionID)

	s.mu.Lock()
	if _, exists := s.rooms[roomID]; exists {
		s.mu.Unlock()
		_ = r.Close()
		return "", relayerr.New(relayerr.RoomAlreadyExists, "room already registered")
	}
	if vulcastSession.RoomID() != "" {
		s.mu.Unlock()
		_ = r.Close()
		return "", relayerr.New(relayerr.VulcastSessionAlreadyBound, "vulcast session already bound to a room")
	}
	vulcastSession.BindRoom(roomID, router)
	s.rooms[roomID] = r
	s.mu.Unlock()

	return vulcastSession.Token(), nil
}

// UnregisterRoom removes the Room from the registry before closing it,
// which cascades to force-close every bound Session and, through the
// Router, every media object they owned.
func (s *SharedState) UnregisterRoom(roomID session.RoomId) error {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return relayerr.New(relayerr.NoSuchRoom, "room not registered")
	}
	delete(s.rooms, roomID)

	sessionIDs := r.AllSessionIDs()
	sessionsToClose := make([]*session.Session, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if sess, ok := s.sessions[id]; ok {
			delete(s.sessions, id)
			delete(s.tokens, sess.Token())
			sessionsToClose = append(sessionsToClose, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range sessionsToClose {
		_ = sess.Close()
	}
	return r.Close()
}

// RegisterClientSession admits a new WebClient session id into an
// existing Room, minting its single-use token. A WebClient session may
// attach before or after the Vulcast connects.
func (s *SharedState) RegisterClientSession(roomID session.RoomId, clientSessionID session.Id) (session.Token, error) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return "", relayerr.New(relayerr.NoSuchRoom, "room not registered")
	}
	if _, exists := s.sessions[clientSessionID]; exists {
		s.mu.Unlock()
		return "", relayerr.New(relayerr.SessionAlreadyExists, "session id already registered")
	}
	s.mu.Unlock()

	clientSession := session.New(clientSessionID, session.RoleWebClient, newToken())
	clientSession.BindRoom(roomID, r.Router())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[clientSessionID]; exists {
		return "", relayerr.New(relayerr.SessionAlreadyExists, "session id already registered")
	}
	s.sessions[clientSessionID] = clientSession
	s.tokens[clientSession.Token()] = clientSessionID
	r.AddClientSession(clientSessionID)

	return clientSession.Token(), nil
}

// UnregisterSession removes sessionID's registry entries before closing
// the Session, so no new RedeemToken or lookup can observe a
// half-torn-down Session.
func (s *SharedState) UnregisterSession(sessionID session.Id) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return relayerr.New(relayerr.NoSuchSession, "session not registered")
	}
	delete(s.sessions, sessionID)
	delete(s.tokens, sess.Token())
	roomID := sess.RoomID()
	r := s.rooms[roomID]
	s.mu.Unlock()

	if r != nil {
		if sess.Role() == session.RoleWebClient {
			r.RemoveClientSession(sessionID)
		}
	}
	return sess.Close()
}

// RedeemToken looks up the Session bound to token and transitions it to
// Connected. The token itself stays live in the registry across
// reconnects: it is only ever revoked by UnregisterSession or
// UnregisterRoom. This lets a dropped WebSocket reconnect with the same
// token (Session.Disconnect returns it to Registered), while a second
// concurrent redeem against an already-Connected Session fails with
// AlreadyConnected rather than a bogus InvalidToken.
func (s *SharedState) RedeemToken(token session.Token) (*session.Session, error) {
	s.mu.Lock()
	sessionID, ok := s.tokens[token]
	if !ok {
		s.mu.Unlock()
		return nil, relayerr.New(relayerr.InvalidToken, "token not recognized")
	}
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, relayerr.New(relayerr.InvalidToken, "token not recognized")
	}

	if err := sess.Connect(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Session looks up a registered Session by id, in whatever state it is;
// the Control plane's stats operation uses it.
func (s *SharedState) Session(sessionID session.Id) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// Room looks up a Room by id.
func (s *SharedState) Room(roomID session.RoomId) (*room.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	return r, ok
}

// LookupProducerOwner reports whether producerID still names a live
// Producer somewhere in roomID, scanning every Session in the Room.
// Consume calls this indirectly via session.ProducerLookup since a
// Producer lives on the Vulcast's Session, not the subscribing
// WebClient's.
func (s *SharedState) LookupProducerOwner(roomID session.RoomId, producerID mediaengine.ProducerId) bool {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	ids := r.AllSessionIDs()
	sessions := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.sessions[id]; ok {
			sessions = append(sessions, sess)
		}
	}
	s.mu.Unlock()

	if !r.HasLiveProducer(producerID) {
		return false
	}
	for _, sess := range sessions {
		if sess.OwnsProducer(producerID) {
			return true
		}
	}
	return false
}

// LookupDataProducerOwner is LookupProducerOwner's analogue for data
// producers.
func (s *SharedState) LookupDataProducerOwner(roomID session.RoomId, dataProducerID mediaengine.DataProducerId) bool {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	ids := r.AllSessionIDs()
	sessions := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.sessions[id]; ok {
			sessions = append(sessions, sess)
		}
	}
	s.mu.Unlock()

	if !r.HasLiveDataProducer(dataProducerID) {
		return false
	}
	for _, sess := range sessions {
		if sess.OwnsDataProducer(dataProducerID) {
			return true
		}
	}
	return false
}

// NewSessionID mints an opaque id for callers that want the registry to
// choose one, when the Control caller doesn't supply its own.
func NewSessionID() session.Id { return uuid.NewString() }

// Stats returns a process-wide snapshot keyed by room id, then by session
// id, holding each Session's own Stats. The Control plane's stats
// operation reports a single Session's Stats instead.
func (s *SharedState) Stats() map[string]any {
	s.mu.Lock()
	rooms := make(map[session.RoomId]*room.Room, len(s.rooms))
	for id, r := range s.rooms {
		rooms[id] = r
	}
	sessions := make(map[session.Id]*session.Session, len(s.sessions))
	for id, sess := range s.sessions {
		sessions[id] = sess
	}
	s.mu.Unlock()

	out := make(map[string]any, len(rooms))
	for roomID, r := range rooms {
		ids := r.AllSessionIDs()
		sessionStats := make(map[string]any, len(ids))
		for _, id := range ids {
			if sess, ok := sessions[id]; ok {
				sessionStats[id] = sess.Stats()
			}
		}
		out[roomID] = sessionStats
	}
	return out
}
