// Package session implements the per-connection state machine:
// role-gated produce/consume operations, the Unregistered -> Registered
// -> Connected -> Closed lifecycle, and the ordered teardown of owned
// media objects.
package session

import (
	"fmt"
	"sync"

	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/relayerr"
)

// Role is a tagged variant in place of a class hierarchy: the small
// number of role-sensitive operations switch on it directly.
type Role string

const (
	RoleVulcast   Role = "VULCAST"
	RoleWebClient Role = "WEB_CLIENT"
)

// State is the session lifecycle.
type State string

const (
	StateUnregistered State = "UNREGISTERED"
	StateRegistered    State = "REGISTERED"
	StateConnected    State = "CONNECTED"
	StateClosed       State = "CLOSED"
)

// Id, RoomId and Token are plain opaque strings: RoomId and SessionId
// are chosen by the Control caller, Token is randomly generated. They
// are type aliases rather than defined types so every package in this
// module can pass the same identifier around without conversions.
type Id = string
type RoomId = string
type Token = string

// Session is a logical client endpoint. RoomId is a weak backref by id:
// Session never holds a pointer to its Room, only the id, and
// dereferences it through the registry that owns both.
type Session struct {
	mu sync.Mutex

	id     Id
	role   Role
	roomID RoomId
	state  State
	token  Token

	router mediaengine.Router

	routerRtpCapabilities mediaengine.RawJSON
	clientRtpCapabilities mediaengine.RawJSON

	transports    map[mediaengine.TransportId]mediaengine.Transport
	producers     map[mediaengine.ProducerId]mediaengine.Producer
	consumers     map[mediaengine.ConsumerId]mediaengine.Consumer
	dataProducers map[mediaengine.DataProducerId]mediaengine.DataProducer
	dataConsumers map[mediaengine.DataConsumerId]mediaengine.DataConsumer

	onCloseCbs []func()
}

// New constructs a freshly Registered Session, not yet bound to a Room.
// SharedState.RegisterVulcastSession calls this directly; RegisterClient
// Session calls it and then BindRoom immediately, since a WebClient is
// always admitted into an already-existing Room. A Vulcast session, by
// contrast, stays unbound until a later RegisterRoom call references it.
func New(id Id, role Role, token Token) *Session {
	return &Session{
		id:            id,
		role:          role,
		state:         StateRegistered,
		token:         token,
		transports:    make(map[mediaengine.TransportId]mediaengine.Transport),
		producers:     make(map[mediaengine.ProducerId]mediaengine.Producer),
		consumers:     make(map[mediaengine.ConsumerId]mediaengine.Consumer),
		dataProducers: make(map[mediaengine.DataProducerId]mediaengine.DataProducer),
		dataConsumers: make(map[mediaengine.DataConsumerId]mediaengine.DataConsumer),
	}
}

func (s *Session) Id() Id     { return s.id }
func (s *Session) Role() Role { return s.role }

func (s *Session) RoomID() RoomId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Token() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// BindRoom attaches the owning RoomId and its media Router. Called once
// the Room exists: for a Vulcast session, when RegisterRoom references
// it; for a WebClient session, immediately at RegisterClientSession
// since it always targets an existing Room.
func (s *Session) BindRoom(roomID RoomId, router mediaengine.Router) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.router = router
}


// Connect transitions Registered -> Connected, consuming the single-use
// token binding. It fails with AlreadyConnected if the session is
// already Connected, and with InvalidToken if it is Closed or
// Unregistered (RedeemToken in SharedState is the only legitimate
// caller; this guard exists so a stale reference can't resurrect a
// torn-down Session).
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRegistered:
		s.state = StateConnected
		return nil
	case StateConnected:
		return relayerr.New(relayerr.AlreadyConnected, "session already connected")
	default:
		return relayerr.New(relayerr.InvalidToken, "session is not registered")
	}
}

// Disconnect returns a Connected session to Registered with the same
// token: dropping the connection does not forfeit it, so a later
// RedeemToken against the same token reconnects it. Unlike Close, it
// does not invoke the OnClose callbacks or remove the session from
// SharedState/Room membership — only an explicit unregister does that.
// It does close every media object this session currently owns, in the
// same fixed order Close uses, since a dropped socket leaves no way to
// resume those transports.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateRegistered
	items := s.snapshotAndClearMediaObjectsLocked()
	s.mu.Unlock()

	return closeMediaObjects(items)
}

// OnClose registers a callback invoked when Close runs, used by the
// Signal connection bound to this session to close its WebSocket.
func (s *Session) OnClose(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCloseCbs = append(s.onCloseCbs, cb)
}

// Close tears the Session down for good. It is idempotent. Media objects
// close in a fixed order — consumers, producers, data consumers, data
// producers, transports — to suppress spurious "producer closed"
// notifications to already-dead consumers within the same Room.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	items := s.snapshotAndClearMediaObjectsLocked()
	cbs := append([]func(){}, s.onCloseCbs...)
	s.mu.Unlock()

	err := closeMediaObjects(items)

	for _, cb := range cbs {
		cb()
	}
	return err
}

// mediaObjectSnapshot is every media object a Session may own, captured
// at the moment of Close or Disconnect so the owning maps can be reset
// under lock before the (potentially slow) Close calls run outside it.
type mediaObjectSnapshot struct {
	consumers     []mediaengine.Consumer
	producers     []mediaengine.Producer
	dataConsumers []mediaengine.DataConsumer
	dataProducers []mediaengine.DataProducer
	transports    []mediaengine.Transport
}

// snapshotAndClearMediaObjectsLocked must be called with s.mu held. It
// returns every currently owned media object and empties the owning
// maps, so a subsequent Produce/Consume call sees a clean slate.
func (s *Session) snapshotAndClearMediaObjectsLocked() mediaObjectSnapshot {
	items := mediaObjectSnapshot{
		consumers:     valuesC(s.consumers),
		producers:     valuesP(s.producers),
		dataConsumers: valuesDC(s.dataConsumers),
		dataProducers: valuesDP(s.dataProducers),
		transports:    valuesT(s.transports),
	}

	s.consumers = map[mediaengine.ConsumerId]mediaengine.Consumer{}
	s.producers = map[mediaengine.ProducerId]mediaengine.Producer{}
	s.dataConsumers = map[mediaengine.DataConsumerId]mediaengine.DataConsumer{}
	s.dataProducers = map[mediaengine.DataProducerId]mediaengine.DataProducer{}
	s.transports = map[mediaengine.TransportId]mediaengine.Transport{}

	return items
}

// closeMediaObjects closes every item in the fixed teardown order:
// consumers, producers, data consumers, data producers, transports.
func closeMediaObjects(items mediaObjectSnapshot) error {
	var firstErr error
	closeAll := func(items []mediaengine.Closeable) {
		for _, item := range items {
			if err := item.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	closeAll(toCloseable(items.consumers))
	closeAll(toCloseable(items.producers))
	closeAll(toCloseable(items.dataConsumers))
	closeAll(toCloseable(items.dataProducers))
	closeAll(toCloseable(items.transports))
	return firstErr
}

func toCloseable[T mediaengine.Closeable](items []T) []mediaengine.Closeable {
	out := make([]mediaengine.Closeable, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func valuesC(m map[mediaengine.ConsumerId]mediaengine.Consumer) []mediaengine.Consumer {
	out := make([]mediaengine.Consumer, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func valuesP(m map[mediaengine.ProducerId]mediaengine.Producer) []mediaengine.Producer {
	out := make([]mediaengine.Producer, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func valuesDC(m map[mediaengine.DataConsumerId]mediaengine.DataConsumer) []mediaengine.DataConsumer {
	out := make([]mediaengine.DataConsumer, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func valuesDP(m map[mediaengine.DataProducerId]mediaengine.DataProducer) []mediaengine.DataProducer {
	out := make([]mediaengine.DataProducer, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func valuesT(m map[mediaengine.TransportId]mediaengine.Transport) []mediaengine.Transport {
	out := make([]mediaengine.Transport, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// requireRole returns Unauthorized when the session's role doesn't match
// want, leaving state unchanged.
func (s *Session) requireRole(want Role) error {
	if s.role != want {
		return relayerr.New(relayerr.Unauthorized, fmt.Sprintf("operation requires role %s, session is %s", want, s.role))
	}
	return nil
}
