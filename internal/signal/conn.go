package signal

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vulcan-relay/vulcan-relay/internal/gqlshape"
	"github.com/vulcan-relay/vulcan-relay/internal/room"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
	"github.com/vulcan-relay/vulcan-relay/internal/sharedstate"
)

// Heartbeat timings for the gorilla/websocket connection: pongWait must
// exceed pingPeriod by a comfortable margin.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// conn is one Signal WebSocket connection. It starts unbound and becomes
// bound to exactly one Session after a successful connection_init: on
// receipt the connection redeems the token and binds the WebSocket
// lifetime 1:1 to the resulting Session.
type conn struct {
	ws    *websocket.Conn
	state *sharedstate.SharedState
	log   *zap.Logger

	send chan []byte

	mu      sync.Mutex
	sess    *session.Session
	room    *room.Room
	schema  *gqlshape.Schema
	subs    map[string]func() // subscription id -> cancel
}

// Serve upgrades the HTTP request and runs the connection until it
// closes. It blocks, so callers run it from the mux handler goroutine;
// readPump runs on that goroutine, writePump on one extra goroutine, and
// each streaming subscription adds one more (see startSubscription).
func Serve(state *sharedstate.SharedState, log *zap.Logger, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("signal upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		ws:    ws,
		state: state,
		log:   log,
		send:  make(chan []byte, 256),
		subs:  make(map[string]func()),
	}

	go c.writePump()
	c.readPump()
}

func (c *conn) readPump() {
	defer c.teardown()

	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendEnvelope(envelope{Type: typeError, Payload: mustMarshal(connectionErrorPayload{Message: "malformed envelope"})})
			continue
		}

		switch env.Type {
		case typeConnectionInit:
			if !c.handleConnectionInit(env.Payload) {
				return
			}
		case typeSubscribe:
			c.handleSubscribe(env.Id, env.Payload)
		case typeComplete:
			c.cancelSubscription(env.Id)
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) sendEnvelope(env envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		// Send buffer full: this connection is not draining; writePump's
		// own deadline-based write failure will close it shortly.
	}
}

// handleConnectionInit performs redeem_token and binds the connection to
// its Session. Returns false if the connection must be dropped: a
// missing or invalid token closes the WebSocket with a GraphQL
// connection-error payload before any operation is accepted.
func (c *conn) handleConnectionInit(payload json.RawMessage) bool {
	var p connectionInitPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Token == "" {
		c.sendEnvelope(envelope{Type: typeConnectionError, Payload: mustMarshal(connectionErrorPayload{Message: "missing token"})})
		return false
	}

	sess, err := c.state.RedeemToken(p.Token)
	if err != nil {
		c.sendEnvelope(envelope{Type: typeConnectionError, Payload: mustMarshal(connectionErrorPayload{Message: err.Error()})})
		return false
	}

	r, ok := c.state.Room(sess.RoomID())
	if !ok {
		c.sendEnvelope(envelope{Type: typeConnectionError, Payload: mustMarshal(connectionErrorPayload{Message: "room no longer exists"})})
		return false
	}

	c.mu.Lock()
	c.sess = sess
	c.room = r
	c.schema = buildSchema(c.state, sess, r)
	c.mu.Unlock()

	sess.OnClose(func() { _ = c.ws.Close() })

	c.log.Info("signal connection bound", zap.String("session_id", sess.Id()), zap.String("role", string(sess.Role())))
	c.sendEnvelope(envelope{Type: typeConnectionAck})
	return true
}

// teardown runs when the WebSocket closes for any reason. It only drops
// the connection back to Registered with its token intact, closing
// whatever media objects this connection's Session owned — it never
// unregisters the Session or revokes its token. A dropped socket can
// reconnect later with the same token; only the Control plane's
// unregisterSession/unregisterRoom permanently revoke one.
func (c *conn) teardown() {
	c.mu.Lock()
	sess := c.sess
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	close(c.send)

	if sess != nil {
		if err := sess.Disconnect(); err != nil {
			c.log.Warn("session disconnect failed", zap.String("session_id", sess.Id()), zap.Error(err))
		}
	}
}

// handleSubscribe dispatches one subscribe frame. Query/Mutation
// operations resolve once and reply next+complete; Subscription
// operations stream until the client completes or the room closes.
func (c *conn) handleSubscribe(id string, payload json.RawMessage) {
	c.mu.Lock()
	schema := c.schema
	r := c.room
	sess := c.sess
	c.mu.Unlock()

	if schema == nil || sess == nil {
		c.sendEnvelope(envelope{Id: id, Type: typeError, Payload: mustMarshal(connectionErrorPayload{Message: "connection_init required before any operation"})})
		return
	}

	var sub subscribePayload
	if err := json.Unmarshal(payload, &sub); err != nil {
		c.sendEnvelope(envelope{Id: id, Type: typeError, Payload: mustMarshal(connectionErrorPayload{Message: "malformed subscribe payload"})})
		return
	}

	op, ok := schema.Lookup(sub.OperationName)
	if !ok {
		c.sendEnvelope(envelope{Id: id, Type: typeError, Payload: mustMarshal(connectionErrorPayload{Message: "unknown operation"})})
		return
	}

	if op.Kind != gqlshape.Subscription {
		resp := schema.Dispatch(sub.OperationName, sub.Variables)
		c.sendEnvelope(envelope{Id: id, Type: typeNext, Payload: mustMarshal(resp)})
		c.sendEnvelope(envelope{Id: id, Type: typeComplete})
		return
	}

	c.startSubscription(id, sub.OperationName, r)
}

// startSubscription wires one of the two Room broadcast streams into
// next-frame delivery, honoring the drain-the-current-live-set-then-
// forward-new-events ordering guarantee Room already provides.
func (c *conn) startSubscription(id, operationName string, r *room.Room) {
	switch operationName {
	case "producerAvailable":
		ch, cancel := r.SubscribeProducers()
		c.registerSubscription(id, cancel)
		go func() {
			for producerID := range ch {
				c.sendEnvelope(envelope{Id: id, Type: typeNext, Payload: mustMarshal(producerIdResult{ProducerId: producerID})})
			}
			c.sendEnvelope(envelope{Id: id, Type: typeComplete})
		}()
	case "dataProducerAvailable":
		ch, cancel := r.SubscribeDataProducers()
		c.registerSubscription(id, cancel)
		go func() {
			for dataProducerID := range ch {
				c.sendEnvelope(envelope{Id: id, Type: typeNext, Payload: mustMarshal(dataProducerIdResult{DataProducerId: dataProducerID})})
			}
			c.sendEnvelope(envelope{Id: id, Type: typeComplete})
		}()
	default:
		c.sendEnvelope(envelope{Id: id, Type: typeError, Payload: mustMarshal(connectionErrorPayload{Message: "unknown subscription"})})
	}
}

func (c *conn) registerSubscription(id string, cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		cancel()
		return
	}
	if existing, ok := c.subs[id]; ok {
		existing()
	}
	c.subs[id] = cancel
}

func (c *conn) cancelSubscription(id string) {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}
