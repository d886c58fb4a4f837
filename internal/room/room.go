// Package room implements the Room aggregate: one Vulcast session, N
// WebClient sessions, the shared media Router, and the two broadcast
// channels (producer_available, data_producer_available) fanning new
// producer ids out to subscribers in creation order.
package room

import (
	"sync"

	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
)

// subscriberBuffer is generous relative to the domain: a Room sees at
// most a handful of producers over its lifetime (one Vulcast publishing
// audio+video, each WebClient publishing one controller-input data
// channel), so a blocking publisher is never a practical concern here.
const subscriberBuffer = 256

// Room owns the Router created at registration and tracks session
// membership by id, never by direct reference, to avoid a reference
// cycle between Room and Session.
type Room struct {
	id     session.RoomId
	router mediaengine.Router

	mu               sync.Mutex
	closed           bool
	vulcastSessionID session.Id
	hasVulcast       bool
	clientSessionIDs map[session.Id]struct{}

	producers     []mediaengine.ProducerId
	dataProducers []mediaengine.DataProducerId

	producerSubs     []chan mediaengine.ProducerId
	dataProducerSubs []chan mediaengine.DataProducerId
}

// New creates a Room around an already-created Router (the registry
// creates the Router before the Room becomes observable) and wires the
// Router's "new producer"/"new data producer" notifications into this
// Room's broadcast channels.
func New(id session.RoomId, router mediaengine.Router, vulcastSessionID session.Id) *Room {
	r := &Room{
		id:               id,
		router:           router,
		vulcastSessionID: vulcastSessionID,
		hasVulcast:       true,
		clientSessionIDs: make(map[session.Id]struct{}),
	}
	router.OnNewProducer(r.publishProducer)
	router.OnNewDataProducer(r.publishDataProducer)
	return r
}

func (r *Room) Id() session.RoomId      { return r.id }
func (r *Room) Router() mediaengine.Router { return r.router }

// VulcastSessionID returns the Room's single Vulcast session id. A Room
// holds at most one.
func (r *Room) VulcastSessionID() (session.Id, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vulcastSessionID, r.hasVulcast
}

// AddClientSession admits a WebClient session id. A WebClient may attach
// before or after the Vulcast is connected.
func (r *Room) AddClientSession(id session.Id) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientSessionIDs[id] = struct{}{}
}

func (r *Room) RemoveClientSession(id session.Id) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clientSessionIDs, id)
}

// ClientSessionIDs returns a snapshot of admitted WebClient session ids.
func (r *Room) ClientSessionIDs() []session.Id {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Id, 0, len(r.clientSessionIDs))
	for id := range r.clientSessionIDs {
		out = append(out, id)
	}
	return out
}

// AllSessionIDs returns the Vulcast id (if any) plus every WebClient id,
// used to cascade teardown: destroying a Room forces every session bound
// to it to terminate.
func (r *Room) AllSessionIDs() []session.Id {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Id, 0, len(r.clientSessionIDs)+1)
	if r.hasVulcast {
		out = append(out, r.vulcastSessionID)
	}
	for id := range r.clientSessionIDs {
		out = append(out, id)
	}
	return out
}

func (r *Room) publishProducer(id mediaengine.ProducerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.producers = append(r.producers, id)
	for _, sub := range r.producerSubs {
		sub <- id
	}
}

func (r *Room) publishDataProducer(id mediaengine.DataProducerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.dataProducers = append(r.dataProducers, id)
	for _, sub := range r.dataProducerSubs {
		sub <- id
	}
}

// SubscribeProducers returns a channel that first replays every
// ProducerId published in this Room so far (in creation order) and then
// streams new ones as they appear. Ids are never dropped from the replay
// set, so the ids of Producers that have since closed are replayed too. The channel is closed when the Room is destroyed, so an
// in-flight subscription ends cleanly rather than blocking forever.
//
// Snapshotting and registering the subscriber happen under the same lock
// publishProducer takes, so no event can be both in the snapshot and
// re-delivered live, and none can be missed between the two.
func (r *Room) SubscribeProducers() (<-chan mediaengine.ProducerId, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan mediaengine.ProducerId, subscriberBuffer+len(r.producers))
	for _, id := range r.producers {
		ch <- id
	}
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	r.producerSubs = append(r.producerSubs, ch)

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.removeProducerSub(ch)
	}
	return ch, unsubscribe
}

func (r *Room) removeProducerSub(ch chan mediaengine.ProducerId) {
	for i, sub := range r.producerSubs {
		if sub == ch {
			r.producerSubs = append(r.producerSubs[:i], r.producerSubs[i+1:]...)
			return
		}
	}
}

// SubscribeDataProducers is SubscribeProducers' analogue for the
// controller-input data channel stream a Vulcast session consumes.
func (r *Room) SubscribeDataProducers() (<-chan mediaengine.DataProducerId, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan mediaengine.DataProducerId, subscriberBuffer+len(r.dataProducers))
	for _, id := range r.dataProducers {
		ch <- id
	}
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	r.dataProducerSubs = append(r.dataProducerSubs, ch)

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.removeDataProducerSub(ch)
	}
	return ch, unsubscribe
}

func (r *Room) removeDataProducerSub(ch chan mediaengine.DataProducerId) {
	for i, sub := range r.dataProducerSubs {
		if sub == ch {
			r.dataProducerSubs = append(r.dataProducerSubs[:i], r.dataProducerSubs[i+1:]...)
			return
		}
	}
}

// HasLiveProducer reports whether producerID has been published in this
// Room. Ids are not removed when a Producer closes, so this alone does not
// detect a closed Producer; SharedState.LookupProducerOwner, which backs
// Session.Consume's guard, also requires a Session that still owns the
// Producer.
func (r *Room) HasLiveProducer(producerID mediaengine.ProducerId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.producers {
		if id == producerID {
			return true
		}
	}
	return false
}

func (r *Room) HasLiveDataProducer(dataProducerID mediaengine.DataProducerId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.dataProducers {
		if id == dataProducerID {
			return true
		}
	}
	return false
}

// Close destroys the Room: closes the Router (which cascades to every
// Transport/Producer/Consumer still open) and closes every subscriber
// channel so in-flight subscriptions end cleanly.
func (r *Room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	producerSubs := r.producerSubs
	dataProducerSubs := r.dataProducerSubs
	r.producerSubs = nil
	r.dataProducerSubs = nil
	r.mu.Unlock()

	for _, sub := range producerSubs {
		close(sub)
	}
	for _, sub := range dataProducerSubs {
		close(sub)
	}

	return r.router.Close()
}
