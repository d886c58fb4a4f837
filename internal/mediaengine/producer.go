package mediaengine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// pionProducer wraps the *webrtc.TrackRemote carrying a published track.
// It exists (and is addressable by id) before the remote track actually
// arrives, since Transport.Produce is called by the Session before pion
// finishes the underlying SDP renegotiation that delivers the track.
type pionProducer struct {
	id   ProducerId
	kind Kind

	mu         sync.Mutex
	remote     *webrtc.TrackRemote
	closed     bool
	onCloseCbs []func()
}

func newPionProducer(kind Kind) *pionProducer {
	return &pionProducer{id: ProducerId(uuid.NewString()), kind: kind}
}

func (p *pionProducer) bind(remote *webrtc.TrackRemote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.remote = remote
}

func (p *pionProducer) Id() string  { return string(p.id) }
func (p *pionProducer) Kind() Kind  { return p.kind }

func (p *pionProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cbs := append([]func(){}, p.onCloseCbs...)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}

func (p *pionProducer) OnClose(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCloseCbs = append(p.onCloseCbs, cb)
}
