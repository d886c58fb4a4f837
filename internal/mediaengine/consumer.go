package mediaengine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// pionConsumer wraps the local track and RTPSender created to forward a
// Producer's media to one subscribing Session. It is created paused;
// Resume is idempotent.
type pionConsumer struct {
	id         ConsumerId
	producerId ProducerId
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	pc         *webrtc.PeerConnection

	mu         sync.Mutex
	paused     bool
	closed     bool
	onCloseCbs []func()
}

func newPionConsumer(producerId ProducerId, track *webrtc.TrackLocalStaticRTP, sender *webrtc.RTPSender, pc *webrtc.PeerConnection) *pionConsumer {
	return &pionConsumer{
		id:         ConsumerId(uuid.NewString()),
		producerId: producerId,
		track:      track,
		sender:     sender,
		pc:         pc,
		paused:     true,
	}
}

func (c *pionConsumer) Id() string           { return string(c.id) }
func (c *pionConsumer) Kind() Kind           { return KindVideo }
func (c *pionConsumer) ProducerId() ProducerId { return c.producerId }

// Resume un-pauses the Consumer. A spurious PictureLossIndication is sent
// so the publisher immediately emits a keyframe for the newly unpaused
// viewer, matching the PLI-on-resume pattern used throughout the pack's
// pion-based relays.
func (c *pionConsumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if !c.paused {
		return nil // idempotent: second resume is a no-op success
	}
	c.paused = false
	if c.pc != nil {
		// Best-effort; the DTLS transport may not be writable yet if the
		// caller resumes before the transport finishes connecting.
		_ = c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{}})
	}
	return nil
}

func (c *pionConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cbs := append([]func(){}, c.onCloseCbs...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}

func (c *pionConsumer) OnClose(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCloseCbs = append(c.onCloseCbs, cb)
}
