package mediaengine

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// pionDataProducer wraps an SCTP data channel publishing controller
// input, either one the local side created via CreateDataChannel
// (Transport.ProduceData) or one that arrived via OnDataChannel from the
// remote peer.
type pionDataProducer struct {
	dc *webrtc.DataChannel

	mu         sync.Mutex
	closed     bool
	onCloseCbs []func()
}

func newPionDataProducer(dc *webrtc.DataChannel) *pionDataProducer {
	p := &pionDataProducer{dc: dc}
	dc.OnClose(func() { _ = p.Close() })
	return p
}

func (p *pionDataProducer) Id() string { return dataChannelId(p.dc) }

func (p *pionDataProducer) Close() error {
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
	return p.dc.Close()
}

func (p *pionDataProducer) OnClose(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCloseCbs = append(p.onCloseCbs, cb)
}

// pionDataConsumer mirrors a DataProducer onto a subscribing Session's
// Transport (Vulcast-only).
type pionDataConsumer struct {
	dataProducerId DataProducerId
	dc             *webrtc.DataChannel

	mu         sync.Mutex
	closed     bool
	onCloseCbs []func()
}

func newPionDataConsumer(dataProducerId DataProducerId, dc *webrtc.DataChannel) *pionDataConsumer {
	c := &pionDataConsumer{dataProducerId: dataProducerId, dc: dc}
	dc.OnClose(func() { _ = c.Close() })
	return c
}

func (c *pionDataConsumer) Id() string                     { return dataChannelId(c.dc) }
func (c *pionDataConsumer) DataProducerId() DataProducerId { return c.dataProducerId }

func (c *pionDataConsumer) Close() error {
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
	return c.dc.Close()
}

func (c *pionDataConsumer) OnClose(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCloseCbs = append(c.onCloseCbs, cb)
}

func dataChannelId(dc *webrtc.DataChannel) string {
	return dc.Label()
}
