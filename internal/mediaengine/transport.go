package mediaengine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// pionTransport wraps one *webrtc.PeerConnection. The relay creates at
// most two "primary" WebRTC transports per Session by convention (the
// count itself is never enforced), plus optional plain transports for
// server-side tooling (the ffmpeg streaming helper).
type pionTransport struct {
	id    TransportId
	pc    *webrtc.PeerConnection
	plain bool

	onNewProducer     func(ProducerId)
	onNewDataProducer func(DataProducerId)

	mu          sync.Mutex
	connected   bool
	closed      bool
	onCloseCbs  []func()
	producers   map[ProducerId]*pionProducer
	consumers   map[ConsumerId]*pionConsumer
	dataProds   map[DataProducerId]*pionDataProducer
	dataConsums map[DataConsumerId]*pionDataConsumer
}

func newPionTransport(pc *webrtc.PeerConnection, plain bool, onNewProducer func(ProducerId), onNewDataProducer func(DataProducerId)) *pionTransport {
	t := &pionTransport{
		id:                TransportId(uuid.NewString()),
		pc:                pc,
		plain:             plain,
		onNewProducer:     onNewProducer,
		onNewDataProducer: onNewDataProducer,
		producers:         make(map[ProducerId]*pionProducer),
		consumers:         make(map[ConsumerId]*pionConsumer),
		dataProds:         make(map[DataProducerId]*pionDataProducer),
		dataConsums:       make(map[DataConsumerId]*pionDataConsumer),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			_ = t.Close()
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.mu.Lock()
		dp := newPionDataProducer(dc)
		t.dataProds[DataProducerId(dp.Id())] = dp
		cb := t.onNewDataProducer
		t.mu.Unlock()
		if cb != nil {
			cb(DataProducerId(dp.Id()))
		}
	})

	return t
}

func (t *pionTransport) Id() string { return string(t.id) }

func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cbs := append([]func(){}, t.onCloseCbs...)
	t.mu.Unlock()

	err := t.pc.Close()
	for _, cb := range cbs {
		cb()
	}
	return err
}

func (t *pionTransport) OnClose(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCloseCbs = append(t.onCloseCbs, cb)
}

// dtlsExchange is the shape the relay stores inside the otherwise-opaque
// dtlsParameters blob, carrying the remote SDP needed to drive the pion
// PeerConnection. Every other field of the blob passes through untouched.
type dtlsExchange struct {
	SDP string `json:"sdp"`
}

// Connect finalizes the DTLS/ICE handshake for this Transport. A
// Transport may only be connected once.
func (t *pionTransport) Connect(dtlsParameters RawJSON) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return fmt.Errorf("transport already connected")
	}
	t.connected = true
	t.mu.Unlock()

	var exch dtlsExchange
	if len(dtlsParameters) > 0 {
		if err := json.Unmarshal(dtlsParameters, &exch); err != nil {
			return fmt.Errorf("unmarshal dtls parameters: %w", err)
		}
	}
	if exch.SDP == "" {
		return nil
	}

	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  exch.SDP,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

// Produce registers a Producer for the next remote track of the given
// kind negotiated on this Transport.
func (t *pionTransport) Produce(kind Kind, rtpParameters RawJSON) (Producer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	p := newPionProducer(kind)
	t.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if Kind(remote.Kind().String()) != kind {
			return
		}
		p.bind(remote)
	})

	t.mu.Lock()
	t.producers[ProducerId(p.Id())] = p
	t.mu.Unlock()
	p.OnClose(func() {
		t.mu.Lock()
		delete(t.producers, ProducerId(p.Id()))
		t.mu.Unlock()
	})

	if cb := t.onNewProducer; cb != nil {
		cb(ProducerId(p.Id()))
	}
	return p, nil
}

// Consume creates a paused Consumer for the given Producer, publishing a
// local track onto this Transport's PeerConnection.
func (t *pionTransport) Consume(producerId ProducerId, rtpCapabilities RawJSON) (Consumer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", string(producerId))
	if err != nil {
		return nil, fmt.Errorf("new track local static rtp: %w", err)
	}
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	c := newPionConsumer(producerId, track, sender, t.pc)
	t.mu.Lock()
	t.consumers[ConsumerId(c.Id())] = c
	t.mu.Unlock()
	c.OnClose(func() {
		t.mu.Lock()
		delete(t.consumers, ConsumerId(c.Id()))
		t.mu.Unlock()
		_ = t.pc.RemoveTrack(sender)
	})

	return c, nil
}

func (t *pionTransport) ProduceData(sctpStreamParameters RawJSON) (DataProducer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	dc, err := t.pc.CreateDataChannel(string(uuid.NewString()), nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	dp := newPionDataProducer(dc)
	t.mu.Lock()
	t.dataProds[DataProducerId(dp.Id())] = dp
	t.mu.Unlock()
	dp.OnClose(func() {
		t.mu.Lock()
		delete(t.dataProds, DataProducerId(dp.Id()))
		t.mu.Unlock()
	})

	if cb := t.onNewDataProducer; cb != nil {
		cb(DataProducerId(dp.Id()))
	}
	return dp, nil
}

// ConsumeData creates a fresh outbound data channel on this Transport,
// labelled with dataProducerId. It performs no lookup of the
// DataProducer itself: the data producer and its consumers live on
// different Transports, and no channel data is copied from the producer's
// channel to this one.
func (t *pionTransport) ConsumeData(dataProducerId DataProducerId) (DataConsumer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	dc, err := t.pc.CreateDataChannel(string(dataProducerId), nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	dcw := newPionDataConsumer(dataProducerId, dc)
	t.mu.Lock()
	t.dataConsums[DataConsumerId(dcw.Id())] = dcw
	t.mu.Unlock()
	dcw.OnClose(func() {
		t.mu.Lock()
		delete(t.dataConsums, DataConsumerId(dcw.Id()))
		t.mu.Unlock()
	})
	return dcw, nil
}
