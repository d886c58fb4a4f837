package mediaengine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// pionRouter is the pion-backed Router: a private *webrtc.API (already
// configured with the worker's shared SettingEngine/MediaEngine) plus the
// fan-out callbacks Room subscribes to for "new producer" events.
type pionRouter struct {
	api *webrtc.API
	cfg WorkerConfig

	mu                 sync.Mutex
	closed             bool
	transports         map[TransportId]*pionTransport
	newProducerCbs     []func(ProducerId)
	newDataProducerCbs []func(DataProducerId)
}

func newPionRouter(api *webrtc.API, cfg WorkerConfig) *pionRouter {
	return &pionRouter{
		api:        api,
		cfg:        cfg,
		transports: make(map[TransportId]*pionTransport),
	}
}

// rtpCapabilities is a fixed passthrough description of VP8, H264 and
// Opus, a subset of the codecs every Router in this process registers
// (webrtc.MediaEngine.RegisterDefaultCodecs, see worker.go). It is opaque
// to callers.
type rtpCapabilities struct {
	Codecs []rtpCodecCapability `json:"codecs"`
}

type rtpCodecCapability struct {
	Kind      Kind   `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
}

func (r *pionRouter) RtpCapabilities() RawJSON {
	caps := rtpCapabilities{Codecs: []rtpCodecCapability{
		{Kind: KindVideo, MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		{Kind: KindVideo, MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		{Kind: KindAudio, MimeType: webrtc.MimeTypeOpus, ClockRate: 48000},
	}}
	data, _ := json.Marshal(caps)
	return data
}

func (r *pionRouter) CreateWebRtcTransport(options RawJSON) (Transport, error) {
	return r.createTransport(options, false)
}

func (r *pionRouter) CreatePlainTransport(options RawJSON) (Transport, error) {
	return r.createTransport(options, true)
}

func (r *pionRouter) createTransport(options RawJSON, plain bool) (Transport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("router closed")
	}
	r.mu.Unlock()

	pc, err := r.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := newPionTransport(pc, plain, r.onNewProducer, r.onNewDataProducer)

	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()

	t.OnClose(func() {
		r.mu.Lock()
		delete(r.transports, t.id)
		r.mu.Unlock()
	})

	return t, nil
}

func (r *pionRouter) onNewProducer(id ProducerId) {
	r.mu.Lock()
	cbs := append([]func(ProducerId){}, r.newProducerCbs...)
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(id)
	}
}

func (r *pionRouter) onNewDataProducer(id DataProducerId) {
	r.mu.Lock()
	cbs := append([]func(DataProducerId){}, r.newDataProducerCbs...)
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(id)
	}
}

func (r *pionRouter) OnNewProducer(cb func(ProducerId)) {
	r.mu.Lock()
	r.newProducerCbs = append(r.newProducerCbs, cb)
	r.mu.Unlock()
}

func (r *pionRouter) OnNewDataProducer(cb func(DataProducerId)) {
	r.mu.Lock()
	r.newDataProducerCbs = append(r.newDataProducerCbs, cb)
	r.mu.Unlock()
}

// Close closes every Transport the Router still owns. Called by
// SharedState.UnregisterRoom: the Router closing cascades into every
// Transport/Producer/Consumer still open.
func (r *pionRouter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*pionTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}
