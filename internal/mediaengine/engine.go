// Package mediaengine is the narrow façade over the embedded WebRTC
// worker. Only this package imports pion/webrtc; internal/session,
// internal/room and internal/sharedstate consume it exclusively through
// the interfaces below and never inspect codec parameters themselves.
package mediaengine

import (
	"encoding/json"

	"github.com/pion/turn/v3"
)

// Kind distinguishes audio from video media, mirroring pion's
// RTPCodecType without leaking the pion type to callers of this package.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// RawJSON is the passthrough representation of opaque scalars like
// RtpCapabilities, DtlsParameters, RtpParameters and
// SctpStreamParameters. The relay never parses these; it stores and
// forwards the bytes verbatim between the worker and the wire.
type RawJSON = json.RawMessage

// TransportId, ProducerId, ConsumerId, DataProducerId and DataConsumerId
// are opaque values minted by the worker. The core treats them as plain
// strings and never interprets their contents.
type (
	TransportId    string
	ProducerId     string
	ConsumerId     string
	DataProducerId string
	DataConsumerId string
)

// TransportOptions describes a newly created transport in the shape the
// browser-side WebRTC client expects (ICE candidates/parameters, DTLS
// fingerprints), opaque to the core.
type TransportOptions struct {
	Id   TransportId `json:"id"`
	Data RawJSON     `json:"data"`
}

// ConsumerOptions and DataConsumerOptions are returned to the client so it
// can construct its local receiving track / data channel.
type ConsumerOptions struct {
	Id            ConsumerId `json:"id"`
	ProducerId    ProducerId `json:"producerId"`
	Kind          Kind       `json:"kind"`
	RtpParameters RawJSON    `json:"rtpParameters"`
}

type DataConsumerOptions struct {
	Id             DataConsumerId `json:"id"`
	DataProducerId DataProducerId `json:"dataProducerId"`
	Data           RawJSON        `json:"data"`
}

// Closeable is implemented by every media object handle.
type Closeable interface {
	Id() string
	Close() error
	OnClose(func())
}

// Worker creates Routers. One Worker backs the whole process; one Router
// exists per Room.
type Worker interface {
	CreateRouter(rtpCodecConfig RawJSON) (Router, error)

	// StartEmbeddedTURN starts the optional embedded TURN relay bound to
	// listenAddr, used when the operator has no external TURN deployment
	// to point --rtc-announce-ip clients at. Not calling it is fine. Each
	// call opens a new listener and Close stops only the relay started
	// last. The relay is not added to the ICE servers of the Router's
	// PeerConnections, so the candidates they gather are the same whether
	// or not it runs.
	StartEmbeddedTURN(listenAddr string, realm string, authFn turn.AuthHandler) error

	Close() error
}

// Router multiplexes Transports for the Room it belongs to and republishes
// "new producer" / "new data producer" notifications.
type Router interface {
	RtpCapabilities() RawJSON
	CreateWebRtcTransport(options RawJSON) (Transport, error)
	CreatePlainTransport(options RawJSON) (Transport, error)

	// OnNewProducer / OnNewDataProducer register callbacks invoked whenever
	// any Transport owned by this Router produces a new Producer /
	// DataProducer, regardless of which Session created it. Room uses
	// these to drive its broadcast channels.
	OnNewProducer(func(ProducerId))
	OnNewDataProducer(func(DataProducerId))

	Close() error
}

// Transport is a WebRTC or plain-RTP endpoint. Connect may be called at
// most once per Transport; a second call fails.
type Transport interface {
	Closeable
	Connect(dtlsParameters RawJSON) error
	Produce(kind Kind, rtpParameters RawJSON) (Producer, error)
	Consume(producerId ProducerId, rtpCapabilities RawJSON) (Consumer, error)
	ProduceData(sctpStreamParameters RawJSON) (DataProducer, error)
	ConsumeData(dataProducerId DataProducerId) (DataConsumer, error)
}

// Producer is a handle to an outgoing media track.
type Producer interface {
	Closeable
	Kind() Kind
}

// Consumer is a handle to an incoming media track. It is created paused
// and must be explicitly Resume()d.
type Consumer interface {
	Closeable
	Kind() Kind
	ProducerId() ProducerId
	Resume() error
}

// DataProducer / DataConsumer are the SCTP analogues used for
// controller input.
type DataProducer interface {
	Closeable
}

type DataConsumer interface {
	Closeable
	DataProducerId() DataProducerId
}
