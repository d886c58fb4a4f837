package session

import (
	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/relayerr"
)

// ServerRtpCapabilities returns the Router's capabilities. Safe to call
// in any connected state.
func (s *Session) ServerRtpCapabilities() (mediaengine.RawJSON, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.router == nil {
		return nil, relayerr.New(relayerr.Internal, "session has no router bound")
	}
	return s.router.RtpCapabilities(), nil
}

// RtpCapabilities stores the client's negotiated capabilities. It is
// idempotent: a second call simply replaces the stored value, and must
// precede any Consume call.
func (s *Session) RtpCapabilities(clientCapabilities mediaengine.RawJSON) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientRtpCapabilities = clientCapabilities
	return nil
}

// CreateWebRtcTransport creates a new Transport on this Session's
// Router. The relay does not cap how many a Session may create.
func (s *Session) CreateWebRtcTransport(options mediaengine.RawJSON) (mediaengine.TransportOptions, error) {
	s.mu.Lock()
	router := s.router
	closed := s.state == StateClosed
	s.mu.Unlock()

	if closed {
		return mediaengine.TransportOptions{}, relayerr.New(relayerr.NoSuchSession, "session is closed")
	}
	if router == nil {
		return mediaengine.TransportOptions{}, relayerr.New(relayerr.Internal, "session has no router bound")
	}

	transport, err := router.CreateWebRtcTransport(options)
	if err != nil {
		return mediaengine.TransportOptions{}, relayerr.Wrap(relayerr.InvalidParameters, "create webrtc transport", err)
	}

	s.mu.Lock()
	s.transports[mediaengine.TransportId(transport.Id())] = transport
	s.mu.Unlock()

	return mediaengine.TransportOptions{Id: mediaengine.TransportId(transport.Id())}, nil
}

// CreatePlainTransport is CreateWebRtcTransport's plain-RTP analogue,
// used by ProducePlain for the ffmpeg streaming helper.
func (s *Session) CreatePlainTransport(options mediaengine.RawJSON) (mediaengine.TransportOptions, error) {
	s.mu.Lock()
	router := s.router
	closed := s.state == StateClosed
	s.mu.Unlock()

	if closed {
		return mediaengine.TransportOptions{}, relayerr.New(relayerr.NoSuchSession, "session is closed")
	}
	if router == nil {
		return mediaengine.TransportOptions{}, relayerr.New(relayerr.Internal, "session has no router bound")
	}

	transport, err := router.CreatePlainTransport(options)
	if err != nil {
		return mediaengine.TransportOptions{}, relayerr.Wrap(relayerr.InvalidParameters, "create plain transport", err)
	}

	s.mu.Lock()
	s.transports[mediaengine.TransportId(transport.Id())] = transport
	s.mu.Unlock()

	return mediaengine.TransportOptions{Id: mediaengine.TransportId(transport.Id())}, nil
}

func (s *Session) lookupTransport(id mediaengine.TransportId) (mediaengine.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transports[id]
	if !ok {
		return nil, relayerr.New(relayerr.NoSuchTransport, "transport not owned by this session")
	}
	return t, nil
}

// ConnectWebRtcTransport finalizes the DTLS handshake for a Transport
// this Session owns. Errors with NoSuchTransport if the id isn't owned
// by this Session, or TransportAlreadyConnected on a second call.
func (s *Session) ConnectWebRtcTransport(transportID mediaengine.TransportId, dtlsParameters mediaengine.RawJSON) (mediaengine.TransportId, error) {
	transport, err := s.lookupTransport(transportID)
	if err != nil {
		return "", err
	}
	if err := transport.Connect(dtlsParameters); err != nil {
		return "", relayerr.Wrap(relayerr.TransportAlreadyConnected, "connect webrtc transport", err)
	}
	return transportID, nil
}

// Produce publishes a media track. Vulcast-only.
func (s *Session) Produce(transportID mediaengine.TransportId, kind mediaengine.Kind, rtpParameters mediaengine.RawJSON) (mediaengine.ProducerId, error) {
	if err := s.requireRole(RoleVulcast); err != nil {
		return "", err
	}
	transport, err := s.lookupTransport(transportID)
	if err != nil {
		return "", err
	}

	producer, err := transport.Produce(kind, rtpParameters)
	if err != nil {
		return "", relayerr.Wrap(relayerr.InvalidParameters, "produce", err)
	}

	s.mu.Lock()
	s.producers[mediaengine.ProducerId(producer.Id())] = producer
	s.mu.Unlock()

	return mediaengine.ProducerId(producer.Id()), nil
}

// ProduceData publishes the controller-input data channel.
// WebClient-only.
func (s *Session) ProduceData(transportID mediaengine.TransportId, sctpStreamParameters mediaengine.RawJSON) (mediaengine.DataProducerId, error) {
	if err := s.requireRole(RoleWebClient); err != nil {
		return "", err
	}
	transport, err := s.lookupTransport(transportID)
	if err != nil {
		return "", err
	}

	dataProducer, err := transport.ProduceData(sctpStreamParameters)
	if err != nil {
		return "", relayerr.Wrap(relayerr.InvalidParameters, "produce data", err)
	}

	s.mu.Lock()
	s.dataProducers[mediaengine.DataProducerId(dataProducer.Id())] = dataProducer
	s.mu.Unlock()

	return mediaengine.DataProducerId(dataProducer.Id()), nil
}

// ProducePlain is Produce's plain-RTP analogue, with the same role rule.
func (s *Session) ProducePlain(transportID mediaengine.TransportId, kind mediaengine.Kind, rtpParameters mediaengine.RawJSON) (mediaengine.ProducerId, error) {
	if err := s.requireRole(RoleVulcast); err != nil {
		return "", err
	}
	transport, err := s.lookupTransport(transportID)
	if err != nil {
		return "", err
	}

	producer, err := transport.Produce(kind, rtpParameters)
	if err != nil {
		return "", relayerr.Wrap(relayerr.InvalidParameters, "produce plain", err)
	}

	s.mu.Lock()
	s.producers[mediaengine.ProducerId(producer.Id())] = producer
	s.mu.Unlock()

	return mediaengine.ProducerId(producer.Id()), nil
}

// ProducerLookup reports whether producerID still names a live Producer
// somewhere in the Room. It is supplied by SharedState since a Producer
// may live on a different Session than the one calling Consume; the
// consuming Transport handles the actual forwarding itself, so only
// liveness matters here.
type ProducerLookup func(mediaengine.ProducerId) bool

// Consume creates a paused Consumer for producerID. Requires a prior
// RtpCapabilities call; WebClient-only. lookupOwnerTransport reports
// whether the Producer is still live, since Consume is called on this
// Session's Transport but the Producer lives on the Vulcast's.
func (s *Session) Consume(transportID mediaengine.TransportId, producerID mediaengine.ProducerId, lookupOwnerTransport ProducerLookup) (mediaengine.ConsumerOptions, error) {
	if err := s.requireRole(RoleWebClient); err != nil {
		return mediaengine.ConsumerOptions{}, err
	}

	s.mu.Lock()
	hasCaps := len(s.clientRtpCapabilities) > 0
	s.mu.Unlock()
	if !hasCaps {
		return mediaengine.ConsumerOptions{}, relayerr.New(relayerr.CannotConsume, "rtpCapabilities must be exchanged before consume")
	}

	transport, err := s.lookupTransport(transportID)
	if err != nil {
		return mediaengine.ConsumerOptions{}, err
	}

	if !lookupOwnerTransport(producerID) {
		return mediaengine.ConsumerOptions{}, relayerr.New(relayerr.NoSuchProducer, "producer does not exist")
	}

	s.mu.Lock()
	caps := s.clientRtpCapabilities
	s.mu.Unlock()

	consumer, err := transport.Consume(producerID, caps)
	if err != nil {
		return mediaengine.ConsumerOptions{}, relayerr.Wrap(relayerr.CannotConsume, "consume", err)
	}

	s.mu.Lock()
	s.consumers[mediaengine.ConsumerId(consumer.Id())] = consumer
	s.mu.Unlock()

	return mediaengine.ConsumerOptions{
		Id:         mediaengine.ConsumerId(consumer.Id()),
		ProducerId: producerID,
		Kind:       consumer.Kind(),
	}, nil
}

// DataProducerLookup is ConsumeData's analogue of ProducerLookup.
type DataProducerLookup func(mediaengine.DataProducerId) bool

// ConsumeData creates a DataConsumer for the given DataProducer.
// Vulcast-only: clients don't consume each other's controller streams.
func (s *Session) ConsumeData(transportID mediaengine.TransportId, dataProducerID mediaengine.DataProducerId, lookupOwnerTransport DataProducerLookup) (mediaengine.DataConsumerOptions, error) {
	if err := s.requireRole(RoleVulcast); err != nil {
		return mediaengine.DataConsumerOptions{}, err
	}

	transport, err := s.lookupTransport(transportID)
	if err != nil {
		return mediaengine.DataConsumerOptions{}, err
	}

	if !lookupOwnerTransport(dataProducerID) {
		return mediaengine.DataConsumerOptions{}, relayerr.New(relayerr.NoSuchProducer, "data producer does not exist")
	}

	dataConsumer, err := transport.ConsumeData(dataProducerID)
	if err != nil {
		return mediaengine.DataConsumerOptions{}, relayerr.Wrap(relayerr.CannotConsume, "consume data", err)
	}

	s.mu.Lock()
	s.dataConsumers[mediaengine.DataConsumerId(dataConsumer.Id())] = dataConsumer
	s.mu.Unlock()

	return mediaengine.DataConsumerOptions{
		Id:             mediaengine.DataConsumerId(dataConsumer.Id()),
		DataProducerId: dataProducerID,
	}, nil
}

// ConsumerResume resumes a Consumer this Session created. Only the
// creating Session may resume it; resuming twice is a successful no-op.
func (s *Session) ConsumerResume(consumerID mediaengine.ConsumerId) error {
	s.mu.Lock()
	consumer, ok := s.consumers[consumerID]
	s.mu.Unlock()
	if !ok {
		return relayerr.New(relayerr.NoSuchConsumer, "consumer not owned by this session")
	}
	return consumer.Resume()
}

// OwnsProducer reports whether this Session created producerID.
// SharedState uses this to resolve a Consume call's ProducerLookup
// across every Session in a Room.
func (s *Session) OwnsProducer(producerID mediaengine.ProducerId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.producers[producerID]
	return ok
}

// OwnsDataProducer is OwnsProducer's analogue for data producers.
func (s *Session) OwnsDataProducer(dataProducerID mediaengine.DataProducerId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dataProducers[dataProducerID]
	return ok
}

// Stats proxies to every media object this Session owns.
func (s *Session) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	transports := make([]string, 0, len(s.transports))
	for id := range s.transports {
		transports = append(transports, string(id))
	}
	producers := make([]string, 0, len(s.producers))
	for id := range s.producers {
		producers = append(producers, string(id))
	}
	consumers := make([]string, 0, len(s.consumers))
	for id := range s.consumers {
		consumers = append(consumers, string(id))
	}
	dataProducers := make([]string, 0, len(s.dataProducers))
	for id := range s.dataProducers {
		dataProducers = append(dataProducers, string(id))
	}
	dataConsumers := make([]string, 0, len(s.dataConsumers))
	for id := range s.dataConsumers {
		dataConsumers = append(dataConsumers, string(id))
	}

	return map[string]any{
		"transports":    transports,
		"producers":     producers,
		"consumers":     consumers,
		"dataProducers": dataProducers,
		"dataConsumers": dataConsumers,
	}
}
