package signal

import (
	"encoding/json"

	"github.com/vulcan-relay/vulcan-relay/internal/gqlshape"
	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/relayerr"
	"github.com/vulcan-relay/vulcan-relay/internal/room"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
	"github.com/vulcan-relay/vulcan-relay/internal/sharedstate"
)

// buildSchema registers every Session operation plus the two broadcast
// subscriptions. Each resolver closes over the bound *session.Session
// and *room.Room for one connection, so one Schema-shaped registry
// describes the contract while the actual instance is rebuilt per
// connection in conn.go.
func buildSchema(state *sharedstate.SharedState, sess *session.Session, r *room.Room) *gqlshape.Schema {
	schema := gqlshape.NewSchema("signal")

	schema.Register(gqlshape.Operation{
		Name: "serverRtpCapabilities", Kind: gqlshape.Query,
		Description: "Returns this Room's Router capabilities.",
		Resolve: func(json.RawMessage) (any, error) {
			return sess.ServerRtpCapabilities()
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "rtpCapabilities", Kind: gqlshape.Mutation,
		Description: "Stores the client's negotiated RTP capabilities; must precede consume.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				ClientCapabilities mediaengine.RawJSON `json:"clientCapabilities"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode rtpCapabilities variables", err)
			}
			return true, sess.RtpCapabilities(v.ClientCapabilities)
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "createWebRtcTransport", Kind: gqlshape.Mutation,
		Description: "Creates a new WebRTC transport on this session's router.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				Options mediaengine.RawJSON `json:"options"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode createWebRtcTransport variables", err)
			}
			return sess.CreateWebRtcTransport(v.Options)
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "createPlainTransport", Kind: gqlshape.Mutation,
		Description: "Creates a plain-RTP transport, used by the ffmpeg streaming helper.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				Options mediaengine.RawJSON `json:"options"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode createPlainTransport variables", err)
			}
			return sess.CreatePlainTransport(v.Options)
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "connectWebRtcTransport", Kind: gqlshape.Mutation,
		Description: "Finalizes the DTLS handshake for a transport owned by this session.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				TransportId    mediaengine.TransportId `json:"transportId"`
				DtlsParameters mediaengine.RawJSON     `json:"dtlsParameters"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode connectWebRtcTransport variables", err)
			}
			id, err := sess.ConnectWebRtcTransport(v.TransportId, v.DtlsParameters)
			if err != nil {
				return nil, err
			}
			return transportIdResult{TransportId: id}, nil
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "produce", Kind: gqlshape.Mutation,
		Description: "Publishes a media track. Vulcast-only.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				TransportId   mediaengine.TransportId `json:"transportId"`
				Kind          mediaengine.Kind        `json:"kind"`
				RtpParameters mediaengine.RawJSON     `json:"rtpParameters"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode produce variables", err)
			}
			id, err := sess.Produce(v.TransportId, v.Kind, v.RtpParameters)
			if err != nil {
				return nil, err
			}
			return producerIdResult{ProducerId: id}, nil
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "producePlain", Kind: gqlshape.Mutation,
		Description: "Publishes a plain-RTP media track. Vulcast-only.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				TransportId   mediaengine.TransportId `json:"transportId"`
				Kind          mediaengine.Kind        `json:"kind"`
				RtpParameters mediaengine.RawJSON     `json:"rtpParameters"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode producePlain variables", err)
			}
			id, err := sess.ProducePlain(v.TransportId, v.Kind, v.RtpParameters)
			if err != nil {
				return nil, err
			}
			return producerIdResult{ProducerId: id}, nil
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "produceData", Kind: gqlshape.Mutation,
		Description: "Publishes the controller-input data channel. WebClient-only.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				TransportId          mediaengine.TransportId `json:"transportId"`
				SctpStreamParameters mediaengine.RawJSON     `json:"sctpStreamParameters"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode produceData variables", err)
			}
			id, err := sess.ProduceData(v.TransportId, v.SctpStreamParameters)
			if err != nil {
				return nil, err
			}
			return dataProducerIdResult{DataProducerId: id}, nil
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "consume", Kind: gqlshape.Mutation,
		Description: "Creates a paused Consumer for a live Producer. WebClient-only.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				TransportId mediaengine.TransportId `json:"transportId"`
				ProducerId  mediaengine.ProducerId  `json:"producerId"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode consume variables", err)
			}
			return sess.Consume(v.TransportId, v.ProducerId, func(id mediaengine.ProducerId) bool {
				return state.LookupProducerOwner(sess.RoomID(), id)
			})
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "consumeData", Kind: gqlshape.Mutation,
		Description: "Creates a DataConsumer for a live DataProducer. Vulcast-only.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				TransportId    mediaengine.TransportId    `json:"transportId"`
				DataProducerId mediaengine.DataProducerId `json:"dataProducerId"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode consumeData variables", err)
			}
			return sess.ConsumeData(v.TransportId, v.DataProducerId, func(id mediaengine.DataProducerId) bool {
				return state.LookupDataProducerOwner(sess.RoomID(), id)
			})
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "consumerResume", Kind: gqlshape.Mutation,
		Description: "Resumes a paused Consumer this session created. Idempotent.",
		Resolve: func(variables json.RawMessage) (any, error) {
			var v struct {
				ConsumerId mediaengine.ConsumerId `json:"consumerId"`
			}
			if err := json.Unmarshal(variables, &v); err != nil {
				return nil, relayerr.Wrap(relayerr.InvalidParameters, "decode consumerResume variables", err)
			}
			return true, sess.ConsumerResume(v.ConsumerId)
		},
	})

	schema.Register(gqlshape.Operation{
		Name: "producerAvailable", Kind: gqlshape.Subscription,
		Description: "Streams ProducerIds as they become available in this session's room; WebClient side.",
	})

	schema.Register(gqlshape.Operation{
		Name: "dataProducerAvailable", Kind: gqlshape.Subscription,
		Description: "Streams DataProducerIds as they become available; Vulcast side.",
	})

	return schema
}

// DumpSchema returns a representative Schema for the schema-dump
// subcommand. No resolver is ever invoked against it; it exists purely
// to enumerate operation names, kinds and descriptions.
func DumpSchema() *gqlshape.Schema {
	return buildSchema(nil, nil, nil)
}

type transportIdResult struct {
	TransportId mediaengine.TransportId `json:"transportId"`
}

type producerIdResult struct {
	ProducerId mediaengine.ProducerId `json:"producerId"`
}

type dataProducerIdResult struct {
	DataProducerId mediaengine.DataProducerId `json:"dataProducerId"`
}
