package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine/mediaenginetest"
	"github.com/vulcan-relay/vulcan-relay/internal/relayerr"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
)

func newBoundSession(t *testing.T, role session.Role) (*session.Session, mediaengine.Router) {
	t.Helper()
	worker := mediaenginetest.NewWorker()
	router, err := worker.CreateRouter(nil)
	require.NoError(t, err)

	sess := session.New("s0", role, "tok0")
	sess.BindRoom("r0", router)
	return sess, router
}

func TestProduceRequiresVulcastRole(t *testing.T) {
	sess, _ := newBoundSession(t, session.RoleWebClient)
	transport, err := sess.CreateWebRtcTransport(nil)
	require.NoError(t, err)

	_, err = sess.Produce(transport.Id, mediaengine.KindVideo, nil)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.Unauthorized))
}

func TestProduceDataRequiresWebClientRole(t *testing.T) {
	sess, _ := newBoundSession(t, session.RoleVulcast)
	transport, err := sess.CreateWebRtcTransport(nil)
	require.NoError(t, err)

	_, err = sess.ProduceData(transport.Id, nil)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.Unauthorized))
}

func TestConnectWebRtcTransportRejectsUnknownTransport(t *testing.T) {
	sess, _ := newBoundSession(t, session.RoleVulcast)
	_, err := sess.ConnectWebRtcTransport("bogus", nil)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.NoSuchTransport))
}

func TestConnectWebRtcTransportSecondCallFails(t *testing.T) {
	sess, _ := newBoundSession(t, session.RoleVulcast)
	transport, err := sess.CreateWebRtcTransport(nil)
	require.NoError(t, err)

	_, err = sess.ConnectWebRtcTransport(transport.Id, nil)
	require.NoError(t, err)

	_, err = sess.ConnectWebRtcTransport(transport.Id, nil)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.TransportAlreadyConnected))
}

func TestConsumeRequiresRtpCapabilitiesFirst(t *testing.T) {
	vulcast, _ := newBoundSession(t, session.RoleVulcast)
	vTransport, err := vulcast.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	producerID, err := vulcast.Produce(vTransport.Id, mediaengine.KindVideo, nil)
	require.NoError(t, err)

	client, _ := newBoundSession(t, session.RoleWebClient)
	cTransport, err := client.CreateWebRtcTransport(nil)
	require.NoError(t, err)

	lookup := func(id mediaengine.ProducerId) bool { return id == producerID }
	_, err = client.Consume(cTransport.Id, producerID, lookup)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.CannotConsume))
}

func TestConsumeSucceedsAfterRtpCapabilitiesAndLookup(t *testing.T) {
	vulcast, _ := newBoundSession(t, session.RoleVulcast)
	vTransport, err := vulcast.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	producerID, err := vulcast.Produce(vTransport.Id, mediaengine.KindVideo, nil)
	require.NoError(t, err)

	client, _ := newBoundSession(t, session.RoleWebClient)
	require.NoError(t, client.RtpCapabilities(mediaengine.RawJSON(`{"codecs":[]}`)))
	cTransport, err := client.CreateWebRtcTransport(nil)
	require.NoError(t, err)

	lookup := func(id mediaengine.ProducerId) bool { return vulcast.OwnsProducer(id) }
	opts, err := client.Consume(cTransport.Id, producerID, lookup)
	require.NoError(t, err)
	require.Equal(t, producerID, opts.ProducerId)
}

func TestConsumeRejectsDeadProducer(t *testing.T) {
	client, _ := newBoundSession(t, session.RoleWebClient)
	require.NoError(t, client.RtpCapabilities(mediaengine.RawJSON(`{}`)))
	cTransport, err := client.CreateWebRtcTransport(nil)
	require.NoError(t, err)

	lookup := func(mediaengine.ProducerId) bool { return false }
	_, err = client.Consume(cTransport.Id, "gone", lookup)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.NoSuchProducer))
}

func TestConsumerResumeIsIdempotent(t *testing.T) {
	vulcast, _ := newBoundSession(t, session.RoleVulcast)
	vTransport, err := vulcast.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	producerID, err := vulcast.Produce(vTransport.Id, mediaengine.KindVideo, nil)
	require.NoError(t, err)

	client, _ := newBoundSession(t, session.RoleWebClient)
	require.NoError(t, client.RtpCapabilities(mediaengine.RawJSON(`{}`)))
	cTransport, err := client.CreateWebRtcTransport(nil)
	require.NoError(t, err)

	lookup := func(id mediaengine.ProducerId) bool { return vulcast.OwnsProducer(id) }
	opts, err := client.Consume(cTransport.Id, producerID, lookup)
	require.NoError(t, err)

	require.NoError(t, client.ConsumerResume(opts.Id))
	require.NoError(t, client.ConsumerResume(opts.Id))
}

func TestConsumerResumeRejectsUnownedConsumer(t *testing.T) {
	client, _ := newBoundSession(t, session.RoleWebClient)
	err := client.ConsumerResume("not-mine")
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.NoSuchConsumer))
}

func TestOwnsProducerAndOwnsDataProducer(t *testing.T) {
	vulcast, _ := newBoundSession(t, session.RoleVulcast)
	vTransport, err := vulcast.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	producerID, err := vulcast.Produce(vTransport.Id, mediaengine.KindAudio, nil)
	require.NoError(t, err)
	require.True(t, vulcast.OwnsProducer(producerID))
	require.False(t, vulcast.OwnsProducer("other"))

	client, _ := newBoundSession(t, session.RoleWebClient)
	cTransport, err := client.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	dataProducerID, err := client.ProduceData(cTransport.Id, nil)
	require.NoError(t, err)
	require.True(t, client.OwnsDataProducer(dataProducerID))
}

func TestStatsReflectsOwnedObjects(t *testing.T) {
	vulcast, _ := newBoundSession(t, session.RoleVulcast)
	transport, err := vulcast.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	_, err = vulcast.Produce(transport.Id, mediaengine.KindVideo, nil)
	require.NoError(t, err)

	stats := vulcast.Stats()
	require.Len(t, stats["transports"], 1)
	require.Len(t, stats["producers"], 1)
}
