package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine/mediaenginetest"
	"github.com/vulcan-relay/vulcan-relay/internal/relayerr"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
)

func TestConnectLifecycle(t *testing.T) {
	sess := session.New("v0", session.RoleVulcast, "tok0")
	require.Equal(t, session.StateRegistered, sess.State())

	require.NoError(t, sess.Connect())
	require.Equal(t, session.StateConnected, sess.State())

	err := sess.Connect()
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.AlreadyConnected))
}

func TestDisconnectReturnsToRegistered(t *testing.T) {
	sess := session.New("v0", session.RoleVulcast, "tok0")
	require.NoError(t, sess.Connect())

	require.NoError(t, sess.Disconnect())
	require.Equal(t, session.StateRegistered, sess.State())
	require.Equal(t, session.Token("tok0"), sess.Token())
}

func TestDisconnectIsNoOpWhenNotConnected(t *testing.T) {
	sess := session.New("v0", session.RoleVulcast, "tok0")
	require.NoError(t, sess.Disconnect())
	require.Equal(t, session.StateRegistered, sess.State())
}

// TestDisconnectClosesOwnedMediaObjects confirms a dropped connection
// closes every Transport/Producer/Consumer the session owned, even
// though the Session itself returns to Registered rather than Closed.
func TestDisconnectClosesOwnedMediaObjects(t *testing.T) {
	worker := mediaenginetest.NewWorker()
	rtr, err := worker.CreateRouter(nil)
	require.NoError(t, err)

	sess := session.New("v0", session.RoleVulcast, "tok0")
	sess.BindRoom("r0", rtr)
	require.NoError(t, sess.Connect())

	transportOpts, err := sess.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	_, err = sess.Produce(transportOpts.Id, mediaengine.KindVideo, nil)
	require.NoError(t, err)

	require.NoError(t, sess.Disconnect())
	require.Equal(t, session.StateRegistered, sess.State())

	_, err = sess.ConnectWebRtcTransport(transportOpts.Id, nil)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.NoSuchTransport))
}

func TestConnectAfterCloseFails(t *testing.T) {
	sess := session.New("v0", session.RoleVulcast, "tok0")
	require.NoError(t, sess.Close())

	err := sess.Connect()
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.InvalidToken))
}

func TestCloseIsIdempotent(t *testing.T) {
	sess := session.New("v0", session.RoleVulcast, "tok0")
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	require.Equal(t, session.StateClosed, sess.State())
}

func TestCloseInvokesOnCloseCallbacks(t *testing.T) {
	sess := session.New("c0", session.RoleWebClient, "tok1")

	called := 0
	sess.OnClose(func() { called++ })
	sess.OnClose(func() { called++ })

	require.NoError(t, sess.Close())
	require.Equal(t, 2, called)
}

// TestCloseWithOwnedTransportAndProducer confirms Close succeeds and
// leaves the session Closed when it still owns a Transport and a
// Producer. The teardown order itself is not observed here.
func TestCloseWithOwnedTransportAndProducer(t *testing.T) {
	worker := mediaenginetest.NewWorker()
	rtr, err := worker.CreateRouter(nil)
	require.NoError(t, err)

	sess := session.New("v0", session.RoleVulcast, "tok0")
	sess.BindRoom("r0", rtr)

	transportOpts, err := sess.CreateWebRtcTransport(nil)
	require.NoError(t, err)

	producerID, err := sess.Produce(transportOpts.Id, mediaengine.KindVideo, nil)
	require.NoError(t, err)
	require.NotEmpty(t, producerID)

	require.NoError(t, sess.Close())
	require.Equal(t, session.StateClosed, sess.State())
}

func TestBindRoomAttachesRoomIDAndRouter(t *testing.T) {
	router := &mediaenginetest.Router{}
	sess := session.New("v0", session.RoleVulcast, "tok0")
	require.Equal(t, session.RoomId(""), sess.RoomID())

	sess.BindRoom("r1", router)
	require.Equal(t, session.RoomId("r1"), sess.RoomID())

	caps, err := sess.ServerRtpCapabilities()
	require.NoError(t, err)
	require.Equal(t, router.RtpCapabilities(), caps)
}
