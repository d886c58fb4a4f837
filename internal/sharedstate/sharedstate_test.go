package sharedstate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine/mediaenginetest"
	"github.com/vulcan-relay/vulcan-relay/internal/relayerr"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
	"github.com/vulcan-relay/vulcan-relay/internal/sharedstate"
)

func newTestState() *sharedstate.SharedState {
	return sharedstate.New(mediaenginetest.NewWorker())
}

// TestRegisterRoomTwoPhaseFlow exercises the two-phase registration
// sequence: registerVulcastSession("v0") mints a token before any Room
// exists, then registerRoom("r1","v0") binds that same session into a
// newly created Room.
func TestRegisterRoomTwoPhaseFlow(t *testing.T) {
	state := newTestState()

	vulcastToken, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	require.NotEmpty(t, vulcastToken)

	_, ok := state.Room("r1")
	require.False(t, ok)

	roomToken, err := state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)
	require.Equal(t, vulcastToken, roomToken)

	r, ok := state.Room("r1")
	require.True(t, ok)
	vulcastSessionID, hasVulcast := r.VulcastSessionID()
	require.True(t, hasVulcast)
	require.Equal(t, session.Id("v0"), vulcastSessionID)
}

func TestRegisterRoomRejectsUnknownVulcastSession(t *testing.T) {
	state := newTestState()
	_, err := state.RegisterRoom("r1", "ghost", nil)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.NoSuchSession))
}

func TestRegisterRoomRejectsAlreadyBoundVulcastSession(t *testing.T) {
	state := newTestState()
	_, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)

	_, err = state.RegisterRoom("r2", "v0", nil)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.VulcastSessionAlreadyBound))
}

func TestRegisterRoomRejectsDuplicateRoomID(t *testing.T) {
	state := newTestState()
	_, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)

	_, err = state.RegisterVulcastSession("v1")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v1", nil)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.RoomAlreadyExists))
}

func TestRegisterVulcastSessionRejectsDuplicateID(t *testing.T) {
	state := newTestState()
	_, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)

	_, err = state.RegisterVulcastSession("v0")
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.SessionAlreadyExists))
}

// TestRedeemTokenRejectsConcurrentSecondHolder confirms that redeeming a
// token already bound to a Connected session fails with AlreadyConnected
// rather than InvalidToken: the token itself is never destroyed by a
// single redemption, only by an explicit unregister.
func TestRedeemTokenRejectsConcurrentSecondHolder(t *testing.T) {
	state := newTestState()
	token, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)

	sess, err := state.RedeemToken(token)
	require.NoError(t, err)
	require.Equal(t, session.StateConnected, sess.State())

	_, err = state.RedeemToken(token)
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.AlreadyConnected))
}

// TestRedeemTokenAllowsReconnectAfterDisconnect confirms that a dropped
// connection (Session.Disconnect, not a full Close) leaves the token
// live: a later RedeemToken against the same token succeeds and
// reconnects the same Session.
func TestRedeemTokenAllowsReconnectAfterDisconnect(t *testing.T) {
	state := newTestState()
	token, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)

	sess, err := state.RedeemToken(token)
	require.NoError(t, err)
	require.Equal(t, session.StateConnected, sess.State())

	require.NoError(t, sess.Disconnect())
	require.Equal(t, session.StateRegistered, sess.State())

	reconnected, err := state.RedeemToken(token)
	require.NoError(t, err)
	require.Same(t, sess, reconnected)
	require.Equal(t, session.StateConnected, reconnected.State())
}

func TestRegisterClientSessionRequiresExistingRoom(t *testing.T) {
	state := newTestState()
	_, err := state.RegisterClientSession("ghost-room", "c0")
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.NoSuchRoom))
}

func TestRegisterClientSessionAddsRoomMembership(t *testing.T) {
	state := newTestState()
	_, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)

	token, err := state.RegisterClientSession("r1", "c0")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	r, ok := state.Room("r1")
	require.True(t, ok)
	require.Contains(t, r.ClientSessionIDs(), "c0")
}

// TestUnregisterRoomCascadesSessionTeardown exercises the registry's
// ordering rule: registry entries are removed before the Sessions and
// Router they reference are actually closed.
func TestUnregisterRoomCascadesSessionTeardown(t *testing.T) {
	state := newTestState()
	vulcastToken, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)
	clientToken, err := state.RegisterClientSession("r1", "c0")
	require.NoError(t, err)

	vulcastSess, err := state.RedeemToken(vulcastToken)
	require.NoError(t, err)
	clientSess, err := state.RedeemToken(clientToken)
	require.NoError(t, err)

	require.NoError(t, state.UnregisterRoom("r1"))

	_, ok := state.Room("r1")
	require.False(t, ok)
	_, ok = state.Session("v0")
	require.False(t, ok)
	_, ok = state.Session("c0")
	require.False(t, ok)
	require.Equal(t, session.StateClosed, vulcastSess.State())
	require.Equal(t, session.StateClosed, clientSess.State())
}

func TestUnregisterRoomRejectsUnknownRoom(t *testing.T) {
	state := newTestState()
	err := state.UnregisterRoom("ghost")
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.NoSuchRoom))
}

// TestRegisterRoomRoundTrip confirms a Room can be unregistered and a
// fresh Room re-registered under the same id and a freshly registered
// Vulcast session.
func TestRegisterRoomRoundTrip(t *testing.T) {
	state := newTestState()
	_, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)
	require.NoError(t, state.UnregisterRoom("r1"))

	_, err = state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)

	_, ok := state.Room("r1")
	require.True(t, ok)
}

func TestUnregisterSessionRemovesClientFromRoom(t *testing.T) {
	state := newTestState()
	_, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)
	_, err = state.RegisterClientSession("r1", "c0")
	require.NoError(t, err)

	require.NoError(t, state.UnregisterSession("c0"))

	r, ok := state.Room("r1")
	require.True(t, ok)
	require.NotContains(t, r.ClientSessionIDs(), "c0")
}

func TestLookupProducerOwnerScansRoomSessions(t *testing.T) {
	state := newTestState()
	vulcastToken, err := state.RegisterVulcastSession("v0")
	require.NoError(t, err)
	_, err = state.RegisterRoom("r1", "v0", nil)
	require.NoError(t, err)
	vulcastSess, err := state.RedeemToken(vulcastToken)
	require.NoError(t, err)

	transport, err := vulcastSess.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	producerID, err := vulcastSess.Produce(transport.Id, "video", nil)
	require.NoError(t, err)

	require.True(t, state.LookupProducerOwner("r1", producerID))
	require.False(t, state.LookupProducerOwner("r1", "nonexistent"))
	require.False(t, state.LookupProducerOwner("ghost-room", producerID))
}
