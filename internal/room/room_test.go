package room_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine"
	"github.com/vulcan-relay/vulcan-relay/internal/mediaengine/mediaenginetest"
	"github.com/vulcan-relay/vulcan-relay/internal/room"
)

func newTestRoom(t *testing.T) (*room.Room, *mediaenginetest.Router) {
	t.Helper()
	worker := mediaenginetest.NewWorker()
	routerIface, err := worker.CreateRouter(nil)
	require.NoError(t, err)
	router := routerIface.(*mediaenginetest.Router)
	r := room.New("r0", router, "v0")
	return r, router
}

func recv(t *testing.T, ch <-chan mediaengine.ProducerId) mediaengine.ProducerId {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for producer id")
		return ""
	}
}

func TestSubscribeProducersReplaysLiveSetThenStreams(t *testing.T) {
	r, router := newTestRoom(t)

	transport, err := router.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	firstProducer, err := transport.Produce(mediaengine.KindVideo, nil)
	require.NoError(t, err)

	ch, unsubscribe := r.SubscribeProducers()
	defer unsubscribe()

	require.Equal(t, mediaengine.ProducerId(firstProducer.Id()), recv(t, ch))

	secondProducer, err := transport.Produce(mediaengine.KindAudio, nil)
	require.NoError(t, err)
	require.Equal(t, mediaengine.ProducerId(secondProducer.Id()), recv(t, ch))
}

func TestSubscribeProducersNeverMissesOrDuplicates(t *testing.T) {
	r, router := newTestRoom(t)
	transport, err := router.CreateWebRtcTransport(nil)
	require.NoError(t, err)

	ch, unsubscribe := r.SubscribeProducers()
	defer unsubscribe()

	producer, err := transport.Produce(mediaengine.KindVideo, nil)
	require.NoError(t, err)

	got := recv(t, ch)
	require.Equal(t, mediaengine.ProducerId(producer.Id()), got)

	// A late subscriber sees the same producer exactly once, via the
	// snapshot rather than a re-delivered live event.
	lateCh, lateUnsubscribe := r.SubscribeProducers()
	defer lateUnsubscribe()
	require.Equal(t, mediaengine.ProducerId(producer.Id()), recv(t, lateCh))

	// Neither subscriber has a second copy waiting.
	select {
	case id := <-ch:
		t.Fatalf("early subscriber received duplicate producer id %q", id)
	case id := <-lateCh:
		t.Fatalf("late subscriber received duplicate producer id %q", id)
	default:
	}
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	r, _ := newTestRoom(t)
	ch, _ := r.SubscribeProducers()

	require.NoError(t, r.Close())

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	r, _ := newTestRoom(t)
	require.NoError(t, r.Close())

	ch, _ := r.SubscribeProducers()
	_, ok := <-ch
	require.False(t, ok)
}

func TestHasLiveProducerReportsPublishedProducers(t *testing.T) {
	r, router := newTestRoom(t)
	transport, err := router.CreateWebRtcTransport(nil)
	require.NoError(t, err)
	producer, err := transport.Produce(mediaengine.KindVideo, nil)
	require.NoError(t, err)

	require.True(t, r.HasLiveProducer(mediaengine.ProducerId(producer.Id())))
	require.False(t, r.HasLiveProducer("nonexistent"))
}

func TestClientSessionMembership(t *testing.T) {
	r, _ := newTestRoom(t)
	r.AddClientSession("c0")
	r.AddClientSession("c1")

	ids := r.ClientSessionIDs()
	require.ElementsMatch(t, []string{"c0", "c1"}, ids)

	r.RemoveClientSession("c0")
	require.ElementsMatch(t, []string{"c1"}, r.ClientSessionIDs())
}

func TestAllSessionIDsIncludesVulcast(t *testing.T) {
	r, _ := newTestRoom(t)
	r.AddClientSession("c0")

	ids := r.AllSessionIDs()
	require.ElementsMatch(t, []string{"v0", "c0"}, ids)
}
