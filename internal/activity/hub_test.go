package activity

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHub(t *testing.T, clock quartz.Clock) *Hub {
	t.Helper()
	return NewHub(Params{
		Clock: clock,
		Config: config.ActivityConfig{
			HeartbeatInterval: 25 * time.Second,
			MaxMissed:         3,
			SubscriberBuffer:  4,
		},
	})
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return event
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestSubscribeSendsConnectedFirst(t *testing.T) {
	hub := newTestHub(t, quartz.NewMock(t))

	sub, err := hub.Subscribe("org-1", "")
	require.NoError(t, err)
	defer sub.Close()

	event := receive(t, sub)
	assert.Equal(t, TypeConnected, event.Type)
	assert.Equal(t, "org-1", event.OrganizationID)
}

func TestSubscribeRejectsBlankOrganization(t *testing.T) {
	_, err := newTestHub(t, quartz.NewMock(t)).Subscribe("  ", "")
	assert.ErrorIs(t, err, ErrInvalidOrganizationID)

	var nilHub *Hub
	_, err = nilHub.Subscribe("org-1", "")
	assert.ErrorIs(t, err, ErrHubUnavailable)
}

func TestPublishIsScopedToOrganization(t *testing.T) {
	hub := newTestHub(t, quartz.NewMock(t))

	a, err := hub.Subscribe("org-a", "")
	require.NoError(t, err)
	defer a.Close()
	b, err := hub.Subscribe("org-b", "")
	require.NoError(t, err)
	defer b.Close()
	receive(t, a)
	receive(t, b)

	hub.Publish(context.Background(), "org-a", Event{
		Type:    "resources.bulk",
		Payload: BulkSummary{Source: "api", BatchID: "01J", ProcessedCount: 2, InsertedTotal: 2},
	})

	event := receive(t, a)
	assert.Equal(t, "resources.bulk", event.Type)
	assert.Equal(t, "org-a", event.OrganizationID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, 2, event.Payload.(BulkSummary).InsertedTotal)

	select {
	case event := <-b.Events():
		t.Fatalf("org-b received %q", event.Type)
	default:
	}
}

func TestPublishDropsForFullSubscriberOnly(t *testing.T) {
	hub := newTestHub(t, quartz.NewMock(t))

	slow, err := hub.Subscribe("org-1", "slow")
	require.NoError(t, err)
	defer slow.Close()
	fast, err := hub.Subscribe("org-1", "fast")
	require.NoError(t, err)
	defer fast.Close()
	receive(t, fast)

	// slow still holds its connected frame, so three more fill its buffer of four
	for i := 0; i < 5; i++ {
		hub.Publish(context.Background(), "org-1", Event{Type: "costs.bulk"})
		receive(t, fast)
	}

	assert.Len(t, slow.Events(), 4)
}

func TestSameClientIDReplacesOlderSubscription(t *testing.T) {
	hub := newTestHub(t, quartz.NewMock(t))

	first, err := hub.Subscribe("org-1", "tab-1")
	require.NoError(t, err)
	receive(t, first)

	second, err := hub.Subscribe("org-1", "tab-1")
	require.NoError(t, err)
	defer second.Close()

	_, open := <-first.Events()
	assert.False(t, open, "older subscription is closed")
	assert.Equal(t, EndReplaced, first.Reason())
	assert.Empty(t, second.Reason())
	assert.Equal(t, 1, hub.Subscribers("org-1"))

	first.Close()
	assert.Equal(t, EndReplaced, first.Reason())
	assert.Equal(t, 1, hub.Subscribers("org-1"))
}

func TestCloseRemovesSubscriber(t *testing.T) {
	hub := newTestHub(t, quartz.NewMock(t))
	sub, err := hub.Subscribe("org-1", "")
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	assert.Equal(t, EndClosed, sub.Reason())
	assert.Equal(t, 0, hub.Subscribers("org-1"))

	hub.Publish(context.Background(), "org-1", Event{Type: "resources.bulk"})
}

func TestHeartbeatPingsAndEvictsSilentSubscribers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	trap := clock.Trap().TickerFunc("activity", "heartbeat")
	defer trap.Close()

	hub := newTestHub(t, clock)
	silent, err := hub.Subscribe("org-1", "silent")
	require.NoError(t, err)
	alive, err := hub.Subscribe("org-1", "alive")
	require.NoError(t, err)
	defer alive.Close()
	receive(t, silent)
	receive(t, alive)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- hub.Run(runCtx) }()
	trap.MustWait(ctx).MustRelease(ctx)

	for i := 0; i < 3; i++ {
		clock.Advance(25 * time.Second).MustWait(ctx)
		assert.Equal(t, TypePing, receive(t, silent).Type)
		assert.Equal(t, TypePing, receive(t, alive).Type)
		alive.Ack()
	}

	clock.Advance(25 * time.Second).MustWait(ctx)
	_, open := <-silent.Events()
	assert.False(t, open, "silent subscriber evicted")
	assert.Equal(t, EndEvicted, silent.Reason())
	assert.Equal(t, TypePing, receive(t, alive).Type)
	assert.Equal(t, 1, hub.Subscribers("org-1"))

	stop()
	require.NoError(t, <-done)
}
