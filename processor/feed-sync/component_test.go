package feedsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/feedsync/feed"
	"github.com/c360studio/feedsync/gateway"
	"github.com/c360studio/feedsync/reconcile"
	"github.com/c360studio/feedsync/store"
)

func newTestComponent(t *testing.T, rawConfig string) *Component {
	t.Helper()
	deps := component.Dependencies{
		Logger: slog.Default(),
	}
	comp, err := NewComponent(json.RawMessage(rawConfig), deps)
	require.NoError(t, err)
	c, ok := comp.(*Component)
	require.True(t, ok)
	require.NoError(t, c.Initialize())
	return c
}

type stubSnapshots struct {
	rooms       []store.Entity
	posts       []store.Entity
	messages    map[string][]store.Entity
	attachments map[string][]store.Entity
}

func (s *stubSnapshots) Rooms(context.Context) ([]store.Entity, error) { return s.rooms, nil }
func (s *stubSnapshots) Posts(context.Context) ([]store.Entity, error) { return s.posts, nil }
func (s *stubSnapshots) RoomMessages(_ context.Context, roomID string) ([]store.Entity, error) {
	return s.messages[roomID], nil
}
func (s *stubSnapshots) PostAttachments(_ context.Context, postID string) ([]store.Entity, error) {
	return s.attachments[postID], nil
}

type stubGateway struct {
	result *store.ServerResult
	err    error
}

func (g *stubGateway) Send(context.Context, string, any) (*store.ServerResult, error) {
	return g.result, g.err
}

func wireTestComponent(t *testing.T, snaps *stubSnapshots, gw reconcile.Gateway) *Component {
	t.Helper()
	c := newTestComponent(t, `{}`)
	c.snapshots = snaps
	c.gw = gw
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(time.Second) })
	return c
}

func TestNewComponentDefaults(t *testing.T) {
	c := newTestComponent(t, `{}`)

	assert.Equal(t, "FEED", c.config.StreamName)
	assert.Equal(t, 15*time.Second, c.config.GetIntentTimeout())
	assert.Equal(t, 30*time.Second, c.config.GetCorrelationWindow())
	assert.NotNil(t, c.config.Ports)
}

func TestNewComponentRejectsBadConfig(t *testing.T) {
	deps := component.Dependencies{Logger: slog.Default()}

	_, err := NewComponent(json.RawMessage(`{"enrichment_policy":"guess"}`), deps)
	assert.Error(t, err)

	_, err = NewComponent(json.RawMessage(`{"intent_timeout":"soon"}`), deps)
	assert.Error(t, err)
}

func TestStartRequiresNATSClient(t *testing.T) {
	c := newTestComponent(t, `{}`)

	err := c.Start(context.Background())
	assert.Error(t, err)
	assert.False(t, c.Health().Healthy)
}

func TestComponentMetadata(t *testing.T) {
	c := newTestComponent(t, `{}`)

	meta := c.Meta()
	assert.Equal(t, "feed-sync", meta.Name)
	assert.Equal(t, "processor", meta.Type)

	require.Len(t, c.InputPorts(), 1)
	require.Len(t, c.OutputPorts(), 1)
	assert.Equal(t, component.DirectionInput, c.InputPorts()[0].Direction)
}

func TestSessionLifecycle(t *testing.T) {
	snaps := &stubSnapshots{
		rooms: []store.Entity{{ID: "r-1", Fields: map[string]any{"name": "general"}}},
		posts: []store.Entity{{ID: "p-1", Fields: map[string]any{"title": "hello", "likes": 15, "is_liked": false}}},
	}
	c := wireTestComponent(t, snaps, &stubGateway{result: &store.ServerResult{}})

	require.NoError(t, c.OpenSession(context.Background(), "s-1", ""))
	assert.Equal(t, 1, c.SessionCount())

	rooms, err := c.ViewSnapshot("s-1", ViewRooms)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "r-1", rooms[0].ID)

	assert.Error(t, c.OpenSession(context.Background(), "s-1", ""))

	c.CloseSession("s-1")
	assert.Equal(t, 0, c.SessionCount())
	_, err = c.ViewSnapshot("s-1", ViewRooms)
	assert.Error(t, err)
}

func TestSubmitConfirmsThroughGateway(t *testing.T) {
	snaps := &stubSnapshots{
		posts: []store.Entity{{ID: "p-1", Fields: map[string]any{"likes": 15, "is_liked": false}}},
	}
	gw := &stubGateway{result: &store.ServerResult{Fields: map[string]any{"likes": 16, "is_liked": true}}}
	c := wireTestComponent(t, snaps, gw)
	require.NoError(t, c.OpenSession(context.Background(), "s-1", ""))

	h, err := c.Submit(context.Background(), "s-1", ViewPosts, reconcile.Submission{
		Intent: store.Intent{
			Kind: store.IntentToggle, TargetID: "p-1",
			ToggleField: "is_liked", CounterField: "likes",
		},
		Mutation: gateway.MutationToggleLike,
		Payload:  gateway.ToggleLike{PostID: "p-1", UserID: "u-1", Liked: true},
	})
	require.NoError(t, err)

	state, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.StateConfirmed, state)

	view, err := c.ViewSnapshot("s-1", ViewPosts)
	require.NoError(t, err)
	assert.Equal(t, 16, view[0].Fields["likes"])
}

func TestOpenViewAndScopedPushRouting(t *testing.T) {
	snaps := &stubSnapshots{
		rooms: []store.Entity{{ID: "r-1", Fields: map[string]any{"name": "general"}}},
		messages: map[string][]store.Entity{
			"r-1": {{ID: "m-1", Fields: map[string]any{"room_id": "r-1", "content": "hi"}}},
		},
	}
	c := wireTestComponent(t, snaps, &stubGateway{result: &store.ServerResult{}})
	require.NoError(t, c.OpenSession(context.Background(), "s-1", ""))
	require.NoError(t, c.OpenView(context.Background(), "s-1", ViewRoomMessages("r-1")))

	// A message for the open room lands in the view; one for another
	// room has no open view and is dropped.
	c.OnPush(feed.CollectionMessages, store.Push{
		Kind:   store.PushInsert,
		Entity: store.Entity{ID: "m-2", Fields: map[string]any{"room_id": "r-1", "content": "yo"}},
	})
	c.OnPush(feed.CollectionMessages, store.Push{
		Kind:   store.PushInsert,
		Entity: store.Entity{ID: "m-9", Fields: map[string]any{"room_id": "r-other", "content": "nope"}},
	})

	view, err := c.ViewSnapshot("s-1", ViewRoomMessages("r-1"))
	require.NoError(t, err)
	assert.Len(t, view, 2)
}

func TestPushFansOutToAllSessions(t *testing.T) {
	snaps := &stubSnapshots{}
	c := wireTestComponent(t, snaps, &stubGateway{result: &store.ServerResult{}})
	require.NoError(t, c.OpenSession(context.Background(), "s-1", ""))
	require.NoError(t, c.OpenSession(context.Background(), "s-2", ""))

	c.OnPush(feed.CollectionRooms, store.Push{
		Kind:   store.PushInsert,
		Entity: store.Entity{ID: "r-1", Fields: map[string]any{"name": "general"}},
	})

	for _, sessionID := range []string{"s-1", "s-2"} {
		view, err := c.ViewSnapshot(sessionID, ViewRooms)
		require.NoError(t, err)
		assert.Len(t, view, 1, "session %s", sessionID)
	}
}

func TestRedeliveredPushMergesOnce(t *testing.T) {
	snaps := &stubSnapshots{}
	c := wireTestComponent(t, snaps, &stubGateway{result: &store.ServerResult{}})
	require.NoError(t, c.OpenSession(context.Background(), "s-1", ""))

	push := store.Push{
		Kind:   store.PushInsert,
		Entity: store.Entity{ID: "p-1", Fields: map[string]any{"title": "hello"}},
	}
	c.OnPush(feed.CollectionPosts, push)
	c.OnPush(feed.CollectionPosts, push)

	view, err := c.ViewSnapshot("s-1", ViewPosts)
	require.NoError(t, err)
	assert.Len(t, view, 1)
}

func TestStopClosesSessions(t *testing.T) {
	snaps := &stubSnapshots{}
	c := wireTestComponent(t, snaps, &stubGateway{result: &store.ServerResult{}})
	require.NoError(t, c.OpenSession(context.Background(), "s-1", ""))

	require.NoError(t, c.Stop(time.Second))
	assert.Equal(t, 0, c.SessionCount())
	assert.False(t, c.Health().Healthy)
}

func TestRegisterRequiresRegistry(t *testing.T) {
	assert.Error(t, Register(nil))
}
