package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/feedsync/feed"
	"github.com/c360studio/feedsync/store"
)

type fakeProfiles struct {
	profiles map[string]*feed.Profile
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*feed.Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, errors.New("profile not found")
	}
	return p, nil
}

type captured struct {
	collection string
	push       store.Push
}

type fakeSink struct {
	pushes []captured
}

func (f *fakeSink) OnPush(collection string, p store.Push) {
	f.pushes = append(f.pushes, captured{collection, p})
}

func encodeEvent(t *testing.T, collection string, kind store.PushKind, record any) []byte {
	t.Helper()
	ev, err := feed.NewEvent(collection, kind, record, time.Now())
	require.NoError(t, err)
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestMessagePushEnrichedWithProfile(t *testing.T) {
	source := &fakeProfiles{profiles: map[string]*feed.Profile{
		"u-1": {ID: "u-1", Username: "alice", AvatarURL: "https://cdn/a.png"},
	}}
	sink := &fakeSink{}
	a := NewAdapter(nil, source, sink, "", nil)

	a.Handle(context.Background(), encodeEvent(t, feed.CollectionMessages, store.PushInsert, feed.Message{
		ID: "m-1", RoomID: "r-1", UserID: "u-1", Content: "hi",
	}))

	require.Len(t, sink.pushes, 1)
	p := sink.pushes[0].push
	assert.Equal(t, feed.CollectionMessages, sink.pushes[0].collection)
	assert.Equal(t, "alice", p.Entity.Fields["username"])
	assert.Equal(t, "https://cdn/a.png", p.Entity.Fields["avatar_url"])
}

func TestUnresolvedProfileMergesPlaceholder(t *testing.T) {
	sink := &fakeSink{}
	a := NewAdapter(nil, &fakeProfiles{}, sink, EnrichPlaceholder, nil)

	a.Handle(context.Background(), encodeEvent(t, feed.CollectionMessages, store.PushInsert, feed.Message{
		ID: "m-1", RoomID: "r-1", UserID: "u-ghost", Content: "hi",
	}))

	require.Len(t, sink.pushes, 1)
	assert.Equal(t, PlaceholderUsername, sink.pushes[0].push.Entity.Fields["username"])
}

func TestUnresolvedProfileDropsUnderDropPolicy(t *testing.T) {
	sink := &fakeSink{}
	a := NewAdapter(nil, &fakeProfiles{}, sink, EnrichDrop, nil)

	a.Handle(context.Background(), encodeEvent(t, feed.CollectionMessages, store.PushInsert, feed.Message{
		ID: "m-1", RoomID: "r-1", UserID: "u-ghost", Content: "hi",
	}))

	assert.Empty(t, sink.pushes)
}

func TestRoomPushCarriesCorrelationKey(t *testing.T) {
	sink := &fakeSink{}
	a := NewAdapter(nil, &fakeProfiles{}, sink, "", nil)

	a.Handle(context.Background(), encodeEvent(t, feed.CollectionRooms, store.PushInsert, feed.Room{
		ID: "r-1", Name: "general", CreatedAt: time.Now(),
	}))

	require.Len(t, sink.pushes, 1)
	assert.Equal(t, "general", sink.pushes[0].push.CorrelationKey)
}

func TestMessageUpdateSkipsEnrichment(t *testing.T) {
	// Only inserts enrich; an update push keeps whatever fields the
	// event carried.
	sink := &fakeSink{}
	a := NewAdapter(nil, &fakeProfiles{}, sink, EnrichDrop, nil)

	a.Handle(context.Background(), encodeEvent(t, feed.CollectionMessages, store.PushUpdate, feed.Message{
		ID: "m-1", RoomID: "r-1", UserID: "u-ghost", Content: "edited",
	}))

	require.Len(t, sink.pushes, 1)
}

func TestUndecodableEventDropped(t *testing.T) {
	sink := &fakeSink{}
	a := NewAdapter(nil, &fakeProfiles{}, sink, "", nil)

	a.Handle(context.Background(), []byte("not json"))
	a.Handle(context.Background(), encodeEvent(t, "widgets", store.PushInsert, feed.Room{ID: "r-1"}))

	assert.Empty(t, sink.pushes)
}
