package gateway

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/feedsync/feed"
	"github.com/c360studio/feedsync/store"
)

type fakeStorage struct {
	rooms       map[string]*feed.Room
	messages    map[string]*feed.Message
	posts       map[string]*feed.Post
	attachments map[string]*feed.Attachment

	failWrites bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		rooms:       make(map[string]*feed.Room),
		messages:    make(map[string]*feed.Message),
		posts:       make(map[string]*feed.Post),
		attachments: make(map[string]*feed.Attachment),
	}
}

func (f *fakeStorage) StoreRoom(_ context.Context, r *feed.Room) error {
	if f.failWrites {
		return errors.New("kv unavailable")
	}
	f.rooms[r.ID] = r
	return nil
}

func (f *fakeStorage) StoreMessage(_ context.Context, m *feed.Message) error {
	if f.failWrites {
		return errors.New("kv unavailable")
	}
	f.messages[m.ID] = m
	return nil
}

func (f *fakeStorage) StorePost(_ context.Context, p *feed.Post) error {
	if f.failWrites {
		return errors.New("kv unavailable")
	}
	clone := *p
	f.posts[p.ID] = &clone
	return nil
}

func (f *fakeStorage) GetPost(_ context.Context, id string) (*feed.Post, error) {
	p, ok := f.posts[id]
	if !ok {
		return nil, feed.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (f *fakeStorage) StoreAttachment(_ context.Context, a *feed.Attachment) error {
	if f.failWrites {
		return errors.New("kv unavailable")
	}
	clone := *a
	f.attachments[a.ID] = &clone
	return nil
}

func (f *fakeStorage) ListAttachments(_ context.Context, postID string) ([]*feed.Attachment, error) {
	var out []*feed.Attachment
	for _, a := range f.attachments {
		if a.PostID == postID {
			clone := *a
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStorage) SetAttachmentOrder(_ context.Context, postID string, order map[string]int) error {
	if f.failWrites {
		return errors.New("kv unavailable")
	}
	for id, pos := range order {
		a, ok := f.attachments[id]
		if !ok || a.PostID != postID {
			return feed.ErrNotFound
		}
		a.Order = pos
	}
	return nil
}

type recordedEvent struct {
	collection string
	kind       store.PushKind
	record     any
}

type fakePublisher struct {
	events []recordedEvent
	err    error
}

func (f *fakePublisher) PublishRecord(_ context.Context, collection string, kind store.PushKind, record any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{collection, kind, record})
	return nil
}

func newTestRemote(t *testing.T) (*Remote, *fakeStorage, *fakePublisher) {
	t.Helper()
	storage := newFakeStorage()
	pub := &fakePublisher{}
	r := NewRemote(storage, pub, nil)
	r.SetClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) })
	return r, storage, pub
}

func TestCreateRoomReturnsAuthoritativeRecord(t *testing.T) {
	r, storage, pub := newTestRemote(t)

	result, err := r.Send(context.Background(), MutationCreateRoom, CreateRoom{Name: "general", UserID: "u-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "general", result.Fields["name"])
	require.Contains(t, storage.rooms, result.ID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, feed.CollectionRooms, pub.events[0].collection)
	assert.Equal(t, store.PushInsert, pub.events[0].kind)
}

func TestCreateRoomValidation(t *testing.T) {
	r, storage, _ := newTestRemote(t)

	_, err := r.Send(context.Background(), MutationCreateRoom, CreateRoom{UserID: "u-1"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, storage.rooms)
}

func TestSendMessagePublishesWithoutProfile(t *testing.T) {
	r, _, pub := newTestRemote(t)

	result, err := r.Send(context.Background(), MutationSendMessage, SendMessage{
		RoomID: "r-1", UserID: "u-1", Content: "hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)

	require.Len(t, pub.events, 1)
	msg, ok := pub.events[0].record.(*feed.Message)
	require.True(t, ok)
	assert.Empty(t, msg.Username)
}

func TestToggleLikeComputesAuthoritativeCount(t *testing.T) {
	r, storage, pub := newTestRemote(t)
	storage.posts["p-1"] = &feed.Post{ID: "p-1", Title: "hello", Likes: 15, IsLiked: false}

	result, err := r.Send(context.Background(), MutationToggleLike, ToggleLike{
		PostID: "p-1", UserID: "u-1", Liked: true,
	})
	require.NoError(t, err)

	assert.Equal(t, true, result.Fields["is_liked"])
	assert.Equal(t, 16, result.Fields["likes"])
	require.Len(t, pub.events, 1)
	assert.Equal(t, store.PushUpdate, pub.events[0].kind)
}

func TestToggleLikeRedeliveryIsIdempotent(t *testing.T) {
	// Liked is a desired end state. Sending the same toggle twice must
	// not bump the count twice.
	r, storage, pub := newTestRemote(t)
	storage.posts["p-1"] = &feed.Post{ID: "p-1", Likes: 15, IsLiked: false}

	_, err := r.Send(context.Background(), MutationToggleLike, ToggleLike{PostID: "p-1", UserID: "u-1", Liked: true})
	require.NoError(t, err)
	result, err := r.Send(context.Background(), MutationToggleLike, ToggleLike{PostID: "p-1", UserID: "u-1", Liked: true})
	require.NoError(t, err)

	assert.Equal(t, 16, result.Fields["likes"])
	assert.Len(t, pub.events, 1)
}

func TestToggleLikeMissingPost(t *testing.T) {
	r, _, _ := newTestRemote(t)

	_, err := r.Send(context.Background(), MutationToggleLike, ToggleLike{PostID: "p-missing", UserID: "u-1", Liked: true})
	assert.ErrorIs(t, err, ErrRemoteWrite)
}

func TestSaveAttachmentAssignsNextOrder(t *testing.T) {
	r, storage, _ := newTestRemote(t)
	storage.attachments["a-1"] = &feed.Attachment{ID: "a-1", PostID: "p-1", Order: 0}
	storage.attachments["a-2"] = &feed.Attachment{ID: "a-2", PostID: "p-1", Order: 1}

	result, err := r.Send(context.Background(), MutationSaveAttachment, SaveAttachment{
		PostID: "p-1", UserID: "u-1", FilePath: "u-1/photo.png",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Equal(t, 2, *result.Order)
}

func TestReorderAttachmentsPublishesEveryItem(t *testing.T) {
	r, storage, pub := newTestRemote(t)
	storage.attachments["a-1"] = &feed.Attachment{ID: "a-1", PostID: "p-1", Order: 0}
	storage.attachments["a-2"] = &feed.Attachment{ID: "a-2", PostID: "p-1", Order: 1}

	_, err := r.Send(context.Background(), MutationReorderAttachments, ReorderAttachments{
		PostID: "p-1",
		Items:  []OrderUpdate{{ID: "a-1", NewOrder: 1}, {ID: "a-2", NewOrder: 0}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, storage.attachments["a-1"].Order)
	assert.Equal(t, 0, storage.attachments["a-2"].Order)
	assert.Len(t, pub.events, 2)
}

func TestReorderRejectsDuplicatePositions(t *testing.T) {
	r, _, _ := newTestRemote(t)

	_, err := r.Send(context.Background(), MutationReorderAttachments, ReorderAttachments{
		PostID: "p-1",
		Items:  []OrderUpdate{{ID: "a-1", NewOrder: 0}, {ID: "a-2", NewOrder: 0}},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWriteFailureWrapsRemoteWrite(t *testing.T) {
	r, storage, pub := newTestRemote(t)
	storage.failWrites = true

	_, err := r.Send(context.Background(), MutationCreateRoom, CreateRoom{Name: "general", UserID: "u-1"})
	assert.ErrorIs(t, err, ErrRemoteWrite)
	assert.Empty(t, pub.events)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	storage := newFakeStorage()
	pub := &fakePublisher{err: errors.New("nats down")}
	r := NewRemote(storage, pub, nil)

	result, err := r.Send(context.Background(), MutationCreateRoom, CreateRoom{Name: "general", UserID: "u-1"})
	require.NoError(t, err)
	assert.Contains(t, storage.rooms, result.ID)
}

func TestUnknownMutationRejected(t *testing.T) {
	r, _, _ := newTestRemote(t)

	_, err := r.Send(context.Background(), "drop-everything", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWrongPayloadTypeRejected(t *testing.T) {
	r, _, _ := newTestRemote(t)

	_, err := r.Send(context.Background(), MutationCreateRoom, SendMessage{RoomID: "r-1", UserID: "u-1", Content: "x"})
	assert.ErrorIs(t, err, ErrValidation)
}
