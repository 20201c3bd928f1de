package feedsync

import (
	"context"

	"github.com/c360studio/feedsync/feed"
	"github.com/c360studio/feedsync/store"
)

// Snapshots loads the authoritative state a view starts from.
type Snapshots interface {
	Rooms(ctx context.Context) ([]store.Entity, error)
	Posts(ctx context.Context) ([]store.Entity, error)
	RoomMessages(ctx context.Context, roomID string) ([]store.Entity, error)
	PostAttachments(ctx context.Context, postID string) ([]store.Entity, error)
}

// backendSnapshots reads snapshots from the feed KV stores.
type backendSnapshots struct {
	backend *feed.Backend
}

func (s *backendSnapshots) Rooms(ctx context.Context) ([]store.Entity, error) {
	rooms, err := s.backend.Rooms.List(ctx)
	if err != nil {
		return nil, err
	}
	entities := make([]store.Entity, len(rooms))
	for i, r := range rooms {
		entities[i] = r.Entity()
	}
	return entities, nil
}

func (s *backendSnapshots) Posts(ctx context.Context) ([]store.Entity, error) {
	posts, err := s.backend.Posts.List(ctx)
	if err != nil {
		return nil, err
	}
	entities := make([]store.Entity, len(posts))
	for i, p := range posts {
		entities[i] = p.Entity()
	}
	return entities, nil
}

func (s *backendSnapshots) RoomMessages(ctx context.Context, roomID string) ([]store.Entity, error) {
	messages, err := s.backend.Messages.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	entities := make([]store.Entity, len(messages))
	for i, m := range messages {
		entities[i] = m.Entity()
	}
	return entities, nil
}

func (s *backendSnapshots) PostAttachments(ctx context.Context, postID string) ([]store.Entity, error) {
	attachments, err := s.backend.Attachments.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	entities := make([]store.Entity, len(attachments))
	for i, a := range attachments {
		entities[i] = a.Entity()
	}
	return entities, nil
}
