package feed

import (
	"context"

	"github.com/c360studio/semstreams/natsclient"
)

// Backend aggregates the per-collection KV stores behind one write
// surface. The gateway consumes it through its own narrow interface.
type Backend struct {
	Rooms       *RoomStore
	Messages    *MessageStore
	Posts       *PostStore
	Attachments *AttachmentStore
	Profiles    *ProfileStore
}

// NewBackend opens every collection bucket on the given connection.
func NewBackend(nc *natsclient.Client) (*Backend, error) {
	rooms, err := NewRoomStore(nc)
	if err != nil {
		return nil, err
	}
	messages, err := NewMessageStore(nc)
	if err != nil {
		return nil, err
	}
	posts, err := NewPostStore(nc)
	if err != nil {
		return nil, err
	}
	attachments, err := NewAttachmentStore(nc)
	if err != nil {
		return nil, err
	}
	profiles, err := NewProfileStore(nc)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Rooms:       rooms,
		Messages:    messages,
		Posts:       posts,
		Attachments: attachments,
		Profiles:    profiles,
	}, nil
}

// StoreRoom saves a room.
func (b *Backend) StoreRoom(ctx context.Context, r *Room) error {
	return b.Rooms.Store(ctx, r)
}

// StoreMessage saves a message.
func (b *Backend) StoreMessage(ctx context.Context, m *Message) error {
	return b.Messages.Store(ctx, m)
}

// StorePost saves a post.
func (b *Backend) StorePost(ctx context.Context, p *Post) error {
	return b.Posts.Store(ctx, p)
}

// GetPost retrieves a post by id.
func (b *Backend) GetPost(ctx context.Context, id string) (*Post, error) {
	return b.Posts.Get(ctx, id)
}

// StoreAttachment saves an attachment.
func (b *Backend) StoreAttachment(ctx context.Context, a *Attachment) error {
	return b.Attachments.Store(ctx, a)
}

// ListAttachments retrieves a post's attachments in display order.
func (b *Backend) ListAttachments(ctx context.Context, postID string) ([]*Attachment, error) {
	return b.Attachments.ListByPost(ctx, postID)
}

// SetAttachmentOrder rewrites the display order of a post's attachments.
func (b *Backend) SetAttachmentOrder(ctx context.Context, postID string, order map[string]int) error {
	return b.Attachments.SetOrder(ctx, postID, order)
}

// GetProfile retrieves a user profile.
func (b *Backend) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return b.Profiles.Get(ctx, userID)
}
