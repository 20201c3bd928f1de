package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/feedsync/feed"
	"github.com/c360studio/feedsync/store"
)

// Storage is the slice of the feed stores the gateway writes through.
type Storage interface {
	StoreRoom(ctx context.Context, r *feed.Room) error
	StoreMessage(ctx context.Context, m *feed.Message) error
	StorePost(ctx context.Context, p *feed.Post) error
	GetPost(ctx context.Context, id string) (*feed.Post, error)
	StoreAttachment(ctx context.Context, a *feed.Attachment) error
	ListAttachments(ctx context.Context, postID string) ([]*feed.Attachment, error)
	SetAttachmentOrder(ctx context.Context, postID string, order map[string]int) error
}

// Publisher emits the authoritative change as a realtime event after a
// successful write.
type Publisher interface {
	PublishRecord(ctx context.Context, collection string, kind store.PushKind, record any) error
}

// Remote sends named mutations to the feed backend.
type Remote struct {
	storage Storage
	events  Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewRemote creates a gateway over the given storage and publisher.
func NewRemote(storage Storage, events Publisher, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{storage: storage, events: events, logger: logger, now: time.Now}
}

// SetClock overrides the gateway clock. Test hook.
func (r *Remote) SetClock(now func() time.Time) { r.now = now }

// Send performs one named remote write. On success it returns the
// authoritative record as a ServerResult; on failure the error is one
// of the gateway error kinds and no remote state changed.
func (r *Remote) Send(ctx context.Context, mutation string, payload any) (*store.ServerResult, error) {
	var (
		result *store.ServerResult
		err    error
	)

	switch mutation {
	case MutationCreateRoom:
		result, err = r.createRoom(ctx, payload)
	case MutationSendMessage:
		result, err = r.sendMessage(ctx, payload)
	case MutationCreatePost:
		result, err = r.createPost(ctx, payload)
	case MutationToggleLike:
		result, err = r.toggleLike(ctx, payload)
	case MutationSaveAttachment:
		result, err = r.saveAttachment(ctx, payload)
	case MutationReorderAttachments:
		result, err = r.reorderAttachments(ctx, payload)
	default:
		err = fmt.Errorf("%w: unknown mutation %q", ErrValidation, mutation)
	}

	if err != nil {
		r.logger.Warn("Mutation failed", "mutation", mutation, "error", err)
		return nil, err
	}
	return result, nil
}

func (r *Remote) createRoom(ctx context.Context, payload any) (*store.ServerResult, error) {
	p, ok := payload.(CreateRoom)
	if !ok {
		return nil, fmt.Errorf("%w: create-room payload has type %T", ErrValidation, payload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	room := &feed.Room{
		ID:        feed.NewRoomID(),
		Name:      p.Name,
		CreatedBy: p.UserID,
		CreatedAt: r.now().UTC(),
	}
	if err := r.storage.StoreRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("%w: store room: %w", ErrRemoteWrite, err)
	}
	r.publish(ctx, feed.CollectionRooms, store.PushInsert, room)

	return serverResult(room.Entity()), nil
}

func (r *Remote) sendMessage(ctx context.Context, payload any) (*store.ServerResult, error) {
	p, ok := payload.(SendMessage)
	if !ok {
		return nil, fmt.Errorf("%w: send-message payload has type %T", ErrValidation, payload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	msg := &feed.Message{
		ID:        feed.NewMessageID(),
		RoomID:    p.RoomID,
		UserID:    p.UserID,
		Content:   p.Content,
		CreatedAt: r.now().UTC(),
	}
	if err := r.storage.StoreMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: store message: %w", ErrRemoteWrite, err)
	}
	// The push deliberately omits the profile join; consumers enrich.
	r.publish(ctx, feed.CollectionMessages, store.PushInsert, msg)

	return serverResult(msg.Entity()), nil
}

func (r *Remote) createPost(ctx context.Context, payload any) (*store.ServerResult, error) {
	p, ok := payload.(CreatePost)
	if !ok {
		return nil, fmt.Errorf("%w: create-post payload has type %T", ErrValidation, payload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	post := &feed.Post{
		ID:        feed.NewPostID(),
		UserID:    p.UserID,
		Title:     p.Title,
		CreatedAt: r.now().UTC(),
	}
	if err := r.storage.StorePost(ctx, post); err != nil {
		return nil, fmt.Errorf("%w: store post: %w", ErrRemoteWrite, err)
	}
	r.publish(ctx, feed.CollectionPosts, store.PushInsert, post)

	return serverResult(post.Entity()), nil
}

func (r *Remote) toggleLike(ctx context.Context, payload any) (*store.ServerResult, error) {
	p, ok := payload.(ToggleLike)
	if !ok {
		return nil, fmt.Errorf("%w: toggle-like payload has type %T", ErrValidation, payload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	post, err := r.storage.GetPost(ctx, p.PostID)
	if err != nil {
		return nil, fmt.Errorf("%w: load post: %w", ErrRemoteWrite, err)
	}

	if post.IsLiked != p.Liked {
		post.IsLiked = p.Liked
		if p.Liked {
			post.Likes++
		} else {
			post.Likes--
		}
		if err := r.storage.StorePost(ctx, post); err != nil {
			return nil, fmt.Errorf("%w: store post: %w", ErrRemoteWrite, err)
		}
		r.publish(ctx, feed.CollectionPosts, store.PushUpdate, post)
	}

	return serverResult(post.Entity()), nil
}

func (r *Remote) saveAttachment(ctx context.Context, payload any) (*store.ServerResult, error) {
	p, ok := payload.(SaveAttachment)
	if !ok {
		return nil, fmt.Errorf("%w: save-attachment payload has type %T", ErrValidation, payload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	existing, err := r.storage.ListAttachments(ctx, p.PostID)
	if err != nil {
		return nil, fmt.Errorf("%w: count attachments: %w", ErrRemoteWrite, err)
	}

	att := &feed.Attachment{
		ID:        feed.NewAttachmentID(),
		PostID:    p.PostID,
		FilePath:  p.FilePath,
		Order:     len(existing),
		CreatedAt: r.now().UTC(),
	}
	if err := r.storage.StoreAttachment(ctx, att); err != nil {
		return nil, fmt.Errorf("%w: store attachment: %w", ErrRemoteWrite, err)
	}
	r.publish(ctx, feed.CollectionAttachments, store.PushInsert, att)

	result := serverResult(att.Entity())
	result.Order = &att.Order
	return result, nil
}

func (r *Remote) reorderAttachments(ctx context.Context, payload any) (*store.ServerResult, error) {
	p, ok := payload.(ReorderAttachments)
	if !ok {
		return nil, fmt.Errorf("%w: reorder-attachments payload has type %T", ErrValidation, payload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	order := make(map[string]int, len(p.Items))
	for _, item := range p.Items {
		order[item.ID] = item.NewOrder
	}
	if err := r.storage.SetAttachmentOrder(ctx, p.PostID, order); err != nil {
		return nil, fmt.Errorf("%w: set attachment order: %w", ErrRemoteWrite, err)
	}

	attachments, err := r.storage.ListAttachments(ctx, p.PostID)
	if err != nil {
		return nil, fmt.Errorf("%w: list attachments: %w", ErrRemoteWrite, err)
	}
	for _, a := range attachments {
		r.publish(ctx, feed.CollectionAttachments, store.PushUpdate, a)
	}

	return &store.ServerResult{}, nil
}

// publish emits the post-write event. A publish failure does not fail
// the mutation: the write is already durable and subscribers converge
// on the next snapshot query.
func (r *Remote) publish(ctx context.Context, collection string, kind store.PushKind, record any) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishRecord(ctx, collection, kind, record); err != nil {
		r.logger.Warn("Failed to publish feed event",
			"collection", collection,
			"kind", kind,
			"error", err)
	}
}

func serverResult(e store.Entity) *store.ServerResult {
	return &store.ServerResult{ID: e.ID, Fields: e.Fields}
}
