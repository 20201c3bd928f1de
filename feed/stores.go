package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// KV bucket names for each collection.
const (
	BucketRooms       = "FEED_ROOMS"
	BucketMessages    = "FEED_MESSAGES"
	BucketPosts       = "FEED_POSTS"
	BucketAttachments = "FEED_ATTACHMENTS"
	BucketProfiles    = "FEED_PROFILES"
)

// ErrNotFound is returned when a record is not in its bucket.
var ErrNotFound = errors.New("record not found")

// openBucket creates or opens a KV bucket. CreateOrUpdateKeyValue is
// idempotent and handles startup races between components.
func openBucket(nc *natsclient.Client, name, description string, ttl time.Duration) (jetstream.KeyValue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	bucket, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket %s: %w", name, err)
	}
	return bucket, nil
}

func putJSON(ctx context.Context, bucket jetstream.KeyValue, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := bucket.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func getJSON(ctx context.Context, bucket jetstream.KeyValue, key string, v any) error {
	entry, err := bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(entry.Value(), v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func listKeys(ctx context.Context, bucket jetstream.KeyValue) ([]string, error) {
	keys, err := bucket.Keys(ctx)
	if err != nil {
		// Empty bucket returns ErrNoKeysFound - this is not an error.
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// RoomStore persists chat rooms.
type RoomStore struct {
	bucket jetstream.KeyValue
}

// NewRoomStore opens the rooms bucket.
func NewRoomStore(nc *natsclient.Client) (*RoomStore, error) {
	bucket, err := openBucket(nc, BucketRooms, "Chat rooms", 0)
	if err != nil {
		return nil, err
	}
	return &RoomStore{bucket: bucket}, nil
}

// Store saves a room.
func (s *RoomStore) Store(ctx context.Context, r *Room) error {
	return putJSON(ctx, s.bucket, r.ID, r)
}

// Get retrieves a room by id.
func (s *RoomStore) Get(ctx context.Context, id string) (*Room, error) {
	var r Room
	if err := getJSON(ctx, s.bucket, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// List retrieves all rooms ordered by creation time.
func (s *RoomStore) List(ctx context.Context) ([]*Room, error) {
	keys, err := listKeys(ctx, s.bucket)
	if err != nil {
		return nil, err
	}

	var rooms []*Room
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		var r Room
		if err := getJSON(ctx, s.bucket, key, &r); err != nil {
			continue // Skip errors for individual keys
		}
		rooms = append(rooms, &r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms, nil
}

// Delete removes a room.
func (s *RoomStore) Delete(ctx context.Context, id string) error {
	return s.bucket.Delete(ctx, id)
}

// MessageStore persists chat messages keyed by "{roomID}.{messageID}".
type MessageStore struct {
	bucket jetstream.KeyValue
}

// NewMessageStore opens the messages bucket.
func NewMessageStore(nc *natsclient.Client) (*MessageStore, error) {
	bucket, err := openBucket(nc, BucketMessages, "Chat messages", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	return &MessageStore{bucket: bucket}, nil
}

func messageKey(roomID, messageID string) string {
	return roomID + "." + messageID
}

// Store saves a message.
func (s *MessageStore) Store(ctx context.Context, m *Message) error {
	return putJSON(ctx, s.bucket, messageKey(m.RoomID, m.ID), m)
}

// ListByRoom retrieves all messages in a room, oldest first.
func (s *MessageStore) ListByRoom(ctx context.Context, roomID string) ([]*Message, error) {
	keys, err := listKeys(ctx, s.bucket)
	if err != nil {
		return nil, err
	}

	prefix := roomID + "."
	var messages []*Message
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var m Message
		if err := getJSON(ctx, s.bucket, key, &m); err != nil {
			continue
		}
		messages = append(messages, &m)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })
	return messages, nil
}

// PostStore persists posts.
type PostStore struct {
	bucket jetstream.KeyValue
}

// NewPostStore opens the posts bucket.
func NewPostStore(nc *natsclient.Client) (*PostStore, error) {
	bucket, err := openBucket(nc, BucketPosts, "Feed posts", 0)
	if err != nil {
		return nil, err
	}
	return &PostStore{bucket: bucket}, nil
}

// Store saves a post.
func (s *PostStore) Store(ctx context.Context, p *Post) error {
	return putJSON(ctx, s.bucket, p.ID, p)
}

// Get retrieves a post by id.
func (s *PostStore) Get(ctx context.Context, id string) (*Post, error) {
	var p Post
	if err := getJSON(ctx, s.bucket, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// List retrieves all posts ordered by creation time.
func (s *PostStore) List(ctx context.Context) ([]*Post, error) {
	keys, err := listKeys(ctx, s.bucket)
	if err != nil {
		return nil, err
	}
	var posts []*Post
	for _, key := range keys {
		var p Post
		if err := getJSON(ctx, s.bucket, key, &p); err != nil {
			continue
		}
		posts = append(posts, &p)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.Before(posts[j].CreatedAt) })
	return posts, nil
}

// AttachmentStore persists attachments keyed by "{postID}.{attachmentID}".
type AttachmentStore struct {
	bucket jetstream.KeyValue
}

// NewAttachmentStore opens the attachments bucket.
func NewAttachmentStore(nc *natsclient.Client) (*AttachmentStore, error) {
	bucket, err := openBucket(nc, BucketAttachments, "Post attachments", 0)
	if err != nil {
		return nil, err
	}
	return &AttachmentStore{bucket: bucket}, nil
}

func attachmentKey(postID, attachmentID string) string {
	return postID + "." + attachmentID
}

// Store saves an attachment.
func (s *AttachmentStore) Store(ctx context.Context, a *Attachment) error {
	return putJSON(ctx, s.bucket, attachmentKey(a.PostID, a.ID), a)
}

// Get retrieves an attachment.
func (s *AttachmentStore) Get(ctx context.Context, postID, id string) (*Attachment, error) {
	var a Attachment
	if err := getJSON(ctx, s.bucket, attachmentKey(postID, id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByPost retrieves a post's attachments in display order.
func (s *AttachmentStore) ListByPost(ctx context.Context, postID string) ([]*Attachment, error) {
	keys, err := listKeys(ctx, s.bucket)
	if err != nil {
		return nil, err
	}

	prefix := postID + "."
	var attachments []*Attachment
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var a Attachment
		if err := getJSON(ctx, s.bucket, key, &a); err != nil {
			continue
		}
		attachments = append(attachments, &a)
	}
	sort.Slice(attachments, func(i, j int) bool { return attachments[i].Order < attachments[j].Order })
	return attachments, nil
}

// SetOrder rewrites the order of a post's attachments. Unknown ids are
// reported, matched ids are written back with their new position.
func (s *AttachmentStore) SetOrder(ctx context.Context, postID string, order map[string]int) error {
	attachments, err := s.ListByPost(ctx, postID)
	if err != nil {
		return err
	}

	byID := make(map[string]*Attachment, len(attachments))
	for _, a := range attachments {
		byID[a.ID] = a
	}

	for id, pos := range order {
		a, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: attachment %s", ErrNotFound, id)
		}
		a.Order = pos
		if err := s.Store(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// ProfileStore persists user profiles.
type ProfileStore struct {
	bucket jetstream.KeyValue
}

// NewProfileStore opens the profiles bucket.
func NewProfileStore(nc *natsclient.Client) (*ProfileStore, error) {
	bucket, err := openBucket(nc, BucketProfiles, "User profiles", 0)
	if err != nil {
		return nil, err
	}
	return &ProfileStore{bucket: bucket}, nil
}

// Store saves a profile.
func (s *ProfileStore) Store(ctx context.Context, p *Profile) error {
	return putJSON(ctx, s.bucket, p.ID, p)
}

// Get retrieves a profile by user id.
func (s *ProfileStore) Get(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	if err := getJSON(ctx, s.bucket, userID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
