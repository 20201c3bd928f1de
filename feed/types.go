// Package feed defines the collaborative feed domain: chat rooms,
// messages, posts, attachments, and profiles, together with their
// NATS-backed stores, realtime event shapes, and translations to and
// from the optimistic store's entity form.
package feed

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Collection names used in event subjects and push routing.
const (
	CollectionRooms       = "rooms"
	CollectionMessages    = "messages"
	CollectionPosts       = "posts"
	CollectionAttachments = "attachments"
)

// Room is a chat room.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a chat message. Username and AvatarURL are denormalized
// from the sender's profile; realtime pushes arrive without them and
// the adapter enriches before merge.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Username  string    `json:"username,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is a feed post with its like state as seen by one user.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Likes     int       `json:"likes"`
	IsLiked   bool      `json:"is_liked"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is an uploaded file attached to a post. Order is the
// dense zero-based display position within the post.
type Attachment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	FilePath  string    `json:"file_path"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the public identity attached to messages.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// NewRoomID generates a room id (format: r-{uuid8}).
func NewRoomID() string { return fmt.Sprintf("r-%s", uuid.New().String()[:8]) }

// NewMessageID generates a message id (format: m-{uuid8}).
func NewMessageID() string { return fmt.Sprintf("m-%s", uuid.New().String()[:8]) }

// NewPostID generates a post id (format: p-{uuid8}).
func NewPostID() string { return fmt.Sprintf("p-%s", uuid.New().String()[:8]) }

// NewAttachmentID generates an attachment id (format: a-{uuid8}).
func NewAttachmentID() string { return fmt.Sprintf("a-%s", uuid.New().String()[:8]) }
