package gateway

import "fmt"

// Mutation names accepted by Send.
const (
	MutationCreateRoom         = "create-room"
	MutationSendMessage        = "send-message"
	MutationCreatePost         = "create-post"
	MutationToggleLike         = "toggle-like"
	MutationSaveAttachment     = "save-attachment"
	MutationReorderAttachments = "reorder-attachments"
)

// CreateRoom creates a chat room.
type CreateRoom struct {
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

// Validate checks the payload shape.
func (p CreateRoom) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: room name is required", ErrValidation)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return nil
}

// SendMessage posts a chat message to a room.
type SendMessage struct {
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// Validate checks the payload shape.
func (p SendMessage) Validate() error {
	if p.Content == "" || p.RoomID == "" {
		return fmt.Errorf("%w: message content and room id are required", ErrValidation)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return nil
}

// CreatePost creates a feed post.
type CreatePost struct {
	Title  string `json:"title"`
	UserID string `json:"user_id"`
}

// Validate checks the payload shape.
func (p CreatePost) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("%w: post title is required", ErrValidation)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return nil
}

// ToggleLike sets the like state of a post. Liked is the desired end
// state, not a delta, so redelivery cannot double-count.
type ToggleLike struct {
	PostID string `json:"post_id"`
	UserID string `json:"user_id"`
	Liked  bool   `json:"liked"`
}

// Validate checks the payload shape.
func (p ToggleLike) Validate() error {
	if p.PostID == "" {
		return fmt.Errorf("%w: post id is required", ErrValidation)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return nil
}

// OrderUpdate assigns one attachment its new integer index.
type OrderUpdate struct {
	ID       string `json:"id"`
	NewOrder int    `json:"new_order"`
}

// ReorderAttachments rewrites the display order of a post's
// attachments. Items lists every affected id with its new dense
// zero-based index.
type ReorderAttachments struct {
	PostID string        `json:"post_id"`
	Items  []OrderUpdate `json:"items"`
}

// Validate checks the payload shape.
func (p ReorderAttachments) Validate() error {
	if p.PostID == "" {
		return fmt.Errorf("%w: post id is required", ErrValidation)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("%w: order items are required", ErrValidation)
	}
	seen := make(map[int]string, len(p.Items))
	for _, item := range p.Items {
		if item.ID == "" {
			return fmt.Errorf("%w: order item without id", ErrValidation)
		}
		if prev, dup := seen[item.NewOrder]; dup {
			return fmt.Errorf("%w: order %d assigned to both %s and %s", ErrValidation, item.NewOrder, prev, item.ID)
		}
		seen[item.NewOrder] = item.ID
	}
	return nil
}

// SaveAttachment records an uploaded file against a post. The order is
// assigned server-side as the current attachment count.
type SaveAttachment struct {
	PostID   string `json:"post_id"`
	UserID   string `json:"user_id"`
	FilePath string `json:"file_path"`
}

// Validate checks the payload shape.
func (p SaveAttachment) Validate() error {
	if p.PostID == "" || p.FilePath == "" {
		return fmt.Errorf("%w: post id and file path are required", ErrValidation)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return nil
}
