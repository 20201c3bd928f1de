package feed

import (
	"github.com/c360studio/feedsync/store"
)

// Translations between domain records and the optimistic store's
// generic entity form. Field names mirror the JSON wire tags so that a
// view snapshot reads the same as a stored record.

// Entity converts the room to store form. Rooms correlate on name.
func (r Room) Entity() store.Entity {
	return store.Entity{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Fields: map[string]any{
			"name":       r.Name,
			"created_by": r.CreatedBy,
		},
	}
}

// RoomFromEntity rebuilds a room from store form.
func RoomFromEntity(e store.Entity) Room {
	return Room{
		ID:        e.ID,
		Name:      stringField(e, "name"),
		CreatedBy: stringField(e, "created_by"),
		CreatedAt: e.CreatedAt,
	}
}

// Entity converts the message to store form.
func (m Message) Entity() store.Entity {
	return store.Entity{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Fields: map[string]any{
			"room_id":    m.RoomID,
			"user_id":    m.UserID,
			"content":    m.Content,
			"username":   m.Username,
			"avatar_url": m.AvatarURL,
		},
	}
}

// MessageFromEntity rebuilds a message from store form.
func MessageFromEntity(e store.Entity) Message {
	return Message{
		ID:        e.ID,
		RoomID:    stringField(e, "room_id"),
		UserID:    stringField(e, "user_id"),
		Content:   stringField(e, "content"),
		Username:  stringField(e, "username"),
		AvatarURL: stringField(e, "avatar_url"),
		CreatedAt: e.CreatedAt,
	}
}

// Entity converts the post to store form. is_liked and likes are the
// toggle pair used by like intents.
func (p Post) Entity() store.Entity {
	return store.Entity{
		ID:        p.ID,
		CreatedAt: p.CreatedAt,
		Fields: map[string]any{
			"user_id":  p.UserID,
			"title":    p.Title,
			"likes":    p.Likes,
			"is_liked": p.IsLiked,
		},
	}
}

// PostFromEntity rebuilds a post from store form.
func PostFromEntity(e store.Entity) Post {
	return Post{
		ID:        e.ID,
		UserID:    stringField(e, "user_id"),
		Title:     stringField(e, "title"),
		Likes:     intField(e, "likes"),
		IsLiked:   boolField(e, "is_liked"),
		CreatedAt: e.CreatedAt,
	}
}

// Entity converts the attachment to store form. Order maps onto the
// store's order key.
func (a Attachment) Entity() store.Entity {
	return store.Entity{
		ID:        a.ID,
		OrderKey:  a.Order,
		CreatedAt: a.CreatedAt,
		Fields: map[string]any{
			"post_id":   a.PostID,
			"file_path": a.FilePath,
		},
	}
}

// AttachmentFromEntity rebuilds an attachment from store form.
func AttachmentFromEntity(e store.Entity) Attachment {
	return Attachment{
		ID:        e.ID,
		PostID:    stringField(e, "post_id"),
		FilePath:  stringField(e, "file_path"),
		Order:     e.OrderKey,
		CreatedAt: e.CreatedAt,
	}
}

func stringField(e store.Entity, key string) string {
	if v, ok := e.Fields[key].(string); ok {
		return v
	}
	return ""
}

func intField(e store.Entity, key string) int {
	switch v := e.Fields[key].(type) {
	case int:
		return v
	case float64:
		// JSON round-trips land here.
		return int(v)
	}
	return 0
}

func boolField(e store.Entity, key string) bool {
	if v, ok := e.Fields[key].(bool); ok {
		return v
	}
	return false
}
