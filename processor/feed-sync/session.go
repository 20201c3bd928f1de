package feedsync

import (
	"fmt"

	"github.com/c360studio/feedsync/feed"
	"github.com/c360studio/feedsync/reconcile"
	"github.com/c360studio/feedsync/store"
)

// View names within a session. Rooms and posts are global lists;
// messages and attachments are scoped views opened on demand.
const (
	ViewRooms = "rooms"
	ViewPosts = "posts"
)

// ViewRoomMessages names the message view for one room.
func ViewRoomMessages(roomID string) string {
	return "messages:" + roomID
}

// ViewPostAttachments names the attachment view for one post.
func ViewPostAttachments(postID string) string {
	return "attachments:" + postID
}

// session holds one client's optimistic views. Each view is its own
// store and controller; the component routes pushes to every session
// holding the matching view.
type session struct {
	id          string
	controllers map[string]*reconcile.Controller
}

func (s *session) close() {
	for _, ctrl := range s.controllers {
		ctrl.Close()
	}
}

// routeKey returns the view a push belongs to, or empty when the push
// cannot be routed.
func routeKey(collection string, p store.Push) string {
	switch collection {
	case feed.CollectionRooms:
		return ViewRooms
	case feed.CollectionPosts:
		return ViewPosts
	case feed.CollectionMessages:
		roomID, _ := p.Entity.Fields["room_id"].(string)
		if roomID == "" {
			return ""
		}
		return ViewRoomMessages(roomID)
	case feed.CollectionAttachments:
		postID, _ := p.Entity.Fields["post_id"].(string)
		if postID == "" {
			return ""
		}
		return ViewPostAttachments(postID)
	}
	return ""
}

// collectionOfView maps a view name back to its collection for metrics
// and controller labeling.
func collectionOfView(view string) string {
	switch {
	case view == ViewRooms:
		return feed.CollectionRooms
	case view == ViewPosts:
		return feed.CollectionPosts
	case len(view) > len("messages:") && view[:len("messages:")] == "messages:":
		return feed.CollectionMessages
	case len(view) > len("attachments:") && view[:len("attachments:")] == "attachments:":
		return feed.CollectionAttachments
	}
	return ""
}

func validateView(view string) error {
	if collectionOfView(view) == "" {
		return fmt.Errorf("unknown view %q", view)
	}
	return nil
}
