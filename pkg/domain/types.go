package domain

import "time"

type Role string

const (
	RoleVisitor   Role = "visitor"
	RoleModerator Role = "moderator"
)

// Identity describes an authenticated requester. A zero UserID means the
// requester is anonymous.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Roles       []Role `json:"roles,omitempty"`
}

// Anonymous reports whether the identity carries no stable user id.
func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

// HasRole reports whether the identity carries the given role.
func (i Identity) HasRole(role Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Message is a single guestbook entry. Author fields are resolved once at
// submission time; Body, the author fields, and CreatedAt are immutable
// after creation.
type Message struct {
	ID                string    `json:"id"`
	AuthorUserID      string    `json:"authorUserId,omitempty"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	AuthorAvatarURL   string    `json:"authorAvatarUrl,omitempty"`
	Body              string    `json:"body"`
	CreatedAt         time.Time `json:"createdAt"`
	Visible           bool      `json:"visible"`
}

// MoreRecent reports whether a sorts before b in a newest-first feed.
// Timestamp ties break on id descending so the order is total.
func MoreRecent(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventDelete EventKind = "delete"
	EventHide   EventKind = "hide"
	EventUnhide EventKind = "unhide"
)

// Event is a single feed broadcast. Insert events carry the full message;
// the other kinds carry only the message id.
type Event struct {
	Kind      EventKind `json:"kind"`
	MessageID string    `json:"messageId"`
	Message   *Message  `json:"message,omitempty"`
}

// InsertEvent builds the broadcast for a newly persisted message.
func InsertEvent(msg Message) Event {
	return Event{Kind: EventInsert, MessageID: msg.ID, Message: &msg}
}

// DeleteEvent builds the broadcast for a permanently removed message.
func DeleteEvent(id string) Event {
	return Event{Kind: EventDelete, MessageID: id}
}

// VisibilityEvent builds the broadcast for a moderation hide or unhide.
func VisibilityEvent(id string, visible bool) Event {
	kind := EventHide
	if visible {
		kind = EventUnhide
	}
	return Event{Kind: kind, MessageID: id}
}
