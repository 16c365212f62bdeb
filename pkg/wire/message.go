package wire

import (
	"time"

	"github.com/google/uuid"
)

// Link actions.
const (
	ActionLink   = "link"
	ActionUnlink = "unlink"
)

// LinkMessage is published to device/{id}/link.
type LinkMessage struct {
	Action    string `json:"action"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewLink builds a link request.
func NewLink(userID, username, clientID string, now time.Time) LinkMessage {
	return LinkMessage{
		Action:    ActionLink,
		UserID:    userID,
		Username:  username,
		ClientID:  clientID,
		Timestamp: now.UnixMilli(),
	}
}

// NewUnlink builds an unlink request.
func NewUnlink(now time.Time) LinkMessage {
	return LinkMessage{Action: ActionUnlink, Timestamp: now.UnixMilli()}
}

// Status is reported by a peer on device/{id}/status.
type Status struct {
	Connected bool `json:"connected"`
}

// Notification is forwarded to device/{id}/notification.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	AppName   string `json:"appName,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewNotification builds a notification with a fresh ID.
func NewNotification(title, content, appName string, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		AppName:   appName,
		Timestamp: now.UnixMilli(),
	}
}

// Time returns the notification timestamp.
func (n Notification) Time() time.Time {
	return time.UnixMilli(n.Timestamp)
}

// DiscoverRequest is published to discover-request.
type DiscoverRequest struct {
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// DiscoverResponse is published by a peer to discover-response/{peerId}.
type DiscoverResponse struct {
	Available bool   `json:"available"`
	Name      string `json:"name,omitempty"`
}

// Broadcast is published to the broadcast topic.
type Broadcast struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}
