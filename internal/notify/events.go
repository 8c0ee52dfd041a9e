package notify

import (
	"fmt"
	"strings"
	"time"
)

// File event types broadcast by the file service.
const (
	EventFileCreated = "file:created"
	EventFileUpdated = "file:updated"
	EventFileDeleted = "file:deleted"
	EventFileRenamed = "file:renamed"
	EventFileShared  = "file:shared"
)

// FileEventTypes lists every file event type.
var FileEventTypes = []string{
	EventFileCreated,
	EventFileUpdated,
	EventFileDeleted,
	EventFileRenamed,
	EventFileShared,
}

// FileEvent is the payload of a file:* notification. Fields that do not
// apply to an event type are empty.
type FileEvent struct {
	Type       string    `json:"-"`
	Path       string    `json:"path,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	OldPath    string    `json:"oldPath,omitempty"`
	NewPath    string    `json:"newPath,omitempty"`
	Permission string    `json:"permission,omitempty"`
	SharedWith string    `json:"sharedWith,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Action returns the event type without the "file:" prefix, e.g. "created".
func (e FileEvent) Action() string {
	return strings.TrimPrefix(e.Type, "file:")
}

// IsFileEvent reports whether eventType is one of the file:* events.
func IsFileEvent(eventType string) bool {
	for _, t := range FileEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// DecodeFileEvent decodes a file:* notification.
func DecodeFileEvent(n Notification) (FileEvent, error) {
	if !IsFileEvent(n.Type) {
		return FileEvent{}, fmt.Errorf("not a file event: %q", n.Type)
	}
	var e FileEvent
	if err := n.Decode(&e); err != nil {
		return FileEvent{}, fmt.Errorf("decode %s: %w", n.Type, err)
	}
	e.Type = n.Type
	return e, nil
}
