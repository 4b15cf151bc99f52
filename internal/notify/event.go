// Package notify delivers document change events to interested parties.
package notify

import (
	"strings"
	"time"

	"github.com/gogotex/document-service/internal/document"
)

type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// TimestampLayout is the human-readable timestamp the notification service expects.
const TimestampLayout = "2006-01-02 15:04:05"

var templates = map[EventType]string{
	EventCreate: "{owner} has added a new document named {name}.",
	EventUpdate: "{owner} has updated the document named {name}.",
	EventDelete: "{owner} has deleted the document named {name}.",
}

// Event is the JSON body posted to the notification service.
type Event struct {
	Receiver     string    `json:"receiver"`
	DocumentName string    `json:"documentName"`
	DocumentID   string    `json:"documentId"`
	Revision     int       `json:"revision"`
	Timestamp    string    `json:"timestamp"`
	EventType    EventType `json:"eventType"`
	Message      string    `json:"message"`
}

// NewEvent describes rev having been written as typ at now.
func NewEvent(typ EventType, rev *document.Revision, now time.Time) Event {
	owner, name := rev.Metadata.Owner, rev.Metadata.Name
	if name == "" {
		name = rev.DocumentID
	}
	msg := strings.NewReplacer("{owner}", ownerOrSomeone(owner), "{name}", name).Replace(templates[typ])
	return Event{
		Receiver:     owner,
		DocumentName: name,
		DocumentID:   rev.DocumentID,
		Revision:     rev.Number,
		Timestamp:    now.Format(TimestampLayout),
		EventType:    typ,
		Message:      msg,
	}
}

func ownerOrSomeone(owner string) string {
	if owner == "" {
		return "Someone"
	}
	return owner
}
