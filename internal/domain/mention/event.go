package mention

import (
	"time"

	"github.com/replyhawk/mentiond/internal/domain/errors"
)

// Event is the normalized mention event shared by every ingest source.
// The same EventID may be observed repeatedly across sources; values are
// immutable once constructed.
type Event struct {
	EventID         string      `json:"event_id"`
	AuthorID        string      `json:"author_id"`
	Text            string      `json:"text"`
	CreatedAt       time.Time   `json:"created_at"`
	InReplyToUserID string      `json:"in_reply_to_user_id,omitempty"`
	References      []Reference `json:"references,omitempty"`
	IncludedUsers   []UserRef   `json:"included_users,omitempty"`
}

// Reference links an event to another event it replies to, quotes, or reposts.
// Order is meaningful and preserved from the platform payload.
type Reference struct {
	Type ReferenceType `json:"type"`
	ID   string        `json:"id"`
}

type ReferenceType string

const (
	ReferenceRepliedTo ReferenceType = "replied_to"
	ReferenceQuoted    ReferenceType = "quoted"
	ReferenceRetweeted ReferenceType = "retweeted"
)

// UserRef is a user record carried in an event's expansion set.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// Source labels which ingest path discovered an event.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceStream  Source = "stream"
	SourcePoll    Source = "poll"
)

// Validate checks the minimum fields every source must supply.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return errors.NewValidationError("EVENT_ID_REQUIRED", "event id is required")
	}
	if e.AuthorID == "" {
		return errors.NewValidationError("AUTHOR_ID_REQUIRED", "author id is required")
	}
	return nil
}

// Author resolves the event's author from its included users.
// Processing without author identity is not allowed, so a missing record
// is an error rather than an empty ref.
func (e *Event) Author() (UserRef, error) {
	for _, u := range e.IncludedUsers {
		if u.ID == e.AuthorID {
			return u, nil
		}
	}
	return UserRef{}, errors.ErrAuthorMissing
}
