package mention

import (
	"encoding/json"
	"time"

	"github.com/replyhawk/mentiond/internal/domain/errors"
)

// The three sources deliver shape-divergent payloads. Everything below this
// line exists to turn each of them into the one strict Event representation
// before it reaches the claim store or the queue.

// tweet is the v2-style event object carried by stream and search payloads.
type tweet struct {
	ID               string           `json:"id"`
	Text             string           `json:"text"`
	AuthorID         string           `json:"author_id"`
	CreatedAt        time.Time        `json:"created_at"`
	InReplyToUserID  string           `json:"in_reply_to_user_id,omitempty"`
	ReferencedTweets []tweetReference `json:"referenced_tweets,omitempty"`
}

type tweetReference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type includes struct {
	Users []UserRef `json:"users,omitempty"`
}

// streamEnvelope is one non-blank line of the filtered stream body.
type streamEnvelope struct {
	Data          *tweet   `json:"data"`
	Includes      includes `json:"includes"`
	MatchingRules []struct {
		ID  string `json:"id"`
		Tag string `json:"tag"`
	} `json:"matching_rules,omitempty"`
}

// searchResponse is one page of the recent-search poll endpoint.
type searchResponse struct {
	Data     []tweet  `json:"data"`
	Includes includes `json:"includes"`
	Meta     struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token,omitempty"`
	} `json:"meta"`
}

// webhookEnvelope is the account-activity push payload. Its events are
// v1-style: stringly-typed ids, embedded user objects, legacy timestamps.
type webhookEnvelope struct {
	ForUserID         string         `json:"for_user_id"`
	TweetCreateEvents []webhookTweet `json:"tweet_create_events,omitempty"`
}

type webhookTweet struct {
	IDStr                string       `json:"id_str"`
	Text                 string       `json:"text"`
	CreatedAt            string       `json:"created_at"`
	InReplyToUserIDStr   string       `json:"in_reply_to_user_id_str,omitempty"`
	InReplyToStatusIDStr string       `json:"in_reply_to_status_id_str,omitempty"`
	QuotedStatusIDStr    string       `json:"quoted_status_id_str,omitempty"`
	User                 *webhookUser `json:"user"`
	Entities             struct {
		UserMentions []webhookUser `json:"user_mentions,omitempty"`
	} `json:"entities"`
	RetweetedStatus *struct {
		IDStr string `json:"id_str"`
	} `json:"retweeted_status,omitempty"`
}

type webhookUser struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name,omitempty"`
}

// legacyTimeLayout is the v1 created_at format.
const legacyTimeLayout = "Mon Jan 02 15:04:05 -0700 2006"

func (t tweet) toEvent(inc includes) Event {
	ev := Event{
		EventID:         t.ID,
		AuthorID:        t.AuthorID,
		Text:            t.Text,
		CreatedAt:       t.CreatedAt,
		InReplyToUserID: t.InReplyToUserID,
		IncludedUsers:   inc.Users,
	}
	for _, ref := range t.ReferencedTweets {
		ev.References = append(ev.References, Reference{Type: ReferenceType(ref.Type), ID: ref.ID})
	}
	return ev
}

// ParseStreamPayload normalizes one non-blank stream line into an Event.
func ParseStreamPayload(line []byte) (Event, error) {
	var env streamEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, errors.NewValidationError("MALFORMED_STREAM_PAYLOAD", "stream payload is not valid JSON").WithCause(err)
	}
	if env.Data == nil {
		return Event{}, errors.NewValidationError("EMPTY_STREAM_PAYLOAD", "stream payload carries no event")
	}
	ev := env.Data.toEvent(env.Includes)
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ParseSearchResponse normalizes one poll page. Events are returned in
// chronological order; newestID is the page's newest event id, empty when
// the page is empty.
func ParseSearchResponse(body []byte) ([]Event, string, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", errors.NewValidationError("MALFORMED_SEARCH_RESPONSE", "search response is not valid JSON").WithCause(err)
	}
	events := make([]Event, 0, len(resp.Data))
	for _, t := range resp.Data {
		ev := t.toEvent(resp.Includes)
		if err := ev.Validate(); err != nil {
			continue
		}
		events = append(events, ev)
	}
	// Search pages arrive newest-first; callers expect chronological order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, resp.Meta.NewestID, nil
}

// ParseWebhookPayload normalizes an account-activity push body into Events.
// A payload with no mention events is valid and yields an empty slice.
func ParseWebhookPayload(body []byte) ([]Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewValidationError("MALFORMED_WEBHOOK_PAYLOAD", "webhook payload is not valid JSON").WithCause(err)
	}

	events := make([]Event, 0, len(env.TweetCreateEvents))
	for _, wt := range env.TweetCreateEvents {
		if wt.User == nil {
			continue
		}
		createdAt, err := time.Parse(legacyTimeLayout, wt.CreatedAt)
		if err != nil {
			createdAt = time.Time{}
		}
		ev := Event{
			EventID:         wt.IDStr,
			AuthorID:        wt.User.IDStr,
			Text:            wt.Text,
			CreatedAt:       createdAt,
			InReplyToUserID: wt.InReplyToUserIDStr,
			IncludedUsers:   []UserRef{{ID: wt.User.IDStr, Username: wt.User.ScreenName, Name: wt.User.Name}},
		}
		if wt.InReplyToStatusIDStr != "" {
			ev.References = append(ev.References, Reference{Type: ReferenceRepliedTo, ID: wt.InReplyToStatusIDStr})
		}
		if wt.QuotedStatusIDStr != "" {
			ev.References = append(ev.References, Reference{Type: ReferenceQuoted, ID: wt.QuotedStatusIDStr})
		}
		if wt.RetweetedStatus != nil {
			ev.References = append(ev.References, Reference{Type: ReferenceRetweeted, ID: wt.RetweetedStatus.IDStr})
		}
		for _, m := range wt.Entities.UserMentions {
			ev.IncludedUsers = append(ev.IncludedUsers, UserRef{ID: m.IDStr, Username: m.ScreenName, Name: m.Name})
		}
		if err := ev.Validate(); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
