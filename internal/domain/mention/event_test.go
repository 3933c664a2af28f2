package mention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventAuthor(t *testing.T) {
	t.Run("resolves author from included users", func(t *testing.T) {
		ev := Event{
			EventID:  "100",
			AuthorID: "u1",
			IncludedUsers: []UserRef{
				{ID: "u2", Username: "other"},
				{ID: "u1", Username: "alice", Name: "Alice"},
			},
		}

		author, err := ev.Author()
		require.NoError(t, err)
		assert.Equal(t, "u1", author.ID)
		assert.Equal(t, "alice", author.Username)
	})

	t.Run("errors when author record is absent", func(t *testing.T) {
		ev := Event{
			EventID:       "100",
			AuthorID:      "u1",
			IncludedUsers: []UserRef{{ID: "u2", Username: "other"}},
		}

		_, err := ev.Author()
		assert.Error(t, err)
	})

	t.Run("errors on empty included users", func(t *testing.T) {
		ev := Event{EventID: "100", AuthorID: "u1"}
		_, err := ev.Author()
		assert.Error(t, err)
	})
}

func TestParseStreamPayload(t *testing.T) {
	t.Run("normalizes stream envelope", func(t *testing.T) {
		line := []byte(`{
			"data": {
				"id": "1500",
				"text": "@bot review save",
				"author_id": "u1",
				"created_at": "2024-03-01T12:00:00Z",
				"in_reply_to_user_id": "u9",
				"referenced_tweets": [
					{"type": "replied_to", "id": "1400"},
					{"type": "quoted", "id": "1300"}
				]
			},
			"includes": {"users": [{"id": "u1", "username": "alice"}]},
			"matching_rules": [{"id": "r1", "tag": "mentiond"}]
		}`)

		ev, err := ParseStreamPayload(line)
		require.NoError(t, err)
		assert.Equal(t, "1500", ev.EventID)
		assert.Equal(t, "u1", ev.AuthorID)
		assert.Equal(t, "u9", ev.InReplyToUserID)
		assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), ev.CreatedAt)
		require.Len(t, ev.References, 2)
		assert.Equal(t, ReferenceRepliedTo, ev.References[0].Type)
		assert.Equal(t, "1400", ev.References[0].ID)
		assert.Equal(t, ReferenceQuoted, ev.References[1].Type)

		author, err := ev.Author()
		require.NoError(t, err)
		assert.Equal(t, "alice", author.Username)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := ParseStreamPayload([]byte(`{not json`))
		assert.Error(t, err)
	})

	t.Run("rejects envelope without data", func(t *testing.T) {
		_, err := ParseStreamPayload([]byte(`{"includes":{}}`))
		assert.Error(t, err)
	})
}

func TestParseSearchResponse(t *testing.T) {
	t.Run("returns chronological order and newest id", func(t *testing.T) {
		body := []byte(`{
			"data": [
				{"id": "300", "text": "third", "author_id": "u1", "created_at": "2024-03-01T12:02:00Z"},
				{"id": "200", "text": "second", "author_id": "u2", "created_at": "2024-03-01T12:01:00Z"},
				{"id": "100", "text": "first", "author_id": "u1", "created_at": "2024-03-01T12:00:00Z"}
			],
			"includes": {"users": [{"id": "u1", "username": "alice"}, {"id": "u2", "username": "bob"}]},
			"meta": {"newest_id": "300", "result_count": 3}
		}`)

		events, newestID, err := ParseSearchResponse(body)
		require.NoError(t, err)
		assert.Equal(t, "300", newestID)
		require.Len(t, events, 3)
		assert.Equal(t, "100", events[0].EventID)
		assert.Equal(t, "200", events[1].EventID)
		assert.Equal(t, "300", events[2].EventID)
	})

	t.Run("empty page", func(t *testing.T) {
		events, newestID, err := ParseSearchResponse([]byte(`{"meta":{"result_count":0}}`))
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Empty(t, newestID)
	})
}

func TestParseWebhookPayload(t *testing.T) {
	t.Run("normalizes legacy push shape", func(t *testing.T) {
		body := []byte(`{
			"for_user_id": "bot1",
			"tweet_create_events": [{
				"id_str": "900",
				"text": "@bot profile",
				"created_at": "Fri Mar 01 12:00:00 +0000 2024",
				"in_reply_to_user_id_str": "bot1",
				"in_reply_to_status_id_str": "800",
				"user": {"id_str": "u5", "screen_name": "carol", "name": "Carol"},
				"entities": {"user_mentions": [{"id_str": "bot1", "screen_name": "bot"}]}
			}]
		}`)

		events, err := ParseWebhookPayload(body)
		require.NoError(t, err)
		require.Len(t, events, 1)

		ev := events[0]
		assert.Equal(t, "900", ev.EventID)
		assert.Equal(t, "u5", ev.AuthorID)
		assert.Equal(t, "bot1", ev.InReplyToUserID)
		require.Len(t, ev.References, 1)
		assert.Equal(t, ReferenceRepliedTo, ev.References[0].Type)
		assert.Equal(t, "800", ev.References[0].ID)
		assert.Equal(t, 2024, ev.CreatedAt.Year())

		author, err := ev.Author()
		require.NoError(t, err)
		assert.Equal(t, "carol", author.Username)
	})

	t.Run("skips events without a user record", func(t *testing.T) {
		body := []byte(`{"tweet_create_events": [{"id_str": "901", "text": "orphan"}]}`)
		events, err := ParseWebhookPayload(body)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("no mention events is not an error", func(t *testing.T) {
		events, err := ParseWebhookPayload([]byte(`{"for_user_id": "bot1"}`))
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
