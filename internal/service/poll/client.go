package poll

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/replyhawk/mentiond/internal/domain/errors"
	"github.com/replyhawk/mentiond/internal/domain/mention"
)

// SearchClient fetches mention events newer than a cursor, in chronological
// order, up to pageSize per call. newestID is the newest event id observed
// in the page, empty for an empty page.
type SearchClient interface {
	Search(ctx context.Context, sinceID string, pageSize int) (events []mention.Event, newestID string, err error)
}

// HTTPSearchClient implements SearchClient against the recent-search
// endpoint, rate limited to stay inside the platform's search quota.
type HTTPSearchClient struct {
	url     string
	token   string
	query   string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPSearchClient(searchURL, bearerToken, query string) *HTTPSearchClient {
	return &HTTPSearchClient{
		url:    searchURL,
		token:  bearerToken,
		query:  query,
		client: &http.Client{Timeout: 15 * time.Second},
		// Search quota is per 15-minute window; one request every few
		// seconds keeps well under it.
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (c *HTTPSearchClient) Search(ctx context.Context, sinceID string, pageSize int) ([]mention.Event, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	params := url.Values{}
	params.Set("query", c.query)
	params.Set("max_results", strconv.Itoa(pageSize))
	params.Set("tweet.fields", "author_id,created_at,in_reply_to_user_id,referenced_tweets")
	params.Set("expansions", "author_id,entities.mentions.username")
	params.Set("user.fields", "username,name")
	if sinceID != "" {
		params.Set("since_id", sinceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+params.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", errors.NewExternalError("search", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, "", errors.NewRateLimitError("search rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", errors.NewExternalError("search", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading search response: %w", err)
	}

	return mention.ParseSearchResponse(body)
}
