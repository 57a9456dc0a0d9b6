package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Client talks to the social-graph service. It answers the two questions
// the messaging core asks: do two users mutually follow, and which user
// does a mention handle refer to.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type mutualResp struct {
	Mutual bool `json:"mutual"`
}

// MutuallyFollow implements gate.RelationshipOracle.
func (c *Client) MutuallyFollow(ctx context.Context, userA, userB string) (bool, error) {
	q := url.Values{}
	q.Set("user_a", userA)
	q.Set("user_b", userB)
	var out mutualResp
	if err := c.getJSON(ctx, "/v1/relationships/mutual?"+q.Encode(), &out); err != nil {
		return false, err
	}
	return out.Mutual, nil
}

type resolveResp struct {
	UserID string `json:"user_id"`
}

// ResolveMention implements mention.UserLookup. An unknown handle is not
// an error; it reports ok=false.
func (c *Client) ResolveMention(ctx context.Context, handle string, _ []string) (string, bool, error) {
	q := url.Values{}
	q.Set("handle", handle)
	var out resolveResp
	err := c.getJSON(ctx, "/v1/users/resolve?"+q.Encode(), &out)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return out.UserID, out.UserID != "", nil
}

var errNotFound = errors.New("social: not found")

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "social request")
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		return errors.Errorf("social %s: status %d", path, resp.StatusCode)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
