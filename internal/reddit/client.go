// Package reddit reads subreddit listings and comment threads through the
// public JSON endpoints, no OAuth involved.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// Hosts tried in order; api.reddit.com is the least likely to bounce
// unauthenticated JSON requests.
var defaultHosts = []string{"api.reddit.com", "old.reddit.com", "www.reddit.com"}

const pageSize = 50

// Post is one subreddit submission.
type Post struct {
	Title     string
	URL       string // canonical permalink
	Selftext  string
	CreatedAt time.Time
}

// Client fetches subreddit content via a pipeline.Fetcher so listings share
// the same rate limiting and retry budget as everything else.
type Client struct {
	fetcher pipeline.Fetcher
	logger  *zap.Logger
	hosts   []string
}

func New(fetcher pipeline.Fetcher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher: fetcher,
		logger:  logger,
		hosts:   defaultHosts,
	}
}

// Reddit's listing envelope. Children carry kind "t3" for submissions and
// "t1" for comments.
type listingEnvelope struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	Children []child `json:"children"`
	After    string  `json:"after"`
}

type child struct {
	Kind string    `json:"kind"`
	Data childData `json:"data"`
}

type childData struct {
	Title      string  `json:"title"`
	Permalink  string  `json:"permalink"`
	Selftext   string  `json:"selftext"`
	Body       string  `json:"body"`
	CreatedUTC float64 `json:"created_utc"`
}

// SubredditPosts returns up to limit recent submissions from r/subreddit,
// paginating with the listing's after token until the quota or the feed runs
// out.
func (c *Client) SubredditPosts(ctx context.Context, subreddit string, limit int) ([]Post, error) {
	if limit <= 0 {
		return nil, nil
	}

	host, first, err := c.firstPage(ctx, subreddit)
	if err != nil {
		return nil, err
	}

	var posts []Post
	after := ""
	page := first
	for {
		for _, ch := range page.Data.Children {
			if ch.Kind != "t3" {
				continue
			}
			p := Post{
				Title:    strings.TrimSpace(ch.Data.Title),
				Selftext: strings.TrimSpace(ch.Data.Selftext),
			}
			if ch.Data.Permalink != "" {
				p.URL = "https://www.reddit.com" + ch.Data.Permalink
			}
			if ch.Data.CreatedUTC > 0 {
				p.CreatedAt = time.Unix(int64(ch.Data.CreatedUTC), 0).UTC()
			}
			if p.Title == "" || p.URL == "" {
				continue
			}
			posts = append(posts, p)
			if len(posts) >= limit {
				return posts, nil
			}
		}

		after = page.Data.After
		if after == "" {
			return posts, nil
		}
		page, err = c.listingPage(ctx, host, subreddit, after)
		if err != nil {
			// pagination failure keeps what we already have
			c.logger.Warn("reddit pagination stopped",
				zap.String("subreddit", subreddit),
				zap.Error(err),
			)
			return posts, nil
		}
	}
}

// firstPage walks the host fallback chain and pins the first host that
// answers with a parseable listing.
func (c *Client) firstPage(ctx context.Context, subreddit string) (string, *listingEnvelope, error) {
	var lastErr error
	for _, host := range c.hosts {
		page, err := c.listingPage(ctx, host, subreddit, "")
		if err != nil {
			lastErr = err
			continue
		}
		return host, page, nil
	}
	return "", nil, fmt.Errorf("subreddit %s unreachable on all hosts: %w", subreddit, lastErr)
}

func (c *Client) listingPage(ctx context.Context, host, subreddit, after string) (*listingEnvelope, error) {
	url := fmt.Sprintf("https://%s/r/%s/.json?limit=%d&raw_json=1", host, subreddit, pageSize)
	if after != "" {
		url += "&after=" + after
	}
	body, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", url, err)
	}
	return &env, nil
}

// Comments returns up to limit top-level comment bodies for a post permalink.
// A thread payload is a two-element array: the submission listing and the
// comment listing.
func (c *Client) Comments(ctx context.Context, permalink string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	url := strings.TrimRight(permalink, "/") + ".json?raw_json=1"
	body, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", url, err)
	}
	if len(payload) < 2 {
		return nil, nil
	}
	var env listingEnvelope
	if err := json.Unmarshal(payload[1], &env); err != nil {
		return nil, fmt.Errorf("decode comment listing %s: %w", url, err)
	}

	var comments []string
	for _, ch := range env.Data.Children {
		if ch.Kind != "t1" {
			continue
		}
		text := strings.TrimSpace(ch.Data.Body)
		if text == "" || text == "[deleted]" || text == "[removed]" {
			continue
		}
		comments = append(comments, text)
		if len(comments) >= limit {
			break
		}
	}
	return comments, nil
}
