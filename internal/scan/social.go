package scan

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// collectDiscussions walks the tracked cities' communities one at a time,
// with a politeness delay between them; comment threads inside a community
// fetch through a bounded pool.
func (s *Scanner) collectDiscussions(ctx context.Context, events chan<- event) {
	if s.reddit == nil || s.cfg.Scan.RedditPostsPerCity <= 0 {
		return
	}

	first := true
	for _, city := range s.cfg.Cities {
		if city.Subreddit == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if !first {
			s.batchDelay(ctx)
		}
		first = false
		s.scanCommunity(ctx, city, events)
	}
}

func (s *Scanner) scanCommunity(ctx context.Context, city pipeline.City, events chan<- event) {
	label := "r/" + city.Subreddit
	posts, err := s.reddit.SubredditPosts(ctx, city.Subreddit, s.cfg.Scan.RedditPostsPerCity)
	if err != nil {
		s.logger.Warn("community unreachable",
			zap.String("community", label),
			zap.Error(err),
		)
		events <- event{failure: true}
		return
	}
	s.logger.Info("community scanned", zap.String("community", label), zap.Int("posts", len(posts)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Scan.CommentWorkers)
	for _, post := range posts {
		if s.store.Has(ctx, post.URL) {
			events <- event{skipped: true}
			continue
		}
		s.store.Put(ctx, post.URL, pipeline.KindDiscussionPost)

		body := post.Selftext
		if body == "" {
			body = post.Title
		}
		item := pipeline.Item{
			Kind:        pipeline.KindDiscussionPost,
			SourceLabel: label,
			URL:         post.URL,
			Title:       post.Title,
			Body:        body,
			Cities:      []string{city.ID},
		}
		if post.CreatedAt.Unix() > 0 {
			created := post.CreatedAt
			item.PublishedAt = &created
		}
		item.Cities = s.tagger.Tag(gctx, &item)
		events <- event{item: &item}

		g.Go(func() error {
			s.fetchComments(gctx, city, label, post.URL, post.Title, events)
			return nil
		})
	}
	_ = g.Wait()
}

// fetchComments pulls one post's top-level comments. Comments inherit the
// parent post's URL for citation and are not individually deduped.
func (s *Scanner) fetchComments(ctx context.Context, city pipeline.City, label, postURL, postTitle string, events chan<- event) {
	comments, err := s.reddit.Comments(ctx, postURL, s.cfg.Scan.CommentsPerPost)
	if err != nil {
		s.logger.Debug("comment fetch failed", zap.String("post", postURL), zap.Error(err))
		events <- event{failure: true}
		return
	}
	if len(comments) == 0 {
		return
	}
	s.store.AddComments(ctx, len(comments))
	for _, text := range comments {
		events <- event{item: &pipeline.Item{
			Kind:        pipeline.KindDiscussionComment,
			SourceLabel: label,
			URL:         postURL,
			Title:       postTitle,
			Body:        text,
			Cities:      []string{city.ID},
		}}
	}
}
