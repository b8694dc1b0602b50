package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	feedSelector = `div[role="feed"]`

	scrollFeedScript = `(() => {
	const feed = document.querySelector('div[role="feed"]');
	if (feed) { feed.scrollBy(0, feed.scrollHeight); }
	for (const sel of ['a[href*="/maps/place/"]', 'div[role="article"]', 'a.hfpxzc']) {
		const n = document.querySelectorAll(sel).length;
		if (n > 0) { return n; }
	}
	return 0;
})()`

	collectLinksScript = `(() => {
	for (const sel of ['a.hfpxzc', 'a[href*="/maps/place/"]']) {
		const links = Array.from(document.querySelectorAll(sel)).map((a) => a.href || '');
		if (links.length > 0) { return links; }
	}
	return [];
})()`
)

// SearchURL builds the map-search URL for query.
func SearchURL(base, query string) string {
	return base + url.QueryEscape(strings.TrimSpace(query))
}

// Discover searches for query and scrolls the result feed until it stops
// growing. It returns distinct listing URLs, at most MaxItems when set. A
// search with no result feed yields an empty list.
func (s *Session) Discover(ctx context.Context, query string) ([]string, error) {
	tabCtx, closeTab, err := s.newTab(ctx)
	if err != nil {
		return nil, err
	}
	defer closeTab()

	target := SearchURL(s.cfg.SearchURL, query)
	if err := chromedp.Run(tabCtx, chromedp.Navigate(target)); err != nil {
		return nil, s.discoveryErr(ctx, fmt.Errorf("navigate to search: %w", err))
	}

	feedCtx, cancel := context.WithTimeout(tabCtx, s.cfg.FeedTimeout)
	err = chromedp.Run(feedCtx, chromedp.WaitVisible(feedSelector, chromedp.ByQuery))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("result feed not found", zap.String("query", query), zap.Error(err))
		return nil, nil
	}

	count, err := s.scrollFeed(ctx, tabCtx)
	if err != nil {
		return nil, s.discoveryErr(ctx, err)
	}

	var hrefs []string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(collectLinksScript, &hrefs)); err != nil {
		return nil, s.discoveryErr(ctx, fmt.Errorf("collect listing links: %w", err))
	}
	links := PlaceLinks(hrefs, s.cfg.MaxItems)
	s.logger.Info("discovery finished",
		zap.String("query", query),
		zap.Int("loaded", count),
		zap.Int("links", len(links)),
	)
	return links, nil
}

// scrollFeed returns the number of loaded results once the feed stops
// growing or the round limit is hit.
func (s *Session) scrollFeed(ctx, tabCtx context.Context) (int, error) {
	tracker := stallTracker{limit: s.cfg.StallRounds}
	for round := 0; round < s.cfg.ScrollRounds; round++ {
		var count int
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(scrollFeedScript, &count)); err != nil {
			return tracker.best, fmt.Errorf("scroll feed: %w", err)
		}
		if err := s.sleep(ctx, s.cfg.ScrollPause); err != nil {
			return tracker.best, err
		}
		if tracker.observe(count) {
			s.logger.Debug("feed stopped growing", zap.Int("round", round+1), zap.Int("count", tracker.best))
			break
		}
	}
	return tracker.best, nil
}

func (s *Session) discoveryErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}

// stallTracker counts consecutive rounds without growth.
type stallTracker struct {
	limit  int
	best   int
	stalls int
}

// observe records a count and reports whether the limit of stalled rounds
// was reached.
func (t *stallTracker) observe(count int) bool {
	if count > t.best {
		t.best = count
		t.stalls = 0
		return false
	}
	t.stalls++
	return t.stalls >= t.limit
}

// PlaceLinks keeps listing URLs in first-seen order, drops duplicates and
// non-listing links, and caps the result at limit. A limit of 0 means no cap.
func PlaceLinks(hrefs []string, limit int) []string {
	seen := make(map[string]struct{}, len(hrefs))
	links := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if !strings.Contains(href, "/maps/place/") {
			continue
		}
		if _, ok := seen[href]; ok {
			continue
		}
		seen[href] = struct{}{}
		links = append(links, href)
		if len(links) == limit {
			break
		}
	}
	return links
}
