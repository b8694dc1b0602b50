package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/places"
)

const detailScript = `(() => {
	const text = (el) => ((el && (el.innerText || el.textContent)) || '').trim();
	const attr = (sel, name) => {
		const el = document.querySelector(sel);
		return el ? (el.getAttribute(name) || '') : '';
	};
	const names = [];
	for (const sel of ['h1.DUwDvf', 'h1.fontHeadlineLarge', 'h1', 'div.fontHeadlineLarge span', '[role="main"] h1']) {
		const el = document.querySelector(sel);
		if (el) { names.push(text(el)); }
	}
	const phones = [
		attr('button[data-item-id*="phone"]', 'aria-label'),
		attr('a[href^="tel:"]', 'href'),
	];
	document.querySelectorAll('button[aria-label]').forEach((b) => {
		const label = b.getAttribute('aria-label') || '';
		if (label.includes('Phone') || label.includes('Điện thoại')) { phones.push(label); }
	});
	document.querySelectorAll('div.rogA2c').forEach((d) => phones.push(text(d)));
	const main = document.querySelector('[role="main"]') || document.body;
	const markers = ['Open', 'Closes', 'Opens', 'Mở cửa', 'Đóng cửa', '24 hours', '24 giờ'];
	const hoursTexts = [];
	document.querySelectorAll('div').forEach((d) => {
		if (hoursTexts.length >= 5 || d.children.length > 0 || !d.parentElement) { return; }
		const t = text(d);
		if (markers.some((m) => t.includes(m))) { hoursTexts.push(text(d.parentElement)); }
	});
	return {
		url: location.href,
		names: names,
		phones: phones,
		addressLabel: attr('button[data-item-id*="address"]', 'aria-label'),
		addressTexts: Array.from(document.querySelectorAll('div.fontBodyMedium')).map(text),
		panelText: text(main),
		websiteLabel: attr('[data-item-id*="authority"], button[data-item-id*="website"]', 'aria-label'),
		websiteLinks: Array.from(main.querySelectorAll('a[href^="http"]')).map((a) => a.href),
		hoursLabel: attr('[data-item-id*="hours"]', 'aria-label'),
		hoursTexts: hoursTexts,
	};
})()`

// Open creates a fresh tab for one extraction attempt. The tab closes when
// the handle is closed or ctx ends.
func (s *Session) Open(ctx context.Context) (crawler.Handle, error) {
	tabCtx, closeTab, err := s.newTab(ctx)
	if err != nil {
		return nil, err
	}
	return &tab{session: s, ctx: tabCtx, close: closeTab}, nil
}

type tab struct {
	session *Session
	ctx     context.Context
	close   context.CancelFunc
	once    sync.Once
}

// Extract loads the listing page and normalizes its detail panel.
func (t *tab) Extract(ctx context.Context, itemID string) (crawler.Record, error) {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, chromedp.Navigate(itemID)); err != nil {
		return nil, classify(ctx, itemID, fmt.Errorf("navigate: %w", err))
	}
	t.waitForName(runCtx, itemID)
	if err := crawler.Sleep(ctx, t.session.cfg.Settle); err != nil {
		return nil, classify(ctx, itemID, err)
	}

	var raw places.Raw
	if err := chromedp.Run(runCtx, chromedp.Evaluate(detailScript, &raw)); err != nil {
		return nil, classify(ctx, itemID, fmt.Errorf("read detail panel: %w", err))
	}
	if raw.URL == "" {
		raw.URL = itemID
	}
	rec, err := places.Normalize(raw)
	if err != nil {
		return nil, &crawler.PermanentItemError{ItemID: itemID, Err: err}
	}
	return rec, nil
}

// waitForName gives the heading a bounded chance to render. Extraction
// proceeds either way.
func (t *tab) waitForName(runCtx context.Context, itemID string) {
	wait := t.session.cfg.NameWait
	if wait <= 0 {
		return
	}
	waitCtx, cancel := context.WithTimeout(runCtx, wait)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible("h1", chromedp.ByQuery)); err != nil {
		t.session.logger.Debug("listing heading not visible", zap.String("url", itemID), zap.Error(err))
	}
}

// Close closes the tab. Later calls are no-ops.
func (t *tab) Close() error {
	t.once.Do(t.close)
	return nil
}

// classify maps a browser failure onto the crawl error taxonomy. A missed
// deadline is transient; cancellation is returned as-is.
func classify(ctx context.Context, itemID string, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return &crawler.TransientItemError{ItemID: itemID, Err: err}
	case ctxErr != nil:
		return fmt.Errorf("%w: %w", ctxErr, err)
	case crawler.IsTimeout(err):
		return &crawler.TransientItemError{ItemID: itemID, Err: err}
	default:
		return &crawler.PermanentItemError{ItemID: itemID, Err: err}
	}
}
