package extract

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromedpFetcher renders pages in a long-lived headless browser before
// extraction, for sites that assemble their body client-side.
// Construct once; call Fetch per URL; Close on shutdown.
type ChromedpFetcher struct {
	allocCtx  context.Context
	cancelAll context.CancelFunc
	brCtx     context.Context
	cancelBr  context.CancelFunc

	timeout time.Duration
}

func NewChromedpFetcher(timeout time.Duration, userAgent string) *ChromedpFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	bctx, cancelBr := chromedp.NewContext(actx)
	return &ChromedpFetcher{
		allocCtx:  actx,
		cancelAll: cancelAlloc,
		brCtx:     bctx,
		cancelBr:  cancelBr,
		timeout:   timeout,
	}
}

// Close tears down browser resources.
func (f *ChromedpFetcher) Close() {
	if f.cancelBr != nil {
		f.cancelBr()
	}
	if f.cancelAll != nil {
		f.cancelAll()
	}
}

func (f *ChromedpFetcher) Fetch(ctx context.Context, link string) (string, error) {
	if strings.TrimSpace(link) == "" {
		return "", errors.New("invalid url")
	}
	runCtx, cancel := context.WithTimeout(f.brCtx, f.timeout)
	defer cancel()
	// honor caller cancellation alongside the render timeout
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	defer close(done)

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(link),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}
