package chrome

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Options configures a launched browser.
type Options struct {
	Headless  bool
	Width     int
	Height    int
	UserAgent string
}

// Browser wraps one live Chrome instance driven over the DevTools
// protocol. All replay dispatch and live capture for a tab goes
// through its context.
type Browser struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Launch starts Chrome and returns a ready browser. The flag set keeps
// automation detection off and disables the background throttling that
// would starve scheduled replays in occluded windows.
func Launch(parent context.Context, opts Options) (*Browser, error) {
	chromePath := GetChromePath()
	if chromePath == "" {
		return nil, fmt.Errorf("chrome browser not found, install Google Chrome or Chromium")
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chromePath),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-component-update", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("no-pings", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Printf))

	b := &Browser{
		ctx: ctx,
		cancel: func() {
			ctxCancel()
			allocCancel()
		},
	}

	tasks := chromedp.Tasks{}
	if opts.Width > 0 && opts.Height > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)))
	}
	// first Run materializes the browser process
	tasks = append(tasks, chromedp.Evaluate(`1`, nil))
	if err := chromedp.Run(ctx, tasks); err != nil {
		b.cancel()
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}
	return b, nil
}

// Context exposes the chromedp context for running tasks.
func (b *Browser) Context() context.Context { return b.ctx }

// Navigate loads url and waits for the body to be ready.
func (b *Browser) Navigate(url string) error {
	err := chromedp.Run(b.ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	)
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Href returns the current page location.
func (b *Browser) Href() (string, error) {
	var href string
	if err := chromedp.Run(b.ctx, chromedp.Evaluate(`window.location.href`, &href)); err != nil {
		return "", err
	}
	return href, nil
}

// Close tears the browser down. Safe to call more than once.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cancel()
}
