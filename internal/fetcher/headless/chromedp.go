// Package headless renders award detail pages in a Chrome browser via
// chromedp. A Pool owns one shared browser allocator; each enrichment
// worker checks out its own Session (a long-lived tab) and keeps it for
// the worker's whole chunk, since browser startup is far too expensive to
// pay per record.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/harvest"
)

// Config controls the browser pool and the per-render waits.
type Config struct {
	// UserAgent overrides the browser user agent when set.
	UserAgent string
	// NoSandbox disables the Chrome sandbox (needed in some containers).
	NoSandbox bool
	// WindowWidth and WindowHeight size the virtual viewport.
	WindowWidth  int
	WindowHeight int
	// WaitSelector is the element the render waits for before reading the
	// DOM (default ".thread-row", the detail page's document timeline).
	WaitSelector string
	// WaitTimeout bounds the selector wait (default 6s). Expiry is not an
	// error; the render falls back to SettleDelay.
	WaitTimeout time.Duration
	// SettleDelay is the fixed sleep applied when the selector never
	// appears (default 2s).
	SettleDelay time.Duration
	// NavigationTimeout bounds the whole render (default 45s).
	NavigationTimeout time.Duration
	// ExtraHeaders are sent with every navigation.
	ExtraHeaders map[string]string
}

const (
	defaultWaitSelector = ".thread-row"
	defaultWaitTimeout  = 6 * time.Second
	defaultSettleDelay  = 2 * time.Second
	defaultNavTimeout   = 45 * time.Second
	defaultWindowWidth  = 1400
	defaultWindowHeight = 1000
)

func (c Config) withDefaults() Config {
	if c.WaitSelector == "" {
		c.WaitSelector = defaultWaitSelector
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = defaultWaitTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavTimeout
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = defaultWindowWidth
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = defaultWindowHeight
	}
	return c
}

// Pool owns the shared Chrome allocator and hands out per-worker
// sessions. Close releases the allocator and with it every browser
// process the pool spawned.
type Pool struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewPool builds the allocator. No browser starts until the first
// session is created.
func NewPool(cfg Config, logger *zap.Logger) (*Pool, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Pool{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// NewSession starts a browser tab bound to the pool's allocator and warms
// it up so the session's first Render does not absorb browser startup.
func (p *Pool) NewSession(ctx context.Context) (harvest.PageFetcher, error) {
	tabCtx, tabCancel := chromedp.NewContext(p.allocator)

	warmCtx, warmCancel := context.WithTimeout(tabCtx, p.cfg.NavigationTimeout)
	defer warmCancel()
	if err := chromedp.Run(warmCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("warm up browser session: %w", err)
	}
	if err := ctx.Err(); err != nil {
		tabCancel()
		return nil, err
	}

	return &Session{
		cfg:    p.cfg,
		tabCtx: tabCtx,
		cancel: tabCancel,
		logger: p.logger,
	}, nil
}

// Close shuts down the allocator and all remaining browser processes.
func (p *Pool) Close() error {
	p.allocCancel()
	return nil
}

// Session is one worker's browser tab. Not safe for concurrent use; the
// worker pool guarantees single ownership.
type Session struct {
	cfg    Config
	tabCtx context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	closeOnce sync.Once
}

// Render navigates to the URL, waits for the configured selector, and
// returns the rendered document. The selector never appearing is not an
// error; the session sleeps the settle delay and returns whatever markup
// rendered, letting the extractor's fallback strategies take over.
func (s *Session) Render(ctx context.Context, url string) (string, error) {
	if s.tabCtx.Err() != nil {
		return "", errors.New("browser session closed")
	}

	runCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, s.setupAction(), chromedp.Navigate(url)); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}

	waitCtx, waitCancel := context.WithTimeout(runCtx, s.cfg.WaitTimeout)
	err := chromedp.Run(waitCtx, chromedp.WaitReady(s.cfg.WaitSelector, chromedp.ByQuery))
	waitCancel()
	if err != nil {
		s.logger.Debug("wait selector missed, settling",
			zap.String("url", url),
			zap.String("selector", s.cfg.WaitSelector))
		if err := chromedp.Run(runCtx, chromedp.Sleep(s.cfg.SettleDelay)); err != nil {
			return "", fmt.Errorf("settle after wait miss: %w", err)
		}
	}

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read rendered document: %w", err)
	}
	return html, nil
}

// setupAction applies user agent and extra headers before navigation.
func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(s.cfg.ExtraHeaders) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(s.cfg.ExtraHeaders)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// Close releases the tab. Safe on all worker exit paths and idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func toNetworkHeaders(h map[string]string) network.Headers {
	headers := network.Headers{}
	for key, value := range h {
		headers[key] = value
	}
	return headers
}
