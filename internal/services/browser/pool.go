package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
	"github.com/ternarybob/formrunner/internal/interfaces"
)

// Pool owns one browser session. The primary tab lives as long as the session and
// is leased to one batch at a time; every other tab is acquired for one batch and
// closed on release.
type Pool struct {
	config common.BrowserConfig
	logger arbor.ILogger

	mu              sync.Mutex
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	primary         *ChromeTab
	primaryLeased   bool
	tabs            map[string]*ChromeTab
	started         bool
}

var _ interfaces.TabProvider = (*Pool)(nil)

// NewPool creates a pool. The browser is started lazily on first use.
func NewPool(config common.BrowserConfig, logger arbor.ILogger) *Pool {
	return &Pool{
		config: config,
		logger: logger,
		tabs:   make(map[string]*ChromeTab),
	}
}

// Start launches (or attaches to) the browser and verifies it responds.
// Calling Start on a started pool is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(ctx)
}

func (p *Pool) startLocked(ctx context.Context) error {
	if p.started {
		return nil
	}

	startTime := time.Now()

	var allocatorCtx context.Context
	var allocatorCancel context.CancelFunc
	if p.config.RemoteURL != "" {
		allocatorCtx, allocatorCancel = chromedp.NewRemoteAllocator(context.Background(), p.config.RemoteURL)
	} else {
		allocatorOpts := append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", p.config.Headless),
			chromedp.Flag("disable-gpu", p.config.DisableGPU),
			chromedp.Flag("no-sandbox", p.config.NoSandbox),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-background-timer-throttling", true),
			chromedp.Flag("disable-backgrounding-occluded-windows", true),
			chromedp.Flag("disable-renderer-backgrounding", true),
		)
		if p.config.UserAgent != "" {
			allocatorOpts = append(allocatorOpts, chromedp.UserAgent(p.config.UserAgent))
		}
		allocatorCtx, allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, common.ParseDurationOr(p.config.StartupTimeout, 30*time.Second))
	defer testCancel()
	stop := context.AfterFunc(ctx, testCancel)
	defer stop()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	p.allocatorCancel = allocatorCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	p.primary = newChromeTab(common.NewTabID(), browserCtx, browserCancel, p.config, p.logger)
	p.started = true

	p.logger.Info().
		Bool("headless", p.config.Headless).
		Bool("remote", p.config.RemoteURL != "").
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return nil
}

// Primary leases the long-lived session tab, starting the browser if needed.
// While the lease is held every other caller gets interfaces.ErrPrimaryBusy.
func (p *Pool) Primary(ctx context.Context) (interfaces.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.startLocked(ctx); err != nil {
		return nil, err
	}
	if p.primaryLeased {
		return nil, interfaces.ErrPrimaryBusy
	}
	p.primaryLeased = true
	return p.primary, nil
}

// Acquire opens a fresh tab in the session
func (p *Pool) Acquire(ctx context.Context) (interfaces.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.startLocked(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(p.browserCtx)

	openCtx, openCancel := context.WithTimeout(tabCtx, common.ParseDurationOr(p.config.StartupTimeout, 30*time.Second))
	defer openCancel()
	stop := context.AfterFunc(ctx, openCancel)
	defer stop()

	// The target is only created on the first action
	if err := chromedp.Run(openCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	tab := newChromeTab(common.NewTabID(), tabCtx, tabCancel, p.config, p.logger)
	p.tabs[tab.ID()] = tab

	p.logger.Debug().Str("tab_id", tab.ID()).Int("open_tabs", len(p.tabs)).Msg("Tab acquired")
	return tab, nil
}

// Release closes an acquired tab. Releasing the primary tab returns its lease and
// leaves it open; releasing a tab that was already closed does nothing.
func (p *Pool) Release(tab interfaces.Tab) error {
	if tab == nil {
		return nil
	}

	p.mu.Lock()
	if p.primary != nil && tab.ID() == p.primary.ID() {
		p.primaryLeased = false
		p.mu.Unlock()
		p.logger.Debug().Str("tab_id", tab.ID()).Msg("Primary tab lease returned")
		return nil
	}
	chromeTab, ok := p.tabs[tab.ID()]
	delete(p.tabs, tab.ID())
	p.mu.Unlock()

	if !ok {
		return nil
	}

	if err := chromeTab.close(); err != nil {
		return fmt.Errorf("failed to close tab %s: %w", tab.ID(), err)
	}
	p.logger.Debug().Str("tab_id", tab.ID()).Msg("Tab released")
	return nil
}

// CloseSecondary closes every acquired tab and returns how many were closed
func (p *Pool) CloseSecondary() int {
	p.mu.Lock()
	tabs := make([]*ChromeTab, 0, len(p.tabs))
	for id, tab := range p.tabs {
		tabs = append(tabs, tab)
		delete(p.tabs, id)
	}
	p.mu.Unlock()

	closed := 0
	for _, tab := range tabs {
		if err := tab.close(); err != nil {
			p.logger.Warn().Err(err).Str("tab_id", tab.ID()).Msg("Failed to close tab")
			continue
		}
		closed++
	}

	if len(tabs) > 0 {
		p.logger.Info().Int("closed", closed).Int("requested", len(tabs)).Msg("Closed secondary tabs")
	}
	return closed
}

// Close shuts down every tab and the browser session
func (p *Pool) Close() error {
	p.CloseSecondary()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocatorCancel != nil {
		p.allocatorCancel()
	}

	p.primary = nil
	p.primaryLeased = false
	p.browserCtx = nil
	p.started = false

	p.logger.Info().Msg("Browser session closed")
	return nil
}

// OpenTabs returns the number of acquired (non-primary) tabs
func (p *Pool) OpenTabs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tabs)
}
