// internal/automation/driver.go
package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ezmig/formpilot/internal/config"
)

// PageDriver is the browser surface the engine drives. It exists as an
// interface so the step logic can be exercised against a fake page in tests;
// the chromedp implementation is the only production driver.
type PageDriver interface {
	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Exists reports whether a selector matches at least one element.
	Exists(ctx context.Context, selector string) (bool, error)
	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// TypeChars clears the element then types the value character by
	// character with the given delay between keystrokes.
	TypeChars(ctx context.Context, selector, value string, delay time.Duration) error
	// SetChecked checks or unchecks a checkbox or radio element.
	SetChecked(ctx context.Context, selector string, checked bool) error
	// SelectOption selects the option whose visible text matches label on a
	// native select element.
	SelectOption(ctx context.Context, selector, label string) error
	// ClickOptionText clicks the first [role="option"] element containing the
	// given text, for non-native dropdown widgets opened by a prior click.
	ClickOptionText(ctx context.Context, text string) error
	// Screenshot captures the viewport as a JPEG at the given quality.
	Screenshot(ctx context.Context, quality int) ([]byte, error)
	// FindByLabelText locates an input through its associated label: a
	// matching for/id pair first, then an input nested in or adjacent to the
	// label. Returns a selector usable with the other methods, or "" when
	// nothing matched.
	FindByLabelText(ctx context.Context, text string) (string, error)
	// FindByPlaceholderPrefix locates an input whose placeholder starts with
	// the given prefix, case-insensitively.
	FindByPlaceholderPrefix(ctx context.Context, prefix string) (string, error)
	// Close tears down the browser process.
	Close() error
}

// ChromeDriver drives a real Chrome instance over the DevTools protocol. One
// driver owns one browser process; runs never share a driver.
type ChromeDriver struct {
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	browserCtx  context.Context
	logger      *zap.Logger
}

// NewChromeDriver launches a browser. Headful by default: the session is
// meant to be watched and, on success, left open for human review.
func NewChromeDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDriver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		if name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "="); found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	// Start the browser process now so launch failures surface here, not on
	// the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		ctxCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &ChromeDriver{
		allocCancel: allocCancel,
		ctxCancel:   ctxCancel,
		browserCtx:  browserCtx,
		logger:      logger.Named("automation.browser"),
	}, nil
}

// run executes chromedp actions bounded by the caller's context.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := mergeDeadline(d.browserCtx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// mergeDeadline applies the caller context's deadline and cancellation to the
// browser context, since chromedp actions must run on the browser's context
// tree.
func mergeDeadline(browserCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callerCtx.Deadline(); ok {
		return context.WithDeadline(browserCtx, deadline)
	}
	return context.WithCancel(browserCtx)
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("Navigating", zap.String("url", url))
	return d.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := d.run(ctx, chromedp.Location(&url))
	return url, err
}

func (d *ChromeDriver) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// TypeChars clears the control with a JS value reset (avoids stale residue
// that chromedp.Clear leaves on React-controlled inputs) and then types with
// a per-keystroke delay so the session is observable by a human.
func (d *ChromeDriver) TypeChars(ctx context.Context, selector, value string, delay time.Duration) error {
	clearScript := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.focus();
		el.value = '';
		el.dispatchEvent(new Event('input', { bubbles: true }));
		return true;
	})()`, selector)

	var cleared bool
	if err := d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Evaluate(clearScript, &cleared),
	); err != nil {
		return err
	}
	if !cleared {
		return fmt.Errorf("element not found for clearing: %s", selector)
	}

	for _, ch := range value {
		if err := d.run(ctx, chromedp.SendKeys(selector, string(ch), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("failed typing into %s: %w", selector, err)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil
}

func (d *ChromeDriver) SetChecked(ctx context.Context, selector string, checked bool) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		if (el.checked !== %t) {
			el.click();
		}
		return true;
	})()`, selector, checked)

	var ok bool
	if err := d.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element not found: %s", selector)
	}
	return nil
}

// SelectOption picks a native select option by visible text, preferring an
// exact match over a containment match, and fires the change event React
// listens for.
func (d *ChromeDriver) SelectOption(ctx context.Context, selector, label string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el || el.tagName !== 'SELECT') return false;
		const needle = %q.toLowerCase();
		let match = null;
		for (const opt of el.options) {
			const text = opt.textContent.trim().toLowerCase();
			if (text === needle) { match = opt; break; }
			if (!match && text.includes(needle)) { match = opt; }
		}
		if (!match) return false;
		el.value = match.value;
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, selector, label)

	var ok bool
	if err := d.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no option matching %q on %s", label, selector)
	}
	return nil
}

func (d *ChromeDriver) ClickOptionText(ctx context.Context, text string) error {
	script := fmt.Sprintf(`(() => {
		const needle = %q.toLowerCase();
		for (const el of document.querySelectorAll('[role="option"], li[role="menuitem"]')) {
			if (el.textContent.trim().toLowerCase().includes(needle)) {
				el.click();
				return true;
			}
		}
		return false;
	})()`, text)

	var ok bool
	if err := d.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no visible option containing %q", text)
	}
	return nil
}

func (d *ChromeDriver) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.FullScreenshot(&buf, quality)); err != nil {
		return nil, err
	}
	return buf, nil
}

// FindByLabelText resolves an input through its label. The element found gets
// stamped with a data-fp-target attribute so the returned selector stays
// stable for the follow-up interaction.
func (d *ChromeDriver) FindByLabelText(ctx context.Context, text string) (string, error) {
	script := fmt.Sprintf(`(() => {
		document.querySelectorAll('[data-fp-target]').forEach(e => e.removeAttribute('data-fp-target'));
		const needle = %q.toLowerCase();
		for (const label of document.querySelectorAll('label')) {
			if (!label.textContent.toLowerCase().includes(needle)) continue;
			let el = null;
			if (label.htmlFor) {
				el = document.getElementById(label.htmlFor);
			}
			if (!el) {
				el = label.querySelector('input, select, textarea');
			}
			if (!el && label.nextElementSibling) {
				el = label.nextElementSibling.matches('input, select, textarea')
					? label.nextElementSibling
					: label.nextElementSibling.querySelector('input, select, textarea');
			}
			if (el) {
				el.setAttribute('data-fp-target', '1');
				return true;
			}
		}
		return false;
	})()`, text)

	var found bool
	if err := d.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return `[data-fp-target="1"]`, nil
}

func (d *ChromeDriver) FindByPlaceholderPrefix(ctx context.Context, prefix string) (string, error) {
	script := fmt.Sprintf(`(() => {
		document.querySelectorAll('[data-fp-target]').forEach(e => e.removeAttribute('data-fp-target'));
		const needle = %q.toLowerCase();
		for (const el of document.querySelectorAll('input[placeholder], textarea[placeholder]')) {
			if (el.placeholder.toLowerCase().startsWith(needle)) {
				el.setAttribute('data-fp-target', '1');
				return true;
			}
		}
		return false;
	})()`, prefix)

	var found bool
	if err := d.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return `[data-fp-target="1"]`, nil
}

// Close tears down the browser process and its allocator.
func (d *ChromeDriver) Close() error {
	d.ctxCancel()
	d.allocCancel()
	return nil
}
