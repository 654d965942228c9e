// Package browser wraps chromedp behind the narrow handle the orchestrator
// needs: navigation, element waits, form filling (including inside the
// authentication iframe) and storage-state snapshots.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Page is the live authenticated browser handle handed from the login flow
// to the extraction routines. A frame argument of "" targets the main
// document; otherwise it is a CSS selector for an iframe whose content
// document is addressed through script evaluation.
type Page interface {
	Navigate(url string) error
	Location() (string, error)
	WaitVisible(sel string) error
	Exists(sel string, timeout time.Duration) bool
	Click(sel string) error
	ClickIn(frame, sel string) error
	FillIn(frame, sel, value string) error
	ClearIn(frame string, sels []string) error
	BodyTextIn(frame string) (string, error)
	ExistsIn(frame, sel string) bool
	Eval(js string, out any) error
	Sleep(d time.Duration)
	ExportStorageState() ([]byte, error)
	ImportStorageState(blob []byte) error
	Close() error
}

// Launcher creates browser sessions. One session is owned by exactly one
// task for its whole lifetime.
type Launcher struct {
	Headless    bool
	NavTimeout  time.Duration
	StepTimeout time.Duration
	Logger      *slog.Logger
}

type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	navTimeout  time.Duration
	stepTimeout time.Duration
	closed      bool
}

func (l *Launcher) NewPage(ctx context.Context) (Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Force the browser process to start now so a broken Chrome install
	// surfaces here rather than on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Session{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		navTimeout:  l.NavTimeout,
		stepTimeout: l.StepTimeout,
	}, nil
}

func (s *Session) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (s *Session) Navigate(url string) error {
	if err := s.run(s.navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) Location() (string, error) {
	var url string
	if err := s.run(s.stepTimeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

func (s *Session) WaitVisible(sel string) error {
	if err := s.run(s.stepTimeout, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", sel, err)
	}
	return nil
}

// Exists polls for a selector with its own timeout; absence is a normal
// outcome, not an error.
func (s *Session) Exists(sel string, timeout time.Duration) bool {
	err := s.run(timeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
	return err == nil
}

func (s *Session) Click(sel string) error {
	if err := s.run(s.stepTimeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// frameDocJS resolves the document to operate on: the main document, or the
// content document of the given iframe selector.
const frameDocJS = `(function(frameSel){
	if (!frameSel) { return document; }
	var f = document.querySelector(frameSel);
	if (!f || !f.contentDocument) { return null; }
	return f.contentDocument;
})`

func frameExpr(frame string) string {
	return frameDocJS + "(" + strconv.Quote(frame) + ")"
}

func (s *Session) ClickIn(frame, sel string) error {
	js := fmt.Sprintf(`(function(){
		var d = %s;
		if (!d) { return false; }
		var el = d.querySelector(%s);
		if (!el) { return false; }
		el.click();
		return true;
	})()`, frameExpr(frame), strconv.Quote(sel))

	var ok bool
	if err := s.run(s.stepTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("click %s in frame %q: %w", sel, frame, err)
	}
	if !ok {
		return fmt.Errorf("click %s in frame %q: element not found", sel, frame)
	}
	return nil
}

// FillIn sets an input value through script so it works inside same-origin
// iframes, and dispatches input/change events so framework-bound forms
// notice the value.
func (s *Session) FillIn(frame, sel, value string) error {
	js := fmt.Sprintf(`(function(){
		var d = %s;
		if (!d) { return false; }
		var el = d.querySelector(%s);
		if (!el) { return false; }
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, frameExpr(frame), strconv.Quote(sel), strconv.Quote(value))

	var ok bool
	if err := s.run(s.stepTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("fill %s in frame %q: %w", sel, frame, err)
	}
	if !ok {
		return fmt.Errorf("fill %s in frame %q: element not found", sel, frame)
	}
	return nil
}

func (s *Session) ClearIn(frame string, sels []string) error {
	for _, sel := range sels {
		if err := s.FillIn(frame, sel, ""); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) BodyTextIn(frame string) (string, error) {
	js := fmt.Sprintf(`(function(){
		var d = %s;
		if (!d || !d.body) { return ""; }
		return d.body.innerText;
	})()`, frameExpr(frame))

	var text string
	if err := s.run(s.stepTimeout, chromedp.Evaluate(js, &text)); err != nil {
		return "", fmt.Errorf("read body text of frame %q: %w", frame, err)
	}
	return text, nil
}

func (s *Session) ExistsIn(frame, sel string) bool {
	js := fmt.Sprintf(`(function(){
		var d = %s;
		if (!d) { return false; }
		return d.querySelector(%s) !== null;
	})()`, frameExpr(frame), strconv.Quote(sel))

	var ok bool
	if err := s.run(s.stepTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return false
	}
	return ok
}

func (s *Session) Eval(js string, out any) error {
	if err := s.run(s.navTimeout, chromedp.Evaluate(js, out)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

func (s *Session) Sleep(d time.Duration) {
	select {
	case <-s.ctx.Done():
	case <-time.After(d):
	}
}

func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return nil
}

// MatchesAny reports whether the current URL contains any of the given
// fragments. Patterns are plain substrings, checked in order.
func MatchesAny(url string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if strings.Contains(url, p) {
			return p, true
		}
	}
	return "", false
}
