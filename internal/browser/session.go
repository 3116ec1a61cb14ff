// Package browser implements driver.Driver on top of a go-rod controlled
// Chrome instance.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	pkgerrors "github.com/pkg/errors"

	"scorewatch/internal/driver"
	logx "scorewatch/pkg/logx"
)

// Options configures a Session.
type Options struct {
	// RemoteURL is the DevTools websocket of an external Chrome.
	// Empty launches a local Chrome via the rod launcher.
	RemoteURL string
	Bin       string
	Headless  bool
	Stealth   bool
	// SuppressConsole disables the launcher's leakless guard, the helper
	// process that would otherwise be spawned next to Chrome.
	SuppressConsole bool

	// Timeout bounds every single driver operation.
	Timeout time.Duration
	// Settle is how long a click is given to trigger navigation before
	// the page load is awaited.
	Settle time.Duration

	Log logx.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
}

// Session owns one browser and one page.
type Session struct {
	opts Options
	log  logx.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	closed  bool
}

var _ driver.Driver = (*Session)(nil)

// Launch starts (or connects to) Chrome and opens the working page.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	opts.defaults()
	s := &Session{opts: opts, log: opts.Log.With(logx.String("comp", "browser"))}

	var wsURL string
	if opts.RemoteURL != "" {
		wsURL = opts.RemoteURL
		s.log.Info("connecting to remote chrome", logx.String("url", wsURL))
	} else {
		l := launcher.New().Context(ctx).Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		if opts.SuppressConsole {
			l = l.Leakless(false)
		}
		// Anti-detection flags.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, s.wrap("launch", "", err)
		}
		wsURL = u
		s.lnch = l
		s.log.Info("launched local chrome", logx.Bool("headless", opts.Headless))
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.cleanup()
		return nil, s.wrap("connect", "", err)
	}
	// Detach the launch context; operations bring their own.
	s.browser = b.Context(context.Background())

	var (
		page *rod.Page
		err  error
	)
	if opts.Stealth {
		page, err = stealth.Page(s.browser)
	} else {
		page, err = s.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		s.cleanup()
		return nil, s.wrap("open page", "", err)
	}
	s.page = page
	return s, nil
}

func (s *Session) op(ctx context.Context) (*rod.Page, context.CancelFunc, error) {
	s.mu.Lock()
	p := s.page
	closed := s.closed
	s.mu.Unlock()
	if closed || p == nil {
		return nil, func() {}, errors.New("browser: session closed")
	}
	octx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	return p.Context(octx), cancel, nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	p, cancel, err := s.op(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	s.log.Debug("navigate", logx.String("url", url))
	if err := p.Navigate(url); err != nil {
		return s.wrap("navigate", url, err)
	}
	return s.wrap("wait load", url, p.WaitLoad())
}

func (s *Session) Find(ctx context.Context, xpath string) (driver.Element, bool, error) {
	p, cancel, err := s.op(ctx)
	if err != nil {
		return nil, false, err
	}
	defer cancel()

	has, el, err := p.HasX(xpath)
	if err != nil {
		return nil, false, s.wrap("find", xpath, err)
	}
	if !has {
		return nil, false, nil
	}
	return &element{s: s, el: el}, true, nil
}

func (s *Session) FindAll(ctx context.Context, xpath string) ([]driver.Element, error) {
	p, cancel, err := s.op(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	els, err := p.ElementsX(xpath)
	if err != nil {
		return nil, s.wrap("find all", xpath, err)
	}
	return s.wrapAll(els), nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	p, cancel, err := s.op(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	info, err := p.Info()
	if err != nil {
		return "", s.wrap("current url", "", err)
	}
	return info.URL, nil
}

func (s *Session) Refresh(ctx context.Context) error {
	p, cancel, err := s.op(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := p.Reload(); err != nil {
		return s.wrap("refresh", "", err)
	}
	return s.wrap("wait load", "", p.WaitLoad())
}

// Quit closes the page and the browser and removes the launcher's
// temporary profile. It is idempotent.
func (s *Session) Quit() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cleanup()
	s.log.Debug("session closed")
	return nil
}

func (s *Session) cleanup() {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
}

// settle gives a click time to start a navigation, then waits for the
// resulting document to finish loading.
func (s *Session) settle(ctx context.Context) error {
	if s.opts.Settle > 0 {
		t := time.NewTimer(s.opts.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	p, cancel, err := s.op(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return s.wrap("wait load", "", p.WaitLoad())
}

func (s *Session) wrapAll(els rod.Elements) []driver.Element {
	out := make([]driver.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{s: s, el: el})
	}
	return out
}

// wrap classifies err and attaches a stack trace for the error journal.
// Deadline overruns and failed navigations (unreachable host, dropped
// connection) are timeouts.
func (s *Session) wrap(op, selector string, err error) error {
	if err == nil {
		return nil
	}
	var nav *rod.NavigationError
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.As(err, &nav)
	return pkgerrors.WithStack(&driver.OpError{Op: op, Selector: selector, Timeout: timeout, Cause: err})
}

type element struct {
	s  *Session
	el *rod.Element
}

func (e *element) bind(ctx context.Context) (*rod.Element, context.CancelFunc) {
	octx, cancel := context.WithTimeout(ctx, e.s.opts.Timeout)
	return e.el.Context(octx), cancel
}

func (e *element) Click(ctx context.Context) error {
	el, cancel := e.bind(ctx)
	err := el.Click(proto.InputMouseButtonLeft, 1)
	cancel()
	if err != nil {
		return e.s.wrap("click", "", err)
	}
	return e.s.settle(ctx)
}

func (e *element) Input(ctx context.Context, text string) error {
	el, cancel := e.bind(ctx)
	defer cancel()
	return e.s.wrap("input", "", el.Input(text))
}

func (e *element) Text(ctx context.Context) (string, error) {
	el, cancel := e.bind(ctx)
	defer cancel()
	txt, err := el.Text()
	return txt, e.s.wrap("text", "", err)
}

func (e *element) HTML(ctx context.Context) (string, error) {
	el, cancel := e.bind(ctx)
	defer cancel()
	h, err := el.HTML()
	return h, e.s.wrap("html", "", err)
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	el, cancel := e.bind(ctx)
	defer cancel()
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, e.s.wrap("attribute", name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	el, cancel := e.bind(ctx)
	defer cancel()
	ok, err := el.Visible()
	return ok, e.s.wrap("visible", "", err)
}

func (e *element) FindAll(ctx context.Context, xpath string) ([]driver.Element, error) {
	el, cancel := e.bind(ctx)
	defer cancel()
	els, err := el.ElementsX(xpath)
	if err != nil {
		return nil, e.s.wrap("find all", xpath, err)
	}
	return e.s.wrapAll(els), nil
}

// String is used in debug logs.
func (s *Session) String() string {
	return fmt.Sprintf("browser.Session(remote=%t headless=%t)", s.opts.RemoteURL != "", s.opts.Headless)
}
