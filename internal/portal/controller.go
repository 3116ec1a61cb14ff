package portal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"scorewatch/internal/config"
	"scorewatch/internal/detect"
	"scorewatch/internal/driver"
	"scorewatch/internal/snapshot"
	logx "scorewatch/pkg/logx"
)

// ErrNoEnrollment means the account has no course list to watch. It is
// not retryable.
var ErrNoEnrollment = errors.New("portal: not enrolled in any course")

// ErrLayout is returned when a required page element is missing after
// login. The portal layout changed or the page did not render.
var ErrLayout = errors.New("portal: unexpected page layout")

type SessionState int

const (
	NeedsLogin SessionState = iota
	Authenticated
)

func (s SessionState) String() string {
	if s == NeedsLogin {
		return "needs_login"
	}
	return "authenticated"
}

// Reporter delivers the change report of one cycle.
type Reporter interface {
	Dispatch(ctx context.Context, events []detect.Event, pageURL string) error
}

// CycleStats summarizes one completed cycle.
type CycleStats struct {
	Items    int
	Changes  int
	Duration time.Duration
}

// Hooks lets the supervisor observe progress. Nil funcs are skipped.
type Hooks struct {
	CycleComplete func(CycleStats)
}

type Deps struct {
	Config   *config.Config
	Driver   driver.Driver
	Store    snapshot.Store
	Reporter Reporter
	Log      logx.Logger

	// Rand and Sleep default to a time-seeded source and a ctx-aware timer.
	Rand  *rand.Rand
	Sleep func(ctx context.Context, d time.Duration) error
}

type Controller struct {
	cfg      *config.Config
	drv      driver.Driver
	store    snapshot.Store
	reporter Reporter
	log      logx.Logger
	rng      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error

	state  snapshot.State
	engine *detect.Engine
	loaded bool
}

func New(d Deps) (*Controller, error) {
	if d.Config == nil || d.Driver == nil || d.Store == nil || d.Reporter == nil {
		return nil, errors.New("portal: config, driver, store and reporter are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.Sleep == nil {
		d.Sleep = sleepCtx
	}
	return &Controller{
		cfg:      d.Config,
		drv:      d.Driver,
		store:    d.Store,
		reporter: d.Reporter,
		log:      d.Log.With(logx.String("comp", "portal")),
		rng:      d.Rand,
		sleep:    d.Sleep,
	}, nil
}

// Run loads the persisted state, opens the portal and polls until ctx is
// canceled or a cycle fails. A canceled ctx returns ctx.Err().
func (c *Controller) Run(ctx context.Context, hooks Hooks) error {
	if err := c.init(ctx); err != nil {
		return err
	}
	base, margin := c.cfg.WaitTime, c.cfg.RandomTimeMargin
	for {
		stats, err := c.RunCycle(ctx)
		if err != nil {
			return err
		}
		if hooks.CycleComplete != nil {
			hooks.CycleComplete(stats)
		}

		wait := WaitDuration(c.rng, base, margin)
		c.log.Info("waiting", logx.Duration("wait", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		if err := c.drv.Refresh(ctx); err != nil {
			return err
		}
	}
}

func (c *Controller) init(ctx context.Context) error {
	if !c.loaded {
		c.log.Info("loading snapshot")
		st, err := c.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if st.Details == nil {
			st.Details = snapshot.Details{}
		}
		if st.Scores == nil {
			st.Scores = snapshot.Scores{}
		}
		c.state = st
		c.engine = detect.New(st.Details, c.log)
		c.loaded = true
		c.log.Debug("snapshot loaded", logx.Int("items", len(st.Details)))
	}
	return c.drv.Navigate(ctx, c.cfg.Portal.BaseURL)
}

// Probe reports whether the current page asks for credentials.
func (c *Controller) Probe(ctx context.Context) (SessionState, error) {
	_, ok, err := c.drv.Find(ctx, c.cfg.Portal.LoginMarker)
	if err != nil {
		return NeedsLogin, err
	}
	if ok {
		return NeedsLogin, nil
	}
	return Authenticated, nil
}

// RunCycle performs one pass over the item list. The page must already
// show the portal (Run navigates there first).
func (c *Controller) RunCycle(ctx context.Context) (CycleStats, error) {
	if !c.loaded {
		if err := c.init(ctx); err != nil {
			return CycleStats{}, err
		}
	}
	start := time.Now()

	st, err := c.Probe(ctx)
	if err != nil {
		return CycleStats{}, err
	}
	if st == NeedsLogin {
		if err := c.login(ctx); err != nil {
			return CycleStats{}, err
		}
	}

	rows, err := c.listItems(ctx)
	if err != nil {
		return CycleStats{}, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	c.log.Debug("items listed", logx.Int("count", len(ids)))

	var events []detect.Event
	for _, id := range ids {
		r, ok := findRow(rows, id)
		if !ok {
			c.log.Warn("item disappeared from list", logx.String("item", id))
			continue
		}
		ev, fresh, err := c.visit(ctx, r)
		if err != nil {
			return CycleStats{}, err
		}
		rows = fresh
		if ev != nil {
			events = append(events, *ev)
		}
	}

	pageURL, err := c.drv.CurrentURL(ctx)
	if err != nil {
		return CycleStats{}, err
	}
	if err := c.reporter.Dispatch(ctx, events, pageURL); err != nil {
		return CycleStats{}, err
	}

	stats := CycleStats{Items: len(ids), Changes: len(events), Duration: time.Since(start)}
	c.log.Info("cycle complete",
		logx.Int("items", stats.Items),
		logx.Int("changes", stats.Changes),
		logx.Duration("took", stats.Duration),
	)
	return stats, nil
}

func (c *Controller) login(ctx context.Context) error {
	p := c.cfg.Portal
	c.log.Info("logging in")
	if err := c.input(ctx, p.UsernameField, c.cfg.Credentials.Username); err != nil {
		return err
	}
	if err := c.input(ctx, p.PasswordField, c.cfg.Credentials.Password); err != nil {
		return err
	}
	if err := c.click(ctx, p.SubmitButton); err != nil {
		return err
	}
	return c.selectCategory(ctx)
}

func (c *Controller) selectCategory(ctx context.Context) error {
	p := c.cfg.Portal
	opener, ok, err := c.drv.Find(ctx, p.CategoryOpener)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoEnrollment
	}
	if err := opener.Click(ctx); err != nil {
		return err
	}
	picked, err := c.pickOption(ctx, p.CategoryOption)
	if err != nil {
		return err
	}
	if !picked {
		c.log.Warn("reporting category not found", logx.String("keyword", p.CategoryKeyword))
	}
	return nil
}

// pickOption clicks the first option whose label contains the category
// keyword. The search stops at the first missing index.
func (c *Controller) pickOption(ctx context.Context, pattern string) (bool, error) {
	p := c.cfg.Portal
	for i := 1; i <= p.CategoryMaxOptions; i++ {
		opt, ok, err := c.drv.Find(ctx, fmt.Sprintf(pattern, i))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		label, err := opt.Text(ctx)
		if err != nil {
			return false, err
		}
		if strings.Contains(label, p.CategoryKeyword) {
			c.log.Debug("category selected", logx.Int("option", i), logx.String("label", label))
			return true, opt.Click(ctx)
		}
	}
	return false, nil
}

type itemRow struct {
	id     string
	fields []string
	opener driver.Element
}

// listItems reads the visible rows of the item table. An item is keyed by
// its first field. When several visible rows share that name, the second
// and later ones are keyed "<name> (2)", "<name> (3)" and so on in page
// order.
func (c *Controller) listItems(ctx context.Context) ([]itemRow, error) {
	p := c.cfg.Portal
	table, ok, err := c.drv.Find(ctx, p.ItemTable)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: item table %s", ErrLayout, p.ItemTable)
	}
	trs, err := table.FindAll(ctx, p.ItemRow)
	if err != nil {
		return nil, err
	}

	out := make([]itemRow, 0, len(trs))
	names := make(map[string]int, len(trs))
	for _, tr := range trs {
		vis, err := tr.Visible(ctx)
		if err != nil {
			return nil, err
		}
		if !vis {
			continue
		}
		cells, err := tr.FindAll(ctx, p.ItemFields)
		if err != nil {
			return nil, err
		}
		if len(cells) == 0 {
			continue
		}
		fields := make([]string, len(cells))
		for i, cell := range cells {
			txt, err := cell.Text(ctx)
			if err != nil {
				return nil, err
			}
			fields[i] = strings.TrimSpace(txt)
		}
		if fields[0] == "" {
			continue
		}
		id := fields[0]
		names[id]++
		if n := names[id]; n > 1 {
			id = fmt.Sprintf("%s (%d)", id, n)
		}
		out = append(out, itemRow{id: id, fields: fields, opener: cells[0]})
	}
	return out, nil
}

func findRow(rows []itemRow, id string) (itemRow, bool) {
	for _, r := range rows {
		if r.id == id {
			return r, true
		}
	}
	return itemRow{}, false
}

// visit opens one item, records its detail blob and returns to the list.
// It returns the change event (if any) and the re-fetched list.
func (c *Controller) visit(ctx context.Context, r itemRow) (*detect.Event, []itemRow, error) {
	log := c.log.With(logx.String("item", r.id))

	listURL, err := c.drv.CurrentURL(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := r.opener.Click(ctx); err != nil {
		return nil, nil, err
	}
	blob, err := c.captureDetail(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !c.engine.Seen(r.id) {
		log.Info("new item; recording baseline")
	}
	changed := c.engine.Observe(r.id, blob)

	if err := c.drv.Navigate(ctx, listURL); err != nil {
		return nil, nil, err
	}
	fresh, err := c.listItems(ctx)
	if err != nil {
		return nil, nil, err
	}

	old, cached := c.state.Scores[r.id]
	score := old
	if row, ok := findRow(fresh, r.id); ok {
		score = detect.ExtractScore(row.fields)
	} else if !cached {
		score = detect.ExtractScore(r.fields)
	}
	if !cached {
		old = detect.NoScore
	}

	var ev *detect.Event
	if changed {
		log.Info("change detected", logx.String("old", old), logx.String("new", score))
		ev = &detect.Event{Item: r.id, OldScore: old, NewScore: score}
	}
	c.state.Scores[r.id] = score

	if err := c.store.Save(ctx, c.state); err != nil {
		return nil, nil, fmt.Errorf("save snapshot: %w", err)
	}
	return ev, fresh, nil
}

func (c *Controller) captureDetail(ctx context.Context) (string, error) {
	p := c.cfg.Portal
	for _, step := range p.DetailSteps {
		el, ok, err := c.drv.Find(ctx, step)
		if err != nil {
			return "", err
		}
		if !ok {
			c.log.Debug("detail step absent", logx.String("xpath", step))
			continue
		}
		if err := el.Click(ctx); err != nil {
			return "", err
		}
	}
	if p.DetailCategoryOption != "" {
		if _, err := c.pickOption(ctx, p.DetailCategoryOption); err != nil {
			return "", err
		}
	}

	el, ok, err := c.drv.Find(ctx, p.DetailContent)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: detail content %s", ErrLayout, p.DetailContent)
	}
	switch p.DetailProperty {
	case "", "outerHTML":
		return el.HTML(ctx)
	case "text":
		return el.Text(ctx)
	default:
		v, _, err := el.Attribute(ctx, p.DetailProperty)
		return v, err
	}
}

func (c *Controller) input(ctx context.Context, xpath, text string) error {
	el, ok, err := c.drv.Find(ctx, xpath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLayout, xpath)
	}
	return el.Input(ctx, text)
}

func (c *Controller) click(ctx context.Context, xpath string) error {
	el, ok, err := c.drv.Find(ctx, xpath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLayout, xpath)
	}
	return el.Click(ctx)
}

// WaitDuration picks a whole number of seconds uniformly from
// [base-margin, base+margin].
func WaitDuration(rng *rand.Rand, base, margin int) time.Duration {
	if margin <= 0 {
		return time.Duration(base) * time.Second
	}
	secs := base - margin + rng.Intn(2*margin+1)
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
