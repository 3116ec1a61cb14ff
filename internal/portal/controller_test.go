package portal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"testing"
	"time"

	"scorewatch/internal/config"
	"scorewatch/internal/detect"
	"scorewatch/internal/driver"
	"scorewatch/internal/snapshot"
)

const baseURL = "https://portal.test/"

type fakeItem struct {
	name   string
	score  string // empty: row has no score column
	detail string
	hidden bool
}

// fakePortal is an in-memory page model answering the selectors of
// testConfig.
type fakePortal struct {
	enrolled bool
	loggedIn bool
	page     string // login | list | detail
	open     int
	items    []fakeItem
	options  []string

	reverseOnReturn bool
	reversed        bool

	typed     map[string]string
	category  string
	steps     int
	refreshes int
	navs      []string
}

func newFakePortal(items ...fakeItem) *fakePortal {
	return &fakePortal{
		enrolled: true,
		page:     "login",
		items:    items,
		options:  []string{"QUARTER 1", "SEMESTER 1", "SEMESTER 2"},
		typed:    map[string]string{},
	}
}

func (p *fakePortal) ordered() []int {
	idx := make([]int, len(p.items))
	for i := range idx {
		idx[i] = i
	}
	if p.reversed {
		slices.Reverse(idx)
	}
	return idx
}

func (p *fakePortal) Navigate(_ context.Context, url string) error {
	p.navs = append(p.navs, url)
	if url == baseURL {
		if p.loggedIn {
			if p.page == "detail" && p.reverseOnReturn {
				p.reversed = !p.reversed
			}
			p.page = "list"
		} else {
			p.page = "login"
		}
	}
	return nil
}

func (p *fakePortal) Find(_ context.Context, xpath string) (driver.Element, bool, error) {
	el := func(kind, text string) (driver.Element, bool, error) {
		return &fakeEl{p: p, kind: kind, text: text}, true, nil
	}
	var n int
	switch {
	case xpath == "usr" || xpath == "pwd" || xpath == "submit":
		if p.page == "login" {
			return el(xpath, "")
		}
	case xpath == "opener":
		if p.loggedIn && p.enrolled {
			return el("opener", "")
		}
	case xpath == "table":
		if p.page == "list" && p.enrolled {
			return el("table", "")
		}
	case xpath == "step":
		if p.page == "detail" {
			return el("step", "")
		}
	case xpath == "content":
		if p.page == "detail" {
			return el("content", p.items[p.open].detail)
		}
	default:
		if _, err := fmt.Sscanf(xpath, "opt[%d]", &n); err == nil && n >= 1 && n <= len(p.options) {
			return el("opt", p.options[n-1])
		}
		if _, err := fmt.Sscanf(xpath, "dopt[%d]", &n); err == nil && p.page == "detail" && n >= 1 && n <= len(p.options) {
			return el("dopt", p.options[n-1])
		}
	}
	return nil, false, nil
}

func (p *fakePortal) FindAll(ctx context.Context, xpath string) ([]driver.Element, error) {
	el, ok, err := p.Find(ctx, xpath)
	if !ok || err != nil {
		return nil, err
	}
	return []driver.Element{el}, nil
}

func (p *fakePortal) CurrentURL(context.Context) (string, error) {
	if p.page == "detail" {
		return baseURL + "detail/" + p.items[p.open].name, nil
	}
	return baseURL, nil
}

func (p *fakePortal) Refresh(context.Context) error {
	p.refreshes++
	return nil
}

func (p *fakePortal) Quit() error { return nil }

type fakeEl struct {
	p    *fakePortal
	kind string
	text string
	item int
}

func (e *fakeEl) Click(context.Context) error {
	switch e.kind {
	case "submit":
		e.p.loggedIn = true
		e.p.page = "list"
	case "opt":
		e.p.category = e.text
	case "step":
		e.p.steps++
	case "item":
		e.p.page = "detail"
		e.p.open = e.item
	}
	return nil
}

func (e *fakeEl) Input(_ context.Context, text string) error {
	e.p.typed[e.kind] = text
	return nil
}

func (e *fakeEl) Text(context.Context) (string, error) { return e.text, nil }
func (e *fakeEl) HTML(context.Context) (string, error) { return "<div>" + e.text + "</div>", nil }

func (e *fakeEl) Attribute(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (e *fakeEl) Visible(context.Context) (bool, error) {
	if e.kind == "row" {
		return !e.p.items[e.item].hidden, nil
	}
	return true, nil
}

func (e *fakeEl) FindAll(_ context.Context, xpath string) ([]driver.Element, error) {
	switch {
	case e.kind == "table" && xpath == "row":
		var out []driver.Element
		for _, i := range e.p.ordered() {
			out = append(out, &fakeEl{p: e.p, kind: "row", item: i})
		}
		return out, nil
	case e.kind == "row" && xpath == "field":
		it := e.p.items[e.item]
		out := []driver.Element{
			&fakeEl{p: e.p, kind: "item", item: e.item, text: " " + it.name + " "},
			&fakeEl{p: e.p, kind: "cell", text: "Period 2"},
		}
		if it.score != "" {
			out = append(out, &fakeEl{p: e.p, kind: "cell", text: it.score})
		}
		return out, nil
	}
	return nil, nil
}

type memStore struct {
	st      snapshot.State
	saves   int
	saveErr error
}

func (m *memStore) Load(context.Context) (snapshot.State, error) {
	if m.st.Details == nil {
		return snapshot.Empty(), nil
	}
	return m.st.Clone(), nil
}

func (m *memStore) Save(_ context.Context, st snapshot.State) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.st = st.Clone()
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeReporter struct {
	calls  int
	events []detect.Event
	url    string
	err    error
}

func (r *fakeReporter) Dispatch(_ context.Context, events []detect.Event, pageURL string) error {
	r.calls++
	r.events = append(r.events, events...)
	r.url = pageURL
	return r.err
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Credentials:      config.Credentials{Username: "student", Password: "secret"},
		WaitTime:         60,
		RandomTimeMargin: 10,
		Portal: config.PortalConfig{
			BaseURL:              baseURL,
			LoginMarker:          "usr",
			UsernameField:        "usr",
			PasswordField:        "pwd",
			SubmitButton:         "submit",
			CategoryOpener:       "opener",
			CategoryOption:       "opt[%d]",
			ItemTable:            "table",
			ItemRow:              "row",
			ItemFields:           "field",
			DetailSteps:          []string{"step", "missing-step"},
			DetailCategoryOption: "dopt[%d]",
			DetailContent:        "content",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestController(t *testing.T, p *fakePortal, store *memStore, rep *fakeReporter) *Controller {
	t.Helper()
	c, err := New(Deps{
		Config:   testConfig(),
		Driver:   p,
		Store:    store,
		Reporter: rep,
		Rand:     rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return c
}

func TestFirstCycleRecordsBaselineWithoutReporting(t *testing.T) {
	p := newFakePortal(
		fakeItem{name: "Math", score: "A", detail: "math-v1"},
		fakeItem{name: "Art", detail: "art-v1"},
	)
	store, rep := &memStore{}, &fakeReporter{}
	c := newTestController(t, p, store, rep)

	stats, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Items != 2 || stats.Changes != 0 {
		t.Fatalf("stats=%+v", stats)
	}
	if p.typed["usr"] != "student" || p.typed["pwd"] != "secret" {
		t.Fatalf("credentials not typed: %v", p.typed)
	}
	if p.category != "SEMESTER 1" {
		t.Fatalf("category=%q", p.category)
	}
	if rep.calls != 1 || len(rep.events) != 0 {
		t.Fatalf("reporter calls=%d events=%v", rep.calls, rep.events)
	}
	if store.saves != 2 {
		t.Fatalf("saves=%d, want one per item", store.saves)
	}
	if got := store.st.Scores["Math"]; got != "A" {
		t.Fatalf("Math score=%q", got)
	}
	if got := store.st.Scores["Art"]; got != detect.NoScore {
		t.Fatalf("Art score=%q", got)
	}
	if got := store.st.Details["Math"]; got != "<div>math-v1</div>" {
		t.Fatalf("Math detail=%q", got)
	}
	if p.steps != 2 {
		t.Fatalf("detail steps clicked=%d", p.steps)
	}
}

func TestCycleReportsChangedItem(t *testing.T) {
	p := newFakePortal(
		fakeItem{name: "Math", score: "A", detail: "math-v2"},
		fakeItem{name: "Art", score: "B", detail: "art-v1"},
	)
	store := &memStore{st: snapshot.State{
		Details: snapshot.Details{"Math": "<div>math-v1</div>", "Art": "<div>art-v1</div>"},
		Scores:  snapshot.Scores{"Math": "B", "Art": "B"},
	}}
	rep := &fakeReporter{}
	c := newTestController(t, p, store, rep)

	stats, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Changes != 1 {
		t.Fatalf("changes=%d", stats.Changes)
	}
	want := detect.Event{Item: "Math", OldScore: "B", NewScore: "A"}
	if len(rep.events) != 1 || rep.events[0] != want {
		t.Fatalf("events=%+v", rep.events)
	}
	if rep.url != baseURL {
		t.Fatalf("report url=%q", rep.url)
	}
	if store.st.Scores["Math"] != "A" {
		t.Fatalf("score cache not updated: %v", store.st.Scores)
	}

	// The next cycle sees nothing new.
	rep.events = nil
	if _, err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if len(rep.events) != 0 {
		t.Fatalf("unexpected events on unchanged cycle: %+v", rep.events)
	}
}

func TestCycleMatchesItemsByNameWhenListReorders(t *testing.T) {
	p := newFakePortal(
		fakeItem{name: "Math", score: "A", detail: "m"},
		fakeItem{name: "Art", score: "C", detail: "a"},
		fakeItem{name: "Bio", score: "B", detail: "b"},
	)
	p.reverseOnReturn = true
	store := &memStore{}
	c := newTestController(t, p, store, &fakeReporter{})

	if _, err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	want := map[string]string{"Math": "A", "Art": "C", "Bio": "B"}
	for name, score := range want {
		if store.st.Scores[name] != score {
			t.Fatalf("%s score=%q want %q (all=%v)", name, store.st.Scores[name], score, store.st.Scores)
		}
		if store.st.Details[name] != "<div>"+strings.ToLower(name[:1])+"</div>" {
			t.Fatalf("%s detail=%q", name, store.st.Details[name])
		}
	}
}

func TestDuplicateNamesAreVisitedSeparately(t *testing.T) {
	p := newFakePortal(
		fakeItem{name: "Math", score: "A", detail: "m1"},
		fakeItem{name: "Art", score: "C", detail: "a"},
		fakeItem{name: "Math", score: "B", detail: "m2"},
	)
	store := &memStore{}
	c := newTestController(t, p, store, &fakeReporter{})

	stats, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Items != 3 {
		t.Fatalf("items=%d want 3", stats.Items)
	}
	for id, want := range map[string][2]string{
		"Math":     {"<div>m1</div>", "A"},
		"Art":      {"<div>a</div>", "C"},
		"Math (2)": {"<div>m2</div>", "B"},
	} {
		if got := store.st.Details[id]; got != want[0] {
			t.Fatalf("%s detail=%q want %q (all=%v)", id, got, want[0], store.st.Details)
		}
		if got := store.st.Scores[id]; got != want[1] {
			t.Fatalf("%s score=%q want %q", id, got, want[1])
		}
	}

	// A change on the second row is attributed to it alone.
	p.items[2].detail = "m3"
	rep := &fakeReporter{}
	c.reporter = rep
	if _, err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if len(rep.events) != 1 || rep.events[0].Item != "Math (2)" {
		t.Fatalf("events=%+v", rep.events)
	}
}

func TestHiddenRowsAreSkipped(t *testing.T) {
	p := newFakePortal(
		fakeItem{name: "Math", score: "A", detail: "m"},
		fakeItem{name: "Ghost", score: "F", detail: "g", hidden: true},
	)
	store := &memStore{}
	c := newTestController(t, p, store, &fakeReporter{})

	stats, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Items != 1 {
		t.Fatalf("items=%d", stats.Items)
	}
	if _, ok := store.st.Details["Ghost"]; ok {
		t.Fatalf("hidden row was visited")
	}
}

func TestNoEnrollmentIsFatal(t *testing.T) {
	p := newFakePortal(fakeItem{name: "Math", score: "A", detail: "m"})
	p.enrolled = false
	c := newTestController(t, p, &memStore{}, &fakeReporter{})

	_, err := c.RunCycle(context.Background())
	if !errors.Is(err, ErrNoEnrollment) {
		t.Fatalf("err=%v, want ErrNoEnrollment", err)
	}
}

func TestSaveFailureAbortsCycle(t *testing.T) {
	p := newFakePortal(fakeItem{name: "Math", score: "A", detail: "m"})
	boom := errors.New("disk full")
	rep := &fakeReporter{}
	c := newTestController(t, p, &memStore{saveErr: boom}, rep)

	_, err := c.RunCycle(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if rep.calls != 0 {
		t.Fatalf("report sent despite failed save")
	}
}

func TestReporterErrorPropagates(t *testing.T) {
	p := newFakePortal(fakeItem{name: "Math", score: "A", detail: "m"})
	boom := errors.New("smtp down")
	c := newTestController(t, p, &memStore{}, &fakeReporter{err: boom})

	if _, err := c.RunCycle(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}

func TestRunSleepsWithinMarginAndRefreshes(t *testing.T) {
	p := newFakePortal(fakeItem{name: "Math", score: "A", detail: "m"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	c, err := New(Deps{
		Config:   testConfig(),
		Driver:   p,
		Store:    &memStore{},
		Reporter: &fakeReporter{},
		Rand:     rand.New(rand.NewSource(7)),
		Sleep: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			if len(waits) == 2 {
				cancel()
				return ctx.Err()
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var cycles int
	err = c.Run(ctx, Hooks{CycleComplete: func(CycleStats) { cycles++ }})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v", err)
	}
	if cycles != 2 {
		t.Fatalf("cycles=%d", cycles)
	}
	if p.refreshes != 1 {
		t.Fatalf("refreshes=%d", p.refreshes)
	}
	for _, w := range waits {
		if w < 50*time.Second || w > 70*time.Second {
			t.Fatalf("wait %v outside [50s,70s]", w)
		}
	}
	if len(p.navs) == 0 || p.navs[0] != baseURL {
		t.Fatalf("first navigation=%v", p.navs)
	}
}

func TestWaitDurationCoversInclusiveRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seen := map[time.Duration]bool{}
	for i := 0; i < 2000; i++ {
		d := WaitDuration(rng, 60, 2)
		if d < 58*time.Second || d > 62*time.Second {
			t.Fatalf("wait %v out of range", d)
		}
		seen[d] = true
	}
	if len(seen) != 5 {
		t.Fatalf("saw %d distinct values, want 5", len(seen))
	}
	if got := WaitDuration(rng, 60, 0); got != time.Minute {
		t.Fatalf("zero margin wait=%v", got)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error for empty deps")
	}
}
