package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wneessen/go-mail"
	tele "gopkg.in/telebot.v4"

	"scorewatch/internal/config"
	logx "scorewatch/pkg/logx"
)

func TestPushBuildsEscapedPath(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.EscapedPath()
		mu.Unlock()
		_, _ = w.Write([]byte(`{"code":200}`))
	}))
	defer srv.Close()

	p, err := NewPush(srv.URL+"/", "tok", srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Send(context.Background(), Message{Title: "Score Watch", Body: "Math: B -> A/x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if path != "/tok/Score%20Watch/Math:%20B%20-%3E%20A%2Fx" {
		t.Fatalf("path=%q", path)
	}
}

type refusingTransport struct{ calls int }

func (rt *refusingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	rt.calls++
	return nil, errors.New("connection refused")
}

func TestPushIgnoresRelayStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := NewPush(srv.URL, "tok", srv.Client())
	if err := p.Send(context.Background(), Message{Title: "t", Body: "b"}); err != nil {
		t.Fatalf("502 should not be an error: %v", err)
	}
}

func TestPushIsNotRetried(t *testing.T) {
	rt := &refusingTransport{}
	p, _ := NewPush("http://relay.test", "tok", &http.Client{Transport: rt})
	d := New(Config{RetryMax: 3, RetryBase: time.Millisecond, RatePerSec: 1000}, "t", []Channel{p}, logx.Nop())

	d.Notify(context.Background(), "Start!")
	if rt.calls != 1 {
		t.Fatalf("push attempts=%d, want 1", rt.calls)
	}
	if h := d.History(); len(h) != 1 || h[0].Err == "" {
		t.Fatalf("history=%+v", h)
	}
}

func TestEmailBuildsSingleMessageForAllRecipients(t *testing.T) {
	em, err := NewEmail(EmailConfig{
		Host:       "smtp.example.com",
		Port:       25,
		Address:    "bot@example.com",
		FromName:   "Score Watch",
		Recipients: []string{"a@example.com", "b@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var got []*mail.Msg
	em.dial = func(_ context.Context, msg *mail.Msg) error {
		got = append(got, msg)
		return nil
	}

	if err := em.Send(context.Background(), Message{Kind: KindChange, Title: "Score Watch", Body: "body"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("dial calls=%d want 1", len(got))
	}
	to := got[0].GetToString()
	if len(to) != 2 || !strings.Contains(to[0], "a@example.com") || !strings.Contains(to[1], "b@example.com") {
		t.Fatalf("recipients=%v", to)
	}
	if !em.Critical() || em.Accepts(KindStatus) {
		t.Fatalf("email must be critical and change-only")
	}
}

func TestTelegramSplitsLongMessages(t *testing.T) {
	var sent []string
	tg := &Telegram{chat: &tele.Chat{ID: 42}}
	tg.send = func(_ tele.Recipient, text string) error {
		sent = append(sent, text)
		return nil
	}

	long := strings.Repeat("Math: B -> A\n", 700)
	if err := tg.Send(context.Background(), Message{Title: "T", Body: long}); err != nil {
		t.Fatal(err)
	}
	if len(sent) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(sent))
	}
	for i, c := range sent {
		if len([]rune(c)) > telegramTextLimit {
			t.Fatalf("chunk %d too long: %d", i, len([]rune(c)))
		}
	}
}

func TestSplitTextShort(t *testing.T) {
	if got := splitText("hi", 10); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("splitText=%v", got)
	}
}

func TestFromConfigSelectsChannels(t *testing.T) {
	off := false
	cfg := &config.Config{
		DesktopNotification: &off,
		PushNotification:    true,
		PushAPIToken:        "tok",
	}
	cfg.ApplyDefaults()

	d, err := FromConfig(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if got := strings.Join(d.Channels(), ","); got != "push" {
		t.Fatalf("channels=%q", got)
	}
}

func TestDesktopShowsFirstLineOnly(t *testing.T) {
	if got := firstLine("Score change detected for 1 course.\n\nMath: B -> A"); got != "Score change detected for 1 course." {
		t.Fatalf("firstLine=%q", got)
	}
}

func TestDesktopSend(t *testing.T) {
	boom := errors.New("toast failed")
	for _, tc := range []struct {
		name    string
		showErr error
		wantErr error
	}{
		{"shown", nil, nil},
		{"no notification service", errUnsupported, nil},
		{"failure surfaces", boom, boom},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDesktop("Scorewatch", logx.Nop())
			var app, title, body string
			d.show = func(_ context.Context, a, ti, b string) error {
				app, title, body = a, ti, b
				return tc.showErr
			}
			err := d.Send(context.Background(), Message{Kind: KindChange, Title: "Grades", Body: "1 change\nMath: B -> A"})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want %v", err, tc.wantErr)
			}
			if app != "Scorewatch" || title != "Grades" || body != "1 change" {
				t.Fatalf("shown app=%q title=%q body=%q", app, title, body)
			}
		})
	}
}
