package notifier

import (
	"context"
	"encoding/base64"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/wneessen/go-mail/smtp"
)

func TestRelayAuthPicksOfferedMechanism(t *testing.T) {
	for _, tc := range []struct {
		name    string
		tls     bool
		offered []string
		want    string
	}{
		{"plain relay without tls", false, []string{"PLAIN"}, "PLAIN"},
		{"login only relay", false, []string{"LOGIN"}, "LOGIN"},
		{"plain before login", false, []string{"LOGIN", "PLAIN"}, "PLAIN"},
		{"cram before plain", false, []string{"PLAIN", "CRAM-MD5"}, "CRAM-MD5"},
		{"scram first over tls", true, []string{"PLAIN", "LOGIN", "SCRAM-SHA-1", "SCRAM-SHA-256"}, "SCRAM-SHA-256"},
		{"lower case names", false, []string{"login"}, "LOGIN"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := &relayAuth{user: "bot@example.com", pass: "secret", host: "relay.example.net"}
			proto, _, err := a.Start(&smtp.ServerInfo{Name: "relay.example.net", TLS: tc.tls, Auth: tc.offered})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if proto != tc.want {
				t.Fatalf("mechanism=%q want %q", proto, tc.want)
			}
		})
	}

	a := &relayAuth{user: "bot@example.com", pass: "secret", host: "relay.example.net"}
	if _, _, err := a.Start(&smtp.ServerInfo{Name: "relay.example.net", Auth: []string{"XOAUTH2"}}); err == nil {
		t.Fatalf("expected an error when no offered mechanism is usable")
	}
	if _, err := a.Next(nil, true); err == nil {
		t.Fatalf("expected Next to fail before a mechanism was picked")
	}
}

// fakeRelay is a minimal SMTP server without STARTTLS. It accepts one
// session and reports the AUTH mechanism and decoded credentials it saw.
type fakeRelay struct {
	ln    net.Listener
	mechs string
	auth  chan []string
}

func startFakeRelay(t *testing.T, mechs string) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := &fakeRelay{ln: ln, mechs: mechs, auth: make(chan []string, 1)}
	t.Cleanup(func() { _ = ln.Close() })
	go r.serve()
	return r
}

func (r *fakeRelay) port() int { return r.ln.Addr().(*net.TCPAddr).Port }

func (r *fakeRelay) serve() {
	conn, err := r.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	tp := textproto.NewConn(conn)
	b64 := base64.StdEncoding

	read := func() string {
		line, err := tp.ReadLine()
		if err != nil {
			return ""
		}
		return line
	}
	decode := func(s string) string {
		b, _ := b64.DecodeString(s)
		return string(b)
	}

	_ = tp.PrintfLine("220 relay.test ESMTP")
	for {
		line := read()
		if line == "" {
			return
		}
		verb := strings.ToUpper(strings.Fields(line)[0])
		switch verb {
		case "EHLO":
			_ = tp.PrintfLine("250-relay.test")
			_ = tp.PrintfLine("250-AUTH %s", r.mechs)
			_ = tp.PrintfLine("250 8BITMIME")
		case "AUTH":
			f := strings.Fields(line)
			switch strings.ToUpper(f[1]) {
			case "PLAIN":
				resp := ""
				if len(f) > 2 {
					resp = f[2]
				} else {
					_ = tp.PrintfLine("334 ")
					resp = read()
				}
				parts := strings.Split(decode(resp), "\x00")
				r.auth <- append([]string{"PLAIN"}, parts[1:]...)
			case "LOGIN":
				_ = tp.PrintfLine("334 %s", b64.EncodeToString([]byte("Username:")))
				user := decode(read())
				_ = tp.PrintfLine("334 %s", b64.EncodeToString([]byte("Password:")))
				pass := decode(read())
				r.auth <- []string{"LOGIN", user, pass}
			default:
				_ = tp.PrintfLine("504 unrecognized mechanism")
				continue
			}
			_ = tp.PrintfLine("235 2.7.0 Authentication successful")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			if _, err := tp.ReadDotLines(); err != nil {
				return
			}
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 ok")
		}
	}
}

func TestEmailAuthenticatesAgainstRelayWithoutTLS(t *testing.T) {
	for _, tc := range []struct {
		offered string
		want    string
	}{
		{"LOGIN", "LOGIN"},
		{"LOGIN PLAIN", "PLAIN"},
	} {
		t.Run(tc.offered, func(t *testing.T) {
			relay := startFakeRelay(t, tc.offered)
			em, err := NewEmail(EmailConfig{
				Host:       "127.0.0.1",
				Port:       relay.port(),
				Address:    "bot@example.com",
				Password:   "secret",
				FromName:   "Score Watch",
				Recipients: []string{"a@example.com"},
			})
			if err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := em.Send(ctx, Message{Kind: KindChange, Title: "Score Watch", Body: "Math: B -> A"}); err != nil {
				t.Fatalf("Send: %v", err)
			}

			select {
			case got := <-relay.auth:
				if len(got) != 3 || got[0] != tc.want || got[1] != "bot@example.com" || got[2] != "secret" {
					t.Fatalf("auth=%q want %s with the configured credentials", got, tc.want)
				}
			default:
				t.Fatalf("relay saw no AUTH exchange")
			}
		})
	}
}
