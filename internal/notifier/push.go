package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Push sends a GET request to a Bark-style relay:
// <endpoint>/<token>/<title>/<body>. It is fire-and-forget: the response
// is discarded and a failed request is not retried.
type Push struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewPush(endpoint, token string, client *http.Client) (*Push, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" || token == "" {
		return nil, errors.New("push: endpoint and token are required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Push{endpoint: endpoint, token: token, client: client}, nil
}

func (p *Push) Name() string      { return "push" }
func (p *Push) Accepts(Kind) bool { return true }
func (p *Push) Critical() bool    { return false }
func (p *Push) OneShot() bool     { return true }

func (p *Push) URL(m Message) string {
	return p.endpoint + "/" + url.PathEscape(p.token) + "/" + url.PathEscape(m.Title) + "/" + url.PathEscape(m.Body)
}

func (p *Push) Send(ctx context.Context, m Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(m), nil)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	// The relay's answer, status included, is not inspected.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}
