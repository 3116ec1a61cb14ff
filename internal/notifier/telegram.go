package notifier

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4000

// Telegram posts messages to one chat through the Bot API. The bot runs
// offline: it never polls for updates.
type Telegram struct {
	chat *tele.Chat
	send func(to tele.Recipient, text string) error
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	t := &Telegram{chat: &tele.Chat{ID: chatID}}
	t.send = func(to tele.Recipient, text string) error {
		_, err := b.Send(to, text, &tele.SendOptions{DisableWebPagePreview: true})
		return err
	}
	return t, nil
}

func (t *Telegram) Name() string      { return "telegram" }
func (t *Telegram) Accepts(Kind) bool { return true }
func (t *Telegram) Critical() bool    { return false }

func (t *Telegram) Send(ctx context.Context, m Message) error {
	text := m.Body
	if m.Title != "" {
		text = m.Title + "\n\n" + m.Body
	}
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.send(t.chat, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		// Skip leading newlines to avoid empty chunks.
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
