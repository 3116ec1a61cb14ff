// Package driver defines the browser automation surface the portal
// controller needs. internal/browser implements it on top of go-rod;
// tests use an in-memory fake.
//
// Selectors are XPath expressions. Element lookups that find nothing are
// reported through a boolean result, not an error, because absence is an
// expected signal (login state check, end of a bounded option search).
package driver

import (
	"context"
	"errors"
	"fmt"
)

// Driver is one automation session (one browser page).
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Find returns the first match. ok is false when nothing matches.
	Find(ctx context.Context, xpath string) (el Element, ok bool, err error)
	FindAll(ctx context.Context, xpath string) ([]Element, error)
	CurrentURL(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
	// Quit releases the session. It is safe to call more than once.
	Quit() error
}

// Element is a handle to a DOM node. Handles may go stale after any
// navigation; callers re-fetch instead of caching them.
type Element interface {
	Click(ctx context.Context) error
	Input(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
	// HTML returns the element's outer HTML.
	HTML(ctx context.Context) (string, error)
	// Attribute returns the named attribute. ok is false when it is unset.
	Attribute(ctx context.Context, name string) (value string, ok bool, err error)
	Visible(ctx context.Context) (bool, error)
	FindAll(ctx context.Context, xpath string) ([]Element, error)
}

// ErrTimeout classifies failures where the remote side stopped responding.
// They are retryable.
var ErrTimeout = errors.New("driver: timeout")

// OpError records which driver operation failed.
type OpError struct {
	Op       string
	Selector string
	Timeout  bool
	Cause    error
}

func (e *OpError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("driver: %s %s: %v", e.Op, e.Selector, e.Cause)
	}
	return fmt.Sprintf("driver: %s: %v", e.Op, e.Cause)
}

func (e *OpError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrTimeout) true for timeout-classified failures.
func (e *OpError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout
}

// IsTimeout reports whether err is a retryable timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
