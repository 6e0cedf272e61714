package crawl

import (
	"errors"
	"fmt"
)

// ErrRootUnreachable is fatal: the site root could not be fetched at all.
var ErrRootUnreachable = errors.New("root domain unreachable")

// ErrRobotsDisallowed marks a page skipped by robots directives. It is not a
// failure and never trips the host breaker.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// FetchError records a single-page fetch failure. It is non-fatal to the run.
type FetchError struct {
	URL    string
	Status int // zero when the failure happened below HTTP
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching %s: http %d", e.URL, e.Status)
	}
	return fmt.Errorf("fetching %s: %w", e.URL, e.Err).Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Reason returns the failure label persisted on the page record.
func (e *FetchError) Reason() string {
	if e.Status != 0 {
		return fmt.Sprintf("http_%d", e.Status)
	}
	return "network_error"
}
