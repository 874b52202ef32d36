// Package relay serves live streams: it walks a channel's ordered candidate
// sources under time budgets, relays the first one that answers, and
// transparently upgrades to a better-ranked source in the background.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// AttemptError is one classified candidate failure.
type AttemptError struct {
	Reason string // models.ReasonConnectionTimeout etc.
	Status int    // set for ReasonHTTPError
	Err    error
}

func (e *AttemptError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s(%d)", e.Reason, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *AttemptError) Unwrap() error { return e.Err }

// upstream is one open connection to a source.
type upstream struct {
	candidate store.Candidate
	resp      *http.Response
	// cancel ends the request context and with it the body. Held open for
	// the whole relay so a slow upstream can be cut off on caller disconnect.
	cancel context.CancelFunc
}

func (u *upstream) Close() {
	if u.resp != nil {
		u.resp.Body.Close()
	}
	u.cancel()
}

// dial opens a candidate's stream URL with a connect/response timeout.
// The timeout covers dialing and response headers only: once headers arrive
// the timer is stopped, so a long-lived body is unaffected. The returned
// upstream stays bound to ctx and dies with it.
func (s *Selector) dial(ctx context.Context, cand store.Candidate, timeout time.Duration) (*upstream, *AttemptError) {
	cctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(timeout, cancel)

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, cand.Source.URL, nil)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, &AttemptError{Reason: models.ReasonConnectionError, Err: err}
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	timedOut := !timer.Stop()
	if err != nil {
		cancel()
		return nil, &AttemptError{Reason: classifyDialError(err, timedOut), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status := resp.StatusCode
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &AttemptError{Reason: models.ReasonHTTPError, Status: status}
	}
	return &upstream{candidate: cand, resp: resp, cancel: cancel}, nil
}

// classifyDialError separates timeouts from other connect failures
// (DNS, refused connection, TLS).
func classifyDialError(err error, timedOut bool) string {
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonConnectionTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return models.ReasonConnectionTimeout
	}
	return models.ReasonConnectionError
}
