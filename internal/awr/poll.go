package awr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrPollExhausted is wrapped when a wait gives up before reaching its goal.
var ErrPollExhausted = errors.New("gave up waiting")

type notYet struct{ what string }

func (e *notYet) Error() string { return e.what }

// WaitForTerminal polls a report until it is parsed or failed. Reads are
// idempotent, so polling the same status repeatedly is harmless. Server and
// transport errors stop the loop immediately; only "not terminal yet" is
// retried, with exponential backoff bounded by the client's PollConfig.
func (c *Client) WaitForTerminal(ctx context.Context, id int64, onUpdate func(*Report)) (*Report, error) {
	op := func() (*Report, error) {
		r, err := c.Get(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if onUpdate != nil {
			onUpdate(r)
		}
		if !r.Status.Terminal() {
			return r, &notYet{what: fmt.Sprintf("report %d is %s", id, r.Status)}
		}
		return r, nil
	}
	r, err := backoff.Retry(ctx, op, c.retryOptions()...)
	return r, c.pollError(err)
}

// WaitForDiagnostics polls until a diagnostic run numbered minRun or later is
// visible. Pass the RunID of an AnalysisAck to wait for that run. A failure
// of that run, or of a later one, ends the wait with an AnalysisFailedError;
// an older failed run is still "not yet".
func (c *Client) WaitForDiagnostics(ctx context.Context, id, minRun int64) (*DiagnosticSummary, error) {
	op := func() (*DiagnosticSummary, error) {
		s, found, err := c.Diagnostics(ctx, id)
		var failed *AnalysisFailedError
		if errors.As(err, &failed) && failed.runID < minRun {
			return nil, &notYet{what: fmt.Sprintf("report %d shows failed run %d, waiting for run %d", id, failed.runID, minRun)}
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !found {
			return nil, &notYet{what: fmt.Sprintf("no diagnostics for report %d yet", id)}
		}
		if s.RunID < minRun {
			return s, &notYet{what: fmt.Sprintf("report %d shows run %d, waiting for run %d", id, s.RunID, minRun)}
		}
		return s, nil
	}
	s, err := backoff.Retry(ctx, op, c.retryOptions()...)
	return s, c.pollError(err)
}

func (c *Client) retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.Poll.InitialInterval
	b.MaxInterval = c.cfg.Poll.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.cfg.Poll.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("poll", "state", err.Error(), "next", next)
		}),
	}
}

func (c *Client) pollError(err error) error {
	var ny *notYet
	if errors.As(err, &ny) {
		return fmt.Errorf("%w after %s: %s", ErrPollExhausted, c.cfg.Poll.MaxElapsed, ny.what)
	}
	return err
}
