// Package retry is a client-side retry policy for mail-protocol
// operations: classify an error as transient, permanent, or requiring
// reconnection, then retry transient failures with backoff.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	imap "github.com/outpostmail/mailkit"
	"github.com/outpostmail/mailkit/pop3"
	"github.com/outpostmail/mailkit/smtp"
)

// Classification describes how a caller should react to an error.
type Classification int

const (
	// Permanent means retrying will not help (e.g. BAD/NO with no
	// transient response code); the caller should surface the error.
	Permanent Classification = iota
	// Transient means the operation can be retried on the same connection.
	Transient
	// RequiresReconnection means the connection is no longer usable and
	// the caller must dial again before retrying.
	RequiresReconnection
)

// Classify inspects an error and reports how a client should react to it.
func Classify(err error) Classification {
	if err == nil {
		return Permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Transient
		}
		return RequiresReconnection
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return RequiresReconnection
	}

	var imapErr *imap.IMAPError
	if errors.As(err, &imapErr) {
		switch imapErr.Type {
		case imap.StatusResponseTypeBYE:
			return RequiresReconnection
		case imap.StatusResponseTypeNO:
			switch imapErr.Code {
			case imap.ResponseCodeInUse, imap.ResponseCodeInProgress, imap.ResponseCodeOverQuota:
				return Transient
			}
		}
		return Permanent
	}

	// SMTP: 4xx replies are transient by definition (RFC 5321 §4.2.1),
	// 5xx permanent.
	var smtpErr *smtp.Error
	if errors.As(err, &smtpErr) {
		if smtpErr.Reply.Code >= 400 && smtpErr.Reply.Code < 500 {
			return Transient
		}
		return Permanent
	}

	// POP3 has no transient/permanent distinction on the wire; a -ERR
	// that wasn't a transport failure is treated as permanent.
	var popErr *pop3.Error
	if errors.As(err, &popErr) {
		return Permanent
	}

	return Permanent
}

// Policy configures retry behavior. The nth retry sleeps
// min(MaxDelay, BaseDelay·BackoffMultiplier^(n-1)), plus a uniform
// 0-25% of that on top when UseJitter is set.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Zero means 1 (no retries).
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay (before jitter).
	MaxDelay time.Duration
	// BackoffMultiplier scales the delay geometrically between retries.
	// Values below 1 (including the zero value) mean a constant delay.
	BackoffMultiplier float64
	// UseJitter adds a uniform 0-25% of the nominal delay on top, so a
	// herd of clients knocked out together doesn't retry in lockstep.
	UseJitter bool
	// Collector records attempt/outcome counts, if set.
	Collector *Collector
}

// DefaultPolicy returns a conservative policy: 3 attempts, 200ms base
// delay doubling up to 5s, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		UseJitter:         true,
	}
}

// Reconnector is supplied by the caller so retry can re-establish a
// connection when Classify reports RequiresReconnection.
type Reconnector func(ctx context.Context) error

// Do runs op, retrying transient failures per the policy. When op fails
// with RequiresReconnection, reconnect is invoked before the next attempt;
// if reconnect is nil, such errors are treated as permanent.
func Do(ctx context.Context, policy Policy, reconnect Reconnector, op func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(policy, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := op(ctx)
		if policy.Collector != nil {
			policy.Collector.observeAttempt(err == nil)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case Transient:
			continue
		case RequiresReconnection:
			if reconnect == nil {
				return eris.Wrap(err, "retry: connection lost and no reconnector configured")
			}
			if rerr := reconnect(ctx); rerr != nil {
				return eris.Wrap(rerr, "retry: reconnecting after transient connection loss")
			}
			continue
		default:
			return err
		}
	}
	return eris.Wrapf(lastErr, "retry: exhausted %d attempts", attempts)
}

// backoffDelay computes the sleep before retry number attempt (1-based).
func backoffDelay(policy Policy, attempt int) time.Duration {
	mult := policy.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	nominal := float64(policy.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if policy.MaxDelay > 0 && nominal > float64(policy.MaxDelay) {
		nominal = float64(policy.MaxDelay)
	}
	delay := time.Duration(nominal)
	if policy.UseJitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}
	return delay
}

// Collector exposes Prometheus counters for retry attempts and outcomes.
type Collector struct {
	Attempts prometheus.Counter
	Failures prometheus.Counter
}

// NewCollector creates a Collector with the given namespace/subsystem,
// registering its counters with reg.
func NewCollector(reg prometheus.Registerer, namespace, subsystem string) *Collector {
	c := &Collector{
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "retry_attempts_total",
			Help: "Total number of retry attempts made.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "retry_failures_total",
			Help: "Total number of attempts that ended in failure.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.Attempts, c.Failures)
	}
	return c
}

func (c *Collector) observeAttempt(ok bool) {
	if c == nil {
		return
	}
	c.Attempts.Inc()
	if !ok {
		c.Failures.Inc()
	}
}
