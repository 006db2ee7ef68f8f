// Package retry consolidates the pipeline's retry policy: error
// classification (transient vs terminal, with rate limiting as a special
// transient class) and capped exponential backoff. RPC wrappers mark errors
// at the source; everything else falls back to message-token matching.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Class partitions errors by retryability.
type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
	ClassRateLimit Class = "rate_limit"
)

// Decision is the outcome of classifying an error.
type Decision struct {
	Class  Class
	Reason string
}

// IsTransient reports whether the error is worth retrying.
func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient || d.Class == ClassRateLimit
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks an error as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient, reason: "explicit_transient"}
}

// Terminal marks an error as not retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: "explicit_terminal"}
}

// RateLimit marks an error as a provider rate-limit signal. Rate-limit errors
// are retryable and additionally drive the scanner's chunk-size shrink.
func RateLimit(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassRateLimit, reason: "explicit_rate_limit"}
}

var rateLimitMessageTokens = []string{
	"rate limit",
	"too many requests",
	"429",
	"limit exceeded",
	"compute units",
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"eof",
}

// Classify determines how an error should be handled.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassTransient, Reason: "net_timeout"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, rateLimitMessageTokens) {
		return Decision{Class: ClassRateLimit, Reason: "message_rate_limit"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

// IsRateLimit reports whether the error is a provider rate-limit signal.
func IsRateLimit(err error) bool {
	return Classify(err).Class == ClassRateLimit
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// Policy is a capped exponential backoff retry policy. The zero value is not
// usable; construct with DefaultPolicy and adjust.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy returns the policy used by the chain client wrapper.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// Do runs op, retrying transient failures with backoff. The last error is
// returned once attempts are exhausted or a terminal error occurs.
func (p Policy) Do(ctx context.Context, op func() error) error {
	delay := p.InitialDelay
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		err := op()
		if err == nil {
			return nil
		}
		if !Classify(err).IsTransient() {
			return err
		}
		lastErr = err
	}

	return lastErr
}
