package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Reason classifies why an Attempt failed.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonTransport   Reason = "transport"
	ReasonTimeout     Reason = "timeout"
	ReasonApplication Reason = "application"
)

// TimeoutError is the error description recorded for timed out attempts.
const TimeoutError = "timeout"

// Outcome is the recorded result of one Attempt.
type Outcome struct {
	Success bool    `json:"success"`
	Latency float64 `json:"latency_ms"`
	Status  int     `json:"status"`
	Reason  Reason  `json:"reason,omitempty"`
	Error   string  `json:"error,omitempty"`
	Count   int     `json:"count"`
}

// ErrorLabel is the key used for this outcome in an error histogram.
func (o Outcome) ErrorLabel() string {
	if o.Error != "" {
		return o.Error
	}
	return fmt.Sprintf("status %d", o.Status)
}

// Response is what a Sender observed from the target service.
type Response struct {
	StatusCode int
	Body       string
}

// Succeeded reports whether the status is in the 2xx range.
func (r Response) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func newOutcome(resp Response, err error, ctx context.Context, elapsed time.Duration, count int) Outcome {
	latency := float64(elapsed.Nanoseconds()) / 1e6

	if err != nil {
		if isTimeout(ctx, err) {
			return Outcome{Latency: latency, Reason: ReasonTimeout, Error: TimeoutError, Count: count}
		}
		return Outcome{Latency: latency, Reason: ReasonTransport, Error: err.Error(), Count: count}
	}

	if resp.Succeeded() {
		return Outcome{Success: true, Latency: latency, Status: resp.StatusCode, Count: count}
	}
	return Outcome{
		Latency: latency,
		Status:  resp.StatusCode,
		Reason:  ReasonApplication,
		Error:   resp.Body,
		Count:   count,
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
