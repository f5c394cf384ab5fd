package delivery

import (
	"fmt"
	"math"
	"time"
)

// Action is what the retry scheduler decided after an attempt
type Action struct {
	Retry bool
	Delay time.Duration
}

// GiveUp ends the delivery chain
var GiveUp = Action{}

func RetryAfter(d time.Duration) Action {
	return Action{Retry: true, Delay: d}
}

func (a Action) String() string {
	if !a.Retry {
		return "give_up"
	}
	return fmt.Sprintf("retry_after(%dms)", a.Delay.Milliseconds())
}

// RetryPolicy is exponential backoff with a hard attempt ceiling:
// a failed attempt n < MaxAttempts is retried after BaseDelay * 2^n.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}

// maxBackoff is where the doubling saturates instead of overflowing
const maxBackoff = time.Duration(math.MaxInt64)

func (p RetryPolicy) NextAction(o Outcome, attempt int) Action {
	if !o.Failed() {
		return GiveUp
	}
	if attempt >= p.MaxAttempts {
		return GiveUp
	}
	if attempt < 0 {
		attempt = 0
	}
	if p.BaseDelay > 0 && (attempt >= 63 || p.BaseDelay > maxBackoff>>attempt) {
		return RetryAfter(maxBackoff)
	}
	return RetryAfter(p.BaseDelay << attempt)
}

// NextAction applies DefaultRetryPolicy
func NextAction(o Outcome, attempt int) Action {
	return DefaultRetryPolicy.NextAction(o, attempt)
}
