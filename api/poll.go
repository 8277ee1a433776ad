// Package api
// Author: momentics
//
// Poll error policy for loops driving a Transport.

package api

import "fmt"

// PollErrorPolicy decides what a poll loop does when Transport.ManualPoll fails.
type PollErrorPolicy uint8

const (
	// ContinueOnError logs the failure and keeps polling.
	ContinueOnError PollErrorPolicy = iota
	// ExitOnError stops the loop after the configured number of consecutive failures.
	ExitOnError
)

func (p PollErrorPolicy) String() string {
	switch p {
	case ContinueOnError:
		return "continue"
	case ExitOnError:
		return "exit"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePollErrorPolicy accepts the String forms.
func ParsePollErrorPolicy(s string) (PollErrorPolicy, error) {
	switch s {
	case "continue", "":
		return ContinueOnError, nil
	case "exit":
		return ExitOnError, nil
	default:
		return 0, fmt.Errorf("%w: unknown poll error policy %q", ErrInvalidConfig, s)
	}
}
