package posts

import (
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusExecuting, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusExecuting, StatusCompleted, true},
		{StatusExecuting, StatusFailed, true},
		{StatusExecuting, StatusPending, true}, // retry
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusExecuting, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if len(AllowedTransitions[s]) != 0 {
			t.Errorf("Terminal state %s has exits: %v", s, AllowedTransitions[s])
		}
	}
}

func TestValidateContent(t *testing.T) {
	if err := ValidateContent(""); err == nil {
		t.Error("Empty content accepted")
	}
	if err := ValidateContent(strings.Repeat("a", 301)); err == nil {
		t.Error("301-rune content accepted")
	}
	if err := ValidateContent(strings.Repeat("a", 300)); err != nil {
		t.Errorf("300-rune content rejected: %v", err)
	}
	// Code points, not bytes: 300 multibyte runes are fine
	if err := ValidateContent(strings.Repeat("é", 300)); err != nil {
		t.Errorf("300 multibyte runes rejected: %v", err)
	}
	if err := ValidateContent("hello"); err != nil {
		t.Errorf("Valid content rejected: %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 2 * time.Minute},
		{3, 8 * time.Minute},
	}
	for _, tc := range cases {
		if got := RetryDelay(tc.attempt); got != tc.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
