package handler

import (
	"strings"
	"time"
)

var greetingWords = []string{
	"good morning", "good afternoon", "good evening", "good night",
	"bom dia", "boa tarde", "boa noite",
	"hello", "hi", "hey", "ola", "olá", "oi",
}

// isGreeting reports whether the message is essentially just a greeting.
func isGreeting(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	if m == "" {
		return false
	}

	// Only short messages count; "hi, what's my limit" carries intent.
	if len(strings.Fields(m)) > 3 {
		return false
	}
	for _, g := range greetingWords {
		if strings.Contains(m, g) {
			return true
		}
	}
	return false
}

// greetingFor returns a time-of-day greeting.
func greetingFor(now time.Time) string {
	switch hour := now.Hour(); {
	case hour < 12:
		return "Good morning!"
	case hour < 18:
		return "Good afternoon!"
	default:
		return "Good evening!"
	}
}
