package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/logger"
)

// DefaultMaxQueryLength caps query size to prevent resource abuse.
const DefaultMaxQueryLength = 500

// Prompt injection phrases checked against the lowercased query.
var injectionPatterns = []string{
	"ignore previous",
	"ignore above",
	"ignore all previous",
	"disregard previous",
	"forget previous",
	"system:",
	"assistant:",
	"user:",
	"[system]",
	"[assistant]",
	"[user]",
	"new instructions",
	"new directive",
	"override instructions",
	"bypass instructions",
	"pretend you are",
	"act as if",
	"roleplay as",
	"you are now",
	"from now on",
	"reveal all",
	"show all messages",
	"dump all",
	"list everything",
	"output everything",
	"print all",
	"display all data",
}

// Phrases that suggest an attempt to exfiltrate indexed data.
var exfiltrationPatterns = []string{
	"send to url",
	"post to http",
	"webhook",
	"curl",
	"fetch(",
	"axios",
	"xmlhttprequest",
	"external api",
	"send email",
	"base64 encode",
	"encode all",
}

var (
	controlCharRe = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)
	specialCharRe = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
)

// maxCharRun is the longest run of one repeated character tolerated in a query.
const maxCharRun = 50

// Sanitizer normalizes user queries and classifies injection attempts.
type Sanitizer struct {
	maxLen int
	log    *logger.Logger
}

func New(maxLen int, log *logger.Logger) *Sanitizer {
	if maxLen <= 0 {
		maxLen = DefaultMaxQueryLength
	}
	return &Sanitizer{maxLen: maxLen, log: log.With("service", "Sanitizer")}
}

// Sanitize returns the normalized query or fails with invalid_query /
// suspicious_query. A positive injection match is logged as a security event;
// it never passes through silently.
func (s *Sanitizer) Sanitize(tenantKey string, query string) (string, error) {
	q := norm.NFKC.String(query)
	q = controlCharRe.ReplaceAllString(q, "")
	q = strings.TrimSpace(q)

	if q == "" {
		return "", apperr.New(apperr.KindInvalidQuery, "query is empty")
	}
	if len([]rune(q)) > s.maxLen {
		return "", apperr.New(apperr.KindInvalidQuery,
			fmt.Sprintf("query exceeds %d characters", s.maxLen))
	}

	if pattern := detectInjection(q); pattern != "" {
		s.log.Warn("security event",
			"event_type", "prompt_injection_attempt",
			"tenant", tenantKey,
			"pattern", pattern,
		)
		return "", apperr.New(apperr.KindSuspiciousQuery, "query flagged as suspicious")
	}
	return q, nil
}

// detectInjection reports the first matched pattern, or "".
func detectInjection(q string) string {
	lower := strings.ToLower(q)

	for _, p := range injectionPatterns {
		if strings.Contains(lower, p) {
			return p
		}
	}
	for _, p := range exfiltrationPatterns {
		if strings.Contains(lower, p) {
			return "exfiltration:" + p
		}
	}

	// Long runs of one character read like buffer abuse.
	if hasLongRun(q, maxCharRun) {
		return "repeated_chars"
	}

	return detectShape(q)
}

func hasLongRun(q string, limit int) bool {
	var prev rune
	run := 0
	for _, r := range q {
		if r == prev {
			run++
			if run > limit {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

func detectShape(q string) string {
	// Mostly-symbol queries are not natural language.
	if n := len(q); n > 0 {
		special := len(specialCharRe.FindAllString(q, -1))
		if float64(special)/float64(n) > 0.5 {
			return "excessive_special_chars"
		}
	}
	return ""
}
