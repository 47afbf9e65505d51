// Package urlfilter decides which discovered links may enter the frontier.
package urlfilter

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/purell"
)

// MaxURLLength is the longest address the frontier stores.
const MaxURLLength = 256

// Reason explains a verdict.
type Reason string

// Verdict reasons.
const (
	ReasonAccepted   Reason = "accepted"
	ReasonEmpty      Reason = "empty"
	ReasonMalformed  Reason = "malformed"
	ReasonScheme     Reason = "scheme"
	ReasonTooLong    Reason = "too_long"
	ReasonDenylisted Reason = "denylisted"
)

const normalizeFlags = purell.FlagsSafe | purell.FlagRemoveFragment

// Result is the outcome of Classify.
type Result struct {
	Accepted bool
	// URL is the normalized address when Accepted.
	URL    string
	Reason Reason
	// Extension is the matching denylist suffix for ReasonDenylisted.
	Extension string
}

// Classify strips the fragment, normalizes raw and checks it against the
// length limit and the extension denylist. It is pure and deterministic.
func Classify(raw string) Result {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return Result{Reason: ReasonEmpty}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Result{Reason: ReasonMalformed}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return Result{Reason: ReasonScheme}
	}
	if u.Host == "" {
		return Result{Reason: ReasonMalformed}
	}

	normalized := purell.NormalizeURL(u, normalizeFlags)
	if utf8.RuneCountInString(normalized) > MaxURLLength {
		return Result{Reason: ReasonTooLong}
	}
	// Only the path is matched so that hosts such as example.com are not
	// mistaken for .com executables.
	if ext, ok := deniedSuffix(u.Path); ok {
		return Result{Reason: ReasonDenylisted, Extension: ext}
	}
	return Result{Accepted: true, URL: normalized, Reason: ReasonAccepted}
}
