// Package filter implements the name/burst filter: the first line of
// defense against spam tokens, applied before a creation event ever
// reaches the discovery cache. It follows a recent-list/burst-window
// shape (bad-name regex, prune-at-2x-window behavior) in a plain-
// struct-plus-mutex style.
package filter

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultBadNamesPattern is the default BAD_NAMES_PATTERN.
const DefaultBadNamesPattern = `(test|bot|rug|scam|cant|honey|faucet)`

// Reason is the rejection reason reported to callers and metrics.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonBadName   Reason = "bad_name"
	ReasonSpamBurst Reason = "spam_burst"
)

type recentEntry struct {
	at     time.Time
	name   string
	symbol string
}

// Filter evaluates creation metadata against a bad-name regex and a
// recent-duplicate burst window.
type Filter struct {
	burstWindow time.Duration

	mu      sync.Mutex
	badName *regexp.Regexp
	recent  []recentEntry
}

// New builds a Filter. pattern is compiled case-insensitively; an empty
// pattern falls back to DefaultBadNamesPattern.
func New(pattern string, burstWindow time.Duration) (*Filter, error) {
	if pattern == "" {
		pattern = DefaultBadNamesPattern
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	return &Filter{badName: re, burstWindow: burstWindow}, nil
}

// SetPattern recompiles the bad-name regex on a config change. Returns
// an error, leaving the existing pattern in place, if the new pattern
// fails to compile.
func (f *Filter) SetPattern(pattern string) error {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.badName = re
	f.mu.Unlock()
	return nil
}

// Evaluate applies the two rules in order: bad-name regex, then
// recent-duplicate burst. On acceptance, (name, symbol, now) is appended
// to the recent list and entries older than 2x the burst window are
// pruned.
func (f *Filter) Evaluate(name, symbol string, now time.Time) (accept bool, reason Reason) {
	trimmed := strings.TrimSpace(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.badName.MatchString(trimmed) {
		return false, ReasonBadName
	}

	for _, e := range f.recent {
		if now.Sub(e.at) > f.burstWindow {
			continue
		}
		if e.name == name || (symbol != "" && e.symbol == symbol) {
			return false, ReasonSpamBurst
		}
	}

	f.recent = append(f.recent, recentEntry{at: now, name: name, symbol: symbol})
	f.prune(now)
	return true, ReasonNone
}

// prune removes recent-list entries older than 2x the burst window. Must
// be called with f.mu held.
func (f *Filter) prune(now time.Time) {
	cutoff := 2 * f.burstWindow
	kept := f.recent[:0]
	for _, e := range f.recent {
		if now.Sub(e.at) <= cutoff {
			kept = append(kept, e)
		}
	}
	f.recent = kept
}

// RecentLen reports the current recent-list size, for tests and status
// reporting.
func (f *Filter) RecentLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recent)
}
