// Package antibot detects blocking responses and gates re-fetch cooldowns.
package antibot

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// CooldownWindow suppresses fetching for a source after a detected block.
const CooldownWindow = 6 * time.Hour

// blockSignatures are substrings that identify an anti-bot wall rather than
// real content. Matched case-insensitively against the fetched body.
var blockSignatures = []string{
	"your ip has been blocked",
	"ip address has been blacklisted",
	"access denied",
	"please verify you are a human",
	"checking your browser before accessing",
	"captcha",
	"请求过于频繁",
	"访问受限",
	"安全验证",
}

// Sentinel scans fetched bodies for known blocking signatures.
type Sentinel struct {
	signatures []string
}

// NewSentinel builds a Sentinel with the default signature list, plus any
// extra keywords.
func NewSentinel(extra ...string) *Sentinel {
	sigs := make([]string, 0, len(blockSignatures)+len(extra))
	sigs = append(sigs, blockSignatures...)
	for _, kw := range extra {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			sigs = append(sigs, kw)
		}
	}
	return &Sentinel{signatures: sigs}
}

// Detect returns the matched keyword when body looks like a block page.
func (s *Sentinel) Detect(body string) (string, bool) {
	if body == "" {
		return "", false
	}
	lower := strings.ToLower(body)
	for _, kw := range s.signatures {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// BlockError is the distinguished failure raised when a block page is
// detected during a list or detail fetch.
type BlockError struct {
	Keyword string
	URL     string
	At      time.Time
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("anti-bot block detected (keyword %q) at %s", e.Keyword, e.URL)
}

// Marker renders the block as the last-error string persisted on the
// source. ParseMarker must round-trip this format.
func (e *BlockError) Marker() string {
	return fmt.Sprintf("[antibot-block keyword=%q url=%s ts=%s]", e.Keyword, e.URL, e.At.UTC().Format(time.RFC3339))
}

var markerRe = regexp.MustCompile(`\[antibot-block keyword="([^"]*)" url=(\S+) ts=([^\]\s]+)\]`)

// ParseMarker extracts a block marker embedded in a last-error string.
func ParseMarker(lastError string) (*BlockError, bool) {
	m := markerRe.FindStringSubmatch(lastError)
	if m == nil {
		return nil, false
	}
	ts, err := time.Parse(time.RFC3339, m[3])
	if err != nil {
		return nil, false
	}
	return &BlockError{Keyword: m[1], URL: m[2], At: ts}, true
}

// InCooldown reports whether lastError carries a block marker still inside
// the cooldown window at now.
func InCooldown(lastError string, now time.Time) bool {
	blk, ok := ParseMarker(lastError)
	if !ok {
		return false
	}
	return now.Sub(blk.At) < CooldownWindow
}
