package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// dateShapeRe matches YYYY-MM-DD shaped dates with -, / or . separators,
// plus the CJK 年月日 form common on school sites.
var dateShapeRe = regexp.MustCompile(`(20\d{2})[-/.年](\d{1,2})[-/.月](\d{1,2})日?`)

// FindDateText scans free text for the first date-shaped substring and
// returns it normalized to YYYY-MM-DD, or "".
func FindDateText(text string) string {
	m := dateShapeRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1] + "-" + pad2(m[2]) + "-" + pad2(m[3])
}

// ParseDate parses a date string permissively. Returns nil when the text
// is empty or unparsable.
func ParseDate(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if normalized := FindDateText(text); normalized != "" {
		text = normalized
	}
	t, err := dateparse.ParseAny(text)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
