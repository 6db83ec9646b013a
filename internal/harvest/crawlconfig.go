package harvest

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// CrawlConfig holds per-source crawl settings. It is stored as JSON on the
// source row and validated once at load time; selectors are plain CSS
// selectors, DetailPattern is a Go regexp applied to discovered links.
type CrawlConfig struct {
	ListSelector       string            `json:"list_selector,omitempty"`
	LinkSelector       string            `json:"link_selector,omitempty"`
	TitleSelector      string            `json:"title_selector,omitempty"`
	DateSelector       string            `json:"date_selector,omitempty"`
	ContentSelector    string            `json:"content_selector,omitempty"`
	AttachmentSelector string            `json:"attachment_selector,omitempty"`
	DetailPattern      string            `json:"detail_pattern,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	Transport          TransportKind     `json:"transport,omitempty"`
	MaxLinks           int               `json:"max_links,omitempty"`

	detailRe *regexp.Regexp
}

// defaultMaxLinks caps how many list entries one run processes per source.
// It must stay above the push governor's big-batch threshold (50), or the
// new-item count could never reach the downgrade state.
const defaultMaxLinks = 80

// Validate checks the config once at load time and compiles the detail
// pattern. Defaults: Transport http, MaxLinks 80.
func (c *CrawlConfig) Validate() error {
	switch c.Transport {
	case "", TransportHTTP:
		c.Transport = TransportHTTP
	case TransportSubprocess:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.MaxLinks <= 0 {
		c.MaxLinks = defaultMaxLinks
	}
	if c.DetailPattern != "" {
		re, err := regexp.Compile(c.DetailPattern)
		if err != nil {
			return fmt.Errorf("compile detail_pattern: %w", err)
		}
		c.detailRe = re
	}
	return nil
}

// DetailRegexp returns the compiled detail pattern, nil when unset.
func (c *CrawlConfig) DetailRegexp() *regexp.Regexp {
	return c.detailRe
}

// ParseCrawlConfig decodes and validates a stored crawl config blob. An
// empty blob yields a valid default config.
func ParseCrawlConfig(raw []byte) (CrawlConfig, error) {
	var cfg CrawlConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return CrawlConfig{}, fmt.Errorf("decode crawl config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return CrawlConfig{}, err
	}
	return cfg, nil
}
