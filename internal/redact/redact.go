// Package redact scrubs personal data and credentials from transcripts
// before they leave the process.
//
// Pattern rules cover contact details people say aloud (email, phone, card
// and national id numbers). Credentials pasted into a chat are caught by
// the gitleaks default rule set.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// DefaultReplacement is substituted for every finding.
const DefaultReplacement = "[REDACTED]"

// Rule is a named pattern.
type Rule struct {
	ID      string `koanf:"id"`
	Pattern string `koanf:"pattern"`
}

// Config configures a Scrubber.
type Config struct {
	Enabled     bool   `koanf:"enabled"`
	Replacement string `koanf:"replacement"`
	// Secrets enables the gitleaks credential rules.
	Secrets bool   `koanf:"secrets"`
	Rules   []Rule `koanf:"rules"`
}

// DefaultRules covers contact details.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "email", Pattern: `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`},
		{ID: "card-number", Pattern: `\b(?:\d[ -]?){13,16}\b`},
		{ID: "us-ssn", Pattern: `\b\d{3}-\d{2}-\d{4}\b`},
		{ID: "phone", Pattern: `(?:\+?\d{1,3}[ .\-]?)?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`},
	}
}

// DefaultConfig enables every rule.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Replacement: DefaultReplacement,
		Secrets:     true,
		Rules:       DefaultRules(),
	}
}

// Result reports what was scrubbed. The matched values are never kept.
type Result struct {
	Texts    []string       `json:"-"`
	Findings int            `json:"findings"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Scrubber redacts a batch of texts.
type Scrubber interface {
	Scrub(texts []string) (Result, error)
	Enabled() bool
}

type compiledRule struct {
	id string
	re *regexp.Regexp
}

type scrubber struct {
	replacement string
	secrets     bool
	rules       []compiledRule
}

// New compiles cfg. A disabled config yields a Nop scrubber.
func New(cfg Config) (Scrubber, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if cfg.Replacement == "" {
		cfg.Replacement = DefaultReplacement
	}

	s := &scrubber{replacement: cfg.Replacement, secrets: cfg.Secrets}
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, re: re})
	}
	return s, nil
}

func (s *scrubber) Enabled() bool { return true }

// Scrub runs the credential pass first so pattern rules cannot split a key
// into pieces the detector no longer recognizes.
func (s *scrubber) Scrub(texts []string) (Result, error) {
	res := Result{Texts: make([]string, len(texts)), ByRule: make(map[string]int)}
	copy(res.Texts, texts)

	if s.secrets && len(texts) > 0 {
		// One detector per batch: the detector accumulates findings.
		detector, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return Result{}, fmt.Errorf("creating secret detector: %w", err)
		}
		for i, text := range res.Texts {
			res.Texts[i] = s.scrubSecrets(detector, text, &res)
		}
	}

	for i, text := range res.Texts {
		for _, r := range s.rules {
			matches := r.re.FindAllStringIndex(text, -1)
			if len(matches) == 0 {
				continue
			}
			res.ByRule[r.id] += len(matches)
			res.Findings += len(matches)
			text = r.re.ReplaceAllString(text, s.replacement)
		}
		res.Texts[i] = text
	}
	return res, nil
}

func (s *scrubber) scrubSecrets(detector *detect.Detector, text string, res *Result) string {
	findings := detector.DetectString(text)
	if len(findings) == 0 {
		return text
	}

	values := make([]string, 0, len(findings))
	for _, f := range findings {
		v := f.Secret
		if v == "" {
			v = f.Match
		}
		if v == "" {
			continue
		}
		values = append(values, v)
		res.ByRule[f.RuleID]++
		res.Findings++
	}
	// longest first so a secret containing another is replaced whole
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	for _, v := range values {
		text = strings.ReplaceAll(text, v, s.replacement)
	}
	return text
}

// Nop leaves texts unchanged.
type Nop struct{}

func (Nop) Scrub(texts []string) (Result, error) {
	return Result{Texts: append([]string(nil), texts...), ByRule: map[string]int{}}, nil
}

func (Nop) Enabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = Nop{}
)
