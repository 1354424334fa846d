package moderation

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Score is the external content scorer's verdict, each probability in [0, 1].
type Score struct {
	SpamProbability     float64 `json:"spam_probability"`
	ToxicityProbability float64 `json:"toxicity_probability"`
}

// Scorer rates text for spam and toxicity.
type Scorer interface {
	Score(ctx context.Context, text string) (Score, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, text string) (Score, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, text string) (Score, error) {
	return f(ctx, text)
}

// FilterResult reports sensitive-word matches.
type FilterResult struct {
	Matched bool     `json:"matched"`
	Terms   []string `json:"terms,omitempty"`
}

// WordFilter checks text against a sensitive-word list.
type WordFilter interface {
	Check(text string) FilterResult
}

// TermFilter is a case-insensitive substring matcher over a fixed term list.
type TermFilter struct {
	terms []string
}

// NewTermFilter builds a TermFilter, dropping blank and repeated terms.
func NewTermFilter(terms []string) *TermFilter {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return &TermFilter{terms: out}
}

// Check returns every term contained in text, in sorted order.
func (f *TermFilter) Check(text string) FilterResult {
	lower := strings.ToLower(text)
	var matched []string
	for _, t := range f.terms {
		if strings.Contains(lower, t) {
			matched = append(matched, t)
		}
	}
	return FilterResult{Matched: len(matched) > 0, Terms: matched}
}

type termsFile struct {
	Terms []string `yaml:"terms"`
}

// LoadTermFilter reads a YAML file of the form `terms: [a, b]`.
func LoadTermFilter(path string) (*TermFilter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sensitive words file: %w", err)
	}
	var doc termsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse sensitive words file: %w", err)
	}
	return NewTermFilter(doc.Terms), nil
}
