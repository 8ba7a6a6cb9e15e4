package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidBrief marks input errors: the caller must fix the brief, retrying will not help.
var ErrInvalidBrief = errors.New("invalid brief")

// TargetBrief describes what a discovery run should look for. One per run, never mutated.
type TargetBrief struct {
	Theme           string   `json:"theme" yaml:"theme"`
	Geography       []string `json:"geography" yaml:"geography"`
	EntityTypes     []string `json:"entity_types" yaml:"entity_types"`
	Languages       []string `json:"languages,omitempty" yaml:"languages"`
	Keywords        []string `json:"keywords,omitempty" yaml:"keywords"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty" yaml:"exclude_keywords"`
}

// Validate checks the brief for obvious input mistakes.
func (b TargetBrief) Validate() error {
	if strings.TrimSpace(b.Theme) == "" && len(b.EntityTypes) == 0 {
		return fmt.Errorf("%w: theme or entity_types is required", ErrInvalidBrief)
	}
	for field, values := range map[string][]string{
		"geography":        b.Geography,
		"entity_types":     b.EntityTypes,
		"languages":        b.Languages,
		"keywords":         b.Keywords,
		"exclude_keywords": b.ExcludeKeywords,
	} {
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("%w: %s contains a blank entry", ErrInvalidBrief, field)
			}
		}
	}
	return nil
}

// Normalized returns a copy with trimmed values and duplicate entity types removed.
func (b TargetBrief) Normalized() TargetBrief {
	out := TargetBrief{Theme: strings.TrimSpace(b.Theme)}
	out.Geography = trimAll(b.Geography)
	out.EntityTypes = uniqueLower(b.EntityTypes)
	out.Languages = uniqueLower(b.Languages)
	out.Keywords = trimAll(b.Keywords)
	out.ExcludeKeywords = trimAll(b.ExcludeKeywords)
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func uniqueLower(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
