package profile

import (
	"fmt"
	"regexp"
)

// Sentinel pattern sources as stored in a profile.
const (
	MatchAllString   = ".*"
	MatchNeverString = ""
)

// ruleClass decides how an empty source is interpreted.
type ruleClass int

const (
	mustMatch ruleClass = iota
	mustNotMatch
)

// Pattern is a compiled rule. Matching is anchored: the whole input must
// match the expression. The zero value matches nothing.
type Pattern struct {
	source string
	re     *regexp.Regexp
	all    bool
	err    error
}

var (
	matchAll   = &Pattern{source: MatchAllString, all: true}
	matchNever = &Pattern{source: MatchNeverString}
)

// compileRule never fails: an empty source resolves to the class default and
// a malformed source resolves to match-nothing with the error retained.
func compileRule(source string, class ruleClass) *Pattern {
	switch {
	case source == MatchNeverString && class == mustMatch:
		return matchAll
	case source == MatchNeverString:
		return matchNever
	case source == MatchAllString:
		return matchAll
	}
	re, err := regexp.Compile(`^(?:` + source + `)$`)
	if err != nil {
		return &Pattern{source: source, err: fmt.Errorf("compile %q: %w", source, err)}
	}
	return &Pattern{source: source, re: re}
}

// Matches reports whether s matches the whole pattern.
func (p *Pattern) Matches(s string) bool {
	if p == nil {
		return false
	}
	if p.all {
		return true
	}
	if p.re == nil {
		return false
	}
	return p.re.MatchString(s)
}

// Source returns the pattern text as stored.
func (p *Pattern) Source() string {
	if p == nil {
		return MatchNeverString
	}
	return p.source
}

// String returns the effective expression: MatchAllString, MatchNeverString
// for degraded or empty rules, or the compiled source.
func (p *Pattern) String() string {
	switch {
	case p == nil:
		return MatchNeverString
	case p.all:
		return MatchAllString
	case p.re == nil:
		return MatchNeverString
	default:
		return p.source
	}
}

// MatchesAll reports whether the pattern admits every input.
func (p *Pattern) MatchesAll() bool {
	return p != nil && p.all
}

// MatchesNothing reports whether the pattern rejects every input.
func (p *Pattern) MatchesNothing() bool {
	return p == nil || (!p.all && p.re == nil)
}

// Err returns the compile error for a degraded pattern.
func (p *Pattern) Err() error {
	if p == nil {
		return nil
	}
	return p.err
}
