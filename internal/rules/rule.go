// Package rules holds the ordered set of identifier patterns used to harvest
// and substitute identifiers in traffic.
package rules

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidRule is returned when a rule has an empty name or pattern.
	ErrInvalidRule = errors.New("rule name and pattern are required")
	// ErrIndexOutOfRange is returned when a rule index does not exist.
	ErrIndexOutOfRange = errors.New("rule index out of range")
)

// Rule is a named regular expression that can be switched on and off
type Rule struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Enabled bool   `json:"enabled"`
}

// Defaults returns the built-in rule set, all enabled.
func Defaults() []Rule {
	return []Rule{
		{Name: "UUID", Pattern: `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`, Enabled: true},
		{Name: "Email", Pattern: `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,6}`, Enabled: true},
		{Name: "Int ID", Pattern: `\b[0-9]{4,10}\b`, Enabled: true},
		{Name: "User Ref", Pattern: `usr_[a-zA-Z0-9]+`, Enabled: true},
	}
}

// CompiledRule is a Rule with its pattern compiled. A pattern that does not
// compile leaves the rule inert: it never matches anything.
type CompiledRule struct {
	Rule
	Err   error
	re    *regexp.Regexp
	whole *regexp.Regexp
}

// Compile compiles r. The returned rule is always usable; check Err to see
// whether the pattern was accepted.
func Compile(r Rule) *CompiledRule {
	c := &CompiledRule{Rule: r}

	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		c.Err = fmt.Errorf("rule %q: %w", r.Name, err)
		return c
	}
	c.re = re
	c.whole, _ = regexp.Compile(`^(?:` + r.Pattern + `)$`)
	return c
}

// FindAll returns every non-overlapping match in text, left to right.
func (c *CompiledRule) FindAll(text string) []string {
	if c.re == nil {
		return nil
	}
	return c.re.FindAllString(text, -1)
}

// FindFirst returns the leftmost match in text.
func (c *CompiledRule) FindFirst(text string) (string, bool) {
	if c.re == nil {
		return "", false
	}
	loc := c.re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return text[loc[0]:loc[1]], true
}

// MatchesWhole reports whether the entire value matches the pattern.
func (c *CompiledRule) MatchesWhole(value string) bool {
	if c.whole == nil {
		return false
	}
	return c.whole.MatchString(value)
}
