// Package capabilities decides which Windows capabilities of a mounted image
// are removed and removes them.
package capabilities

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/osbuild/rocketize/internal/dism"
)

// MatchMode selects how a keep rule's pattern is compared with a capability
// identity. All modes are case-sensitive.
type MatchMode string

const (
	MatchPrefix MatchMode = "prefix"
	MatchExact  MatchMode = "exact"
	MatchGlob   MatchMode = "glob"
)

type KeepRule struct {
	Pattern string    `toml:"pattern"`
	Match   MatchMode `toml:"match"`
}

// DefaultKeepRules keeps basic language support, networking, PowerShell,
// Defender and the shell.
var DefaultKeepRules = []KeepRule{
	{Pattern: "Language.Basic", Match: MatchPrefix},
	{Pattern: "Microsoft.Windows.Ethernet.Client", Match: MatchPrefix},
	{Pattern: "Microsoft.Windows.PowerShell", Match: MatchPrefix},
	{Pattern: "Microsoft.Windows.Sense.Client", Match: MatchPrefix},
	{Pattern: "Microsoft.Windows.Wifi.Client", Match: MatchPrefix},
	{Pattern: "Windows.Client.ShellComponents", Match: MatchPrefix},
}

type matcher func(id string) bool

// Policy is an ordered set of keep rules. The zero value keeps nothing.
type Policy struct {
	rules    []KeepRule
	matchers []matcher
}

// NewPolicy compiles rules. An empty match mode means prefix.
func NewPolicy(rules []KeepRule) (*Policy, error) {
	p := &Policy{}
	for i, rule := range rules {
		if rule.Pattern == "" {
			return nil, fmt.Errorf("keep rule %d: empty pattern", i)
		}
		if rule.Match == "" {
			rule.Match = MatchPrefix
		}

		var m matcher
		switch rule.Match {
		case MatchPrefix:
			pattern := rule.Pattern
			m = func(id string) bool { return strings.HasPrefix(id, pattern) }
		case MatchExact:
			pattern := rule.Pattern
			m = func(id string) bool { return id == pattern }
		case MatchGlob:
			g, err := glob.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("keep rule %d: invalid glob %q: %w", i, rule.Pattern, err)
			}
			m = g.Match
		default:
			return nil, fmt.Errorf("keep rule %d: unknown match mode %q", i, rule.Match)
		}

		p.rules = append(p.rules, rule)
		p.matchers = append(p.matchers, m)
	}
	return p, nil
}

// MustNewPolicy is like NewPolicy but panics on invalid rules.
func MustNewPolicy(rules []KeepRule) *Policy {
	p, err := NewPolicy(rules)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) Rules() []KeepRule {
	return append([]KeepRule(nil), p.rules...)
}

// Keep reports whether any rule matches the capability identity.
func (p *Policy) Keep(id string) bool {
	for _, m := range p.matchers {
		if m(id) {
			return true
		}
	}
	return false
}

// Removable reports whether c is installed and not kept. Staged, not
// present and unknown states are never removed.
func (p *Policy) Removable(c dism.Capability) bool {
	return c.State == dism.StateInstalled && !p.Keep(c.ID)
}
