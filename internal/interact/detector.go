// Package interact classifies toolchain output lines as interactive prompts.
//
// The detection is a best-effort substring scan, not a parser: build and test
// tools rarely prompt, while `run` executes arbitrary user programs that may
// block on stdin with no visible prompt at all. Blank-line and prompt-pattern
// rules are the only signal available without a pseudo-terminal.
package interact

import "strings"

// Rule is one predicate over a single output line.
type Rule struct {
	// Name identifies the rule in logs and tests.
	Name string
	// Commands restricts the rule to specific subcommands. Empty means all.
	Commands []string
	// Match reports whether the line looks like an interactive prompt.
	Match func(line string) bool
}

// AppliesTo reports whether the rule is active for the given subcommand.
func (r Rule) AppliesTo(command string) bool {
	if len(r.Commands) == 0 {
		return true
	}
	for _, candidate := range r.Commands {
		if candidate == command {
			return true
		}
	}
	return false
}

// DefaultRules returns the ordered prompt-detection rule set. First match
// wins; evaluation order is the declaration order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "confirm-prompt",
			Match: containsRule("? [Y/n]"),
		},
		{
			Name:  "password-prompt",
			Match: containsRule("Enter password:"),
		},
		{
			Name:  "shell-prompt",
			Match: containsRule("> "),
		},
		{
			Name:  "step-counter",
			Match: containsRule("[1/3]"),
		},
		{
			Name:  "question-suffix",
			Match: suffixRule("? "),
		},
		{
			// A program started via `run` that prints a blank line and stops
			// is usually waiting on stdin.
			Name:     "run-blank-line",
			Commands: []string{"run"},
			Match: func(line string) bool {
				return strings.TrimSpace(line) == ""
			},
		},
	}
}

// Detector evaluates the rule set over stdout lines for one session.
// The interactive classification is sticky: once any rule matches, the
// detector stays interactive for the rest of the session.
type Detector struct {
	command     string
	rules       []Rule
	interactive bool
	matchedRule string
}

// NewDetector builds a detector for one subcommand using the default rules.
func NewDetector(command string) *Detector {
	return NewDetectorWithRules(command, DefaultRules())
}

// NewDetectorWithRules builds a detector with a caller-supplied rule set.
func NewDetectorWithRules(command string, rules []Rule) *Detector {
	return &Detector{command: command, rules: rules}
}

// Observe evaluates one stdout line. It returns true once the session has
// been classified interactive, whether by this line or an earlier one.
func (d *Detector) Observe(line string) bool {
	if d == nil {
		return false
	}
	if d.interactive {
		return true
	}
	for _, rule := range d.rules {
		if rule.Match == nil || !rule.AppliesTo(d.command) {
			continue
		}
		if rule.Match(line) {
			d.interactive = true
			d.matchedRule = rule.Name
			return true
		}
	}
	return false
}

// Interactive reports the sticky classification.
func (d *Detector) Interactive() bool {
	return d != nil && d.interactive
}

// MatchedRule returns the name of the rule that fired, or "" when none has.
func (d *Detector) MatchedRule() string {
	if d == nil {
		return ""
	}
	return d.matchedRule
}

func containsRule(pattern string) func(string) bool {
	return func(line string) bool {
		return strings.Contains(line, pattern)
	}
}

func suffixRule(pattern string) func(string) bool {
	return func(line string) bool {
		return strings.HasSuffix(line, pattern)
	}
}
