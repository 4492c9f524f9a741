package guard

import (
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines which operations may run and which prompts are refused.
type Policy struct {
	// AllowedOperations are globs over "provider/method", e.g. "generation/*".
	AllowedOperations []string `json:"allowed_operations" yaml:"allowed_operations"`
	// BlockedPatterns are globs matched against the lowercased words of a
	// prompt. A pattern containing spaces is matched against the whole
	// normalized prompt instead.
	BlockedPatterns []string `json:"blocked_patterns" yaml:"blocked_patterns"`
	MaxPromptChars  int      `json:"max_prompt_chars" yaml:"max_prompt_chars"`
}

// DefaultPolicy allows every operation and blocks nothing beyond the size cap.
var DefaultPolicy = Policy{
	AllowedOperations: []string{"*/*"},
	MaxPromptChars:    32000,
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
}

func (v *Violation) Error() string {
	return "guard: " + v.Rule + ": " + v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckOperation verifies that provider/method is allowed.
// An empty allowlist allows everything.
func (g *Guard) CheckOperation(providerName, method string) *Violation {
	if len(g.policy.AllowedOperations) == 0 {
		return nil
	}
	op := providerName + "/" + method
	for _, pattern := range g.policy.AllowedOperations {
		match, err := doublestar.Match(pattern, op)
		if err == nil && match {
			return nil
		}
	}
	return &Violation{Rule: "allowed_operations", Message: "operation not allowed: " + op}
}

// CheckPrompt verifies the prompt length and content.
func (g *Guard) CheckPrompt(text string) *Violation {
	if max := g.policy.MaxPromptChars; max > 0 && len([]rune(text)) > max {
		return &Violation{Rule: "max_prompt_chars", Message: "prompt exceeds the size limit"}
	}
	if len(g.policy.BlockedPatterns) == 0 {
		return nil
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	sentence := strings.Join(words, " ")
	for _, pattern := range g.policy.BlockedPatterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(pattern, " ") {
			if ok, _ := doublestar.Match("*"+pattern+"*", sentence); ok {
				return blocked(pattern)
			}
			continue
		}
		for _, w := range words {
			if ok, _ := doublestar.Match(pattern, w); ok {
				return blocked(pattern)
			}
		}
	}
	return nil
}

func blocked(pattern string) *Violation {
	return &Violation{Rule: "blocked_patterns", Message: "prompt matches blocked pattern " + pattern}
}

// ValidPatterns reports the first malformed glob in p, if any.
func ValidPatterns(p Policy) (string, bool) {
	for _, list := range [][]string{p.AllowedOperations, p.BlockedPatterns} {
		for _, pattern := range list {
			if !doublestar.ValidatePattern(pattern) {
				return pattern, false
			}
		}
	}
	return "", true
}
