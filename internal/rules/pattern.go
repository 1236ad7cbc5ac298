package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// The closed set of match targets a rule may name in a match key.
var matchTargets = map[string]bool{
	"link_id":                true,
	"user":                   true,
	"title":                  true,
	"domain":                 true,
	"url":                    true,
	"body":                   true,
	"media_user":             true,
	"media_title":            true,
	"media_description":      true,
	"media_author_url":       true,
	"parent_comment_id":      true,
	"author_flair_text":      true,
	"author_flair_css_class": true,
	"link_title":             true,
	"link_url":               true,
}

// Targets only submissions carry; a rule matching exclusively against these
// is inferred to be a submission rule.
var submissionOnlyTargets = map[string]bool{
	"title":             true,
	"domain":            true,
	"url":               true,
	"media_user":        true,
	"media_title":       true,
	"media_description": true,
	"media_author_url":  true,
}

// Exactly one match-type token applies per match key.
var matchTypeTemplates = map[string]string{
	"full-exact":    `^%s$`,
	"full-text":     `^\W*%s\W*$`,
	"includes":      `%s`,
	"includes-word": `(?:^|\W|\b)%s(?:$|\W|\b)`,
	"starts-with":   `^%s`,
	"ends-with":     `%s$`,
}

// Per-target default match type when the rule names none. Targets not listed
// default to includes-word.
var defaultMatchTypes = map[string]string{
	"link_id":                "full-exact",
	"parent_comment_id":      "full-exact",
	"user":                   "full-exact",
	"domain":                 "full-exact",
	"media_user":             "full-exact",
	"author_flair_text":      "full-exact",
	"author_flair_css_class": "full-exact",
	"url":                    "includes",
	"media_author_url":       "includes",
	"link_url":               "includes",
}

var tagSuffix = regexp.MustCompile(`#.+$`)

// trimKey strips the inversion prefix and any #tag suffix from a match key,
// leaving the bare target (or +-combined targets).
func trimKey(key string) string {
	return tagSuffix.ReplaceAllString(strings.TrimLeft(key, "~"), "")
}

// isMatchKey reports whether a key names one or more valid match targets.
func isMatchKey(key string) bool {
	trimmed := trimKey(key)
	if matchTargets[trimmed] {
		return true
	}
	if !strings.Contains(trimmed, "+") {
		return false
	}
	for _, t := range strings.Split(trimmed, "+") {
		if !matchTargets[t] {
			return false
		}
	}
	return true
}

// KeyTargets returns the targets a match key combines, deduplicated,
// in written order.
func KeyTargets(key string) []string {
	parts := strings.Split(trimKey(key), "+")
	seen := make(map[string]bool, len(parts))
	targets := parts[:0]
	for _, p := range parts {
		if !seen[p] {
			seen[p] = true
			targets = append(targets, p)
		}
	}
	return targets
}

// buildPattern lowers one match key's values and modifier tokens to a regex
// source string. Values are alternated into a single capture group; the
// match-type template wraps the group; inline flags carry DOTALL always and
// case-insensitivity unless the case-sensitive token is present.
func buildPattern(key string, values []string, modifiers []string) string {
	if !hasModifier(modifiers, "regex") {
		escaped := make([]string, len(values))
		for i, v := range values {
			escaped[i] = regexp.QuoteMeta(v)
		}
		values = escaped
	}
	group := "(" + strings.Join(values, "|") + ")"

	matchType := ""
	for _, mod := range modifiers {
		if _, ok := matchTypeTemplates[mod]; ok {
			matchType = mod
			break
		}
	}
	if matchType == "" {
		trimmed := trimKey(key)
		// Let domain values match any subdomain.
		if trimmed == "domain" {
			group = `(?:.*?\.)?` + group
		}
		matchType = defaultMatchTypes[trimmed]
		if matchType == "" {
			matchType = "includes-word"
		}
	}

	flags := "(?s"
	if !hasModifier(modifiers, "case-sensitive") {
		flags += "i"
	}
	flags += ")"

	return flags + fmt.Sprintf(matchTypeTemplates[matchType], group)
}

func hasModifier(modifiers []string, token string) bool {
	for _, m := range modifiers {
		if m == token {
			return true
		}
	}
	return false
}

// modifierTokens normalizes the modifiers field for one match key. The field
// is either a list/string of tokens applied to every key, or a mapping from
// match key to its own list/string.
func modifierTokens(raw interface{}, key string) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return tokenList(v[key])
	default:
		return tokenList(v)
	}
}

func tokenList(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(t)
	case []interface{}:
		tokens := make([]string, 0, len(t))
		for _, item := range t {
			tokens = append(tokens, fmt.Sprint(item))
		}
		return tokens
	default:
		return []string{fmt.Sprint(t)}
	}
}

// valueStrings coerces a match key's YAML value to a list of strings.
func valueStrings(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		vals := make([]string, 0, len(t))
		for _, item := range t {
			vals = append(vals, fmt.Sprint(item))
		}
		return vals
	default:
		return []string{fmt.Sprint(t)}
	}
}
