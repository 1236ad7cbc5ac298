package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Configuration keys a rule may carry besides match keys.
var configKeys = map[string]bool{
	"reports":              true,
	"author_is_submitter":  true,
	"is_reply":             true,
	"ignore_blockquotes":   true,
	"moderators_exempt":    true,
	"body_min_length":      true,
	"body_max_length":      true,
	"priority":             true,
	"action":               true,
	"report":               true,
	"comment":              true,
	"modmail":              true,
	"modmail_subject":      true,
	"message":              true,
	"message_subject":      true,
	"report_reason":        true,
	"link_flair_text":      true,
	"link_flair_class":     true,
	"user_flair_text":      true,
	"user_flair_class":     true,
	"user_conditions":      true,
	"set_options":          true,
	"modifiers":            true,
	"overwrite_user_flair": true,
	"standard":             true,
	"type":                 true,
}

var userConditionKeys = map[string]bool{
	"account_age":    true,
	"combined_karma": true,
	"comment_karma":  true,
	"is_gold":        true,
	"link_karma":     true,
	"must_satisfy":   true,
	"rank":           true,
}

var (
	operatorIntRe  = regexp.MustCompile(`^((==?|<|>) )?-?\d+$`)
	operatorRankRe = regexp.MustCompile(`^((==?|<|>) )?(user|contributor|moderator)$`)
)

// ValidateSection structurally validates one rule section before
// compilation. The standard it inherits from (if any) is overlaid first so
// inherited fields are checked too.
func ValidateSection(sec Section, std *Standards) error {
	if err := checkValuesNotEmpty(sec.Values); err != nil {
		return err
	}

	if sec.Has("standard") {
		if _, ok := sec.Values["standard"].(string); !ok {
			return fmt.Errorf("standard must be a string")
		}
	}
	merged, err := resolveStandard(sec, std)
	if err != nil {
		return err
	}

	if err := checkKeys(merged); err != nil {
		return err
	}

	for _, key := range []string{"author_is_submitter", "is_reply", "ignore_blockquotes",
		"moderators_exempt", "overwrite_user_flair"} {
		if err := checkBool(merged.Values, key); err != nil {
			return err
		}
	}
	for _, key := range []string{"reports", "priority", "body_min_length", "body_max_length"} {
		if err := checkInt(merged.Values, key); err != nil {
			return err
		}
	}
	for _, key := range []string{"comment", "modmail", "modmail_subject", "message",
		"message_subject", "report_reason", "report", "link_flair_text", "link_flair_class",
		"user_flair_text", "user_flair_class", "type", "action"} {
		if err := checkString(merged.Values, key); err != nil {
			return err
		}
	}

	if err := checkValueIn(merged.Values, "action", []string{"approve", "remove", "spam", "report"}); err != nil {
		return err
	}
	if err := checkValueIn(merged.Values, "type", []string{"submission", "comment", "both"}); err != nil {
		return err
	}

	if err := checkModifiers(merged); err != nil {
		return err
	}
	if err := checkSetOptions(merged.Values); err != nil {
		return err
	}
	return checkUserConditions(merged.Values)
}

// checkValuesNotEmpty rejects nil values and empty strings/lists,
// recursively through nested mappings.
func checkValuesNotEmpty(values map[string]interface{}) error {
	for key, val := range values {
		switch v := val.(type) {
		case nil:
			return fmt.Errorf("`%s` set to an empty value", key)
		case string:
			if len(v) == 0 {
				return fmt.Errorf("`%s` set to an empty value", key)
			}
		case []interface{}:
			if len(v) == 0 {
				return fmt.Errorf("`%s` set to an empty value", key)
			}
		case map[string]interface{}:
			if err := checkValuesNotEmpty(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkKeys(sec Section) error {
	for key := range sec.Values {
		if configKeys[trimKey(key)] || isMatchKey(key) {
			continue
		}
		return fmt.Errorf("invalid variable: `%s`", key)
	}

	if uc, ok := sec.Values["user_conditions"]; ok {
		m, ok := uc.(map[string]interface{})
		if !ok {
			return fmt.Errorf("user_conditions must be a mapping")
		}
		for key := range m {
			if !userConditionKeys[key] {
				return fmt.Errorf("invalid user_conditions variable: `%s`", key)
			}
		}
	}

	if mods, ok := sec.Values["modifiers"].(map[string]interface{}); ok {
		for key := range mods {
			if !sec.Has(key) {
				return fmt.Errorf("invalid modifiers variable: `%s` - check for typos and "+
					"ensure all modifiers correspond to a defined match subject", key)
			}
		}
	}
	return nil
}

func checkModifiers(sec Section) error {
	raw, ok := sec.Values["modifiers"]
	if !ok {
		return nil
	}

	var lists []interface{}
	if m, isMap := raw.(map[string]interface{}); isMap {
		for _, v := range m {
			lists = append(lists, v)
		}
	} else {
		lists = []interface{}{raw}
	}

	for _, entry := range lists {
		tokens := tokenList(entry)
		matchTypes := 0
		for _, tok := range tokens {
			_, isMatchType := matchTypeTemplates[tok]
			if !isMatchType && tok != "case-sensitive" && tok != "inverse" && tok != "regex" {
				return fmt.Errorf("invalid modifier: `%s`", tok)
			}
			if isMatchType {
				matchTypes++
			}
		}
		if matchTypes > 1 {
			return fmt.Errorf("more than one match type modifier specified")
		}
	}
	return nil
}

func checkSetOptions(values map[string]interface{}) error {
	raw, ok := values["set_options"]
	if !ok {
		return nil
	}
	switch raw.(type) {
	case string, []interface{}:
	default:
		return fmt.Errorf("set_options must be a string or list")
	}
	for _, opt := range optionList(raw) {
		if opt != "nsfw" && opt != "contest" && opt != "sticky" {
			return fmt.Errorf("invalid set_options value: `%s`", opt)
		}
	}
	return nil
}

func checkUserConditions(values map[string]interface{}) error {
	uc, ok := values["user_conditions"].(map[string]interface{})
	if !ok {
		return nil
	}

	for _, key := range []string{"account_age", "comment_karma", "link_karma", "combined_karma"} {
		if err := checkComparison(uc, key, operatorIntRe); err != nil {
			return err
		}
	}
	if err := checkComparison(uc, "rank", operatorRankRe); err != nil {
		return err
	}
	if v, ok := uc["is_gold"]; ok {
		if _, isBool := v.(bool); !isBool {
			return fmt.Errorf("is_gold must be a boolean")
		}
	}
	return checkValueIn(uc, "must_satisfy", []string{"any", "all"})
}

// checkComparison validates an operator-prefixed comparison spec. Bare YAML
// integers are accepted and treated as equality comparisons.
func checkComparison(values map[string]interface{}, key string, re *regexp.Regexp) error {
	v, ok := values[key]
	if !ok {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case int:
		s = strconv.Itoa(t)
	default:
		return fmt.Errorf("invalid %s: %v", key, v)
	}
	if !re.MatchString(s) {
		return fmt.Errorf("invalid %s: %s", key, s)
	}
	return nil
}

func checkValueIn(values map[string]interface{}, key string, valid []string) error {
	v, ok := values[key]
	if !ok {
		return nil
	}
	s, _ := v.(string)
	for _, candidate := range valid {
		if s == candidate {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %v", key, v)
}

func checkBool(values map[string]interface{}, key string) error {
	v, ok := values[key]
	if !ok {
		return nil
	}
	if _, isBool := v.(bool); !isBool {
		return fmt.Errorf("%s must be a boolean", key)
	}
	return nil
}

func checkInt(values map[string]interface{}, key string) error {
	v, ok := values[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case int:
		return nil
	case string:
		if _, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s must be an integer", key)
}

func checkString(values map[string]interface{}, key string) error {
	v, ok := values[key]
	if !ok {
		return nil
	}
	if _, isString := v.(string); !isString {
		return fmt.Errorf("%s must be a string", key)
	}
	return nil
}
