package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Default subjects for notification messages.
const defaultNotificationSubject = "automod notification"

// Condition is a compiled decision unit: the predicates that decide whether
// it applies to an item, and the actions to perform when it matches. It is
// immutable after construction except for CheckShadowbanned, which the queue
// dispatcher sets at the top of each spam-queue walk.
type Condition struct {
	// YAMLSource is the canonical serialization of the rule's own YAML
	// fragment (pre-inheritance). It is the idempotence key in the action
	// log.
	YAMLSource string

	Type     string // submission, comment or both
	Priority int

	// Preconditions
	ReportsThreshold  int // 0 = no threshold
	IsReply           *bool
	AuthorIsSubmitter *bool
	IgnoreBlockquotes bool
	BodyMinLength     *int
	BodyMaxLength     *int
	ModeratorsExempt  bool

	// Match plan, in insertion order of the rule document.
	MatchKeys     []string
	MatchPatterns map[string]*regexp.Regexp
	MatchSuccess  map[string]bool

	// Author requirements; values are operator-prefixed strings or bools.
	UserConditions map[string]interface{}

	// Actions
	Action         string // remove, spam, approve, report or ""
	Report         string
	ReportReason   string
	Comment        string
	Modmail        string
	ModmailSubject string
	Message        string
	MessageSubject string

	LinkFlairText      string
	LinkFlairClass     string
	UserFlairText      string
	UserFlairClass     string
	OverwriteUserFlair bool

	SetOptions []string

	// CheckShadowbanned is set per spam-queue walk; see the executor's
	// shadowban guard.
	CheckShadowbanned bool
}

// New compiles a validated section into a Condition. The standard named by
// a "standard" key is overlaid first; the rule's own fields win on conflict.
// Any produced pattern that fails to compile rejects the section.
func New(sec Section, std *Standards) (*Condition, error) {
	merged, err := resolveStandard(sec, std)
	if err != nil {
		return nil, err
	}

	c := &Condition{
		YAMLSource:       CanonicalYAML(sec.Values),
		ModeratorsExempt: true,
		ModmailSubject:   defaultNotificationSubject,
		MessageSubject:   defaultNotificationSubject,
		MatchPatterns:    make(map[string]*regexp.Regexp),
		MatchSuccess:     make(map[string]bool),
	}

	v := merged.Values
	c.Type = stringValue(v["type"])
	c.Priority = intValue(v["priority"])
	c.ReportsThreshold = intValue(v["reports"])
	c.IsReply = boolPtr(v["is_reply"])
	c.AuthorIsSubmitter = boolPtr(v["author_is_submitter"])
	c.IgnoreBlockquotes = boolValue(v["ignore_blockquotes"])
	c.BodyMinLength = intPtr(v["body_min_length"])
	c.BodyMaxLength = intPtr(v["body_max_length"])
	if b := boolPtr(v["moderators_exempt"]); b != nil {
		c.ModeratorsExempt = *b
	}
	c.Action = stringValue(v["action"])
	c.Report = stringValue(v["report"])
	c.ReportReason = stringValue(v["report_reason"])
	c.Comment = stringValue(v["comment"])
	c.Modmail = stringValue(v["modmail"])
	c.Message = stringValue(v["message"])
	if s := stringValue(v["modmail_subject"]); s != "" {
		c.ModmailSubject = s
	}
	if s := stringValue(v["message_subject"]); s != "" {
		c.MessageSubject = s
	}
	c.LinkFlairText = stringValue(v["link_flair_text"])
	c.LinkFlairClass = stringValue(v["link_flair_class"])
	c.UserFlairText = stringValue(v["user_flair_text"])
	c.UserFlairClass = stringValue(v["user_flair_class"])
	c.OverwriteUserFlair = boolValue(v["overwrite_user_flair"])
	c.SetOptions = optionList(v["set_options"])
	if uc, ok := v["user_conditions"].(map[string]interface{}); ok {
		c.UserConditions = uc
	}

	modifiersRaw := v["modifiers"]
	matchFields := make(map[string]bool)
	for _, key := range merged.Keys {
		if !isMatchKey(key) {
			continue
		}
		mods := modifierTokens(modifiersRaw, key)
		source := buildPattern(key, valueStrings(v[key]), mods)
		re, err := regexp.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("generated an invalid regex from `%s`: %v", key, err)
		}
		c.MatchKeys = append(c.MatchKeys, key)
		c.MatchPatterns[key] = re
		c.MatchSuccess[key] = !(hasModifier(mods, "inverse") || strings.HasPrefix(key, "~"))
		for _, t := range KeyTargets(key) {
			matchFields[t] = true
		}
	}

	// Infer the type from the match-target set when not declared.
	if c.Type == "" {
		c.Type = "both"
		if len(matchFields) > 0 {
			submissionOnly := true
			for t := range matchFields {
				if !submissionOnlyTargets[t] {
					submissionOnly = false
					break
				}
			}
			if submissionOnly {
				c.Type = "submission"
			}
		}
	}

	return c, nil
}

// resolveStandard overlays the named standard condition under the rule's own
// fields. Keys the rule defines win; keys only the standard defines keep the
// standard's order, followed by the rule's remaining keys.
func resolveStandard(sec Section, std *Standards) (Section, error) {
	name := stringValue(sec.Values["standard"])
	if name == "" {
		return sec, nil
	}
	frag, ok := std.Get(name)
	if !ok {
		return Section{}, fmt.Errorf("invalid standard condition: `%s`", name)
	}

	merged := Section{Values: make(map[string]interface{}, len(frag.Values)+len(sec.Values))}
	for _, key := range frag.Keys {
		merged.Keys = append(merged.Keys, key)
		merged.Values[key] = frag.Values[key]
	}
	for _, key := range sec.Keys {
		if _, exists := merged.Values[key]; !exists {
			merged.Keys = append(merged.Keys, key)
		}
		merged.Values[key] = sec.Values[key]
	}
	return merged, nil
}

// RequestsRequired counts the independent remote effects this condition
// produces when it fires. It is the secondary sort key in the dispatcher:
// among equal priorities, cheap conditions run first.
func (c *Condition) RequestsRequired() int {
	reqs := 0
	for _, set := range []bool{
		c.Action != "",
		c.Report != "",
		len(c.UserConditions) > 0,
		c.Comment != "",
		c.Modmail != "",
		c.Message != "",
		c.UserFlairText != "" || c.UserFlairClass != "",
		c.LinkFlairText != "" || c.LinkFlairClass != "",
	} {
		if set {
			reqs++
		}
	}
	// Distinguishing a posted comment is a separate call.
	if c.Comment != "" {
		reqs++
	}
	seen := make(map[string]bool)
	for _, opt := range c.SetOptions {
		if !seen[opt] {
			seen[opt] = true
			reqs++
		}
	}
	return reqs
}

// HasLinkFlair reports whether the condition writes link flair.
func (c *Condition) HasLinkFlair() bool {
	return c.LinkFlairText != "" || c.LinkFlairClass != ""
}

// HasUserFlair reports whether the condition writes user flair.
func (c *Condition) HasUserFlair() bool {
	return c.UserFlairText != "" || c.UserFlairClass != ""
}

// SendsMessage reports whether the condition posts a comment or sends any
// message; such conditions are deduplicated per item by YAML source.
func (c *Condition) SendsMessage() bool {
	return c.Comment != "" || c.Modmail != "" || c.Message != ""
}

func stringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func boolValue(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func boolPtr(v interface{}) *bool {
	if b, ok := v.(bool); ok {
		return &b
	}
	return nil
}

func intValue(v interface{}) int {
	if p := intPtr(v); p != nil {
		return *p
	}
	return 0
}

func intPtr(v interface{}) *int {
	switch t := v.(type) {
	case int:
		return &t
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return &n
		}
	}
	return nil
}

// optionList accepts either a YAML list or a whitespace-separated string.
func optionList(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(t)
	case []interface{}:
		opts := make([]string, 0, len(t))
		for _, item := range t {
			opts = append(opts, fmt.Sprint(item))
		}
		return opts
	default:
		return nil
	}
}
