package rules

import "fmt"

// LoadRuleSet ingests a rule document: parse the YAML stream, validate each
// mapping section, compile it to a Condition, and verify every produced
// regex compiles. Any failure aborts the whole update with a SectionError
// naming the offending section; the caller's prior rule set stays published.
func LoadRuleSet(doc string, std *Standards) ([]*Condition, error) {
	sections, err := ParseDocuments(doc)
	if err != nil {
		return nil, err
	}

	conditions := make([]*Condition, 0, len(sections))
	for i, sec := range sections {
		if err := ValidateSection(sec, std); err != nil {
			return nil, &SectionError{Section: i + 1, Message: fmt.Sprintf("invalid condition - %v", err)}
		}
		cond, err := New(sec, std)
		if err != nil {
			return nil, &SectionError{Section: i + 1, Message: err.Error()}
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

// LoadStandardsDocument ingests a standards wiki document. Each section must
// carry a unique `name`; the remaining fields are validated and compiled
// exactly like a rule. The result maps each name to the canonical YAML to
// persist.
func LoadStandardsDocument(doc string, std *Standards) (map[string]string, error) {
	sections, err := ParseDocuments(doc)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(sections))
	for i, sec := range sections {
		name, ok := sec.Values["name"].(string)
		if !ok || name == "" {
			return nil, &SectionError{Section: i + 1,
				Message: "unnamed standard - you must specify a `name` for standard conditions"}
		}

		body := Section{Values: make(map[string]interface{}, len(sec.Values)-1)}
		for _, key := range sec.Keys {
			if key == "name" {
				continue
			}
			body.Keys = append(body.Keys, key)
			body.Values[key] = sec.Values[key]
		}

		if err := ValidateSection(body, std); err != nil {
			return nil, &SectionError{Section: i + 1, Message: fmt.Sprintf("invalid condition - %v", err)}
		}
		if _, err := New(body, std); err != nil {
			return nil, &SectionError{Section: i + 1, Message: err.Error()}
		}
		out[name] = CanonicalYAML(body.Values)
	}
	return out, nil
}
