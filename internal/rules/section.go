// Package rules implements the condition evaluation core: the parser and
// compiler that turn a YAML rule document into executable conditions, the
// structural validator that runs before compilation, and the process-wide
// cache of named standard conditions that rules may inherit from.
package rules

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Section is one mapping from a rule document. Top-level key order is
// preserved because match keys are evaluated in insertion order.
type Section struct {
	Keys   []string
	Values map[string]interface{}
}

// Get returns the value for a top-level key.
func (s Section) Get(key string) (interface{}, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Has reports whether the section defines a top-level key.
func (s Section) Has(key string) bool {
	_, ok := s.Values[key]
	return ok
}

// SectionError is a structural problem in one section of a rule document.
// It is routed back to the rule-set submitter; the rule set stays unchanged.
type SectionError struct {
	Section int // 1-based document index
	Message string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("section #%d: %s", e.Section, e.Message)
}

// ParseDocuments splits a YAML stream into its mapping sections. Non-mapping
// documents are treated as comments and skipped. All keys are lowercased
// recursively on ingest.
func ParseDocuments(doc string) ([]Section, error) {
	dec := yaml.NewDecoder(strings.NewReader(doc))

	var sections []Section
	num := 0
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		num++
		if err != nil {
			return nil, &SectionError{Section: num, Message: fmt.Sprintf("invalid YAML syntax: %v", err)}
		}
		if node.Kind != yaml.MappingNode {
			continue
		}
		sec, err := sectionFromNode(&node)
		if err != nil {
			return nil, &SectionError{Section: num, Message: err.Error()}
		}
		sections = append(sections, sec)
	}
	return sections, nil
}

func sectionFromNode(node *yaml.Node) (Section, error) {
	sec := Section{Values: make(map[string]interface{})}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		key := strings.ToLower(keyNode.Value)
		val, err := nodeValue(valNode)
		if err != nil {
			return Section{}, err
		}
		if _, dup := sec.Values[key]; !dup {
			sec.Keys = append(sec.Keys, key)
		}
		sec.Values[key] = val
	}
	return sec, nil
}

// nodeValue converts a YAML node into plain Go values, lowercasing the keys
// of any nested mapping.
func nodeValue(node *yaml.Node) (interface{}, error) {
	switch node.Kind {
	case yaml.MappingNode:
		m := make(map[string]interface{}, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			val, err := nodeValue(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[strings.ToLower(node.Content[i].Value)] = val
		}
		return m, nil
	case yaml.SequenceNode:
		list := make([]interface{}, 0, len(node.Content))
		for _, item := range node.Content {
			val, err := nodeValue(item)
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		return list, nil
	case yaml.AliasNode:
		return nodeValue(node.Alias)
	default:
		var v interface{}
		if err := node.Decode(&v); err != nil {
			return nil, fmt.Errorf("invalid value: %w", err)
		}
		return v, nil
	}
}

// CanonicalYAML serializes a section's values deterministically (yaml.v3
// sorts map keys). The result is the condition's idempotence key in the
// action log, so it must be stable across restarts.
func CanonicalYAML(values map[string]interface{}) string {
	data, err := yaml.Marshal(values)
	if err != nil {
		// Values came from a successful YAML parse; re-marshaling them
		// cannot fail in practice.
		return fmt.Sprintf("!marshal-error %v", err)
	}
	return string(data)
}
