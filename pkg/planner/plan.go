// Package planner turns raw, possibly LLM-authored plans into clean,
// bounded goal trees and extracts acceptance criteria and clarification
// needs from free-form prompt text.
package planner

import (
	"encoding/json"
	"strings"
)

// PlanNode is a transient tree node produced during planning. It is not
// persisted; the session engine consumes it immediately to materialize goals.
type PlanNode struct {
	Prompt   string      `json:"prompt"`
	Title    string      `json:"title,omitempty"`
	Children []*PlanNode `json:"children,omitempty"`
}

// ParsePlanResponse defensively parses a model response into plan nodes.
// The response may be a bare JSON value, fenced in a code block, or wrapped
// in prose. Returns nil on total failure rather than an error - a malformed
// plan degrades to an empty plan.
func ParsePlanResponse(text string) []*PlanNode {
	raw := extractJSONValue(text)
	if raw == nil {
		return nil
	}
	return decodeEntries(raw)
}

// extractJSONValue recovers a JSON value from model output: direct parse
// first, then with code fences stripped, then the first balanced {...} or
// [...] substring.
func extractJSONValue(text string) any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}

	if stripped := stripCodeFences(text); stripped != text {
		if err := json.Unmarshal([]byte(stripped), &v); err == nil {
			return v
		}
		text = stripped
	}

	for _, open := range []byte{'{', '['} {
		if candidate := firstBalanced(text, open); candidate != "" {
			if err := json.Unmarshal([]byte(candidate), &v); err == nil {
				return v
			}
		}
	}
	return nil
}

func stripCodeFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	rest := text[start+3:]
	// Skip an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// firstBalanced returns the first balanced bracket substring starting with
// open, tracking string literals so braces inside quotes do not count.
func firstBalanced(text string, open byte) string {
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	start := strings.IndexByte(text, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// decodeEntries converts a decoded JSON value into plan nodes. Accepts a
// flat list of prompt strings, a list of node objects, a single node
// object, or a wrapper object carrying the list under a known key.
func decodeEntries(v any) []*PlanNode {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []*PlanNode{{Prompt: val}}
	case []any:
		nodes := make([]*PlanNode, 0, len(val))
		for _, item := range val {
			if node := decodeNode(item); node != nil {
				nodes = append(nodes, node)
			}
		}
		return nodes
	case map[string]any:
		for _, key := range []string{"steps", "plan", "goals", "children", "childGoals"} {
			if list, ok := val[key]; ok {
				if nodes := decodeEntries(list); nodes != nil {
					return nodes
				}
			}
		}
		if node := decodeNode(val); node != nil {
			return []*PlanNode{node}
		}
	}
	return nil
}

func decodeNode(v any) *PlanNode {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return &PlanNode{Prompt: val}
	case map[string]any:
		node := &PlanNode{}
		if prompt, ok := val["prompt"].(string); ok {
			node.Prompt = prompt
		} else if desc, ok := val["description"].(string); ok {
			node.Prompt = desc
		}
		if title, ok := val["title"].(string); ok {
			node.Title = title
		}
		// Models use either key for nested steps.
		for _, key := range []string{"children", "childGoals"} {
			if list, ok := val[key].([]any); ok {
				for _, item := range list {
					if child := decodeNode(item); child != nil {
						node.Children = append(node.Children, child)
					}
				}
				break
			}
		}
		if node.Prompt == "" && len(node.Children) == 0 {
			return nil
		}
		return node
	}
	return nil
}
