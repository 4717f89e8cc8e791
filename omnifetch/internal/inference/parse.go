package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hazyhaar/omnifetch/omnifetch/internal/distill"
)

// ParseSelectors decodes raw model output into a SelectorMap. The output
// must be one JSON object of string values, each a valid CSS selector. A
// single surrounding markdown code fence is tolerated.
func ParseSelectors(raw string) (distill.SelectorMap, error) {
	body := stripFence(strings.TrimSpace(raw))
	if body == "" {
		return nil, &ParseError{Raw: raw, Reason: "empty response"}
	}

	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("not JSON: %v", err)}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("expected a JSON object, got %T", v)}
	}

	sel := make(distill.SelectorMap, len(obj))
	for field, val := range obj {
		s, ok := val.(string)
		if !ok {
			return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("field %q: selector is %T, not a string", field, val)}
		}
		sel[field] = strings.TrimSpace(s)
	}
	if err := sel.Validate(); err != nil {
		return nil, &ParseError{Raw: raw, Reason: err.Error()}
	}
	return sel, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// Drop an info string such as "json".
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
