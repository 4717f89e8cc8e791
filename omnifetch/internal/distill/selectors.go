// Package distill reduces rendered HTML into what the rest of OmniFetch
// consumes: field values for a selector map, a compact leaf skeleton for
// selector inference, and a sanitized markdown preview.
package distill

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
)

// NotFound is the value of a field whose selector matched nothing.
const NotFound = "not found"

// SelectorMap maps a field name to a CSS selector. Selectors are opaque to
// the distiller beyond compiling them.
type SelectorMap map[string]string

// Fields returns the field names in sorted order.
func (m SelectorMap) Fields() []string {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Validate checks that m is non-empty, has no blank field names, and that
// every selector compiles.
func (m SelectorMap) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("distill: empty selector map")
	}
	for _, field := range m.Fields() {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("distill: blank field name")
		}
		if err := ValidateSelector(m[field]); err != nil {
			return fmt.Errorf("distill: field %q: %w", field, err)
		}
	}
	return nil
}

// ValidateSelector reports whether sel is a usable CSS selector group.
func ValidateSelector(sel string) error {
	if strings.TrimSpace(sel) == "" {
		return fmt.Errorf("empty selector")
	}
	if _, err := cascadia.Compile(sel); err != nil {
		return fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return nil
}

// Result maps every requested field to its extracted text or NotFound.
type Result map[string]string

// Missing returns the sorted field names whose value is NotFound.
func (r Result) Missing() []string {
	var out []string
	for f, v := range r {
		if v == NotFound {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// ApplySelectors evaluates each selector against html and returns the
// trimmed text of the first match in document order. A selector that
// matches nothing, or does not compile, yields NotFound for its field and
// a warning; it never fails the whole extraction. The result always has
// exactly one key per field of selectors.
func ApplySelectors(src string, selectors SelectorMap, log *slog.Logger) (Result, error) {
	if log == nil {
		log = slog.Default()
	}
	doc, err := parseDocument(src)
	if err != nil {
		return nil, err
	}

	res := make(Result, len(selectors))
	for _, field := range selectors.Fields() {
		sel := selectors[field]
		matcher, err := cascadia.Compile(sel)
		if err != nil {
			log.Warn("distill: invalid selector", "field", field, "selector", sel, "error", err)
			res[field] = NotFound
			continue
		}
		node := doc.FindMatcher(matcher).First()
		if node.Length() == 0 {
			log.Warn("distill: selector matched nothing", "field", field, "selector", sel)
			res[field] = NotFound
			continue
		}
		res[field] = strings.TrimSpace(node.Text())
	}
	return res, nil
}
