package sitewatch

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/template"
)

// NewTargetGrid renders urlTemplate once per combination of dimension
// values and returns a [Target] for each rendered URL.
//
// Dimension keys are the template fields, so {{.region}} reads the current
// value of the "region" dimension. Values are percent-escaped before they
// are substituted, with spaces as %20, so they are safe in both the path and
// the query. A field with no matching dimension is an error. opts are
// applied to every target.
//
//	targets, err := sitewatch.NewTargetGrid(
//	    "https://{{.region}}.example.com/{{.lang}}/pricing",
//	    map[string][]string{
//	        "region": {"eu", "us"},
//	        "lang":   {"en", "de"},
//	    },
//	    sitewatch.WithInterval(10*time.Minute),
//	)
//
// Combinations are ordered by dimension key, with the last key in sorted
// order varying fastest.
func NewTargetGrid(urlTemplate string, dims map[string][]string, opts ...TargetOption) ([]Target, error) {
	if strings.TrimSpace(urlTemplate) == "" {
		return nil, errors.New("URL template required")
	}
	if len(dims) == 0 {
		return nil, errors.New("at least one dimension required")
	}
	for name, values := range dims {
		if len(values) == 0 {
			return nil, fmt.Errorf("dimension %q has no values", name)
		}
		for i, v := range values {
			if v == "" {
				return nil, fmt.Errorf("dimension %q contains empty value at index %d", name, i)
			}
		}
	}

	tmpl, err := template.New("url").Option("missingkey=error").Parse(urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid URL template: %w", err)
	}

	combos := cartesianProduct(dims)
	targets := make([]Target, 0, len(combos))
	rendered := make(map[string]bool, len(combos))
	for _, combo := range combos {
		var sb strings.Builder
		if err := tmpl.Execute(&sb, escapeValues(combo)); err != nil {
			return nil, fmt.Errorf("template execution failed: %w", err)
		}
		u := sb.String()
		if rendered[u] {
			return nil, fmt.Errorf("template renders duplicate URL %q", u)
		}
		rendered[u] = true

		t, err := NewTarget(u, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create target %q: %w", u, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// cartesianProduct lists every combination of dimension values. Keys are
// visited in sorted order and values keep their slice order. An empty map,
// or any dimension without values, yields no combinations.
func cartesianProduct(dims map[string][]string) []map[string]string {
	if len(dims) == 0 {
		return nil
	}
	keys := make([]string, 0, len(dims))
	for k, values := range dims {
		if len(values) == 0 {
			return nil
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []map[string]string{{}}
	for _, k := range keys {
		next := make([]map[string]string, 0, len(combos)*len(dims[k]))
		for _, prefix := range combos {
			for _, v := range dims[k] {
				combo := make(map[string]string, len(prefix)+1)
				for pk, pv := range prefix {
					combo[pk] = pv
				}
				combo[k] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

func escapeValues(combo map[string]string) map[string]string {
	escaped := make(map[string]string, len(combo))
	for k, v := range combo {
		// QueryEscape writes spaces as "+", which is a literal plus in a path
		escaped[k] = strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
	}
	return escaped
}
