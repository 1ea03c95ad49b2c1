package sitewatch

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Selector picks the part of a fetched page that is compared between
// polls.
//
// Selectors must be pure: the same body always yields the same result.
// An empty result fails the fetch with [ErrNoSelection], so it is never a
// change and the previous snapshot is kept. Selectors run inside the
// loop's panic recovery; a panicking selector costs one cycle.
type Selector func(body string) string

// JSONFieldSelector returns a [Selector] that extracts a JSON field using
// dot notation to navigate nested objects. A numeric part indexes into an
// array, so "items.0.name" reads the name of the first item.
//
// Strings are returned as is, numbers and booleans in their JSON form, and
// objects or arrays as compact JSON. Invalid JSON, a missing field or an
// index outside the array yields an empty result.
//
// Example:
//
//	// For response: {"data": {"version": "1.4.2"}}
//	sel := sitewatch.JSONFieldSelector("data.version")
func JSONFieldSelector(path string) Selector {
	parts := strings.Split(path, ".")

	return func(body string) string {
		var data interface{}
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			return ""
		}
		return extractJSONPath(data, parts)
	}
}

// extractJSONPath walks a JSON structure using dot notation parts.
func extractJSONPath(data interface{}, parts []string) string {
	current := data

	for _, part := range parts {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return ""
			}
			current = v
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return ""
			}
			current = node[i]
		default:
			return ""
		}
	}

	switch v := current.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// RegexSelector returns a [Selector] that keeps the first match of pattern.
// If the pattern has a capture group, only the first group is kept.
//
// Returns an error if the pattern is invalid.
//
// Example:
//
//	// compare only the price, not the rest of the page
//	sel, err := sitewatch.RegexSelector(`<span class="price">([^<]+)</span>`)
func RegexSelector(pattern string) (Selector, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return func(body string) string {
		matches := re.FindStringSubmatch(body)
		switch {
		case len(matches) == 0:
			return ""
		case len(matches) > 1:
			return matches[1]
		default:
			return matches[0]
		}
	}, nil
}

// MustRegexSelector is like [RegexSelector] but panics if the pattern is
// invalid.
func MustRegexSelector(pattern string) Selector {
	sel, err := RegexSelector(pattern)
	if err != nil {
		panic("sitewatch: invalid regex pattern: " + err.Error())
	}
	return sel
}

// ErrNoSelection is the fetch error reported when a target's [Selector]
// finds nothing in the page.
var ErrNoSelection = errors.New("selector matched nothing")

// selectingFetcher applies per-URL selectors to fetched bodies.
type selectingFetcher struct {
	inner     Fetcher
	selectors map[string]Selector
}

func (f selectingFetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := f.inner.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	sel := f.selectors[url]
	if sel == nil {
		return body, nil
	}
	if selected := sel(body); selected != "" {
		return selected, nil
	}
	return "", ErrNoSelection
}
