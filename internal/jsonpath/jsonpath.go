// Package jsonpath implements dotted/bracket path addressing and
// structural-sharing get/set/patch over plain JSON trees (map[string]any,
// []any, and scalars as produced by encoding/json).
package jsonpath

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// ErrInvalidPath is returned when a path walks through a scalar value.
var ErrInvalidPath = errors.New("jsonpath: invalid path")

var emptyRoot = map[string]any{}

const tokenCacheMax = 4096

var (
	tokenCacheMu sync.Mutex
	tokenCache   = map[string][]string{}
)

// tokens splits path on runs of characters that are not '.', '[', ']', or
// whitespace, memoizing the result in a process-wide bounded cache.
func tokens(path string) []string {
	if path == "" {
		return nil
	}

	tokenCacheMu.Lock()
	if t, ok := tokenCache[path]; ok {
		tokenCacheMu.Unlock()
		return t
	}
	tokenCacheMu.Unlock()

	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range path {
		switch {
		case r == '.' || r == '[' || r == ']':
			flush()
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	tokenCacheMu.Lock()
	if len(tokenCache) >= tokenCacheMax {
		// Cheap bound: drop the whole cache rather than track LRU order.
		tokenCache = map[string][]string{}
	}
	tokenCache[path] = toks
	tokenCacheMu.Unlock()

	return toks
}

func isIndex(tok string) (int, bool) {
	if tok == "" {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Get walks data token by token. A nil cursor at any step returns nil, nil.
// A scalar cursor with tokens remaining fails with ErrInvalidPath. A root
// get (no tokens) returns data, or emptyRoot if data is nil.
func Get(data any, path string) (any, error) {
	toks := tokens(path)
	if len(toks) == 0 {
		if data == nil {
			return emptyRoot, nil
		}
		return data, nil
	}

	cur := data
	for _, tok := range toks {
		if cur == nil {
			return nil, nil
		}
		switch v := cur.(type) {
		case map[string]any:
			cur = v[tok]
		case []any:
			idx, ok := isIndex(tok)
			if !ok || idx >= len(v) {
				return nil, nil
			}
			cur = v[idx]
		default:
			return nil, ErrInvalidPath
		}
	}
	return cur, nil
}

// Set produces a new tree sharing unchanged subtrees with data. If the
// resulting subtree is reference-identical to the existing one, it returns
// data unchanged so callers can use reference equality as a no-op signal.
func Set(data any, path string, value any) (any, error) {
	toks := tokens(path)
	if len(toks) == 0 {
		return Patch(data, value), nil
	}
	return setAt(data, toks, value)
}

func setAt(node any, toks []string, value any) (any, error) {
	tok := toks[0]
	rest := toks[1:]

	if idx, ok := isIndex(tok); ok {
		arr, isArr := node.([]any)
		if !isArr {
			if node != nil {
				return nil, ErrInvalidPath
			}
			arr = nil
		}
		var old any
		if idx < len(arr) {
			old = arr[idx]
		}

		var newVal any
		var err error
		if len(rest) == 0 {
			newVal = value
		} else {
			newVal, err = setAt(old, rest, value)
			if err != nil {
				return nil, err
			}
		}

		if idx < len(arr) && refEqual(arr[idx], newVal) {
			return node, nil
		}

		out := make([]any, max(idx+1, len(arr)))
		copy(out, arr)
		out[idx] = newVal
		return out, nil
	}

	obj, isObj := node.(map[string]any)
	if !isObj {
		if node != nil {
			return nil, ErrInvalidPath
		}
		obj = nil
	}
	existing, ok := obj[tok]

	var newVal any
	var err error
	if len(rest) == 0 {
		newVal = value
	} else {
		newVal, err = setAt(existing, rest, value)
		if err != nil {
			return nil, err
		}
	}

	if ok && refEqual(existing, newVal) {
		return node, nil
	}
	if !ok && newVal == nil {
		return node, nil
	}

	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	out[tok] = newVal
	return out, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RefEqual is the exported form of refEqual, used by internal/record to
// detect "no change" across package boundaries.
func RefEqual(a, b any) bool { return refEqual(a, b) }

// refEqual reports whether a and b are the same reference (for maps/slices)
// or the same scalar value. This is the pointer-equality signal the rest of
// the package relies on to mean "structurally unchanged".
func refEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			return av == nil && bv == nil
		}
		return reflect.ValueOf(av).Pointer() == reflect.ValueOf(bv).Pointer()
	case []any:
		bv, ok := b.([]any)
		if !ok {
			return false
		}
		if len(av) == 0 && len(bv) == 0 {
			return (av == nil) == (bv == nil)
		}
		if len(av) != len(bv) {
			return false
		}
		return reflect.ValueOf(av).Pointer() == reflect.ValueOf(bv).Pointer()
	default:
		return a == b
	}
}
