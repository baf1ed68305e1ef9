package services

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

var errNoJSON = errors.New("no JSON value found")

// ExtractJSON pulls a JSON document out of free model text. Markdown code
// fences are removed first; if the rest is not valid JSON, the span from the
// first opening brace or bracket to the last matching closer is tried.
func ExtractJSON(raw string) (string, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return "", &ParseError{Op: "extract_json", Raw: raw, Err: errNoJSON}
	}
	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	for _, pair := range delimiterOrder(cleaned) {
		start := strings.IndexByte(cleaned, pair[0])
		end := strings.LastIndexByte(cleaned, pair[1])
		if start < 0 || end <= start {
			continue
		}
		candidate := cleaned[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	var syntaxErr error = errNoJSON
	var probe any
	if err := json.Unmarshal([]byte(cleaned), &probe); err != nil {
		syntaxErr = err
	}
	return "", &ParseError{Op: "extract_json", Raw: raw, Err: syntaxErr}
}

// DecodeJSON extracts and unmarshals into v.
func DecodeJSON(op, raw string, v any) error {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return &ParseError{Op: op, Raw: raw, Err: errors.Unwrap(err)}
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return &ParseError{Op: op, Raw: raw, Err: err}
	}
	return nil
}

// DecodeList is DecodeJSON for list results. Providers in JSON-object mode
// wrap lists as {"items": [...]}; the first array field is used then.
func DecodeList(op, raw string, v any) error {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return &ParseError{Op: op, Raw: raw, Err: errors.Unwrap(err)}
	}
	if strings.HasPrefix(doc, "{") {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(doc), &wrapper); err == nil {
			keys := make([]string, 0, len(wrapper))
			for k := range wrapper {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if val := strings.TrimSpace(string(wrapper[k])); strings.HasPrefix(val, "[") {
					doc = val
					break
				}
			}
		}
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return &ParseError{Op: op, Raw: raw, Err: err}
	}
	return nil
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// delimiterOrder tries whichever of object or array opens first.
func delimiterOrder(s string) [][2]byte {
	obj := [2]byte{'{', '}'}
	arr := [2]byte{'[', ']'}
	o := strings.IndexByte(s, '{')
	a := strings.IndexByte(s, '[')
	if a >= 0 && (o < 0 || a < o) {
		return [][2]byte{arr, obj}
	}
	return [][2]byte{obj, arr}
}
