// Package fencejson repairs partial JSON captured from a tool-call fence
// body mid-stream, so a tool call's arguments object can be decoded before
// its closing fence has actually arrived. Adapted from
// pkg/jsonparser/fix_json.go's stack-based brace/bracket tracker.
package fencejson

import "strings"

// Repair closes unclosed strings, brackets, and braces in text, and
// completes a trailing partial boolean/null literal, so that the result is
// valid enough for encoding/json to decode. Fully-formed JSON is returned
// unchanged (lastValidIndex reaches the end of the string).
func Repair(text string) string {
	if text == "" {
		return ""
	}

	var openStack []rune
	inString := false
	escaped := false
	lastValidIndex := -1

	for i := 0; i < len(text); i++ {
		c := rune(text[i])

		switch {
		case escaped:
			escaped = false
			lastValidIndex = i
			continue
		case c == '\\' && inString:
			escaped = true
			lastValidIndex = i
			continue
		case c == '"':
			inString = !inString
			lastValidIndex = i
			continue
		case inString:
			lastValidIndex = i
			continue
		}

		switch c {
		case '{':
			openStack = append(openStack, '{')
			lastValidIndex = i
		case '[':
			openStack = append(openStack, '[')
			lastValidIndex = i
		case '}':
			if len(openStack) > 0 && openStack[len(openStack)-1] == '{' {
				openStack = openStack[:len(openStack)-1]
				lastValidIndex = i
			}
		case ']':
			if len(openStack) > 0 && openStack[len(openStack)-1] == '[' {
				openStack = openStack[:len(openStack)-1]
				lastValidIndex = i
			}
		case ',', ':', ' ', '\t', '\n', '\r',
			'0', '1', '2', '3', '4', '5', '6', '7', '8', '9',
			'-', '.', 'e', 'E', '+', 't', 'r', 'u', 'f', 'a', 'l', 's', 'n':
			lastValidIndex = i
		}
	}

	if lastValidIndex < 0 {
		return ""
	}

	result := text[:lastValidIndex+1]
	if inString {
		result += "\""
	}
	result = completeLiterals(result)

	for i := len(openStack) - 1; i >= 0; i-- {
		if openStack[i] == '{' {
			result += "}"
		} else {
			result += "]"
		}
	}
	return result
}

// completeLiterals finishes a trailing partial "true"/"false"/"null" token
// (e.g. `{"active":tr` -> `{"active":true`).
func completeLiterals(s string) string {
	i := len(s) - 1
	for i >= 0 && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i--
	}
	if i < 0 {
		return s
	}

	start := i
	for start > 0 && s[start-1] >= 'a' && s[start-1] <= 'z' {
		start--
	}
	if start == i+1 {
		return s
	}

	partial := s[start : i+1]
	switch {
	case strings.HasPrefix("true", partial) && partial != "true":
		return s[:start] + "true"
	case strings.HasPrefix("false", partial) && partial != "false":
		return s[:start] + "false"
	case strings.HasPrefix("null", partial) && partial != "null":
		return s[:start] + "null"
	default:
		return s
	}
}
