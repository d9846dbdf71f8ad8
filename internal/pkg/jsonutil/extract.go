// Package jsonutil pulls JSON documents out of free-form model replies.
package jsonutil

import "strings"

const codeFence = "```"

// ExtractObject returns the first balanced JSON object in raw. A fenced code
// block wins over bare text, so "```json {...} ```" and "Sure: {...}" both work.
func ExtractObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := fencedBlock(raw); ok {
		if obj, ok := balanced(block, '{', '}'); ok {
			return obj, true
		}
	}
	return balanced(raw, '{', '}')
}

// ExtractArray is ExtractObject for a top-level array.
func ExtractArray(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if block, ok := fencedBlock(raw); ok {
		if arr, ok := balanced(block, '[', ']'); ok {
			return arr, true
		}
	}
	return balanced(raw, '[', ']')
}

// fencedBlock returns the body of the first ``` block without its language tag.
func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

// balanced scans from the first open byte to its matching close, skipping
// brackets inside JSON strings.
func balanced(raw string, open, close byte) (string, bool) {
	start := strings.IndexByte(raw, open)
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
