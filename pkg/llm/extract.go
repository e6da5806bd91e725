package llm

import "strings"

// ExtractJSON pulls a single JSON object out of raw model output: it
// strips a surrounding markdown code fence if present, then falls back to
// a balanced-brace scan that finds the first complete `{...}` object,
// tolerating leading/trailing prose the model added despite instructions
// not to (spec §4.2).
func ExtractJSON(raw string) (string, bool) {
	text := strings.TrimSpace(raw)

	if fenced, ok := stripFence(text); ok {
		text = strings.TrimSpace(fenced)
	}

	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text, true
	}

	return balancedBraceScan(text)
}

// stripFence removes a ```json ... ``` or ``` ... ``` fence, returning the
// inner content.
func stripFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") {
		return text, false
	}
	rest := text[3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || isLangTag(firstLine) {
			rest = rest[nl+1:]
		}
	}
	end := strings.LastIndex(rest, "```")
	if end < 0 {
		return rest, true
	}
	return rest[:end], true
}

func isLangTag(s string) bool {
	switch strings.ToLower(s) {
	case "json", "js", "javascript":
		return true
	default:
		return false
	}
}

// balancedBraceScan finds the first top-level `{...}` object in text,
// respecting string-literal quoting and escapes so braces inside JSON
// string values don't confuse the depth counter.
func balancedBraceScan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
