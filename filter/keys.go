package filter

import (
	"strings"
)

// NormalizeKeys returns a copy of a filter map whose keys are converted with SmartPascalCase,
// so that camelCase documents such as {"name": {"startsWith": "b"}} match the map form.
// Field keys for which known reports true are kept as they are.
func NormalizeKeys(m map[string]any, known func(key string) bool) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for key, value := range m {
		switch strings.ToLower(key) {
		case "and", "or":
			list, ok := value.([]any)
			if !ok {
				result[SmartPascalCase(key)] = value
				continue
			}
			normalized := make([]any, len(list))
			for i, item := range list {
				if sub, ok := item.(map[string]any); ok {
					normalized[i] = NormalizeKeys(sub, known)
				} else {
					normalized[i] = item
				}
			}
			result[SmartPascalCase(key)] = normalized
		case "not":
			if sub, ok := value.(map[string]any); ok {
				result[KeyNot] = NormalizeKeys(sub, known)
			} else {
				result[KeyNot] = value
			}
		default:
			field := key
			if known == nil || !known(key) {
				field = SmartPascalCase(key)
			}
			ops, ok := value.(map[string]any)
			if !ok {
				result[field] = value
				continue
			}
			normalizedOps := make(map[string]any, len(ops))
			for op, v := range ops {
				normalizedOps[SmartPascalCase(op)] = v
			}
			result[field] = normalizedOps
		}
	}
	return result
}

// Capitalize simply capitalizes the first letter without acronym handling
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var acronyms = map[string]bool{
	"id":   true,
	"url":  true,
	"uri":  true,
	"api":  true,
	"http": true,
	"html": true,
	"xml":  true,
	"json": true,
	"sql":  true,
	"uuid": true,
	"uid":  true,
	"ip":   true,
	"sku":  true,
}

// SmartPascalCase converts camelCase to PascalCase with handling of common acronyms.
// Runs of upper case letters are kept together, so "parseJSON" becomes "ParseJSON".
func SmartPascalCase(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	var words []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prevUpper := isUpper(runes[i-1])
		curUpper := isUpper(runes[i])
		nextLower := i+1 < len(runes) && !isUpper(runes[i+1])
		if curUpper && (!prevUpper || nextLower) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	words = append(words, string(runes[start:]))

	var result strings.Builder
	for _, word := range words {
		lower := strings.ToLower(word)
		switch {
		case acronyms[lower]:
			result.WriteString(strings.ToUpper(lower))
		case word == strings.ToUpper(word):
			result.WriteString(word)
		default:
			result.WriteString(strings.ToUpper(word[:1]) + word[1:])
		}
	}
	return result.String()
}

func isUpper(r rune) bool {
	return r >= 'A' && r <= 'Z'
}
