package llm

import "strings"

// StripFences removes a surrounding ``` or ```json code fence and any text
// outside the outermost JSON object.
func StripFences(raw string) string {
	clean := strings.TrimSpace(raw)
	if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```")
		if nl := strings.IndexByte(clean, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(clean[:nl]), "{") {
			clean = clean[nl+1:]
		}
		clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
	}
	start := strings.IndexByte(clean, '{')
	end := strings.LastIndexByte(clean, '}')
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	return strings.TrimSpace(clean)
}
