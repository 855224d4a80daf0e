package intent

import (
	"strings"
)

var queryPrefixes = []string{"search for ", "search ", "who is ", "what is ", "tell me about "}

var expressionPrefixes = []string{"calculate ", "what is "}

// ExtractEntities slices well-known markers out of text. Missing markers give an empty map.
func ExtractEntities(text string, intent string) map[string]any {
	entities := map[string]any{}
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return entities
	}

	switch intent {
	case "weather":
		if parts := strings.Split(lower, " in "); len(parts) > 1 {
			if loc := cleanEntity(parts[1]); loc != "" {
				entities["location"] = loc
			}
		}
	case "search", "wikipedia":
		query := lower
		for _, prefix := range queryPrefixes {
			if strings.HasPrefix(query, prefix) {
				query = strings.TrimPrefix(query, prefix)
				break
			}
		}
		if q := cleanEntity(query); q != "" {
			entities["query"] = q
		}
	case "calculate":
		for _, prefix := range expressionPrefixes {
			if strings.HasPrefix(lower, prefix) {
				if e := cleanEntity(strings.TrimPrefix(lower, prefix)); e != "" {
					entities["expression"] = e
				}
				break
			}
		}
	case "reminder_set":
		_, rest, ok := strings.Cut(lower, " to ")
		if !ok {
			return entities
		}
		task := rest
		if i := strings.LastIndex(rest, " at "); i >= 0 {
			task = rest[:i]
			if tm := cleanEntity(rest[i+len(" at "):]); tm != "" {
				entities["time"] = tm
			}
		}
		if tk := cleanEntity(task); tk != "" {
			entities["task"] = tk
		}
	case "reminder_delete":
		for _, w := range strings.Fields(lower) {
			switch cleanEntity(w) {
			case "all", "every", "everything":
				entities["scope"] = "all"
				return entities
			case "last", "latest":
				entities["scope"] = "last"
			}
		}
	}
	return entities
}

func cleanEntity(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "?.!"))
}
