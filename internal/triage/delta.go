package triage

import (
	"strings"
)

// BuildDelta extracts from fresh the lines that do not already appear in the
// existing issue description, grouped under fixed headings so repeated
// updates stay readable. An empty return means the fresh analysis adds
// nothing the issue doesn't already say.
func BuildDelta(existing, fresh string) string {
	seen := normalize(existing)

	var feedback, links, details []string
	for _, raw := range strings.Split(fresh, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[normalizeLine(line)]; dup {
			continue
		}
		switch {
		case strings.HasPrefix(line, ">"):
			feedback = append(feedback, line)
		case strings.Contains(line, "http://") || strings.Contains(line, "https://"):
			links = append(links, line)
		default:
			details = append(details, line)
		}
	}

	var sections []string
	if len(feedback) > 0 {
		sections = append(sections, "## New user feedback\n"+strings.Join(feedback, "\n"))
	}
	if len(details) > 0 {
		sections = append(sections, "## New details\n"+strings.Join(details, "\n"))
	}
	if len(links) > 0 {
		sections = append(sections, "## New links\n"+strings.Join(links, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

func normalize(text string) map[string]struct{} {
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(text, "\n") {
		if line := normalizeLine(raw); line != "" {
			seen[line] = struct{}{}
		}
	}
	return seen
}

// normalizeLine folds case, markdown quoting and list markers so near-equal
// lines compare equal.
func normalizeLine(raw string) string {
	line := strings.TrimSpace(raw)
	line = strings.TrimPrefix(line, ">")
	line = strings.TrimPrefix(line, "-")
	line = strings.TrimPrefix(line, "*")
	return strings.ToLower(strings.TrimSpace(line))
}
