package agent

import (
	"regexp"
	"strings"
)

// fileBlockRe matches file blocks the agents are instructed to emit:
//
//	<output-file path="relative/path.md">
//	...content...
//	</output-file>
var fileBlockRe = regexp.MustCompile(`(?s)<output-file path="([^"]+)">\n?(.*?)</output-file>`)

// ParseFileBlocks extracts emitted files from raw model output. Paths are
// normalized to forward slashes; traversal segments are rejected outright.
func ParseFileBlocks(text string) map[string]string {
	matches := fileBlockRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	files := make(map[string]string, len(matches))
	for _, m := range matches {
		path := strings.TrimSpace(strings.ReplaceAll(m[1], "\\", "/"))
		if path == "" || strings.HasPrefix(path, "/") || containsDotDot(path) {
			continue
		}
		files[path] = strings.TrimSuffix(m[2], "\n") + "\n"
	}
	if len(files) == 0 {
		return nil
	}
	return files
}

// ExtractJSON pulls the first top-level JSON object out of model output,
// tolerating fenced code blocks and surrounding prose.
func ExtractJSON(text string) (string, bool) {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if candidate != "" {
				return candidate, true
			}
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
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

func containsDotDot(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
