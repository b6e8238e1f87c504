package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON extracts the outermost JSON object from a model response and
// decodes it into v. Malformed string values are sanitised and retried once.
func DecodeJSON(response string, v any) error {
	jsonStr, err := ExtractJSONObject(response)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		sanitized := SanitizeJSON(jsonStr)
		if sanitizedErr := json.Unmarshal([]byte(sanitized), v); sanitizedErr != nil {
			return fmt.Errorf("failed to unmarshal JSON: %w (sanitized version also failed: %v)", err, sanitizedErr)
		}
	}
	return nil
}

// ExtractJSONObject returns the text between the first '{' and the last '}'.
func ExtractJSONObject(response string) (string, error) {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")

	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("no JSON found in response: %s", truncateString(response, 200))
	}
	return response[startIdx : endIdx+1], nil
}

// SanitizeJSON escapes unescaped quotes inside single-line string values,
// the most common defect in model-written JSON.
func SanitizeJSON(jsonStr string) string {
	lines := strings.Split(jsonStr, "\n")
	var sanitizedLines []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.Contains(line, ":") && strings.Contains(line, "\"") {
			colonIdx := strings.Index(line, "\":")
			if colonIdx != -1 {
				beforeColon := line[:colonIdx+2]
				afterColon := strings.TrimSpace(line[colonIdx+2:])

				if strings.HasPrefix(afterColon, "\"") {
					lastQuoteIdx := strings.LastIndex(afterColon, "\"")
					if lastQuoteIdx > 0 {
						content := afterColon[1:lastQuoteIdx]
						content = strings.ReplaceAll(content, `\"`, "\x00")
						content = strings.ReplaceAll(content, "\"", `\"`)
						content = strings.ReplaceAll(content, "\x00", `\"`)

						remainder := afterColon[lastQuoteIdx+1:]
						line = beforeColon + " \"" + content + "\"" + remainder
					}
				}
			}
		}

		sanitizedLines = append(sanitizedLines, line)
	}

	return strings.Join(sanitizedLines, "\n")
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength] + "..."
}
