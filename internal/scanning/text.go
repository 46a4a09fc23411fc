package scanning

import (
	"strings"
)

// cleanRecognizedText strips the wrapping a language model tends to add around a transcription
func cleanRecognizedText(text string) (string, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code fences if present
	if strings.HasPrefix(text, "```") {
		if nl := strings.Index(text, "\n"); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	text = strings.TrimSpace(strings.Join(lines, "\n"))

	if text == "" || strings.EqualFold(text, "NO_TEXT") {
		return "", ErrNoText
	}
	return text, nil
}
