package scanning

import (
	"context"
	"errors"
)

// ErrNoText is returned when a backend answers without any recognized text
var ErrNoText = errors.New("no text recognized")

// Recognizer is the OCR collaborator: it reads the printed text of a receipt photo
type Recognizer interface {
	// RecognizeText returns the text of an image or PDF, one printed line per line
	RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close closes the recognizer and releases resources
	Close() error
}
