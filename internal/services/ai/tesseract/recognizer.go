// Package tesseract reads plate text with the Tesseract OCR engine.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"aiprocessor/internal/services/ai"
)

const plateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Recognizer wraps a single gosseract client. Tesseract handles are not
// goroutine-safe, so calls are serialized.
type Recognizer struct {
	client *gosseract.Client
	mutex  sync.Mutex
}

// NewRecognizer creates an OCR client restricted to plate characters and
// tuned for a single line of text.
func NewRecognizer(language string) (*Recognizer, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	if err := client.SetWhitelist(plateAlphabet); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR whitelist: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	return &Recognizer{client: client}, nil
}

// Recognize returns one fragment per word with confidence scaled to [0,1].
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) ([]ai.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set OCR image: %w", err)
	}

	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}

	fragments := make([]ai.Fragment, 0, len(boxes))
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		fragments = append(fragments, ai.Fragment{Text: word, Confidence: box.Confidence / 100})
	}
	return fragments, nil
}

// Close frees the Tesseract handle.
func (r *Recognizer) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.client.Close()
}
