package media

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// Document extraction limits.
const (
	MaxDocBytes    = 10 * 1024 * 1024 // refuse to parse anything larger
	MaxExtractRune = 16000            // extracted text cap, in runes
)

// ExtractDocument reduces a document attachment to text the model can
// read. Unparseable or oversized documents come back as a one-line label
// so the conversation still records that something arrived.
func ExtractDocument(name string, data []byte) string {
	mimeType := DetectMIME(data)

	if len(data) > MaxDocBytes {
		L_warn("attachment too large to read", "name", name, "bytes", len(data))
		return fmt.Sprintf("[attachment: %s, %s, too large to read]", name, mimeType)
	}

	switch {
	case mimeType == "application/pdf":
		text, err := extractPDF(data)
		if err != nil || text == "" {
			L_warn("pdf extraction failed", "name", name, "error", err)
			return fmt.Sprintf("[attachment: %s, %s]", name, mimeType)
		}
		return capRunes(text)

	case strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/json",
		mimeType == "application/xml":
		return capRunes(decodeText(data))

	default:
		return fmt.Sprintf("[attachment: %s, %s]", name, mimeType)
	}
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	return strings.TrimSpace(text.String()), nil
}

// decodeText interprets bytes as UTF-8, mapping invalid sequences to the
// replacement rune instead of failing.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}

func capRunes(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxExtractRune {
		return s
	}
	return string(runes[:MaxExtractRune]) + "\n[truncated]"
}
