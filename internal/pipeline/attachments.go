package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/media"
	"github.com/lucyd-ai/lucyd/internal/stt"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// normalized is the outcome of attachment normalization: the final message
// text plus any vision-ready images.
type normalized struct {
	Text      string
	Images    []*media.Image
	VoiceHint bool
}

// normalizeAttachments folds every attachment into text or an image block.
// Images that cannot be squeezed under the vision limits degrade to a
// sentence so the conversation still records them. Spool files are removed
// once consumed.
func normalizeAttachments(ctx context.Context, msg types.InboundMessage, transcriber stt.Provider) normalized {
	out := normalized{Text: msg.Text}

	for _, att := range msg.Attachments {
		switch {
		case att.IsVoice:
			out.Text = appendPart(out.Text, transcribeVoice(ctx, att, transcriber))
			out.VoiceHint = true

		case att.IsImage():
			data, err := os.ReadFile(att.Path)
			if err != nil {
				L_warn("pipeline: unreadable image attachment", "path", att.Path, "error", err)
				out.Text = appendPart(out.Text, fmt.Sprintf("[attachment: %s, %s]", att.Filename, att.MimeType))
				break
			}
			img, err := media.FitImage(data)
			if err != nil {
				var fe *media.FitError
				if errors.As(err, &fe) {
					L_warn("pipeline: image too large for vision", "file", att.Filename, "bytes", fe.FinalBytes)
				} else {
					L_warn("pipeline: image processing failed", "file", att.Filename, "error", err)
				}
				out.Text = "[image] " + strings.TrimSpace(out.Text)
				break
			}
			// fitted images travel as vision blocks on the user message;
			// only the degraded path above leaves a text marker
			out.Images = append(out.Images, img)

		default:
			data, err := os.ReadFile(att.Path)
			if err != nil {
				L_warn("pipeline: unreadable attachment", "path", att.Path, "error", err)
				out.Text = appendPart(out.Text, fmt.Sprintf("[attachment: %s, %s]", att.Filename, att.MimeType))
				break
			}
			out.Text = appendPart(out.Text, media.ExtractDocument(att.Filename, data))
		}

		if att.Path != "" {
			os.Remove(att.Path)
		}
	}

	out.Text = strings.TrimSpace(out.Text)
	return out
}

func transcribeVoice(ctx context.Context, att types.Attachment, transcriber stt.Provider) string {
	if transcriber == nil {
		return "[voice message, transcription unavailable]"
	}
	text, err := transcriber.Transcribe(ctx, att.Path)
	if err != nil {
		L_warn("pipeline: transcription failed", "file", att.Filename, "error", err)
		return "[voice message, transcription failed]"
	}
	return "[voice message]: " + strings.TrimSpace(text)
}

func appendPart(text, part string) string {
	if part == "" {
		return text
	}
	if text == "" {
		return part
	}
	return text + "\n" + part
}
