package types

// Known ingress sources. Sources in SuppressedSources never deliver replies
// through the transport; only HTTP futures and webhooks see the response.
const (
	SourceTelegram = "telegram"
	SourceSystem   = "system"
	SourceHTTP     = "http"
	SourceCron     = "cron"
)

// IsSuppressedSource reports whether transport delivery (typing indicator,
// reply, error text) is suppressed for the given source.
func IsSuppressedSource(source string) bool {
	return source == SourceSystem || source == SourceHTTP
}

// Attachment is a media file scoped to one inbound message. The core owns
// the local file's lifecycle once the message is normalized.
type Attachment struct {
	MimeType string `json:"mimeType"`
	Path     string `json:"path"`     // local spool path
	Filename string `json:"filename"` // original filename
	Size     int64  `json:"size"`
	IsVoice  bool   `json:"isVoice,omitempty"`
}

// IsImage reports whether the attachment is an image by MIME type.
func (a Attachment) IsImage() bool {
	return len(a.MimeType) > 6 && a.MimeType[:6] == "image/"
}

// InboundMessage is the transport-neutral ingress envelope.
type InboundMessage struct {
	Text        string            `json:"text"`
	Sender      string            `json:"sender"`
	Timestamp   int64             `json:"timestamp"` // monotonic per transport
	Source      string            `json:"source"`
	QuotedText  string            `json:"quotedText,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Tier        string            `json:"tier,omitempty"`       // context tier override
	NotifyMeta  map[string]string `json:"notifyMeta,omitempty"` // opaque webhook metadata
}
