package types

import (
	"encoding/json"
	"strings"
)

// Content block types.
const (
	BlockText  = "text"
	BlockImage = "image"
)

// ContentBlock is one element of a block-form message content.
type ContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MediaType string `json:"mediaType,omitempty"` // "image/jpeg", "image/png", ...
	Data      []byte `json:"data,omitempty"`      // raw image bytes (base64 in JSON)
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock creates an image content block.
func ImageBlock(mediaType string, data []byte) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, Data: data}
}

// Content is the polymorphic message body: either a plain string or a list
// of content blocks. Blocks takes precedence when non-nil.
type Content struct {
	Plain  string
	Blocks []ContentBlock
}

// PlainText creates plain-string content.
func PlainText(s string) Content {
	return Content{Plain: s}
}

// BlockContent creates block-form content.
func BlockContent(blocks ...ContentBlock) Content {
	return Content{Blocks: blocks}
}

// IsBlocks reports whether the content is in block form.
func (c Content) IsBlocks() bool {
	return c.Blocks != nil
}

// Text extracts the textual portion of the content. For block form this is
// the concatenation of all text blocks.
func (c Content) Text() string {
	if c.Blocks == nil {
		return c.Plain
	}
	var parts []string
	for _, b := range c.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasImage reports whether any block carries image data.
func (c Content) HasImage() bool {
	for _, b := range c.Blocks {
		if b.Type == BlockImage {
			return true
		}
	}
	return false
}

// MarshalJSON encodes plain content as a JSON string and block content as an
// array, matching the session event-log format.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Plain)
}

// UnmarshalJSON accepts either a string or an array of blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		c.Plain = ""
		return json.Unmarshal(data, &c.Blocks)
	}
	c.Blocks = nil
	return json.Unmarshal(data, &c.Plain)
}
