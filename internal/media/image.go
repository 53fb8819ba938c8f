// Package media normalizes inbound attachments for the model: images are
// resized and recompressed to fit vision API limits, documents are reduced
// to text, and anything else becomes a placeholder label.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	// register webp decoding
	_ "golang.org/x/image/webp"
)

// Vision API limits.
const (
	MaxDimension = 1568            // max width or height in pixels
	MaxBytes     = 5 * 1024 * 1024 // 5MB
)

// qualityLadder is tried in order until the encoded image fits MaxBytes.
var qualityLadder = []int{85, 60, 40}

// Supported vision MIME types.
var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// FitError means an image could not be reduced under the byte limit even
// at the lowest rung of the quality ladder.
type FitError struct {
	FinalBytes int
}

func (e *FitError) Error() string {
	return fmt.Sprintf("image still %.2fMB after resize, limit is %dMB",
		float64(e.FinalBytes)/(1024*1024), MaxBytes/(1024*1024))
}

// Image is a processed image ready for a vision block.
type Image struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Base64 encodes the image payload for API transport.
func (im *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(im.Data)
}

// DetectMIME sniffs magic bytes; extensions lie.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupportedImage reports whether a MIME type can go into a vision block.
func IsSupportedImage(mimeType string) bool {
	return supportedImageTypes[mimeType]
}

// FitImage returns an image within MaxDimension and MaxBytes. Already-small
// inputs pass through untouched. Oversized ones are resized once, then
// recompressed down the quality ladder; if the last rung still exceeds the
// byte limit the caller gets a *FitError.
func FitImage(data []byte) (*Image, error) {
	mimeType := DetectMIME(data)
	if !IsSupportedImage(mimeType) {
		return nil, fmt.Errorf("unsupported image type %s", mimeType)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width <= MaxDimension && height <= MaxDimension && len(data) <= MaxBytes {
		return &Image{Data: data, MimeType: mimeType, Width: width, Height: height}, nil
	}

	if width > MaxDimension || height > MaxDimension {
		img = imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)
		bounds = img.Bounds()
		width, height = bounds.Dx(), bounds.Dy()
	}

	// PNG has no quality knob; screenshots and photos both compress fine
	// as JPEG once they are too big to pass through.
	if format == "png" && len(data) <= MaxBytes {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err == nil && buf.Len() <= MaxBytes {
			return &Image{Data: buf.Bytes(), MimeType: "image/png", Width: width, Height: height}, nil
		}
	}

	var encoded []byte
	for _, quality := range qualityLadder {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode image: %w", err)
		}
		encoded = buf.Bytes()
		if len(encoded) <= MaxBytes {
			return &Image{Data: encoded, MimeType: "image/jpeg", Width: width, Height: height}, nil
		}
	}

	return nil, &FitError{FinalBytes: len(encoded)}
}
