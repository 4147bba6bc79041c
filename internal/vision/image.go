package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

// ErrInvalidImage marks payloads that are not a decodable image.
var ErrInvalidImage = errors.New("invalid image")

var allowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif", "image/heic", "image/heif"}

// Image is a decoded image payload.
type Image struct {
	Data     []byte
	MIMEType string
}

// DecodeDataURL parses a base64 data URL, or bare base64, and checks the
// content is an image of a supported type no larger than maxBytes. A
// maxBytes of 0 disables the size check. The declared media type is ignored
// in favour of the detected one.
func DecodeDataURL(s string, maxBytes int64) (Image, error) {
	payload := strings.TrimSpace(s)
	if payload == "" {
		return Image{}, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return Image{}, fmt.Errorf("%w: malformed data URL", ErrInvalidImage)
		}
		if !strings.HasSuffix(payload[:comma], ";base64") {
			return Image{}, fmt.Errorf("%w: data URL is not base64 encoded", ErrInvalidImage)
		}
		payload = payload[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Image{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(data), maxBytes)
	}

	mime := mimetype.Detect(data)
	for _, allowed := range allowedTypes {
		if mime.Is(allowed) {
			return Image{Data: data, MIMEType: allowed}, nil
		}
	}
	return Image{}, fmt.Errorf("%w: unsupported content type %s", ErrInvalidImage, mime.String())
}

// DataURL encodes the image as a base64 data URL.
func (img Image) DataURL() string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// PrepareImage decodes raw image bytes, applies EXIF orientation, scales it
// down so neither side exceeds maxSide and re-encodes it as a JPEG data URL.
// A maxSide of 0 keeps the original dimensions.
func PrepareImage(raw []byte, maxSide int) (string, error) {
	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := src.Bounds()
	if maxSide > 0 && (bounds.Dx() > maxSide || bounds.Dy() > maxSide) {
		src = imaging.Fit(src, maxSide, maxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return Image{Data: buf.Bytes(), MIMEType: "image/jpeg"}.DataURL(), nil
}
