// Package media normalizes image attachments before they reach a provider.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/opengoat/internal/providers"
)

// MaxEdge is the largest long-edge size forwarded to providers. Anything
// bigger gets downscaled.
const MaxEdge = 2048

// Normalize filters attachments down to decodable image/* data URLs and
// downscales oversized ones. Undecodable or non-image attachments are
// dropped with a warning rather than failing the invocation.
func Normalize(images []providers.Image) []providers.Image {
	if len(images) == 0 {
		return nil
	}
	out := make([]providers.Image, 0, len(images))
	for _, img := range images {
		normalized, err := normalizeOne(img)
		if err != nil {
			slog.Warn("media.attachment_dropped", "name", img.Name, "error", err)
			continue
		}
		out = append(out, normalized)
	}
	return out
}

func normalizeOne(img providers.Image) (providers.Image, error) {
	mediaType, data, err := decodeDataURL(img.DataURL)
	if err != nil {
		return providers.Image{}, err
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return providers.Image{}, fmt.Errorf("unsupported media type %q", mediaType)
	}

	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return providers.Image{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := decoded.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= MaxEdge && h <= MaxEdge {
		img.MediaType = mediaType
		return img, nil
	}

	if w >= h {
		decoded = imaging.Resize(decoded, MaxEdge, 0, imaging.Lanczos)
	} else {
		decoded = imaging.Resize(decoded, 0, MaxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	outType := mediaType
	switch format {
	case "jpeg":
		err = imaging.Encode(&buf, decoded, imaging.JPEG, imaging.JPEGQuality(90))
	default:
		// Everything else re-encodes as PNG; lossless and universally
		// accepted by providers.
		err = imaging.Encode(&buf, decoded, imaging.PNG)
		outType = "image/png"
	}
	if err != nil {
		return providers.Image{}, fmt.Errorf("re-encode image: %w", err)
	}

	img.MediaType = outType
	img.DataURL = encodeDataURL(outType, buf.Bytes())
	return img, nil
}

// decodeDataURL splits a data: URL into its media type and payload.
func decodeDataURL(dataURL string) (mediaType string, data []byte, err error) {
	const prefix = "data:"
	if !strings.HasPrefix(dataURL, prefix) {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(dataURL[len(prefix):], ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mediaType, _, _ = strings.Cut(meta, ";")
	if mediaType == "" {
		mediaType = "text/plain"
	}
	if strings.Contains(meta, ";base64") {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		return mediaType, data, nil
	}
	return mediaType, []byte(payload), nil
}

func encodeDataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
