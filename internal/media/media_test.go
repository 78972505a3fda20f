package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/opengoat/internal/providers"
)

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 64 {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestNormalizeSmallImagePassthrough(t *testing.T) {
	in := providers.Image{DataURL: pngDataURL(t, 100, 50), Name: "dot.png"}
	out := Normalize([]providers.Image{in})
	if len(out) != 1 {
		t.Fatalf("got %d images, want 1", len(out))
	}
	if out[0].DataURL != in.DataURL {
		t.Error("small image was re-encoded")
	}
	if out[0].MediaType != "image/png" {
		t.Errorf("mediaType = %q", out[0].MediaType)
	}
}

func TestNormalizeDownscalesLongEdge(t *testing.T) {
	in := providers.Image{DataURL: pngDataURL(t, MaxEdge+512, 128)}
	out := Normalize([]providers.Image{in})
	if len(out) != 1 {
		t.Fatalf("got %d images, want 1", len(out))
	}

	_, data, err := decodeDataURL(out[0].DataURL)
	if err != nil {
		t.Fatal(err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if got := decoded.Bounds().Dx(); got != MaxEdge {
		t.Errorf("long edge = %d, want %d", got, MaxEdge)
	}
	if decoded.Bounds().Dy() >= 128 && decoded.Bounds().Dy() > MaxEdge {
		t.Errorf("short edge not scaled: %d", decoded.Bounds().Dy())
	}
}

func TestNormalizeDropsNonImages(t *testing.T) {
	in := []providers.Image{
		{DataURL: "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hi"))},
		{DataURL: "data:image/png;base64,not-valid-base64!!!"},
		{DataURL: "no-scheme-at-all"},
		{DataURL: pngDataURL(t, 10, 10)},
	}
	out := Normalize(in)
	if len(out) != 1 {
		t.Fatalf("got %d images, want 1 survivor", len(out))
	}
	if !strings.HasPrefix(out[0].DataURL, "data:image/png;base64,") {
		t.Errorf("survivor dataURL = %q", out[0].DataURL)
	}
}

func TestDecodeDataURL(t *testing.T) {
	mediaType, data, err := decodeDataURL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8}))
	if err != nil {
		t.Fatal(err)
	}
	if mediaType != "image/jpeg" {
		t.Errorf("mediaType = %q", mediaType)
	}
	if !bytes.Equal(data, []byte{0xff, 0xd8}) {
		t.Errorf("data = %v", data)
	}
}
