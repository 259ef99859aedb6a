// Package media normalizes uploaded avatar images into square JPEGs.
package media

import (
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go-exam-portal/pkg/apierror"
)

const (
	DefaultAvatarSize = 256
	jpegQuality       = 90
)

type Normalizer struct {
	size int
}

func NewNormalizer(size int) *Normalizer {
	if size <= 0 {
		size = DefaultAvatarSize
	}
	return &Normalizer{size: size}
}

func (n *Normalizer) Size() int {
	return n.size
}

// Normalize decodes the image at srcPath, center-crops it to a square, scales
// it to the configured size and writes it as a JPEG next to the source. The
// caller owns the returned file.
func (n *Normalizer) Normalize(srcPath string) (string, error) {
	file, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open avatar upload: %w", err)
	}
	defer file.Close()

	mimeType, err := DetectMIMEFromFile(file)
	if err != nil {
		return "", fmt.Errorf("detect avatar type: %w", err)
	}

	if !IsDecodableMIME(mimeType) {
		if !strings.HasPrefix(mimeType, "application/octet-stream") || !IsDecodableExtension(filepath.Ext(srcPath)) {
			return "", apierror.New(apierror.CodeUnsupportedMedia, "avatar must be an image", mimeType, http.StatusUnsupportedMediaType)
		}
	}

	src, _, err := image.Decode(file)
	if err != nil {
		return "", apierror.New(apierror.CodeUnsupportedMedia, "cannot decode avatar image", err.Error(), http.StatusUnsupportedMediaType)
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return "", apierror.New(apierror.CodeUnsupportedMedia, "invalid avatar dimensions", "", http.StatusUnsupportedMediaType)
	}

	dst := image.NewRGBA(image.Rect(0, 0, n.size, n.size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, squareCrop(bounds), draw.Src, nil)

	out, err := os.CreateTemp(filepath.Dir(srcPath), "avatar-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create normalized avatar: %w", err)
	}

	encodeErr := jpeg.Encode(out, dst, &jpeg.Options{Quality: jpegQuality})
	closeErr := out.Close()
	if encodeErr != nil || closeErr != nil {
		_ = os.Remove(out.Name())
		if encodeErr != nil {
			return "", fmt.Errorf("encode avatar: %w", encodeErr)
		}
		return "", fmt.Errorf("close avatar: %w", closeErr)
	}

	return out.Name(), nil
}

func squareCrop(bounds image.Rectangle) image.Rectangle {
	side := min(bounds.Dx(), bounds.Dy())
	x0 := bounds.Min.X + (bounds.Dx()-side)/2
	y0 := bounds.Min.Y + (bounds.Dy()-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}
