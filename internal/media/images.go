package media

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type decodedImage struct {
	name   string
	format string
	image  image.Image
}

type encodedImage struct {
	filename    string
	contentType string
	data        []byte
}

func decodeFile(in domain.InputRef) (decodedImage, error) {
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return decodedImage{}, fmt.Errorf("failed to read input %s: %w", in.Name, err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return decodedImage{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidMedia, in.Name, err)
	}
	return decodedImage{name: in.Name, format: format, image: img}, nil
}

// encodeImage keeps JPEG inputs as JPEG and writes everything else as PNG
func encodeImage(src decodedImage, img image.Image, quality int) (encodedImage, error) {
	var buf bytes.Buffer
	out := encodedImage{}

	if src.format == "jpeg" {
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return out, fmt.Errorf("failed to encode %s: %w", src.name, err)
		}
		out.filename = stem(src.name, "image") + "_blurred.jpg"
		out.contentType = ContentTypeJPEG
	} else {
		if err := png.Encode(&buf, img); err != nil {
			return out, fmt.Errorf("failed to encode %s: %w", src.name, err)
		}
		out.filename = stem(src.name, "image") + "_blurred.png"
		out.contentType = ContentTypePNG
	}

	out.data = buf.Bytes()
	return out, nil
}

// zipImages writes a deflated archive with unique entry names
func zipImages(items []encodedImage, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	used := make(map[string]bool, len(items))
	for _, item := range items {
		name := uniqueName(item.filename, used)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(item.data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// uniqueName appends _1, _2, ... before the extension until name is unused
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	used[candidate] = true
	return candidate
}
