package media

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Kind classifies an upload by its content
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// sniffLen is the minimum header size Sniff will classify
const sniffLen = 12

// Sniff detects the media kind and canonical extension from magic bytes
func Sniff(data []byte) (Kind, string, bool) {
	if len(data) < sniffLen {
		return "", "", false
	}

	switch {
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return KindImage, "jpg", true
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return KindImage, "png", true
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return KindImage, "gif", true
	case bytes.HasPrefix(data, []byte("BM")):
		return KindImage, "bmp", true
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return KindImage, "tiff", true
	case bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return KindImage, "webp", true
	case string(data[4:8]) == "ftyp":
		if string(data[8:12]) == "qt  " {
			return KindVideo, "mov", true
		}
		return KindVideo, "mp4", true
	case bytes.HasPrefix(data, []byte("\x1a\x45\xdf\xa3")):
		doc := data[:min(len(data), 128)]
		if bytes.Contains(bytes.ToLower(doc), []byte("webm")) {
			return KindVideo, "webm", true
		}
		return KindVideo, "mkv", true
	case bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "AVI ":
		return KindVideo, "avi", true
	}
	return "", "", false
}

// Extension returns the lower-cased extension of name without the dot
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// ExtensionMatches reports whether a declared extension agrees with the sniffed one
func ExtensionMatches(declared, detected string) bool {
	declared = canonical(declared)
	detected = canonical(detected)
	if declared == detected {
		return true
	}
	return matroska(declared) && matroska(detected)
}

func canonical(ext string) string {
	switch ext {
	case "jpeg", "jpe":
		return "jpg"
	case "tif":
		return "tiff"
	}
	return ext
}

func matroska(ext string) bool {
	return ext == "mkv" || ext == "webm"
}
