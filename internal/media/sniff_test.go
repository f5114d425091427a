package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func pad(header string) []byte {
	b := make([]byte, 32)
	copy(b, header)
	return b
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantKind Kind
		wantExt  string
		wantOK   bool
	}{
		{name: "jpeg", data: pad("\xff\xd8\xff\xe0"), wantKind: KindImage, wantExt: "jpg", wantOK: true},
		{name: "png", data: pad("\x89PNG\r\n\x1a\n"), wantKind: KindImage, wantExt: "png", wantOK: true},
		{name: "gif", data: pad("GIF89a"), wantKind: KindImage, wantExt: "gif", wantOK: true},
		{name: "bmp", data: pad("BM"), wantKind: KindImage, wantExt: "bmp", wantOK: true},
		{name: "tiff little endian", data: pad("II*\x00"), wantKind: KindImage, wantExt: "tiff", wantOK: true},
		{name: "webp", data: pad("RIFF\x00\x00\x00\x00WEBP"), wantKind: KindImage, wantExt: "webp", wantOK: true},
		{name: "mp4", data: pad("\x00\x00\x00\x18ftypisom"), wantKind: KindVideo, wantExt: "mp4", wantOK: true},
		{name: "mov", data: pad("\x00\x00\x00\x14ftypqt  "), wantKind: KindVideo, wantExt: "mov", wantOK: true},
		{name: "webm", data: pad("\x1a\x45\xdf\xa3\x9f\x42\x86\x81\x01B\x82\x84webm"), wantKind: KindVideo, wantExt: "webm", wantOK: true},
		{name: "mkv", data: pad("\x1a\x45\xdf\xa3\x9f\x42\x86\x81\x01B\x82\x88matroska"), wantKind: KindVideo, wantExt: "mkv", wantOK: true},
		{name: "avi", data: pad("RIFF\x00\x00\x00\x00AVI "), wantKind: KindVideo, wantExt: "avi", wantOK: true},
		{name: "too short", data: []byte("\xff\xd8\xff"), wantOK: false},
		{name: "text", data: pad("hello, world"), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ext, ok := Sniff(tt.data)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}

func TestExtensionMatches(t *testing.T) {
	assert.True(t, ExtensionMatches("jpeg", "jpg"))
	assert.True(t, ExtensionMatches("tif", "tiff"))
	assert.True(t, ExtensionMatches("webm", "mkv"))
	assert.True(t, ExtensionMatches("png", "png"))
	assert.False(t, ExtensionMatches("png", "jpg"))
	assert.False(t, ExtensionMatches("mp4", "mov"))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", Extension("Holiday.JPG"))
	assert.Equal(t, "", Extension("README"))
	assert.Equal(t, "gz", Extension("a.tar.gz"))
}
