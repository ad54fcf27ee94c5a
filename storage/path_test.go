package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtensionAndClassify(t *testing.T) {
	tests := []struct {
		fileName string
		ext      string
		class    string
	}{
		{"photo.JPG", "jpg", ClassImages},
		{"report.final.pdf", "pdf", ClassDocuments},
		{"clip.mp4", "mp4", ClassVideos},
		{"song.flac", "flac", ClassAudios},
		{"backup.tar.gz", "gz", ClassArchives},
		{"binary", "", ClassOther},
		{"trailing.", "", ClassOther},
		{"weird.p@n!g", "png", ClassImages},
		{`C:\Users\me\notes.txt`, "txt", ClassDocuments},
		{"../../etc/passwd", "", ClassOther},
		{"data.unknownext", "unknownext", ClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			assert.Equal(t, tt.ext, Extension(tt.fileName))
			assert.Equal(t, tt.class, Classify(tt.fileName))
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"plain", []string{"images/2026/a.png"}, "images/2026/a.png"},
		{"leading and trailing slashes", []string{"/a/b/"}, "a/b"},
		{"dot segments dropped", []string{"a/./../b"}, "a/b"},
		{"only traversal", []string{"../.."}, ""},
		{"backslashes", []string{`a\b\c.txt`}, "a/b/c.txt"},
		{"joined parts", []string{"prefix/", "", "/images", "x.png"}, "prefix/images/x.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKey(tt.parts...))
		})
	}
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a/b.png", JoinURL("https://cdn.example.com/", "/a/b.png"))
	assert.Equal(t, "https://cdn.example.com/a/b.png", JoinURL("https://cdn.example.com", "a/b.png"))
}

func TestPathBuilder(t *testing.T) {
	fixed := time.Date(2026, time.March, 7, 12, 0, 0, 0, time.UTC)
	b := &PathBuilder{
		Now:   func() time.Time { return fixed },
		NewID: func() string { return "01hxyz" },
	}

	assert.Equal(t, "images/2026/03/07/01hxyz.png", b.Build("", "Holiday Photo.PNG"))
	assert.Equal(t, "tenant-a/documents/2026/03/07/01hxyz.pdf", b.Build("/tenant-a/", "cv.pdf"))
	assert.Equal(t, "other/2026/03/07/01hxyz", b.Build("", "README"))
	// The file name never leaks into the key.
	assert.Equal(t, "other/2026/03/07/01hxyz", b.Build("", "../../secret"))
}

func TestNewPathBuilderUnique(t *testing.T) {
	b := NewPathBuilder()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := b.Build("", "a.txt")
		assert.False(t, seen[key], key)
		assert.Equal(t, strings.ToLower(key), key)
		seen[key] = true
	}
}
