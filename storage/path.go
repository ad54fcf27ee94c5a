package storage

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Classification buckets objects are sharded into.
const (
	ClassImages    = "images"
	ClassDocuments = "documents"
	ClassVideos    = "videos"
	ClassAudios    = "audios"
	ClassArchives  = "archives"
	ClassOther     = "other"
)

var extensionClasses = map[string]string{
	"jpg": ClassImages, "jpeg": ClassImages, "png": ClassImages, "gif": ClassImages,
	"bmp": ClassImages, "webp": ClassImages, "svg": ClassImages, "ico": ClassImages,
	"tif": ClassImages, "tiff": ClassImages, "heic": ClassImages, "avif": ClassImages,

	"pdf": ClassDocuments, "doc": ClassDocuments, "docx": ClassDocuments, "xls": ClassDocuments,
	"xlsx": ClassDocuments, "ppt": ClassDocuments, "pptx": ClassDocuments, "txt": ClassDocuments,
	"md": ClassDocuments, "csv": ClassDocuments, "rtf": ClassDocuments, "odt": ClassDocuments,
	"json": ClassDocuments, "xml": ClassDocuments, "html": ClassDocuments,

	"mp4": ClassVideos, "avi": ClassVideos, "mov": ClassVideos, "wmv": ClassVideos,
	"flv": ClassVideos, "mkv": ClassVideos, "webm": ClassVideos, "m4v": ClassVideos,

	"mp3": ClassAudios, "wav": ClassAudios, "flac": ClassAudios, "aac": ClassAudios,
	"ogg": ClassAudios, "wma": ClassAudios, "m4a": ClassAudios,

	"zip": ClassArchives, "rar": ClassArchives, "7z": ClassArchives, "tar": ClassArchives,
	"gz": ClassArchives, "bz2": ClassArchives, "xz": ClassArchives,
}

const maxExtensionLen = 16

// Extension returns the lower-cased extension of fileName without the dot,
// restricted to [a-z0-9]. Returns "" when there is none.
func Extension(fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	idx := strings.LastIndex(base, ".")
	if idx < 0 || idx == len(base)-1 {
		return ""
	}
	ext := strings.ToLower(base[idx+1:])
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxExtensionLen {
		out = out[:maxExtensionLen]
	}
	return out
}

// Classify maps a file name to its classification bucket by extension.
// Unknown and missing extensions classify as "other".
func Classify(fileName string) string {
	if class, ok := extensionClasses[Extension(fileName)]; ok {
		return class
	}
	return ClassOther
}

// NormalizeKey joins parts into a slash separated key. Empty, "." and ".."
// segments are dropped, so the result never escapes its root and never starts or
// ends with a slash.
func NormalizeKey(parts ...string) string {
	segments := make([]string, 0, len(parts)*2)
	for _, part := range parts {
		for _, seg := range strings.Split(strings.ReplaceAll(part, "\\", "/"), "/") {
			seg = strings.TrimSpace(seg)
			if seg == "" || seg == "." || seg == ".." {
				continue
			}
			segments = append(segments, seg)
		}
	}
	return strings.Join(segments, "/")
}

// JoinURL joins a base URL and an object key with exactly one slash.
func JoinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + NormalizeKey(key)
}

// PathBuilder builds deterministic object keys. Now and NewID are replaceable
// for tests.
type PathBuilder struct {
	Now   func() time.Time
	NewID func() string
}

// NewPathBuilder returns a builder using the wall clock and ULIDs.
func NewPathBuilder() *PathBuilder {
	return &PathBuilder{
		Now: time.Now,
		NewID: func() string {
			return strings.ToLower(ulid.Make().String())
		},
	}
}

// Build returns [prefix/]{classification}/{yyyy}/{mm}/{dd}/{unique}[.ext].
// The unique component never derives from fileName.
func (b *PathBuilder) Build(prefix, fileName string) string {
	now := b.Now()
	name := b.NewID()
	if ext := Extension(fileName); ext != "" {
		name += "." + ext
	}
	return NormalizeKey(
		prefix,
		Classify(fileName),
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", int(now.Month())),
		fmt.Sprintf("%02d", now.Day()),
		name,
	)
}
