package imagery

import (
	"mime"
	"strings"
)

// ProbeSuffixes are the file suffixes a cached image may be stored under,
// in lookup order.
var ProbeSuffixes = []string{".jpg", ".png", ".tiff", ".webp"}

var contentTypeSuffixes = []struct {
	format string
	suffix string
}{
	{format: "jpg", suffix: ".jpg"},
	{format: "jpeg", suffix: ".jpg"},
	{format: "png", suffix: ".png"},
	{format: "tiff", suffix: ".tiff"},
	{format: "webp", suffix: ".webp"},
}

// SuffixForContentType returns the file suffix used to store a payload of
// the given content type. ok is false for unsupported types.
func SuffixForContentType(contentType string) (suffix string, ok bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	mediaType = strings.ToLower(mediaType)

	for _, f := range contentTypeSuffixes {
		if strings.Contains(mediaType, f.format) {
			return f.suffix, true
		}
	}
	return "", false
}

// TrimSuffix returns the path without its file suffix.
func TrimSuffix(path string) string {
	slash := strings.LastIndexByte(path, '/')
	if dot := strings.LastIndexByte(path, '.'); dot > slash {
		return path[:dot]
	}
	return path
}

// ContentTypeForSuffix returns the media type of a stored file suffix.
func ContentTypeForSuffix(suffix string) string {
	switch strings.ToLower(suffix) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
