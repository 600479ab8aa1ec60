package constants

import (
	"path/filepath"
	"strings"
)

// MaxUploadBytes is the default per-file upload cap.
const MaxUploadBytes = 10 << 20

// ArchiveName is the attachment name used when streaming a batch result.
const ArchiveName = "redacted_files.zip"

// AllowedExtensions holds the image extensions accepted for redaction.
var AllowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
}

// AllowedContentTypes holds the sniffed content types accepted for redaction.
var AllowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// AllowedExt checks if a file extension is in the allowed set.
func AllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// ContentTypeForExt returns the content type stored alongside a blob.
func ContentTypeForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	case "zip":
		return "application/zip"
	}
	return "application/octet-stream"
}

// RedactedName derives the output filename for an original upload.
// ext overrides the original extension when the output format differs.
func RedactedName(filename, ext string) string {
	base := filepath.Base(filename)
	origExt := filepath.Ext(base)
	stem := strings.TrimSuffix(base, origExt)
	if ext == "" {
		ext = origExt
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return stem + "_redacted" + ext
}
