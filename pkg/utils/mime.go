package utils

import (
	"net/http"
	"os"
	"strings"
)

// Image formats the service is willing to produce. Everything else is
// rejected before any upstream call is made.
var supportedFormats = map[string]struct {
	Mime string
	Ext  string
}{
	"png":  {"image/png", ".png"},
	"jpeg": {"image/jpeg", ".jpg"},
	"webp": {"image/webp", ".webp"},
}

// IsSupportedFormat reports whether the named output format is one of the
// fixed set png/jpeg/webp. Case-insensitive; "jpg" is accepted as "jpeg".
func IsSupportedFormat(format string) bool {
	_, ok := supportedFormats[NormalizeFormat(format)]
	return ok
}

// NormalizeFormat lowercases the format name and folds "jpg" into "jpeg".
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "jpg" {
		f = "jpeg"
	}
	return f
}

// MimeForFormat returns the MIME type for a supported output format,
// defaulting to image/png.
func MimeForFormat(format string) string {
	if e, ok := supportedFormats[NormalizeFormat(format)]; ok {
		return e.Mime
	}
	return "image/png"
}

// ExtForFormat returns the file extension (with dot) for a supported output
// format, defaulting to ".png".
func ExtForFormat(format string) string {
	if e, ok := supportedFormats[NormalizeFormat(format)]; ok {
		return e.Ext
	}
	return ".png"
}

// FormatForMime maps an image MIME type back to its format name. Returns
// "png" for anything unrecognized so a payload always lands somewhere.
func FormatForMime(mimeType string) string {
	for name, e := range supportedFormats {
		if e.Mime == strings.ToLower(mimeType) {
			return name
		}
	}
	return "png"
}

// DetectFileMime analyzes a file on disk to determine its MIME type.
// It returns "application/octet-stream" if identification fails.
func DetectFileMime(filePath string) string {
	f, err := os.Open(filePath)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil || n == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(buffer[:n])
}

// DetectMime analyzes a byte slice to determine its MIME type.
func DetectMime(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
