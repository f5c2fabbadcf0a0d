package assistant

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const defaultImageMIME = "image/jpeg"

// ImageDataURI encodes raw image bytes as a data URI. The media type is
// sniffed; anything that does not look like an image is labelled JPEG,
// which is what Telegram serves for photos.
func ImageDataURI(image []byte) string {
	mime := http.DetectContentType(image)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = defaultImageMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}
