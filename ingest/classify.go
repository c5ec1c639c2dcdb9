package ingest

import (
	"mime"
	"path/filepath"
	"strings"
)

// Class is the processing route for an upload.
type Class int

const (
	ClassUnsupported Class = iota
	ClassDocument
	ClassImage
	ClassTabular
)

func (c Class) String() string {
	switch c {
	case ClassDocument:
		return "document"
	case ClassImage:
		return "image"
	case ClassTabular:
		return "tabular"
	default:
		return "unsupported"
	}
}

// mediaTypes maps extensions to the media types accepted for upload. The
// table is consulted before the platform MIME database so classification
// does not depend on the host.
var mediaTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".rtf":  "application/rtf",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".csv":  "text/csv",
	".py":   "text/x-python",
	".js":   "text/javascript",
	".json": "application/json",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

// MediaType guesses the media type of filename from its extension.
// Unknown extensions return "".
func MediaType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}
	if mt, ok := mediaTypes[ext]; ok {
		return mt
	}
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		return ""
	}
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return mt
}

// Classify returns the media type of filename and the route it takes.
func Classify(filename string) (string, Class) {
	mt := MediaType(filename)
	switch {
	case mt == "":
		return "", ClassUnsupported
	case mt == "text/csv":
		return mt, ClassTabular
	case strings.HasPrefix(mt, "image/"):
		return mt, ClassImage
	case isSupportedDocument(mt):
		return mt, ClassDocument
	default:
		return mt, ClassUnsupported
	}
}

func isSupportedDocument(mt string) bool {
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	for _, v := range mediaTypes {
		if v == mt {
			return true
		}
	}
	return false
}
