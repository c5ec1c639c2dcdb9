package ingest

import (
	"bytes"
	"context"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/core"
)

// Document is text extracted from an upload.
type Document struct {
	Text   string
	Source string
}

// Reader extracts text from a document of a given media type.
type Reader interface {
	Read(ctx context.Context, data []byte, filename string, mediaType string) (*Document, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, data []byte, filename string, mediaType string) (*Document, error)

func (f ReaderFunc) Read(ctx context.Context, data []byte, filename string, mediaType string) (*Document, error) {
	return f(ctx, data, filename, mediaType)
}

// OCR extracts printed or handwritten text from an image.
type OCR interface {
	ExtractText(ctx context.Context, data []byte, mediaType string) (string, error)
}

// TextReader reads UTF-8 text formats such as plain text, markdown and
// source code.
type TextReader struct{}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func (TextReader) Read(ctx context.Context, data []byte, filename string, mediaType string) (*Document, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, goerr.New("document is not valid UTF-8 text",
			goerr.V("filename", filename), goerr.V("media_type", mediaType), goerr.T(core.TagUnsupported))
	}
	return &Document{Text: string(data), Source: filename}, nil
}

// textMediaTypes are handled by TextReader unless overridden.
var textMediaTypes = []string{
	"text/plain",
	"text/markdown",
	"text/x-python",
	"text/javascript",
	"application/javascript",
	"application/json",
}
