package blob

import (
	"bytes"
	"errors"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen matches the mimetype library's default detection window.
const sniffLen = 3072

// octetStream is the generic fallback type; a declaration of it carries no
// information, so detection always wins over it.
const octetStream = "application/octet-stream"

// ContentValidator confirms a declared content type against the leading
// bytes of the stream. Strict mode rejects mismatches; non-strict mode
// prefers the declaration and only fills in blanks.
type ContentValidator struct {
	strict bool
}

// NewContentValidator returns a validator; strict controls whether a
// declared type that contradicts the sniffed type is an error.
func NewContentValidator(strict bool) *ContentValidator {
	return &ContentValidator{strict: strict}
}

// Confirm sniffs the stream head and reconciles it with the declared type.
// It returns the confirmed type and a reader that replays the consumed
// bytes followed by the rest of the stream.
func (v *ContentValidator) Confirm(reader io.Reader, declared string) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]
	replay := io.MultiReader(bytes.NewReader(head), reader)

	detected := mimetype.Detect(head).String()

	switch {
	case declared == "" || declared == octetStream:
		return detected, replay, nil
	case !v.strict:
		return declared, replay, nil
	case mimetype.EqualsAny(declared, detected):
		return declared, replay, nil
	}

	// Sniffing cannot distinguish many text-based formats (poms, checksums,
	// metadata files all detect as text/plain); accept any text declaration
	// over a text detection.
	if isTextual(declared) && isTextual(detected) {
		return declared, replay, nil
	}

	return "", nil, InvalidContentError{Declared: declared, Detected: detected}
}

func isTextual(contentType string) bool {
	mt := mimetype.Lookup(contentType)
	for ; mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}
