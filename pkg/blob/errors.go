package blob

import (
	"errors"
	"fmt"
)

// ErrBlobStore is returned when a blob store operation fails.
var ErrBlobStore = errors.New("blob store error")

// NotFoundError is returned when the requested blob does not exist.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("blob not found: %s", e.ID)
}

// InvalidContentError is returned when content validation rejects a stream.
type InvalidContentError struct {
	Declared string
	Detected string
}

func (e InvalidContentError) Error() string {
	return fmt.Sprintf("invalid content: declared %s, detected %s", e.Declared, e.Detected)
}
