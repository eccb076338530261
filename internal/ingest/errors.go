package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the parent of every rejection caused by the upload itself.
	ErrValidation = errors.New("invalid upload")
	// ErrTooLarge rejects uploads over the configured size limit.
	ErrTooLarge = fmt.Errorf("%w: file too large", ErrValidation)
	// ErrInvalidFormat rejects uploads whose content type is not accepted.
	ErrInvalidFormat = fmt.Errorf("%w: invalid file format", ErrValidation)
	// ErrAborted reports that the upload body could not be read to the end.
	ErrAborted = errors.New("upload aborted")
)
