package core

import (
	"errors"
	"fmt"
)

var (
	ErrFileNotFound        = errors.New("file not found")
	ErrStatusConflict      = errors.New("file status conflict")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrExtraction          = errors.New("text extraction failed")
	ErrEmptyDocument       = fmt.Errorf("%w: no text could be extracted", ErrExtraction)
)
