package core

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageCorruption marks a slot whose payload is not a JSON array of objects.
	// Readers recover by treating the slot as empty.
	ErrStorageCorruption = errors.New("storage corruption")
	// ErrImportParse marks an import payload that could not be interpreted.
	ErrImportParse = errors.New("import parse error")
	// ErrUnsupportedFormat marks an import file with a non-JSON extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrExportNotReady is returned while export capabilities are still loading.
	ErrExportNotReady = errors.New("export capabilities not loaded")
	// ErrExportFailed wraps any failure during rasterization or assembly.
	ErrExportFailed = errors.New("export failed")
	// ErrUnknownCategory is returned for category names without a descriptor.
	ErrUnknownCategory = errors.New("unknown category")
)

// ImportError describes why an import payload was rejected.
type ImportError struct {
	Filename string
	Index    int
	Reason   string
}

func (e *ImportError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("import %s: element %d: %s", e.Filename, e.Index, e.Reason)
	}
	return fmt.Sprintf("import %s: %s", e.Filename, e.Reason)
}

// Unwrap lets errors.Is match ErrImportParse.
func (e *ImportError) Unwrap() error { return ErrImportParse }

// CorruptionError reports the slot whose payload failed to decode.
type CorruptionError struct {
	Key string
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("slot %s: %v", e.Key, e.Err)
}

func (e *CorruptionError) Unwrap() []error { return []error{ErrStorageCorruption, e.Err} }
