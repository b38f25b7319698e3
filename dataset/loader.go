package dataset

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ErrEmpty is returned when a dataset holds no whole element after capping.
var ErrEmpty = errors.New("dataset has no elements")

// DatasetError reports a dataset that could not be loaded.
type DatasetError struct {
	Path string
	Err  error
}

func (e *DatasetError) Error() string {
	return fmt.Sprintf("dataset %s: %v", e.Path, e.Err)
}

func (e *DatasetError) Unwrap() error {
	return e.Err
}

// Load reads the raw binary file at path into a slice of T.
//
// A limit of 0 loads every whole element in the file. A positive limit loads
// at most that many elements; when the file holds fewer, the count is clamped
// to what is available and a warning is logged. Trailing bytes that do not
// form a whole element are ignored.
func Load[T Element](logger *slog.Logger, path string, limit int) ([]T, error) {
	if limit < 0 {
		return nil, &DatasetError{Path: path, Err: fmt.Errorf("negative element limit %d", limit)}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &DatasetError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &DatasetError{Path: path, Err: err}
	}

	if info.IsDir() {
		return nil, &DatasetError{Path: path, Err: errors.New("is a directory")}
	}

	width := Width[T]()
	available := int(info.Size() / int64(width))

	count := available
	if limit > 0 {
		count = min(limit, available)

		if limit > available {
			logger.Warn("element limit exceeds file contents, clamping",
				slog.String("path", path),
				slog.Int("requested", limit),
				slog.Int("available", available),
			)
		}
	}

	if count == 0 {
		return nil, &DatasetError{Path: path, Err: ErrEmpty}
	}

	data := make([]T, count)
	if _, err := io.ReadFull(f, AsBytes(data)); err != nil {
		return nil, &DatasetError{Path: path, Err: fmt.Errorf("read %d elements: %w", count, err)}
	}

	logger.Debug("dataset loaded",
		slog.String("path", path),
		slog.Int("elements", count),
		slog.Int("width", width),
	)

	return data, nil
}
