package harness

import (
	"errors"
	"fmt"

	"github.com/weiihann/cascadebench/codec"
	"github.com/weiihann/cascadebench/dataset"
)

// Config holds parameters for a single benchmark execution. It is built once
// from the command line and not modified afterwards.
type Config struct {
	Path          string
	Type          dataset.Type
	Options       codec.Options
	Sort          bool
	Size          int
	Device        int
	VerboseMemory bool
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("dataset filename is required")
	}

	if c.Type.Width() == 0 {
		return fmt.Errorf("unknown element type %q", c.Type)
	}

	if c.Options.RLEs < 0 {
		return fmt.Errorf("rles must be >= 0, got %d", c.Options.RLEs)
	}

	if c.Options.Deltas < 0 {
		return fmt.Errorf("deltas must be >= 0, got %d", c.Options.Deltas)
	}

	if c.Size < 0 {
		return fmt.Errorf("size must be >= 0, got %d", c.Size)
	}

	if c.Device < 0 {
		return fmt.Errorf("gpu must be >= 0, got %d", c.Device)
	}

	return nil
}
