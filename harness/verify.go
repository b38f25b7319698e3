package harness

import (
	"fmt"

	"github.com/weiihann/cascadebench/dataset"
)

// VerificationError reports a round trip that did not reproduce the input.
type VerificationError struct {
	Reason string
	// Index is the first mismatching element, or -1 for size mismatches.
	Index int
}

func (e *VerificationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("verification failed: %s at element %d", e.Reason, e.Index)
	}

	return "verification failed: " + e.Reason
}

// VerifySize checks the decompressed byte length against the original.
func VerifySize(got, want uint64) error {
	if got != want {
		return &VerificationError{
			Reason: fmt.Sprintf("decompressed result incorrect size: %d bytes, want %d", got, want),
			Index:  -1,
		}
	}

	return nil
}

// Verify checks that got is element-wise identical to want.
func Verify[T dataset.Element](want, got []T) error {
	if len(got) != len(want) {
		return &VerificationError{
			Reason: fmt.Sprintf("decompressed %d elements, want %d", len(got), len(want)),
			Index:  -1,
		}
	}

	for i := range want {
		if got[i] != want[i] {
			return &VerificationError{
				Reason: fmt.Sprintf("decompressed data does not match input: got %d, want %d", got[i], want[i]),
				Index:  i,
			}
		}
	}

	return nil
}
