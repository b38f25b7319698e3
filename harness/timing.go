package harness

import "time"

// Sample brackets one stream-synchronized phase with monotonic timestamps.
type Sample struct {
	start time.Time
	stop  time.Time
}

// StartSample records the start timestamp.
func StartSample() Sample {
	return Sample{start: time.Now()}
}

// Stop records the stop timestamp.
func (s *Sample) Stop() {
	s.stop = time.Now()
}

// Elapsed returns the measured interval, never less than one nanosecond so
// derived throughput stays finite.
func (s Sample) Elapsed() time.Duration {
	return max(s.stop.Sub(s.start), time.Nanosecond)
}

// Throughput returns bytes per second in decimal gigabytes.
func (s Sample) Throughput(bytes uint64) float64 {
	return float64(bytes) / 1e9 / s.Elapsed().Seconds()
}

// Phase summarises the sample for a phase that processed bytes.
func (s Sample) Phase(bytes uint64) Phase {
	return Phase{
		Bytes:      bytes,
		Elapsed:    s.Elapsed(),
		Throughput: s.Throughput(bytes),
	}
}

// Ratio returns original/compressed, or 0 when nothing was produced.
func Ratio(original, compressed uint64) float64 {
	if compressed == 0 {
		return 0
	}

	return float64(original) / float64(compressed)
}
