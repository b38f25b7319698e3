// Package harness runs the staged compress/decompress/verify benchmark of a
// cascaded compression engine against one dataset.
package harness

import "time"

// MemoryUsage lists the device memory a phase needs, in bytes.
type MemoryUsage struct {
	Input  uint64 `json:"input_bytes"`
	Output uint64 `json:"output_bytes"`
	Temp   uint64 `json:"temp_bytes"`
}

// Total returns input + output + temp.
func (m MemoryUsage) Total() uint64 {
	return m.Input + m.Output + m.Temp
}

// Phase is the measured outcome of one GPU-bound phase.
type Phase struct {
	Bytes      uint64        `json:"bytes"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Throughput float64       `json:"throughput_gbs"`
}

// Result holds the structured output of a benchmark run.
type Result struct {
	Device            string       `json:"device"`
	Type              string       `json:"type"`
	Elements          int          `json:"elements"`
	UncompressedBytes uint64       `json:"uncompressed_bytes"`
	CompressedBytes   uint64       `json:"compressed_bytes"`
	Ratio             float64      `json:"compression_ratio"`
	Compress          Phase        `json:"compress"`
	Decompress        Phase        `json:"decompress"`
	CompressMemory    *MemoryUsage `json:"compress_memory,omitempty"`
	DecompressMemory  *MemoryUsage `json:"decompress_memory,omitempty"`
	Verified          bool         `json:"verified"`
}
