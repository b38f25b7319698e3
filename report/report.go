// Package report formats benchmark results for the console.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/weiihann/cascadebench/harness"
)

// Console writes the line-oriented benchmark report as events arrive.
type Console struct {
	w io.Writer
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Uncompressed(bytes uint64) {
	fmt.Fprintln(c.w, "----------")
	fmt.Fprintf(c.w, "uncompressed (B): %d\n", bytes)
}

func (c *Console) CompressMemory(usage harness.MemoryUsage) {
	fmt.Fprintf(c.w, "compression memory (input+output+temp) (B): %d\n", usage.Total())
	fmt.Fprintf(c.w, "compression temp space (B): %d\n", usage.Temp)
	fmt.Fprintf(c.w, "compression output space (B): %d\n", usage.Output)
}

func (c *Console) Compressed(compressedBytes uint64, ratio float64, phase harness.Phase) {
	fmt.Fprintf(c.w, "comp_size: %d, compressed ratio: %s\n", compressedBytes, formatRatio(ratio))
	fmt.Fprintf(c.w, "compression throughput (GB/s): %s\n", formatThroughput(phase.Throughput))
}

func (c *Console) DecompressMemory(usage harness.MemoryUsage) {
	fmt.Fprintf(c.w, "decompression memory (input+output+temp) (B): %d\n", usage.Total())
	fmt.Fprintf(c.w, "decompression temp space (B): %d\n", usage.Temp)
	fmt.Fprintf(c.w, "decompression output space (B): %d\n", usage.Output)
}

func (c *Console) Decompressed(phase harness.Phase) {
	fmt.Fprintf(c.w, "decompression throughput (GB/s): %s\n", formatThroughput(phase.Throughput))
}

// GenerateJSON writes the result as JSON to w.
func GenerateJSON(w io.Writer, result *harness.Result) error {
	if result == nil {
		return fmt.Errorf("no result to report")
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(result)
}

func formatRatio(r float64) string {
	return fmt.Sprintf("%.2f", r)
}

// formatThroughput keeps sub-0.01 GB/s figures visible for small datasets.
func formatThroughput(gbs float64) string {
	if gbs > 0 && gbs < 0.01 {
		return fmt.Sprintf("%.2e", gbs)
	}

	return fmt.Sprintf("%.2f", gbs)
}
