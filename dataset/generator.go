package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	mrand "math/rand"
	"slices"
)

// Config controls dataset generation parameters.
type Config struct {
	Count        int
	Type         Type
	MinRun       int
	MaxRun       int
	Distribution string
	Spread       int64
	Sorted       bool
	Seed         int64
}

// KnownDistributions returns the run length distributions Generate accepts.
// An empty Distribution means uniform.
func KnownDistributions() []string {
	return []string{"power-law", "exponential", "uniform"}
}

// Summary contains statistics about a generated dataset.
type Summary struct {
	Elements int
	Runs     int
	Bytes    int64
}

// Generator produces deterministic run-structured datasets from a Config.
// Values are drawn uniformly from [-Spread, Spread] and repeated in runs whose
// lengths follow the configured distribution.
type Generator struct {
	cfg Config
	rng *mrand.Rand
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	if cfg.MinRun < 1 {
		cfg.MinRun = 1
	}

	if cfg.MaxRun < cfg.MinRun {
		cfg.MaxRun = cfg.MinRun
	}

	return &Generator{
		cfg: cfg,
		rng: mrand.New(mrand.NewSource(cfg.Seed)),
	}
}

// Generate writes a raw native-endian dataset to w and returns a Summary.
func (g *Generator) Generate(w io.Writer) (Summary, error) {
	var summary Summary

	width := g.cfg.Type.Width()
	if width == 0 {
		return summary, fmt.Errorf("unknown element type %q", g.cfg.Type)
	}

	if g.cfg.Count < 0 {
		return summary, fmt.Errorf("negative element count %d", g.cfg.Count)
	}

	if g.cfg.Distribution != "" && !slices.Contains(KnownDistributions(), g.cfg.Distribution) {
		return summary, fmt.Errorf("unknown run length distribution %q", g.cfg.Distribution)
	}

	values := make([]int64, 0, g.cfg.Count)
	lo, hi := g.valueRange()

	for len(values) < g.cfg.Count {
		run := min(g.runLength(), g.cfg.Count-len(values))
		v := lo + g.rng.Int63n(hi-lo+1)

		for i := 0; i < run; i++ {
			values = append(values, v)
		}

		summary.Runs++
	}

	if g.cfg.Sorted {
		slices.Sort(values)
	}

	bw := bufio.NewWriter(w)
	buf := make([]byte, width)

	for _, v := range values {
		switch width {
		case 1:
			buf[0] = byte(int8(v))
		case 2:
			binary.NativeEndian.PutUint16(buf, uint16(int16(v)))
		case 4:
			binary.NativeEndian.PutUint32(buf, uint32(int32(v)))
		case 8:
			binary.NativeEndian.PutUint64(buf, uint64(v))
		}

		if _, err := bw.Write(buf); err != nil {
			return summary, fmt.Errorf("write element %d: %w", summary.Elements, err)
		}

		summary.Elements++
		summary.Bytes += int64(width)
	}

	if err := bw.Flush(); err != nil {
		return summary, fmt.Errorf("flush dataset: %w", err)
	}

	return summary, nil
}

// valueRange clamps [-Spread, Spread] to what the element type can hold.
func (g *Generator) valueRange() (int64, int64) {
	spread := g.cfg.Spread
	if spread < 0 {
		spread = -spread
	}

	var limit int64
	switch g.cfg.Type.Width() {
	case 1:
		limit = math.MaxInt8
	case 2:
		limit = math.MaxInt16
	case 4:
		limit = math.MaxInt32
	default:
		limit = math.MaxInt64 / 2
	}

	spread = min(spread, limit)

	return -spread, spread
}

func (g *Generator) runLength() int {
	minRun, maxRun := g.cfg.MinRun, g.cfg.MaxRun

	switch g.cfg.Distribution {
	case "power-law":
		alpha := 1.5
		u := g.rng.Float64()
		n := float64(minRun) / math.Pow(1-u, 1/alpha)

		return max(minRun, int(math.Min(n, float64(maxRun))))

	case "exponential":
		lambda := math.Log(2) / math.Max(float64(maxRun)/4, 1)
		u := g.rng.Float64()
		n := -math.Log(1-u) / lambda

		return int(math.Max(float64(minRun), math.Min(n, float64(maxRun))))

	default:
		return minRun + g.rng.Intn(maxRun-minRun+1)
	}
}
