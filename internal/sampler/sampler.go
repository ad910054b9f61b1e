// Package sampler tracks peak CPU and memory use of a sandbox from the
// runtime's live statistics stream.
package sampler

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/docker/docker/api/types/container"
)

// Sampler consumes newline-delimited statistics frames and keeps the
// highest CPU percentage and resident memory it has seen. A frame that
// fails to parse is skipped; the stream is never aborted from this side.
type Sampler struct {
	peakCPUPct   float64
	peakMemoryMB float64
}

func New() *Sampler {
	return &Sampler{}
}

// Run reads frames until the stream is closed. Peaks may be read only
// after Run has returned.
func (s *Sampler) Run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame container.StatsResponse
		if err := json.Unmarshal(line, &frame); err != nil {
			continue
		}
		s.observe(&frame)
	}
	// A read error ends sampling the same way EOF does; whatever peaks
	// were observed up to that point stand.
}

func (s *Sampler) observe(frame *container.StatsResponse) {
	cpuDelta := float64(frame.CPUStats.CPUUsage.TotalUsage) - float64(frame.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(frame.CPUStats.SystemUsage) - float64(frame.PreCPUStats.SystemUsage)

	// A non-positive system delta would make the quotient meaningless, so
	// such a sample is skipped. A frame with zero previous totals is still
	// counted: its deltas are its running totals.
	if sysDelta > 0 && cpuDelta >= 0 {
		cpuPct := (cpuDelta / sysDelta) * float64(frame.CPUStats.OnlineCPUs) * 100
		if cpuPct > s.peakCPUPct {
			s.peakCPUPct = cpuPct
		}
	}

	memMB := float64(frame.MemoryStats.Usage) / (1024 * 1024)
	if memMB > s.peakMemoryMB {
		s.peakMemoryMB = memMB
	}
}

func (s *Sampler) PeakCPUPct() float64   { return s.peakCPUPct }
func (s *Sampler) PeakMemoryMB() float64 { return s.peakMemoryMB }
