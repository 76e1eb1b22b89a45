// Package health reads device vitals. Its main customer is the transfer
// engine, which picks disk-staged vs streaming based on scratch headroom.
package health

import (
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/uball/court-agent/internal/logging"
)

var log = logging.L("health")

// stagingHeadroom is how much larger than the chapter the scratch volume's
// free space must be before the disk-staged path is chosen. The margin covers
// concurrent log growth and filesystem overhead.
const stagingHeadroom = 1.2

// DiskChecker answers whether the scratch volume can stage a download.
type DiskChecker struct {
	path string

	// usage is swappable in tests.
	usage func(path string) (*disk.UsageStat, error)
}

// NewDiskChecker watches the volume holding path.
func NewDiskChecker(path string) *DiskChecker {
	return &DiskChecker{path: path, usage: disk.Usage}
}

// FreeBytes returns the scratch volume's free space. Zero on probe failure.
func (d *DiskChecker) FreeBytes() uint64 {
	st, err := d.usage(d.path)
	if err != nil {
		log.Warn("scratch volume probe failed", "path", d.path, "error", err)
		return 0
	}
	return st.Free
}

// CanStage reports whether a chapter of the given size fits on scratch with
// headroom. A failed probe reports false, pushing the transfer to the
// streaming path which needs no local disk.
func (d *DiskChecker) CanStage(chapterBytes int64) bool {
	if chapterBytes <= 0 {
		return true
	}
	free := d.FreeBytes()
	return float64(free) >= float64(chapterBytes)*stagingHeadroom
}

// Vitals is a point-in-time device health snapshot for the status surface.
type Vitals struct {
	ScratchFreeBytes uint64  `json:"scratchFreeBytes"`
	ScratchUsedPct   float64 `json:"scratchUsedPct"`
	MemoryUsedPct    float64 `json:"memoryUsedPct"`
	UptimeSeconds    uint64  `json:"uptimeSeconds"`
	KernelArch       string  `json:"kernelArch,omitempty"`
}

// Snapshot gathers vitals. Individual probe failures leave zero values rather
// than failing the snapshot.
func (d *DiskChecker) Snapshot() Vitals {
	var v Vitals

	if st, err := d.usage(d.path); err == nil {
		v.ScratchFreeBytes = st.Free
		v.ScratchUsedPct = st.UsedPercent
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		v.MemoryUsedPct = vm.UsedPercent
	}
	if up, err := host.Uptime(); err == nil {
		v.UptimeSeconds = up
	}
	if info, err := host.Info(); err == nil {
		v.KernelArch = info.KernelArch
	}

	return v
}
