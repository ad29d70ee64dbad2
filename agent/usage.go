package agent

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CPUUsage is host CPU utilisation since the previous sample.
type CPUUsage struct {
	Percent float64 `json:"percent"` // 100% = all cores busy
}

type MemoryUsage struct {
	TotalBytes     uint64 `json:"total_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
	UsedBytes      uint64 `json:"used_bytes"`

	ContainerUsageBytes *uint64 `json:"container_usage_bytes,omitempty"`
	ContainerLimitBytes *uint64 `json:"container_limit_bytes,omitempty"`
}

// Usage is attached to liveness messages so the manager can see how
// loaded a training host is.
type Usage struct {
	Timestamp time.Time   `json:"timestamp"`
	CPU       CPUUsage    `json:"cpu"`
	Memory    MemoryUsage `json:"memory"`
}

type usageCollector struct {
	mu sync.Mutex

	prevIdleJiffies  uint64
	prevTotalJiffies uint64
}

func newUsageCollector() *usageCollector {
	return &usageCollector{}
}

func (c *usageCollector) Collect() Usage {
	now := time.Now()

	cpu := CPUUsage{}
	mem := MemoryUsage{}

	if total, avail, ok := readMeminfo(); ok {
		mem.TotalBytes = total
		mem.AvailableBytes = avail
		if total >= avail {
			mem.UsedBytes = total - avail
		}
	}

	if usage, limit, ok := readCgroupMemory(); ok {
		mem.ContainerUsageBytes = &usage
		if limit > 0 {
			mem.ContainerLimitBytes = &limit
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if idleJ, totalJ, ok := readProcStatJiffies(); ok {
		if c.prevTotalJiffies > 0 && totalJ > c.prevTotalJiffies {
			idleDelta := float64(idleJ - c.prevIdleJiffies)
			totalDelta := float64(totalJ - c.prevTotalJiffies)
			cpu.Percent = (1 - idleDelta/totalDelta) * 100.0
		}
		c.prevIdleJiffies = idleJ
		c.prevTotalJiffies = totalJ
	}

	return Usage{
		Timestamp: now,
		CPU:       cpu,
		Memory:    mem,
	}
}

func readProcStatJiffies() (idle, total uint64, ok bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "cpu ") {
			parts := strings.Fields(sc.Text())[1:]
			var sum uint64
			for i, p := range parts {
				v, err := strconv.ParseUint(p, 10, 64)
				if err != nil {
					return 0, 0, false
				}
				sum += v
				// field 4 is idle, field 5 is iowait
				if i == 3 || i == 4 {
					idle += v
				}
			}

			return idle, sum, true
		}
	}

	return 0, 0, false
}

func readMeminfo() (total, available uint64, ok bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v * 1024
		case "MemAvailable:":
			available = v * 1024
		}
	}

	return total, available, total > 0
}

func readCgroupMemory() (usage, limit uint64, ok bool) {
	// cgroup v2.
	if u, err := readUintStrict("/sys/fs/cgroup/memory.current"); err == nil {
		if lim, ok := readCgroupV2Limit("/sys/fs/cgroup/memory.max"); ok {
			return u, lim, true
		}

		return u, 0, true
	}

	// cgroup v1.
	u, errU := readUintStrict("/sys/fs/cgroup/memory/memory.usage_in_bytes")
	lim, errL := readUintStrict("/sys/fs/cgroup/memory/memory.limit_in_bytes")
	if errU == nil && errL == nil {
		return u, lim, true
	}
	if errU == nil {
		return u, 0, true
	}

	return 0, 0, false
}

func readCgroupV2Limit(path string) (limit uint64, ok bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(b))
	if s == "" || s == "max" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

func readUintStrict(path string) (value uint64, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, errors.New("empty value")
	}

	return strconv.ParseUint(s, 10, 64)
}
