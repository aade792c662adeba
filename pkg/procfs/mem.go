package procfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var pageSize = uint64(os.Getpagesize())

// RSSBytes returns the resident set size for a single PID.
func RSSBytes(pid uint32) (uint64, error) {
	if pid == 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	data, err := procReadFile(filepath.Join("/proc", strconv.FormatUint(uint64(pid), 10), "statm"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("unexpected statm format for pid %d", pid)
	}
	rssPages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return rssPages * pageSize, nil
}

// RSSBytesForPIDs returns a PID->RSS map for the provided set. PIDs that
// cannot be read are left out.
func RSSBytesForPIDs(pids []uint32) map[uint32]uint64 {
	result := make(map[uint32]uint64, len(pids))
	for _, pid := range pids {
		if _, ok := result[pid]; ok || pid == 0 {
			continue
		}
		if rss, err := RSSBytes(pid); err == nil {
			result[pid] = rss
		}
	}
	return result
}

// TotalMemoryBytes reads MemTotal from /proc/meminfo.
func TotalMemoryBytes() (uint64, error) {
	data, err := procReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	return memTotal(string(data))
}

func memTotal(meminfo string) (uint64, error) {
	for _, line := range strings.Split(meminfo, "\n") {
		rest, ok := strings.CutPrefix(line, "MemTotal:")
		if !ok {
			continue
		}
		// the value is always reported in kB
		kb, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimSpace(rest), " kB"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing MemTotal: %w", err)
		}
		return kb << 10, nil
	}
	return 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
}
