// Package procfs resolves process labels from /proc.
package procfs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procReadFile allows tests to stub reading /proc/PID/comm.
var procReadFile = os.ReadFile

// CStr converts a NUL-terminated kernel buffer to a string.
func CStr(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n == -1 {
		return string(b)
	}
	return string(b[:n])
}

// CommCache remembers /proc/PID/comm lookups for one rendering pass. It is
// not safe for concurrent use.
type CommCache struct {
	names map[uint32]string
}

// NewCommCache returns an empty cache.
func NewCommCache() *CommCache {
	return &CommCache{names: make(map[uint32]string)}
}

// Comm returns the command name of pid, "idle" for pid 0, or "pid-N" when
// /proc has nothing useful. Failures are cached too.
func (c *CommCache) Comm(pid uint32) string {
	if pid == 0 {
		return "idle"
	}
	if name, ok := c.names[pid]; ok {
		return name
	}
	path := filepath.Join("/proc", strconv.FormatUint(uint64(pid), 10), "comm")
	data, err := procReadFile(path)
	if err != nil {
		name := fmt.Sprintf("pid-%d", pid)
		c.names[pid] = name
		return name
	}
	comm := strings.TrimSpace(string(data))
	if comm == "" {
		comm = fmt.Sprintf("pid-%d", pid)
	}
	c.names[pid] = comm
	return comm
}

// Alive reports whether /proc still lists pid.
func Alive(pid uint32) bool {
	_, err := os.Stat(filepath.Join("/proc", strconv.FormatUint(uint64(pid), 10)))
	return err == nil
}
