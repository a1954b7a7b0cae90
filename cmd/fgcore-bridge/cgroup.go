package main

import (
	"os"
	"strconv"
	"strings"
)

// memoryLimitFromCgroup returns the container memory limit in bytes,
// read from the cgroup filesystem so the binary can size its client
// backlog to what the container actually has available rather than
// the host's full memory.
//
// Tries cgroup v2 (/sys/fs/cgroup/memory.max) first, falls back to
// cgroup v1 (/sys/fs/cgroup/memory/memory.limit_in_bytes). Returns 0,
// nil when no cgroup memory limit file can be read (bare metal, VMs,
// or a v2 limit of "max" with no v1 file) rather than treating that as
// an error. An unconstrained cgroup v1 container's very large sentinel
// limit is returned as is.
func memoryLimitFromCgroup() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
	}
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	}
	return 0, nil
}

// calculateClientBacklog derives a safe per-client bounded-queue
// backlog size from the detected memory limit, the same sizing
// exercise the teacher applied to its own connection cap: reserve a
// runtime overhead budget, then divide what's left by a per-client
// estimate, clamped to a sane range.
func calculateClientBacklog(memoryLimitBytes int64) int {
	const (
		runtimeOverheadBytes = 128 * 1024 * 1024
		bytesPerClient       = 32 * 1024
		minBacklog           = 16
		maxBacklog           = 4096
	)
	if memoryLimitBytes == 0 {
		return 256
	}
	available := memoryLimitBytes - runtimeOverheadBytes
	if available < 0 {
		available = memoryLimitBytes / 2
	}
	backlog := int(available / bytesPerClient)
	if backlog < minBacklog {
		backlog = minBacklog
	}
	if backlog > maxBacklog {
		backlog = maxBacklog
	}
	return backlog
}
