//go:build linux

package pty

import (
	"fmt"
	"os"
	"strconv"
)

// NewCwdProber returns a prober that resolves /proc/<pid>/cwd.
func NewCwdProber() CwdProber {
	return procProber{root: "/proc"}
}

type procProber struct {
	root string
}

func (p procProber) Cwd(pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("invalid pid %d", pid)
	}
	return os.Readlink(p.root + "/" + strconv.Itoa(pid) + "/cwd")
}
