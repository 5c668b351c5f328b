package storage

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	hostIDOnce  sync.Once
	hostIDValue string
)

// hostID returns a best-effort machine identifier recorded with each run so a
// shared state database can tell build hosts apart. Falls back to hostname.
func hostID() string {
	hostIDOnce.Do(func() {
		hostIDValue = lookupHostID()
		if hostIDValue == "" {
			hostIDValue, _ = os.Hostname()
		}
	})
	return hostIDValue
}

func lookupHostID() string {
	switch runtime.GOOS {
	case "darwin":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "bash", "-c",
			"system_profiler SPHardwareDataType | awk '/Hardware UUID/ {print $3}'").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/sys/class/dmi/id/product_uuid"} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return id
				}
			}
		}
	}
	return ""
}
