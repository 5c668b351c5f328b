package adb

import (
	"testing"

	"github.com/httprunner/httprunner/v5/pkg/gadb"

	"github.com/httprunner/apkdeploy/internal/device"
)

func TestClassifyEmulatorSerial(t *testing.T) {
	rec := Classify("emulator-5560", string(gadb.StateOnline))
	if rec.Role != device.RoleEmulator {
		t.Fatalf("expected emulator role, got %s", rec.Role)
	}
	if rec.Port != 5560 {
		t.Fatalf("expected port 5560, got %d", rec.Port)
	}
	if rec.State != device.StateOnline {
		t.Fatalf("expected online, got %s", rec.State)
	}
}

func TestClassifyPhysicalDevice(t *testing.T) {
	rec := Classify("HT9CXP801234", string(gadb.StateOffline))
	if rec.Role != device.RoleDevice || rec.Port != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.State != device.StateOffline {
		t.Fatalf("expected offline, got %s", rec.State)
	}
}

func TestClassifyUnknownStateIsBooting(t *testing.T) {
	rec := Classify("emulator-5554", string(gadb.StateUnknown))
	if rec.State != device.StateBooting {
		t.Fatalf("expected booting, got %s", rec.State)
	}
	if rec := Classify("emulator-abc", "device"); rec.State != device.StateOnline || rec.Port != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
