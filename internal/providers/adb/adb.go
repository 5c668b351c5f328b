package adb

import (
	"context"
	"strconv"
	"strings"

	"github.com/httprunner/httprunner/v5/pkg/gadb"
	"github.com/pkg/errors"

	"github.com/httprunner/apkdeploy/internal/device"
)

const emulatorPrefix = "emulator-"

// Provider implements device.Source using gadb.
type Provider struct {
	client gadb.Client
}

var _ device.Source = (*Provider)(nil)

// New creates a Provider backed by the given gadb client.
func New(client gadb.Client) *Provider {
	return &Provider{client: client}
}

// NewDefault creates a Provider using a default gadb client.
func NewDefault() (*Provider, error) {
	client, err := gadb.NewClient()
	if err != nil {
		return nil, errors.Wrap(err, "init adb client for provider")
	}
	return New(client), nil
}

// ListDevices returns every attached device classified by role and state.
func (p *Provider) ListDevices(ctx context.Context) ([]device.Record, error) {
	if p == nil {
		return nil, errors.New("adb provider is nil")
	}
	devs, err := p.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "list adb devices")
	}
	records := make([]device.Record, 0, len(devs))
	for _, dev := range devs {
		if dev == nil {
			continue
		}
		serial := strings.TrimSpace(dev.Serial())
		if serial == "" {
			continue
		}
		raw := string(gadb.StateUnknown)
		if state, err := dev.State(); err == nil {
			raw = string(state)
		}
		records = append(records, Classify(serial, raw))
	}
	return records, nil
}

// Classify turns a serial and a raw bridge state into a device.Record.
// Serials of the form emulator-<port> are emulators; anything else is a
// physical device. Unknown states are reported as booting so a device that is
// still coming up is not mistaken for an offline one.
func Classify(serial, rawState string) device.Record {
	rec := device.Record{Serial: serial, Role: device.RoleDevice}
	if strings.HasPrefix(serial, emulatorPrefix) {
		rec.Role = device.RoleEmulator
		if port, err := strconv.Atoi(strings.TrimPrefix(serial, emulatorPrefix)); err == nil {
			rec.Port = port
		}
	}
	state := strings.TrimSpace(rawState)
	switch {
	case strings.EqualFold(state, string(gadb.StateOnline)), strings.EqualFold(state, "device"):
		rec.State = device.StateOnline
	case strings.EqualFold(state, string(gadb.StateOffline)):
		rec.State = device.StateOffline
	default:
		rec.State = device.StateBooting
	}
	return rec
}

// Shell executes a shell command on the device with the given serial.
func (p *Provider) Shell(ctx context.Context, serial string, args ...string) (string, error) {
	if p == nil {
		return "", errors.New("adb provider is nil")
	}
	if len(args) == 0 {
		return "", errors.New("adb provider: empty shell command")
	}
	devs, err := p.client.DeviceList()
	if err != nil {
		return "", errors.Wrap(err, "list adb devices")
	}
	target := strings.TrimSpace(serial)
	for _, d := range devs {
		if d == nil {
			continue
		}
		if strings.TrimSpace(d.Serial()) == target {
			out, err := d.RunShellCommand(args[0], args[1:]...)
			if err != nil {
				return out, errors.Wrapf(err, "adb shell %s on %s", args[0], serial)
			}
			return out, nil
		}
	}
	return "", errors.Errorf("device %s not found", serial)
}
