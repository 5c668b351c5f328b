package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WaitOptions bound a wait.
type WaitOptions struct {
	MaxPolls                 int
	MaxConsecutiveEmptyPolls int
	PollInterval             time.Duration

	// SettleThreshold is the wait duration after which a found device is
	// assumed to still be booting.
	SettleThreshold time.Duration
	SettleDelay     time.Duration
}

// DefaultWaitOptions mirror the config defaults.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		MaxPolls:                 30,
		MaxConsecutiveEmptyPolls: 6,
		PollInterval:             5 * time.Second,
		SettleThreshold:          time.Second,
		SettleDelay:              20 * time.Second,
	}
}

// WaitResult describes how a wait ended.
type WaitResult struct {
	Outcome Outcome
	Device  Record
	Polls   int
	Waited  time.Duration
	// NeedsSettle is set when the device appeared only after waiting longer
	// than the settle threshold.
	NeedsSettle bool
}

// Monitor waits for devices of a role and logs connect/disconnect
// transitions between polls.
type Monitor struct {
	source Source
	opts   WaitOptions
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time

	mu   sync.Mutex
	seen map[string]State
}

// NewMonitor builds a Monitor. Zero option fields fall back to defaults.
func NewMonitor(source Source, opts WaitOptions) *Monitor {
	def := DefaultWaitOptions()
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = def.MaxPolls
	}
	if opts.MaxConsecutiveEmptyPolls <= 0 {
		opts.MaxConsecutiveEmptyPolls = def.MaxConsecutiveEmptyPolls
	}
	if opts.PollInterval < 0 {
		opts.PollInterval = 0
	}
	return &Monitor{
		source: source,
		opts:   opts,
		now:    time.Now,
		after:  time.After,
		seen:   make(map[string]State),
	}
}

// Options returns the effective options.
func (m *Monitor) Options() WaitOptions { return m.opts }

// Wait polls until a device of role is not offline, the poll budget runs out,
// or MaxConsecutiveEmptyPolls listings in a row came back empty. A listing
// error counts as an empty poll. Context cancellation interrupts the wait
// immediately and is returned as the error.
func (m *Monitor) Wait(ctx context.Context, role Role) (WaitResult, error) {
	if m == nil || m.source == nil {
		return WaitResult{}, errors.New("device monitor: source is nil")
	}
	start := m.now()
	polls, empty := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return WaitResult{Polls: polls, Waited: m.now().Sub(start)}, errors.Wrap(err, "wait for device")
		}
		records, err := m.source.ListDevices(ctx)
		if err != nil {
			log.Debug().Err(err).Int("poll", polls+1).Msg("device listing failed")
			records = nil
		}
		m.track(records)

		if rec, ok := match(records, role); ok {
			waited := m.now().Sub(start)
			res := WaitResult{
				Outcome:     Ready,
				Device:      rec,
				Polls:       polls + 1,
				Waited:      waited,
				NeedsSettle: waited > m.opts.SettleThreshold,
			}
			log.Info().Str("serial", rec.Serial).Str("role", string(role)).
				Str("state", string(rec.State)).Int("polls", res.Polls).Dur("waited", waited).
				Msg("device ready")
			return res, nil
		}

		if len(records) == 0 {
			empty++
			if empty >= m.opts.MaxConsecutiveEmptyPolls {
				res := WaitResult{Outcome: NoDevicesPresent, Polls: polls + 1, Waited: m.now().Sub(start)}
				log.Warn().Str("role", string(role)).Int("polls", res.Polls).Msg("no devices attached")
				return res, nil
			}
		} else {
			empty = 0
		}

		polls++
		if polls >= m.opts.MaxPolls {
			res := WaitResult{Outcome: TimedOut, Polls: polls, Waited: m.now().Sub(start)}
			log.Warn().Str("role", string(role)).Int("polls", polls).Msg("timed out waiting for device")
			return res, nil
		}

		log.Debug().Str("role", string(role)).Int("poll", polls).Int("devices", len(records)).
			Msg("waiting for device")
		select {
		case <-ctx.Done():
			return WaitResult{Polls: polls, Waited: m.now().Sub(start)}, errors.Wrap(ctx.Err(), "wait for device")
		case <-m.after(m.opts.PollInterval):
		}
	}
}

// Settle sleeps for the settle delay when res asks for it.
func (m *Monitor) Settle(ctx context.Context, res WaitResult) error {
	if !res.NeedsSettle || m.opts.SettleDelay <= 0 {
		return nil
	}
	log.Info().Str("serial", res.Device.Serial).Dur("delay", m.opts.SettleDelay).Msg("letting device settle")
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "settle device")
	case <-m.after(m.opts.SettleDelay):
		return nil
	}
}

func match(records []Record, role Role) (Record, bool) {
	for _, rec := range records {
		if rec.Role == role && rec.State != StateOffline {
			return rec, true
		}
	}
	return Record{}, false
}

func (m *Monitor) track(records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := make(map[string]State, len(records))
	for _, rec := range records {
		serial := strings.TrimSpace(rec.Serial)
		if serial == "" {
			continue
		}
		current[serial] = rec.State
		prev, ok := m.seen[serial]
		switch {
		case !ok:
			log.Info().Str("serial", serial).Str("role", string(rec.Role)).Str("state", string(rec.State)).Msg("device connected")
		case prev != rec.State:
			log.Info().Str("serial", serial).Str("from", string(prev)).Str("to", string(rec.State)).Msg("device state changed")
		}
	}
	for serial := range m.seen {
		if _, ok := current[serial]; !ok {
			log.Info().Str("serial", serial).Msg("device disconnected")
		}
	}
	m.seen = current
}
