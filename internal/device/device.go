package device

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/danr/processor/internal/errorutil"
)

type Device struct {
	AndroidVersion string    `json:"androidVersion,omitempty"`
	APILevel       int       `json:"apiLevel,omitempty"`
	HasRoot        bool      `json:"hasRoot"`
	ID             string    `json:"id"`
	LastSeen       time.Time `json:"lastSeen"`
	Manufacturer   string    `json:"manufacturer,omitempty"`
	Model          string    `json:"model,omitempty"`
	PackageName    string    `json:"packageName,omitempty"`
	RegisteredAt   time.Time `json:"registeredAt"`
}

// Registry tracks connected devices. Lookups of unknown devices return an
// error wrapping errorutil.ErrNotFound.
type Registry interface {
	Register(d Device) error
	Unregister(id string) error
	Get(id string) (Device, error)
	// List returns devices ordered by registration time.
	List() []Device
	Touch(id string, now time.Time) error
	// Expire removes and returns the devices not seen since before.
	Expire(before time.Time) []Device
}

type MemoryRegistry struct {
	devices *xsync.MapOf[string, Device]
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{devices: xsync.NewMapOf[string, Device]()}
}

func notFound(id string) error {
	return fmt.Errorf("device: %w: %s", errorutil.ErrNotFound, id)
}

// Register adds a device or refreshes a known one, keeping its original
// registration time.
func (r *MemoryRegistry) Register(d Device) error {
	if d.ID == "" {
		return fmt.Errorf("device: %w: device ID is required", errorutil.ErrValidation)
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = d.RegisteredAt
	}
	r.devices.Compute(d.ID, func(current Device, loaded bool) (Device, bool) {
		if loaded {
			d.RegisteredAt = current.RegisteredAt
		}
		return d, false
	})
	return nil
}

func (r *MemoryRegistry) Unregister(id string) error {
	if _, ok := r.devices.LoadAndDelete(id); !ok {
		return notFound(id)
	}
	return nil
}

func (r *MemoryRegistry) Get(id string) (Device, error) {
	d, ok := r.devices.Load(id)
	if !ok {
		return Device{}, notFound(id)
	}
	return d, nil
}

func (r *MemoryRegistry) List() []Device {
	devices := make([]Device, 0, r.devices.Size())
	r.devices.Range(func(_ string, d Device) bool {
		devices = append(devices, d)
		return true
	})
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].RegisteredAt.Equal(devices[j].RegisteredAt) {
			return devices[i].ID < devices[j].ID
		}
		return devices[i].RegisteredAt.Before(devices[j].RegisteredAt)
	})
	return devices
}

func (r *MemoryRegistry) Touch(id string, now time.Time) error {
	var found bool
	r.devices.Compute(id, func(current Device, loaded bool) (Device, bool) {
		if !loaded {
			return current, true
		}
		found = true
		if now.After(current.LastSeen) {
			current.LastSeen = now
		}
		return current, false
	})
	if !found {
		return notFound(id)
	}
	return nil
}

func (r *MemoryRegistry) Expire(before time.Time) []Device {
	expired := make([]Device, 0)
	r.devices.Range(func(id string, d Device) bool {
		if !d.LastSeen.Before(before) {
			return true
		}
		r.devices.Compute(id, func(current Device, loaded bool) (Device, bool) {
			// it may have been touched since the range read it
			if loaded && current.LastSeen.Before(before) {
				expired = append(expired, current)
				return current, true
			}
			return current, !loaded
		})
		return true
	})
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ID < expired[j].ID
	})
	return expired
}

// Janitor expires devices that haven't been seen for ttl, checking every
// interval until ctx is done.
type Janitor struct {
	Interval time.Duration
	Now      func() time.Time
	OnExpire func([]Device)
	Registry Registry
	TTL      time.Duration
}

func (j Janitor) Run(ctx context.Context) error {
	now := j.Now
	if now == nil {
		now = time.Now
	}
	interval := j.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			expired := j.Registry.Expire(now().Add(-j.TTL))
			if len(expired) > 0 && j.OnExpire != nil {
				j.OnExpire(expired)
			}
		}
	}
}
