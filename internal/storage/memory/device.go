package memory

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/yndnr/memdev-go/internal/core/domain"
)

// Device is one independently lockable, independently growable storage unit.
//
// The lock guards the buffer, the reset flag, and the cursor of every handle
// bound to the device.
type Device struct {
	id     int
	sem    *semaphore.Weighted
	buf    *Buffer
	reset  bool
	open   atomic.Int32
	logger *slog.Logger
	onGrow func(id int, from, to int64)
}

func newDevice(id int, logger *slog.Logger) *Device {
	return &Device{
		id:     id,
		sem:    semaphore.NewWeighted(1),
		reset:  true, // never opened yet
		logger: logger.With("device", domain.NodeName(id)),
	}
}

// ID returns the device's stable identifier.
func (d *Device) ID() int {
	return d.id
}

// Name returns the device's node name.
func (d *Device) Name() string {
	return domain.NodeName(d.id)
}

// OpenHandles returns the number of handles currently bound to the device.
func (d *Device) OpenHandles() int {
	return int(d.open.Load())
}

// lock blocks until the device is available or ctx is done.
func (d *Device) lock(ctx context.Context) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return domain.ErrCancelled.WithCause(err)
	}
	return nil
}

func (d *Device) unlock() {
	d.sem.Release(1)
}

// Info returns a snapshot of the device state.
func (d *Device) Info(ctx context.Context) (domain.DeviceInfo, error) {
	if err := d.lock(ctx); err != nil {
		return domain.DeviceInfo{}, err
	}
	defer d.unlock()

	return domain.DeviceInfo{
		ID:          d.id,
		Name:        d.Name(),
		Size:        d.buf.Size(),
		Reset:       d.reset,
		OpenHandles: d.OpenHandles(),
	}, nil
}

// View calls fn with the device contents while holding the device lock.
// fn must not retain the slice.
func (d *Device) View(ctx context.Context, fn func(data []byte) error) error {
	if err := d.lock(ctx); err != nil {
		return err
	}
	defer d.unlock()
	return fn(d.buf.Bytes())
}
