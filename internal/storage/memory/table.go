package memory

import (
	"fmt"
	"log/slog"

	"github.com/yndnr/memdev-go/internal/core/domain"
)

// Default table parameters.
const (
	DefaultMaxDevices  = 3
	DefaultInitialSize = 16 * DefaultPageSize
)

// ResourceKind identifies a resource acquired during per-device setup.
type ResourceKind int

const (
	// ResourceBuffer is the device's storage buffer.
	ResourceBuffer ResourceKind = iota
	// ResourceNode is the device's registered node.
	ResourceNode
	// ResourceBind is the binding of operations to the node.
	ResourceBind

	resourceKinds
)

// String returns the resource kind name.
func (k ResourceKind) String() string {
	switch k {
	case ResourceBuffer:
		return "buffer"
	case ResourceNode:
		return "node"
	case ResourceBind:
		return "bind"
	default:
		return fmt.Sprintf("resource(%d)", int(k))
	}
}

// noneAcquired marks a resource kind for which no device succeeded.
const noneAcquired = -1

// Registrar publishes devices to whatever addresses them from outside.
// RegisterNode gives a device its visible identity and BindOps attaches the
// device operations to that identity.
type Registrar interface {
	RegisterNode(dev *Device) error
	UnregisterNode(dev *Device)
	BindOps(dev *Device) error
	UnbindOps(dev *Device)
}

// Config configures a Table.
type Config struct {
	// MaxDevices is the number of devices to create.
	MaxDevices int
	// InitialSize is each device's starting size in bytes.
	InitialSize int64
	// PageSize is the unit by which devices grow.
	PageSize int64
}

// DefaultConfig returns the default table configuration.
func DefaultConfig() Config {
	return Config{
		MaxDevices:  DefaultMaxDevices,
		InitialSize: DefaultInitialSize,
		PageSize:    DefaultPageSize,
	}
}

// Option configures the Table.
type Option func(*Table)

// WithAllocator sets the allocator used for device buffers.
func WithAllocator(a Allocator) Option {
	return func(t *Table) {
		t.alloc = a
	}
}

// WithRegistrar sets the registrar devices are published to.
func WithRegistrar(r Registrar) Option {
	return func(t *Table) {
		t.reg = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		t.logger = l
	}
}

// WithGrowHook sets a function called, under the device lock, whenever a
// device buffer grows.
func WithGrowHook(fn func(id int, from, to int64)) Option {
	return func(t *Table) {
		t.onGrow = fn
	}
}

// Table is the fixed set of devices created at startup.
//
// Construction and Close must not run concurrently with device operations.
type Table struct {
	cfg     Config
	devices []*Device
	alloc   Allocator
	reg     Registrar
	logger  *slog.Logger
	onGrow  func(id int, from, to int64)

	// highWater[k] is the last device index for which resource k was
	// acquired. Kinds are tracked separately because setup can fail
	// between them for the same device.
	highWater [resourceKinds]int
}

// NewTable creates cfg.MaxDevices devices. Setup stops at the first failure;
// whatever was acquired up to that point is released and a *domain.InitError
// naming the device and phase is returned.
func NewTable(cfg Config, opts ...Option) (*Table, error) {
	t := &Table{
		cfg:    cfg,
		alloc:  HeapAllocator{},
		reg:    nopRegistrar{},
		logger: slog.Default(),
	}
	for i := range t.highWater {
		t.highWater[i] = noneAcquired
	}
	for _, opt := range opts {
		opt(t)
	}

	if cfg.MaxDevices <= 0 {
		return nil, domain.ErrInvalidArgument.WithDetailsf("max devices %d", cfg.MaxDevices)
	}
	if cfg.PageSize <= 0 {
		return nil, domain.ErrInvalidArgument.WithDetailsf("page size %d", cfg.PageSize)
	}
	if cfg.InitialSize <= 0 {
		return nil, domain.ErrInvalidArgument.WithDetailsf("initial size %d", cfg.InitialSize)
	}

	t.logger.Info("initializing device table",
		"devices", cfg.MaxDevices,
		"initial_size", cfg.InitialSize,
		"page_size", cfg.PageSize)

	if err := t.build(); err != nil {
		t.logger.Error("device table initialization failed", "error", err)
		t.Close()
		return nil, err
	}

	t.logger.Info("device table initialized",
		"last_buffer", t.highWater[ResourceBuffer],
		"last_node", t.highWater[ResourceNode],
		"last_bind", t.highWater[ResourceBind])
	return t, nil
}

func (t *Table) build() error {
	t.devices = make([]*Device, t.cfg.MaxDevices)

	for i := range t.devices {
		dev := newDevice(i, t.logger)
		dev.onGrow = t.onGrow
		t.devices[i] = dev

		buf, err := NewBuffer(t.cfg.InitialSize, t.cfg.PageSize, t.alloc, dev.logger)
		if err != nil {
			t.logger.Warn("failed to allocate device buffer", "device", i, "error", err)
			return &domain.InitError{Index: i, Phase: domain.PhaseBuffer, Cause: err}
		}
		dev.buf = buf
		t.highWater[ResourceBuffer] = i

		if err := t.reg.RegisterNode(dev); err != nil {
			t.logger.Warn("failed to register device node", "device", i, "error", err)
			return &domain.InitError{Index: i, Phase: domain.PhaseNode, Cause: err}
		}
		t.highWater[ResourceNode] = i

		if err := t.reg.BindOps(dev); err != nil {
			t.logger.Warn("failed to bind device operations", "device", i, "error", err)
			return &domain.InitError{Index: i, Phase: domain.PhaseBind, Cause: err}
		}
		t.highWater[ResourceBind] = i
	}

	return nil
}

// Close releases every resource the table acquired. Each resource kind is
// released up to its own high-water mark, so Close is correct after a
// partial build, and calling it again is a no-op.
func (t *Table) Close() {
	if t.devices == nil {
		return
	}

	t.logger.Info("tearing down device table")

	freed := t.highWater[ResourceBuffer] + 1
	for i := 0; i <= t.highWater[ResourceBuffer]; i++ {
		if buf := t.devices[i].buf; buf != nil {
			buf.release()
		}
	}
	t.highWater[ResourceBuffer] = noneAcquired

	unbound := t.highWater[ResourceBind] + 1
	for i := 0; i <= t.highWater[ResourceBind]; i++ {
		t.reg.UnbindOps(t.devices[i])
	}
	t.highWater[ResourceBind] = noneAcquired

	unregistered := t.highWater[ResourceNode] + 1
	for i := 0; i <= t.highWater[ResourceNode]; i++ {
		t.reg.UnregisterNode(t.devices[i])
	}
	t.highWater[ResourceNode] = noneAcquired

	t.devices = nil

	t.logger.Debug("device table released",
		"buffers", freed,
		"binds", unbound,
		"nodes", unregistered)
}

// Len returns the number of devices.
func (t *Table) Len() int {
	return len(t.devices)
}

// Config returns the configuration the table was built with.
func (t *Table) Config() Config {
	return t.cfg
}

// HighWater returns the last device index for which resource k was
// acquired, or -1 if none.
func (t *Table) HighWater(k ResourceKind) int {
	if k < 0 || k >= resourceKinds {
		return noneAcquired
	}
	return t.highWater[k]
}

// Device returns device id.
func (t *Table) Device(id int) (*Device, error) {
	if id < 0 || id >= len(t.devices) {
		return nil, domain.ErrDeviceNotFound.WithDetailsf("id %d", id)
	}
	return t.devices[id], nil
}

// Devices returns all devices in id order.
func (t *Table) Devices() []*Device {
	out := make([]*Device, len(t.devices))
	copy(out, t.devices)
	return out
}

// nopRegistrar is used when the table is not published anywhere.
type nopRegistrar struct{}

func (nopRegistrar) RegisterNode(*Device) error { return nil }
func (nopRegistrar) UnregisterNode(*Device)     {}
func (nopRegistrar) BindOps(*Device) error      { return nil }
func (nopRegistrar) UnbindOps(*Device)          {}
