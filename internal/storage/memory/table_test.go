package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/yndnr/memdev-go/internal/core/domain"
)

// recordingRegistrar records every call and fails node registration or
// binding for one device index.
type recordingRegistrar struct {
	mu         sync.Mutex
	failNodeAt int // device index whose RegisterNode fails; -1 = never
	failBindAt int // device index whose BindOps fails; -1 = never

	registered   []int
	unregistered []int
	bound        []int
	unbound      []int
}

func newRecordingRegistrar() *recordingRegistrar {
	return &recordingRegistrar{failNodeAt: -1, failBindAt: -1}
}

func (r *recordingRegistrar) RegisterNode(dev *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev.ID() == r.failNodeAt {
		return errors.New("node refused")
	}
	r.registered = append(r.registered, dev.ID())
	return nil
}

func (r *recordingRegistrar) UnregisterNode(dev *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, dev.ID())
}

func (r *recordingRegistrar) BindOps(dev *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev.ID() == r.failBindAt {
		return errors.New("bind refused")
	}
	r.bound = append(r.bound, dev.ID())
	return nil
}

func (r *recordingRegistrar) UnbindOps(dev *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbound = append(r.unbound, dev.ID())
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewTable_Defaults(t *testing.T) {
	alloc := &countingAllocator{}
	reg := newRecordingRegistrar()

	tbl, err := NewTable(DefaultConfig(), WithAllocator(alloc), WithRegistrar(reg))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if tbl.Len() != DefaultMaxDevices {
		t.Fatalf("Len() = %d, want %d", tbl.Len(), DefaultMaxDevices)
	}
	for _, k := range []ResourceKind{ResourceBuffer, ResourceNode, ResourceBind} {
		if got := tbl.HighWater(k); got != DefaultMaxDevices-1 {
			t.Errorf("HighWater(%v) = %d, want %d", k, got, DefaultMaxDevices-1)
		}
	}
	for i, dev := range tbl.Devices() {
		if dev.ID() != i {
			t.Errorf("device %d has id %d", i, dev.ID())
		}
		if dev.Name() != fmt.Sprintf("memdev%d", i) {
			t.Errorf("device %d name = %q", i, dev.Name())
		}
		if dev.buf.Size() != DefaultInitialSize {
			t.Errorf("device %d size = %d, want %d", i, dev.buf.Size(), DefaultInitialSize)
		}
		if !dev.reset {
			t.Errorf("device %d should start in the reset state", i)
		}
	}

	tbl.Close()
	allocs, frees, live := alloc.counts()
	if allocs != DefaultMaxDevices || frees != DefaultMaxDevices || live != 0 {
		t.Errorf("after Close: allocs=%d frees=%d live=%d", allocs, frees, live)
	}
	if !equalInts(reg.unbound, seq(3)) || !equalInts(reg.unregistered, seq(3)) {
		t.Errorf("after Close: unbound=%v unregistered=%v", reg.unbound, reg.unregistered)
	}
}

func TestNewTable_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero devices", Config{MaxDevices: 0, InitialSize: 4096, PageSize: 4096}},
		{"negative devices", Config{MaxDevices: -1, InitialSize: 4096, PageSize: 4096}},
		{"zero page", Config{MaxDevices: 1, InitialSize: 4096, PageSize: 0}},
		{"zero size", Config{MaxDevices: 1, InitialSize: 0, PageSize: 4096}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := &countingAllocator{}
			_, err := NewTable(tt.cfg, WithAllocator(alloc))
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
			if allocs, _, _ := alloc.counts(); allocs != 0 {
				t.Errorf("allocated %d buffers for invalid config", allocs)
			}
		})
	}
}

func TestNewTable_PartialFailureUnwinds(t *testing.T) {
	tests := []struct {
		name        string
		failAlloc   int // 1-based allocation to fail
		failNode    int
		failBind    int
		wantIndex   int
		wantPhase   domain.InitPhase
		wantBuffers int
		wantNodes   int
		wantBinds   int
	}{
		{"first buffer", 1, -1, -1, 0, domain.PhaseBuffer, 0, 0, 0},
		{"third buffer", 3, -1, -1, 2, domain.PhaseBuffer, 2, 2, 2},
		{"first node", 0, 0, -1, 0, domain.PhaseNode, 1, 0, 0},
		{"second node", 0, 1, -1, 1, domain.PhaseNode, 2, 1, 1},
		{"second bind", 0, -1, 1, 1, domain.PhaseBind, 2, 2, 1},
		{"last bind", 0, -1, 2, 2, domain.PhaseBind, 3, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := &countingAllocator{failAt: tt.failAlloc}
			reg := newRecordingRegistrar()
			reg.failNodeAt = tt.failNode
			reg.failBindAt = tt.failBind

			tbl, err := NewTable(Config{MaxDevices: 3, InitialSize: 4096, PageSize: 4096},
				WithAllocator(alloc), WithRegistrar(reg))
			if tbl != nil {
				t.Fatal("NewTable returned a table on failure")
			}

			var initErr *domain.InitError
			if !errors.As(err, &initErr) {
				t.Fatalf("err = %v, want *domain.InitError", err)
			}
			if initErr.Index != tt.wantIndex || initErr.Phase != tt.wantPhase {
				t.Errorf("InitError = {%d %s}, want {%d %s}", initErr.Index, initErr.Phase, tt.wantIndex, tt.wantPhase)
			}
			if !errors.Is(err, domain.ErrInit) {
				t.Errorf("err does not match ErrInit")
			}

			allocs, frees, live := alloc.counts()
			if allocs != tt.wantBuffers || frees != tt.wantBuffers || live != 0 {
				t.Errorf("buffers: allocs=%d frees=%d live=%d, want %d each and 0 live",
					allocs, frees, live, tt.wantBuffers)
			}
			if !equalInts(reg.registered, seq(tt.wantNodes)) || !equalInts(reg.unregistered, seq(tt.wantNodes)) {
				t.Errorf("nodes: registered=%v unregistered=%v, want %v",
					reg.registered, reg.unregistered, seq(tt.wantNodes))
			}
			if !equalInts(reg.bound, seq(tt.wantBinds)) || !equalInts(reg.unbound, seq(tt.wantBinds)) {
				t.Errorf("binds: bound=%v unbound=%v, want %v",
					reg.bound, reg.unbound, seq(tt.wantBinds))
			}
		})
	}
}

func TestTable_CloseIdempotent(t *testing.T) {
	alloc := &countingAllocator{}
	reg := newRecordingRegistrar()
	tbl, err := NewTable(Config{MaxDevices: 2, InitialSize: 64, PageSize: 64},
		WithAllocator(alloc), WithRegistrar(reg))
	if err != nil {
		t.Fatal(err)
	}

	tbl.Close()
	tbl.Close()

	if _, frees, _ := alloc.counts(); frees != 2 {
		t.Errorf("frees = %d, want 2", frees)
	}
	if len(reg.unregistered) != 2 || len(reg.unbound) != 2 {
		t.Errorf("unregistered=%v unbound=%v", reg.unregistered, reg.unbound)
	}
	for _, k := range []ResourceKind{ResourceBuffer, ResourceNode, ResourceBind} {
		if got := tbl.HighWater(k); got != -1 {
			t.Errorf("HighWater(%v) = %d after Close, want -1", k, got)
		}
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d after Close", tbl.Len())
	}
}

func TestTable_Device(t *testing.T) {
	tbl := newTestTable(t, 2, 64, 64)

	dev, err := tbl.Device(1)
	if err != nil || dev.ID() != 1 {
		t.Fatalf("Device(1) = %v, %v", dev, err)
	}
	if _, err := tbl.Device(2); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("Device(2) err = %v, want ErrDeviceNotFound", err)
	}
	if got := tbl.HighWater(resourceKinds); got != -1 {
		t.Errorf("HighWater(out of range) = %d, want -1", got)
	}
}

func TestTable_SizeRoundsToPage(t *testing.T) {
	tbl := newTestTable(t, 1, 100, 64)
	dev, _ := tbl.Device(0)
	if dev.buf.Size() != 128 {
		t.Errorf("size = %d, want 128", dev.buf.Size())
	}
	if tbl.Config().PageSize != 64 {
		t.Errorf("Config().PageSize = %d", tbl.Config().PageSize)
	}
}

func TestResourceKind_String(t *testing.T) {
	tests := map[ResourceKind]string{
		ResourceBuffer:   "buffer",
		ResourceNode:     "node",
		ResourceBind:     "bind",
		ResourceKind(42): "resource(42)",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
}
