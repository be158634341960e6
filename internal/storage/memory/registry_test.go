package memory

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/yndnr/memdev-go/internal/core/domain"
)

func TestNodeRegistry_WithTable(t *testing.T) {
	reg := NewNodeRegistry()
	tbl := newTestTable(t, 3, 64, 64, WithRegistrar(reg))

	if reg.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", reg.Len())
	}
	names := reg.Names()
	want := []string{"memdev0", "memdev1", "memdev2"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	for _, name := range []string{"memdev1", "1"} {
		dev, err := reg.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if want, _ := tbl.Device(1); dev != want {
			t.Errorf("Lookup(%q) returned device %d", name, dev.ID())
		}
	}

	for _, name := range []string{"memdev3", "disk0", "-1"} {
		if _, err := reg.Lookup(name); !errors.Is(err, domain.ErrDeviceNotFound) {
			t.Errorf("Lookup(%q) err = %v, want ErrDeviceNotFound", name, err)
		}
	}

	tbl.Close()
	if reg.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", reg.Len())
	}
	if _, err := reg.Lookup("memdev0"); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("Lookup after Close err = %v", err)
	}
}

func TestNodeRegistry_DuplicateFailsInit(t *testing.T) {
	reg := NewNodeRegistry()
	first := newTestTable(t, 2, 64, 64, WithRegistrar(reg))

	_, err := NewTable(Config{MaxDevices: 2, InitialSize: 64, PageSize: 64}, WithRegistrar(reg))
	var initErr *domain.InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("err = %v, want *domain.InitError", err)
	}
	if initErr.Index != 0 || initErr.Phase != domain.PhaseNode {
		t.Errorf("InitError = {%d %s}, want {0 node}", initErr.Index, initErr.Phase)
	}
	if !errors.Is(err, ErrNodeExists) {
		t.Errorf("err = %v, want it to wrap ErrNodeExists", err)
	}

	// The failed table must not have disturbed the first one's nodes.
	if dev, err := reg.Lookup("memdev0"); err != nil || dev != first.Devices()[0] {
		t.Errorf("Lookup(memdev0) = %v, %v", dev, err)
	}
}

func TestNodeRegistry_BindRequiresNode(t *testing.T) {
	reg := NewNodeRegistry()
	dev := newDevice(0, slog.New(slog.DiscardHandler))

	if err := reg.BindOps(dev); !errors.Is(err, ErrNodeNotRegistered) {
		t.Fatalf("BindOps err = %v, want ErrNodeNotRegistered", err)
	}
	if err := reg.RegisterNode(dev); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Lookup("memdev0"); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("unbound node resolved: %v", err)
	}
	if err := reg.BindOps(dev); err != nil {
		t.Fatal(err)
	}
	if got, err := reg.Lookup("memdev0"); err != nil || got != dev {
		t.Errorf("Lookup = %v, %v", got, err)
	}

	reg.UnbindOps(dev)
	if len(reg.Names()) != 0 {
		t.Errorf("Names() after unbind = %v", reg.Names())
	}
	reg.UnregisterNode(dev)
	reg.UnbindOps(dev)
	if reg.Len() != 0 {
		t.Errorf("Len() = %d", reg.Len())
	}
}
