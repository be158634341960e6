package memory

import (
	"sort"
	"sync/atomic"

	"github.com/yndnr/memdev-go/internal/core/domain"
	"github.com/yndnr/memdev-go/pkg/cmap"
)

var (
	// ErrNodeExists indicates a node name is already registered.
	ErrNodeExists = domain.NewDomainError("MD-NODE-4090", "node already registered")

	// ErrNodeNotRegistered indicates operations were bound to an unknown node.
	ErrNodeNotRegistered = domain.NewDomainError("MD-NODE-4040", "node not registered")
)

type node struct {
	dev   *Device
	bound atomic.Bool
}

// NodeRegistry is the in-process Registrar. It maps node names such as
// "memdev0" to devices; a node only resolves once its operations are bound.
type NodeRegistry struct {
	nodes *cmap.Map[string, *node]
}

var _ Registrar = (*NodeRegistry)(nil)

// NewNodeRegistry creates an empty registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{
		nodes: cmap.New[string, *node](),
	}
}

// RegisterNode implements Registrar.
func (r *NodeRegistry) RegisterNode(dev *Device) error {
	if !r.nodes.SetIfAbsent(dev.Name(), &node{dev: dev}) {
		return ErrNodeExists.WithDetails(dev.Name())
	}
	return nil
}

// UnregisterNode implements Registrar.
func (r *NodeRegistry) UnregisterNode(dev *Device) {
	r.nodes.Delete(dev.Name())
}

// BindOps implements Registrar.
func (r *NodeRegistry) BindOps(dev *Device) error {
	n, ok := r.nodes.Get(dev.Name())
	if !ok || n.dev != dev {
		return ErrNodeNotRegistered.WithDetails(dev.Name())
	}
	n.bound.Store(true)
	return nil
}

// UnbindOps implements Registrar.
func (r *NodeRegistry) UnbindOps(dev *Device) {
	if n, ok := r.nodes.Get(dev.Name()); ok {
		n.bound.Store(false)
	}
}

// Lookup resolves a node name, or a bare device number, to a device.
func (r *NodeRegistry) Lookup(name string) (*Device, error) {
	id, err := domain.ParseNodeName(name)
	if err != nil {
		return nil, err
	}
	n, ok := r.nodes.Get(domain.NodeName(id))
	if !ok || !n.bound.Load() {
		return nil, domain.ErrDeviceNotFound.WithDetails(name)
	}
	return n.dev, nil
}

// Names returns the names of all bound nodes in device order.
func (r *NodeRegistry) Names() []string {
	var devs []*Device
	r.nodes.Range(func(_ string, n *node) bool {
		if n.bound.Load() {
			devs = append(devs, n.dev)
		}
		return true
	})
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID() < devs[j].ID() })

	names := make([]string, len(devs))
	for i, d := range devs {
		names[i] = d.Name()
	}
	return names
}

// Len returns the number of registered nodes, bound or not.
func (r *NodeRegistry) Len() int {
	return r.nodes.Count()
}
