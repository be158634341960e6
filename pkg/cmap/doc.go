// Package cmap provides a sharded map safe for concurrent use.
//
// Keys are spread across a power-of-two number of shards, each guarded by
// its own RWMutex, so lookups on different keys rarely contend. It backs the
// node registry and the open-handle table.
//
//	m := cmap.New[string, *Handle]()
//	m.Set(id, h)
//	h, ok := m.Pop(id)
package cmap
