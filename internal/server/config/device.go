package config

import (
	"github.com/yndnr/memdev-go/internal/storage/memory"
)

// TableConfig converts the device section into a device table configuration.
func (d DeviceSection) TableConfig() memory.Config {
	return memory.Config{
		MaxDevices:  d.Count,
		InitialSize: d.SizeBytes,
		PageSize:    d.PageBytes,
	}
}

// Allocator returns the allocator enforcing MaxBytes.
func (d DeviceSection) Allocator() memory.Allocator {
	return memory.HeapAllocator{Limit: d.MaxBytes}
}
