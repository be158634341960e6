package memory

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/yndnr/memdev-go/internal/core/domain"
)

// DefaultPageSize is the growth unit used when none is configured.
const DefaultPageSize = 4096

// maxAllocBytes bounds a single allocation even when no Limit is set. It
// does not protect the process from exhausting the heap; servers set Limit.
const maxAllocBytes = 1 << 36

// Allocator provides the backing memory for device buffers.
type Allocator interface {
	// Alloc returns a zeroed slice of exactly n bytes or an error
	// matching domain.ErrOutOfMemory.
	Alloc(n int64) ([]byte, error)
	// Free releases a slice previously returned by Alloc.
	Free(b []byte)
}

// HeapAllocator allocates from the Go heap. A positive Limit caps the size
// of any single allocation, and with it the size a device can grow to.
// A zero Limit is meant for tests and embedding; a failed heap allocation
// is fatal to the process.
type HeapAllocator struct {
	Limit int64
}

// Alloc implements Allocator.
func (a HeapAllocator) Alloc(n int64) (b []byte, err error) {
	if n <= 0 {
		return nil, domain.ErrInvalidArgument.WithDetailsf("allocation size %d", n)
	}
	if (a.Limit > 0 && n > a.Limit) || n > maxAllocBytes || uint64(n) > uint64(math.MaxInt) {
		return nil, domain.ErrOutOfMemory.WithDetailsf("%d bytes requested", n)
	}
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, domain.ErrOutOfMemory.WithDetailsf("%d bytes requested: %v", n, r)
		}
	}()
	return make([]byte, n), nil
}

// Free implements Allocator. Heap memory is reclaimed by the garbage collector.
func (HeapAllocator) Free([]byte) {}

// Buffer is a growable byte region whose size is always a positive multiple
// of its page size. It never shrinks.
//
// Buffer is not safe for concurrent use; the owning Device serializes access.
type Buffer struct {
	data   []byte
	page   int64
	alloc  Allocator
	logger *slog.Logger
}

// NewBuffer allocates a zeroed buffer of at least size bytes, rounded up to
// a whole number of pages.
func NewBuffer(size, page int64, alloc Allocator, logger *slog.Logger) (*Buffer, error) {
	if page <= 0 {
		return nil, domain.ErrInvalidArgument.WithDetailsf("page size %d", page)
	}
	if size <= 0 {
		return nil, domain.ErrInvalidArgument.WithDetailsf("buffer size %d", size)
	}
	if alloc == nil {
		alloc = HeapAllocator{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	n, ok := roundUp(size, page)
	if !ok {
		return nil, domain.ErrOutOfMemory.WithDetailsf("%d bytes requested", size)
	}
	data, err := alloc.Alloc(n)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		data:   data,
		page:   page,
		alloc:  alloc,
		logger: logger,
	}, nil
}

// Size returns the logical size in bytes.
func (b *Buffer) Size() int64 {
	return int64(len(b.data))
}

// PageSize returns the growth unit.
func (b *Buffer) PageSize() int64 {
	return b.page
}

// EnsureCapacity grows the buffer so that it holds at least minSize bytes.
// Existing bytes are preserved and new bytes are zero. On failure the buffer
// is unchanged.
func (b *Buffer) EnsureCapacity(minSize int64) error {
	oldSize := b.Size()
	if minSize <= oldSize {
		return nil
	}

	newSize, ok := roundUp(minSize, b.page)
	if !ok {
		return domain.ErrOutOfMemory.WithDetailsf("%d bytes requested", minSize)
	}
	data, err := b.alloc.Alloc(newSize)
	if err != nil {
		return err
	}

	copy(data, b.data)
	b.alloc.Free(b.data)
	b.data = data

	b.logger.Debug("buffer grown", "old_size", oldSize, "new_size", newSize)
	return nil
}

// ReadAt copies bytes starting at off into p and returns the number copied.
// Reads starting at or past the end return 0. Reads running past the end are
// clamped to the end.
func (b *Buffer) ReadAt(p []byte, off int64) int {
	size := b.Size()
	if off < 0 || off >= size {
		return 0
	}

	count := int64(len(p))
	if count > size-off {
		b.logger.Debug("read clamped at end of buffer",
			"offset", off,
			"requested", count,
			"available", size-off)
		count = size - off
	}

	return copy(p[:count], b.data[off:off+count])
}

// WriteAt copies p into the buffer at off. The write happens in full or not
// at all: if it would run past the end, ErrOutOfBounds is returned and the
// buffer is untouched. WriteAt never grows the buffer.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	size := b.Size()
	if off < 0 || off > size || int64(len(p)) > size-off {
		return 0, domain.ErrOutOfBounds.WithDetailsf("offset %d length %d size %d", off, len(p), size)
	}
	return copy(b.data[off:], p), nil
}

// Clear zeroes the whole buffer without changing its size.
func (b *Buffer) Clear() {
	clear(b.data)
}

// Bytes returns the live backing slice. Callers must hold the device lock
// and must not retain it.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// release returns the memory to the allocator. The buffer is unusable after.
func (b *Buffer) release() {
	if b.data == nil {
		return
	}
	b.alloc.Free(b.data)
	b.data = nil
}

// roundUp returns n rounded up to a multiple of page, reporting false on overflow.
func roundUp(n, page int64) (int64, bool) {
	pages := n / page
	if n%page != 0 {
		pages++
	}
	if pages > math.MaxInt64/page {
		return 0, false
	}
	return pages * page, true
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{size=%d page=%d}", b.Size(), b.page)
}
