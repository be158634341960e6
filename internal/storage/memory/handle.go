package memory

import (
	"context"
	"io"
	"math"
	"sync/atomic"

	"github.com/yndnr/memdev-go/internal/core/domain"
)

// Handle is an open reference to a Device with its own cursor.
//
// Handles on the same device share its bytes and reset flag but never each
// other's cursor. The cursor is only changed under the device lock.
type Handle struct {
	dev    *Device
	pos    atomic.Int64
	closed atomic.Bool
}

var (
	_ io.ReadWriteSeeker = (*Handle)(nil)
	_ io.Closer          = (*Handle)(nil)
)

// Open binds a new handle with cursor 0 to device id and marks the device
// active, whatever state it was in.
func (t *Table) Open(ctx context.Context, id int) (*Handle, error) {
	dev, err := t.Device(id)
	if err != nil {
		return nil, err
	}
	if err := dev.lock(ctx); err != nil {
		return nil, err
	}
	dev.reset = false
	dev.open.Add(1)
	dev.unlock()

	dev.logger.Debug("device opened", "open_handles", dev.OpenHandles())
	return &Handle{dev: dev}, nil
}

// Device returns the device the handle is bound to.
func (h *Handle) Device() *Device {
	return h.dev
}

// Offset returns the current cursor.
func (h *Handle) Offset() int64 {
	return h.pos.Load()
}

// Closed reports whether Release has been called.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

func (h *Handle) acquire(ctx context.Context) error {
	if h.closed.Load() {
		return domain.ErrHandleClosed
	}
	return h.dev.lock(ctx)
}

// ReadContext reads up to len(p) bytes at the cursor and advances the cursor
// by the number read. A device in the reset state reads as empty until the
// next successful write, regardless of its contents.
func (h *Handle) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := h.acquire(ctx); err != nil {
		return 0, err
	}
	defer h.dev.unlock()

	if h.dev.reset {
		h.dev.logger.Debug("read on reset device", "position", h.pos.Load())
		return 0, nil
	}

	n := h.dev.buf.ReadAt(p, h.pos.Load())
	pos := h.pos.Add(int64(n))

	h.dev.logger.Debug("bytes read", "bytes", n, "position", pos)
	return n, nil
}

// WriteContext writes all of p at the cursor or nothing. A write that would
// run past the end of the device fails with ErrOutOfBounds and leaves the
// cursor and reset state unchanged; it never grows the device.
func (h *Handle) WriteContext(ctx context.Context, p []byte) (int, error) {
	if err := h.acquire(ctx); err != nil {
		return 0, err
	}
	defer h.dev.unlock()

	n, err := h.dev.buf.WriteAt(p, h.pos.Load())
	if err != nil {
		return 0, err
	}
	h.dev.reset = false
	pos := h.pos.Add(int64(n))

	h.dev.logger.Debug("bytes written", "bytes", n, "position", pos)
	return n, nil
}

// SeekContext moves the cursor. Negative targets are clamped to 0. A target
// past the end grows the device to the next page boundary first; if that
// fails the cursor and device are unchanged and ErrOutOfMemory is returned.
func (h *Handle) SeekContext(ctx context.Context, offset int64, whence domain.Whence) (int64, error) {
	if err := h.acquire(ctx); err != nil {
		return 0, err
	}
	defer h.dev.unlock()

	size := h.dev.buf.Size()

	var base int64
	switch whence {
	case domain.SeekStart:
		base = 0
	case domain.SeekCurrent:
		base = h.pos.Load()
	case domain.SeekEnd:
		base = size
	default:
		return 0, domain.ErrInvalidArgument.WithDetailsf("whence %d", int(whence))
	}

	target, ok := addOffset(base, offset)
	if !ok {
		// Bases are never negative, so overflow means a target past any
		// size that could be allocated.
		return 0, domain.ErrOutOfMemory.WithDetailsf("offset %d from %d overflows", offset, base)
	}
	if target < 0 {
		target = 0
	}

	if target > size {
		if err := h.dev.buf.EnsureCapacity(target); err != nil {
			h.dev.logger.Warn("device growth failed", "target", target, "size", size, "error", err)
			return 0, err
		}
		if h.dev.onGrow != nil {
			h.dev.onGrow(h.dev.id, size, h.dev.buf.Size())
		}
	}

	h.pos.Store(target)
	h.dev.logger.Debug("seek", "whence", whence.String(), "offset", offset, "position", target)
	return target, nil
}

// Ioctl runs a device control command. CmdClearBuffer zeroes the device,
// rewinds this handle and puts the device in the reset state; every other
// command fails with ErrNotSupported.
func (h *Handle) Ioctl(ctx context.Context, cmd domain.Command) error {
	if h.closed.Load() {
		return domain.ErrHandleClosed
	}
	if cmd != domain.CmdClearBuffer {
		return domain.ErrNotSupported.WithDetailsf("command %#x", uint32(cmd))
	}
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.dev.unlock()

	h.dev.buf.Clear()
	h.pos.Store(0)
	h.dev.reset = true

	h.dev.logger.Debug("device reset", "size", h.dev.buf.Size())
	return nil
}

// Reset is Ioctl with CmdClearBuffer.
func (h *Handle) Reset(ctx context.Context) error {
	return h.Ioctl(ctx, domain.CmdClearBuffer)
}

// Release discards the handle. The device is not changed.
func (h *Handle) Release() error {
	if !h.closed.CompareAndSwap(false, true) {
		return domain.ErrHandleClosed
	}
	h.dev.open.Add(-1)
	h.dev.logger.Debug("device closed", "open_handles", h.dev.OpenHandles())
	return nil
}

// Read implements io.Reader. An empty read of a non-empty p reports io.EOF.
func (h *Handle) Read(p []byte) (int, error) {
	n, err := h.ReadContext(context.Background(), p)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write implements io.Writer.
func (h *Handle) Write(p []byte) (int, error) {
	return h.WriteContext(context.Background(), p)
}

// Seek implements io.Seeker.
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	return h.SeekContext(context.Background(), offset, domain.Whence(whence))
}

// Close implements io.Closer.
func (h *Handle) Close() error {
	return h.Release()
}

func addOffset(base, offset int64) (int64, bool) {
	if offset > 0 && base > math.MaxInt64-offset {
		return 0, false
	}
	if offset < 0 && base < math.MinInt64-offset {
		return 0, false
	}
	return base + offset, true
}
