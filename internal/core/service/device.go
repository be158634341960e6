package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/memdev-go/internal/core/domain"
	"github.com/yndnr/memdev-go/internal/storage/memory"
	"github.com/yndnr/memdev-go/internal/telemetry/metric"
	"github.com/yndnr/memdev-go/pkg/cmap"
)

// DefaultMaxIOSize bounds a single read or write request.
const DefaultMaxIOSize = 1 << 20

// DeviceService manages open handles on a device table.
type DeviceService struct {
	table   *memory.Table
	nodes   *memory.NodeRegistry
	handles *cmap.Map[string, *openHandle]

	metrics   *metric.Registry
	logger    *slog.Logger
	maxIOSize int
}

type openHandle struct {
	id       string
	owner    string
	openedAt time.Time
	h        *memory.Handle
}

func (o *openHandle) info() domain.HandleInfo {
	return domain.HandleInfo{
		ID:       o.id,
		DeviceID: o.h.Device().ID(),
		Offset:   o.h.Offset(),
		Owner:    o.owner,
		OpenedAt: o.openedAt,
	}
}

// Option configures the DeviceService.
type Option func(*DeviceService)

// WithMetrics records operation metrics to m.
func WithMetrics(m *metric.Registry) Option {
	return func(s *DeviceService) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *DeviceService) {
		s.logger = l
	}
}

// WithMaxIOSize bounds the byte count of a single read or write.
func WithMaxIOSize(n int) Option {
	return func(s *DeviceService) {
		if n > 0 {
			s.maxIOSize = n
		}
	}
}

// NewDeviceService creates a service over table. nodes resolves device names
// and must be the registrar the table was built with.
func NewDeviceService(table *memory.Table, nodes *memory.NodeRegistry, opts ...Option) *DeviceService {
	s := &DeviceService{
		table:     table,
		nodes:     nodes,
		handles:   cmap.New[string, *openHandle](),
		logger:    slog.Default(),
		maxIOSize: DefaultMaxIOSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.metrics.SetDevices(table.Len())
	}
	return s
}

// GrowHook returns a table grow hook that records growth to m and logs it.
func GrowHook(m *metric.Registry, logger *slog.Logger) func(id int, from, to int64) {
	return func(id int, from, to int64) {
		if m != nil {
			m.RecordGrow(from, to)
		}
		if logger != nil {
			logger.Info("device grown", "device", domain.NodeName(id), "from", from, "to", to)
		}
	}
}

// track starts timing op. The returned func records the outcome held in
// *errp; call it deferred.
func (s *DeviceService) track(op string) func(errp *error) {
	start := time.Now()
	return func(errp *error) {
		if s.metrics != nil {
			s.metrics.RecordOp(op, *errp, time.Since(start).Seconds())
		}
	}
}

func (s *DeviceService) lookup(name string) (*memory.Device, error) {
	if s.nodes != nil {
		return s.nodes.Lookup(name)
	}
	id, err := domain.ParseNodeName(name)
	if err != nil {
		return nil, err
	}
	return s.table.Device(id)
}

func (s *DeviceService) handle(id string) (*openHandle, error) {
	if id == "" {
		return nil, domain.ErrMissingArgument.WithDetails("handle id is required")
	}
	o, ok := s.handles.Get(id)
	if !ok {
		return nil, domain.ErrHandleNotFound.WithDetails(id)
	}
	return o, nil
}

// ============================================================================
// Handle Lifecycle
// ============================================================================

// OpenRequest contains parameters for opening a device.
type OpenRequest struct {
	Device string // Required: node name or device number
	Owner  string // Connection that holds the handle
}

// Open opens a handle with cursor 0 on the named device.
func (s *DeviceService) Open(ctx context.Context, req *OpenRequest) (info domain.HandleInfo, err error) {
	defer s.track("open")(&err)

	if req.Device == "" {
		return domain.HandleInfo{}, domain.ErrMissingArgument.WithDetails("device is required")
	}
	dev, err := s.lookup(req.Device)
	if err != nil {
		return domain.HandleInfo{}, err
	}
	id, err := domain.GenerateHandleID()
	if err != nil {
		return domain.HandleInfo{}, err
	}
	h, err := s.table.Open(ctx, dev.ID())
	if err != nil {
		return domain.HandleInfo{}, err
	}

	o := &openHandle{id: id, owner: req.Owner, openedAt: time.Now(), h: h}
	s.handles.Set(id, o)
	if s.metrics != nil {
		s.metrics.IncHandles()
	}

	s.logger.Debug("handle opened", "handle", id, "device", dev.Name(), "owner", req.Owner)
	return o.info(), nil
}

// Close releases a handle.
func (s *DeviceService) Close(id string) (err error) {
	defer s.track("close")(&err)

	if id == "" {
		return domain.ErrMissingArgument.WithDetails("handle id is required")
	}
	o, ok := s.handles.Pop(id)
	if !ok {
		return domain.ErrHandleNotFound.WithDetails(id)
	}
	return s.release(o)
}

func (s *DeviceService) release(o *openHandle) error {
	if err := o.h.Release(); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.DecHandles()
	}
	s.logger.Debug("handle closed", "handle", o.id, "owner", o.owner)
	return nil
}

// CloseOwner releases every handle held by owner and returns how many were
// released.
func (s *DeviceService) CloseOwner(owner string) int {
	var ids []string
	s.handles.Range(func(id string, o *openHandle) bool {
		if o.owner == owner {
			ids = append(ids, id)
		}
		return true
	})

	n := 0
	for _, id := range ids {
		if o, ok := s.handles.Pop(id); ok {
			if err := s.release(o); err == nil {
				n++
			}
		}
	}
	if n > 0 {
		s.logger.Debug("released owner handles", "owner", owner, "count", n)
	}
	return n
}

// CloseAll releases every open handle. It is used at shutdown.
func (s *DeviceService) CloseAll() int {
	n := 0
	for _, o := range s.handles.Values() {
		if _, ok := s.handles.Pop(o.id); ok {
			if err := s.release(o); err == nil {
				n++
			}
		}
	}
	return n
}

// ============================================================================
// Handle Operations
// ============================================================================

// Read reads up to count bytes at the handle's cursor.
func (s *DeviceService) Read(ctx context.Context, id string, count int) (data []byte, err error) {
	defer s.track("read")(&err)

	if count < 0 || count > s.maxIOSize {
		return nil, domain.ErrInvalidArgument.WithDetailsf("count %d outside [0, %d]", count, s.maxIOSize)
	}
	o, err := s.handle(id)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, count)
	n, err := o.h.ReadContext(ctx, buf)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AddBytes(metric.DirectionRead, n)
	}
	return buf[:n], nil
}

// Write writes all of data at the handle's cursor, or nothing.
func (s *DeviceService) Write(ctx context.Context, id string, data []byte) (n int, err error) {
	defer s.track("write")(&err)

	if len(data) > s.maxIOSize {
		return 0, domain.ErrInvalidArgument.WithDetailsf("length %d exceeds %d", len(data), s.maxIOSize)
	}
	o, err := s.handle(id)
	if err != nil {
		return 0, err
	}

	n, err = o.h.WriteContext(ctx, data)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.AddBytes(metric.DirectionWrite, n)
	}
	return n, nil
}

// Seek moves the handle's cursor, growing the device if needed.
func (s *DeviceService) Seek(ctx context.Context, id string, offset int64, whence domain.Whence) (pos int64, err error) {
	defer s.track("seek")(&err)

	o, err := s.handle(id)
	if err != nil {
		return 0, err
	}
	return o.h.SeekContext(ctx, offset, whence)
}

// Ioctl runs a control command on the handle's device.
func (s *DeviceService) Ioctl(ctx context.Context, id string, cmd domain.Command) (err error) {
	defer s.track("ioctl")(&err)

	o, err := s.handle(id)
	if err != nil {
		return err
	}
	return o.h.Ioctl(ctx, cmd)
}

// Reset clears the handle's device.
func (s *DeviceService) Reset(ctx context.Context, id string) error {
	return s.Ioctl(ctx, id, domain.CmdClearBuffer)
}

// Handle returns the state of one open handle.
func (s *DeviceService) Handle(id string) (domain.HandleInfo, error) {
	o, err := s.handle(id)
	if err != nil {
		return domain.HandleInfo{}, err
	}
	return o.info(), nil
}

// ListHandles returns the open handles held by owner, or all handles if
// owner is empty, ordered by ID.
func (s *DeviceService) ListHandles(owner string) []domain.HandleInfo {
	var out []domain.HandleInfo
	s.handles.Range(func(_ string, o *openHandle) bool {
		if owner == "" || o.owner == owner {
			out = append(out, o.info())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================================
// Device Inspection
// ============================================================================

// ListDevices returns every device's state in ID order.
func (s *DeviceService) ListDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	devs := s.table.Devices()
	out := make([]domain.DeviceInfo, 0, len(devs))
	for _, d := range devs {
		info, err := d.Info(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Device returns the state of the named device.
func (s *DeviceService) Device(ctx context.Context, name string) (domain.DeviceInfo, error) {
	dev, err := s.lookup(name)
	if err != nil {
		return domain.DeviceInfo{}, err
	}
	return dev.Info(ctx)
}

// Checksum returns the hex murmur3 128-bit digest of the named device's
// full contents, taken under the device lock.
func (s *DeviceService) Checksum(ctx context.Context, name string) (sum string, err error) {
	defer s.track("checksum")(&err)

	dev, err := s.lookup(name)
	if err != nil {
		return "", err
	}
	var h1, h2 uint64
	err = dev.View(ctx, func(data []byte) error {
		h1, h2 = murmur3.Sum128(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x%016x", h1, h2), nil
}

// Stats summarizes the service.
type Stats struct {
	Devices     int   `json:"devices" yaml:"devices"`
	OpenHandles int   `json:"open_handles" yaml:"open_handles"`
	TotalBytes  int64 `json:"total_bytes" yaml:"total_bytes"`
}

// Stats returns device and handle counts and the total device size.
func (s *DeviceService) Stats(ctx context.Context) (Stats, error) {
	devs, err := s.ListDevices(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Devices: len(devs), OpenHandles: s.handles.Count()}
	for _, d := range devs {
		st.TotalBytes += d.Size
	}
	return st, nil
}

// scrapeTimeout bounds how long a metrics scrape waits on a busy device.
const scrapeTimeout = 100 * time.Millisecond

// DeviceSamples implements metric.DeviceSource. Devices still locked after
// a short wait are skipped for this scrape.
func (s *DeviceService) DeviceSamples() []metric.DeviceSample {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	var out []metric.DeviceSample
	for _, d := range s.table.Devices() {
		info, err := d.Info(ctx)
		if err != nil {
			continue
		}
		out = append(out, metric.DeviceSample{
			Name:        info.Name,
			Size:        info.Size,
			OpenHandles: info.OpenHandles,
			Reset:       info.Reset,
		})
	}
	return out
}
