// Package domain defines the core domain models for memdev.
//
// Domain models are pure value objects without any IO dependencies.
package domain

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NodePrefix is the prefix of a device's externally visible node name.
const NodePrefix = "memdev"

// HandleIDPrefix is the prefix of handle IDs.
// Format: mdh-{ulid_lowercase}, 30 characters total.
const HandleIDPrefix = "mdh-"

const handleIDLen = len(HandleIDPrefix) + ulid.EncodedSize

// Whence selects the origin of a seek.
type Whence int

// Seek origins. The values match io.SeekStart, io.SeekCurrent and io.SeekEnd.
const (
	SeekStart   Whence = 0
	SeekCurrent Whence = 1
	SeekEnd     Whence = 2
)

// String returns the origin name.
func (w Whence) String() string {
	switch w {
	case SeekStart:
		return "start"
	case SeekCurrent:
		return "current"
	case SeekEnd:
		return "end"
	default:
		return "whence(" + strconv.Itoa(int(w)) + ")"
	}
}

// ParseWhence accepts a numeric origin or one of start, current, end (also set, cur).
func ParseWhence(s string) (Whence, error) {
	switch strings.ToLower(s) {
	case "start", "set":
		return SeekStart, nil
	case "current", "cur":
		return SeekCurrent, nil
	case "end":
		return SeekEnd, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrInvalidArgument.WithDetailsf("whence %q", s)
	}
	return Whence(n), nil
}

// Command is a device control code.
type Command uint32

// CmdClearBuffer zeroes the device and puts it in the reset state.
// Its value is the classic _IO(0x37, 0) encoding.
const CmdClearBuffer Command = 0x37<<8 | 0

// ParseCommand accepts a decimal or 0x-prefixed command code, or "clear".
func ParseCommand(s string) (Command, error) {
	if strings.EqualFold(s, "clear") {
		return CmdClearBuffer, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, ErrInvalidArgument.WithDetailsf("command %q", s)
	}
	return Command(n), nil
}

// DeviceInfo describes a device at a point in time.
type DeviceInfo struct {
	ID          int    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Size        int64  `json:"size" yaml:"size"`
	Reset       bool   `json:"reset" yaml:"reset"`
	OpenHandles int    `json:"open_handles" yaml:"open_handles"`
}

// HandleInfo describes an open session handle.
type HandleInfo struct {
	ID       string    `json:"id" yaml:"id"`
	DeviceID int       `json:"device_id" yaml:"device_id"`
	Offset   int64     `json:"offset" yaml:"offset"`
	Owner    string    `json:"owner,omitempty" yaml:"owner,omitempty"`
	OpenedAt time.Time `json:"opened_at" yaml:"opened_at"`
}

// NodeName returns the node name of device id, e.g. "memdev0".
func NodeName(id int) string {
	return NodePrefix + strconv.Itoa(id)
}

// ParseNodeName accepts "memdev<N>" or a bare "<N>" and returns N.
func ParseNodeName(name string) (int, error) {
	s := strings.TrimPrefix(name, NodePrefix)
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, ErrDeviceNotFound.WithDetails(fmt.Sprintf("%q", name))
	}
	return id, nil
}

// GenerateHandleID returns a new handle ID.
func GenerateHandleID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return HandleIDPrefix + strings.ToLower(id.String()), nil
}

// ValidateHandleID reports whether id is a well-formed handle ID.
func ValidateHandleID(id string) bool {
	if len(id) != handleIDLen || !strings.HasPrefix(id, HandleIDPrefix) {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(id[len(HandleIDPrefix):]))
	return err == nil
}
