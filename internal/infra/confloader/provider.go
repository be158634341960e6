package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

// ErrReadBytesNotSupported is returned when ReadBytes is called on a map provider.
var ErrReadBytesNotSupported = errors.New("confloader: ReadBytes not supported by map provider, use Read() instead")

// mapProvider loads configuration from an in-memory map. Dotted keys are
// expanded into nested maps so they unmarshal like file and env values.
type mapProvider struct {
	data  map[string]any
	delim string
}

func newMapProvider(data map[string]any, delim string) mapProvider {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return mapProvider{data: cp, delim: delim}
}

// ReadBytes is not supported; koanf uses Read.
func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

// Read returns the configuration as nested maps.
func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m.data, m.delim), nil
}
