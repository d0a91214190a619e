package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxValueLength is the largest value length (in bytes) a single metadata
// record may declare (0 ≤ L ≤ 2^29).
const MaxValueLength = 1 << 29

// DefaultMaxPropertiesSize caps the total encoded size of a Properties
// value, bounding server memory per connection; used whenever a caller
// doesn't have a tighter, command-specific bound to enforce.
const DefaultMaxPropertiesSize = 64 * 1024

var (
	// ErrPropertiesTooLarge is returned by DecodeProperties when the input
	// exceeds the caller-supplied maxSize, and by Encode when a single value
	// exceeds MaxValueLength.
	ErrPropertiesTooLarge = errors.New("wire: metadata exceeds size limit")
	// ErrPropertiesMalformed is returned on any structurally invalid
	// record (truncated name, truncated value, zero-length name).
	ErrPropertiesMalformed = errors.New("wire: malformed metadata record")
)

// Properties is the name/value property list carried inside INITIATE and
// READY. Names are always stored lowercased (alphabetic characters only —
// non-letters pass through unchanged); values are arbitrary
// bytes.
type Properties map[string][]byte

// NewProperties returns an empty property list.
func NewProperties() Properties {
	return make(Properties)
}

// Set stores value under the lowercased form of name. A later Set with the
// same lowercased name overwrites the earlier one (last occurrence wins).
func (p Properties) Set(name string, value []byte) {
	p[lowerASCII(name)] = value
}

// SetString is a convenience wrapper for string-valued metadata, the common
// case for well-known keys like "Identity" or "Socket-Type".
func (p Properties) SetString(name, value string) {
	p.Set(name, []byte(value))
}

// Get returns the value stored for name (matched case-insensitively) and
// whether it was present.
func (p Properties) Get(name string) ([]byte, bool) {
	v, ok := p[lowerASCII(name)]
	return v, ok
}

// GetString is the string-returning counterpart to Get.
func (p Properties) GetString(name string) (string, bool) {
	v, ok := p.Get(name)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Encode serializes p as a concatenation of (name, value) records:
// 1-byte name length, name bytes, 4-byte big-endian value length, value
// bytes. Keys are encoded in sorted order for determinism; the wire format
// does not require a particular order, only that names be unique after
// lowercasing, which the map type already guarantees.
func (p Properties) Encode() ([]byte, error) {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := new(bytes.Buffer)
	for _, name := range names {
		value := p[name]
		if len(name) == 0 || len(name) > 255 {
			return nil, fmt.Errorf("%w: name %q out of range", ErrPropertiesMalformed, name)
		}
		if len(value) > MaxValueLength {
			return nil, fmt.Errorf("%w: value for %q too long", ErrPropertiesTooLarge, name)
		}
		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
		if err := binary.Write(buf, binary.BigEndian, uint32(len(value))); err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	return buf.Bytes(), nil
}

// DecodeProperties parses a Properties value out of data. maxSize bounds
// the total number of bytes DecodeProperties is willing to consume; callers
// should pass the enclosing command's own size limit (this package's
// DefaultMaxPropertiesSize when there is no tighter one). Names
// are lowercased on parse; a later record silently overwrites an earlier
// one with the same lowercased name.
func DecodeProperties(data []byte, maxSize int) (Properties, error) {
	if len(data) > maxSize {
		return nil, ErrPropertiesTooLarge
	}

	props := NewProperties()
	for len(data) > 0 {
		if len(data) < 1 {
			return nil, ErrPropertiesMalformed
		}
		nameLen := int(data[0])
		data = data[1:]
		if nameLen == 0 || len(data) < nameLen {
			return nil, ErrPropertiesMalformed
		}
		name := lowerASCII(string(data[:nameLen]))
		data = data[nameLen:]

		if len(data) < 4 {
			return nil, ErrPropertiesMalformed
		}
		valueLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if valueLen > MaxValueLength || uint64(valueLen) > uint64(len(data)) {
			return nil, ErrPropertiesMalformed
		}
		value := make([]byte, valueLen)
		copy(value, data[:valueLen])
		data = data[valueLen:]

		props[name] = value
	}
	return props, nil
}

// lowerASCII lowercases only ASCII alphabetic characters, leaving every
// other byte (digits, hyphens, non-ASCII) untouched.
func lowerASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
