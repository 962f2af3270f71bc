// Package source provides the immutable content bundles that tree nodes
// serve: a name, a MIME type and the bytes themselves.
//
// A Source never changes after construction. Nodes replace their cached
// Source wholesale when the file on disk changes or a plugin produces a
// transformed rendition, so readers holding an older Source keep a
// consistent view.
package source

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Props is the metadata attached to a Source
type Props struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Source is an immutable blob of servable content
type Source struct {
	props  Props
	data   []byte
	digest [32]byte
}

// FromBuffer creates a Source from an in-memory buffer. The buffer is
// copied, so the caller may reuse it afterwards.
func FromBuffer(buf []byte, props Props) *Source {
	data := bytes.Clone(buf)
	if data == nil {
		data = []byte{}
	}

	return &Source{
		props:  props,
		data:   data,
		digest: blake3.Sum256(data),
	}
}

// FromStream drains r into a new Source. The reader is not closed.
func FromStream(r io.Reader, props Props) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", props.Name, err)
	}

	return &Source{
		props:  props,
		data:   data,
		digest: blake3.Sum256(data),
	}, nil
}

// Props returns the name and type of the content
func (s *Source) Props() Props {
	return s.props
}

// Name returns the display name of the content
func (s *Source) Name() string {
	return s.props.Name
}

// Type returns the MIME type of the content
func (s *Source) Type() string {
	return s.props.Type
}

// Length returns the content size in bytes
func (s *Source) Length() int64 {
	return int64(len(s.data))
}

// Raw returns a fresh reader positioned at the start of the content
func (s *Source) Raw() io.Reader {
	return bytes.NewReader(s.data)
}

// Bytes returns a copy of the content
func (s *Source) Bytes() []byte {
	return bytes.Clone(s.data)
}

// Digest returns the hex encoded BLAKE3 hash of the content
func (s *Source) Digest() string {
	return hex.EncodeToString(s.digest[:])
}

// ETag returns a strong entity tag derived from the content and its type.
// Two sources with identical bytes but different types get different tags.
func (s *Source) ETag() string {
	hasher := blake3.New()
	hasher.Write(s.digest[:])
	hasher.Write([]byte(s.props.Type))
	sum := hasher.Sum(nil)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// String implements fmt.Stringer
func (s *Source) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", s.props.Name, s.props.Type, len(s.data))
}
