// Package codec centralizes the encoding of persisted vat records.
//
// Virtual object state, collection schemata and capdata bodies are written
// to the store through a Codec. Changing the codec of an existing store is a
// breaking change: records written by one codec may not decode with another.
// Vat.Open records the codec name in the store and refuses a mismatch.
package codec

import (
	"encoding/json"
	"fmt"

	gojson "github.com/goccy/go-json"
)

// Codec encodes and decodes store records. Implementations must be
// stateless.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Name is recorded in the store under the codec key.
	Name() string
}

// Default is the codec used for new stores.
var Default Codec = GoJSON{}

// ByName returns a built-in codec by its recorded name.
func ByName(name string) (Codec, bool) {
	switch name {
	case JSON{}.Name():
		return JSON{}, true
	case GoJSON{}.Name():
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal encodes v with c, or Default when c is nil, and panics on
// error. Tests use it to build raw records.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s: %w", c.Name(), err))
	}
	return b
}

// GoJSON encodes with github.com/goccy/go-json. Its output is
// byte-compatible with JSON, so the two decode each other's records.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
func (GoJSON) Name() string                       { return "go-json" }

// JSON encodes with encoding/json.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                       { return "json" }
