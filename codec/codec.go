// Package codec centralizes payload encoding for the wire protocol, the
// disk result cache and signature hashing.
//
// Codec selection is a compatibility boundary: disk result files written
// with one codec are unreadable by another, and the canonical codec feeds
// the query signature hash. Changing either invalidates existing caches.
package codec

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	case "msgpack":
		return Msgpack{}, true
	default:
		return nil, false
	}
}

// Default is the codec used for backend wire payloads.
var Default Codec = GoJSON{}

// Canonical is the codec used to serialize query definitions before
// hashing. It must be deterministic (map keys sorted); the standard-library
// JSON encoder guarantees this.
var Canonical Codec = JSON{}

// Results is the codec used for disk result-cache files.
var Results Codec = Msgpack{}
