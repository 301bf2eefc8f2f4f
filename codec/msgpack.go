package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is the codec for disk result-cache files.
//
// Result lists can run to hundreds of thousands of entries; msgpack keeps
// the files compact and fast to load while remaining self-describing.
type Msgpack struct{}

// Marshal encodes the value to msgpack.
func (Msgpack) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

// Unmarshal decodes the msgpack data into v.
func (Msgpack) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// Name returns the unique name of the codec ("msgpack").
func (Msgpack) Name() string { return "msgpack" }
