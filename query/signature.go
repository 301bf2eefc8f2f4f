package query

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/visq/visq/codec"
)

// sigSep joins signature components. Components are path-escaped before
// joining, so the separator can never occur inside a component and distinct
// (engine, dsetname, qtype, hash) tuples can never collide.
const sigSep = "/"

// SignatureOpts selects which query fields, besides the definition hash, are
// folded into the signature.
type SignatureOpts struct {
	IncludeEngine   bool
	IncludeQtype    bool
	IncludeDsetname bool
}

// AllSignatureOpts includes engine, qtype and dsetname. This is the form
// used for cache and dedup keys.
var AllSignatureOpts = SignatureOpts{
	IncludeEngine:   true,
	IncludeQtype:    true,
	IncludeDsetname: true,
}

// hashDefinition returns the hex content hash of the canonical JSON
// serialization of def. The canonical codec sorts map keys, so the hash is
// stable across calls and process restarts.
func hashDefinition(def Definition) string {
	b, err := codec.Canonical.Marshal(def)
	if err != nil {
		// Definitions are plain strings, slices and string maps; the
		// canonical codec cannot fail on them.
		panic("query: canonical serialization failed: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DefHash returns the memoized content hash of the query definition.
func (q Query) DefHash() string {
	if q.defHash == "" {
		// Zero-value or hand-built query; fall back to computing on demand.
		return hashDefinition(q.Def)
	}
	return q.defHash
}

// Signature returns the full canonical signature of q, including engine,
// dsetname and qtype.
func (q Query) Signature() string {
	return q.SignatureWith(AllSignatureOpts)
}

// SignatureWith returns the canonical signature of q with selective field
// inclusion.
func (q Query) SignatureWith(opts SignatureOpts) string {
	parts := make([]string, 0, 4)
	if opts.IncludeEngine {
		parts = append(parts, url.PathEscape(q.Engine))
	}
	if opts.IncludeDsetname {
		parts = append(parts, url.PathEscape(q.Dsetname))
	}
	if opts.IncludeQtype {
		parts = append(parts, url.PathEscape(string(q.Qtype)))
	}
	parts = append(parts, q.DefHash())

	return strings.Join(parts, sigSep)
}
