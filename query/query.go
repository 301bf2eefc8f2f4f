// Package query defines the immutable query value type shared by the
// orchestrator and every cache layer, together with the canonical signature
// used as the dedup/cache key.
//
// A Query is a tagged union over the five supported query types. Text and
// curated queries carry a plain string definition; image, dsetimage and
// refine queries carry a structured image list. Two queries are
// cache-equivalent iff their signatures match.
package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Qtype identifies the kind of a query.
type Qtype string

// Supported query types.
const (
	Text      Qtype = "text"      // free-text search, training images fetched externally
	Curated   Qtype = "curated"   // text search backed by a curated training directory
	Image     Qtype = "image"     // user-uploaded or downloaded images
	DsetImage Qtype = "dsetimage" // images taken from the dataset itself
	Refine    Qtype = "refine"    // relevance-feedback refinement of a previous query
)

// Valid reports whether t is one of the supported query types.
func (t Qtype) Valid() bool {
	switch t {
	case Text, Curated, Image, DsetImage, Refine:
		return true
	}
	return false
}

// Definition is the query definition payload. It is a sealed sum type:
// TextDef for text/curated queries, ImageListDef for the rest.
type Definition interface {
	isDefinition()
}

// TextDef is the definition of a text or curated query: the raw string the
// user typed.
type TextDef string

func (TextDef) isDefinition() {}

// ImageSpec describes one training image within an image-style query
// definition.
type ImageSpec struct {
	// Image is the path of the image, relative to the serving root of its
	// source directory.
	Image string `json:"image" msgpack:"image"`

	// Anno marks the image as positive (+1), negative (-1) or neutral (0)
	// training data. Positive is the default when decoding.
	Anno int `json:"anno,omitempty" msgpack:"anno,omitempty"`

	// ROI is an optional region of interest, encoded as 10 coordinates
	// (a closed 5-point polygon).
	ROI []float64 `json:"roi,omitempty" msgpack:"roi,omitempty"`

	// ExtraParams holds any additional parameters forwarded verbatim to the
	// backend.
	ExtraParams map[string]string `json:"extra_params,omitempty" msgpack:"extra_params,omitempty"`
}

// ImageListDef is the definition of an image, dsetimage or refine query.
type ImageListDef []ImageSpec

func (ImageListDef) isDefinition() {}

// Query is an immutable description of one search request.
//
// Construct queries with New; the zero value is not valid. The signature of
// the definition is computed once at construction so that repeated cache
// lookups do not re-serialize the definition.
type Query struct {
	Qtype    Qtype
	Def      Definition
	Dsetname string
	Engine   string

	// PrevQSID is the query session id of the query being refined. Only set
	// for refine-style requests.
	PrevQSID string

	defHash string // memoized content hash of Def
}

// New builds a Query from its components and memoizes the definition hash.
//
// A text definition starting with '#' denotes a curated query and is
// promoted accordingly. Returns an error when the qtype is unknown or the
// definition does not match the qtype.
func New(qtype Qtype, def Definition, dsetname, engine string) (Query, error) {
	if !qtype.Valid() {
		return Query{}, &UnsupportedQtypeError{Qtype: qtype}
	}

	switch d := def.(type) {
	case TextDef:
		if qtype != Text && qtype != Curated {
			return Query{}, fmt.Errorf("query: %s query requires an image list definition", qtype)
		}
		if qtype == Text && strings.HasPrefix(string(d), "#") {
			qtype = Curated
		}
	case ImageListDef:
		if qtype == Text || qtype == Curated {
			return Query{}, fmt.Errorf("query: %s query requires a text definition", qtype)
		}
	default:
		return Query{}, fmt.Errorf("query: unsupported definition type %T", def)
	}

	q := Query{
		Qtype:    qtype,
		Def:      def,
		Dsetname: dsetname,
		Engine:   engine,
	}
	q.defHash = hashDefinition(def)

	return q, nil
}

// WithPrevQSID returns a copy of q carrying the query session id of the
// query it refines.
func (q Query) WithPrevQSID(prevQSID string) Query {
	q.PrevQSID = prevQSID
	return q
}

// DefString renders the definition back into the string form used by the
// frontend: the raw text for text/curated queries, or the encoded image list
// otherwise.
func (q Query) DefString() string {
	switch d := q.Def.(type) {
	case TextDef:
		return string(d)
	case ImageListDef:
		return EncodeImageList(d)
	}
	return ""
}

// ParseDefString is the inverse of DefString for a given qtype.
func ParseDefString(qtype Qtype, s string) (Definition, error) {
	if qtype == Text || qtype == Curated {
		return TextDef(s), nil
	}
	return DecodeImageList(s)
}

// EncodeImageList encodes an image list definition into the frontend wire
// string: images separated by ';', parameters by ',', roi coordinates by '_'.
func EncodeImageList(def ImageListDef) string {
	var sb strings.Builder
	for i, img := range def {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(img.Image)
		if img.Anno != 1 {
			sb.WriteString(",anno:")
			sb.WriteString(strconv.Itoa(img.Anno))
		}
		if len(img.ROI) > 0 {
			sb.WriteString(",roi:")
			for j, v := range img.ROI {
				if j > 0 {
					sb.WriteByte('_')
				}
				sb.WriteString(strconv.Itoa(int(v)))
			}
		}
		for k, v := range img.ExtraParams {
			sb.WriteByte(',')
			sb.WriteString(k)
			sb.WriteByte(':')
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// DecodeImageList parses the frontend wire string of an image-style query
// definition.
func DecodeImageList(s string) (ImageListDef, error) {
	if s == "" {
		return nil, fmt.Errorf("query: empty image query definition")
	}

	var def ImageListDef
	for _, imageData := range strings.Split(s, ";") {
		params := strings.Split(imageData, ",")
		// Images without an explicit annotation are positive training data.
		img := ImageSpec{Image: params[0], Anno: 1}
		for _, p := range params[1:] {
			kv := strings.SplitN(p, ":", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("query: malformed image parameter %q", p)
			}
			switch kv[0] {
			case "roi":
				for _, c := range strings.Split(kv[1], "_") {
					f, err := strconv.ParseFloat(c, 64)
					if err != nil {
						return nil, fmt.Errorf("query: malformed roi coordinate %q: %w", c, err)
					}
					img.ROI = append(img.ROI, f)
				}
			case "anno":
				anno, err := strconv.Atoi(kv[1])
				if err != nil {
					return nil, fmt.Errorf("query: malformed anno value %q: %w", kv[1], err)
				}
				img.Anno = anno
			default:
				if img.ExtraParams == nil {
					img.ExtraParams = make(map[string]string)
				}
				img.ExtraParams[kv[0]] = kv[1]
			}
		}
		def = append(def, img)
	}
	return def, nil
}

// UnsupportedQtypeError is returned when a query carries a qtype outside the
// supported set.
type UnsupportedQtypeError struct {
	Qtype Qtype
}

func (e *UnsupportedQtypeError) Error() string {
	return fmt.Sprintf("query: unsupported qtype %q", string(e.Qtype))
}
