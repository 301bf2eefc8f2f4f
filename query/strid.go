package query

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// String ids are the human-readable query identifiers embedded in cache and
// artifact filenames:
//
//	text__{my+query+text}
//	image__11fd2ea8
//	refine__prevqsid[ab12c]__{...}
//
// Text-style definitions keep their (escaped) text between braces so disk
// caches remain inspectable; structured definitions use a short content
// hash. Only text-style ids can be decoded back into a query string.

const (
	stridHashLen    = 8
	stridPrevQSIDLn = 5
)

var stridTextRe = regexp.MustCompile(`\{(.+)\}`)

// StrID returns the string id of q. The text component is escaped, so the
// id is always safe to embed in a filename.
func (q Query) StrID() string {
	var body string
	if d, ok := q.Def.(TextDef); ok {
		body = "{" + escapeQueryText(string(d)) + "}"
	} else {
		body = q.DefHash()[:stridHashLen]
	}

	if q.PrevQSID != "" {
		prev := q.PrevQSID
		if len(prev) > stridPrevQSIDLn {
			prev = prev[:stridPrevQSIDLn]
		}
		body = fmt.Sprintf("prevqsid[%s]__%s", prev, body)
	}

	return fmt.Sprintf("%s__%s", string(q.Qtype), body)
}

// StrIDDecodeError is returned when a string id cannot be decoded back into
// a query string.
type StrIDDecodeError struct {
	Msg string
}

func (e *StrIDDecodeError) Error() string { return "query: " + e.Msg }

// DecodeStrID recovers the query text and qtype from a string id. Only ids
// of type text can be decoded; all other types embed a one-way hash.
func DecodeStrID(strid string) (string, Qtype, error) {
	qtype := Qtype(strings.SplitN(strid, "__", 2)[0])
	if qtype != Text {
		return "", "", &StrIDDecodeError{Msg: "only string ids of type text can be decoded"}
	}

	m := stridTextRe.FindStringSubmatch(strid)
	if m == nil {
		return "", "", &StrIDDecodeError{Msg: "could not parse query text from string id"}
	}

	text, err := unescapeQueryText(m[1])
	if err != nil {
		return "", "", &StrIDDecodeError{Msg: "could not unescape query text: " + err.Error()}
	}

	return text, qtype, nil
}

// Replacement table for characters that are either path separators or break
// downstream filename pattern matching. Applied before percent-encoding;
// the longest escape sequences are reversed first so unescaping is
// unambiguous.
var (
	escapeQueryReplacer = strings.NewReplacer(
		"'", "_-_",
		`"`, "_--_",
		"/", "-_-",
		";", "_____",
		":", "____",
		",", "___",
	)
	unescapeQueryReplacer = strings.NewReplacer(
		"_____", ";",
		"____", ":",
		"___", ",",
		"_--_", `"`,
		"-_-", "/",
		"_-_", "'",
	)
)

// escapeQueryText makes arbitrary user-entered query text safe to embed in a
// filename. The historical replacement table is kept for compatibility with
// existing disk caches; query-escaping afterwards covers every remaining
// unsafe rune rather than an enumerated list.
func escapeQueryText(text string) string {
	return url.QueryEscape(escapeQueryReplacer.Replace(text))
}

func unescapeQueryText(escaped string) (string, error) {
	text, err := url.QueryUnescape(escaped)
	if err != nil {
		return "", err
	}
	return unescapeQueryReplacer.Replace(text), nil
}
