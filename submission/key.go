package submission

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/andreyvit/formstore"
)

// ErrMalformedKey is wrapped by the *formstore.ParseError returned for a
// submission key string that does not follow the grammar.
var ErrMalformedKey = fmt.Errorf("malformed submission key: %w", formstore.ErrInvalidSchema)

// KeyPart addresses one step of a submission tree. Ordinal is zero when
// absent.
type KeyPart struct {
	Name    string
	Ordinal int64
	Auri    string
}

func (p KeyPart) String() string {
	var buf strings.Builder
	p.appendTo(&buf)
	return buf.String()
}

func (p KeyPart) appendTo(buf *strings.Builder) {
	buf.WriteString(p.Name)
	if p.Ordinal > 0 {
		buf.WriteByte('[')
		buf.WriteString(strconv.FormatInt(p.Ordinal, 10))
		buf.WriteByte(']')
	}
	if p.Auri != "" {
		buf.WriteByte('#')
		buf.WriteString(p.Auri)
	}
}

// SubmissionKey is a slash-delimited path of parts, each one of name,
// name[ordinal], name[ordinal]#auri or name#auri.
type SubmissionKey []KeyPart

func (k SubmissionKey) String() string {
	var buf strings.Builder
	for i, p := range k {
		if i > 0 {
			buf.WriteByte('/')
		}
		p.appendTo(&buf)
	}
	return buf.String()
}

// Append returns a new key with p added at the end.
func (k SubmissionKey) Append(p KeyPart) SubmissionKey {
	r := make(SubmissionKey, len(k), len(k)+1)
	copy(r, k)
	return append(r, p)
}

func ParseKey(s string) (SubmissionKey, error) {
	if s == "" {
		return nil, malformedKey(s, "empty key")
	}
	var key SubmissionKey
	for _, part := range strings.Split(s, "/") {
		p, err := parseKeyPart(part)
		if err != nil {
			return nil, malformedKey(s, err.Error())
		}
		key = append(key, p)
	}
	return key, nil
}

func MustParseKey(s string) SubmissionKey {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func parseKeyPart(s string) (KeyPart, error) {
	var p KeyPart
	if i := strings.IndexByte(s, '#'); i >= 0 {
		p.Auri = s[i+1:]
		if p.Auri == "" {
			return p, fmt.Errorf("empty auri in %q", s)
		}
		s = s[:i]
	}
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return p, fmt.Errorf("unterminated ordinal in %q", s)
		}
		n, err := strconv.ParseInt(s[i+1:len(s)-1], 10, 64)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid ordinal in %q", s)
		}
		p.Ordinal = n
		s = s[:i]
	}
	if s == "" || strings.ContainsAny(s, "[]") {
		return p, fmt.Errorf("invalid element name %q", s)
	}
	p.Name = s
	return p, nil
}

func malformedKey(input, msg string) error {
	return &formstore.ParseError{
		What:  "submission key",
		Input: input,
		Err:   fmt.Errorf("%w: %s", ErrMalformedKey, msg),
	}
}
