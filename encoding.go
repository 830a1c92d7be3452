package formstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// encodeRow produces the data bucket value of a row: a msgpack map keyed by
// field name, absent values omitted.
func encodeRow(buf []byte, row *Row) []byte {
	m := make(map[string]any, len(row.values))
	for _, f := range row.rel.fields {
		v := row.values[f.pos]
		switch v := v.(type) {
		case nil:
			continue
		case decimal.Decimal:
			m[f.Name] = CanonicalDecimal(v)
		case time.Time:
			m[f.Name] = v.UTC()
		default:
			m[f.Name] = v
		}
	}

	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(m)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %s row using MsgPack: %w", row.rel.name, err))
	}
	return bb.Buf
}

// decodeRow reads a data bucket value. The result still has to go through
// MapRow: msgpack hands back times in the local zone and decimals as strings.
func decodeRow(data []byte) (RawMap, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	dec.UseLooseInterfaceDecoding(true)
	var m map[string]any
	err := dec.Decode(&m)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(data, 0, err, "failed to decode msgpack row")
	}
	return RawMap(m), nil
}

type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = append(bb.Buf, b...)
	return len(b), nil
}

// Index keys: escaped value, terminator, ordinal, URI. Escaping keeps the
// byte order of values and makes one value's keys a contiguous prefix range
// that no other value's keys fall into.
const (
	escByte    = 0x00
	escEscaped = 0xFF
	escEnd     = 0x01
)

func appendIndexValuePrefix(buf []byte, value string) []byte {
	for i := 0; i < len(value); i++ {
		c := value[i]
		buf = append(buf, c)
		if c == escByte {
			buf = append(buf, escEscaped)
		}
	}
	return append(buf, escByte, escEnd)
}

func appendIndexKey(buf []byte, value string, ordinal int64, uri string) []byte {
	buf = appendIndexValuePrefix(buf, value)
	buf = binary.BigEndian.AppendUint64(buf, uint64(ordinal)^(1<<63))
	return append(buf, uri...)
}

// decodeIndexKey returns the URI stored at the end of an index key.
func decodeIndexKey(key []byte) (string, error) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] != escByte {
			continue
		}
		switch key[i+1] {
		case escEscaped:
			i++
		case escEnd:
			rest := key[i+2:]
			if len(rest) < 8 {
				return "", dataErrf(key, i+2, nil, "index key too short")
			}
			return string(rest[8:]), nil
		default:
			return "", dataErrf(key, i, nil, "invalid escape in index key")
		}
	}
	return "", dataErrf(key, 0, nil, "unterminated index key")
}
