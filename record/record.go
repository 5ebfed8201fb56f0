// Package record packs rows and index keys into the record format: a
// varint header length, one varint serial type per field, then the field
// bodies.
package record

import (
	"encoding/binary"
	"math"

	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/util"
	"github.com/zhukovaskychina/xvdbe/value"
)

// SerialType returns the serial type that stores v.
func SerialType(v value.Value) uint64 {
	switch v.Kind() {
	case value.KindNull:
		return 0
	case value.KindInteger:
		i := v.Int()
		switch {
		case i == 0:
			return 8
		case i == 1:
			return 9
		case i >= -128 && i <= 127:
			return 1
		case i >= -32768 && i <= 32767:
			return 2
		case i >= -8388608 && i <= 8388607:
			return 3
		case i >= -2147483648 && i <= 2147483647:
			return 4
		case i >= -140737488355328 && i <= 140737488355327:
			return 5
		}
		return 6
	case value.KindReal:
		return 7
	case value.KindText:
		return uint64(v.Size())*2 + 13
	}
	return uint64(v.Size())*2 + 12
}

var intSizes = [...]int{0, 1, 2, 3, 4, 6, 8}

// SerialSize returns the body size of serial type t.
func SerialSize(t uint64) int {
	switch {
	case t >= 12:
		return int((t - 12) / 2)
	case t >= 1 && t <= 6:
		return intSizes[t]
	case t == 7:
		return 8
	}
	return 0
}

// Size returns the encoded size of vals.
func Size(vals []value.Value) int {
	hdr, body := sizes(vals)
	return hdr + body
}

func sizes(vals []value.Value) (hdr, body int) {
	for _, v := range vals {
		t := SerialType(v)
		hdr += util.VarintLen(t)
		body += SerialSize(t)
	}
	// the header length counts itself
	n := hdr + 1
	for util.VarintLen(uint64(n)) > n-hdr {
		n = hdr + util.VarintLen(uint64(n))
	}
	return n, body
}

// Encode packs vals into a new record.
func Encode(vals []value.Value) []byte {
	return Append(nil, vals)
}

// Append packs vals onto dst.
func Append(dst []byte, vals []value.Value) []byte {
	hdr, body := sizes(vals)
	dst = util.AppendVarint(dst, uint64(hdr))
	for _, v := range vals {
		dst = util.AppendVarint(dst, SerialType(v))
	}
	if cap(dst)-len(dst) < body {
		grown := make([]byte, len(dst), len(dst)+body)
		copy(grown, dst)
		dst = grown
	}
	for _, v := range vals {
		dst = appendBody(dst, v, SerialType(v))
	}
	return dst
}

func appendBody(dst []byte, v value.Value, t uint64) []byte {
	switch {
	case t >= 1 && t <= 6:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Int()))
		return append(dst, b[8-intSizes[t]:]...)
	case t == 7:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.Float()))
	case t >= 12:
		if v.Kind() == value.KindText {
			return append(dst, v.Str()...)
		}
		return append(dst, v.Bytes()...)
	}
	return dst
}

// header is the parsed header of a record.
type header struct {
	types   []uint64
	offsets []int
}

func parseHeader(rec []byte) (*header, error) {
	hlen, n := util.GetVarint(rec)
	if n == 0 || hlen < uint64(n) || hlen > uint64(len(rec)) {
		return nil, terror.ErrCorrupt.Gen("malformed record header")
	}
	h := &header{}
	pos, off := n, int(hlen)
	for pos < int(hlen) {
		t, m := util.GetVarint(rec[pos:hlen])
		if m == 0 || t == 10 || t == 11 {
			return nil, terror.ErrCorrupt.Gen("malformed serial type in record")
		}
		if t >= 12 && (t-12)/2 > uint64(len(rec)-off) {
			return nil, terror.ErrCorrupt.Gen("serial type %d overruns the record", t)
		}
		pos += m
		h.types = append(h.types, t)
		h.offsets = append(h.offsets, off)
		off += SerialSize(t)
		if off > len(rec) {
			break
		}
	}
	if off > len(rec) {
		return nil, terror.ErrCorrupt.Gen("record body is %d bytes, header needs %d", len(rec), off)
	}
	return h, nil
}

func (h *header) column(rec []byte, i int) value.Value {
	if i >= len(h.types) {
		return value.Null
	}
	return decodeBody(h.types[i], rec[h.offsets[i]:])
}

func decodeBody(t uint64, b []byte) value.Value {
	switch {
	case t == 0:
		return value.Null
	case t >= 1 && t <= 6:
		size := intSizes[t]
		var x int64
		if b[0]&0x80 != 0 {
			x = -1
		}
		for _, c := range b[:size] {
			x = x<<8 | int64(c)
		}
		return value.Int(x)
	case t == 7:
		return value.Real(math.Float64frombits(binary.BigEndian.Uint64(b)))
	case t == 8:
		return value.Int(0)
	case t == 9:
		return value.Int(1)
	case t >= 12 && t%2 == 0:
		n := SerialSize(t)
		return value.Blob(append([]byte(nil), b[:n]...))
	}
	return value.Text(string(b[:SerialSize(t)]))
}

// Decode unpacks every field of rec.
func Decode(rec []byte) ([]value.Value, error) {
	h, err := parseHeader(rec)
	if err != nil {
		return nil, err
	}
	vals := make([]value.Value, len(h.types))
	for i := range vals {
		vals[i] = h.column(rec, i)
	}
	return vals, nil
}

// Column returns field i of rec, NULL when the record has fewer fields.
func Column(rec []byte, i int) (value.Value, error) {
	h, err := parseHeader(rec)
	if err != nil {
		return value.Null, err
	}
	return h.column(rec, i), nil
}

// NumFields returns the number of fields in rec.
func NumFields(rec []byte) (int, error) {
	h, err := parseHeader(rec)
	if err != nil {
		return 0, err
	}
	return len(h.types), nil
}
