// Package proto implements the RESP wire codec: the reply tree, the
// request/command encoder, and the streaming parser used by both the
// client-facing session and the backend links.
package proto

import "strconv"

// Reply type tags, one per RESP line-prefix byte.
const (
	T_BulkString   byte = '$'
	T_Error        byte = '-'
	T_SimpleString byte = '+'
	T_Integer      byte = ':'
	T_Array        byte = '*'
)

// MaxNestDepth bounds recursive array nesting; exceeding it is a fatal
// protocol error for the link that produced it.
const MaxNestDepth = 8

// Data is a parsed (or synthesized) RESP reply. IsNil distinguishes a null
// bulk string / null array ($-1, *-1) from an empty one.
type Data struct {
	T       byte
	String  []byte
	Integer int64
	Array   []*Data
	IsNil   bool
}

// NewError builds an error reply from a message, without the leading '-'.
func NewError(msg string) *Data {
	return &Data{T: T_Error, String: []byte(msg)}
}

// NewStatus builds a simple-status reply, without the leading '+'.
func NewStatus(msg string) *Data {
	return &Data{T: T_SimpleString, String: []byte(msg)}
}

// NewInteger builds an integer reply.
func NewInteger(v int64) *Data {
	return &Data{T: T_Integer, Integer: v}
}

// NewBulkString builds a bulk-string reply.
func NewBulkString(b []byte) *Data {
	return &Data{T: T_BulkString, String: b}
}

// NewNilBulkString builds a null bulk string ($-1).
func NewNilBulkString() *Data {
	return &Data{T: T_BulkString, IsNil: true}
}

// NewArray builds an array reply of the given elements (nil elements
// represent a null array entry and are rendered as a null bulk string).
func NewArray(elems []*Data) *Data {
	return &Data{T: T_Array, Array: elems}
}

// Raw renders the reply back into its wire form. Used both to forward a
// backend's reply verbatim to a client and to synthesize replies locally.
func (d *Data) Raw() []byte {
	buf := make([]byte, 0, 32)
	return d.appendRaw(buf)
}

func (d *Data) appendRaw(buf []byte) []byte {
	switch d.T {
	case T_Error:
		buf = append(buf, '-')
		buf = append(buf, d.String...)
		buf = append(buf, '\r', '\n')
	case T_SimpleString:
		buf = append(buf, '+')
		buf = append(buf, d.String...)
		buf = append(buf, '\r', '\n')
	case T_Integer:
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, d.Integer, 10)
		buf = append(buf, '\r', '\n')
	case T_BulkString:
		if d.IsNil {
			buf = append(buf, "$-1\r\n"...)
			return buf
		}
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(d.String)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, d.String...)
		buf = append(buf, '\r', '\n')
	case T_Array:
		if d.IsNil {
			buf = append(buf, "*-1\r\n"...)
			return buf
		}
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(d.Array)), 10)
		buf = append(buf, '\r', '\n')
		for _, e := range d.Array {
			if e == nil {
				buf = append(buf, "$-1\r\n"...)
				continue
			}
			buf = e.appendRaw(buf)
		}
	}
	return buf
}

// Object is a handle to a parsed or synthesized reply. Ownership transfer
// between the parser, a link callback, and a fan-out parent is expressed
// simply by sharing the pointer: Data is never mutated after it leaves the
// parser, so no refcounting is needed (the design notes' "reference
// counting with immutable payload" collapses to plain Go GC here).
type Object struct {
	data *Data
}

// NewObject returns an empty object ready to be filled by ReadDataBytes.
func NewObject() *Object {
	return &Object{data: &Data{}}
}

// NewObjectFromData wraps an already-built reply.
func NewObjectFromData(d *Data) *Object {
	return &Object{data: d}
}

// Raw renders the wrapped reply to wire form.
func (o *Object) Raw() []byte {
	return o.data.Raw()
}

// Data returns the wrapped reply tree.
func (o *Object) Data() *Data {
	return o.data
}
