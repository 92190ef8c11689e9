package proto

import (
	"errors"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

var formatPool bytebufferpool.Pool

// lengthHeaders is a pre-built table of "$<n>\r\n"/"*<n>\r\n" style
// headers for small counts, avoiding per-call formatting for the common
// case (spec C1: "small length headers share a pre-built table").
var lengthHeaders [64][]byte

func init() {
	for i := range lengthHeaders {
		lengthHeaders[i] = []byte(strconv.Itoa(i) + "\r\n")
	}
}

func appendLength(buf []byte, n int) []byte {
	if n >= 0 && n < len(lengthHeaders) {
		return append(buf, lengthHeaders[n]...)
	}
	buf = strconv.AppendInt(buf, int64(n), 10)
	return append(buf, '\r', '\n')
}

// Command is a client or proxy-originated request: a multi-bulk array of
// arguments, the first of which is the command name.
type Command struct {
	Args []string
}

// NewCommand builds a command from a name and its arguments.
func NewCommand(name string, args ...string) (*Command, error) {
	if name == "" {
		return nil, errors.New("proto: empty command name")
	}
	all := make([]string, 0, len(args)+1)
	all = append(all, name)
	all = append(all, args...)
	return &Command{Args: all}, nil
}

// Name returns the upper-cased-by-caller command name (the session
// upper-cases Args[0] on read; Name just returns it).
func (c *Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Value returns argument i as bytes, used for key extraction.
func (c *Command) Value(i int) []byte {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return []byte(c.Args[i])
}

// Format encodes the command as a RESP multi-bulk request. The
// coalescing scratch buffer is pooled (spec.md §4.1 "writing coalesces
// into a contiguous scratch buffer"): building the whole request in one
// pooled buffer before copying it out keeps the per-call allocation to a
// single slice sized to the encoded request, regardless of argument count.
func (c *Command) Format() []byte {
	bb := formatPool.Get()
	defer formatPool.Put(bb)

	bb.WriteByte('*')
	bb.B = appendLength(bb.B, len(c.Args))
	for _, a := range c.Args {
		bb.WriteByte('$')
		bb.B = appendLength(bb.B, len(a))
		bb.WriteString(a)
		bb.Write([]byte{'\r', '\n'})
	}

	out := make([]byte, len(bb.B))
	copy(out, bb.B)
	return out
}
