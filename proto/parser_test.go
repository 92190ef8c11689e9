package proto

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestReadDataSimpleTypes(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want *Data
	}{
		{"status", "+OK\r\n", &Data{T: T_SimpleString, String: []byte("OK")}},
		{"error", "-ERR bad\r\n", &Data{T: T_Error, String: []byte("ERR bad")}},
		{"integer", ":42\r\n", &Data{T: T_Integer, Integer: 42}},
		{"bulk", "$5\r\nhello\r\n", &Data{T: T_BulkString, String: []byte("hello")}},
		{"nil bulk", "$-1\r\n", &Data{T: T_BulkString, IsNil: true}},
		{"nil array", "*-1\r\n", &Data{T: T_Array, IsNil: true}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(c.wire))
			got, err := ReadData(r)
			if err != nil {
				t.Fatalf("ReadData: %v", err)
			}
			if got.T != c.want.T || got.Integer != c.want.Integer || got.IsNil != c.want.IsNil || !bytes.Equal(got.String, c.want.String) {
				t.Fatalf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestReadDataNestedArray(t *testing.T) {
	wire := "*2\r\n$3\r\nfoo\r\n*1\r\n:7\r\n"
	r := bufio.NewReader(strings.NewReader(wire))
	got, err := ReadData(r)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if got.T != T_Array || len(got.Array) != 2 {
		t.Fatalf("unexpected shape: %+v", got)
	}
	if string(got.Array[0].String) != "foo" {
		t.Fatalf("unexpected first element: %+v", got.Array[0])
	}
	inner := got.Array[1]
	if inner.T != T_Array || len(inner.Array) != 1 || inner.Array[0].Integer != 7 {
		t.Fatalf("unexpected nested element: %+v", inner)
	}
}

func TestReadDataExceedsMaxNestDepth(t *testing.T) {
	var b strings.Builder
	for i := 0; i <= MaxNestDepth+1; i++ {
		b.WriteString("*1\r\n")
	}
	b.WriteString(":1\r\n")
	r := bufio.NewReader(strings.NewReader(b.String()))
	if _, err := ReadData(r); err == nil {
		t.Fatal("expected error for over-deep nesting, got nil")
	}
}

func TestReadCommandMultiBulk(t *testing.T) {
	wire := "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"
	r := bufio.NewReader(strings.NewReader(wire))
	cmd, err := ReadCommand(r)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if len(cmd.Args) != 2 || cmd.Args[0] != "GET" || cmd.Args[1] != "foo" {
		t.Fatalf("unexpected command: %+v", cmd.Args)
	}
}

func TestReadCommandInline(t *testing.T) {
	wire := "PING hello\r\n"
	r := bufio.NewReader(strings.NewReader(wire))
	cmd, err := ReadCommand(r)
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if len(cmd.Args) != 2 || cmd.Args[0] != "PING" || cmd.Args[1] != "hello" {
		t.Fatalf("unexpected command: %+v", cmd.Args)
	}
}

func TestCommandFormatRoundTrip(t *testing.T) {
	cmd, err := NewCommand("SET", "foo", "bar")
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	wire := cmd.Format()
	r := bufio.NewReader(bytes.NewReader(wire))
	got, err := ReadCommand(r)
	if err != nil {
		t.Fatalf("ReadCommand on encoded command: %v", err)
	}
	if len(got.Args) != 3 || got.Args[0] != "SET" || got.Args[1] != "foo" || got.Args[2] != "bar" {
		t.Fatalf("round trip mismatch: %+v", got.Args)
	}
}

func TestDataRaw(t *testing.T) {
	if got := NewStatus("OK").Raw(); string(got) != "+OK\r\n" {
		t.Fatalf("status: got %q", got)
	}
	if got := NewError("bad").Raw(); string(got) != "-bad\r\n" {
		t.Fatalf("error: got %q", got)
	}
	if got := NewInteger(7).Raw(); string(got) != ":7\r\n" {
		t.Fatalf("integer: got %q", got)
	}
	if got := NewNilBulkString().Raw(); string(got) != "$-1\r\n" {
		t.Fatalf("nil bulk: got %q", got)
	}
	if got := NewBulkString([]byte("hi")).Raw(); string(got) != "$2\r\nhi\r\n" {
		t.Fatalf("bulk: got %q", got)
	}
}
