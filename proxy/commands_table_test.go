package proxy

import (
	"testing"

	"github.com/coreslot/vkcproxy/proto"
)

func TestClassifyForwardedFanoutLocalRefused(t *testing.T) {
	cases := []struct {
		cmd  string
		want cmdClass
	}{
		{"GET", cmdForwarded},
		{"SET", cmdForwarded},
		{"MGET", cmdFanout},
		{"DEL", cmdFanout},
		{"MSET", cmdFanout},
		{"PING", cmdLocal},
		{"PROXY", cmdLocal},
		{"SCAN", cmdRefused},
		{"MULTI", cmdRefused},
	}
	for _, c := range cases {
		desc, ok := classify(c.cmd)
		if !ok {
			t.Fatalf("%s: expected to be classified", c.cmd)
		}
		if desc.class != c.want {
			t.Fatalf("%s: got class %v, want %v", c.cmd, desc.class, c.want)
		}
	}
}

func TestClassifyUnknownCommand(t *testing.T) {
	if _, ok := classify("NOTACOMMAND"); ok {
		t.Fatal("expected unknown command to not be classified")
	}
}

func TestCmdAuthRequired(t *testing.T) {
	auth, _ := proto.NewCommand("AUTH", "secret")
	if CmdAuthRequired(auth) {
		t.Fatal("AUTH itself must be exempt from auth gating")
	}
	get, _ := proto.NewCommand("GET", "foo")
	if !CmdAuthRequired(get) {
		t.Fatal("GET must require auth when gating is enabled")
	}
}
