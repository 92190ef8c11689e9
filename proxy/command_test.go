package proxy

import (
	"testing"

	"github.com/coreslot/vkcproxy/proto"
)

func TestMultiCmdSubCommandMGET(t *testing.T) {
	orig, _ := proto.NewCommand("MGET", "k1", "k2", "k3")
	mc := NewMultiCmd("MGET", 3)
	sub, err := mc.SubCommand(orig, 1)
	if err != nil {
		t.Fatalf("SubCommand: %v", err)
	}
	if sub.Name() != "MGET" || string(sub.Value(1)) != "k2" {
		t.Fatalf("unexpected subcommand: %+v", sub.Args)
	}
}

func TestMultiCmdSubCommandMSET(t *testing.T) {
	orig, _ := proto.NewCommand("MSET", "k1", "v1", "k2", "v2")
	mc := NewMultiCmd("MSET", 2)
	sub, err := mc.SubCommand(orig, 1)
	if err != nil {
		t.Fatalf("SubCommand: %v", err)
	}
	if sub.Name() != "SET" || string(sub.Value(1)) != "k2" || string(sub.Value(2)) != "v2" {
		t.Fatalf("unexpected subcommand: %+v", sub.Args)
	}
}

func TestMultiCmdCoalesceDelSum(t *testing.T) {
	mc := NewMultiCmd("DEL", 3)
	for i, n := range []int64{1, 0, 1} {
		if mc.OnChildFinished(i, proto.NewInteger(n)) && i != 2 {
			t.Fatalf("finished too early at child %d", i)
		}
	}
	if !mc.Finished() {
		t.Fatal("expected all children finished")
	}
	got := mc.CoalesceRsp()
	if got.T != proto.T_Integer || got.Integer != 2 {
		t.Fatalf("expected sum 2, got %+v", got)
	}
}

func TestMultiCmdCoalesceDelShortCircuitsOnError(t *testing.T) {
	mc := NewMultiCmd("DEL", 2)
	mc.OnChildFinished(0, proto.NewError("ERR boom"))
	mc.OnChildFinished(1, proto.NewInteger(1))
	got := mc.CoalesceRsp()
	if got.T != proto.T_Error {
		t.Fatalf("expected error reply to propagate, got %+v", got)
	}
}

func TestMultiCmdCoalesceMsetStatus(t *testing.T) {
	mc := NewMultiCmd("MSET", 2)
	mc.OnChildFinished(0, proto.NewStatus("OK"))
	mc.OnChildFinished(1, proto.NewStatus("OK"))
	got := mc.CoalesceRsp()
	if got.T != proto.T_SimpleString || string(got.String) != "OK" {
		t.Fatalf("expected +OK, got %+v", got)
	}
}

func TestMultiCmdCoalesceMgetPreservesCardinality(t *testing.T) {
	mc := NewMultiCmd("MGET", 3)
	mc.OnChildFinished(0, proto.NewArray([]*proto.Data{proto.NewBulkString([]byte("v0"))}))
	mc.OnChildFinished(1, proto.NewArray([]*proto.Data{proto.NewNilBulkString()}))
	mc.OnChildFinished(2, proto.NewArray([]*proto.Data{proto.NewBulkString([]byte("v2"))}))
	got := mc.CoalesceRsp()
	if got.T != proto.T_Array || len(got.Array) != 3 {
		t.Fatalf("expected 3-element array, got %+v", got)
	}
	if string(got.Array[0].String) != "v0" || !got.Array[1].IsNil || string(got.Array[2].String) != "v2" {
		t.Fatalf("unexpected coalesced values: %+v", got.Array)
	}
}
