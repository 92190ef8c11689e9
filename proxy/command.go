package proxy

import (
	"sync"

	"github.com/coreslot/vkcproxy/proto"
)

// PipelineRequest is one async command in flight to a backend: the
// proxy's representation of a client's request, or of one child of a
// fan-out (spec.md §3 "Async command"). The nullable client back-
// reference described in the spec collapses here to the session's closed
// flag — after Session.Close the writer goroutine keeps draining backQ
// but drops each response instead of writing it; Go's GC reclaims the
// rest instead of requiring an explicit refcount.
type PipelineRequest struct {
	cmd           *proto.Command
	slot          int
	seq           int64
	subSeq        int
	parent        *MultiCmd
	childIndex    int
	redirectCount int
	backQ         chan *PipelineResponse
}

// PipelineResponse pairs a reply (or transport error) with the request
// that produced it, so the session can match it back to its place in the
// per-client request list.
type PipelineResponse struct {
	ctx *PipelineRequest
	rsp *proto.Data
	err error
}

// coalesceFn merges a fan-out command's per-child replies, in key order,
// into the single reply the client's single-reply contract requires.
type coalesceFn func(results []*proto.Data) *proto.Data

// MultiCmd is the fan-out parent for DEL/EXISTS/MGET/MSET (spec.md §4.6).
// Its own "reply" is never filled directly; it is synthesized by
// coalesce once every child has finished.
type MultiCmd struct {
	cmdName  string
	numKeys  int
	coalesce coalesceFn

	mu       sync.Mutex
	results  []*proto.Data
	finished int
}

// NewMultiCmd builds the fan-out parent for a multi-key command with
// numKeys key arguments.
func NewMultiCmd(cmdName string, numKeys int) *MultiCmd {
	return &MultiCmd{
		cmdName:  cmdName,
		numKeys:  numKeys,
		coalesce: coalesceFuncFor(cmdName),
		results:  make([]*proto.Data, numKeys),
	}
}

// SubCommand builds child i's single-key command from the original
// multi-key argv. MSET steps two arguments (key, value) per child and is
// translated to a plain SET; DEL/EXISTS/MGET step one argument per child
// and keep their own name.
func (mc *MultiCmd) SubCommand(orig *proto.Command, i int) (*proto.Command, error) {
	if mc.cmdName == "MSET" {
		keyIdx := 1 + 2*i
		return proto.NewCommand("SET", orig.Args[keyIdx], orig.Args[keyIdx+1])
	}
	keyIdx := 1 + i
	return proto.NewCommand(mc.cmdName, orig.Args[keyIdx])
}

// OnChildFinished records child i's reply and reports whether every
// child has now finished (spec.md: "when all children are finished ...
// the parent's coalesce_fn is invoked").
func (mc *MultiCmd) OnChildFinished(i int, reply *proto.Data) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.results[i] = reply
	mc.finished++
	return mc.finished == mc.numKeys
}

// Finished reports whether all children have completed, for callers that
// need to check without also recording a result.
func (mc *MultiCmd) Finished() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.finished == mc.numKeys
}

// CoalesceRsp synthesizes the single client-facing reply from all child
// results. Must only be called once Finished() is true.
func (mc *MultiCmd) CoalesceRsp() *proto.Data {
	mc.mu.Lock()
	results := make([]*proto.Data, len(mc.results))
	copy(results, mc.results)
	mc.mu.Unlock()
	return mc.coalesce(results)
}

func coalesceFuncFor(cmdName string) coalesceFn {
	switch cmdName {
	case "DEL", "EXISTS":
		return coalesceSum
	case "MSET":
		return coalesceStatusMerge
	default: // MGET
		return coalesceArrayConcat
	}
}

// coalesceSum implements the DEL/EXISTS policy: sum integer children,
// short-circuiting to the first error (spec.md §4.6 table).
func coalesceSum(results []*proto.Data) *proto.Data {
	var sum int64
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.T == proto.T_Error {
			return r
		}
		if r.T != proto.T_Integer {
			return proto.NewError("ERR unexpected reply type from backend")
		}
		sum += r.Integer
	}
	return proto.NewInteger(sum)
}

// coalesceStatusMerge implements the MSET policy: propagate the first
// non-OK status, or any non-status reply as an error, else +OK.
func coalesceStatusMerge(results []*proto.Data) *proto.Data {
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.T == proto.T_Error {
			return r
		}
		if r.T != proto.T_SimpleString {
			return proto.NewError("ERR unexpected reply type")
		}
		if string(r.String) != "OK" {
			return r
		}
	}
	return proto.NewStatus("OK")
}

// coalesceArrayConcat implements the MGET policy: take element 0 of each
// child array reply, in key order, preserving cardinality even when a
// child is nil (spec.md "Coalesce preserves cardinality").
func coalesceArrayConcat(results []*proto.Data) *proto.Data {
	elems := make([]*proto.Data, len(results))
	for i, r := range results {
		switch {
		case r == nil:
			elems[i] = proto.NewNilBulkString()
		case r.T == proto.T_Error:
			return r
		case r.T == proto.T_Array && len(r.Array) > 0:
			elems[i] = r.Array[0]
		default:
			elems[i] = proto.NewNilBulkString()
		}
	}
	return proto.NewArray(elems)
}
