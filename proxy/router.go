package proxy

import (
	"github.com/coreslot/vkcproxy/proto"
	"github.com/golang/glog"
)

// Submit is the routing layer (C5): resolve req's slot to an instance,
// pick a link by client affinity, and hand the encoded command off with
// a callback that feeds redirection handling and, eventually, delivery
// to the client (spec.md §4.5).
func (d *Dispatcher) Submit(clientID int64, req *PipelineRequest) {
	inst := d.slotTable.Get(req.slot)
	if inst == nil {
		// Every slot has an owner after bootstrap (spec.md §4.4); a nil
		// owner past that point is a process bug, not a request error.
		glog.Fatalf("router: slot %d has no owner", req.slot)
	}
	d.forward(clientID, inst, req)
}

func (d *Dispatcher) forward(clientID int64, inst *Instance, req *PipelineRequest) {
	link := inst.Pick(clientID)
	if link.State() != linkConnected {
		d.deliver(req, proto.NewError("ERR "+errUnavailable(inst.Addr).Error()))
		return
	}
	cb := &replyCallback{fn: func(reply *proto.Data, _ interface{}) {
		d.onReply(clientID, req, reply)
	}}
	if err := link.Submit(req.cmd.Format(), cb); err != nil {
		d.deliver(req, proto.NewError("ERR "+err.Error()))
	}
}

// deliver finishes a request: if it is a fan-out child, it records the
// result on its parent and only pushes to backQ once every sibling has
// finished (carrying the parent's shared seq number so the session's
// in-order flush treats the whole fan-out as one reply slot). Otherwise
// it pushes directly.
func (d *Dispatcher) deliver(req *PipelineRequest, reply *proto.Data) {
	if req.parent != nil {
		if !req.parent.OnChildFinished(req.childIndex, reply) {
			return
		}
		reply = req.parent.CoalesceRsp()
	}
	req.backQ <- &PipelineResponse{ctx: req, rsp: reply}
}
