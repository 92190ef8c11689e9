package proxy

import (
	"strconv"
	"strings"

	"github.com/coreslot/vkcproxy/proto"
)

type redirectKind int

const (
	redirectNone redirectKind = iota
	redirectMoved
	redirectAsk
)

// parseRedirect recognizes a MOVED/ASK error reply's first token,
// case-insensitively, per spec.md §4.7. The source's strncasecmp-based
// classification was noted in spec.md's Open Questions as
// inversion-prone; this is an exact compare of the upper-cased first
// field, with no inversion possible.
func parseRedirect(msg string) (kind redirectKind, slot int, addr string) {
	fields := strings.Fields(msg)
	if len(fields) < 3 {
		return redirectNone, 0, ""
	}
	switch strings.ToUpper(fields[0]) {
	case "MOVED":
		kind = redirectMoved
	case "ASK":
		kind = redirectAsk
	default:
		return redirectNone, 0, ""
	}
	slot, err := strconv.Atoi(fields[1])
	if err != nil {
		return redirectNone, 0, ""
	}
	return kind, slot, fields[2]
}

// onReply is the redirection handler (C7): inspect a backend's reply for
// MOVED/ASK and, if present and the per-command redirect bound has not
// been exceeded, re-route exactly once per step; otherwise deliver the
// reply (error or not) to the client/fan-out parent.
func (d *Dispatcher) onReply(clientID int64, req *PipelineRequest, reply *proto.Data) {
	if reply.T != proto.T_Error {
		d.deliver(req, reply)
		return
	}
	kind, _, addr := parseRedirect(string(reply.String))
	if kind == redirectNone {
		d.deliver(req, reply)
		return
	}
	if req.redirectCount >= d.redirectMaxLimit {
		d.deliver(req, reply)
		return
	}
	req.redirectCount++

	inst, err := d.registry.GetOrCreate(addr, d.authPassFor(addr), d.defaultPoolSize)
	if err != nil {
		d.deliver(req, proto.NewError("ERR "+err.Error()))
		return
	}

	switch kind {
	case redirectMoved:
		// MOVED is permanent: update routing for future commands too.
		d.TriggerReloadSlots()
		d.forward(clientID, inst, req)
	case redirectAsk:
		// ASK is a one-shot migration redirect: prime the target link
		// with ASKING (null callback, per spec.md §4.7) then forward the
		// original command once on that same link. The slot table is
		// deliberately left untouched.
		link := inst.Pick(clientID)
		if link.State() != linkConnected {
			d.deliver(req, proto.NewError("ERR "+errUnavailable(addr).Error()))
			return
		}
		askingCmd, _ := proto.NewCommand("ASKING")
		if err := link.Submit(askingCmd.Format(), nil); err != nil {
			d.deliver(req, proto.NewError("ERR "+err.Error()))
			return
		}
		cb := &replyCallback{fn: func(r *proto.Data, _ interface{}) {
			d.onReply(clientID, req, r)
		}}
		if err := link.Submit(req.cmd.Format(), cb); err != nil {
			d.deliver(req, proto.NewError("ERR "+err.Error()))
		}
	}
}
