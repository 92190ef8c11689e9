package proxy

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/coreslot/vkcproxy/proto"
	"github.com/golang/glog"
)

const clusterNodesTimeout = 2 * time.Second

var cmdClusterNodes, _ = proto.NewCommand("CLUSTER", "NODES")

// refreshTopology implements the C8 topology maintainer: ask one backend
// for CLUSTER NODES, rebuild the slot table from the reply, and evict
// orphaned instances (spec.md §4.8).
func (d *Dispatcher) refreshTopology() error {
	instances := d.registry.All()
	if len(instances) == 0 {
		return nil
	}
	perm := rand.Perm(len(instances))
	var lastErr error
	for _, i := range perm {
		inst := instances[i]
		reply, err := d.queryClusterNodes(inst)
		if err != nil {
			lastErr = err
			continue
		}
		return d.applyClusterNodes(string(reply.String))
	}
	return lastErr
}

func (d *Dispatcher) queryClusterNodes(inst *Instance) (*proto.Data, error) {
	link := inst.EnsureLink(0)
	if link.State() != linkConnected {
		return nil, errUnavailable(inst.Addr)
	}
	return requestSync(link, cmdClusterNodes, clusterNodesTimeout)
}

// applyClusterNodes parses a CLUSTER NODES bulk reply line by line and
// rebuilds the slot table in place (spec.md §4.8 step 2). Lines are
// skipped when: fewer than 8 space-separated fields, the first field
// isn't a 40-char node id, or the flags field contains "slave" (replicas
// have no slot ownership in this proxy's model). Within a kept line, a
// field describing an in-progress migration ("[slot->node]" /
// "[slot-<node]") is ignored; the line's other slot fields still apply.
func (d *Dispatcher) applyClusterNodes(body string) error {
	type assignment struct {
		addr string
		from int
		to   int
	}
	var assignments []assignment
	knownAddrs := make(map[string]bool)

	lines := strings.Split(strings.TrimSpace(body), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}
		if len(fields[0]) != 40 || !isHex(fields[0]) {
			continue
		}
		flags := fields[2]
		if strings.Contains(flags, "slave") {
			continue
		}
		addr := normalizeNodeAddr(fields[1])
		if addr == "" {
			continue
		}
		knownAddrs[addr] = true
		for _, tok := range fields[8:] {
			if strings.HasPrefix(tok, "[") {
				continue // slot migration marker, not an assignment
			}
			from, to, ok := parseSlotRange(tok)
			if !ok {
				continue
			}
			assignments = append(assignments, assignment{addr: addr, from: from, to: to})
		}
	}

	if len(assignments) == 0 {
		return errNoSlotAssignments
	}

	fp := fingerprint(assignments)
	if fp == d.lastFingerprint {
		return nil // idempotent: topology hasn't changed, skip the rewrite
	}

	for _, a := range assignments {
		inst, err := d.registry.GetOrCreate(a.addr, d.authPassFor(a.addr), d.defaultPoolSize)
		if err != nil {
			glog.Errorf("topology: could not create instance %s: %v", a.addr, err)
			continue
		}
		d.slotTable.SetRange(a.from, a.to, inst)
	}
	d.lastFingerprint = fp

	for _, inst := range d.registry.All() {
		if inst.SlotsNum() == 0 {
			glog.Infof("topology: evicting orphan instance %s", inst.Addr)
			d.registry.Delete(inst.Addr)
		}
	}
	return nil
}

func fingerprint(assignments []struct {
	addr string
	from int
	to   int
}) uint64 {
	parts := make([]string, len(assignments))
	for i, a := range assignments {
		parts[i] = a.addr + ":" + strconv.Itoa(a.from) + "-" + strconv.Itoa(a.to)
	}
	sort.Strings(parts)
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.WriteString(";")
	}
	return h.Sum64()
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// normalizeNodeAddr strips the cluster-bus port suffix ("@16379") and any
// hostname annotation CLUSTER NODES may append, keeping "ip:port".
func normalizeNodeAddr(field string) string {
	if at := strings.IndexByte(field, '@'); at >= 0 {
		field = field[:at]
	}
	if field == "" || field == ":0" {
		return ""
	}
	return field
}

// parseSlotRange parses "123" or "123-456" slot tokens.
func parseSlotRange(tok string) (from, to int, ok bool) {
	if dash := strings.IndexByte(tok, '-'); dash > 0 {
		f, err1 := strconv.Atoi(tok[:dash])
		t, err2 := strconv.Atoi(tok[dash+1:])
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return f, t, true
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, 0, false
	}
	return n, n, true
}
