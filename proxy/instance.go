package proxy

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreslot/vkcproxy/proto"
	"github.com/golang/glog"
)

// defaultReconnectPeriod throttles a link's reconnect attempts (spec.md §4.3).
const defaultReconnectPeriod = 1 * time.Second

// DefaultPoolSize is used whenever an instance is created without an
// explicit pool size (on-demand creation from a redirection, or the
// config file's bare "proxy router host port" form).
const DefaultPoolSize = 1

// Instance represents one backend shard, identified by its canonical
// "ip:port" address, served by a fixed-size pool of links (spec.md §4.3).
type Instance struct {
	Addr     string
	AuthPass string
	PoolSize int

	mu    sync.Mutex
	links []*Link

	slotsNum int32 // atomic
}

// NewInstance resolves addr, validates poolSize, and starts poolSize
// links. It never blocks on the links actually connecting: each link
// dials in its own goroutine exactly like spec.md's non-blocking connect.
func NewInstance(addr, authPass string, poolSize int) (*Instance, error) {
	if poolSize <= 0 {
		return nil, &InstanceError{Addr: addr, Err: ErrInvalidArgs}
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, &InstanceError{Addr: addr, Err: ErrInvalidArgs}
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return nil, &InstanceError{Addr: addr, Err: ErrInvalidArgs}
	}
	if ips, err := net.LookupIP(host); err != nil || len(ips) == 0 {
		return nil, &InstanceError{Addr: addr, Err: ErrResolveFailed}
	}

	inst := &Instance{
		Addr:     addr,
		AuthPass: authPass,
		PoolSize: poolSize,
		links:    make([]*Link, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		inst.links[i] = inst.dialLink(i)
	}
	return inst, nil
}

func (inst *Instance) linkName(idx int) string {
	return fmt.Sprintf("%s#%d", inst.Addr, idx)
}

func (inst *Instance) dialLink(idx int) *Link {
	name := inst.linkName(idx)
	return NewLink(inst.Addr, inst.AuthPass, name, func(conn net.Conn) error {
		return inst.handshake(conn, name)
	}, func(l *Link) {
		glog.Warningf("instance %s: link %s disconnected", inst.Addr, l.Name)
	})
}

// handshake runs synchronously on the link's own connect goroutine,
// before the link's read/write pumps start, exactly mirroring the
// teacher's ValkeyConn.postConnect: AUTH first (if configured), then
// CLIENT SETNAME so the backend's CLIENT LIST shows the proxy link
// (spec.md §6).
func (inst *Instance) handshake(conn net.Conn, linkName string) error {
	r := bufio.NewReader(conn)
	if inst.AuthPass != "" {
		cmd, _ := proto.NewCommand("AUTH", inst.AuthPass)
		if err := syncRequest(conn, r, cmd); err != nil {
			return fmt.Errorf("AUTH failed: %w", err)
		}
	}
	setname, _ := proto.NewCommand("CLIENT", "SETNAME", "proxy-"+linkName)
	if err := syncRequest(conn, r, setname); err != nil {
		return fmt.Errorf("CLIENT SETNAME failed: %w", err)
	}
	return nil
}

func syncRequest(conn net.Conn, r *bufio.Reader, cmd *proto.Command) error {
	if _, err := conn.Write(cmd.Format()); err != nil {
		return err
	}
	reply, err := proto.ReadData(r)
	if err != nil {
		return err
	}
	if reply.T == proto.T_Error {
		return fmt.Errorf("%s", reply.String)
	}
	return nil
}

// EnsureLink returns the link at pool index idx, reconnecting it in
// place if it is in ERROR and the reconnect throttle period has elapsed.
// The caller's next request hashes to the same pool slot and reaches the
// fresh link (spec.md §4.3 "Reconnect policy").
func (inst *Instance) EnsureLink(idx int) *Link {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	l := inst.links[idx%len(inst.links)]
	if l.State() == linkError && time.Since(l.ConnectedAt()) >= defaultReconnectPeriod {
		fresh := inst.dialLink(idx)
		inst.links[idx%len(inst.links)] = fresh
		l.Close()
		return fresh
	}
	return l
}

// Pick selects the link a given client is striped to: client.id mod
// poolsize (spec.md §4.3), giving per-client affinity and FIFO ordering
// while spreading load across the pool.
func (inst *Instance) Pick(clientID int64) *Link {
	idx := int(clientID % int64(inst.PoolSize))
	if idx < 0 {
		idx += inst.PoolSize
	}
	return inst.EnsureLink(idx)
}

// SlotsNum reports how many of the 16384 slots currently point at this
// instance.
func (inst *Instance) SlotsNum() int {
	return int(atomic.LoadInt32(&inst.slotsNum))
}

func (inst *Instance) incrSlots() { atomic.AddInt32(&inst.slotsNum, 1) }
func (inst *Instance) decrSlots() {
	if atomic.AddInt32(&inst.slotsNum, -1) < 0 {
		glog.Fatalf("instance %s: slots_num underflow", inst.Addr)
	}
}

// Release frees all links. The caller must guarantee SlotsNum() == 0
// first (spec.md §4.3 invariant); violating it is a process bug.
func (inst *Instance) Release() {
	if inst.SlotsNum() != 0 {
		glog.Fatalf("instance %s: released with slots_num=%d", inst.Addr, inst.SlotsNum())
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	for _, l := range inst.links {
		l.Close()
	}
}
