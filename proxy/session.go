package proxy

import (
	"bufio"
	"container/heap"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreslot/vkcproxy/proto"
	"github.com/golang/glog"
)

// Session is one client connection: a reader goroutine that classifies
// and schedules commands, and a writer goroutine that drains backQ and
// flushes replies strictly in request order (spec.md §5 "per client").
// Fan-out coalescing now lives in the router (router.go's deliver), so
// unlike the teacher's session this one never needs to know about
// MultiCmd directly: every top-level command produces exactly one
// PipelineResponse on backQ, whatever happened underneath it.
type Session struct {
	conn       net.Conn
	r          *bufio.Reader
	dispatcher *Dispatcher
	clientID   int64

	authenticated bool

	reqSeq int64 // owned by the reader goroutine
	rspSeq int64 // owned by the writer goroutine

	backQ   chan *PipelineResponse
	rspHeap PipelineResponseHeap

	reqWg       sync.WaitGroup
	closeSignal sync.WaitGroup
	closed      bool
}

// NewSession wraps an accepted connection. clientID determines the
// session's backend link affinity (spec.md §4.3 "client.id mod
// poolsize").
func NewSession(conn net.Conn, d *Dispatcher, clientID int64) *Session {
	return &Session{
		conn:       conn,
		r:          bufio.NewReader(conn),
		dispatcher: d,
		clientID:   clientID,
		backQ:      make(chan *PipelineResponse, 64),
	}
}

// Serve runs the session to completion: it starts the writer goroutine
// and runs the reader loop on the calling goroutine, returning once the
// client disconnects and every in-flight request has drained.
func (s *Session) Serve() {
	s.closeSignal.Add(1)
	go s.writingLoop()
	s.readingLoop()
}

func (s *Session) readingLoop() {
	for {
		cmd, err := proto.ReadCommand(s.r)
		if err != nil {
			break
		}
		if len(cmd.Args) == 0 {
			continue
		}
		cmd.Args[0] = strings.ToUpper(cmd.Args[0])
		if len(cmd.Args) > 1 {
			glog.V(2).Infof("session %s: %s %s", s.conn.RemoteAddr(), cmd.Name(), cmd.Args[1])
		} else {
			glog.V(2).Infof("session %s: %s", s.conn.RemoteAddr(), cmd.Name())
		}
		s.handle(cmd)
	}
	s.reqWg.Wait()
	close(s.backQ)
	s.closeSignal.Wait()
}

func (s *Session) writingLoop() {
	defer s.closeSignal.Done()
	defer s.Close()
	for rsp := range s.backQ {
		if err := s.flush(rsp); err != nil {
			s.Close()
		}
	}
}

// flush writes rsp if it is next in sequence, else parks it in the heap
// until its turn comes (spec.md §4.6 in-order delivery guarantee).
func (s *Session) flush(rsp *PipelineResponse) error {
	if rsp.ctx.seq != s.rspSeq {
		heap.Push(&s.rspHeap, rsp)
		return nil
	}
	if err := s.write(rsp); err != nil {
		return err
	}
	s.rspSeq++
	for {
		top := s.rspHeap.Top()
		if top == nil || top.ctx.seq != s.rspSeq {
			return nil
		}
		next := heap.Pop(&s.rspHeap).(*PipelineResponse)
		if err := s.write(next); err != nil {
			return err
		}
		s.rspSeq++
	}
}

func (s *Session) write(rsp *PipelineResponse) error {
	s.reqWg.Done()
	if s.closed {
		return nil
	}
	_, err := s.conn.Write(rsp.rsp.Raw())
	return err
}

func (s *Session) nextSeq() int64 {
	seq := s.reqSeq
	s.reqSeq++
	return seq
}

func (s *Session) replyLocal(seq int64, data *proto.Data) {
	s.backQ <- &PipelineResponse{ctx: &PipelineRequest{seq: seq}, rsp: data}
}

func (s *Session) handle(cmd *proto.Command) {
	name := cmd.Name()
	desc, ok := classify(name)
	if !ok {
		s.replyImmediate(proto.NewError("ERR unknown command '" + name + "'"))
		return
	}
	if CmdAuthRequired(cmd) && !s.checkAuth() {
		s.replyImmediate(proto.NewError("NOAUTH Authentication required."))
		return
	}
	switch desc.class {
	case cmdRefused:
		s.replyImmediate(proto.NewError("ERR command not supported by proxy"))
	case cmdLocal:
		s.handleLocal(name, cmd)
	case cmdForwarded:
		s.handleForwarded(cmd, desc)
	case cmdFanout:
		s.handleFanout(name, cmd)
	default:
		s.replyImmediate(proto.NewError("ERR unknown command '" + name + "'"))
	}
}

// checkAuth always succeeds: spec.md's config grammar has no line for a
// proxy-wide client-facing password, only per-backend auth-pass entries
// (§6), so there is nothing for the front door to check a client's AUTH
// against. AUTH is accepted so legacy clients that always send it on
// connect keep working.
func (s *Session) checkAuth() bool {
	return true
}

func (s *Session) handleForwarded(cmd *proto.Command, desc cmdDescriptor) {
	if desc.firstKey <= 0 || desc.firstKey >= len(cmd.Args) {
		s.replyImmediate(proto.NewError("ERR wrong number of arguments for '" + strings.ToLower(cmd.Name()) + "' command"))
		return
	}
	key := cmd.Value(desc.firstKey)
	req := &PipelineRequest{
		cmd:   cmd,
		slot:  Key2Slot(key),
		seq:   s.nextSeq(),
		backQ: s.backQ,
	}
	s.reqWg.Add(1)
	s.dispatcher.Submit(s.clientID, req)
}

// handleFanout splits a multi-key command into single-key children that
// route independently; the router's coalescer (command.go/router.go)
// recombines their replies into the single reply this top-level request
// occupies in the client's sequence (spec.md §4.6).
func (s *Session) handleFanout(name string, cmd *proto.Command) {
	var numKeys int
	if name == "MSET" {
		if (len(cmd.Args)-1)%2 != 0 || len(cmd.Args) < 3 {
			s.replyImmediate(proto.NewError("ERR wrong number of arguments for 'mset' command"))
			return
		}
		numKeys = (len(cmd.Args) - 1) / 2
	} else {
		numKeys = len(cmd.Args) - 1
	}
	if numKeys <= 0 {
		s.replyImmediate(proto.NewError("ERR wrong number of arguments for '" + strings.ToLower(name) + "' command"))
		return
	}

	mc := NewMultiCmd(name, numKeys)
	seq := s.nextSeq()
	s.reqWg.Add(1)
	for i := 0; i < numKeys; i++ {
		subCmd, err := mc.SubCommand(cmd, i)
		if err != nil {
			s.replyLocal(seq, proto.NewError("ERR "+err.Error()))
			return
		}
		req := &PipelineRequest{
			cmd:        subCmd,
			slot:       Key2Slot(subCmd.Value(1)),
			seq:        seq,
			subSeq:     i,
			parent:     mc,
			childIndex: i,
			backQ:      s.backQ,
		}
		s.dispatcher.Submit(s.clientID, req)
	}
}

func (s *Session) handleLocal(name string, cmd *proto.Command) {
	switch name {
	case "PING":
		if len(cmd.Args) >= 2 {
			s.replyImmediate(proto.NewBulkString([]byte(cmd.Args[1])))
		} else {
			s.replyImmediate(proto.NewStatus("PONG"))
		}
	case "ECHO":
		if len(cmd.Args) != 2 {
			s.replyImmediate(proto.NewError("ERR wrong number of arguments for 'echo' command"))
			return
		}
		s.replyImmediate(proto.NewBulkString([]byte(cmd.Args[1])))
	case "AUTH":
		s.authenticated = true
		s.replyImmediate(proto.NewStatus("OK"))
	case "SELECT":
		if len(cmd.Args) != 2 || cmd.Args[1] != "0" {
			s.replyImmediate(proto.NewError("ERR proxy only supports database 0"))
			return
		}
		s.replyImmediate(proto.NewStatus("OK"))
	case "TIME":
		now := time.Now()
		s.replyImmediate(proto.NewArray([]*proto.Data{
			proto.NewBulkString([]byte(strconv.FormatInt(now.Unix(), 10))),
			proto.NewBulkString([]byte(strconv.FormatInt(int64(now.Nanosecond()/1000), 10))),
		}))
	case "READONLY", "READWRITE":
		s.replyImmediate(proto.NewStatus("OK"))
	case "WAIT":
		s.replyImmediate(proto.NewInteger(0))
	case "COMMAND":
		s.replyImmediate(proto.NewArray(nil))
	case "SHUTDOWN":
		s.shutdown()
	case "SLOWLOG":
		if len(cmd.Args) >= 2 && strings.ToUpper(cmd.Args[1]) == "GET" {
			s.replyImmediate(proto.NewArray(nil))
		} else {
			s.replyImmediate(proto.NewInteger(0))
		}
	case "CONFIG":
		if len(cmd.Args) >= 2 && strings.ToUpper(cmd.Args[1]) == "GET" {
			s.replyImmediate(proto.NewArray(nil))
		} else {
			s.replyImmediate(proto.NewStatus("OK"))
		}
	case "CLIENT":
		s.handleClient(cmd)
	case "DEBUG", "LATENCY":
		s.replyImmediate(proto.NewStatus("OK"))
	case "MONITOR":
		s.replyImmediate(proto.NewError("ERR MONITOR not supported by proxy"))
	case "PROXY":
		s.handleProxyAdmin(cmd)
	case "INFO":
		s.replyImmediate(proto.NewBulkString(s.buildInfo()))
	default:
		s.replyImmediate(proto.NewError("ERR unknown command '" + name + "'"))
	}
}

func (s *Session) handleClient(cmd *proto.Command) {
	if len(cmd.Args) < 2 {
		s.replyImmediate(proto.NewError("ERR wrong number of arguments for 'client' command"))
		return
	}
	switch strings.ToUpper(cmd.Args[1]) {
	case "GETNAME":
		s.replyImmediate(proto.NewBulkString(nil))
	case "ID":
		s.replyImmediate(proto.NewInteger(s.clientID))
	default: // SETNAME, SETINFO, NO-EVICT, NO-TOUCH, REPLY, ...
		s.replyImmediate(proto.NewStatus("OK"))
	}
}

// replyImmediate is used by handleLocal: the reply is already known, so
// it Adds to reqWg and pushes it in one step.
func (s *Session) replyImmediate(data *proto.Data) {
	seq := s.nextSeq()
	s.reqWg.Add(1)
	s.replyLocal(seq, data)
}

func (s *Session) shutdown() {
	glog.Infof("session %s: SHUTDOWN requested, closing", s.conn.RemoteAddr())
	s.Close()
}

func (s *Session) Close() {
	if !s.closed {
		s.closed = true
		s.conn.Close()
	}
}

func (s *Session) buildInfo() []byte {
	instances := s.dispatcher.registry.All()
	var b strings.Builder
	b.WriteString("# Proxy\r\n")
	fmt.Fprintf(&b, "myid:%s\r\n", s.dispatcher.myID())
	fmt.Fprintf(&b, "connected_instances:%d\r\n", len(instances))
	return []byte(b.String())
}

// handleProxyAdmin implements the PROXY admin subcommands (spec.md §6):
// INSTANCES, INSTANCE <ip> <port>, ROUTER <ip> <port> [poolsize],
// FLUSHCONFIG, and SET auth-pass <ip> <port> <pass>.
func (s *Session) handleProxyAdmin(cmd *proto.Command) {
	if len(cmd.Args) < 2 {
		s.replyImmediate(proto.NewError("ERR wrong number of arguments for 'proxy' command"))
		return
	}
	switch strings.ToUpper(cmd.Args[1]) {
	case "INSTANCES":
		instances := s.dispatcher.registry.All()
		elems := make([]*proto.Data, 0, len(instances))
		for _, inst := range instances {
			line := fmt.Sprintf("%s slots=%d pool=%d", inst.Addr, inst.SlotsNum(), inst.PoolSize)
			elems = append(elems, proto.NewBulkString([]byte(line)))
		}
		s.replyImmediate(proto.NewArray(elems))

	case "INSTANCE":
		if len(cmd.Args) != 4 {
			s.replyImmediate(proto.NewError("ERR usage: PROXY INSTANCE ip port"))
			return
		}
		addr := cmd.Args[2] + ":" + cmd.Args[3]
		inst, ok := s.dispatcher.registry.Get(addr)
		if !ok {
			s.replyImmediate(proto.NewError("ERR no such instance " + addr))
			return
		}
		line := fmt.Sprintf("%s slots=%d pool=%d", inst.Addr, inst.SlotsNum(), inst.PoolSize)
		s.replyImmediate(proto.NewBulkString([]byte(line)))

	case "ROUTER":
		if len(cmd.Args) < 4 || len(cmd.Args) > 5 {
			s.replyImmediate(proto.NewError("ERR usage: PROXY ROUTER ip port [poolsize]"))
			return
		}
		addr := cmd.Args[2] + ":" + cmd.Args[3]
		poolSize := DefaultPoolSize
		if len(cmd.Args) == 5 {
			n, err := strconv.Atoi(cmd.Args[4])
			if err != nil || n <= 0 {
				s.replyImmediate(proto.NewError("ERR invalid poolsize"))
				return
			}
			poolSize = n
		}
		if _, err := s.dispatcher.registry.GetOrCreate(addr, s.dispatcher.authPassFor(addr), poolSize); err != nil {
			s.replyImmediate(proto.NewError("ERR " + err.Error()))
			return
		}
		if s.dispatcher.config != nil {
			s.dispatcher.config.AddRouter(addr, poolSize)
		}
		s.dispatcher.TriggerReloadSlots()
		s.replyImmediate(proto.NewStatus("OK"))

	case "FLUSHCONFIG":
		if s.dispatcher.config == nil {
			s.replyImmediate(proto.NewError("ERR no config file loaded"))
			return
		}
		if err := s.dispatcher.config.Save(); err != nil {
			s.replyImmediate(proto.NewError("ERR " + err.Error()))
			return
		}
		s.replyImmediate(proto.NewStatus("OK"))

	case "SET":
		if len(cmd.Args) != 6 || strings.ToUpper(cmd.Args[2]) != "AUTH-PASS" {
			s.replyImmediate(proto.NewError("ERR usage: PROXY SET auth-pass ip port pass"))
			return
		}
		addr := cmd.Args[3] + ":" + cmd.Args[4]
		s.dispatcher.setAuthPass(addr, cmd.Args[5])
		if s.dispatcher.config != nil {
			s.dispatcher.config.SetAuthPass(addr, cmd.Args[5])
		}
		s.replyImmediate(proto.NewStatus("OK"))

	default:
		s.replyImmediate(proto.NewError("ERR unknown PROXY subcommand"))
	}
}
