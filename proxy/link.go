package proxy

import (
	"bufio"
	"container/list"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreslot/vkcproxy/fnet"
	"github.com/coreslot/vkcproxy/proto"
	"github.com/golang/glog"
)

// linkState mirrors spec.md §4.2's CONNECTING -> CONNECTED -> ERROR ->
// closed lifecycle. Go's goroutine-per-link model replaces the single
// global event loop: each link owns one reader goroutine and one writer
// goroutine, so the callback FIFO only ever has one producer (the writer
// goroutine, which also pushes in write order) and one consumer (the
// reader goroutine), guarded by a plain mutex instead of a global lock.
type linkState int32

const (
	linkConnecting linkState = iota
	linkConnected
	linkError
	linkClosed
)

// replyCallback is invoked exactly once per submitted request, in
// submission order, either with the parsed reply or with the link's
// canned error reply once it has entered ERROR (spec.md §4.2 "Contract").
type replyCallback struct {
	fn   func(reply *proto.Data, priv interface{})
	priv interface{}
}

type pendingWrite struct {
	data []byte
	cb   *replyCallback // nil for fire-and-forget requests (e.g. ASKING)
}

// Link is a non-blocking-in-spirit, pipelined connection to one backend.
// "Non-blocking" here means no caller of Submit ever blocks on backend
// I/O; the link's own goroutines may block on the socket, but that never
// stalls a client session.
type Link struct {
	Name        string
	addr        string
	authPass    string
	state       int32 // atomic linkState
	connectedAt atomic.Value // time.Time

	connMu sync.Mutex
	conn   net.Conn

	reqCh   chan pendingWrite
	closeCh chan struct{}
	closeLazy int32 // atomic bool

	cbMu      sync.Mutex
	callbacks *list.List // of *replyCallback

	errReply atomic.Value // *proto.Data, set once on ERROR entry

	onConnect    func(net.Conn) error
	onDisconnect func(*Link)

	doneWG sync.WaitGroup
}

// NewLink builds a link and immediately kicks off its connect attempt.
// onConnect runs synchronously on the link's own writer goroutine before
// any queued request is sent, so AUTH/CLIENT SETNAME (installed by the
// owning Instance) happen first; onDisconnect fires at most once per
// CONNECTED period.
func NewLink(addr, authPass, name string, onConnect func(net.Conn) error, onDisconnect func(*Link)) *Link {
	l := &Link{
		Name:         name,
		addr:         addr,
		authPass:     authPass,
		reqCh:        make(chan pendingWrite, 4096),
		closeCh:      make(chan struct{}),
		callbacks:    list.New(),
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
	}
	l.connectedAt.Store(time.Time{})
	atomic.StoreInt32(&l.state, int32(linkConnecting))
	l.doneWG.Add(1)
	go l.connectAndPump()
	return l
}

func (l *Link) State() linkState {
	return linkState(atomic.LoadInt32(&l.state))
}

// ConnectedAt reports when the current (or most recent) connect attempt
// completed, for the instance's reconnect throttle.
func (l *Link) ConnectedAt() time.Time {
	t, _ := l.connectedAt.Load().(time.Time)
	return t
}

func (l *Link) connectAndPump() {
	defer l.doneWG.Done()
	dialer := net.Dialer{
		Timeout: 5 * time.Second,
		Control: fnet.ApplySocketOptions(&fnet.ListenConfig{SocketFastOpen: true}),
	}
	conn, err := dialer.Dial("tcp", l.addr)
	l.connectedAt.Store(time.Now())
	if err != nil {
		glog.Errorf("link %s: connect failed: %v", l.Name, err)
		l.enterError(err)
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
	}
	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	atomic.StoreInt32(&l.state, int32(linkConnected))

	if l.onConnect != nil {
		if err := l.onConnect(conn); err != nil {
			glog.Errorf("link %s: handshake failed: %v", l.Name, err)
			l.enterError(err)
			return
		}
	}

	readerDone := make(chan struct{})
	go func() {
		l.readLoop(conn)
		close(readerDone)
	}()
	l.writeLoop(conn)
	<-readerDone
}

// writeLoop is the link's sole writer: it drains reqCh in order, writing
// each request's bytes and pushing its callback to the FIFO tail before
// moving to the next, so callback order always equals write order.
func (l *Link) writeLoop(conn net.Conn) {
	w := bufio.NewWriterSize(conn, 64*1024)
	for {
		select {
		case pw, ok := <-l.reqCh:
			if !ok {
				return
			}
			if pw.cb != nil {
				l.cbMu.Lock()
				l.callbacks.PushBack(pw.cb)
				l.cbMu.Unlock()
			}
			if _, err := w.Write(pw.data); err != nil {
				l.enterError(err)
				return
			}
			// drain any further already-queued requests before flushing,
			// coalescing writes the way the before-sleep sweep would.
			draining := true
			for draining {
				select {
				case pw2, ok := <-l.reqCh:
					if !ok {
						draining = false
						break
					}
					if pw2.cb != nil {
						l.cbMu.Lock()
						l.callbacks.PushBack(pw2.cb)
						l.cbMu.Unlock()
					}
					if _, err := w.Write(pw2.data); err != nil {
						l.enterError(err)
						return
					}
				default:
					draining = false
				}
			}
			if err := w.Flush(); err != nil {
				l.enterError(err)
				return
			}
		case <-l.closeCh:
			return
		}
	}
}

// readLoop is the link's sole reader: every parsed reply pops the FIFO
// head and invokes its callback. A read or protocol error is fatal for
// the link (ERROR), never for the process.
func (l *Link) readLoop(conn net.Conn) {
	r := bufio.NewReaderSize(conn, 64*1024)
	for {
		reply, err := proto.ReadData(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				glog.Errorf("link %s: read error: %v", l.Name, err)
			}
			l.enterError(err)
			return
		}
		l.cbMu.Lock()
		front := l.callbacks.Front()
		var cb *replyCallback
		if front != nil {
			cb = l.callbacks.Remove(front).(*replyCallback)
		}
		empty := l.callbacks.Len() == 0
		l.cbMu.Unlock()
		if cb != nil {
			cb.fn(reply, cb.priv)
		} else {
			glog.Warningf("link %s: reply with no waiting callback: %v", l.Name, reply)
		}
		if empty && atomic.LoadInt32(&l.closeLazy) == 1 {
			l.shutdown()
			return
		}
	}
}

// Submit enqueues one request. cb may be nil for fire-and-forget requests
// (e.g. the ASKING primer before a redirected command). Returns an error
// if the link is not CONNECTED (still connecting, in ERROR, or closed) or
// is torn down while the request waits for queue space; callers (the
// router) are expected to check State()/EnsureLink before calling Submit
// so this is the exceptional, not the common, path.
func (l *Link) Submit(data []byte, cb *replyCallback) error {
	if l.State() != linkConnected {
		return fmt.Errorf("link %s: not connected", l.Name)
	}
	select {
	case l.reqCh <- pendingWrite{data: data, cb: cb}:
		return nil
	case <-l.closeCh:
		return fmt.Errorf("link %s: closed", l.Name)
	}
}

// enterError performs the spec.md §4.2 ERROR-entry sequence: synthesize
// the canned reply, drain pending callbacks with it, and fire
// onDisconnect exactly once.
func (l *Link) enterError(err error) {
	prev := linkState(atomic.SwapInt32(&l.state, int32(linkError)))
	if prev == linkError || prev == linkClosed {
		return
	}
	canned := proto.NewError("ERR backend link failed: " + err.Error())
	l.errReply.Store(canned)

	l.cbMu.Lock()
	var pending []*replyCallback
	for e := l.callbacks.Front(); e != nil; e = e.Next() {
		pending = append(pending, e.Value.(*replyCallback))
	}
	l.callbacks.Init()
	l.cbMu.Unlock()

	for _, cb := range pending {
		cb.fn(canned, cb.priv)
	}

	if prev == linkConnected && l.onDisconnect != nil {
		l.onDisconnect(l)
	}

	// Tear down the socket and unblock writeLoop's select{reqCh, closeCh}
	// unconditionally: state stays linkError (not linkClosed) so
	// EnsureLink's reconnect throttle still recognizes this link as
	// errored rather than explicitly closed.
	l.closeTransport()
}

// closeTransport closes closeCh and conn exactly once. Safe to call from
// both enterError (state stays linkError) and shutdown (state becomes
// linkClosed).
func (l *Link) closeTransport() {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	l.connMu.Lock()
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.connMu.Unlock()
}

// Close tears the link down. If callbacks are still outstanding, it defers
// actual socket teardown until the last expected reply drains (lazy
// close, spec.md §4.2).
func (l *Link) Close() {
	l.cbMu.Lock()
	empty := l.callbacks.Len() == 0
	l.cbMu.Unlock()

	if empty || l.State() != linkConnected {
		l.shutdown()
		return
	}
	atomic.StoreInt32(&l.closeLazy, 1)
}

func (l *Link) shutdown() {
	atomic.StoreInt32(&l.state, int32(linkClosed))
	l.closeTransport()
}
