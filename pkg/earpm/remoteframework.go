package earpm

import (
	"sync"

	"github.com/cuemby/celixd/pkg/filter"
	"github.com/cuemby/celixd/pkg/props"
)

// pendingAck tracks one outstanding send_event's wait on a single
// remote framework: the sequence number it was published with, and a
// channel closed when that framework acks.
type pendingAck struct {
	seq  uint64
	done chan struct{}
}

// remoteFramework is one peer's view, as told to us by its HandlerInfo
// traffic. It exists from the first HandlerInfo/add we see from its
// uuid until its last handler is removed or it sends session/end - the
// KNOWN state of spec.md §4.11's remote-framework state machine; a
// remoteFramework value simply not being present in Provider.remotes
// is the (absent) state.
type remoteFramework struct {
	uuid string

	mu                  sync.Mutex
	handlers            map[int64]HandlerInfo
	consecutiveTimeouts int
	pendingAcks         map[uint64]*pendingAck
}

func newRemoteFramework(uuid string) *remoteFramework {
	return &remoteFramework{
		uuid:        uuid,
		handlers:    make(map[int64]HandlerInfo),
		pendingAcks: make(map[uint64]*pendingAck),
	}
}

func (rf *remoteFramework) addHandler(h HandlerInfo) {
	rf.mu.Lock()
	rf.handlers[h.HandlerID] = h
	rf.mu.Unlock()
}

// removeHandler removes h, reporting whether the framework now has no
// handlers left (the "last handler removed" transition back to absent).
func (rf *remoteFramework) removeHandler(handlerID int64) (empty bool) {
	rf.mu.Lock()
	delete(rf.handlers, handlerID)
	empty = len(rf.handlers) == 0
	rf.mu.Unlock()
	return empty
}

// replaceHandlers implements "last update wins per sender": a
// HandlerInfo/update payload is the sender's full handler set as of
// send time and overwrites whatever we had.
func (rf *remoteFramework) replaceHandlers(handlers []HandlerInfo) {
	next := make(map[int64]HandlerInfo, len(handlers))
	for _, h := range handlers {
		next[h.HandlerID] = h
	}
	rf.mu.Lock()
	rf.handlers = next
	rf.mu.Unlock()
}

// matches reports whether any of this framework's handlers would
// receive (topic, props): its topic pattern matches and, if it
// declared a filter, the filter matches too.
func (rf *remoteFramework) matches(topic string, p *props.Properties) bool {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	for _, h := range rf.handlers {
		if !anyTopicMatches(h.Topics, topic) {
			continue
		}
		if h.Filter == "" {
			return true
		}
		f, err := filter.Parse(h.Filter)
		if err != nil {
			continue
		}
		if f.Match(p) {
			return true
		}
	}
	return false
}

func (rf *remoteFramework) recordTimeout() int {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	rf.consecutiveTimeouts++
	return rf.consecutiveTimeouts
}

func (rf *remoteFramework) resetTimeouts() {
	rf.mu.Lock()
	rf.consecutiveTimeouts = 0
	rf.mu.Unlock()
}

func (rf *remoteFramework) addPendingAck(seq uint64) chan struct{} {
	done := make(chan struct{})
	rf.mu.Lock()
	rf.pendingAcks[seq] = &pendingAck{seq: seq, done: done}
	rf.mu.Unlock()
	return done
}

// ackSeq closes the pending wait for seq, if one is outstanding, and
// resets the timeout counter since an ack is a liveness signal.
func (rf *remoteFramework) ackSeq(seq uint64) {
	rf.mu.Lock()
	ack, ok := rf.pendingAcks[seq]
	if ok {
		delete(rf.pendingAcks, seq)
	}
	rf.consecutiveTimeouts = 0
	rf.mu.Unlock()
	if ok {
		close(ack.done)
	}
}

// clearPendingAck removes seq's wait entry without closing it (used on
// timeout, where the caller's own select already moved on).
func (rf *remoteFramework) clearPendingAck(seq uint64) {
	rf.mu.Lock()
	delete(rf.pendingAcks, seq)
	rf.mu.Unlock()
}

// resolveAllPending closes every outstanding pending ack wait - used
// when the framework sends session/end, which spec.md §4.11 treats as
// "no remaining acker" (i.e. success, not timeout).
func (rf *remoteFramework) resolveAllPending() {
	rf.mu.Lock()
	acks := rf.pendingAcks
	rf.pendingAcks = make(map[uint64]*pendingAck)
	rf.mu.Unlock()
	for _, ack := range acks {
		close(ack.done)
	}
}
