package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var _ contract.Worker = (*Lanes)(nil)

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

type lane struct {
	jobs    chan job
	pending int
}

// Lanes runs jobs one at a time per conversation, in submission order.
// Each conversation gets its own goroutine on first use; the goroutine exits
// once it has been idle for idleTimeout and nothing is queued.
// Different conversations never wait on each other.
type Lanes struct {
	mu          sync.Mutex
	log         *slog.Logger
	lanes       map[domain.ConversationID]*lane
	bufferSize  int
	idleTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	closed      bool
	wg          sync.WaitGroup
}

func NewLanes(log *slog.Logger, bufferSize int, idleTimeout time.Duration) *Lanes {
	return &Lanes{
		log:         log,
		lanes:       make(map[domain.ConversationID]*lane),
		bufferSize:  bufferSize,
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}
}

// Do queues fn on the lane of conversationID and waits for its result.
// If ctx ends while the job is still queued, the job is skipped.
func (l *Lanes) Do(ctx context.Context, conversationID domain.ConversationID, fn func(ctx context.Context) error) error {
	ln, err := l.acquire(conversationID)
	if err != nil {
		return err
	}

	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case ln.jobs <- j:
	case <-ctx.Done():
		l.release(ln)
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire returns the lane of a conversation, creating it when needed, and
// marks one pending job so the lane cannot retire before it is sent.
func (l *Lanes) acquire(conversationID domain.ConversationID) (*lane, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errors.ErrLaneClosed
	}
	ln, ok := l.lanes[conversationID]
	if !ok {
		ln = &lane{jobs: make(chan job, l.bufferSize)}
		l.lanes[conversationID] = ln
		l.wg.Add(1)
		go l.run(conversationID, ln)
	}
	ln.pending++
	return ln, nil
}

func (l *Lanes) release(ln *lane) {
	l.mu.Lock()
	ln.pending--
	l.mu.Unlock()
}

// retire removes an idle lane. It refuses while jobs are still pending.
func (l *Lanes) retire(conversationID domain.ConversationID, ln *lane) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ln.pending > 0 {
		return false
	}
	delete(l.lanes, conversationID)
	return true
}

func (l *Lanes) run(conversationID domain.ConversationID, ln *lane) {
	defer l.wg.Done()
	timeout := l.idleTimeout
	idle := time.NewTimer(timeout)
	defer idle.Stop()
	stop := l.stop

	for {
		select {
		case j := <-ln.jobs:
			l.execute(conversationID, j)
			l.release(ln)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(timeout)
		case <-idle.C:
			if l.retire(conversationID, ln) {
				return
			}
			idle.Reset(timeout)
		case <-stop:
			if l.retire(conversationID, ln) {
				return
			}
			// Still draining, poll until nothing is pending
			stop = nil
			timeout = drainPollInterval
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(timeout)
		}
	}
}

const drainPollInterval = 10 * time.Millisecond

func (l *Lanes) execute(conversationID domain.ConversationID, j job) {
	if j.ctx.Err() != nil {
		j.done <- j.ctx.Err()
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				l.log.Error("Lane job panicked", "conversation_id", conversationID, "panic", fmt.Sprint(r))
				err = errors.ErrWorkerPanic
			}
		}()
		return j.fn(j.ctx)
	}()
	j.done <- err
}

// Size returns the number of live lanes.
func (l *Lanes) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

// Backlog returns the fill of the busiest lane.
func (l *Lanes) Backlog() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	length := 0
	for _, ln := range l.lanes {
		if n := len(ln.jobs); n > length {
			length = n
		}
	}
	return length, l.bufferSize
}

// Run blocks until ctx is done, then refuses new jobs and waits for every
// lane to drain what was already queued.
func (l *Lanes) Run(ctx context.Context) error {
	<-ctx.Done()
	l.Close()
	return nil
}

func (l *Lanes) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
	l.log.Debug("All conversation lanes drained")
}
