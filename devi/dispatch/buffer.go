// Package dispatch coalesces chat input into batched requests to the model endpoint.
//
// A Buffer collects user messages, waits for a quiet period (the debounce window),
// pauses briefly (the pre-send delay) and then sends everything not yet acknowledged
// in one request. New input while a request is in flight aborts that request and
// restarts the window; the batch is only cleared by a successful response.
package dispatch

import (
	"context"
	"devi/devi/utils/logging"
	"devi/devi/utils/types"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrBlankMessage  = errors.New("message is blank")
	ErrClosed        = errors.New("dispatch buffer closed")
	ErrNothingToSend = errors.New("no pending messages")
)

type State int

const (
	Idle State = iota
	Accumulating
	Dispatching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Dispatching:
		return "dispatching"
	}
	return "unknown"
}

// Sender delivers a batch to the remote model endpoint.
type Sender interface {
	Send(ctx context.Context, req types.ModelRequest) (*types.ModelResponse, error)
}

// IdentityResolver returns the persisted user id.
type IdentityResolver interface {
	UserID(ctx context.Context) (string, error)
}

// HistoryStore keeps the visible thread across restarts.
type HistoryStore interface {
	Load(ctx context.Context) ([]Message, error)
	Save(ctx context.Context, msgs []Message) error
	Clear(ctx context.Context) error
}

// View receives everything the UI has to render. Calls may come from any goroutine.
type View interface {
	Append(msg Message)
	UpdateStatus(id string, status Status)
	Typing(active bool)
}

// FailureView is implemented by views that surface failed dispatches. The pending
// batch is still intact when DispatchFailed is called.
type FailureView interface {
	DispatchFailed(err error, pending int)
}

type Options struct {
	DebounceWindow time.Duration
	PreSendDelay   time.Duration
	RevealMin      time.Duration
	RevealMax      time.Duration
	Now            func() time.Time
}

func DefaultOptions() Options {
	return Options{
		DebounceWindow: 10 * time.Second,
		PreSendDelay:   2 * time.Second,
		RevealMin:      3 * time.Second,
		RevealMax:      6 * time.Second,
		Now:            time.Now,
	}
}

type revealJob struct {
	epoch    uint64
	replies  []Message
	answered []string
}

type Buffer struct {
	sender   Sender
	identity IdentityResolver
	history  HistoryStore
	view     View
	opts     Options

	mu       sync.Mutex
	state    State
	pending  []Message
	thread   []Message
	timer    *time.Timer
	gen      uint64 // bumped on every input, stale timers and responses compare against it
	epoch    uint64 // bumped on Reset
	inFlight bool
	cancel   context.CancelFunc
	closed   bool

	revealQueue  []revealJob
	revealSignal chan struct{}

	persistMu sync.Mutex

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewBuffer wires a Buffer. history and view may be nil.
func NewBuffer(sender Sender, identity IdentityResolver, history HistoryStore, view View, opts Options) *Buffer {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultOptions().DebounceWindow
	}
	if opts.RevealMax < opts.RevealMin {
		opts.RevealMax = opts.RevealMin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if history == nil {
		history = nopHistory{}
	}
	if view == nil {
		view = nopView{}
	}
	ctx, stop := context.WithCancel(context.Background())
	b := &Buffer{
		sender:       sender,
		identity:     identity,
		history:      history,
		view:         view,
		opts:         opts,
		revealSignal: make(chan struct{}, 1),
		ctx:          ctx,
		stop:         stop,
	}
	b.wg.Add(1)
	go b.revealLoop()
	return b
}

// Restore loads the persisted thread. Call it once before the first Submit.
// User messages that were never acknowledged (sending or sent) go back into the
// pending batch and a fresh debounce window is armed for them.
func (b *Buffer) Restore(ctx context.Context) ([]Message, error) {
	msgs, err := b.history.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs = lo.Map(msgs, func(m Message, _ int) Message {
		if m.IsUser && m.Status == StatusSent {
			m.Status = StatusSending
		}
		return m
	})
	unsent := lo.Filter(msgs, func(m Message, _ int) bool {
		return m.IsUser && m.Status == StatusSending
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.thread = append(slices.Clone(msgs), b.thread...)
	if len(unsent) > 0 {
		b.pending = append(unsent, b.pending...)
		b.abortLocked()
		b.armLocked()
		b.state = Accumulating
	}
	b.mu.Unlock()

	if len(unsent) > 0 {
		logging.AppLogger.Info("unsent messages restored", zap.Int("pending", len(unsent)))
	}
	return msgs, nil
}

// Submit adds a user message to the pending batch and restarts the debounce window.
// Any request still in flight is aborted; its batch stays pending.
func (b *Buffer) Submit(text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrBlankMessage
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Message{}, ErrClosed
	}
	msg := NewUserMessage(text, b.opts.Now())
	b.pending = append(b.pending, msg)
	b.thread = append(b.thread, msg)
	b.abortLocked()
	b.armLocked()
	b.state = Accumulating
	pending := len(b.pending)
	b.mu.Unlock()

	logging.AppLogger.Debug("message buffered",
		zap.String("message_id", msg.ID),
		zap.Int("pending", pending),
	)
	b.view.Append(msg)
	b.persist()
	return msg, nil
}

// Flush dispatches the pending batch now instead of waiting for the window.
// It is the manual retry after a failed dispatch; nothing calls it automatically.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return ErrNothingToSend
	}
	if b.inFlight {
		b.mu.Unlock()
		return nil
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	gen := b.gen
	b.mu.Unlock()

	go b.fire(gen)
	return nil
}

// Reset drops the pending batch, the visible thread and the persisted history.
func (b *Buffer) Reset(ctx context.Context) error {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.abortLocked()
	b.epoch++
	b.pending = nil
	b.thread = nil
	b.revealQueue = nil
	b.state = Idle
	b.mu.Unlock()

	b.view.Typing(false)
	if err := b.history.Clear(ctx); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Close stops the timer, aborts any request and waits for background work.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.abortLocked()
	b.mu.Unlock()

	b.stop()
	b.wg.Wait()
}

func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Pending returns a copy of the unacknowledged batch in submission order.
func (b *Buffer) Pending() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.pending)
}

// Thread returns a copy of the visible conversation.
func (b *Buffer) Thread() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.thread)
}

// abortLocked cancels the in-flight request, if any, and invalidates the current cycle.
func (b *Buffer) abortLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
		logging.AppLogger.Info("in-flight dispatch aborted", zap.Uint64("gen", b.gen))
	}
	b.inFlight = false
	b.gen++
}

// armLocked replaces the debounce timer, there is never more than one.
func (b *Buffer) armLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	gen := b.gen
	b.timer = time.AfterFunc(b.opts.DebounceWindow, func() { b.fire(gen) })
}

func (b *Buffer) fire(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.gen || b.inFlight || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	ctx, cancel := context.WithCancel(b.ctx)
	b.cancel = cancel
	b.inFlight = true
	b.state = Dispatching
	batch := slices.Clone(b.pending)
	b.wg.Add(1)
	b.mu.Unlock()

	defer b.wg.Done()
	defer cancel()
	b.dispatch(ctx, gen, batch)
}

func (b *Buffer) dispatch(ctx context.Context, gen uint64, batch []Message) {
	b.view.Typing(true)

	if !sleepCtx(ctx, b.opts.PreSendDelay) {
		b.view.Typing(false)
		return
	}

	userID, err := b.identity.UserID(ctx)
	if err != nil {
		b.fail(ctx, gen, fmt.Errorf("resolve user id: %w", err))
		return
	}

	ids := lo.Map(batch, func(m Message, _ int) string { return m.ID })
	req := types.ModelRequest{
		Prompts: lo.Map(batch, func(m Message, _ int) types.Prompt {
			return types.Prompt{ID: m.ID, Content: m.Text}
		}),
		UserID: userID,
	}

	b.mu.Lock()
	if gen != b.gen {
		// input arrived during the pre-send delay
		b.mu.Unlock()
		b.view.Typing(false)
		return
	}
	b.setStatusLocked(ids, StatusSent)
	b.mu.Unlock()
	for _, id := range ids {
		b.view.UpdateStatus(id, StatusSent)
	}

	logging.AppLogger.Info("dispatching batch",
		zap.String("user_id", userID),
		zap.Int("prompts", len(req.Prompts)),
		zap.Uint64("gen", gen),
	)
	resp, err := b.sender.Send(ctx, req)
	if err != nil {
		b.fail(ctx, gen, err)
		return
	}
	if resp == nil {
		resp = &types.ModelResponse{}
	}

	b.mu.Lock()
	if gen != b.gen || b.closed {
		b.mu.Unlock()
		b.view.Typing(false)
		return
	}
	sent := lo.SliceToMap(ids, func(id string) (string, struct{}) { return id, struct{}{} })
	b.pending = lo.Reject(b.pending, func(m Message, _ int) bool {
		_, ok := sent[m.ID]
		return ok
	})
	b.inFlight = false
	b.cancel = nil
	b.state = Idle
	b.setStatusLocked(ids, StatusDelivered)
	b.revealQueue = append(b.revealQueue, revealJob{
		epoch:    b.epoch,
		replies:  NewAssistantMessages(*resp, b.opts.Now()),
		answered: ids,
	})
	b.mu.Unlock()

	for _, id := range ids {
		b.view.UpdateStatus(id, StatusDelivered)
	}
	b.persist()
	logging.AppLogger.Info("batch acknowledged",
		zap.String("response_id", resp.ID),
		zap.Int("replies", len(resp.Response)),
	)

	select {
	case b.revealSignal <- struct{}{}:
	default:
	}
}

// fail ends a cycle that did not succeed. The batch is left untouched.
func (b *Buffer) fail(ctx context.Context, gen uint64, err error) {
	b.view.Typing(false)

	b.mu.Lock()
	if gen == b.gen {
		b.inFlight = false
		b.cancel = nil
		b.state = Idle
	}
	pending := len(b.pending)
	b.mu.Unlock()

	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		logging.AppLogger.Debug("dispatch cancelled", zap.Uint64("gen", gen))
		return
	}
	logging.ErrorLogger.Error("dispatch failed",
		zap.Error(err),
		zap.Int("pending", pending),
		zap.Uint64("gen", gen),
	)
	if fv, ok := b.view.(FailureView); ok {
		fv.DispatchFailed(err, pending)
	}
}

func (b *Buffer) revealLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.revealSignal:
		}
		for {
			b.mu.Lock()
			if len(b.revealQueue) == 0 {
				b.mu.Unlock()
				break
			}
			job := b.revealQueue[0]
			b.revealQueue = b.revealQueue[1:]
			b.mu.Unlock()

			if !b.reveal(job) {
				return
			}
		}
	}
}

// reveal appends replies one at a time, each after its own delay. It returns false
// once the buffer is closing.
func (b *Buffer) reveal(job revealJob) bool {
	defer b.view.Typing(false)
	for i, msg := range job.replies {
		if !sleepCtx(b.ctx, b.revealDelay()) {
			return false
		}
		b.mu.Lock()
		if job.epoch != b.epoch {
			b.mu.Unlock()
			return true
		}
		b.thread = append(b.thread, msg)
		if i == 0 {
			b.setStatusLocked(job.answered, StatusRead)
		}
		b.mu.Unlock()

		if i == 0 {
			for _, id := range job.answered {
				b.view.UpdateStatus(id, StatusRead)
			}
		}
		b.view.Append(msg)
		b.persist()
	}
	return true
}

func (b *Buffer) revealDelay() time.Duration {
	span := b.opts.RevealMax - b.opts.RevealMin
	if span <= 0 {
		return b.opts.RevealMin
	}
	return b.opts.RevealMin + rand.N(span+1)
}

func (b *Buffer) setStatusLocked(ids []string, status Status) {
	for i := range b.thread {
		if lo.Contains(ids, b.thread[i].ID) {
			b.thread[i].Status = status
		}
	}
	for i := range b.pending {
		if lo.Contains(ids, b.pending[i].ID) {
			b.pending[i].Status = status
		}
	}
}

// persist writes the current thread. Snapshots are taken under persistMu so an older
// snapshot never overwrites a newer one.
func (b *Buffer) persist() {
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	b.mu.Lock()
	thread := slices.Clone(b.thread)
	b.mu.Unlock()

	if err := b.history.Save(context.Background(), thread); err != nil {
		logging.ErrorLogger.Error("history save failed", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type nopHistory struct{}

func (nopHistory) Load(context.Context) ([]Message, error) { return nil, nil }
func (nopHistory) Save(context.Context, []Message) error   { return nil }
func (nopHistory) Clear(context.Context) error             { return nil }

type nopView struct{}

func (nopView) Append(Message)              {}
func (nopView) UpdateStatus(string, Status) {}
func (nopView) Typing(bool)                 {}
