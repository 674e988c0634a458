package dispatch

import (
	"context"
	"devi/devi/utils/types"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	calls  []types.ModelRequest
	called chan types.ModelRequest
	handle func(ctx context.Context, call int, req types.ModelRequest) (*types.ModelResponse, error)
}

func newFakeSender(handle func(ctx context.Context, call int, req types.ModelRequest) (*types.ModelResponse, error)) *fakeSender {
	return &fakeSender{called: make(chan types.ModelRequest, 16), handle: handle}
}

func (f *fakeSender) Send(ctx context.Context, req types.ModelRequest) (*types.ModelResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	f.called <- req
	return f.handle(ctx, n, req)
}

func (f *fakeSender) Calls() []types.ModelRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ModelRequest(nil), f.calls...)
}

type fixedIdentity string

func (f fixedIdentity) UserID(context.Context) (string, error) { return string(f), nil }

type memoryHistory struct {
	mu    sync.Mutex
	saved []Message
}

func (h *memoryHistory) Load(context.Context) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.saved...), nil
}

func (h *memoryHistory) Save(_ context.Context, msgs []Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append([]Message(nil), msgs...)
	return nil
}

func (h *memoryHistory) Clear(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = nil
	return nil
}

func (h *memoryHistory) Saved() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.saved...)
}

type recordingView struct {
	mu       sync.Mutex
	appended []Message
}

func (v *recordingView) Append(msg Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.appended = append(v.appended, msg)
}

func (v *recordingView) UpdateStatus(string, Status) {}
func (v *recordingView) Typing(bool)                 {}

func (v *recordingView) Assistant() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return lo.FilterMap(v.appended, func(m Message, _ int) (string, bool) { return m.Text, !m.IsUser })
}

func ok(texts ...string) func(context.Context, int, types.ModelRequest) (*types.ModelResponse, error) {
	return func(context.Context, int, types.ModelRequest) (*types.ModelResponse, error) {
		return &types.ModelResponse{Response: texts, ID: "1700000000000"}, nil
	}
}

func testOptions(window time.Duration) Options {
	return Options{DebounceWindow: window, Now: time.Now}
}

func contents(req types.ModelRequest) []string {
	return lo.Map(req.Prompts, func(p types.Prompt, _ int) string { return p.Content })
}

func texts(msgs []Message) []string {
	return lo.Map(msgs, func(m Message, _ int) string { return m.Text })
}

func TestSubmit_DebouncesIntoSingleDispatch(t *testing.T) {
	req := require.New(t)
	sender := newFakeSender(ok())
	b := NewBuffer(sender, fixedIdentity("user-1"), nil, nil, testOptions(200*time.Millisecond))
	defer b.Close()

	for _, text := range []string{"A", "B", "C"} {
		_, err := b.Submit(text)
		req.NoError(err)
		time.Sleep(20 * time.Millisecond)
	}
	req.Equal(Accumulating, b.State())
	req.Empty(sender.Calls())

	req.Eventually(func() bool { return len(sender.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	calls := sender.Calls()
	req.Len(calls, 1)
	req.Equal([]string{"A", "B", "C"}, contents(calls[0]))
	req.Equal("user-1", calls[0].UserID)
	req.Eventually(func() bool { return len(b.Pending()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSubmit_DuringFlightAbortsAndKeepsBatch(t *testing.T) {
	req := require.New(t)
	firstErr := make(chan error, 1)
	sender := newFakeSender(func(ctx context.Context, call int, _ types.ModelRequest) (*types.ModelResponse, error) {
		if call == 1 {
			<-ctx.Done()
			firstErr <- ctx.Err()
			return nil, ctx.Err()
		}
		return &types.ModelResponse{Response: []string{"ok"}, ID: "1700000000000"}, nil
	})
	b := NewBuffer(sender, fixedIdentity("user-1"), nil, nil, testOptions(50*time.Millisecond))
	defer b.Close()

	a, err := b.Submit("A")
	req.NoError(err)

	select {
	case <-sender.called:
	case <-time.After(2 * time.Second):
		req.FailNow("first dispatch never happened")
	}
	req.Equal(Dispatching, b.State())

	c, err := b.Submit("C")
	req.NoError(err)

	select {
	case err := <-firstErr:
		req.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		req.FailNow("in-flight request was not cancelled")
	}

	pending := b.Pending()
	req.Equal([]string{a.ID, c.ID}, lo.Map(pending, func(m Message, _ int) string { return m.ID }))
	req.Equal(Accumulating, b.State())

	var second types.ModelRequest
	select {
	case second = <-sender.called:
	case <-time.After(2 * time.Second):
		req.FailNow("second dispatch never happened")
	}
	req.Equal([]string{"A", "C"}, contents(second))
	req.Equal([]string{a.ID, c.ID}, lo.Map(second.Prompts, func(p types.Prompt, _ int) string { return p.ID }))
	req.Eventually(func() bool { return len(b.Pending()) == 0 && b.State() == Idle }, time.Second, 5*time.Millisecond)
}

func TestDispatch_SuccessRevealsInOrder(t *testing.T) {
	req := require.New(t)
	sender := newFakeSender(ok("r1", "r2", "r3"))
	view := &recordingView{}
	history := &memoryHistory{}
	opts := testOptions(20 * time.Millisecond)
	opts.RevealMin = time.Millisecond
	opts.RevealMax = 5 * time.Millisecond
	b := NewBuffer(sender, fixedIdentity("user-1"), history, view, opts)
	defer b.Close()

	_, err := b.Submit("A")
	req.NoError(err)

	req.Eventually(func() bool { return len(view.Assistant()) == 3 }, 2*time.Second, 5*time.Millisecond)
	req.Equal([]string{"r1", "r2", "r3"}, view.Assistant())
	req.Empty(b.Pending())
	req.Equal(Idle, b.State())

	thread := b.Thread()
	req.Equal([]string{"A", "r1", "r2", "r3"}, texts(thread))
	req.Equal(StatusRead, thread[0].Status)
	req.Equal("1700000000000-0", thread[1].ID)
	req.Eventually(func() bool { return len(history.Saved()) == 4 }, time.Second, 5*time.Millisecond)
}

func TestDispatch_FailureKeepsBatch(t *testing.T) {
	req := require.New(t)
	sender := newFakeSender(func(_ context.Context, call int, _ types.ModelRequest) (*types.ModelResponse, error) {
		if call == 1 {
			return nil, errors.New("bad status: 502")
		}
		return &types.ModelResponse{Response: []string{"ok"}, ID: "1700000000000"}, nil
	})
	b := NewBuffer(sender, fixedIdentity("user-1"), nil, nil, testOptions(20*time.Millisecond))
	defer b.Close()

	a, err := b.Submit("A")
	req.NoError(err)

	req.Eventually(func() bool { return len(sender.Calls()) == 1 && b.State() == Idle }, 2*time.Second, 5*time.Millisecond)
	pending := b.Pending()
	req.Len(pending, 1)
	req.Equal(a.ID, pending[0].ID)

	// no automatic retry
	time.Sleep(100 * time.Millisecond)
	req.Len(sender.Calls(), 1)

	req.NoError(b.Flush())
	req.Eventually(func() bool { return len(sender.Calls()) == 2 && len(b.Pending()) == 0 }, 2*time.Second, 5*time.Millisecond)
	req.Equal([]string{"A"}, contents(sender.Calls()[1]))
}

func TestSubmit_BlankIsRejected(t *testing.T) {
	req := require.New(t)
	sender := newFakeSender(ok())
	b := NewBuffer(sender, fixedIdentity("user-1"), nil, nil, testOptions(time.Hour))
	defer b.Close()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := b.Submit(text)
		req.ErrorIs(err, ErrBlankMessage)
	}
	req.Equal(Idle, b.State())
	req.Empty(b.Pending())

	_, err := b.Submit("A")
	req.NoError(err)
	b.mu.Lock()
	gen, timer := b.gen, b.timer
	b.mu.Unlock()

	_, err = b.Submit(" ")
	req.ErrorIs(err, ErrBlankMessage)
	b.mu.Lock()
	defer b.mu.Unlock()
	req.Equal(gen, b.gen)
	req.Same(timer, b.timer)
}

func TestFlush_NothingPending(t *testing.T) {
	b := NewBuffer(newFakeSender(ok()), fixedIdentity("user-1"), nil, nil, testOptions(time.Hour))
	defer b.Close()
	require.ErrorIs(t, b.Flush(), ErrNothingToSend)
}

func TestReset_ClearsBatchAndHistory(t *testing.T) {
	req := require.New(t)
	sender := newFakeSender(ok("r1"))
	history := &memoryHistory{}
	b := NewBuffer(sender, fixedIdentity("user-1"), history, nil, testOptions(50*time.Millisecond))
	defer b.Close()

	_, err := b.Submit("A")
	req.NoError(err)
	req.NoError(b.Reset(context.Background()))

	req.Empty(b.Pending())
	req.Empty(b.Thread())
	req.Empty(history.Saved())
	time.Sleep(150 * time.Millisecond)
	req.Empty(sender.Calls())
}

func TestRestore_PrependsHistory(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	question := NewUserMessage("old question", now)
	question.Status = StatusRead
	history := &memoryHistory{saved: []Message{
		question,
		{ID: "1-0", Text: "old answer", Timestamp: now.Format(TimestampLayout), Status: StatusRead},
	}}
	b := NewBuffer(newFakeSender(ok()), fixedIdentity("user-1"), history, nil, testOptions(time.Hour))
	defer b.Close()

	restored, err := b.Restore(context.Background())
	req.NoError(err)
	req.Len(restored, 2)
	req.Equal([]string{"old question", "old answer"}, texts(b.Thread()))
	req.Empty(b.Pending())
}

func TestRestore_RequeuesUnacknowledgedMessages(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	delivered := NewUserMessage("answered already", now)
	delivered.Status = StatusDelivered
	sentNoReply := NewUserMessage("sent before exit", now)
	sentNoReply.Status = StatusSent
	history := &memoryHistory{saved: []Message{
		delivered,
		sentNoReply,
		NewUserMessage("typed before crash", now),
	}}
	sender := newFakeSender(ok("welcome back"))
	b := NewBuffer(sender, fixedIdentity("user-1"), history, nil, testOptions(20*time.Millisecond))
	defer b.Close()

	_, err := b.Restore(context.Background())
	req.NoError(err)
	req.Equal([]string{"sent before exit", "typed before crash"}, texts(b.Pending()))
	req.Equal(Accumulating, b.State())

	select {
	case got := <-sender.called:
		req.Equal([]string{"sent before exit", "typed before crash"}, contents(got))
	case <-time.After(2 * time.Second):
		t.Fatal("restored messages were not dispatched")
	}
	req.Eventually(func() bool { return len(b.Pending()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSubmit_DuringPreSendDelayRestartsWindow(t *testing.T) {
	req := require.New(t)
	sender := newFakeSender(ok("r"))
	opts := testOptions(30 * time.Millisecond)
	opts.PreSendDelay = 300 * time.Millisecond
	b := NewBuffer(sender, fixedIdentity("user-1"), nil, nil, opts)
	defer b.Close()

	for _, text := range []string{"A", "B"} {
		_, err := b.Submit(text)
		req.NoError(err)
	}
	req.Eventually(func() bool { return b.State() == Dispatching }, 2*time.Second, time.Millisecond)
	req.Empty(sender.Calls(), "still inside the pre-send delay")

	_, err := b.Submit("C")
	req.NoError(err)
	req.Equal(Accumulating, b.State())
	req.Equal([]string{"A", "B", "C"}, texts(b.Pending()))

	req.Eventually(func() bool { return len(sender.Calls()) == 1 }, 3*time.Second, 5*time.Millisecond)
	req.Equal([]string{"A", "B", "C"}, contents(sender.Calls()[0]))
	req.Eventually(func() bool { return len(b.Pending()) == 0 && b.State() == Idle }, 2*time.Second, 5*time.Millisecond)
	req.Len(sender.Calls(), 1)
}

func TestReveal_BackToBackCyclesDoNotInterleave(t *testing.T) {
	req := require.New(t)
	sender := newFakeSender(func(_ context.Context, call int, _ types.ModelRequest) (*types.ModelResponse, error) {
		if call == 1 {
			return &types.ModelResponse{Response: []string{"a1", "a2", "a3"}, ID: "1700000000000"}, nil
		}
		return &types.ModelResponse{Response: []string{"b1", "b2"}, ID: "1700000001000"}, nil
	})
	view := &recordingView{}
	opts := testOptions(10 * time.Millisecond)
	opts.RevealMin = 20 * time.Millisecond
	opts.RevealMax = 40 * time.Millisecond
	b := NewBuffer(sender, fixedIdentity("user-1"), nil, view, opts)
	defer b.Close()

	_, err := b.Submit("A")
	req.NoError(err)
	req.Eventually(func() bool { return len(sender.Calls()) == 1 && len(b.Pending()) == 0 }, 2*time.Second, time.Millisecond)

	// the first reply is still waiting for its reveal delay
	_, err = b.Submit("B")
	req.NoError(err)
	req.Eventually(func() bool { return len(view.Assistant()) == 5 }, 3*time.Second, 5*time.Millisecond)
	req.Equal([]string{"a1", "a2", "a3", "b1", "b2"}, view.Assistant())
	req.Len(sender.Calls(), 2)
}

func TestSubmit_AfterClose(t *testing.T) {
	b := NewBuffer(newFakeSender(ok()), fixedIdentity("user-1"), nil, nil, testOptions(time.Hour))
	b.Close()
	_, err := b.Submit("A")
	require.ErrorIs(t, err, ErrClosed)
}

type failureView struct {
	recordingView
	failures chan int
}

func (v *failureView) DispatchFailed(_ error, pending int) { v.failures <- pending }

func TestDispatch_FailureIsReportedToView(t *testing.T) {
	sender := newFakeSender(func(context.Context, int, types.ModelRequest) (*types.ModelResponse, error) {
		return nil, errors.New("connection refused")
	})
	view := &failureView{failures: make(chan int, 1)}
	b := NewBuffer(sender, fixedIdentity("user-1"), nil, view, testOptions(20*time.Millisecond))
	defer b.Close()

	_, err := b.Submit("A")
	require.NoError(t, err)
	_, err = b.Submit("B")
	require.NoError(t, err)

	select {
	case pending := <-view.failures:
		require.Equal(t, 2, pending)
	case <-time.After(2 * time.Second):
		t.Fatal("failure not reported")
	}
}
