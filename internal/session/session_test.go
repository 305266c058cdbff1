package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/echolens/internal/narration"
	"github.com/eleven-am/echolens/internal/shared"
)

func enter(t *testing.T, s *Session) *Turn {
	t.Helper()
	turn, err := s.Enter()
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	return turn
}

func TestNew_GeneratesID(t *testing.T) {
	s := New("", narration.Config{})
	if s.ID == "" {
		t.Fatal("expected generated id")
	}
	if s.Status() != StatusActive {
		t.Errorf("expected active, got %s", s.Status())
	}
	if s.Narration() == nil {
		t.Error("session should own a narration context")
	}
}

func TestTurn_FirstTicketProceeds(t *testing.T) {
	s := New("s1", narration.Config{})
	turn := enter(t, s)
	defer turn.Leave()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := turn.Wait(ctx); err != nil {
		t.Fatalf("first ticket should not wait: %v", err)
	}
	if !s.Busy() {
		t.Error("session should be busy while a turn is held")
	}
}

func TestTurn_FIFOOrder(t *testing.T) {
	s := New("s1", narration.Config{})
	const n = 8

	turns := make([]*Turn, n)
	for i := range turns {
		turns[i] = enter(t, s)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	// start waiters in reverse to make sure arrival, not scheduling, decides
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := turns[i].Wait(context.Background()); err != nil {
				t.Errorf("wait %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			turns[i].Leave()
		}(i)
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("turn order %v, expected ascending", order)
		}
	}
	if s.Busy() {
		t.Error("session should be idle after all turns left")
	}
}

func TestTurn_CriticalSectionsDoNotInterleave(t *testing.T) {
	s := New("s1", narration.Config{})
	var (
		inside int
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		turn := enter(t, s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer turn.Leave()
			if err := turn.Wait(context.Background()); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside != 1 {
				t.Errorf("%d frames inside the critical section", inside)
			}
			mu.Unlock()

			time.Sleep(100 * time.Microsecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
}

func TestTurn_CancelledWaiterIsSkipped(t *testing.T) {
	s := New("s1", narration.Config{})
	first := enter(t, s)
	second := enter(t, s)
	third := enter(t, s)

	if err := first.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- second.Wait(ctx) }()

	thirdDone := make(chan error, 1)
	go func() { thirdDone <- third.Wait(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	second.Leave()

	first.Leave()

	select {
	case err := <-thirdDone:
		if err != nil {
			t.Fatalf("third wait failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("third ticket blocked behind a cancelled waiter")
	}
	third.Leave()

	if s.Busy() {
		t.Error("session should be idle")
	}
}

func TestTurn_LeaveWithoutWait(t *testing.T) {
	s := New("s1", narration.Config{})
	first := enter(t, s)
	second := enter(t, s)

	// a frame that failed before reaching the critical section
	second.Leave()
	first.Leave()

	third := enter(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := third.Wait(ctx); err != nil {
		t.Fatalf("third should not wait: %v", err)
	}
	third.Leave()
}

func TestTurn_LeaveIsIdempotent(t *testing.T) {
	s := New("s1", narration.Config{})
	first := enter(t, s)
	second := enter(t, s)

	if err := first.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	first.Leave()
	first.Leave()

	if err := second.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	third := enter(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := third.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("double Leave must not release the next turn early, got %v", err)
	}
	second.Leave()
	third.Leave()
}

func TestSession_CloseWakesWaiters(t *testing.T) {
	s := New("s1", narration.Config{})
	first := enter(t, s)
	second := enter(t, s)
	if err := first.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- second.Wait(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	s.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, shared.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
	second.Leave()
	first.Leave()

	if _, err := s.Enter(); !errors.Is(err, shared.ErrClosed) {
		t.Errorf("Enter on closed session should fail, got %v", err)
	}
	if s.Status() != StatusClosed {
		t.Errorf("expected closed, got %s", s.Status())
	}
	s.Close()
}

func TestSession_InfoAndReset(t *testing.T) {
	s := New("s1", narration.Config{})
	turn := enter(t, s)
	turn.Leave()
	s.Narration().Append(narration.Segment{FrameID: "f1", Text: "There is a lamp."})

	info := s.Info(true)
	if info.Frames != 1 || info.Segments != 1 {
		t.Errorf("unexpected info %+v", info)
	}
	if len(info.History) != 1 || info.History[0].Text != "There is a lamp." {
		t.Errorf("unexpected history %+v", info.History)
	}
	if s.Info(false).History != nil {
		t.Error("history should be omitted when not requested")
	}

	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if s.Narration().Len() != 0 {
		t.Error("reset should clear the narration")
	}
	if s.Info(false).Frames != 1 {
		t.Error("reset should not count as a frame")
	}
}

func TestSession_ResetWaitsForHolder(t *testing.T) {
	s := New("s1", narration.Config{})
	holder := enter(t, s)
	if err := holder.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Reset(context.Background()) }()

	select {
	case <-done:
		t.Fatal("reset should wait for the frame holding the turn")
	case <-time.After(20 * time.Millisecond):
	}

	s.Narration().Append(narration.Segment{FrameID: "f1", Text: "There is a cat."})
	holder.Leave()

	if err := <-done; err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if s.Narration().Len() != 0 {
		t.Error("segment appended before the reset should be cleared")
	}
	if s.Busy() {
		t.Error("reset should release its turn")
	}
}

func TestSession_ResetCancelledAndClosed(t *testing.T) {
	s := New("s1", narration.Config{})
	s.Narration().Append(narration.Segment{Text: "There is a cat."})
	holder := enter(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Reset(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if s.Narration().Len() != 1 {
		t.Error("cancelled reset should leave history alone")
	}
	holder.Leave()
	if s.Busy() {
		t.Error("cancelled reset should not hold up the queue")
	}

	s.Close()
	if err := s.Reset(context.Background()); !errors.Is(err, shared.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
