package emit

import (
	"sync"
	"testing"
)

func TestBufferedEmitter_History(t *testing.T) {
	b := NewBufferedEmitter()

	b.Emit(Event{RunID: "run-1", NodeID: "a", Msg: MsgNodeStarted})
	b.Emit(Event{RunID: "run-1", NodeID: "a", Msg: MsgNodeSucceeded})
	b.Emit(Event{RunID: "run-2", NodeID: "x", Msg: MsgNodeStarted})
	b.Emit(Event{RunID: "run-1", NodeID: "b", Msg: MsgNodeStarted})

	history := b.History("run-1")
	if len(history) != 3 {
		t.Fatalf("expected 3 events, got %d", len(history))
	}
	if history[0].Msg != MsgNodeStarted || history[2].NodeID != "b" {
		t.Errorf("events out of order: %+v", history)
	}

	if got := b.History("unknown"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}

	// Mutating the returned slice must not affect the buffer.
	history[0].Msg = "mutated"
	if b.History("run-1")[0].Msg != MsgNodeStarted {
		t.Error("History returned an alias of internal storage")
	}
}

func TestBufferedEmitter_Filter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "r", NodeID: "a", Msg: MsgNodeStarted})
	b.Emit(Event{RunID: "r", NodeID: "a", Msg: MsgNodeRetry})
	b.Emit(Event{RunID: "r", NodeID: "a", Msg: MsgNodeRetry})
	b.Emit(Event{RunID: "r", NodeID: "b", Msg: MsgNodeRetry})

	tests := []struct {
		name   string
		filter HistoryFilter
		want   int
	}{
		{"no filter", HistoryFilter{}, 4},
		{"by node", HistoryFilter{NodeID: "a"}, 3},
		{"by msg", HistoryFilter{Msg: MsgNodeRetry}, 3},
		{"by node and msg", HistoryFilter{NodeID: "b", Msg: MsgNodeRetry}, 1},
		{"no match", HistoryFilter{NodeID: "zzz"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(b.HistoryWithFilter("r", tt.filter)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}

	if got := b.Count("r", MsgNodeRetry); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
}

func TestBufferedEmitter_Clear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "r1", Msg: MsgRunStarted})
	b.Emit(Event{RunID: "r2", Msg: MsgRunStarted})

	b.Clear("r1")
	if len(b.History("r1")) != 0 || len(b.History("r2")) != 1 {
		t.Fatal("Clear(r1) should only drop r1")
	}

	b.Clear("")
	if len(b.History("r2")) != 0 {
		t.Error("Clear(\"\") should drop everything")
	}
}

func TestBufferedEmitter_Concurrent(t *testing.T) {
	b := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit(Event{RunID: "r", Msg: MsgNodeStarted})
			_ = b.History("r")
		}()
	}
	wg.Wait()

	if got := len(b.History("r")); got != 50 {
		t.Errorf("expected 50 events, got %d", got)
	}
}

func TestMulti(t *testing.T) {
	first := NewBufferedEmitter()
	second := NewBufferedEmitter()
	m := Multi(first, nil, second, NewNullEmitter())

	m.Emit(Event{RunID: "r", Msg: MsgRunStarted})

	if len(first.History("r")) != 1 || len(second.History("r")) != 1 {
		t.Error("expected event to reach every emitter")
	}
}
