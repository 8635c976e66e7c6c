package status

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWordGetSet(t *testing.T) {
	var w Word
	w = w.Set(0, 3)
	w = w.Set(4, 7)
	if got := w.Get(0); got != 3 {
		t.Fatalf("slot 0 = %d, want 3", got)
	}
	if got := w.Get(4); got != 7 {
		t.Fatalf("slot 4 = %d, want 7", got)
	}
	if got := w.Get(1); got != 0 {
		t.Fatalf("slot 1 = %d, want 0 (untouched)", got)
	}
}

func TestWordSucceededWaitingFailed(t *testing.T) {
	var all Word
	for slot := 0; slot < Slots; slot++ {
		all = all.Set(slot, Terminal)
	}
	if !all.Succeeded() {
		t.Fatal("expected all-terminal word to report Succeeded")
	}
	if all.Waiting() {
		t.Fatal("all-terminal word should not report Waiting")
	}

	var zero Word
	if !zero.Waiting() {
		t.Fatal("zero word should report Waiting")
	}
	if zero.Succeeded() {
		t.Fatal("zero word should not report Succeeded")
	}

	failing := zero.Set(2, 3)
	if !failing.Failed() {
		t.Fatal("word with a retry counter should report Failed")
	}
	if failing.Succeeded() {
		t.Fatal("word with a retry counter should not report Succeeded")
	}
}

func TestResetFailedLeavesTerminalAndZero(t *testing.T) {
	w := Word(0).Set(0, Terminal).Set(1, 4).Set(2, 0).Set(3, 6)
	out, changed := w.ResetFailed()
	if !changed {
		t.Fatal("expected ResetFailed to report a change")
	}
	if got := out.Get(0); got != Terminal {
		t.Fatalf("slot 0 = %d, want Terminal untouched", got)
	}
	if got := out.Get(1); got != 0 {
		t.Fatalf("slot 1 = %d, want 0 after reset", got)
	}
	if got := out.Get(3); got != 0 {
		t.Fatalf("slot 3 = %d, want 0 after reset", got)
	}
	if _, changed := out.ResetFailed(); changed {
		t.Fatal("second ResetFailed on an already-clean word should report no change")
	}
}

func TestForceResetFailedClearsTerminalToo(t *testing.T) {
	w := Word(0).Set(0, Terminal).Set(1, 4)
	out, changed := w.ForceResetFailed()
	if !changed {
		t.Fatal("expected ForceResetFailed to report a change")
	}
	if got := out.Get(0); got != 0 {
		t.Fatalf("slot 0 = %d, want 0 after force reset", got)
	}
	if got := out.Get(1); got != 0 {
		t.Fatalf("slot 1 = %d, want 0 after force reset", got)
	}
}

func TestUpdateStatusSaturatesAttempts(t *testing.T) {
	w := Word(0).Set(0, MaxAttempt)
	results := [Slots]ExecutionStatus{
		Failed(errors.New("still failing")),
		Succeeded(),
		Ignored(errors.New("404")),
		Skipped(),
		Fixed(3),
	}
	out := UpdateStatus(w, results)
	if got := out.Get(0); got != MaxAttempt {
		t.Fatalf("slot 0 = %d, want saturated at MaxAttempt", got)
	}
	if got := out.Get(1); got != Terminal {
		t.Fatalf("slot 1 = %d, want Terminal after success", got)
	}
	if got := out.Get(2); got != Terminal {
		t.Fatalf("slot 2 = %d, want Terminal after ignored error", got)
	}
	if got := out.Get(3); got != Terminal {
		t.Fatalf("slot 3 = %d, want Terminal after skip", got)
	}
	if got := out.Get(4); got != 3 {
		t.Fatalf("slot 4 = %d, want Fixed value carried through", got)
	}
}

func TestUpdateStatusRoundTrip(t *testing.T) {
	start := Word(0)
	results := [Slots]ExecutionStatus{
		Succeeded(), Succeeded(), Succeeded(), Succeeded(), Succeeded(),
	}
	out := UpdateStatus(start, results)
	want := Word(0)
	for slot := 0; slot < Slots; slot++ {
		want = want.Set(slot, Terminal)
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("unexpected status word (-want +got):\n%s", diff)
	}
}

func TestPagesAggregate(t *testing.T) {
	if got := PagesAggregate(nil); got != 0 {
		t.Fatalf("empty page set = %d, want 0", got)
	}
	if got := PagesAggregate([]uint32{Terminal, 3, Terminal}); got != 3 {
		t.Fatalf("aggregate = %d, want min 3", got)
	}
}

func TestWordValid(t *testing.T) {
	var w Word
	if !w.Valid() {
		t.Fatal("zero word must be valid")
	}
	w = w.Set(4, Terminal)
	if !w.Valid() {
		t.Fatal("word using only defined slots must be valid")
	}
}
