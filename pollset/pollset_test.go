package pollset

import "testing"

func TestUpdateMergeSemantics(t *testing.T) {
	s := New(4)
	if err := s.Update(7, Read, 0); err != nil {
		t.Fatalf("add Read: %v", err)
	}
	if err := s.Update(7, Write, 0); err != nil {
		t.Fatalf("add Write: %v", err)
	}
	if err := s.Update(7, 0, Read); err != nil {
		t.Fatalf("remove Read: %v", err)
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Interest != Write {
		t.Fatalf("expected {Write} interest, got %+v", entries)
	}
}

func TestSweepDropsZeroInterestEntries(t *testing.T) {
	s := New(4)
	_ = s.Update(1, Read, 0)
	_ = s.Update(1, 0, Read)
	s.Sweep()
	if s.Len() != 0 {
		t.Fatalf("expected zero-interest entry swept, got %d entries", s.Len())
	}
}

func TestFullTableAddFailsRemoveSucceeds(t *testing.T) {
	s := New(1)
	if err := s.Update(1, Read, 0); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.Update(2, Read, 0); err != ErrFull {
		t.Fatalf("expected ErrFull on full table add, got %v", err)
	}
	if err := s.Update(2, 0, Read); err != nil {
		t.Fatalf("remove-only on absent fd should be a no-op success: %v", err)
	}
}

func TestInterestTranslation(t *testing.T) {
	pfd := ToPollFd(5, Read|Close)
	if pfd.Fd != 5 {
		t.Fatalf("fd = %d", pfd.Fd)
	}
	got := FromRevents(pfd.Events)
	if got&Read == 0 || got&Close == 0 {
		t.Fatalf("round-tripped interest = %v", got)
	}
}
