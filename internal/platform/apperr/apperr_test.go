package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrappedChain(t *testing.T) {
	base := Wrap(KindNotFound, "timeline missing", errors.New("record not found"))
	wrapped := fmt.Errorf("get timeline: %w", base)

	if got := KindOf(wrapped); got != KindNotFound {
		t.Fatalf("KindOf=%s, want %s", got, KindNotFound)
	}
	if !Is(wrapped, KindNotFound) {
		t.Fatalf("Is(wrapped, not_found)=false, want true")
	}
	if Is(wrapped, KindConflict) {
		t.Fatalf("Is(wrapped, conflict)=true, want false")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("KindOf(plain)=%s, want %s", got, KindInternal)
	}
}
