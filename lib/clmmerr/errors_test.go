package clmmerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestLookup(t *testing.T) {
	for _, want := range all {
		result, ok := Lookup(want.Error())
		if !ok || result != want {
			t.Fatalf("want=%v result=%v", want, result)
		}
	}
	if _, ok := Lookup("something else"); ok {
		t.Fatalf("want=%v result=%v", false, ok)
	}
}

func TestWrappedKindsMatch(t *testing.T) {
	err := fmt.Errorf("hop 2 (pool x): %w", fmt.Errorf("%w: 5 < 7", ErrExcessiveSlippage))
	if !errors.Is(err, ErrExcessiveSlippage) {
		t.Fatalf("want=%v result=%v", ErrExcessiveSlippage, err)
	}
}
