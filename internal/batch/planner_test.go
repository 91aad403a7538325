package batch

import (
	"errors"
	"fmt"
	"testing"
)

func makeUnits(n int) []Unit {
	out := make([]Unit, n)
	for i := range out {
		out[i] = Unit{ID: fmt.Sprintf("para-%d", i), Text: fmt.Sprintf("t%d", i), Position: i}
	}
	return out
}

func TestPlanCoversAllUnitsInOrder(t *testing.T) {
	for n := 0; n <= 23; n++ {
		for size := 1; size <= 7; size++ {
			units := makeUnits(n)
			batches, err := Plan(units, size)
			if err != nil {
				t.Fatalf("n=%d size=%d: %v", n, size, err)
			}
			if want := (n + size - 1) / size; len(batches) != want {
				t.Fatalf("n=%d size=%d: got %d batches, want %d", n, size, len(batches), want)
			}
			var flat []Unit
			for _, b := range batches {
				if b.StartIndex != len(flat) {
					t.Fatalf("n=%d size=%d: StartIndex %d, want %d", n, size, b.StartIndex, len(flat))
				}
				if len(b.Units) == 0 || len(b.Units) > size {
					t.Fatalf("n=%d size=%d: batch len %d", n, size, len(b.Units))
				}
				flat = append(flat, b.Units...)
			}
			if len(flat) != n {
				t.Fatalf("n=%d size=%d: flattened %d units", n, size, len(flat))
			}
			for i := range flat {
				if flat[i] != units[i] {
					t.Fatalf("n=%d size=%d: unit %d = %+v, want %+v", n, size, i, flat[i], units[i])
				}
			}
		}
	}
}

func TestPlanRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -3} {
		_, err := Plan(makeUnits(3), size)
		var ce *ConfigurationError
		if !errors.As(err, &ce) || ce.Value != size {
			t.Fatalf("size %d: want ConfigurationError, got %v", size, err)
		}
	}
}

func TestPlanBatchesDoNotAlias(t *testing.T) {
	batches, _ := Plan(makeUnits(4), 2)
	first := batches[0].Units
	_ = append(first, Unit{ID: "intruder"})
	if batches[1].Units[0].ID != "para-2" {
		t.Fatalf("appending to one batch overwrote the next: %+v", batches[1].Units[0])
	}
}

func TestBatchTexts(t *testing.T) {
	b := Batch{Units: makeUnits(3)}
	got := b.Texts()
	if len(got) != 3 || got[0] != "t0" || got[2] != "t2" {
		t.Fatalf("texts = %v", got)
	}
}
