package puzzle

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/ashureev/support-desk/internal/domain"
)

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	m, err := DefaultManifest()
	if err != nil {
		t.Fatalf("DefaultManifest failed: %v", err)
	}
	return NewEngine(m, rand.New(rand.NewPCG(1, 2)))
}

func TestNextCategoryFollowsPosition(t *testing.T) {
	// Any two solved categories yield the third slot, regardless of which were solved.
	want := []domain.Category{domain.CategoryHands, domain.CategoryFboy, domain.CategoryCute}
	for solved := 0; solved < 3; solved++ {
		got, ok := NextCategory(solved)
		if !ok || got != want[solved] {
			t.Fatalf("NextCategory(%d) = %q,%v want %q", solved, got, ok, want[solved])
		}
	}
	if _, ok := NextCategory(3); ok {
		t.Fatal("expected none after three solved")
	}
	if Ordinal(domain.CategoryCute) != 3 || Ordinal("bogus") != 0 {
		t.Fatal("unexpected ordinal mapping")
	}
}

func TestBuildShuffleCorrectness(t *testing.T) {
	e := mustEngine(t)
	for _, cat := range Order {
		c, _ := e.Manifest().Lookup(cat)
		incorrect := make(map[string]bool, len(c.Incorrect))
		for _, img := range c.Incorrect {
			incorrect[img.ID] = true
		}
		positions := map[int]int{}

		for i := 0; i < 1000; i++ {
			inst, err := e.Build(cat)
			if err != nil {
				t.Fatalf("Build(%s) failed: %v", cat, err)
			}
			if len(inst.Images) != 3 {
				t.Fatalf("expected 3 images, got %d", len(inst.Images))
			}
			if !inst.Images[inst.CorrectIndex].IsCorrect {
				t.Fatalf("correctIndex %d does not point at the correct image", inst.CorrectIndex)
			}
			if !Score(inst, inst.CorrectIndex) {
				t.Fatal("Score rejected the correct index")
			}
			positions[inst.CorrectIndex]++

			seen := map[string]bool{}
			correctCount := 0
			for _, img := range inst.Images {
				if img.IsCorrect {
					correctCount++
					continue
				}
				if !incorrect[img.ID] {
					t.Fatalf("incorrect image %q not from %s pool", img.ID, cat)
				}
				if seen[img.ID] {
					t.Fatalf("duplicate incorrect image %q", img.ID)
				}
				seen[img.ID] = true
			}
			if correctCount != 1 {
				t.Fatalf("expected exactly one correct image, got %d", correctCount)
			}
		}
		if len(positions) != 3 {
			t.Fatalf("correct image never landed in some positions for %s: %v", cat, positions)
		}
	}
}

func TestBuildUnavailable(t *testing.T) {
	m, err := ParseManifest([]byte(`
categories:
  - name: hands
    prompt: "x"
    correct: []
    incorrect: []
`))
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	e := NewEngine(m, nil)
	if _, err := e.Build(domain.CategoryHands); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := e.Build(domain.CategoryCute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for missing category, got %v", err)
	}
}

func TestParseManifestRejectsDuplicates(t *testing.T) {
	_, err := ParseManifest([]byte("categories:\n  - name: cute\n  - name: cute\n"))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestScoreRejectsOutOfRange(t *testing.T) {
	inst := &domain.PuzzleInstance{Images: []domain.PuzzleImage{{IsCorrect: true}}, CorrectIndex: 0}
	if Score(inst, 5) || Score(inst, -1) || Score(nil, 0) {
		t.Fatal("out-of-range selections must score false")
	}
}
