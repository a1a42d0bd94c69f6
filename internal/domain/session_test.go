package domain

import "testing"

func TestStageFor(t *testing.T) {
	cases := map[int]Stage{
		-1: StagePre,
		0:  StagePre,
		1:  StagePuzzle1,
		2:  StagePuzzle2,
		3:  StageCompleted,
		4:  StageCompleted,
	}
	for solved, want := range cases {
		if got := StageFor(solved); got != want {
			t.Errorf("StageFor(%d) = %q, want %q", solved, got, want)
		}
	}
}

func TestStageRankIsMonotonic(t *testing.T) {
	order := []Stage{StagePre, StagePuzzle1, StagePuzzle2, StageCompleted}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Fatalf("%s should rank below %s", order[i-1], order[i])
		}
	}
	if Stage("bogus").Valid() {
		t.Fatal("unknown stage reported valid")
	}
}

func TestSessionCloneIsIndependent(t *testing.T) {
	s := Session{
		ID:            "abc",
		SolvedPuzzles: []Category{CategoryHands},
		ActivePuzzle:  &ActivePuzzle{Category: CategoryFboy},
	}
	c := s.Clone()
	c.SolvedPuzzles[0] = CategoryCute
	c.ActivePuzzle.Category = CategoryCute

	if s.SolvedPuzzles[0] != CategoryHands {
		t.Fatal("clone shares solved slice")
	}
	if s.ActivePuzzle.Category != CategoryFboy {
		t.Fatal("clone shares active puzzle")
	}
	if (Session{}).Clone().SolvedPuzzles == nil {
		t.Fatal("clone of empty session should expose an empty, non-nil slice")
	}
}
