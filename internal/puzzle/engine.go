package puzzle

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/ashureev/support-desk/internal/domain"
	"github.com/google/uuid"
)

// ErrUnavailable is returned when a category has no usable data.
var ErrUnavailable = errors.New("puzzle data unavailable")

const incorrectPerInstance = 2

// NextCategory returns the category at position solved in the fixed order,
// or false once every puzzle is solved.
func NextCategory(solved int) (domain.Category, bool) {
	if solved < 0 || solved >= len(Order) {
		return "", false
	}
	return Order[solved], true
}

// Ordinal returns the 1-based position of category in the fixed order, or 0.
func Ordinal(category domain.Category) int {
	for i, c := range Order {
		if c == category {
			return i + 1
		}
	}
	return 0
}

// Engine builds shuffled puzzle instances.
type Engine struct {
	manifest *Manifest
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewEngine creates an engine. A nil rng seeds a fresh PCG source.
func NewEngine(m *Manifest, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{manifest: m, rng: rng}
}

// Manifest returns the engine's manifest.
func (e *Engine) Manifest() *Manifest { return e.manifest }

// Build picks one correct image and two distinct incorrect images, shuffles
// them, and records where the correct image landed.
func (e *Engine) Build(category domain.Category) (*domain.PuzzleInstance, error) {
	c, ok := e.manifest.Lookup(category)
	if !ok || len(c.Correct) == 0 || len(c.Incorrect) < incorrectPerInstance {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, category)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	correct := c.Correct[0]
	if len(c.Correct) > 1 {
		correct = c.Correct[e.rng.IntN(len(c.Correct))]
	}

	images := make([]domain.PuzzleImage, 0, incorrectPerInstance+1)
	images = append(images, toImage(correct, true))
	for _, idx := range e.rng.Perm(len(c.Incorrect))[:incorrectPerInstance] {
		images = append(images, toImage(c.Incorrect[idx], false))
	}
	e.rng.Shuffle(len(images), func(i, j int) { images[i], images[j] = images[j], images[i] })

	correctIndex := -1
	for i, img := range images {
		if img.IsCorrect {
			correctIndex = i
			break
		}
	}

	return &domain.PuzzleInstance{
		ID:           uuid.NewString(),
		Category:     category,
		Prompt:       c.Prompt,
		Images:       images,
		CorrectIndex: correctIndex,
	}, nil
}

// Score reports whether index selects the correct image of inst.
func Score(inst *domain.PuzzleInstance, index int) bool {
	if inst == nil || index < 0 || index >= len(inst.Images) {
		return false
	}
	return index == inst.CorrectIndex && inst.Images[index].IsCorrect
}

func toImage(img Image, correct bool) domain.PuzzleImage {
	return domain.PuzzleImage{ID: img.ID, Src: img.Src, Alt: img.Alt, IsCorrect: correct}
}
