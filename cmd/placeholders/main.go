// Writes labelled SVG placeholder images for every puzzle manifest entry.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexflint/go-arg"

	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/puzzle"
)

type args struct {
	Out      string `arg:"-o,--out" help:"Static asset root the image paths are relative to." default:"web/dist"`
	Width    int    `arg:"--width" help:"Image width in pixels." default:"400"`
	Height   int    `arg:"--height" help:"Image height in pixels." default:"300"`
	Category string `arg:"-c,--category" help:"Only generate one category (hands, fboy, cute)."`
	Force    bool   `arg:"-f,--force" help:"Overwrite existing files."`
}

func (args) Description() string {
	return "Generate SVG placeholders for the puzzle images."
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var a args
	p := arg.MustParse(&a)
	if a.Width <= 0 || a.Height <= 0 {
		p.Fail("--width and --height must be positive")
	}

	m, err := puzzle.DefaultManifest()
	if err != nil {
		slog.Error("Failed to load manifest", "error", err)
		os.Exit(1)
	}

	n, err := generate(m, a)
	if err != nil {
		slog.Error("Failed to generate placeholders", "error", err)
		os.Exit(1)
	}
	slog.Info("Placeholders written", "count", n, "out", a.Out)
}

func generate(m *puzzle.Manifest, a args) (int, error) {
	var cats []puzzle.Category
	if a.Category != "" {
		c, ok := m.Lookup(domain.Category(a.Category))
		if !ok {
			return 0, fmt.Errorf("unknown category %q", a.Category)
		}
		cats = append(cats, *c)
	} else {
		cats = m.Categories
	}

	written := 0
	for _, c := range cats {
		for _, img := range c.Correct {
			ok, err := writeImage(a, img, correctStyle)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
		style := incorrectStyle
		if c.Name == domain.CategoryCute {
			style = boringStyle
		}
		for _, img := range c.Incorrect {
			ok, err := writeImage(a, img, style)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
	}
	return written, nil
}

func writeImage(a args, img puzzle.Image, st style) (bool, error) {
	path := filepath.Join(a.Out, filepath.FromSlash(strings.TrimPrefix(img.Src, "/")))
	if !a.Force {
		if _, err := os.Stat(path); err == nil {
			slog.Debug("Placeholder exists, skipping", "path", path)
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	label := img.Label
	if label == "" {
		label = img.Alt
	}
	svg, err := renderSVG(label, st, a.Width, a.Height)
	if err != nil {
		return false, fmt.Errorf("render %s: %w", img.ID, err)
	}
	if err := os.WriteFile(path, svg, 0644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
