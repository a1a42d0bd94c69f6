package main

import (
	"bytes"
	"strings"
	"text/template"
)

const lineHeight = 35

type style struct {
	Background string
	Foreground string
}

var (
	correctStyle   = style{Background: "#e8f5e9", Foreground: "#2e7d32"}
	incorrectStyle = style{Background: "#ffebee", Foreground: "#c62828"}
	boringStyle    = style{Background: "#f5f5f5", Foreground: "#616161"}
)

var svgTemplate = template.Must(template.New("svg").Funcs(template.FuncMap{
	"xml": template.HTMLEscapeString,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<svg width="{{.Width}}" height="{{.Height}}" xmlns="http://www.w3.org/2000/svg">
  <rect width="{{.Width}}" height="{{.Height}}" fill="{{.Style.Background}}" />
  <rect x="2" y="2" width="{{.InnerWidth}}" height="{{.InnerHeight}}" fill="none" stroke="#ddd" stroke-width="2" />
{{- range .Lines}}
  <text x="{{$.CenterX}}" y="{{.Y}}" text-anchor="middle" dominant-baseline="middle" fill="{{$.Style.Foreground}}" font-size="28" font-weight="bold" font-family="Arial, sans-serif">{{xml .Text}}</text>
{{- end}}
</svg>
`))

type svgLine struct {
	Text string
	Y    float64
}

// renderSVG draws label centred on a bordered card. " / " in the label
// starts a new line.
func renderSVG(label string, st style, width, height int) ([]byte, error) {
	parts := strings.Split(label, " / ")
	lines := make([]svgLine, len(parts))
	for i, p := range parts {
		offset := float64(i) - float64(len(parts)-1)/2
		lines[i] = svgLine{Text: p, Y: float64(height)/2 + offset*lineHeight}
	}

	var buf bytes.Buffer
	err := svgTemplate.Execute(&buf, map[string]any{
		"Width":       width,
		"Height":      height,
		"InnerWidth":  width - 4,
		"InnerHeight": height - 4,
		"CenterX":     float64(width) / 2,
		"Style":       st,
		"Lines":       lines,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
