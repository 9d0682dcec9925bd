package extractor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"
)

const (
	// lineTolerance is the vertical distance in points within which glyphs share a line.
	lineTolerance = 2.0
	// cellGapFactor times the font size separates two cells on one line.
	cellGapFactor = 1.5
	// wordGapFactor times the font size separates two words inside a cell.
	wordGapFactor = 0.15
)

// ExtractFile reads the report at path. Unreadable or corrupt files yield an
// empty result rather than an error.
func (e *Extractor) ExtractFile(path string) (found map[string]string) {
	found = map[string]string{}

	if _, err := api.PageCountFile(path); err != nil {
		e.logger.Warn("report failed validation", zap.String("path", path), zap.Error(err))
		e.metrics.IncErrorsTotal("report_invalid")
		return found
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		e.logger.Warn("could not open report", zap.String("path", path), zap.Error(err))
		e.metrics.IncErrorsTotal("report_invalid")
		return found
	}
	defer f.Close()

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("report extraction panicked", zap.String("path", path), zap.Any("panic", rec))
			e.metrics.IncErrorsTotal("report_invalid")
			found = map[string]string{}
		}
	}()

	return e.Extract(&PDFDocument{reader: r})
}

// PDFDocument reconstructs tables from glyph positions of a PDF page.
type PDFDocument struct {
	reader *pdf.Reader
}

func (d *PDFDocument) NumPages() int {
	return d.reader.NumPage()
}

func (d *PDFDocument) Tables(page int) (tables []Table, err error) {
	p := d.reader.Page(page + 1)
	if p.V.IsNull() {
		return nil, fmt.Errorf("page %d not found", page)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", page, rec)
		}
	}()
	return buildTables(p.Content().Text), nil
}

type glyphLine struct {
	y      float64
	glyphs []pdf.Text
}

// buildTables groups glyphs into lines, lines into cells by horizontal gaps,
// and runs of multi-cell lines into tables.
func buildTables(texts []pdf.Text) []Table {
	lines := groupLines(texts)

	var tables []Table
	var current Table
	flush := func() {
		if len(current) > 0 {
			tables = append(tables, current)
			current = nil
		}
	}
	for _, l := range lines {
		cells := splitCells(l.glyphs)
		if len(cells) < 2 {
			flush()
			continue
		}
		current = append(current, cells)
	}
	flush()
	return tables
}

// groupLines returns lines from the top of the page down, glyphs left to right.
func groupLines(texts []pdf.Text) []glyphLine {
	sorted := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if t.S != "" {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines []glyphLine
	for _, t := range sorted {
		if n := len(lines); n > 0 && math.Abs(lines[n-1].y-t.Y) <= lineTolerance {
			lines[n-1].glyphs = append(lines[n-1].glyphs, t)
			continue
		}
		lines = append(lines, glyphLine{y: t.Y, glyphs: []pdf.Text{t}})
	}
	for i := range lines {
		g := lines[i].glyphs
		sort.SliceStable(g, func(a, b int) bool { return g[a].X < g[b].X })
	}
	return lines
}

func splitCells(glyphs []pdf.Text) []string {
	var cells []string
	var b strings.Builder
	var prevEnd float64
	for i, g := range glyphs {
		size := g.FontSize
		if size <= 0 {
			size = 10
		}
		if i > 0 {
			gap := g.X - prevEnd
			switch {
			case gap > cellGapFactor*size:
				cells = append(cells, normalize(b.String()))
				b.Reset()
			case gap > wordGapFactor*size:
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.S)
		prevEnd = g.X + g.W
	}
	cells = append(cells, normalize(b.String()))
	return cells
}
