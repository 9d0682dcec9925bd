// Package extractor recovers labeled attributes from evaluation report tables.
package extractor

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/user/tender-service/internal/monitoring"
)

// Table is a grid of cell texts, top row first.
type Table [][]string

// Document is a paged source of tables. Pages are zero-based.
type Document interface {
	NumPages() int
	Tables(page int) ([]Table, error)
}

// Extractor searches documents for a fixed set of labels. The preferred page
// window is scanned first since the attribute tables usually live there.
type Extractor struct {
	labels      []string
	windowStart int
	windowEnd   int
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

func New(labels []string, windowStart, windowEnd int, m *monitoring.Metrics, l *zap.Logger) *Extractor {
	return &Extractor{
		labels:      slices.Clone(labels),
		windowStart: windowStart,
		windowEnd:   windowEnd,
		metrics:     m,
		logger:      l,
	}
}

// Extract returns the value found for each label. Labels that were not found
// are absent from the result.
func (e *Extractor) Extract(doc Document) map[string]string {
	found := make(map[string]string, len(e.labels))
	remaining := slices.Clone(e.labels)
	n := doc.NumPages()

	scan := func(page int) bool {
		tables, err := doc.Tables(page)
		if err != nil {
			e.logger.Debug("skipping unreadable page", zap.Int("page", page), zap.Error(err))
			return false
		}
		for _, t := range tables {
			remaining = scanTable(t, remaining, found)
			if len(remaining) == 0 {
				return true
			}
		}
		return false
	}

	done := false
	for i := e.windowStart; i < min(e.windowEnd, n) && !done; i++ {
		done = scan(i)
	}
	for i := 0; i < n && !done; i++ {
		if i >= e.windowStart && i < e.windowEnd {
			continue
		}
		done = scan(i)
	}

	for label := range found {
		e.metrics.IncDocumentField(label)
	}
	return found
}

// scanTable walks rows bottom-up. A row matching an unresolved label yields its
// second-to-last cell, and that label is not looked for again.
func scanTable(t Table, remaining []string, found map[string]string) []string {
	for r := len(t) - 1; r >= 0 && len(remaining) > 0; r-- {
		row := t[r]
		for i, label := range remaining {
			if !containsCell(row, label) {
				continue
			}
			if len(row) >= 2 {
				found[label] = normalize(row[len(row)-2])
				remaining = slices.Delete(slices.Clone(remaining), i, i+1)
			}
			break
		}
	}
	return remaining
}

func containsCell(row []string, label string) bool {
	for _, c := range row {
		if normalize(c) == label {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
