package parser

import (
	"math"
	"sort"
	"strings"
)

const (
	rowBucket     = 5.0
	minTableRows  = 3
	maxColumnSkew = 2
	emptyCell     = "-"
)

// ReconstructTables groups positioned text items into rows and promotes
// runs of rows with a similar column count into tables. It is a layout
// heuristic: boundaries need not match the visual grid.
func ReconstructTables(page int, items []TextItem) []Table {
	rows := bucketRows(items)

	var (
		tables   []Table
		run      [][]string
		prevCols int
	)
	flush := func() {
		if t, ok := promote(page, run); ok {
			tables = append(tables, t)
		}
		run = nil
	}

	for _, row := range rows {
		cols := len(row)
		switch {
		case cols >= 2 && (len(run) == 0 || abs(cols-prevCols) <= maxColumnSkew):
			run = append(run, row)
		case cols >= 2:
			flush()
			run = append(run, row)
		default:
			flush()
		}
		prevCols = cols
	}
	flush()
	return tables
}

// bucketRows rounds each item's Y to the nearest bucket and returns the
// rows top to bottom with cells left to right.
func bucketRows(items []TextItem) [][]string {
	byY := make(map[int][]TextItem)
	for _, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			continue
		}
		key := int(math.Round(it.Y/rowBucket) * rowBucket)
		byY[key] = append(byY[key], it)
	}

	keys := make([]int, 0, len(byY))
	for k := range byY {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		row := byY[k]
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
		cells := make([]string, len(row))
		for i, it := range row {
			cells[i] = strings.TrimSpace(it.Text)
		}
		rows = append(rows, cells)
	}
	return rows
}

func promote(page int, run [][]string) (Table, bool) {
	if len(run) < minTableRows {
		return Table{}, false
	}
	width := len(run[0])
	t := Table{
		PageNumber: page,
		Headers:    fitRow(run[0], width),
		Rows:       make([][]string, 0, len(run)-1),
	}
	for _, r := range run[1:] {
		t.Rows = append(t.Rows, fitRow(r, width))
	}
	return t, true
}

// fitRow truncates or pads a row to width, replacing empty cells.
func fitRow(row []string, width int) []string {
	out := make([]string, width)
	for i := range out {
		if i < len(row) && row[i] != "" {
			out[i] = row[i]
		} else {
			out[i] = emptyCell
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
