package tui

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Columns returns the union of keys across rows, sorted, since row
// mappings carry no column order.
func Columns(rows []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// RenderTable draws rows as a bordered table.
func RenderTable(rows []map[string]any) string {
	cols := Columns(rows)

	cells := make([][]string, len(rows))
	nulls := make(map[[2]int]bool)
	for i, r := range rows {
		cells[i] = make([]string, len(cols))
		for j, c := range cols {
			v, ok := r[c]
			if !ok || v == nil {
				cells[i][j] = NullText
				nulls[[2]int{i, j}] = true
				continue
			}
			cells[i][j] = fmt.Sprint(v)
		}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(BorderStyle).
		Headers(cols...).
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle
			}
			if nulls[[2]int{row, col}] {
				return NullStyle
			}
			return CellStyle
		})

	return t.String()
}

// RowCount formats the trailing "(n rows)" line.
func RowCount(n int) string {
	if n == 1 {
		return MutedStyle.Render("(1 row)")
	}
	return MutedStyle.Render(fmt.Sprintf("(%d rows)", n))
}
