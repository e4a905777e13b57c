package domain

import "sort"

// Column is a named, ordered bucket tasks occupy. Protected columns cannot
// be removed; the terminal column marks tasks complete on entry.
type Column struct {
	Slug      string `json:"slug"`
	BoardID   string `json:"boardId"`
	Title     string `json:"title"`
	Color     string `json:"color,omitempty"`
	Icon      string `json:"icon,omitempty"`
	Position  int    `json:"position"`
	Protected bool   `json:"protected,omitempty"`
	Terminal  bool   `json:"terminal,omitempty"`
}

// SortColumns orders columns by position in place, slug as tiebreaker so the
// order is stable when positions collide.
func SortColumns(cols []Column) {
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].Position != cols[j].Position {
			return cols[i].Position < cols[j].Position
		}
		return cols[i].Slug < cols[j].Slug
	})
}
