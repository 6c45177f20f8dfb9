// Package datasets implements the typed view over a tabular dataset that the
// classification core operates on: named column roles over ordered rows,
// id-keyed updates, canonical serialization for cross-dataset interchange,
// id-deduplicating union, and relational joins.
package datasets

import (
	"fmt"
	"slices"
)

// Canonical column names used by the serialized interchange form. Example
// sets serialized under these names can be rehydrated against any dataset
// regardless of the source's actual column names.
const (
	ColID      = "id"
	ColInText  = "in_text"
	ColOutText = "out_text"
	ColSource  = "source"
	ColScore   = "score"
)

// Columns names the roles of a dataset's columns.
type Columns struct {
	ID      string
	InText  string
	OutText string
	Score   string
	Source  string
}

// Canonical returns the column roles of the serialized interchange form.
func Canonical() Columns {
	return Columns{
		ID:      ColID,
		InText:  ColInText,
		OutText: ColOutText,
		Score:   ColScore,
		Source:  ColSource,
	}
}

func (c Columns) roles() []string {
	return []string{c.InText, c.OutText, c.Score, c.ID, c.Source}
}

// Row is a single dataset record keyed by column name. The id column always
// holds a string.
type Row map[string]any

// Dataset is an ordered row set with named column roles. Rows are immutable
// from the caller's perspective except through Update.
type Dataset struct {
	cols   Columns
	fields []string
	rows   []Row
}

// New creates a Dataset over rows with the given roles. When fields is empty,
// the five role columns are included, in the conventional order. Rows are
// projected to the included fields; values under other columns are dropped.
func New(rows []Row, cols Columns, fields ...string) *Dataset {
	if len(fields) == 0 {
		fields = cols.roles()
	}

	projected := make([]Row, len(rows))
	for i, row := range rows {
		r := make(Row, len(fields))
		for _, f := range fields {
			r[f] = row[f]
		}
		if id, ok := row[cols.ID]; ok {
			r[cols.ID] = fmt.Sprint(id)
		}
		projected[i] = r
	}

	return &Dataset{
		cols:   cols,
		fields: slices.Clone(fields),
		rows:   projected,
	}
}

// Columns returns the dataset's column roles.
func (d *Dataset) Columns() Columns {
	return d.cols
}

// Fields returns the included column names in order.
func (d *Dataset) Fields() []string {
	return slices.Clone(d.fields)
}

// Count returns the number of rows.
func (d *Dataset) Count() int {
	return len(d.rows)
}

// Get returns the values of one column in current row order.
func (d *Dataset) Get(col string) []any {
	vals := make([]any, len(d.rows))
	for i, row := range d.rows {
		vals[i] = row[col]
	}
	return vals
}

// IDs returns the id column as strings, in row order.
func (d *Dataset) IDs() []string {
	ids := make([]string, len(d.rows))
	for i, row := range d.rows {
		ids[i], _ = row[d.cols.ID].(string)
	}
	return ids
}

// Find returns the first row matching id.
func (d *Dataset) Find(id string) (Row, bool) {
	for _, row := range d.rows {
		if row[d.cols.ID] == id {
			return row, true
		}
	}
	return nil, false
}

// Value returns the value of col for the row matching id.
func (d *Dataset) Value(id, col string) (any, bool) {
	row, ok := d.Find(id)
	if !ok {
		return nil, false
	}
	return row[col], true
}

// Update sets the cell at (id, col). Rows with no matching id are left
// untouched; callers must pre-validate existence when absence matters.
func (d *Dataset) Update(id, col string, val any) {
	for _, row := range d.rows {
		if row[d.cols.ID] == id {
			row[col] = val
		}
	}
}

// Frame returns a projection of the rows to the given columns, or to the
// dataset's included fields when none are specified.
func (d *Dataset) Frame(cols ...string) []Row {
	if len(cols) == 0 {
		cols = d.fields
	}
	out := make([]Row, len(d.rows))
	for i, row := range d.rows {
		r := make(Row, len(cols))
		for _, c := range cols {
			r[c] = row[c]
		}
		out[i] = r
	}
	return out
}

// Add unions rows from other into d, renaming other's role columns to d's
// and dropping rows whose id already exists in d. The receiver's values win
// for shared ids.
func (d *Dataset) Add(other *Dataset) {
	mapping := map[string]string{
		other.cols.ID:      d.cols.ID,
		other.cols.InText:  d.cols.InText,
		other.cols.OutText: d.cols.OutText,
		other.cols.Score:   d.cols.Score,
		other.cols.Source:  d.cols.Source,
	}

	existing := make(map[string]struct{}, len(d.rows))
	for _, id := range d.IDs() {
		existing[id] = struct{}{}
	}

	for _, row := range other.rows {
		renamed := make(Row, len(d.fields))
		for col, val := range row {
			target, ok := mapping[col]
			if !ok {
				target = col
			}
			if slices.Contains(d.fields, target) {
				renamed[target] = val
			}
		}

		id, _ := renamed[d.cols.ID].(string)
		if _, dup := existing[id]; dup {
			continue
		}
		existing[id] = struct{}{}
		d.rows = append(d.rows, renamed)
	}
}

// Join merges rows of a and b on their respective id columns. colsA and colsB
// select output columns per side (nil means each side's included fields).
// Columns present on both sides are suffixed _x (left) and _y (right), pandas
// style. how is "inner" or "left".
func Join(a, b *Dataset, colsA, colsB []string, how string) ([]Row, error) {
	if how != "inner" && how != "left" {
		return nil, fmt.Errorf("unsupported join type %q", how)
	}
	if colsA == nil {
		colsA = a.fields
	}
	if colsB == nil {
		colsB = b.fields
	}

	rightByID := make(map[string]Row, len(b.rows))
	for _, row := range b.rows {
		id, _ := row[b.cols.ID].(string)
		if _, ok := rightByID[id]; !ok {
			rightByID[id] = row
		}
	}

	collides := func(col string) bool {
		return slices.Contains(colsA, col) && slices.Contains(colsB, col)
	}

	var out []Row
	for _, left := range a.rows {
		id, _ := left[a.cols.ID].(string)
		right, matched := rightByID[id]
		if !matched && how == "inner" {
			continue
		}

		merged := make(Row, len(colsA)+len(colsB))
		for _, c := range colsA {
			name := c
			if collides(c) {
				name = c + "_x"
			}
			merged[name] = left[c]
		}
		for _, c := range colsB {
			name := c
			if collides(c) {
				name = c + "_y"
			}
			if matched {
				merged[name] = right[c]
			} else {
				merged[name] = nil
			}
		}
		out = append(out, merged)
	}

	return out, nil
}

// FromExampleIDs materializes an example-id list into a Dataset carrying the
// given score and source, resolving text columns against src.
func FromExampleIDs(ids []string, src *Dataset, score int, source string) *Dataset {
	cols := src.cols
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		inText, _ := src.Value(id, cols.InText)
		outText, _ := src.Value(id, cols.OutText)
		rows = append(rows, Row{
			cols.ID:      id,
			cols.InText:  inText,
			cols.OutText: outText,
			cols.Score:   score,
			cols.Source:  source,
		})
	}
	return New(rows, cols)
}
