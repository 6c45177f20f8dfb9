package datasets

// Serialized is the canonical interchange form of a dataset row. Example
// sets travel between sessions and files in this shape regardless of the
// owning dataset's column names.
type Serialized struct {
	ID      string `json:"id"`
	InText  string `json:"in_text"`
	OutText string `json:"out_text"`
	Source  string `json:"source"`
	Score   *int   `json:"score"`
}

// Serialize renders the dataset rows in the canonical interchange form, in
// row order.
func (d *Dataset) Serialize() []Serialized {
	out := make([]Serialized, len(d.rows))
	for i, row := range d.rows {
		s := Serialized{}
		s.ID, _ = row[d.cols.ID].(string)
		s.InText = asString(row[d.cols.InText])
		s.OutText = asString(row[d.cols.OutText])
		s.Source = asString(row[d.cols.Source])
		s.Score = asScore(row[d.cols.Score])
		out[i] = s
	}
	return out
}

// FromSerialized rehydrates canonical rows into a Dataset using the canonical
// column roles.
func FromSerialized(rows []Serialized) *Dataset {
	cols := Canonical()
	raw := make([]Row, len(rows))
	for i, s := range rows {
		var score any
		if s.Score != nil {
			score = *s.Score
		}
		raw[i] = Row{
			cols.ID:      s.ID,
			cols.InText:  s.InText,
			cols.OutText: s.OutText,
			cols.Source:  s.Source,
			cols.Score:   score,
		}
	}
	return New(raw, cols)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asScore(v any) *int {
	switch n := v.(type) {
	case int:
		return &n
	case int32:
		i := int(n)
		return &i
	case int64:
		i := int(n)
		return &i
	case float64:
		i := int(n)
		return &i
	}
	return nil
}
