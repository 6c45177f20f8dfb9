package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/parquet-go/parquet-go"

	"github.com/apple/ml-policy-projector/internal/datasets"
)

// The feature table is one-hot concept membership: one row per dataset row
// ordinal, one int32 column per concept. Rows align with the source table by
// position, not by example id.

func (l *local) Features(dataset string) (map[string][]int32, error) {
	dir, err := l.dir(dataset)
	if err != nil {
		return nil, err
	}

	cols, rows, err := readFeatures(filepath.Join(dir, featuresFile))
	if err != nil {
		return nil, err
	}

	features := make(map[string][]int32, len(cols))
	for _, col := range cols {
		values := make([]int32, len(rows))
		for i, row := range rows {
			values[i] = asInt32(row[col])
		}
		features[col] = values
	}
	return features, nil
}

// setFeature writes the one-hot column for a concept: zeros everywhere,
// ones at the row ordinals of the concept's example ids.
func (l *local) setFeature(dir, concept string, exampleIDs []string, table *datasets.Dataset) error {
	if table == nil {
		return fmt.Errorf("feature table requires the active dataset")
	}

	path := filepath.Join(dir, featuresFile)
	cols, rows, err := readFeatures(path)
	if err != nil {
		return err
	}

	if len(rows) != table.Count() {
		rows = make([]map[string]any, table.Count())
		for i := range rows {
			rows[i] = make(map[string]any, len(cols)+1)
			for _, col := range cols {
				rows[i][col] = int32(0)
			}
		}
	}

	if !slices.Contains(cols, concept) {
		cols = append(cols, concept)
	}

	ordinals := make(map[string]int, table.Count())
	for i, id := range table.IDs() {
		ordinals[id] = i
	}

	for i := range rows {
		rows[i][concept] = int32(0)
	}
	for _, id := range exampleIDs {
		if i, ok := ordinals[id]; ok {
			rows[i][concept] = int32(1)
		}
	}

	return writeFeatures(path, cols, rows)
}

func readFeatures(path string) ([]string, []map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to open feature table: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat feature table: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read feature table: %w", err)
	}

	var cols []string
	for _, field := range pf.Schema().Fields() {
		cols = append(cols, field.Name())
	}

	reader := parquet.NewGenericReader[map[string]any](pf, pf.Schema())
	defer reader.Close()

	rows := make([]map[string]any, 0, reader.NumRows())
	buf := make([]map[string]any, 64)
	for {
		for i := range buf {
			buf[i] = make(map[string]any)
		}
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if err != nil {
			break
		}
	}

	return cols, rows, nil
}

func writeFeatures(path string, cols []string, rows []map[string]any) error {
	group := parquet.Group{}
	for _, col := range cols {
		group[col] = parquet.Int(32)
	}
	schema := parquet.NewSchema("features", group)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create feature table: %w", err)
	}

	writer := parquet.NewGenericWriter[map[string]any](f, schema)
	if _, err := writer.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write feature table: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize feature table: %w", err)
	}
	return f.Close()
}

func asInt32(v any) int32 {
	switch n := v.(type) {
	case int32:
		return n
	case int64:
		return int32(n)
	case int:
		return int32(n)
	case float64:
		return int32(n)
	}
	return 0
}
