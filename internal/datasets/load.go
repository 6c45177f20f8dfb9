package datasets

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"
)

// LoadCSV reads a CSV file with a header row into a Dataset. All cells load
// as strings except the score column, which is parsed as an integer when
// possible. fields selects the included columns; empty means every header
// column.
func LoadCSV(path string, cols Columns, fields ...string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s has no header row", path)
	}

	header := records[0]
	if len(fields) == 0 {
		fields = header
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(Row, len(header))
		for i, col := range header {
			if i >= len(record) {
				continue
			}
			if col == cols.Score {
				if n, err := strconv.Atoi(record[i]); err == nil {
					row[col] = n
					continue
				}
			}
			row[col] = record[i]
		}
		rows = append(rows, row)
	}

	return New(rows, cols, fields...), nil
}

// LoadParquet reads a parquet file into a Dataset. Column values load with
// their parquet types.
func LoadParquet(path string, cols Columns, fields ...string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat dataset %s: %w", path, err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[map[string]any](pf, pf.Schema())
	defer reader.Close()

	rows := make([]Row, 0, reader.NumRows())
	buf := make([]map[string]any, 64)
	for {
		for i := range buf {
			buf[i] = make(map[string]any)
		}
		n, err := reader.Read(buf)
		for i := range n {
			rows = append(rows, Row(buf[i]))
		}
		if err != nil {
			break
		}
	}

	if len(fields) == 0 {
		for _, field := range reader.Schema().Fields() {
			fields = append(fields, field.Name())
		}
	}

	return New(rows, cols, fields...), nil
}
