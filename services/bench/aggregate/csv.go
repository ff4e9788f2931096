// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregate

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// WriteCSV renders the condensed rows as a flat table with a header line,
// the form downstream spreadsheet and dataframe tooling consumes.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"metric", "value", "unit", "category"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range r.Rows {
		record := []string{
			row.Metric,
			strconv.FormatFloat(row.Value, 'f', -1, 64),
			row.Unit,
			row.Category,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s/%s: %w", row.Category, row.Metric, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
