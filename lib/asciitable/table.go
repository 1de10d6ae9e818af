/*
 * Lingualink
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package asciitable implements a simple ASCII table formatter for printing
// tabular values into a text terminal.
package asciitable

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
)

// column tracks a header and the widest cell seen under it.
type column struct {
	title string
	width int
}

// Table holds tabular values in a rows and columns format.
type Table struct {
	columns []column
	rows    [][]string
}

// MakeTable creates a new instance of the table with given column names.
// Optionally rows to be added to the table may be included.
func MakeTable(headers []string, rows ...[]string) Table {
	t := Table{columns: make([]column, len(headers))}
	for i, h := range headers {
		t.columns[i] = column{title: h, width: len(h)}
	}
	for _, row := range rows {
		t.AddRow(row)
	}
	return t
}

// AddRow adds a row of cells to the table. Extra cells beyond the column
// count are dropped.
func (t *Table) AddRow(row []string) {
	limit := min(len(row), len(t.columns))
	for i := 0; i < limit; i++ {
		t.columns[i].width = max(len(row[i]), t.columns[i].width)
	}
	t.rows = append(t.rows, row[:limit])
}

// AsBuffer returns a *bytes.Buffer with the printed output of the table.
func (t *Table) AsBuffer() *bytes.Buffer {
	var buffer bytes.Buffer

	writer := tabwriter.NewWriter(&buffer, 5, 0, 1, ' ', 0)
	template := strings.Repeat("%v\t", len(t.columns))

	var colh []any
	var cols []any
	for _, col := range t.columns {
		colh = append(colh, col.title)
		cols = append(cols, strings.Repeat("-", col.width))
	}
	fmt.Fprintf(writer, template+"\n", colh...)
	fmt.Fprintf(writer, template+"\n", cols...)

	for _, row := range t.rows {
		var rowi []any
		for _, cell := range row {
			rowi = append(rowi, cell)
		}
		fmt.Fprintf(writer, template+"\n", rowi...)
	}

	writer.Flush()
	return &buffer
}
