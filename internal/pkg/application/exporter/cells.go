package exporter

import (
	"context"
	"fmt"

	"github.com/diwise/typedb-exporter/pkg/graph"
)

const (
	IIDColumn      string = "IID"
	valueSeparator string = ";"
)

// Row maps column names to cell values for a single instance
type Row map[string]string

// Values returns the cells of the row in column order
func (r Row) Values(columns []string) []string {
	values := make([]string, 0, len(columns))
	for _, c := range columns {
		values = append(values, r[c])
	}
	return values
}

// columns is the ordered column list of one exported type together with the
// attribute type behind each attribute column
type columns struct {
	names      []string
	attributes map[string]graph.AttributeType
}

func newColumns(owns []graph.AttributeType) columns {
	c := columns{
		names:      []string{IIDColumn},
		attributes: make(map[string]graph.AttributeType, len(owns)),
	}

	for _, a := range owns {
		if _, seen := c.attributes[a.Label]; seen || a.Label == IIDColumn {
			continue
		}
		c.names = append(c.names, a.Label)
		c.attributes[a.Label] = a
	}

	return c
}

// resolveCell flattens every value i owns of the named attribute type into one cell.
// String values are wrapped in double quotes, all values are joined by ; in the
// order the transaction returns them.
func (c columns) resolveCell(ctx context.Context, tx graph.Transaction, i graph.Instance, column string) (string, error) {
	attr, ok := c.attributes[column]
	if !ok {
		return "", fmt.Errorf("no attribute type for column %s", column)
	}

	values, err := tx.Has(ctx, i, attr)
	if err != nil {
		return "", fmt.Errorf("failed to get %s of %s: %w", column, i.IID, err)
	}

	cell := ""
	for idx, v := range values {
		if attr.IsString() {
			v = `"` + v + `"`
		}

		if idx == 0 {
			cell = v
		} else {
			cell = cell + valueSeparator + v
		}
	}

	return cell, nil
}

func (c columns) buildRow(ctx context.Context, tx graph.Transaction, i graph.Instance) (Row, error) {
	row := Row{IIDColumn: i.IID}

	for _, column := range c.names {
		if column == IIDColumn {
			continue
		}

		cell, err := c.resolveCell(ctx, tx, i, column)
		if err != nil {
			return nil, err
		}

		row[column] = cell
	}

	return row, nil
}
