// Package sqlbuilderutil derives sqlbuilder tables from the same struct
// definitions sorm uses, so queries can refer to columns by Go field name.
package sqlbuilderutil

import (
	"fmt"
	"strings"

	"fknsrs.biz/p/reflectutil"
	"fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/recall/internal/stringutil"
)

type Table struct {
	*sqlbuilder.Table
	columns map[string]string
}

// C looks up a column by field name, lower-cased field name, or column name.
// Unknown names pass through unchanged.
func (t *Table) C(name string) *sqlbuilder.BasicColumn {
	if column, ok := t.columns[name]; ok {
		name = column
	}

	return t.Table.C(name)
}

// MakeTable reads the table name from a `sql:",table:name"` tag on any field,
// falling back to the snake-cased struct name. Fields tagged `sql:"-"` are
// skipped.
func MakeTable(v interface{}) (*Table, error) {
	s, err := reflectutil.GetDescription(v)
	if err != nil {
		return nil, fmt.Errorf("sqlbuilderutil.MakeTable: could not get struct description: %w", err)
	}

	tableName := stringutil.PascalToSnake(s.Name())
	columns := make(map[string]string)

	var columnNames []string

	for _, f := range s.Fields().WithoutTagValue("sql", "-") {
		column := stringutil.PascalToSnake(f.Name())

		if tag := f.Tag("sql"); tag != nil {
			if tag.Value() != "" {
				column = tag.Value()
			}
			if p := tag.Parameter("table"); p != nil {
				tableName = p.Value()
			}
		}

		columnNames = append(columnNames, column)

		for _, alias := range []string{f.Name(), strings.ToLower(f.Name()), column} {
			columns[alias] = column
		}
	}

	return &Table{
		Table:   sqlbuilder.NewTable(tableName, columnNames...),
		columns: columns,
	}, nil
}

func MustMakeTable(v interface{}) *Table {
	t, err := MakeTable(v)
	if err != nil {
		panic(err)
	}
	return t
}
