// Package sqlbuild synthesizes the dynamic INSERT/UPDATE statements the
// ingester needs (spec.md §4.7c, §9 design note: "a small builder that
// emits (sql_template, bind_list) from a typed column set"). Binding order
// and the special-cased columns (keyid, upttime, date conversion) are
// spelled out exactly as the spec requires so that a different RDBMS's
// driver is the only thing that would ever need to change here.
package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/canonical/dcxfer/internal/dbport"
)

// Statement is a synthesized (sql, ordered bind source columns) pair. The
// caller resolves each BindColumns[i] to a value from the parsed record and
// passes them to database/sql's Exec/Query in that order.
type Statement struct {
	SQL          string
	BindColumns  []string // column names supplying positional binds, in order
	DateBind     []bool   // parallel to BindColumns: true if this bind needs date conversion
	SequenceBind []bool   // parallel to BindColumns: true if this bind is SEQ_x.nextval (no value needed)
}

// sequenceName derives SEQ_{T-without-leading-"T_"}.nextval per spec.md
// §4.7c.
func sequenceName(table string) string {
	name := strings.TrimPrefix(table, "T_")
	return fmt.Sprintf("SEQ_%s.nextval", name)
}

// dateExpr wraps a 14-digit canonical string bind in a conversion to a
// native date, per spec.md §3/§4.7c ("yyyymmddhh24miss").
func dateExpr(placeholder string) string {
	return fmt.Sprintf("TO_DATE(%s, 'YYYYMMDDHH24MISS')", placeholder)
}

// BuildInsert synthesizes `insert into T(cols) values(binds)` excluding any
// column named upttime, with keyid bound to the table's sequence and date
// columns wrapped in a conversion (spec.md §4.7c INSERT).
func BuildInsert(table string, cols []dbport.TableColumn) Statement {
	var colNames []string
	var valueExprs []string
	var binds []string
	var dateBind []bool
	var seqBind []bool

	for _, c := range cols {
		if strings.EqualFold(c.Name, "upttime") {
			continue
		}

		colNames = append(colNames, c.Name)

		if strings.EqualFold(c.Name, "keyid") {
			valueExprs = append(valueExprs, sequenceName(table))
			continue
		}

		if c.Type == dbport.ColDate {
			valueExprs = append(valueExprs, dateExpr("?"))
		} else {
			valueExprs = append(valueExprs, "?")
		}
		binds = append(binds, c.Name)
		dateBind = append(dateBind, c.Type == dbport.ColDate)
		seqBind = append(seqBind, false)
	}

	sql := fmt.Sprintf("insert into %s(%s) values(%s)", table, strings.Join(colNames, ","), strings.Join(valueExprs, ","))

	return Statement{SQL: sql, BindColumns: binds, DateBind: dateBind, SequenceBind: seqBind}
}

// BuildUpdate synthesizes `update T set ... where 1=1 and {pk=...}`,
// excluding keyid from the set-clause, adding upttime=<now>, and binding
// every PK column in the where-clause with date conversion where typed
// date (spec.md §4.7c UPDATE).
func BuildUpdate(table string, cols []dbport.TableColumn) Statement {
	var setClauses []string
	var binds []string
	var dateBind []bool

	hasUpttime := false
	for _, c := range cols {
		if strings.EqualFold(c.Name, "upttime") {
			hasUpttime = true
		}
	}

	var pks []dbport.TableColumn
	for _, c := range cols {
		if c.PKSeq > 0 {
			pks = append(pks, c)
			continue
		}
		if strings.EqualFold(c.Name, "keyid") || strings.EqualFold(c.Name, "upttime") {
			continue
		}

		if c.Type == dbport.ColDate {
			setClauses = append(setClauses, fmt.Sprintf("%s=%s", c.Name, dateExpr("?")))
		} else {
			setClauses = append(setClauses, fmt.Sprintf("%s=?", c.Name))
		}
		binds = append(binds, c.Name)
		dateBind = append(dateBind, c.Type == dbport.ColDate)
	}

	if hasUpttime {
		setClauses = append(setClauses, "upttime=CURRENT_TIMESTAMP")
	}

	where := "1=1"
	for _, pk := range pks {
		if pk.Type == dbport.ColDate {
			where += fmt.Sprintf(" and %s=%s", pk.Name, dateExpr("?"))
		} else {
			where += fmt.Sprintf(" and %s=?", pk.Name)
		}
		binds = append(binds, pk.Name)
		dateBind = append(dateBind, pk.Type == dbport.ColDate)
	}

	sql := fmt.Sprintf("update %s set %s where %s", table, strings.Join(setClauses, ","), where)
	seqBind := make([]bool, len(binds))

	return Statement{SQL: sql, BindColumns: binds, DateBind: dateBind, SequenceBind: seqBind}
}
