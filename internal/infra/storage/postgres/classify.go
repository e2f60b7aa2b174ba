package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/resilient/internal/resilience/classify"
)

// Rule classifies PostgreSQL server errors by SQLSTATE, for both the pgx and
// lib/pq drivers.
//
//	08xxx connection, 53xxx resources, 57P0x shutdown, 40001/40P01 conflicts: transient
//	22xxx data, 23xxx constraints, 28xxx auth, 42xxx syntax/access:           permanent
func Rule(err error) (classify.Class, bool) {
	code := sqlState(err)
	if code == "" {
		return classify.Transient, false
	}
	return classifySQLState(code)
}

// Classifier returns Rule layered over the default rules. Explicit markers
// still take precedence.
func Classifier() classify.Classifier {
	rules := append([]classify.Rule{classify.MarkerRule, Rule}, classify.DefaultRules()...)
	return classify.New(classify.Transient, rules...)
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func classifySQLState(code string) (classify.Class, bool) {
	switch code {
	case "40001", "40P01", "57P01", "57P02", "57P03":
		return classify.Transient, true
	}
	if len(code) < 2 {
		return classify.Transient, false
	}
	switch code[:2] {
	case "08", "53":
		return classify.Transient, true
	case "22", "23", "28", "42":
		return classify.Permanent, true
	}
	if strings.HasPrefix(code, "XX") {
		return classify.Permanent, true
	}
	return classify.Transient, false
}
