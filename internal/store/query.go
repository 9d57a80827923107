package store

import (
	"fmt"
	"strings"
)

const companyColumns = `place_id, name, address, phone, website, rating, lat, lng, keyword, state, fetched_at, updated_at`

// companyListQuery builds the filtered company listing for either driver.
// bind returns the placeholder for the n-th (1-based) argument; contains
// returns a substring predicate for a column and placeholder.
func companyListQuery(f CompanyFilter, bind func(n int) string, contains func(col, ph string) string) (string, []any, bool) {
	var (
		where []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return bind(len(args))
	}

	if f.Keyword != "" {
		where = append(where, "keyword = "+next(f.Keyword))
	}
	if f.State != "" {
		where = append(where, "state = "+next(f.State))
	}
	if f.AddressContains != "" {
		where = append(where, contains("address", next(f.AddressContains)))
	}
	if f.AddressAny != nil {
		if len(f.AddressAny) == 0 {
			return "", nil, false
		}
		ors := make([]string, 0, len(f.AddressAny))
		for _, name := range f.AddressAny {
			ors = append(ors, contains("address", next(name)))
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}

	q := "SELECT " + companyColumns + " FROM companies"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY fetched_at, place_id"
	return q, args, true
}

func sqliteBind(int) string { return "?" }

func postgresBind(n int) string { return fmt.Sprintf("$%d", n) }

func sqliteContains(col, ph string) string {
	return fmt.Sprintf("instr(lower(%s), lower(%s)) > 0", col, ph)
}

func postgresContains(col, ph string) string {
	return fmt.Sprintf("strpos(lower(%s), lower(%s)) > 0", col, ph)
}
