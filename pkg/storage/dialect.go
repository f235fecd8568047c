package storage

import (
	"strconv"
	"strings"
)

// dialect captures the differences between the SQL engines the store runs on.
type dialect struct {
	name          string
	migrations    []string
	timestampType string
	numbered      bool
	isUnique      func(error) bool
}

// rebind rewrites ? placeholders as $1, $2, ... for engines that need it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sqliteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var sqliteDialect = dialect{
	name:          "sqlite",
	migrations:    sqliteMigrations,
	timestampType: "DATETIME",
	isUnique:      sqliteUniqueViolation,
}

// likeContains builds a LIKE pattern matching a quoted element of a JSON
// string array.
func likeContains(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return `%"` + r.Replace(value) + `"%`
}
