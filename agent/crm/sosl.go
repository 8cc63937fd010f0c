package crm

import (
	"strconv"
	"strings"
)

var soslReserved = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`'`, `\'`,
	`?`, `\?`,
	`&`, `\&`,
	`|`, `\|`,
	`!`, `\!`,
	`{`, `\{`,
	`}`, `\}`,
	`[`, `\[`,
	`]`, `\]`,
	`(`, `\(`,
	`)`, `\)`,
	`^`, `\^`,
	`~`, `\~`,
	`*`, `\*`,
	`:`, `\:`,
)

// EscapeSOSL backslash-escapes SOSL reserved characters in a raw search term.
func EscapeSOSL(term string) string {
	return soslReserved.Replace(term)
}

func contactSearchSOSL(term string, limit int) string {
	var b strings.Builder
	b.WriteString("FIND {")
	b.WriteString(EscapeSOSL(strings.TrimSpace(term)))
	b.WriteString("*} IN ALL FIELDS RETURNING Contact(Id, FirstName, LastName, Email, Account.Name) LIMIT ")
	if limit <= 0 {
		limit = 10
	}
	b.WriteString(strconv.Itoa(limit))
	return b.String()
}


var soqlLiteral = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// contactFetchSOQL selects one contact with its account name, which the
// sobject endpoint cannot return.
func contactFetchSOQL(id string) string {
	return "SELECT " + salesforceContactFields + " FROM Contact WHERE Id = '" +
		soqlLiteral.Replace(strings.TrimSpace(id)) + "' LIMIT 1"
}
