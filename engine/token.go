package engine

import "strings"

// tokenKind enumerates the lexical categories the tiny SQL surface needs —
// grounded on the teacher's query_parser/lexer token set, extended with
// FLOAT/PLACEHOLDER for the value shapes this engine additionally supports.
type tokenKind int

const (
	tokIdent tokenKind = iota
	tokCreate
	tokTable
	tokInsert
	tokInto
	tokValues
	tokSelect
	tokFrom
	tokWhere
	tokPrimary
	tokKey
	tokIntLit
	tokFloatLit
	tokString
	tokComma
	tokAsterisk
	tokEqual
	tokOpenParen
	tokCloseParen
	tokPlaceholder
	tokEnd
	tokInvalid
)

func (k tokenKind) String() string {
	switch k {
	case tokIdent:
		return "IDENT"
	case tokCreate:
		return "CREATE"
	case tokTable:
		return "TABLE"
	case tokInsert:
		return "INSERT"
	case tokInto:
		return "INTO"
	case tokValues:
		return "VALUES"
	case tokSelect:
		return "SELECT"
	case tokFrom:
		return "FROM"
	case tokWhere:
		return "WHERE"
	case tokPrimary:
		return "PRIMARY"
	case tokKey:
		return "KEY"
	case tokIntLit:
		return "INTLIT"
	case tokFloatLit:
		return "FLOATLIT"
	case tokString:
		return "STRING"
	case tokComma:
		return "COMMA"
	case tokAsterisk:
		return "ASTERISK"
	case tokEqual:
		return "EQUAL"
	case tokOpenParen:
		return "OPENPAREN"
	case tokCloseParen:
		return "CLOSEPAREN"
	case tokPlaceholder:
		return "PLACEHOLDER"
	case tokEnd:
		return "END"
	default:
		return "INVALID"
	}
}

type token struct {
	kind  tokenKind
	value string
}

var keywords = map[string]tokenKind{
	"CREATE":  tokCreate,
	"TABLE":   tokTable,
	"INSERT":  tokInsert,
	"INTO":    tokInto,
	"VALUES":  tokValues,
	"SELECT":  tokSelect,
	"FROM":    tokFrom,
	"WHERE":   tokWhere,
	"PRIMARY": tokPrimary,
	"KEY":     tokKey,
}

func lookupIdent(s string) tokenKind {
	if kind, ok := keywords[strings.ToUpper(s)]; ok {
		return kind
	}
	return tokIdent
}
