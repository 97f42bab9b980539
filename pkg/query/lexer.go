package query

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/logflow/ccm/pkg/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokInt
	tokFloat
	tokStar
	tokComma
	tokDot
	tokLParen
	tokRParen
	tokSemicolon
	tokOp

	// keywords
	tokSelect
	tokFrom
	tokWhere
	tokAnd
	tokOr
	tokNot
	tokTrue
	tokFalse
	tokNull
)

var keywords = map[string]tokenKind{
	"SELECT": tokSelect,
	"FROM":   tokFrom,
	"WHERE":  tokWhere,
	"AND":    tokAnd,
	"OR":     tokOr,
	"NOT":    tokNot,
	"TRUE":   tokTrue,
	"FALSE":  tokFalse,
	"NULL":   tokNull,
}

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokInt, tokFloat:
		return "number"
	case tokStar:
		return "'*'"
	case tokComma:
		return "','"
	case tokDot:
		return "'.'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokSemicolon:
		return "';'"
	case tokOp:
		return "operator"
	}
	for word, kw := range keywords {
		if kw == k {
			return word
		}
	}
	return "token"
}

type token struct {
	kind tokenKind
	text string // identifier, literal body or operator
	pos  int    // byte offset
}

// lex splits src into tokens. The result always ends with tokEOF.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, w := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += w

		case r == '\'' || r == '"':
			s, n, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n

		case isDigit(r) || (r == '-' && i+1 < len(src) && isDigit(rune(src[i+1]))) ||
			(r == '.' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			tok, n := lexNumber(src, i)
			toks = append(toks, tok)
			i += n

		case isIdentStart(r):
			start := i
			for i < len(src) {
				r, w := utf8.DecodeRuneInString(src[i:])
				if !isIdentPart(r) {
					break
				}
				i += w
			}
			word := src[start:i]
			if kw, ok := keywords[strings.ToUpper(word)]; ok {
				toks = append(toks, token{kind: kw, text: word, pos: start})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word, pos: start})
			}

		default:
			tok, n, err := lexPunct(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i += n
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

// lexString reads a quoted string starting at src[i]. A doubled quote
// inside the string stands for one quote character.
func lexString(src string, i int) (string, int, error) {
	quote := src[i]
	var sb strings.Builder
	j := i + 1
	for j < len(src) {
		c := src[j]
		if c == quote {
			if j+1 < len(src) && src[j+1] == quote {
				sb.WriteByte(quote)
				j += 2
				continue
			}
			return sb.String(), j + 1 - i, nil
		}
		sb.WriteByte(c)
		j++
	}
	return "", 0, syntaxError(i, "unterminated string")
}

func lexNumber(src string, i int) (token, int) {
	j := i
	if src[j] == '-' {
		j++
	}
	kind := tokInt
	for j < len(src) && isDigit(rune(src[j])) {
		j++
	}
	if j < len(src) && src[j] == '.' {
		kind = tokFloat
		j++
		for j < len(src) && isDigit(rune(src[j])) {
			j++
		}
	}
	if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
		k := j + 1
		if k < len(src) && (src[k] == '+' || src[k] == '-') {
			k++
		}
		if k < len(src) && isDigit(rune(src[k])) {
			kind = tokFloat
			j = k
			for j < len(src) && isDigit(rune(src[j])) {
				j++
			}
		}
	}
	return token{kind: kind, text: src[i:j], pos: i}, j - i
}

func lexPunct(src string, i int) (token, int, error) {
	two := ""
	if i+1 < len(src) {
		two = src[i : i+2]
	}
	switch two {
	case "==", "!=", "<>", "<=", ">=":
		return token{kind: tokOp, text: two, pos: i}, 2, nil
	}

	switch c := src[i]; c {
	case '*':
		return token{kind: tokStar, text: "*", pos: i}, 1, nil
	case ',':
		return token{kind: tokComma, text: ",", pos: i}, 1, nil
	case '.':
		return token{kind: tokDot, text: ".", pos: i}, 1, nil
	case '(':
		return token{kind: tokLParen, text: "(", pos: i}, 1, nil
	case ')':
		return token{kind: tokRParen, text: ")", pos: i}, 1, nil
	case ';':
		return token{kind: tokSemicolon, text: ";", pos: i}, 1, nil
	case '=', '<', '>':
		return token{kind: tokOp, text: string(c), pos: i}, 1, nil
	default:
		r, _ := utf8.DecodeRuneInString(src[i:])
		return token{}, 0, syntaxError(i, fmt.Sprintf("unexpected character %q", r))
	}
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

func syntaxError(pos int, msg string) *errors.CCMError {
	return errors.New(errors.CodeQuerySyntax, msg).WithContext("position", pos)
}
