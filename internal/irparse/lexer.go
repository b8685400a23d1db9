package irparse

import "fmt"

const (
	// Special
	EOL     = "EOL"
	ILLEGAL = "ILLEGAL"

	// Literals
	IDENT = "IDENT" // identifiers: block, callrt.framestate, fs0, r1, …
	INT   = "INT"   // integer literals: 0, 42, -7, …
	FLOAT = "FLOAT" // float literals: 3.14, -0.5, 1.0e10, …

	// Delimiters
	LBRACKET = "LBRACKET" // [
	RBRACKET = "RBRACKET" // ]
	LBRACE   = "LBRACE"   // {
	RBRACE   = "RBRACE"   // }
	COLON    = "COLON"    // :
	COMMA    = "COMMA"    // ,
	ASSIGN   = "ASSIGN"   // =

	// Arrows
	ARROW  = "ARROW"  // ->
	LARROW = "LARROW" // <-
)

// Token is a single lexical token of one input line.
type Token struct {
	Type   string
	Value  string
	Line   int
	Column int
}

// LexError is a recoverable error found while lexing a line.
type LexError struct {
	Message string
	Lexeme  string
	Line    int
	Column  int
}

func (e LexError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s (got %q)", e.Line, e.Column, e.Message, e.Lexeme)
}

// lexLine tokenizes one line of the textual sequence format.  The slice
// always ends with an EOL token.
func lexLine(line string, lineNo int) ([]Token, []LexError) {
	var tokens []Token
	var errors []LexError
	i, col := 0, 1

	for i < len(line) {
		ch := line[i]
		if ch == ' ' || ch == '\t' {
			i++
			col++
			continue
		}

		// Rest-of-line comments: // … or # …
		if ch == '#' || (ch == '/' && i+1 < len(line) && line[i+1] == '/') {
			break
		}

		// Numbers, including a leading sign.
		if isDigit(ch) || (ch == '-' && i+1 < len(line) && isDigit(line[i+1])) {
			tok, newI, newCol := lexNumber(line, i, lineNo, col)
			tokens = append(tokens, tok)
			i, col = newI, newCol
			continue
		}

		// Identifiers.  Interior dots join opcode suffixes: callrt.framestate.
		if isIdentStart(ch) {
			tok, newI, newCol := lexIdentifier(line, i, lineNo, col)
			tokens = append(tokens, tok)
			i, col = newI, newCol
			continue
		}

		if tok, width := lexDelimiter(line, i, lineNo, col); width > 0 {
			tokens = append(tokens, tok)
			i += width
			col += width
			continue
		}

		errors = append(errors, LexError{
			Message: "unexpected character",
			Lexeme:  string(ch),
			Line:    lineNo,
			Column:  col,
		})
		i++
		col++
	}

	tokens = append(tokens, Token{EOL, "", lineNo, col})
	return tokens, errors
}

func lexNumber(line string, start int, lineNo int, col int) (Token, int, int) {
	i := start
	startCol := col
	isFloat := false

	if line[i] == '-' {
		i++
		col++
	}
	for i < len(line) && isDigit(line[i]) {
		i++
		col++
	}
	if i < len(line) && line[i] == '.' && i+1 < len(line) && isDigit(line[i+1]) {
		isFloat = true
		i++
		col++
		for i < len(line) && isDigit(line[i]) {
			i++
			col++
		}
	}
	if i < len(line) && (line[i] == 'e' || line[i] == 'E') {
		isFloat = true
		i++
		col++
		if i < len(line) && (line[i] == '+' || line[i] == '-') {
			i++
			col++
		}
		for i < len(line) && isDigit(line[i]) {
			i++
			col++
		}
	}

	tokType := INT
	if isFloat {
		tokType = FLOAT
	}
	return Token{tokType, line[start:i], lineNo, startCol}, i, col
}

func lexIdentifier(line string, start int, lineNo int, col int) (Token, int, int) {
	i := start
	startCol := col
	for i < len(line) && isIdentPart(line[i]) {
		i++
		col++
	}
	return Token{IDENT, line[start:i], lineNo, startCol}, i, col
}

func lexDelimiter(line string, i int, lineNo int, col int) (Token, int) {
	ch := line[i]
	var next byte
	if i+1 < len(line) {
		next = line[i+1]
	}

	switch ch {
	case '-':
		if next == '>' {
			return Token{ARROW, "->", lineNo, col}, 2
		}
	case '<':
		if next == '-' {
			return Token{LARROW, "<-", lineNo, col}, 2
		}
	case '[':
		return Token{LBRACKET, "[", lineNo, col}, 1
	case ']':
		return Token{RBRACKET, "]", lineNo, col}, 1
	case '{':
		return Token{LBRACE, "{", lineNo, col}, 1
	case '}':
		return Token{RBRACE, "}", lineNo, col}, 1
	case ':':
		return Token{COLON, ":", lineNo, col}, 1
	case ',':
		return Token{COMMA, ",", lineNo, col}, 1
	case '=':
		return Token{ASSIGN, "=", lineNo, col}, 1
	}
	return Token{}, 0
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentStart(ch byte) bool {
	return isLetter(ch) || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isLetter(ch) || isDigit(ch) || ch == '_' || ch == '.'
}
