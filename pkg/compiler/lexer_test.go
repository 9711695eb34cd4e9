package compiler

import (
	"strings"
	"testing"
)

// tok builds an expected token without position, for shape comparisons.
type tok struct {
	Type   TokenType
	Lexeme string
	Value  int64
}

func lexTypes(t *testing.T, src string) []Token {
	t.Helper()
	tokens, err := Lex(src, "test.cow")
	if err != nil {
		t.Fatalf("Lex(%q) failed: %v", src, err)
	}
	return tokens
}

func TestLex(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tok
		wantErr  bool
	}{
		{
			name:     "Empty",
			input:    "",
			expected: []tok{{EOF, "", 0}},
		},
		{
			name:  "Operators",
			input: "+ - * / % & | ^ ~ << >> < <= > >= == != := : ;",
			expected: []tok{
				{PLUS, "+", 0}, {MINUS, "-", 0}, {STAR, "*", 0}, {SLASH, "/", 0},
				{PERCENT, "%", 0}, {AMPERSAND, "&", 0}, {PIPE, "|", 0}, {CARET, "^", 0},
				{TILDE, "~", 0}, {SHL_OP, "<<", 0}, {SHR_OP, ">>", 0},
				{LESS, "<", 0}, {LESS_EQ, "<=", 0}, {GREATER, ">", 0}, {GREATER_EQ, ">=", 0},
				{EQUALS, "==", 0}, {NOT_EQ, "!=", 0}, {ASSIGN, ":=", 0}, {COLON, ":", 0},
				{SEMICOLON, ";", 0}, {EOF, "", 0},
			},
		},
		{
			name:  "KeywordsAndIdents",
			input: "var sub end loop foo _bar x9",
			expected: []tok{
				{VAR, "var", 0}, {SUB, "sub", 0}, {END, "end", 0}, {LOOP, "loop", 0},
				{IDENTIFIER, "foo", 0}, {IDENTIFIER, "_bar", 0}, {IDENTIFIER, "x9", 0},
				{EOF, "", 0},
			},
		},
		{
			name:  "AtKeywords",
			input: "@decl @impl @at @extern @asm @sizeof @bytesof @indexof @next @prev @alias",
			expected: []tok{
				{AT_DECL, "@decl", 0}, {AT_IMPL, "@impl", 0}, {AT_AT, "@at", 0},
				{AT_EXTERN, "@extern", 0}, {AT_ASM, "@asm", 0}, {AT_SIZEOF, "@sizeof", 0},
				{AT_BYTESOF, "@bytesof", 0}, {AT_INDEXOF, "@indexof", 0},
				{AT_NEXT, "@next", 0}, {AT_PREV, "@prev", 0}, {AT_ALIAS, "@alias", 0},
				{EOF, "", 0},
			},
		},
		{
			name:  "NumberBases",
			input: "123 0x1F 0d42 0o17 0b1010 1_000_000",
			expected: []tok{
				{NUMBER, "123", 123}, {NUMBER, "0x1F", 31}, {NUMBER, "0d42", 42},
				{NUMBER, "0o17", 15}, {NUMBER, "0b1010", 10}, {NUMBER, "1_000_000", 1000000},
				{EOF, "", 0},
			},
		},
		{
			name:  "CharLiterals",
			input: `'a' '\n' '\t' '\0' '\\' '\'' '\x41'`,
			expected: []tok{
				{NUMBER, "'a'", 97}, {NUMBER, `'\n'`, 10}, {NUMBER, `'\t'`, 9},
				{NUMBER, `'\0'`, 0}, {NUMBER, `'\\'`, 92}, {NUMBER, `'\''`, 39},
				{NUMBER, `'\x41'`, 65},
				{EOF, "", 0},
			},
		},
		{
			name:  "StringEscapes",
			input: `"a\nb\x21"`,
			expected: []tok{
				{STRING, "a\nb!", 0}, {EOF, "", 0},
			},
		},
		{
			name:  "Comments",
			input: "x # comment to end of line\ny",
			expected: []tok{
				{IDENTIFIER, "x", 0}, {IDENTIFIER, "y", 0}, {EOF, "", 0},
			},
		},
		{
			name:  "GreedyMultiChar",
			input: "a<b a<=b a<<b",
			expected: []tok{
				{IDENTIFIER, "a", 0}, {LESS, "<", 0}, {IDENTIFIER, "b", 0},
				{IDENTIFIER, "a", 0}, {LESS_EQ, "<=", 0}, {IDENTIFIER, "b", 0},
				{IDENTIFIER, "a", 0}, {SHL_OP, "<<", 0}, {IDENTIFIER, "b", 0},
				{EOF, "", 0},
			},
		},
		{
			name:  "PointerBrackets",
			input: "var p: [uint8];",
			expected: []tok{
				{VAR, "var", 0}, {IDENTIFIER, "p", 0}, {COLON, ":", 0},
				{LBRACKET, "[", 0}, {IDENTIFIER, "uint8", 0}, {RBRACKET, "]", 0},
				{SEMICOLON, ";", 0}, {EOF, "", 0},
			},
		},
		{name: "UnknownChar", input: "$", wantErr: true},
		{name: "BareEquals", input: "x = 1", wantErr: true},
		{name: "BareBang", input: "!x", wantErr: true},
		{name: "UnknownDirective", input: "@bogus", wantErr: true},
		{name: "UnterminatedString", input: `"abc`, wantErr: true},
		{name: "EmptyChar", input: "''", wantErr: true},
		{name: "BadEscape", input: `"\q"`, wantErr: true},
		{name: "BadHexEscape", input: `'\xZZ'`, wantErr: true},
		{name: "MalformedNumber", input: "0x", wantErr: true},
		{name: "TrailingLetter", input: "12ab", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lex(tt.input, "test.cow")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("got %d tokens, want %d: %v", len(got), len(tt.expected), got)
			}
			for i, want := range tt.expected {
				if got[i].Type != want.Type || got[i].Lexeme != want.Lexeme || got[i].Value != want.Value {
					t.Errorf("token %d = {%s %q %d}, want {%s %q %d}",
						i, got[i].Type, got[i].Lexeme, got[i].Value, want.Type, want.Lexeme, want.Value)
				}
			}
		})
	}
}

func TestLexPositions(t *testing.T) {
	tokens := lexTypes(t, "var x;\n  x := 1;")
	if tokens[0].Pos.Line != 1 || tokens[0].Pos.Col != 1 {
		t.Errorf("first token at %v, want 1:1", tokens[0].Pos)
	}
	// "x" on line 2 starts at column 3.
	if tokens[3].Pos.Line != 2 || tokens[3].Pos.Col != 3 {
		t.Errorf("line-2 x at %v, want 2:3", tokens[3].Pos)
	}
	if tokens[0].Pos.File != "test.cow" {
		t.Errorf("file = %q, want test.cow", tokens[0].Pos.File)
	}
}

// TestLexRoundTrip checks the lexeme-concatenation law: joining lexemes
// with whitespace and re-lexing reproduces the same token stream, which is
// the source text up to comment removal and whitespace normalization.
func TestLexRoundTrip(t *testing.T) {
	sources := []string{
		"var x: uint8 := 0x1F; # trailing comment",
		"sub f(a: uint8): (r: uint16) is r := a as uint16 << 2; end sub;",
		"while i != 10 loop i := i + 1; end loop;",
		`@asm "MVI A, 5", x;`,
	}
	for _, src := range sources {
		first := lexTypes(t, src)
		var lexemes []string
		for _, tk := range first[:len(first)-1] {
			if tk.Type == STRING {
				// Re-quote: the lexeme of a STRING token is its decoded value.
				lexemes = append(lexemes, "\""+escapeString(tk.Lexeme)+"\"")
				continue
			}
			lexemes = append(lexemes, tk.Lexeme)
		}
		second := lexTypes(t, strings.Join(lexemes, " "))
		if len(first) != len(second) {
			t.Fatalf("round trip of %q changed token count %d -> %d", src, len(first), len(second))
		}
		for i := range first {
			if first[i].Type != second[i].Type || first[i].Value != second[i].Value {
				t.Errorf("round trip of %q diverges at token %d: %v vs %v", src, i, first[i], second[i])
			}
		}
	}
}

func escapeString(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case 0:
			sb.WriteString(`\0`)
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
