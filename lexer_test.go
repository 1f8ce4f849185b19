package tinyscript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	l := NewLexer("test.ts", []byte(src))
	var toks []Token
	for {
		tok, err := l.Next()
		require.NoError(t, err)
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			return toks
		}
	}
}

func TestLexerKeywordsAndIdents(t *testing.T) {
	toks := lexAll(t, "func while x struct_name")
	require.Equal(t, TokFunc, toks[0].Kind)
	require.Equal(t, TokWhile, toks[1].Kind)
	require.Equal(t, TokIdent, toks[2].Kind)
	require.Equal(t, "x", toks[2].Text)
	require.Equal(t, TokIdent, toks[3].Kind)
	require.Equal(t, "struct_name", toks[3].Text)
}

func TestLexerNumbers(t *testing.T) {
	toks := lexAll(t, "42 3.14 0")
	require.Equal(t, TokNumber, toks[0].Kind)
	require.Equal(t, float64(42), toks[0].Num)
	require.Equal(t, TokNumber, toks[1].Kind)
	require.Equal(t, 3.14, toks[1].Num)
	require.Equal(t, TokNumber, toks[2].Kind)
	require.Equal(t, float64(0), toks[2].Num)
}

func TestLexerTwoCharOperators(t *testing.T) {
	toks := lexAll(t, "<= >= == != && ||")
	kinds := []TokenKind{TokLte, TokGte, TokEq, TokNeq, TokAndAnd, TokOrOr}
	for i, k := range kinds {
		require.Equal(t, k, toks[i].Kind)
	}
}

func TestLexerSingleCharOperatorsDontSwallowNext(t *testing.T) {
	toks := lexAll(t, "< > = !")
	require.Equal(t, TokLt, toks[0].Kind)
	require.Equal(t, TokGt, toks[1].Kind)
	require.Equal(t, TokAssign, toks[2].Kind)
	require.Equal(t, TokBang, toks[3].Kind)
}

func TestLexerStringEscapes(t *testing.T) {
	toks := lexAll(t, `"a\nb\tc\0d\be\rf\'g\"h\\i"`)
	require.Equal(t, TokString, toks[0].Kind)
	require.Equal(t, "a\nb\tc\x00d\be\rf'g\"h\\i", toks[0].Str)
}

func TestLexerStringLineContinuation(t *testing.T) {
	toks := lexAll(t, "\"a\\\nb\"")
	require.Equal(t, TokString, toks[0].Kind)
	require.Equal(t, "ab", toks[0].Str)
}

func TestLexerCharLiteral(t *testing.T) {
	toks := lexAll(t, `'a' '\n' '\''`)
	require.Equal(t, TokChar, toks[0].Kind)
	require.Equal(t, byte('a'), toks[0].Ch)
	require.Equal(t, TokChar, toks[1].Kind)
	require.Equal(t, byte('\n'), toks[1].Ch)
	require.Equal(t, TokChar, toks[2].Kind)
	require.Equal(t, byte('\''), toks[2].Ch)
}

func TestLexerDirective(t *testing.T) {
	toks := lexAll(t, "#import #on_compile")
	require.Equal(t, TokDirective, toks[0].Kind)
	require.Equal(t, "import", toks[0].Text)
	require.Equal(t, TokDirective, toks[1].Kind)
	require.Equal(t, "on_compile", toks[1].Text)
}

func TestLexerSkipsCommentsAndWhitespace(t *testing.T) {
	toks := lexAll(t, "x // this is a comment\ny")
	require.Equal(t, TokIdent, toks[0].Kind)
	require.Equal(t, "x", toks[0].Text)
	require.Equal(t, TokIdent, toks[1].Kind)
	require.Equal(t, "y", toks[1].Text)
}

func TestLexerTracksLineNumbers(t *testing.T) {
	toks := lexAll(t, "x\ny\nz")
	require.EqualValues(t, 1, toks[0].Span.Start.Line)
	require.EqualValues(t, 2, toks[1].Span.Start.Line)
	require.EqualValues(t, 3, toks[2].Span.Start.Line)
}

func TestLexerUnexpectedCharacterIsFatal(t *testing.T) {
	l := NewLexer("test.ts", []byte("@"))
	_, err := l.Next()
	require.Error(t, err)
	var lerr LexError
	require.ErrorAs(t, err, &lerr)
}

func TestLexerUnterminatedStringIsFatal(t *testing.T) {
	l := NewLexer("test.ts", []byte(`"abc`))
	_, err := l.Next()
	require.Error(t, err)
	var lerr LexError
	require.ErrorAs(t, err, &lerr)
}

func TestLexerUnterminatedCharIsFatal(t *testing.T) {
	l := NewLexer("test.ts", []byte(`'a`))
	_, err := l.Next()
	require.Error(t, err)
	var lerr LexError
	require.ErrorAs(t, err, &lerr)
}

func TestLexerBadEscapeIsFatal(t *testing.T) {
	l := NewLexer("test.ts", []byte(`"a\qb"`))
	_, err := l.Next()
	require.Error(t, err)
	var lerr LexError
	require.ErrorAs(t, err, &lerr)
}

func TestLexerSoleAmpersandIsFatal(t *testing.T) {
	l := NewLexer("test.ts", []byte("&"))
	_, err := l.Next()
	require.Error(t, err)
}
