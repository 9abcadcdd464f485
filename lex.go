// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Reading of PDF tokens from the raw document bytes.

package ingest

import (
	"fmt"
	"strconv"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokInteger
	tokReal
	tokString
	tokName
	tokKeyword
	tokDelimiter
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokInteger:
		return "integer"
	case tokReal:
		return "real"
	case tokString:
		return "string"
	case tokName:
		return "name"
	case tokKeyword:
		return "keyword"
	case tokDelimiter:
		return "delimiter"
	}
	return fmt.Sprintf("tokenKind(%d)", int(k))
}

// A token is one lexical unit of the input. Integer tokens carry i, real
// tokens f, and every other kind carries its bytes in s (names without the
// leading slash, strings already unescaped).
type token struct {
	kind tokenKind
	i    int64
	f    float64
	s    string
	off  int64
}

func (t token) is(kind tokenKind, s string) bool {
	return t.kind == kind && t.s == s
}

func (t token) String() string {
	switch t.kind {
	case tokInteger:
		return strconv.FormatInt(t.i, 10)
	case tokReal:
		return strconv.FormatFloat(t.f, 'f', -1, 64)
	case tokString:
		return strconv.Quote(t.s)
	case tokName:
		return "/" + t.s
	case tokEOF:
		return "EOF"
	}
	return t.s
}

// A lexer walks data from pos. It holds no state beyond the cursor, so it
// can be restarted anywhere with seek.
type lexer struct {
	data []byte
	pos  int64
}

func newLexer(data []byte, pos int64) *lexer {
	return &lexer{data: data, pos: pos}
}

func (l *lexer) seek(pos int64) { l.pos = pos }

func (l *lexer) offset() int64 { return l.pos }

// eof also reports true for a cursor seeked before the start of data.
func (l *lexer) eof() bool { return l.pos < 0 || l.pos >= int64(len(l.data)) }

func (l *lexer) peekByte(n int64) (byte, bool) {
	if l.pos+n >= int64(len(l.data)) || l.pos+n < 0 {
		return 0, false
	}
	return l.data[l.pos+n], true
}

func (l *lexer) skipSpace() {
	for !l.eof() {
		c := l.data[l.pos]
		switch {
		case isWhitespace(c):
			l.pos++
		case c == '%':
			for !l.eof() && l.data[l.pos] != '\r' && l.data[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) fetch() (token, error) {
	l.skipSpace()
	start := l.pos
	if l.eof() {
		return token{kind: tokEOF, off: start}, nil
	}
	c := l.data[l.pos]
	switch c {
	case '(':
		l.pos++
		s, err := l.readLiteralString(start)
		return token{kind: tokString, s: s, off: start}, err
	case '<':
		if n, ok := l.peekByte(1); ok && n == '<' {
			l.pos += 2
			return token{kind: tokDelimiter, s: "<<", off: start}, nil
		}
		l.pos++
		s, err := l.readHexString(start)
		return token{kind: tokString, s: s, off: start}, err
	case '>':
		if n, ok := l.peekByte(1); ok && n == '>' {
			l.pos += 2
			return token{kind: tokDelimiter, s: ">>", off: start}, nil
		}
		l.pos++
		return token{kind: tokDelimiter, s: ">", off: start}, nil
	case '[', ']', '{', '}', ')':
		l.pos++
		return token{kind: tokDelimiter, s: string(c), off: start}, nil
	case '/':
		l.pos++
		return token{kind: tokName, s: l.readName(), off: start}, nil
	}
	return l.readKeyword(start), nil
}

func (l *lexer) readLiteralString(start int64) (string, error) {
	var tmp []byte
	depth := 1
	for {
		if l.eof() {
			return "", &LexicalError{Offset: start, Msg: "unterminated literal string"}
		}
		c := l.data[l.pos]
		l.pos++
		switch c {
		default:
			tmp = append(tmp, c)
		case '(':
			depth++
			tmp = append(tmp, c)
		case ')':
			if depth--; depth == 0 {
				return string(tmp), nil
			}
			tmp = append(tmp, c)
		case '\\':
			if l.eof() {
				return "", &LexicalError{Offset: start, Msg: "unterminated literal string"}
			}
			c = l.data[l.pos]
			l.pos++
			switch c {
			case 'n':
				tmp = append(tmp, '\n')
			case 'r':
				tmp = append(tmp, '\r')
			case 't':
				tmp = append(tmp, '\t')
			case 'b':
				tmp = append(tmp, '\b')
			case 'f':
				tmp = append(tmp, '\f')
			case '\r':
				if n, ok := l.peekByte(0); ok && n == '\n' {
					l.pos++
				}
			case '\n':
			case '0', '1', '2', '3', '4', '5', '6', '7':
				x := int(c - '0')
				for i := 0; i < 2; i++ {
					n, ok := l.peekByte(0)
					if !ok || n < '0' || n > '7' {
						break
					}
					x = x*8 + int(n-'0')
					l.pos++
				}
				tmp = append(tmp, byte(x))
			default:
				tmp = append(tmp, c)
			}
		}
	}
}

func (l *lexer) readHexString(start int64) (string, error) {
	var tmp []byte
	hi := -1
	for {
		if l.eof() {
			return "", &LexicalError{Offset: start, Msg: "unterminated hex string"}
		}
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			break
		}
		x := unhex(c)
		if x < 0 {
			continue
		}
		if hi < 0 {
			hi = x
			continue
		}
		tmp = append(tmp, byte(hi<<4|x))
		hi = -1
	}
	if hi >= 0 {
		tmp = append(tmp, byte(hi<<4))
	}
	return string(tmp), nil
}

func unhex(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

func (l *lexer) readName() string {
	var tmp []byte
	for !l.eof() {
		c := l.data[l.pos]
		if isDelim(c) || isWhitespace(c) {
			break
		}
		l.pos++
		if c == '#' {
			h, ok1 := l.peekByte(0)
			lo, ok2 := l.peekByte(1)
			if ok1 && ok2 && unhex(h) >= 0 && unhex(lo) >= 0 {
				tmp = append(tmp, byte(unhex(h)<<4|unhex(lo)))
				l.pos += 2
				continue
			}
		}
		tmp = append(tmp, c)
	}
	return string(tmp)
}

func (l *lexer) readKeyword(start int64) token {
	for !l.eof() {
		c := l.data[l.pos]
		if isDelim(c) || isWhitespace(c) {
			break
		}
		l.pos++
	}
	s := string(l.data[start:l.pos])
	switch {
	case isInteger(s):
		if x, err := strconv.ParseInt(s, 10, 64); err == nil {
			return token{kind: tokInteger, i: x, off: start}
		}
		f, _ := strconv.ParseFloat(s, 64)
		return token{kind: tokReal, f: f, off: start}
	case isReal(s):
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return token{kind: tokReal, f: f, off: start}
		}
	}
	return token{kind: tokKeyword, s: s, off: start}
}

func isInteger(s string) bool {
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || '9' < c {
			return false
		}
	}
	return true
}

func isReal(s string) bool {
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if len(s) == 0 {
		return false
	}
	ndot, ndigit := 0, 0
	for _, c := range s {
		switch {
		case c == '.':
			ndot++
		case '0' <= c && c <= '9':
			ndigit++
		default:
			return false
		}
	}
	return ndot == 1 && ndigit > 0
}

func isDelim(c byte) bool {
	switch c {
	case '<', '>', '(', ')', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

var wsBits [4]uint64 // 256 bits = 4 * 64

func init() {
	for _, b := range []byte{0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20} {
		wsBits[b>>6] |= 1 << (b & 63)
	}
}

// isWhitespace reports whether b is one of the six whitespace characters
// defined by ISO 32000-1 §7.2.2 for PDF syntax: 00, 09, 0A, 0C, 0D, 20.
func isWhitespace(b byte) bool {
	return (wsBits[b>>6] & (1 << (b & 63))) != 0
}
