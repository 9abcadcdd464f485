// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Reading of PDF objects from the token stream.

package ingest

import (
	"bytes"
	"errors"
	"fmt"
)

// An object is one PDF value, held as one of the following Go types:
//
//	nil, the null object
//	bool, a boolean
//	int64, an integer
//	float64, a real
//	string, a string literal (raw bytes)
//	name, a name without the leading slash
//	array, an ordered sequence of objects
//	dict, a dictionary keyed by name
//	stream, a dictionary plus its raw encoded payload
//	ObjectRef, an indirect reference
type object interface{}

type name string

type dict map[name]object

type array []object

type stream struct {
	hdr    dict
	ref    ObjectRef
	offset int64
	data   []byte
}

// ObjectRef identifies an indirect object. Both fields take part in equality.
type ObjectRef struct {
	Num uint32
	Gen uint16
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

const maxNesting = 512

// resolverFunc fetches the object behind ref. It receives the parsing
// context of the caller so nested fetches share one reference stack.
type resolverFunc func(ctx *parsingContext, ref ObjectRef) (object, error)

// parsingContext tracks the references currently being fetched. Fetching a
// reference that is already on the stack is a cycle.
type parsingContext struct {
	resolve resolverFunc
	active  []ObjectRef
}

func newParsingContext(resolve resolverFunc) *parsingContext {
	return &parsingContext{resolve: resolve}
}

func (c *parsingContext) enter(ref ObjectRef) error {
	for _, r := range c.active {
		if r == ref {
			return fmt.Errorf("%w: object %v is already being read", ErrReferenceCycle, ref)
		}
	}
	c.active = append(c.active, ref)
	return nil
}

func (c *parsingContext) leave() {
	if n := len(c.active); n > 0 {
		c.active = c.active[:n-1]
	}
}

func (c *parsingContext) fetch(ref ObjectRef) (object, error) {
	if c == nil || c.resolve == nil {
		return nil, fmt.Errorf("cannot resolve %v outside a document", ref)
	}
	return c.resolve(c, ref)
}

type parser struct {
	lex          *lexer
	ctx          *parsingContext
	allowStreams bool
	unread       []token
	depth        int
}

func newParser(data []byte, pos int64, ctx *parsingContext, allowStreams bool) *parser {
	return &parser{lex: newLexer(data, pos), ctx: ctx, allowStreams: allowStreams}
}

func (p *parser) seek(pos int64) {
	p.lex.seek(pos)
	p.unread = p.unread[:0]
}

func (p *parser) next() (token, error) {
	if n := len(p.unread); n > 0 {
		t := p.unread[n-1]
		p.unread = p.unread[:n-1]
		return t, nil
	}
	return p.lex.fetch()
}

func (p *parser) unreadToken(t token) {
	p.unread = append(p.unread, t)
}

func (p *parser) errorf(off int64, format string, args ...interface{}) error {
	return &ParseError{Offset: off, Msg: fmt.Sprintf(format, args...)}
}

// fetchKeyword consumes the next token if it is the keyword kw.
func (p *parser) fetchKeyword(kw string) bool {
	t, err := p.next()
	if err != nil {
		return false
	}
	if t.is(tokKeyword, kw) {
		return true
	}
	p.unreadToken(t)
	return false
}

func (p *parser) parseObject() (object, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	switch t.kind {
	case tokEOF:
		return nil, p.errorf(t.off, "unexpected end of input")
	case tokReal:
		return t.f, nil
	case tokString:
		return t.s, nil
	case tokName:
		return name(t.s), nil
	case tokInteger:
		return p.parseIntegerOrRef(t)
	case tokKeyword:
		switch t.s {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		return nil, p.errorf(t.off, "unexpected keyword %q", t.s)
	case tokDelimiter:
		switch t.s {
		case "<<":
			return p.parseDictOrStream(t)
		case "[":
			return p.parseArray(t)
		}
	}
	return nil, p.errorf(t.off, "unexpected token %v", t)
}

func (p *parser) parseIntegerOrRef(t token) (object, error) {
	t2, err := p.next()
	if err != nil {
		return nil, err
	}
	if t2.kind == tokInteger {
		t3, err := p.next()
		if err != nil {
			return nil, err
		}
		if t3.is(tokKeyword, "R") {
			if t.i < 0 || t.i > 0xFFFFFFFF || t2.i < 0 || t2.i > 0xFFFF {
				return nil, p.errorf(t.off, "invalid reference %d %d R", t.i, t2.i)
			}
			return ObjectRef{Num: uint32(t.i), Gen: uint16(t2.i)}, nil
		}
		p.unreadToken(t3)
	}
	p.unreadToken(t2)
	return t.i, nil
}

func (p *parser) nest(off int64) error {
	if p.depth++; p.depth > maxNesting {
		return p.errorf(off, "objects nested too deeply")
	}
	return nil
}

func (p *parser) parseArray(open token) (object, error) {
	if err := p.nest(open.off); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()

	var x array
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if t.is(tokDelimiter, "]") {
			return x, nil
		}
		if t.kind == tokEOF {
			return nil, p.errorf(open.off, "unterminated array")
		}
		p.unreadToken(t)
		obj, err := p.parseObject()
		if err != nil {
			return nil, err
		}
		x = append(x, obj)
	}
}

func (p *parser) parseDictOrStream(open token) (object, error) {
	if err := p.nest(open.off); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()

	d := make(dict)
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		if t.is(tokDelimiter, ">>") {
			break
		}
		if t.kind == tokEOF {
			return nil, p.errorf(open.off, "unterminated dictionary")
		}
		if t.kind != tokName {
			return nil, p.errorf(t.off, "dictionary key %v is not a name", t)
		}
		v, err := p.parseObject()
		if err != nil {
			return nil, err
		}
		d[name(t.s)] = v
	}

	t, err := p.next()
	if err != nil {
		return nil, err
	}
	if !t.is(tokKeyword, "stream") {
		p.unreadToken(t)
		return d, nil
	}
	if !p.allowStreams {
		return nil, p.errorf(t.off, "stream not allowed here")
	}
	return p.parseStreamBody(d, t.off)
}

// parseStreamBody reads the payload following the stream keyword. The
// payload is bounded by /Length, falling back to a search for endstream
// when the declared length does not land on it.
func (p *parser) parseStreamBody(hdr dict, kwOff int64) (object, error) {
	data := p.lex.data
	pos := p.lex.offset()
	for pos < int64(len(data)) && data[pos] == ' ' {
		pos++
	}
	if pos < int64(len(data)) && data[pos] == '\r' {
		pos++
	}
	if pos < int64(len(data)) && data[pos] == '\n' {
		pos++
	}

	length, err := p.streamLength(hdr)
	if err != nil {
		return nil, &ParseError{Offset: kwOff, Msg: "invalid stream length", Err: err}
	}
	end := int64(-1)
	if length >= 0 && length <= int64(len(data))-pos && endstreamAt(data, pos+length) {
		end = pos + length
	} else if i := bytes.Index(data[pos:], []byte("endstream")); i >= 0 {
		end = pos + int64(i)
		for end > pos && (data[end-1] == '\n' || data[end-1] == '\r') {
			end--
		}
	}
	if end < 0 {
		return nil, p.errorf(kwOff, "missing endstream")
	}

	p.lex.seek(end)
	if !p.fetchKeyword("endstream") {
		return nil, p.errorf(end, "missing endstream")
	}
	return stream{hdr: hdr, offset: pos, data: data[pos:end:end]}, nil
}

func (p *parser) streamLength(hdr dict) (int64, error) {
	switch v := hdr["Length"].(type) {
	case int64:
		return v, nil
	case ObjectRef:
		obj, err := p.ctx.fetch(v)
		if errors.Is(err, ErrReferenceCycle) {
			return 0, err
		}
		if err != nil {
			return -1, nil
		}
		if n, ok := obj.(int64); ok {
			return n, nil
		}
		return -1, nil
	}
	return -1, nil
}

func endstreamAt(data []byte, pos int64) bool {
	for pos < int64(len(data)) && isWhitespace(data[pos]) {
		pos++
	}
	return bytes.HasPrefix(data[pos:], []byte("endstream"))
}

// parseIndirect reads "num gen obj <object> endobj" at offset and checks
// that the scanned reference is ref.
func parseIndirect(data []byte, offset int64, ref ObjectRef, ctx *parsingContext) (object, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, &ObjectError{Ref: ref, Offset: offset, Err: fmt.Errorf("offset outside the file")}
	}
	if err := ctx.enter(ref); err != nil {
		return nil, &ObjectError{Ref: ref, Offset: offset, Err: err}
	}
	defer ctx.leave()

	fail := func(err error) (object, error) {
		return nil, &ObjectError{Ref: ref, Offset: offset, Err: err}
	}

	p := newParser(data, offset, ctx, true)
	num, err := p.next()
	if err != nil {
		return fail(err)
	}
	gen, err := p.next()
	if err != nil {
		return fail(err)
	}
	if num.kind != tokInteger || gen.kind != tokInteger {
		return fail(fmt.Errorf("missing object header"))
	}
	if !p.fetchKeyword("obj") {
		return fail(fmt.Errorf("missing obj keyword"))
	}
	obj, err := p.parseObject()
	if err != nil {
		return fail(err)
	}
	if !p.fetchKeyword("endobj") {
		return fail(fmt.Errorf("missing endobj keyword"))
	}
	if num.i != int64(ref.Num) || gen.i != int64(ref.Gen) {
		return fail(fmt.Errorf("found object %d %d", num.i, gen.i))
	}
	if s, ok := obj.(stream); ok {
		s.ref = ref
		obj = s
	}
	return obj, nil
}
