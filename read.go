// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Package ingest implements concurrent loading of PDF files.
//
// # Overview
//
// A PDF document is a graph of indirect objects located through one or more
// cross-reference sections. This package reads the whole graph up front:
// it checks the header and footer markers, merges the cross-reference chain,
// parses every object in parallel, authenticates against the Standard
// security handler and finally unpacks object streams. The result is a
// Document, an immutable table of objects addressable by number.
//
// Objects are exposed as Values, each of which has one of the following Kinds:
//
//	Null, for the null object.
//	Integer, for an integer.
//	Real, for a floating-point number.
//	Bool, for a boolean value.
//	Name, for a name constant (as in /Helvetica).
//	String, for a string constant.
//	Dict, for a dictionary of name-value pairs.
//	Array, for an array of values.
//	Stream, for an opaque data stream and associated header dictionary.
//
// The accessors on Value return a zero result when there is no appropriate
// view, so a Document can be traversed without error checking. Strings and
// streams are decrypted on access.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/sassoftware/viya-pdf-ingest/logger"
	"golang.org/x/sync/errgroup"
)

// Version is the version declared by the file header.
type Version struct {
	Major, Minor int
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

func (v Version) valid() bool {
	return v.Major == 1 && v.Minor <= 7 || v.Major == 2 && v.Minor == 0
}

// A Document is a fully loaded PDF file. It is safe for concurrent use.
type Document struct {
	data       []byte
	version    Version
	xref       *XRefTable
	objects    []slot
	trailer    dict
	security   SecurityHandler
	decoder    FilterDecoder
	encryptRef ObjectRef
}

// slot holds one materialized object. inStream marks objects unpacked from
// an object stream; their strings are not encrypted individually.
type slot struct {
	gen      uint16
	obj      object
	set      bool
	inStream bool
}

// Open reads and loads the PDF file at path.
func Open(path string, opts ...Option) (*Document, error) {
	logger.Debug(fmt.Sprintf("document: file:%s -- opening", path), true)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data, opts...)
}

// NewReader loads a document from the first size bytes of r.
func NewReader(r io.ReaderAt, size int64, opts ...Option) (*Document, error) {
	data, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, err
	}
	return Load(data, opts...)
}

// Load loads a document from data. data must not be modified afterwards.
func Load(data []byte, opts ...Option) (*Document, error) {
	return LoadContext(context.Background(), data, opts...)
}

// LoadContext is Load with a context checked between load phases. Tasks
// already running in a phase are not interrupted.
func LoadContext(ctx context.Context, data []byte, opts ...Option) (*Document, error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	l := &loader{ctx: ctx, data: data, opts: o}
	doc, err := l.load()
	if err != nil {
		logger.Debug(fmt.Sprintf("document: load failed -- %v", err), true)
		return nil, err
	}
	return doc, nil
}

type loader struct {
	ctx  context.Context
	data []byte
	opts *loadOptions
	xref *XRefTable
	doc  *Document
}

func (l *loader) load() (*Document, error) {
	cfg := l.opts.cfg
	logger.Debug(fmt.Sprintf("document: size=%d workers=%d", len(l.data), cfg.Workers), true)

	if err := ValidateEOFMarker(l.data, cfg.FooterScanLimit); err != nil {
		return nil, err
	}
	startxref, err := FindStartXref(l.data, cfg.FooterScanLimit)
	if err != nil {
		return nil, err
	}
	version, err := CheckHeader(l.data, cfg.HeaderScanLimit)
	if err != nil {
		return nil, err
	}

	l.xref, err = resolveXRef(l.data, startxref, l.opts.decoder)
	if err != nil {
		return nil, err
	}
	l.doc = &Document{
		data:     l.data,
		version:  version,
		xref:     l.xref,
		objects:  make([]slot, l.xref.Size()),
		decoder:  l.opts.decoder,
		security: noneHandler{},
	}

	if err := l.readObjects(); err != nil {
		return nil, err
	}
	if err := l.ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.authenticate(); err != nil {
		return nil, err
	}
	if err := l.ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.readObjectStreams(); err != nil {
		return nil, err
	}
	logger.Debug(fmt.Sprintf("document: loaded version=%v objects=%d encryption=%v",
		version, l.xref.Size(), l.doc.security.Mode()), true)
	return l.doc, nil
}

// fanOut runs task(0..n-1) on at most workers goroutines. Once a task
// fails the remaining ones are skipped; the error of one failed task is
// returned.
func fanOut(n, workers int, task func(i int) error) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed atomic.Bool
		first  error
	)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			if err := task(i); err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
				failed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return first
}

// fetch resolves references met while parsing, such as an indirect stream
// /Length. Only objects stored at a byte offset can be fetched.
func (l *loader) fetch(ctx *parsingContext, ref ObjectRef) (object, error) {
	e := l.xref.Entry(int(ref.Num))
	switch e.Type {
	case Occupied:
		if e.Ref != ref {
			return nil, nil
		}
		return parseIndirect(l.data, e.Offset, ref, ctx)
	case InObjectStream:
		return nil, fmt.Errorf("object %v is stored in object stream %d", ref, e.Container.Num)
	}
	return nil, nil
}

// readObjects parses every object stored at a byte offset.
func (l *loader) readObjects() error {
	entries := l.xref.Occupied()
	logger.Debug(fmt.Sprintf("phase1: objects=%d", len(entries)), true)

	var mu sync.Mutex
	return fanOut(len(entries), l.opts.cfg.Workers, func(i int) error {
		e := entries[i]
		obj, err := parseIndirect(l.data, e.Offset, e.Ref, newParsingContext(l.fetch))
		if err != nil {
			return err
		}
		mu.Lock()
		l.doc.objects[e.Ref.Num] = slot{gen: e.Ref.Gen, obj: obj, set: true}
		mu.Unlock()
		return nil
	})
}

// authenticate builds the security handler from the trailer and runs it
// against the configured password provider.
func (l *loader) authenticate() error {
	trailer := l.xref.Trailer()
	if trailer == nil {
		return &StructuralError{Msg: "invalid trailer dictionary"}
	}
	doc := l.doc
	doc.trailer = trailer

	var id []byte
	if ids, ok := trailer["ID"].(array); ok && len(ids) > 0 {
		if s, ok := ids[0].(string); ok {
			id = []byte(s)
		}
	}

	enc := Value{doc: doc, data: trailer["Encrypt"]}
	if ref, ok := trailer["Encrypt"].(ObjectRef); ok {
		if int(ref.Num) < len(doc.objects) && doc.objects[ref.Num].set && doc.objects[ref.Num].gen == ref.Gen {
			enc = Value{doc: doc, ptr: ref, data: doc.objects[ref.Num].obj}
			doc.encryptRef = ref
		}
	}

	sh, err := newSecurityHandler(enc, id)
	if err != nil {
		return err
	}
	if sh.Mode() == NoEncryption {
		return nil
	}
	res := sh.Authenticate(l.opts.passwords)
	logger.Debug(fmt.Sprintf("security: authenticate -- outcome=%v", res.Outcome), true)
	if !res.Authorized() {
		return &AuthenticationError{Outcome: res.Outcome}
	}
	doc.security = sh
	return nil
}

// readObjectStreams unpacks every object stream, one task per container.
// Unpacked objects are staged and published once all tasks finish, so
// tasks only ever read objects from the first phase.
func (l *loader) readObjectStreams() error {
	groups := l.xref.objectStreams()
	logger.Debug(fmt.Sprintf("phase2: object streams=%d", len(groups)), true)
	if len(groups) == 0 {
		return nil
	}

	var mu sync.Mutex
	staged := make(map[uint32]slot)
	err := fanOut(len(groups), l.opts.cfg.Workers, func(i int) error {
		objs, err := l.readObjectStream(groups[i])
		if err != nil {
			return err
		}
		mu.Lock()
		for num, s := range objs {
			staged[num] = s
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	for num, s := range staged {
		l.doc.objects[num] = s
	}
	return nil
}

func (l *loader) readObjectStream(g objectStreamGroup) (map[uint32]slot, error) {
	c := g.container
	fail := func(msg string, err error) error {
		return &ObjectStreamError{Container: c, Msg: msg, Err: err}
	}

	strm := l.doc.Object(c)
	x, ok := strm.data.(stream)
	if !ok {
		return nil, fail("container is not a stream", nil)
	}
	if strm.Key("Type").Name() != "ObjStm" {
		return nil, fail("type is not ObjStm", nil)
	}
	nv, fv := strm.Key("N"), strm.Key("First")
	if nv.Kind() != Integer || fv.Kind() != Integer {
		return nil, fail("N and First must be integers", nil)
	}
	n, first := nv.Int64(), fv.Int64()
	if n < 0 || first < 0 {
		return nil, fail("N and First must not be negative", nil)
	}

	data, err := l.doc.decodeStream(strm, x)
	if err != nil {
		return nil, fail("cannot decode stream", err)
	}

	ctx := newParsingContext(l.fetch)
	if err := ctx.enter(c); err != nil {
		return nil, fail("cannot read container", err)
	}
	defer ctx.leave()

	p := newParser(data, 0, ctx, true)
	type pair struct{ num, off int64 }
	pairs := make([]pair, 0, min(n, int64(len(data))))
	for i := int64(0); i < n; i++ {
		num, err := p.parseObject()
		if err != nil {
			return nil, fail("cannot read object index", err)
		}
		off, err := p.parseObject()
		if err != nil {
			return nil, fail("cannot read object index", err)
		}
		ni, ok1 := num.(int64)
		oi, ok2 := off.(int64)
		if !ok1 || !ok2 {
			return nil, fail(fmt.Sprintf("index pair %d is not a pair of integers", i), nil)
		}
		pairs = append(pairs, pair{ni, oi})
	}

	declared := make(map[int64]XRefEntry, len(g.entries))
	for _, e := range g.entries {
		declared[int64(e.Ref.Num)] = e
	}

	out := make(map[uint32]slot, len(pairs))
	for i, pr := range pairs {
		e, ok := declared[pr.num]
		if !ok {
			return nil, fail(fmt.Sprintf("object %d is not declared for this stream", pr.num), nil)
		}
		if e.Index != i {
			return nil, fail(fmt.Sprintf("object %d is at index %d, declared at %d", pr.num, i, e.Index), nil)
		}
		if pr.off < 0 || first >= int64(len(data)) || pr.off >= int64(len(data))-first {
			return nil, fail(fmt.Sprintf("object %d offset %d outside the stream", pr.num, pr.off), nil)
		}
		p.seek(first + pr.off)
		obj, err := p.parseObject()
		if err != nil {
			return nil, fail(fmt.Sprintf("cannot read object %d", pr.num), err)
		}
		out[e.Ref.Num] = slot{gen: e.Ref.Gen, obj: obj, set: true, inStream: true}
	}
	return out, nil
}

var headerRegexp = regexp.MustCompile(`%PDF-(\d)\.(\d)|%!PS-Adobe-\d\.\d PDF-(\d)\.(\d)`)

// CheckHeader searches the first limit bytes for "%PDF-x.y" or
// "%!PS-Adobe-y.y PDF-x.y" and validates the version is 1.0-1.7 or 2.0.
func CheckHeader(data []byte, limit int) (Version, error) {
	m := headerRegexp.FindSubmatch(data[:min(limit, len(data))])
	if m == nil {
		logger.Error("not a PDF file: header not found")
		return Version{}, &StructuralError{Msg: "header of PDF file was not found"}
	}
	digits := m[1:3]
	if m[1] == nil {
		digits = m[3:5]
	}
	v := Version{Major: int(digits[0][0] - '0'), Minor: int(digits[1][0] - '0')}
	if !v.valid() {
		logger.Error(fmt.Sprintf("unsupported PDF version %v", v))
		return Version{}, &StructuralError{Msg: fmt.Sprintf("version %v of the PDF file is not valid", v)}
	}
	logger.Debug(fmt.Sprintf("header: PDF-%v", v), true)
	return v, nil
}

func footer(data []byte, limit int) ([]byte, int) {
	start := max(len(data)-limit, 0)
	return data[start:], start
}

// ValidateEOFMarker checks the last limit bytes for the "%%EOF" marker.
func ValidateEOFMarker(data []byte, limit int) error {
	buf, _ := footer(data, limit)
	if !bytes.Contains(buf, []byte("%%EOF")) {
		logger.Error("not a PDF file: missing %%EOF")
		return &StructuralError{Msg: "end of file marking was not found"}
	}
	return nil
}

// FindStartXref locates the last "startxref" in the final limit bytes and
// returns the offset that follows it.
func FindStartXref(data []byte, limit int) (int64, error) {
	buf, start := footer(data, limit)
	i := findLastLine(buf, "startxref")
	if i < 0 {
		i = bytes.LastIndex(buf, []byte("startxref"))
	}
	if i < 0 {
		logger.Error("malformed PDF file: missing final startxref")
		return 0, &StructuralError{Msg: "start of object reference table not found"}
	}
	lex := newLexer(data, int64(start+i+len("startxref")))
	tok, err := lex.fetch()
	if err != nil || tok.kind != tokInteger {
		logger.Error(fmt.Sprintf("malformed PDF file: startxref not followed by integer, found: %v", tok))
		return 0, &StructuralError{Msg: "start of object reference table not found"}
	}
	logger.Debug(fmt.Sprintf("xref: FindStartXref -- startxref=%d", tok.i), true)
	return tok.i, nil
}

// findLastLine returns the index of the last occurrence of s that is
// followed by whitespace ending in an EOL, or -1.
func findLastLine(buf []byte, s string) int {
	bs := []byte(s)
	for end := len(buf); end > 0; {
		i := bytes.LastIndex(buf[:end], bs)
		if i < 0 {
			return -1
		}
		j := i + len(bs)
		for j < len(buf) && isWhitespace(buf[j]) {
			j++
		}
		if j > i+len(bs) && (buf[j-1] == '\n' || buf[j-1] == '\r') {
			return i
		}
		end = i
	}
	return -1
}

// Version returns the header version.
func (d *Document) Version() Version { return d.version }

// Size returns the size of the object table.
func (d *Document) Size() int { return len(d.objects) }

// XRef returns the merged cross-reference table.
func (d *Document) XRef() *XRefTable { return d.xref }

// Security returns the document's security handler.
func (d *Document) Security() SecurityHandler { return d.security }

// Trailer returns the trailer dictionary.
func (d *Document) Trailer() Value {
	return Value{doc: d, data: d.trailer}
}

// Object returns the object referenced by ref. Free slots and generation
// mismatches read as null.
func (d *Document) Object(ref ObjectRef) Value {
	if s := d.slot(ref.Num); s != nil && s.gen == ref.Gen {
		return Value{doc: d, ptr: ref, data: s.obj}
	}
	return Value{}
}

// Lookup returns the object with number num at whatever generation it has.
func (d *Document) Lookup(num int) (Value, bool) {
	if num < 0 {
		return Value{}, false
	}
	s := d.slot(uint32(num))
	if s == nil {
		return Value{}, false
	}
	return Value{doc: d, ptr: ObjectRef{Num: uint32(num), Gen: s.gen}, data: s.obj}, true
}

func (d *Document) slot(num uint32) *slot {
	if d == nil || int64(num) >= int64(len(d.objects)) || !d.objects[num].set {
		return nil
	}
	return &d.objects[num]
}

func (d *Document) resolve(parent ObjectRef, x object) Value {
	if ref, ok := x.(ObjectRef); ok {
		if d == nil {
			return Value{}
		}
		return d.Object(ref)
	}
	return Value{doc: d, ptr: parent, data: x}
}

// encrypted reports whether strings of the object ref are individually
// encrypted.
func (d *Document) encrypted(ref ObjectRef) bool {
	if d == nil || d.security == nil || d.security.Mode() == NoEncryption {
		return false
	}
	if ref == d.encryptRef {
		return false
	}
	s := d.slot(ref.Num)
	return s != nil && !s.inStream
}

func (d *Document) decryptString(ref ObjectRef, s string) string {
	if !d.encrypted(ref) {
		return s
	}
	out, err := d.security.DecryptString(ref, []byte(s))
	if err != nil {
		logger.Error(fmt.Sprintf("decrypt string of %v: %v", ref, err))
		return ""
	}
	return string(out)
}

func (d *Document) decodeStream(v Value, x stream) ([]byte, error) {
	data := x.data
	if d.encrypted(x.ref) {
		var err error
		if data, err = d.security.DecryptStream(x.ref, v, data); err != nil {
			return nil, fmt.Errorf("decrypt stream %v: %w", x.ref, err)
		}
	}
	dec := d.decoder
	if dec == nil {
		dec = StandardFilters{}
	}
	return dec.Decode(v, data)
}

// DecryptString decrypts a string belonging to the object ref.
func (d *Document) DecryptString(ref ObjectRef, data []byte) ([]byte, error) {
	return d.security.DecryptString(ref, data)
}

// DecryptStream decrypts the raw payload of the stream object ref with
// header hdr.
func (d *Document) DecryptStream(ref ObjectRef, hdr Value, data []byte) ([]byte, error) {
	return d.security.DecryptStream(ref, hdr, data)
}
