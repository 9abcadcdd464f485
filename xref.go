// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"fmt"
	"sort"

	"github.com/sassoftware/viya-pdf-ingest/logger"
)

// XRefEntryType classifies a cross-reference entry.
type XRefEntryType int

const (
	Free XRefEntryType = iota
	Occupied
	InObjectStream
)

func (t XRefEntryType) String() string {
	switch t {
	case Occupied:
		return "occupied"
	case InObjectStream:
		return "in-object-stream"
	}
	return "free"
}

// XRefEntry is the location of one object number. Offset is set for
// Occupied entries; Container and Index for InObjectStream entries.
type XRefEntry struct {
	Type      XRefEntryType
	Ref       ObjectRef
	Offset    int64
	Container ObjectRef
	Index     int
}

// XRefTable is the merged cross-reference data of a document, indexed by
// object number.
type XRefTable struct {
	entries []XRefEntry
	filled  []bool
	trailer object
}

// maxObjectNumber bounds table growth on hostile input.
const maxObjectNumber = 1<<23 - 1

// objectRange reports whether the n object numbers from start are all
// valid. Each operand is bounded before the sum is taken.
func objectRange(start, n int64) bool {
	return start >= 0 && n >= 0 && start <= maxObjectNumber && n <= maxObjectNumber+1-start
}

// Size is one more than the largest object number observed.
func (t *XRefTable) Size() int { return len(t.entries) }

// Entry returns the entry for object number num. Unknown numbers are Free.
func (t *XRefTable) Entry(num int) XRefEntry {
	if num < 0 || num >= len(t.entries) {
		return XRefEntry{Type: Free, Ref: ObjectRef{Num: uint32(max(num, 0))}}
	}
	return t.entries[num]
}

// Trailer returns the trailer dictionary of the newest section.
func (t *XRefTable) Trailer() dict {
	switch x := t.trailer.(type) {
	case dict:
		return x
	case stream:
		return x.hdr
	}
	return nil
}

// Occupied returns all entries stored at a byte offset, in object number order.
func (t *XRefTable) Occupied() []XRefEntry {
	var out []XRefEntry
	for _, e := range t.entries {
		if e.Type == Occupied {
			out = append(out, e)
		}
	}
	return out
}

type objectStreamGroup struct {
	container ObjectRef
	entries   []XRefEntry
}

// objectStreams groups InObjectStream entries by container, ordered by
// container number.
func (t *XRefTable) objectStreams() []objectStreamGroup {
	byContainer := make(map[ObjectRef][]XRefEntry)
	for _, e := range t.entries {
		if e.Type == InObjectStream {
			byContainer[e.Container] = append(byContainer[e.Container], e)
		}
	}
	groups := make([]objectStreamGroup, 0, len(byContainer))
	for c, es := range byContainer {
		groups = append(groups, objectStreamGroup{container: c, entries: es})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].container.Num < groups[j].container.Num })
	return groups
}

// merge records e unless an earlier (newer) section already set its number.
func (t *XRefTable) merge(e XRefEntry) {
	num := int(e.Ref.Num)
	if num >= len(t.entries) {
		t.entries = ensureLen(t.entries, num+1)
		t.filled = ensureLen(t.filled, num+1)
	}
	if t.filled[num] {
		return
	}
	t.entries[num] = e
	t.filled[num] = true
}

// ensureLen makes sure s has length at least n (growing capacity if needed)
// and returns the possibly-reallocated slice.
func ensureLen[T any](s []T, n int) []T {
	if n <= len(s) {
		return s
	}
	if cap(s) < n {
		ns := make([]T, n, max(n, 2*cap(s)))
		copy(ns, s)
		return ns
	}
	return s[:n]
}

type xrefResolver struct {
	data    []byte
	dec     FilterDecoder
	table   *XRefTable
	visited map[int64]bool
}

// resolveXRef reads the section at start and every section reachable
// through /Prev. The first section read wins for each object number and
// supplies the trailer.
func resolveXRef(data []byte, start int64, dec FilterDecoder) (*XRefTable, error) {
	if dec == nil {
		dec = StandardFilters{}
	}
	r := &xrefResolver{data: data, dec: dec, table: &XRefTable{}, visited: make(map[int64]bool)}

	off := start
	for section := 0; ; section++ {
		if r.visited[off] {
			return nil, &XRefError{Offset: off, Msg: "previous section offset revisited", Err: ErrXRefCycle}
		}
		r.visited[off] = true

		trailer, entries, err := r.readSection(off)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			r.table.merge(e)
		}
		if section == 0 {
			r.table.trailer = trailer
		}
		logger.Debug(fmt.Sprintf("xref: section %d at offset %d merged (entries=%d)", section, off, len(entries)), true)

		prev, ok := sectionDict(trailer)["Prev"]
		if !ok {
			break
		}
		p, ok := prev.(int64)
		if !ok {
			return nil, &XRefError{Offset: off, Msg: fmt.Sprintf("Prev is not an integer: %v", objfmt(prev))}
		}
		off = p
	}

	if size, ok := r.table.Trailer()["Size"].(int64); ok && size != int64(r.table.Size()) {
		logger.Debug(fmt.Sprintf("xref: trailer Size=%d but table holds %d entries", size, r.table.Size()))
	}
	return r.table, nil
}

func sectionDict(trailer object) dict {
	switch x := trailer.(type) {
	case dict:
		return x
	case stream:
		return x.hdr
	}
	return nil
}

func (r *xrefResolver) readSection(off int64) (object, []XRefEntry, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return nil, nil, &XRefError{Offset: off, Msg: "offset outside the file"}
	}
	lex := newLexer(r.data, off)
	tok, err := lex.fetch()
	if err != nil {
		return nil, nil, &XRefError{Offset: off, Msg: "unreadable section", Err: err}
	}
	switch {
	case tok.is(tokKeyword, "xref"):
		logger.Debug("Found Xref Table", true)
		return r.readTableSection(lex)
	case tok.kind == tokInteger:
		logger.Debug("Found Xref Stream", true)
		trailer, entries, err := r.readStreamSection(off)
		return trailer, entries, err
	}
	return nil, nil, &XRefError{Offset: off, Msg: fmt.Sprintf("cross-reference table nor stream found: %v", tok)}
}

// readTableSection reads the subsections of a classic table, its trailer,
// and a hybrid /XRefStm stream if the trailer names one.
func (r *xrefResolver) readTableSection(lex *lexer) (object, []XRefEntry, error) {
	var entries []XRefEntry
	for {
		tok, err := lex.fetch()
		if err != nil {
			return nil, nil, &XRefError{Offset: tok.off, Msg: "malformed subsection header", Err: err}
		}
		if tok.is(tokKeyword, "trailer") {
			break
		}
		cnt, err := lex.fetch()
		if err != nil || tok.kind != tokInteger || cnt.kind != tokInteger || tok.i < 0 || cnt.i < 0 {
			return nil, nil, &XRefError{Offset: tok.off, Msg: "malformed subsection header"}
		}
		if !objectRange(tok.i, cnt.i) {
			return nil, nil, &XRefError{Offset: tok.off, Msg: fmt.Sprintf("subsection %d %d out of range", tok.i, cnt.i)}
		}
		lex.skipSpace()
		for i := int64(0); i < cnt.i; i++ {
			e, err := r.readRecord(lex, uint32(tok.i+i))
			if err != nil {
				return nil, nil, err
			}
			entries = append(entries, e)
		}
	}

	p := &parser{lex: lex}
	obj, err := p.parseObject()
	if err != nil {
		return nil, nil, &XRefError{Offset: lex.offset(), Msg: "unreadable trailer", Err: err}
	}
	trailer, ok := obj.(dict)
	if !ok {
		return nil, nil, &XRefError{Offset: lex.offset(), Msg: "xref table not followed by trailer dictionary"}
	}

	if x, ok := trailer["XRefStm"]; ok {
		off, ok := x.(int64)
		if !ok {
			return nil, nil, &XRefError{Offset: lex.offset(), Msg: fmt.Sprintf("XRefStm is not an integer: %v", objfmt(x))}
		}
		logger.Debug(fmt.Sprintf("found XRefStm in trailer: offset=%d", off), true)
		if off < 0 || off >= int64(len(r.data)) {
			return nil, nil, &XRefError{Offset: off, Msg: "XRefStm offset outside the file"}
		}
		_, streamEntries, err := r.readStreamSection(off)
		if err != nil {
			return nil, nil, err
		}
		entries = mergeHybrid(entries, streamEntries)
	}
	return trailer, entries, nil
}

// mergeHybrid combines the table and XRefStm entries of one section. The
// table wins except where it marks an object free.
func mergeHybrid(table, strm []XRefEntry) []XRefEntry {
	idx := make(map[uint32]int, len(table))
	for i, e := range table {
		idx[e.Ref.Num] = i
	}
	for _, e := range strm {
		i, ok := idx[e.Ref.Num]
		switch {
		case !ok:
			idx[e.Ref.Num] = len(table)
			table = append(table, e)
		case table[i].Type == Free && e.Type != Free:
			table[i] = e
		}
	}
	return table
}

// readRecord reads one fixed-width record "oooooooooo ggggg n" and the
// whitespace that terminates it.
func (r *xrefResolver) readRecord(lex *lexer, num uint32) (XRefEntry, error) {
	pos := lex.offset()
	bad := func(msg string) (XRefEntry, error) {
		return XRefEntry{}, &XRefError{Offset: pos, Msg: fmt.Sprintf("malformed record for object %d: %s", num, msg)}
	}
	if pos+18 > int64(len(r.data)) {
		return bad("truncated")
	}
	rec := r.data[pos : pos+18]
	off, ok := decimal(rec[0:10])
	if !ok || rec[10] != ' ' {
		return bad("invalid offset field")
	}
	gen, ok := decimal(rec[11:16])
	if !ok || rec[16] != ' ' || gen > 0xFFFF {
		return bad("invalid generation field")
	}
	end := pos + 18
	for n := 0; n < 2 && end < int64(len(r.data)) && isWhitespace(r.data[end]); n++ {
		end++
	}
	lex.seek(end)
	lex.skipSpace()

	ref := ObjectRef{Num: num, Gen: uint16(gen)}
	switch rec[17] {
	case 'n':
		if off >= int64(len(r.data)) {
			return XRefEntry{}, &XRefError{Offset: pos, Msg: fmt.Sprintf("object %d offset %d outside the file", num, off)}
		}
		return XRefEntry{Type: Occupied, Ref: ref, Offset: off}, nil
	case 'f':
		return XRefEntry{Type: Free, Ref: ref}, nil
	}
	return bad(fmt.Sprintf("unexpected flag %q", rec[17]))
}

func decimal(b []byte) (int64, bool) {
	var x int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		x = x*10 + int64(c-'0')
	}
	return x, true
}

// readStreamSection reads a cross-reference stream object at off.
func (r *xrefResolver) readStreamSection(off int64) (object, []XRefEntry, error) {
	logger.Debug(fmt.Sprintf("reading xref stream at offset %d", off))
	p := newParser(r.data, off, newParsingContext(nil), true)
	num, err1 := p.next()
	gen, err2 := p.next()
	if err1 != nil || err2 != nil || num.kind != tokInteger || gen.kind != tokInteger || !p.fetchKeyword("obj") {
		return nil, nil, &XRefError{Offset: off, Msg: "objdef not found"}
	}
	obj, err := p.parseObject()
	if err != nil {
		return nil, nil, &XRefError{Offset: off, Msg: "unreadable xref stream", Err: err}
	}
	strm, ok := obj.(stream)
	if !ok {
		return nil, nil, &XRefError{Offset: off, Msg: "cross-reference stream not found"}
	}
	if strm.hdr["Type"] != name("XRef") {
		return nil, nil, &XRefError{Offset: off, Msg: "xref stream does not have type XRef"}
	}
	strm.ref = ObjectRef{Num: uint32(num.i), Gen: uint16(gen.i)}

	entries, err := r.readStreamEntries(strm)
	if err != nil {
		return nil, nil, &XRefError{Offset: off, Msg: "malformed xref stream", Err: err}
	}
	return strm, entries, nil
}

func (r *xrefResolver) readStreamEntries(strm stream) ([]XRefEntry, error) {
	size, ok := strm.hdr["Size"].(int64)
	if !ok || size < 0 || size > maxObjectNumber+1 {
		return nil, fmt.Errorf("xref stream missing Size")
	}

	index, _ := strm.hdr["Index"].(array)
	if index == nil {
		index = array{int64(0), size}
	}
	if len(index)%2 != 0 {
		return nil, fmt.Errorf("invalid Index array %v", objfmt(index))
	}

	ww, ok := strm.hdr["W"].(array)
	if !ok || len(ww) < 3 {
		return nil, fmt.Errorf("invalid W array %v", objfmt(strm.hdr["W"]))
	}
	var w []int
	for _, x := range ww {
		i, ok := x.(int64)
		if !ok || i < 0 || i > 8 {
			return nil, fmt.Errorf("invalid W array %v", objfmt(ww))
		}
		w = append(w, int(i))
	}
	wtotal := w[0] + w[1] + w[2]
	if wtotal == 0 {
		return nil, fmt.Errorf("invalid W array %v", objfmt(ww))
	}

	data, err := r.dec.Decode(Value{data: strm}, strm.data)
	if err != nil {
		return nil, err
	}

	var entries []XRefEntry
	for len(index) > 0 {
		start, ok1 := index[0].(int64)
		n, ok2 := index[1].(int64)
		if !ok1 || !ok2 || !objectRange(start, n) {
			return nil, fmt.Errorf("malformed Index pair %v %v", objfmt(index[0]), objfmt(index[1]))
		}
		index = index[2:]
		for i := int64(0); i < n; i++ {
			if len(data) < wtotal {
				return nil, fmt.Errorf("xref stream truncated at object %d", start+i)
			}
			rec := data[:wtotal]
			data = data[wtotal:]
			typ := decodeInt(rec[0:w[0]])
			if w[0] == 0 {
				typ = 1
			}
			f2 := decodeInt(rec[w[0] : w[0]+w[1]])
			f3 := decodeInt(rec[w[0]+w[1]:])
			num := uint32(start + i)
			switch typ {
			case 0:
				entries = append(entries, XRefEntry{Type: Free, Ref: ObjectRef{Num: num, Gen: uint16(f3)}})
			case 1:
				if f2 < 0 || f2 >= int64(len(r.data)) {
					return nil, fmt.Errorf("object %d offset %d outside the file", num, f2)
				}
				entries = append(entries, XRefEntry{Type: Occupied, Ref: ObjectRef{Num: num, Gen: uint16(f3)}, Offset: f2})
			case 2:
				entries = append(entries, XRefEntry{
					Type:      InObjectStream,
					Ref:       ObjectRef{Num: num},
					Container: ObjectRef{Num: uint32(f2)},
					Index:     int(f3),
				})
			default:
				// Unknown types read as the null object.
				entries = append(entries, XRefEntry{Type: Free, Ref: ObjectRef{Num: num}})
			}
		}
	}
	logger.Debug(fmt.Sprintf("parseXrefEntries (entries parsed=%d)", len(entries)), true)
	return entries, nil
}

func decodeInt(b []byte) int64 {
	var x int64
	for _, c := range b {
		x = x<<8 | int64(c)
	}
	return x
}
