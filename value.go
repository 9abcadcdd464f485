// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// A Value is a single PDF value, such as an integer, dictionary, or array.
// The zero Value is a PDF null (Kind() == Null, IsNull() = true).
//
// Accessors return a zero result when the Value has a different kind, so a
// document can be traversed without error checking. References are resolved
// through the owning Document; a dangling reference reads as null.
type Value struct {
	doc  *Document
	ptr  ObjectRef
	data object
}

// IsNull reports whether the value is a null. It is equivalent to Kind() == Null.
func (v Value) IsNull() bool {
	return v.data == nil
}

// A ValueKind specifies the kind of data underlying a Value.
type ValueKind int

// The PDF value kinds.
const (
	Null ValueKind = iota
	Bool
	Integer
	Real
	String
	Name
	Dict
	Array
	Stream
)

func (k ValueKind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Integer:
		return "integer"
	case Real:
		return "real"
	case String:
		return "string"
	case Name:
		return "name"
	case Dict:
		return "dict"
	case Array:
		return "array"
	case Stream:
		return "stream"
	}
	return "null"
}

// Kind reports the kind of value underlying v.
func (v Value) Kind() ValueKind {
	switch v.data.(type) {
	default:
		return Null
	case bool:
		return Bool
	case int64:
		return Integer
	case float64:
		return Real
	case string:
		return String
	case name:
		return Name
	case dict:
		return Dict
	case array:
		return Array
	case stream:
		return Stream
	}
}

// Ref returns the reference of the indirect object v belongs to.
func (v Value) Ref() ObjectRef { return v.ptr }

// String returns a textual representation of the value v.
// Note that String is not the accessor for values with Kind() == String.
// To access such values, see RawString and Text.
func (v Value) String() string {
	return objfmt(v.data)
}

func objfmt(x interface{}) string {
	switch x := x.(type) {
	default:
		return fmt.Sprint(x)
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case name:
		return "/" + string(x)
	case dict:
		var keys []string
		for k := range x {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteString("<<")
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString("/")
			buf.WriteString(k)
			buf.WriteString(" ")
			buf.WriteString(objfmt(x[name(k)]))
		}
		buf.WriteString(">>")
		return buf.String()
	case array:
		var buf bytes.Buffer
		buf.WriteString("[")
		for i, elem := range x {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(objfmt(elem))
		}
		buf.WriteString("]")
		return buf.String()
	case stream:
		return fmt.Sprintf("%v@%d", objfmt(x.hdr), x.offset)
	case ObjectRef:
		return x.String()
	}
}

// Bool returns v's boolean value.
// If v.Kind() != Bool, Bool returns false.
func (v Value) Bool() bool {
	x, _ := v.data.(bool)
	return x
}

// Int64 returns v's int64 value.
// If v.Kind() != Integer, Int64 returns 0.
func (v Value) Int64() int64 {
	x, _ := v.data.(int64)
	return x
}

// Float64 returns v's float64 value, converting from integer if necessary.
// If v.Kind() != Real and v.Kind() != Integer, Float64 returns 0.
func (v Value) Float64() float64 {
	switch x := v.data.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

// RawString returns v's string bytes, decrypted for the object it belongs to.
// If v.Kind() != String, RawString returns the empty string.
func (v Value) RawString() string {
	x, ok := v.data.(string)
	if !ok {
		return ""
	}
	if v.doc == nil {
		return x
	}
	return v.doc.decryptString(v.ptr, x)
}

// Text returns v's string value interpreted as a “text string” and converted
// to UTF-8. If v.Kind() != String, Text returns the empty string.
func (v Value) Text() string {
	if v.Kind() != String {
		return ""
	}
	return decodeTextString(v.RawString())
}

// Name returns v's name value without the leading slash.
// If v.Kind() != Name, Name returns the empty string.
func (v Value) Name() string {
	x, _ := v.data.(name)
	return string(x)
}

func (v Value) dictionary() dict {
	switch x := v.data.(type) {
	case dict:
		return x
	case stream:
		return x.hdr
	}
	return nil
}

// Key returns the value associated with the given name key in the dictionary v.
// If v is a stream, Key applies to the stream's header dictionary.
// If v.Kind() != Dict and v.Kind() != Stream, Key returns a null Value.
func (v Value) Key(key string) Value {
	d := v.dictionary()
	if d == nil {
		return Value{}
	}
	return v.doc.resolve(v.ptr, d[name(key)])
}

// Keys returns a sorted list of the keys in the dictionary v.
// If v is a stream, Keys applies to the stream's header dictionary.
// If v.Kind() != Dict and v.Kind() != Stream, Keys returns nil.
func (v Value) Keys() []string {
	d := v.dictionary()
	if d == nil {
		return nil
	}
	keys := []string{} // not nil
	for k := range d {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

// Index returns the i'th element in the array v.
// If v.Kind() != Array or if i is outside the array bounds,
// Index returns a null Value.
func (v Value) Index(i int) Value {
	x, ok := v.data.(array)
	if !ok || i < 0 || i >= len(x) {
		return Value{}
	}
	return v.doc.resolve(v.ptr, x[i])
}

// Len returns the length of the array v.
// If v.Kind() != Array, Len returns 0.
func (v Value) Len() int {
	x, _ := v.data.(array)
	return len(x)
}

// RawData returns the encoded, still encrypted payload of the stream v.
func (v Value) RawData() []byte {
	x, ok := v.data.(stream)
	if !ok {
		return nil
	}
	return x.data
}

// Data returns the decrypted and decoded payload of the stream v.
func (v Value) Data() ([]byte, error) {
	x, ok := v.data.(stream)
	if !ok {
		return nil, fmt.Errorf("stream not present")
	}
	if v.doc == nil {
		return StandardFilters{}.Decode(v, x.data)
	}
	return v.doc.decodeStream(v, x)
}

type errorReadCloser struct {
	err error
}

func (e *errorReadCloser) Read([]byte) (int, error) {
	return 0, e.err
}

func (e *errorReadCloser) Close() error {
	return e.err
}

// Reader returns the decoded data contained in the stream v.
// If v.Kind() != Stream, Reader returns a ReadCloser that
// responds to all reads with a “stream not present” error.
func (v Value) Reader() io.ReadCloser {
	data, err := v.Data()
	if err != nil {
		return &errorReadCloser{err}
	}
	return io.NopCloser(bytes.NewReader(data))
}
