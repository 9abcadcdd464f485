// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errHas(err error, sub string) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), strings.ToLower(sub))
}

func isStructural(err error) bool {
	var serr *StructuralError
	return errors.As(err, &serr)
}

func TestLoad_Minimal(t *testing.T) {
	doc, err := Load(minimalPDF())
	require.NoError(t, err)

	assert.Equal(t, Version{1, 7}, doc.Version())
	assert.Equal(t, 3, doc.Size())
	assert.Equal(t, NoEncryption, doc.Security().Mode())
	assert.Equal(t, "Catalog", doc.Trailer().Key("Root").Key("Type").Name())
	assert.Equal(t, int64(0), doc.Object(ObjectRef{2, 0}).Key("Count").Int64())
	assert.Equal(t, ObjectRef{2, 0}, doc.Object(ObjectRef{2, 0}).Ref())
	assert.Equal(t, 3, doc.XRef().Size())
}

func TestLoad_EmptyInput(t *testing.T) {
	_, err := Load(nil)
	assert.True(t, isStructural(err), "got %v", err)

	var b bytes.Reader
	_, err = NewReader(&b, 0)
	assert.True(t, errHas(err, "end of file marking"), "got %v", err)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF(), 0o600))

	doc, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Size())

	_, err = Open(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNewReader(t *testing.T) {
	data := minimalPDF()
	doc, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, Version{1, 7}, doc.Version())
}

func TestValidateEOFMarker(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		limit   int
		wantErr bool
	}{
		{"at end", "%PDF-1.7\n...\n%%EOF", 1024, false},
		{"trailing newlines", "%PDF-1.7\n...\n%%EOF\n\n", 1024, false},
		{"trailing garbage", "%PDF-1.7\n%%EOF\ngarbage", 1024, false},
		{"missing", "%PDF-1.7\n...\n", 1024, true},
		{"outside window", "%%EOF" + strings.Repeat("A", 100), 64, true},
		{"empty", "", 1024, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEOFMarker([]byte(tt.data), tt.limit)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, isStructural(err), "got %v", err)
			assert.True(t, errHas(err, "end of file marking was not found"))
		})
	}
}

func TestCheckHeader(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		limit   int
		want    Version
		wantErr string
	}{
		{name: "plain", data: "%PDF-1.7\n", limit: 1024, want: Version{1, 7}},
		{name: "leading junk", data: "junk\n%PDF-1.4\r\n", limit: 1024, want: Version{1, 4}},
		{name: "postscript wrapper", data: "%!PS-Adobe-3.0 PDF-1.5\n", limit: 1024, want: Version{1, 5}},
		{name: "pdf 2.0", data: "%PDF-2.0\n", limit: 1024, want: Version{2, 0}},
		{name: "pdf 1.0", data: "%PDF-1.0\n", limit: 1024, want: Version{1, 0}},
		{name: "pdf 1.8", data: "%PDF-1.8\n", limit: 1024, wantErr: "version 1.8"},
		{name: "pdf 2.1", data: "%PDF-2.1\n", limit: 1024, wantErr: "version 2.1"},
		{name: "pdf 3.0", data: "%PDF-3.0\n", limit: 1024, wantErr: "version 3.0"},
		{name: "no header", data: "no pdf header here", limit: 1024, wantErr: "header of PDF file was not found"},
		{name: "beyond window", data: strings.Repeat(" ", 20) + "%PDF-1.7", limit: 16, wantErr: "header of PDF file was not found"},
		{name: "empty", data: "", limit: 1024, wantErr: "header of PDF file was not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckHeader([]byte(tt.data), tt.limit)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			assert.True(t, isStructural(err), "got %v", err)
			assert.True(t, errHas(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestFindStartXref(t *testing.T) {
	padding := strings.Repeat("A", 120)
	tests := []struct {
		name    string
		data    string
		want    int64
		wantErr bool
	}{
		{name: "standard", data: "%PDF-1.7\n" + padding + "\nstartxref\n1234\n%%EOF", want: 1234},
		{name: "crlf", data: "%PDF-1.7\r\nstartxref\r\n77\r\n%%EOF\r\n", want: 77},
		{name: "last occurrence wins", data: "%PDF-1.7\nstartxref\n10\n%%EOF\nstartxref\n20\n%%EOF\n", want: 20},
		{name: "same line falls back", data: "%PDF-1.7\nstartxref 42 %%EOF", want: 42},
		{name: "missing", data: "%PDF-1.7\n" + padding + "\n%%EOF", wantErr: true},
		{name: "not followed by integer", data: "%PDF-1.7\n" + padding + "\nstartxref\nnotanumber\n%%EOF", wantErr: true},
		{name: "other keyword", data: "%PDF-1.7\n" + padding + "\nsomethingelse\n123\n%%EOF", wantErr: true},
		{name: "real offset", data: "%PDF-1.7\nstartxref\n1.5\n%%EOF", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindStartXref([]byte(tt.data), 1024)
			if tt.wantErr {
				assert.True(t, isStructural(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// Only the final window is searched.
	data := []byte("startxref\n5\n" + strings.Repeat("A", 100) + "%%EOF")
	_, err := FindStartXref(data, 64)
	assert.Error(t, err)
}

func TestFindLastLine(t *testing.T) {
	tests := []struct {
		buf  string
		want int
	}{
		{"startxref\n", 0},
		{"xx startxref \r\n", 3},
		{"startxref\nstartxref\n", 10},
		{"startxref\nstartxref", 0},
		{"startxref 12", -1},
		{"nothing", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, findLastLine([]byte(tt.buf), "startxref"), "%q", tt.buf)
	}
}

// manyObjectsPDF builds n objects. Every tenth object is a stream whose
// Length is stored in the object after it.
func manyObjectsPDF(n int) []byte {
	b := newPDFBuilder("1.7")
	b.object(1, 0, "<< /Type /Catalog >>")
	for i := 2; i <= n; i++ {
		switch {
		case i%10 == 0 && i < n:
			payload := fmt.Sprintf("payload of object %d", i)
			b.object(uint32(i), 0, fmt.Sprintf("<< /Length %d 0 R >>\nstream\n%s\nendstream", i+1, payload))
		case i%10 == 1 && i > 10:
			b.object(uint32(i), 0, fmt.Sprintf("%d", len(fmt.Sprintf("payload of object %d", i-1))))
		default:
			b.object(uint32(i), 0, fmt.Sprintf("<< /N %d /S (object %d) /Next %d 0 R /A [%d 1.5 /X] >>", i, i, i+1, i))
		}
	}
	b.xrefTable("/Root 1 0 R")
	return b.bytes()
}

func TestLoad_WorkerCountDoesNotChangeResult(t *testing.T) {
	const n = 1200
	data := manyObjectsPDF(n)

	one, err := Load(data, WithWorkers(1))
	require.NoError(t, err)
	eight, err := Load(data, WithWorkers(8))
	require.NoError(t, err)

	require.Equal(t, n+1, one.Size())
	require.Equal(t, one.Size(), eight.Size())
	for i := 0; i < one.Size(); i++ {
		a, okA := one.Lookup(i)
		b, okB := eight.Lookup(i)
		require.Equal(t, okA, okB, "object %d", i)
		assert.Equal(t, a.String(), b.String(), "object %d", i)
	}

	s := eight.Object(ObjectRef{Num: 500, Gen: 0})
	require.Equal(t, Stream, s.Kind())
	got, err := s.Data()
	require.NoError(t, err)
	assert.Equal(t, "payload of object 500", string(got))
	assert.Equal(t, "object 7", eight.Object(ObjectRef{7, 0}).Key("S").Text())
	assert.Equal(t, int64(8), eight.Object(ObjectRef{7, 0}).Key("Next").Key("N").Int64())
}

func TestLoad_ObjectHeaderMismatch(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, 0, "<< /Type /Catalog >>")
	at := b.offset()
	b.raw("9 0 obj\n(wrong)\nendobj\n")
	b.entry(xrefRow{num: 5, typ: 1, f2: at})
	b.xrefTable("/Root 1 0 R")

	doc, err := Load(b.bytes())
	assert.Nil(t, doc)
	var oerr *ObjectError
	require.True(t, errors.As(err, &oerr), "got %v", err)
	assert.Equal(t, ObjectRef{5, 0}, oerr.Ref)
	assert.Equal(t, at, oerr.Offset)
	assert.Contains(t, err.Error(), "found object 9 0")
}

func TestLoad_ObjectStreams(t *testing.T) {
	b := newPDFBuilder("1.5")
	b.object(1, 0, "<< /Type /Catalog >>")
	b.object(2, 0, "(outside)")
	rows := b.objectStream(4, []uint32{5, 6}, []string{"(five)", "<< /Six 6 /Cat 1 0 R /Sib 5 0 R >>"})
	b.xrefStream(3, "/Root 1 0 R", rows...)

	doc, err := Load(b.bytes())
	require.NoError(t, err)
	assert.Equal(t, "five", doc.Object(ObjectRef{5, 0}).RawString())
	six := doc.Object(ObjectRef{6, 0})
	assert.Equal(t, int64(6), six.Key("Six").Int64())
	assert.Equal(t, "Catalog", six.Key("Cat").Key("Type").Name())
	assert.Equal(t, "five", six.Key("Sib").RawString())
	assert.True(t, doc.objects[5].inStream)
	assert.False(t, doc.objects[2].inStream)
	assert.Equal(t, Stream, doc.Object(ObjectRef{4, 0}).Kind())
}

func TestLoad_ObjectStreamErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *pdfBuilder) []xrefRow
		msg   string
	}{
		{
			name: "container is a dictionary",
			build: func(b *pdfBuilder) []xrefRow {
				b.object(4, 0, "<< /Type /ObjStm /N 1 /First 4 >>")
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "container is not a stream",
		},
		{
			name: "container missing",
			build: func(b *pdfBuilder) []xrefRow {
				return []xrefRow{{num: 5, typ: 2, f2: 40}}
			},
			msg: "container is not a stream",
		},
		{
			name: "wrong type",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /XObject /N 1 /First 4", []byte("5 0 (x)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "type is not ObjStm",
		},
		{
			name: "N not an integer",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N (one) /First 4", []byte("5 0 (x)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "must be integers",
		},
		{
			name: "negative First",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 1 /First -4", []byte("5 0 (x)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "must not be negative",
		},
		{
			name: "undeclared object",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 2 /First 8", []byte("5 0 7 4 (x) (y)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "object 7 is not declared",
		},
		{
			name: "truncated index",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 3 /First 4", []byte("5 0 (x)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "cannot read object index",
		},
		{
			name: "index not integers",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 1 /First 6", []byte("/A /B (x)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "not a pair of integers",
		},
		{
			name: "negative object offset",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 1 /First 7", []byte("5 -100 (five)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "object 5 offset -100 outside the stream",
		},
		{
			name: "object offset past the data",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 1 /First 5", []byte("5 99 (five)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "outside the stream",
		},
		{
			name: "huge object offset",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 1 /First 22", []byte("5 9223372036854775807 (five)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "outside the stream",
		},
		{
			name: "First past the data",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 1 /First 400", []byte("5 0 (five)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "outside the stream",
		},
		{
			name: "pairs in another order than declared",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 2 /First 8", []byte("5 0 6 4 (a) (b)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4, f3: 1}, {num: 6, typ: 2, f2: 4, f3: 0}}
			},
			msg: "object 5 is at index 0, declared at 1",
		},
		{
			name: "undecodable",
			build: func(b *pdfBuilder) []xrefRow {
				b.stream(4, 0, "/Type /ObjStm /N 1 /First 4 /Filter /LZWDecode", []byte("5 0 (x)"))
				return []xrefRow{{num: 5, typ: 2, f2: 4}}
			},
			msg: "cannot decode stream",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newPDFBuilder("1.5")
			b.object(1, 0, "<< /Type /Catalog >>")
			rows := tt.build(b)
			b.xrefStream(3, "/Root 1 0 R", rows...)

			doc, err := Load(b.bytes())
			assert.Nil(t, doc)
			var serr *ObjectStreamError
			require.True(t, errors.As(err, &serr), "got %v", err)
			assert.Contains(t, serr.Msg, tt.msg)
		})
	}
}

func TestLoad_IncrementalUpdate(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, 0, "<< /Type /Catalog /V (v1) >>")
	b.object(2, 0, "(deleted later)")
	b.xrefTable("/Root 1 0 R")
	b.object(1, 0, "<< /Type /Catalog /V (v2) >>")
	b.free(2, 1)
	b.object(3, 0, "(added)")
	b.xrefTable("/Root 1 0 R")

	doc, err := Load(b.bytes())
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Trailer().Key("Root").Key("V").Text())
	assert.True(t, doc.Object(ObjectRef{2, 0}).IsNull())
	_, ok := doc.Lookup(2)
	assert.False(t, ok)
	assert.Equal(t, "added", doc.Object(ObjectRef{3, 0}).Text())
}

func TestDocument_Lookup(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, 0, "<< /Type /Catalog /Other 2 0 R >>")
	b.object(2, 3, "(gen three)")
	b.xrefTable("/Root 1 0 R")

	doc, err := Load(b.bytes())
	require.NoError(t, err)

	assert.True(t, doc.Object(ObjectRef{2, 0}).IsNull(), "generation must match")
	assert.True(t, doc.Trailer().Key("Root").Key("Other").IsNull())
	assert.Equal(t, "gen three", doc.Object(ObjectRef{2, 3}).RawString())

	v, ok := doc.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, ObjectRef{2, 3}, v.Ref())

	for _, num := range []int{-1, 0, 99} {
		_, ok := doc.Lookup(num)
		assert.False(t, ok, "object %d", num)
	}
}

func TestLoad_EndstreamFallbackForObjectStreamLength(t *testing.T) {
	b := newPDFBuilder("1.5")
	b.object(1, 0, "<< /Type /Catalog >>")
	b.object(2, 0, "<< /Length 6 0 R >>\nstream\nsixteen bytes ok\nendstream")
	rows := b.objectStream(4, []uint32{6}, []string{"16"})
	b.xrefStream(3, "/Root 1 0 R", rows...)

	doc, err := Load(b.bytes())
	require.NoError(t, err)
	got, err := doc.Object(ObjectRef{2, 0}).Data()
	require.NoError(t, err)
	assert.Equal(t, "sixteen bytes ok", string(got))
	assert.Equal(t, int64(16), doc.Object(ObjectRef{6, 0}).Int64())
}

func TestLoad_LengthCycle(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, 0, "<< /Length 1 0 R >>\nstream\nabc\nendstream")
	b.xrefTable("/Root 1 0 R")

	_, err := Load(b.bytes())
	assert.True(t, errors.Is(err, ErrReferenceCycle), "got %v", err)
}

func TestLoad_XRefCycle(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, 0, "<< /Type /Catalog >>")
	b.xrefTable("/Root 1 0 R")
	b.object(2, 0, "(two)")
	// The next section names itself as its predecessor.
	b.lastXRef = b.offset()
	b.xrefTable("/Root 1 0 R")

	_, err := Load(b.bytes())
	assert.True(t, errors.Is(err, ErrXRefCycle), "got %v", err)
}

func TestLoad_XRefStmOutsideFile(t *testing.T) {
	b := newPDFBuilder("1.7")
	b.object(1, 0, "<< /Type /Catalog >>")
	b.xrefTable("/Root 1 0 R /XRefStm 999999")

	_, err := Load(b.bytes())
	var xerr *XRefError
	require.True(t, errors.As(err, &xerr), "got %v", err)
	assert.Contains(t, xerr.Msg, "outside the file")
}

// encryptedPDF builds a document protected by enc. seal encrypts the
// strings and streams of object ref.
func encryptedPDF(encDict string, id []byte, seal func(ref ObjectRef, data []byte) []byte) []byte {
	b := newPDFBuilder("1.6")
	b.object(1, 0, "<< /Type /Catalog /Metadata 4 0 R >>")
	b.object(2, 0, fmt.Sprintf("<< /Title %s /Author %s >>",
		hexString(seal(ObjectRef{2, 0}, []byte("Secret Title"))),
		hexString(seal(ObjectRef{2, 0}, []byte("A. Writer")))))
	b.stream(3, 0, "/Filter /FlateDecode", seal(ObjectRef{3, 0}, deflate([]byte("stream text"))))
	b.stream(4, 0, "/Type /Metadata /Subtype /XML", seal(ObjectRef{4, 0}, []byte(sampleXMP)))
	b.object(9, 0, encDict)
	b.xrefTable(fmt.Sprintf("/Root 1 0 R /Info 2 0 R /Encrypt 9 0 R /ID [%s %s]", hexString(id), hexString(id)))
	return b.bytes()
}

func assertDecrypted(t *testing.T, doc *Document) {
	t.Helper()
	assert.Equal(t, StandardEncryption, doc.Security().Mode())
	info := doc.Trailer().Key("Info")
	assert.Equal(t, "Secret Title", info.Key("Title").Text())
	assert.Equal(t, "A. Writer", info.Key("Author").Text())
	got, err := doc.Object(ObjectRef{3, 0}).Data()
	require.NoError(t, err)
	assert.Equal(t, "stream text", string(got))
}

func TestLoad_EncryptedRC4(t *testing.T) {
	le := newLegacyEncryption(t, 3, 128, "", "owner", -44, testID)
	data := encryptedPDF(le.dictBody(2, ""), testID, le.encryptRC4)

	doc, err := Load(data)
	require.NoError(t, err)
	assertDecrypted(t, doc)
	assert.Equal(t, UserAuthorized, doc.Security().Result().Outcome)
	assert.Equal(t, Permissions(0xFFFFFFD4), doc.Security().Permissions())
	assert.Equal(t, string(le.desc.O), doc.Object(ObjectRef{9, 0}).Key("O").RawString(), "the Encrypt dictionary is not encrypted")

	doc, err = Load(data, WithPassword("owner"))
	require.NoError(t, err)
	assert.Equal(t, UserAuthorized, doc.Security().Result().Outcome, "the empty password is tried first")
}

func TestLoad_EncryptedWithUserPassword(t *testing.T) {
	le := newLegacyEncryption(t, 3, 128, "user", "owner", -4, testID)
	data := encryptedPDF(le.dictBody(2, ""), testID, le.encryptRC4)

	doc, err := Load(data)
	assert.Nil(t, doc)
	var aerr *AuthenticationError
	require.True(t, errors.As(err, &aerr), "got %v", err)
	assert.True(t, errors.Is(err, ErrAuthCancelled))

	_, err = Load(data, WithPasswordProvider(StaticPasswords("a", "b")))
	assert.True(t, errors.Is(err, ErrAuthCancelled))

	doc, err = Load(data, WithPassword("user"))
	require.NoError(t, err)
	assertDecrypted(t, doc)
	assert.Equal(t, UserAuthorized, doc.Security().Result().Outcome)

	doc, err = Load(data, WithPassword("owner"))
	require.NoError(t, err)
	assertDecrypted(t, doc)
	assert.Equal(t, OwnerAuthorized, doc.Security().Result().Outcome)
}

func TestLoad_EncryptedAESV2WithObjectStream(t *testing.T) {
	le := newLegacyEncryption(t, 4, 128, "", "owner", -4, testID)
	encDict := le.dictBody(4, "/CF << /StdCF << /CFM /AESV2 /AuthEvent /DocOpen /Length 16 >> >> /StmF /StdCF /StrF /StdCF")

	b := newPDFBuilder("1.6")
	b.object(1, 0, "<< /Type /Catalog >>")
	b.object(2, 0, fmt.Sprintf("<< /Title %s >>", hexString(le.encryptAESV2(ObjectRef{2, 0}, []byte("AES Title")))))
	b.object(9, 0, encDict)
	rows := b.sealedObjectStream(4, []uint32{5}, []string{"<< /Plain (not sealed) >>"}, func(data []byte) []byte {
		return le.encryptAESV2(ObjectRef{4, 0}, data)
	})
	b.xrefStream(3, fmt.Sprintf("/Root 1 0 R /Info 2 0 R /Encrypt 9 0 R /ID [%s %s]", hexString(testID), hexString(testID)), rows...)

	doc, err := Load(b.bytes())
	require.NoError(t, err)
	assert.Equal(t, "AES Title", doc.Trailer().Key("Info").Key("Title").Text())
	assert.Equal(t, "not sealed", doc.Object(ObjectRef{5, 0}).Key("Plain").Text(), "strings inside object streams are not encrypted")
}

func TestLoad_EncryptedR6(t *testing.T) {
	e := newR6Encryption("", "owner", -4)
	encDict := fmt.Sprintf("<< /Filter /Standard /V 5 /R 6 /Length 256 /O %s /U %s /OE %s /UE %s /Perms %s /P -4 "+
		"/CF << /StdCF << /CFM /AESV3 >> >> /StmF /StdCF /StrF /StdCF >>",
		hexString(e.O), hexString(e.U), hexString(e.OE), hexString(e.UE), hexString(e.Perms))
	seal := func(_ ObjectRef, data []byte) []byte { return encryptAES(e.key, data) }

	doc, err := Load(encryptedPDF(encDict, testID, seal))
	require.NoError(t, err)
	assertDecrypted(t, doc)
	assert.Equal(t, e.key, doc.Security().Result().Key)
	assert.Equal(t, UserAuthorized, doc.Security().Result().Outcome)
}

func TestLoad_EncryptionErrors(t *testing.T) {
	le := newLegacyEncryption(t, 3, 128, "", "owner", -4, testID)
	tests := []struct {
		name    string
		trailer string
		objects map[uint32]string
	}{
		{name: "unknown handler", trailer: "/Encrypt 9 0 R", objects: map[uint32]string{9: "<< /Filter /Custom /V 1 >>"}},
		{name: "unresolved reference", trailer: "/Encrypt 50 0 R"},
		{name: "generation mismatch", trailer: "/Encrypt 9 1 R", objects: map[uint32]string{9: le.dictBody(2, "")}},
		{name: "direct dictionary with bad O", trailer: "/Encrypt << /Filter /Standard /V 2 /R 3 /O (short) /U (short) /P -4 >>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newPDFBuilder("1.7")
			b.object(1, 0, "<< /Type /Catalog >>")
			for num, body := range tt.objects {
				b.object(num, 0, body)
			}
			b.xrefTable("/Root 1 0 R " + tt.trailer)

			_, err := Load(b.bytes())
			var derr *EncryptionDescriptorError
			assert.True(t, errors.As(err, &derr), "got %v", err)
		})
	}
}

func TestLoadContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc, err := LoadContext(ctx, minimalPDF())
	assert.Nil(t, doc)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_InvalidOptions(t *testing.T) {
	_, err := Load(minimalPDF(), WithWorkers(100))
	assert.Error(t, err)

	cfg := NewDefaultConfig()
	cfg.FooterScanLimit = 1
	_, err = Load(minimalPDF(), WithConfig(cfg))
	assert.Error(t, err)
}

type countingDecoder struct {
	calls atomic.Int32
}

func (c *countingDecoder) Decode(hdr Value, data []byte) ([]byte, error) {
	c.calls.Add(1)
	return StandardFilters{}.Decode(hdr, data)
}

func TestLoad_CustomFilterDecoder(t *testing.T) {
	b := newPDFBuilder("1.5")
	b.object(1, 0, "<< /Type /Catalog >>")
	rows := b.objectStream(4, []uint32{5}, []string{"(five)"})
	b.xrefStream(3, "/Root 1 0 R", rows...)

	dec := &countingDecoder{}
	doc, err := Load(b.bytes(), WithFilterDecoder(dec))
	require.NoError(t, err)
	assert.Equal(t, "five", doc.Object(ObjectRef{5, 0}).RawString())
	assert.Equal(t, int32(2), dec.calls.Load(), "xref stream and object stream")
}

func TestFanOut(t *testing.T) {
	var ran atomic.Int32
	err := fanOut(100, 4, func(i int) error {
		ran.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(100), ran.Load())

	boom := errors.New("boom")
	ran.Store(0)
	err = fanOut(50, 1, func(i int) error {
		ran.Add(1)
		if i == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(4), ran.Load(), "tasks after the failure are skipped")

	assert.NoError(t, fanOut(0, 4, func(int) error { return boom }))
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "1.4", Version{1, 4}.String())
	assert.True(t, Version{2, 0}.valid())
	assert.False(t, Version{0, 9}.valid())
}
