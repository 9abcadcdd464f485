// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"testing"
)

// pdfBuilder assembles synthetic PDF files for tests. Objects written since
// the last cross-reference section go into the next one, so incremental
// updates are built by writing more objects and another section.
type pdfBuilder struct {
	buf      bytes.Buffer
	pending  []xrefRow
	size     uint32
	lastXRef int64
	sections int
}

// xrefRow is one cross-reference entry. typ is 0 (free), 1 (offset f2,
// generation f3) or 2 (container f2, index f3).
type xrefRow struct {
	num uint32
	typ byte
	f2  int64
	f3  int64
}

func newPDFBuilder(version string) *pdfBuilder {
	b := &pdfBuilder{lastXRef: -1, size: 1}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
	return b
}

func (b *pdfBuilder) offset() int64 { return int64(b.buf.Len()) }

func (b *pdfBuilder) note(num uint32) {
	if num+1 > b.size {
		b.size = num + 1
	}
}

// object writes "num gen obj body endobj".
func (b *pdfBuilder) object(num uint32, gen uint16, body string) *pdfBuilder {
	b.note(num)
	b.pending = append(b.pending, xrefRow{num: num, typ: 1, f2: b.offset(), f3: int64(gen)})
	fmt.Fprintf(&b.buf, "%d %d obj\n%s\nendobj\n", num, gen, body)
	return b
}

// stream writes a stream object. dictBody is the dictionary content
// without /Length, which is added as a direct integer.
func (b *pdfBuilder) stream(num uint32, gen uint16, dictBody string, data []byte) *pdfBuilder {
	b.note(num)
	b.pending = append(b.pending, xrefRow{num: num, typ: 1, f2: b.offset(), f3: int64(gen)})
	fmt.Fprintf(&b.buf, "%d %d obj\n<< %s /Length %d >>\nstream\n", num, gen, dictBody, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	return b
}

// raw appends bytes without recording an object.
func (b *pdfBuilder) raw(s string) *pdfBuilder {
	b.buf.WriteString(s)
	return b
}

// free records a free entry in the next section.
func (b *pdfBuilder) free(num uint32, gen uint16) *pdfBuilder {
	b.note(num)
	b.pending = append(b.pending, xrefRow{num: num, typ: 0, f3: int64(gen)})
	return b
}

func (b *pdfBuilder) takePending() []xrefRow {
	rows := b.pending
	b.pending = nil
	if b.sections == 0 {
		rows = append(rows, xrefRow{num: 0, typ: 0, f3: 65535})
	}
	b.sections++
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].num < rows[j].num })
	return rows
}

func (b *pdfBuilder) trailerExtras(extra string) string {
	s := fmt.Sprintf("/Size %d", b.size)
	if b.lastXRef >= 0 {
		s += fmt.Sprintf(" /Prev %d", b.lastXRef)
	}
	if extra != "" {
		s += " " + extra
	}
	return s
}

func (b *pdfBuilder) footer(start int64) {
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", start)
	b.lastXRef = start
}

// xrefTable writes a classic section for the pending objects and its
// trailer. trailer holds extra trailer entries; /Size and /Prev are added.
func (b *pdfBuilder) xrefTable(trailer string) int64 {
	rows := b.takePending()
	start := b.offset()
	b.buf.WriteString("xref\n")
	for _, r := range rows {
		flag, off := 'n', r.f2
		if r.typ == 0 {
			flag, off = 'f', 0
		}
		fmt.Fprintf(&b.buf, "%d 1\n%010d %05d %c \n", r.num, off, r.f3, flag)
	}
	fmt.Fprintf(&b.buf, "trailer\n<< %s >>\n", b.trailerExtras(trailer))
	b.footer(start)
	return start
}

// xrefStream writes a cross-reference stream object num covering the
// pending objects, itself and the extra rows.
func (b *pdfBuilder) xrefStream(num uint32, trailer string, extra ...xrefRow) int64 {
	b.note(num)
	for _, r := range extra {
		b.note(r.num)
	}
	start := b.offset()
	rows := append(b.takePending(), extra...)
	rows = append(rows, xrefRow{num: num, typ: 1, f2: start})
	b.buf.WriteString(xrefStreamObject(num, rows, b.trailerExtras(trailer)))
	b.footer(start)
	return start
}

// xrefStreamObject encodes rows as a complete cross-reference stream object
// with one Index pair per row. dictExtra must carry /Size.
func xrefStreamObject(num uint32, rows []xrefRow, dictExtra string) string {
	rows = append([]xrefRow(nil), rows...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].num < rows[j].num })

	var data bytes.Buffer
	var index []string
	for _, r := range rows {
		data.Write([]byte{r.typ, byte(r.f2 >> 24), byte(r.f2 >> 16), byte(r.f2 >> 8), byte(r.f2), byte(r.f3 >> 8), byte(r.f3)})
		index = append(index, fmt.Sprintf("%d 1", r.num))
	}
	body := deflate(data.Bytes())
	return fmt.Sprintf("%d 0 obj\n<< /Type /XRef /W [1 4 2] /Index [%s] /Filter /FlateDecode %s /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		num, strings.Join(index, " "), dictExtra, len(body), body)
}

// entry records a row in the next section without writing an object.
func (b *pdfBuilder) entry(r xrefRow) *pdfBuilder {
	b.note(r.num)
	b.pending = append(b.pending, r)
	return b
}

// objectStream writes an ObjStm container holding bodies in order and
// returns the rows declaring them.
func (b *pdfBuilder) objectStream(num uint32, nums []uint32, bodies []string) []xrefRow {
	return b.sealedObjectStream(num, nums, bodies, nil)
}

// sealedObjectStream is objectStream with seal applied to the compressed
// payload, typically to encrypt it.
func (b *pdfBuilder) sealedObjectStream(num uint32, nums []uint32, bodies []string, seal func([]byte) []byte) []xrefRow {
	var head, payload bytes.Buffer
	var rows []xrefRow
	for i, n := range nums {
		fmt.Fprintf(&head, "%d %d ", n, payload.Len())
		payload.WriteString(bodies[i])
		payload.WriteString("\n")
		rows = append(rows, xrefRow{num: n, typ: 2, f2: int64(num), f3: int64(i)})
		b.note(n)
	}
	data := deflate(append(head.Bytes(), payload.Bytes()...))
	if seal != nil {
		data = seal(data)
	}
	b.stream(num, 0, fmt.Sprintf("/Type /ObjStm /N %d /First %d /Filter /FlateDecode", len(nums), head.Len()), data)
	return rows
}

func (b *pdfBuilder) bytes() []byte { return append([]byte(nil), b.buf.Bytes()...) }

func deflate(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func hexString(b []byte) string { return "<" + hex.EncodeToString(b) + ">" }

// minimalPDF is a two-object document with a classic table.
func minimalPDF() []byte {
	b := newPDFBuilder("1.7")
	b.object(1, 0, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, 0, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.xrefTable("/Root 1 0 R")
	return b.bytes()
}

// legacyEncryption produces the O, U and file key of the Standard handler
// for revisions 2 to 4.
type legacyEncryption struct {
	desc *EncryptionDescriptor
	key  []byte
}

func newLegacyEncryption(t *testing.T, r, keyBits int, userPw, ownerPw string, p int32, id []byte) legacyEncryption {
	t.Helper()
	d := &EncryptionDescriptor{R: r, KeyLength: keyBits, P: uint32(p), ID: id, EncryptMetadata: true}
	n := keyBits / 8

	// Owner entry: RC4 of the padded user password under a key derived
	// from the owner password.
	op := padPassword([]byte(ownerPw))
	sum := md5.Sum(op[:])
	hash := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(hash[:n])
			hash = s[:]
		}
	}
	okey := hash[:n]
	up := padPassword([]byte(userPw))
	o := rc4Crypt(okey, up[:])
	if r >= 3 {
		tmp := make([]byte, n)
		for i := 1; i <= 19; i++ {
			for j := range tmp {
				tmp[j] = okey[j] ^ byte(i)
			}
			o = rc4Crypt(tmp, o)
		}
	}
	d.O = o

	key, err := d.fileKey([]byte(userPw))
	if err != nil {
		t.Fatalf("file key: %v", err)
	}
	d.U = make([]byte, 32)
	d.U = d.computeU(key)
	return legacyEncryption{desc: d, key: key}
}

// encryptRC4 encrypts data for object ref.
func (e legacyEncryption) encryptRC4(ref ObjectRef, data []byte) []byte {
	return rc4Crypt(objectKey(e.key, ref, false), data)
}

// encryptAESV2 encrypts data for object ref with the AESV2 object key.
func (e legacyEncryption) encryptAESV2(ref ObjectRef, data []byte) []byte {
	return encryptAES(objectKey(e.key, ref, true), data)
}

// dictBody renders the Encrypt dictionary for version v; extra is appended
// inside the dictionary.
func (e legacyEncryption) dictBody(v int, extra string) string {
	return fmt.Sprintf("<< /Filter /Standard /V %d /R %d /Length %d /O %s /U %s /P %d %s >>",
		v, e.desc.R, e.desc.KeyLength, hexString(e.desc.O), hexString(e.desc.U), int32(e.desc.P), extra)
}

// encryptAES encrypts data with a fixed IV, padding per PKCS#7.
func encryptAES(key, data []byte) []byte {
	block, _ := aes.NewCipher(key)
	pad := aes.BlockSize - len(data)%aes.BlockSize
	plain := append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	iv := []byte("0123456789abcdef")
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return append(iv, out...)
}

func encryptAESNoPad(key, data []byte) []byte {
	block, _ := aes.NewCipher(key)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, data)
	return out
}

// r6Encryption builds the revision 6 entries for a known file key.
type r6Encryption struct {
	O, U, OE, UE, Perms []byte
	key                 []byte
}

func newR6Encryption(userPw, ownerPw string, p int32) r6Encryption {
	key := bytes.Repeat([]byte{0x5a}, 32)
	uValSalt, uKeySalt := []byte("uvsaltAA"), []byte("uksaltBB")
	oValSalt, oKeySalt := []byte("ovsaltCC"), []byte("oksaltDD")
	upw, opw := []byte(userPw), []byte(ownerPw)

	u := append(hashR6(concat(upw, uValSalt), upw, nil, false), append(uValSalt, uKeySalt...)...)
	ue := encryptAESNoPad(hashR6(concat(upw, uKeySalt), upw, nil, false), key)
	o := append(hashR6(concat(opw, oValSalt, u), opw, u, true), append(oValSalt, oKeySalt...)...)
	oe := encryptAESNoPad(hashR6(concat(opw, oKeySalt, u), opw, u, true), key)

	perms := make([]byte, 16)
	pp := uint32(p)
	perms[0], perms[1], perms[2], perms[3] = byte(pp), byte(pp>>8), byte(pp>>16), byte(pp>>24)
	perms[4], perms[5], perms[6], perms[7] = 0xff, 0xff, 0xff, 0xff
	copy(perms[8:], "Tadb")
	block, _ := aes.NewCipher(key)
	enc := make([]byte, 16)
	block.Encrypt(enc, perms)

	return r6Encryption{O: o, U: u, OE: oe, UE: ue, Perms: enc, key: key}
}
