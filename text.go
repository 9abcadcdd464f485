// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// decodeTextString converts a PDF text string to UTF-8. Strings starting
// with a UTF-16BE or UTF-8 byte order mark use that encoding; everything
// else is PDFDocEncoding.
func decodeTextString(s string) string {
	switch {
	case strings.HasPrefix(s, "\xfe\xff"):
		return utf16Decode(s)
	case strings.HasPrefix(s, "\xef\xbb\xbf"):
		return strings.ToValidUTF8(s[3:], "�")
	}
	return pdfDocDecode(s)
}

func utf16Decode(s string) string {
	dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	out, err := dec.String(s)
	if err != nil {
		return ""
	}
	return out
}

func pdfDocDecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 0x18 && c <= 0x1f:
			b.WriteRune(pdfDocLow[c-0x18])
		case c >= 0x80 && c <= 0xa0:
			b.WriteRune(pdfDocHigh[c-0x80])
		case c == 0xad:
			b.WriteRune(utf8.RuneError)
		default:
			b.WriteRune(rune(c))
		}
	}
	return b.String()
}

var pdfDocLow = [8]rune{
	0x02d8, 0x02c7, 0x02c6, 0x02d9, 0x02dd, 0x02db, 0x02da, 0x02dc,
}

var pdfDocHigh = [33]rune{
	0x2022, 0x2020, 0x2021, 0x2026, 0x2014, 0x2013, 0x0192, 0x2044,
	0x2039, 0x203a, 0x2212, 0x2030, 0x201e, 0x201c, 0x201d, 0x2018,
	0x2019, 0x201a, 0x2122, 0xfb01, 0xfb02, 0x0141, 0x0152, 0x0160,
	0x0178, 0x017d, 0x0131, 0x0142, 0x0153, 0x0161, 0x017e, utf8.RuneError,
	0x20ac,
}
