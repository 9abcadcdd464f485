// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/sassoftware/viya-pdf-ingest/logger"
)

// FilterDecoder turns the encoded payload of a stream into its decoded
// bytes. hdr is the stream's dictionary.
type FilterDecoder interface {
	Decode(hdr Value, data []byte) ([]byte, error)
}

// StandardFilters decodes FlateDecode (with PNG and TIFF predictors),
// ASCIIHexDecode, ASCII85Decode and RunLengthDecode. Crypt filters are a
// no-op because decryption happens before decoding.
type StandardFilters struct{}

// Decode applies the stream's filter chain in order.
func (StandardFilters) Decode(hdr Value, data []byte) ([]byte, error) {
	filter := hdr.Key("Filter")
	param := hdr.Key("DecodeParms")
	switch filter.Kind() {
	case Null:
		return data, nil
	case Name:
		return applyFilter(data, filter.Name(), param)
	case Array:
		var err error
		for i := 0; i < filter.Len(); i++ {
			p := param
			if param.Kind() == Array {
				p = param.Index(i)
			}
			data, err = applyFilter(data, filter.Index(i).Name(), p)
			if err != nil {
				return nil, err
			}
		}
		return data, nil
	}
	return nil, fmt.Errorf("unsupported filter %v", filter)
}

func applyFilter(data []byte, name string, param Value) ([]byte, error) {
	logger.Debug(fmt.Sprintf("filter: %s (in=%d)", name, len(data)))
	switch name {
	case "FlateDecode", "Fl":
		out, err := inflate(data)
		if err != nil {
			return nil, fmt.Errorf("FlateDecode: %w", err)
		}
		return applyPredictor(out, param)
	case "ASCIIHexDecode", "AHx":
		return asciiHexDecode(data)
	case "ASCII85Decode", "A85":
		return ascii85Decode(data)
	case "RunLengthDecode", "RL":
		return runLengthDecode(data)
	case "Crypt":
		return data, nil
	}
	return nil, fmt.Errorf("unknown filter %s", name)
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	// A truncated tail is common in real files; keep what inflated.
	return out, nil
}

func applyPredictor(data []byte, param Value) ([]byte, error) {
	pred := param.Key("Predictor").Int64()
	if pred <= 1 {
		return data, nil
	}
	columns := intOr(param.Key("Columns"), 1)
	colors := intOr(param.Key("Colors"), 1)
	bpc := intOr(param.Key("BitsPerComponent"), 8)
	bpp := (colors*bpc + 7) / 8
	rowLen := (columns*colors*bpc + 7) / 8
	if rowLen <= 0 || bpp <= 0 {
		return nil, fmt.Errorf("invalid predictor parameters")
	}

	switch {
	case pred == 2:
		if bpc != 8 {
			return nil, fmt.Errorf("TIFF predictor with %d bits per component", bpc)
		}
		out := append([]byte(nil), data...)
		for row := 0; row+rowLen <= len(out); row += rowLen {
			for i := bpp; i < rowLen; i++ {
				out[row+i] += out[row+i-bpp]
			}
		}
		return out, nil
	case pred >= 10 && pred <= 15:
		return pngUnpredict(data, rowLen, bpp)
	}
	return nil, fmt.Errorf("unknown predictor %d", pred)
}

// pngUnpredict reverses PNG row filters. Each encoded row starts with its
// own filter type byte.
func pngUnpredict(data []byte, rowLen, bpp int) ([]byte, error) {
	stride := rowLen + 1
	prev := make([]byte, rowLen)
	out := make([]byte, 0, len(data)/stride*rowLen)
	for off := 0; off+stride <= len(data); off += stride {
		typ := data[off]
		row := append([]byte(nil), data[off+1:off+stride]...)
		for i := range row {
			var left, upLeft byte
			if i >= bpp {
				left = row[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch typ {
			case 0:
			case 1:
				row[i] += left
			case 2:
				row[i] += up
			case 3:
				row[i] += byte((int(left) + int(up)) / 2)
			case 4:
				row[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("malformed PNG predictor row type %d", typ)
			}
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func asciiHexDecode(data []byte) ([]byte, error) {
	clean := make([]byte, 0, len(data))
	for _, c := range data {
		if c == '>' {
			break
		}
		if isWhitespace(c) {
			continue
		}
		clean = append(clean, c)
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out := make([]byte, hex.DecodedLen(len(clean)))
	if _, err := hex.Decode(out, clean); err != nil {
		return nil, fmt.Errorf("ASCIIHexDecode: %w", err)
	}
	return out, nil
}

func ascii85Decode(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(bytes.TrimLeft(data, " \t\r\n\f\x00"), []byte("<~"))
	if i := bytes.Index(data, []byte("~>")); i >= 0 {
		data = data[:i]
	}
	out, err := io.ReadAll(ascii85.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("ASCII85Decode: %w", err)
	}
	return out, nil
}

func runLengthDecode(data []byte) ([]byte, error) {
	var out []byte
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			if i+n+1 > len(data) {
				return nil, fmt.Errorf("RunLengthDecode: truncated literal run")
			}
			out = append(out, data[i:i+n+1]...)
			i += n + 1
		default:
			if i >= len(data) {
				return nil, fmt.Errorf("RunLengthDecode: truncated repeat run")
			}
			out = append(out, bytes.Repeat(data[i:i+1], 257-n)...)
			i++
		}
	}
	return out, nil
}

func intOr(v Value, def int) int {
	if v.Kind() != Integer {
		return def
	}
	return int(v.Int64())
}
