// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
)

// passwordPadding is the fixed 32-byte string from ISO 32000-1 §7.6.3.3.
var passwordPadding = [32]byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pw []byte) [32]byte {
	var out [32]byte
	n := copy(out[:], pw)
	copy(out[n:], passwordPadding[:])
	return out
}

var errKeyLength = errors.New("encryption key length exceeds 128 bits")

func (d *EncryptionDescriptor) keyBytes() (int, error) {
	n := d.KeyLength / 8
	if n > md5.Size {
		return 0, fmt.Errorf("%w: %d bytes", errKeyLength, n)
	}
	return n, nil
}

// fileKey derives the file encryption key from a user password for
// revisions 2 to 4.
func (d *EncryptionDescriptor) fileKey(pw []byte) ([]byte, error) {
	n, err := d.keyBytes()
	if err != nil {
		return nil, err
	}
	padded := padPassword(pw)
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], d.P)

	h := md5.New()
	h.Write(padded[:])
	h.Write(d.O)
	h.Write(p[:])
	h.Write(d.ID)
	if !d.EncryptMetadata {
		h.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	key := h.Sum(nil)
	if d.R >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(key[:n])
			key = sum[:]
		}
	}
	return append([]byte(nil), key[:n]...), nil
}

// computeU returns the expected U entry for key. For revisions 3 and 4 only
// the first 16 bytes are computed; the rest is copied from the stored U so
// the whole entry can be compared.
func (d *EncryptionDescriptor) computeU(key []byte) []byte {
	if d.R == 2 {
		return rc4Crypt(key, passwordPadding[:])
	}
	h := md5.New()
	h.Write(passwordPadding[:])
	h.Write(d.ID)
	out := rc4Crypt(key, h.Sum(nil))
	tmp := make([]byte, len(key))
	for i := byte(1); i <= 19; i++ {
		for j := range key {
			tmp[j] = key[j] ^ i
		}
		out = rc4Crypt(tmp, out)
	}
	u := append([]byte(nil), d.U...)
	copy(u, out)
	return u
}

// userPasswordFromOwner inverts the O entry encoding to recover the user
// password implied by an owner password.
func (d *EncryptionDescriptor) userPasswordFromOwner(ownerPw []byte) ([]byte, error) {
	n, err := d.keyBytes()
	if err != nil {
		return nil, err
	}
	padded := padPassword(ownerPw)
	sum := md5.Sum(padded[:])
	hash := sum[:]
	if d.R >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(hash[:n])
			hash = s[:]
		}
	}
	key := hash[:n]
	if d.R == 2 {
		return rc4Crypt(key, d.O), nil
	}
	buf := append([]byte(nil), d.O...)
	tmp := make([]byte, n)
	for i := 19; i >= 0; i-- {
		for j := range tmp {
			tmp[j] = key[j] ^ byte(i)
		}
		buf = rc4Crypt(tmp, buf)
	}
	return buf, nil
}

// hashR6 is the revision 6 hash of ISO 32000-2 §7.6.4.3.4. u is appended to
// each round's input only in owner context.
func hashR6(input, pw, u []byte, owner bool) []byte {
	sum := sha256.Sum256(input)
	k := sum[:]
	if !owner {
		u = nil
	}
	var e []byte
	for round := 0; round < 64 || round < int(e[len(e)-1])+32; round++ {
		seq := make([]byte, 0, len(pw)+len(k)+len(u))
		seq = append(seq, pw...)
		seq = append(seq, k...)
		seq = append(seq, u...)
		k1 := bytes.Repeat(seq, 64)

		block, _ := aes.NewCipher(k[:16])
		e = make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		switch mod3(e[:16]) {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		case 2:
			s := sha512.Sum512(e)
			k = s[:]
		}
	}
	return append([]byte(nil), k[:32]...)
}

// mod3 returns the big-endian integer formed by b modulo 3. Bit n of a
// number contributes 2^n mod 3, which alternates 1, 2, 1, 2 from the low
// bit, and every byte spans an even number of bits.
func mod3(b []byte) int {
	acc := 0
	for _, c := range b {
		w := 1
		for i := 0; i < 8; i++ {
			if c>>i&1 == 1 {
				acc += w
			}
			w = 3 - w
		}
	}
	return acc % 3
}

func rc4Crypt(key, data []byte) []byte {
	c, err := rc4.NewCipher(key)
	if err != nil {
		// rc4 only rejects keys outside 1..256 bytes.
		return append([]byte(nil), data...)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

// aesDecryptNoPad decrypts whole blocks in CBC mode with the given IV.
func aesDecryptNoPad(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// aesDecrypt decrypts data laid out as a 16-byte IV followed by CBC
// ciphertext with PKCS#7 padding.
func aesDecrypt(key, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("AES data length %d is invalid", len(data))
	}
	out, err := aesDecryptNoPad(key, data[:aes.BlockSize], data[aes.BlockSize:])
	if err != nil {
		return nil, err
	}
	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, fmt.Errorf("invalid AES padding")
	}
	return out[:len(out)-pad], nil
}

// objectKey derives the per-object key of ISO 32000-1 §7.6.2, algorithm 1.
func objectKey(fileKey []byte, ref ObjectRef, aesSalt bool) []byte {
	h := md5.New()
	h.Write(fileKey)
	h.Write([]byte{byte(ref.Num), byte(ref.Num >> 8), byte(ref.Num >> 16), byte(ref.Gen), byte(ref.Gen >> 8)})
	if aesSalt {
		h.Write([]byte("sAlT"))
	}
	n := min(len(fileKey)+5, 16)
	return h.Sum(nil)[:n]
}

// validPerms decrypts the revision 6 Perms entry and checks its marker.
func validPerms(fileKey, perms []byte, p uint32) bool {
	block, err := aes.NewCipher(fileKey)
	if err != nil || len(perms) != aes.BlockSize {
		return false
	}
	out := make([]byte, aes.BlockSize)
	block.Decrypt(out, perms)
	return string(out[9:12]) == "adb" && binary.LittleEndian.Uint32(out[0:4]) == p
}
