// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"bytes"
	"fmt"

	"github.com/sassoftware/viya-pdf-ingest/logger"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/secure/precis"
)

// EncryptionMode names the security handler protecting a document.
type EncryptionMode int

const (
	NoEncryption EncryptionMode = iota
	StandardEncryption
)

func (m EncryptionMode) String() string {
	if m == StandardEncryption {
		return "standard"
	}
	return "none"
}

// AuthOutcome is the result of running a security handler.
type AuthOutcome int

const (
	OwnerAuthorized AuthOutcome = iota
	UserAuthorized
	Failed
	Cancelled
)

func (o AuthOutcome) String() string {
	switch o {
	case OwnerAuthorized:
		return "owner authorized"
	case UserAuthorized:
		return "user authorized"
	case Cancelled:
		return "cancelled"
	}
	return "failed"
}

// AuthResult carries the outcome and, when authorized, the file key.
type AuthResult struct {
	Outcome AuthOutcome
	Key     []byte
}

// Authorized reports whether the outcome grants access.
func (r AuthResult) Authorized() bool {
	return r.Outcome == OwnerAuthorized || r.Outcome == UserAuthorized
}

// PasswordProvider supplies password candidates. ok false stops the
// authentication loop.
type PasswordProvider interface {
	Password() (pw string, ok bool)
}

// PasswordFunc adapts a function to PasswordProvider.
type PasswordFunc func() (string, bool)

func (f PasswordFunc) Password() (string, bool) { return f() }

// StaticPasswords offers each password once, in order.
func StaticPasswords(pws ...string) PasswordProvider {
	i := 0
	return PasswordFunc(func() (string, bool) {
		if i >= len(pws) {
			return "", false
		}
		i++
		return pws[i-1], true
	})
}

// CryptMethod is the algorithm of a crypt filter.
type CryptMethod int

const (
	CryptIdentity CryptMethod = iota
	CryptNone
	CryptV2
	CryptAESV2
	CryptAESV3
)

func (m CryptMethod) String() string {
	switch m {
	case CryptNone:
		return "None"
	case CryptV2:
		return "V2"
	case CryptAESV2:
		return "AESV2"
	case CryptAESV3:
		return "AESV3"
	}
	return "Identity"
}

// AuthEvent says when a crypt filter demands authorization.
type AuthEvent int

const (
	DocOpen AuthEvent = iota
	EFOpen
)

// CryptFilter is one named entry of the CF table.
type CryptFilter struct {
	Method    CryptMethod
	AuthEvent AuthEvent
}

// EncryptionDescriptor is the validated content of a Standard Encrypt dictionary.
type EncryptionDescriptor struct {
	V, R            int
	KeyLength       int
	O, U            []byte
	OE, UE, Perms   []byte
	P               uint32
	ID              []byte
	EncryptMetadata bool

	Filters            map[string]CryptFilter
	StreamFilter       CryptFilter
	StringFilter       CryptFilter
	EmbeddedFileFilter CryptFilter
}

// SecurityHandler authorizes access to a document and decrypts its strings
// and streams.
type SecurityHandler interface {
	Mode() EncryptionMode
	Authenticate(pp PasswordProvider) AuthResult
	Result() AuthResult
	Permissions() Permissions
	EncryptMetadata() bool
	DecryptString(ref ObjectRef, data []byte) ([]byte, error)
	DecryptStream(ref ObjectRef, hdr Value, data []byte) ([]byte, error)
	DecryptEmbeddedFile(ref ObjectRef, data []byte) ([]byte, error)
}

// Permissions is the P entry of the Encrypt dictionary.
type Permissions uint32

// AllPermissions grants everything; unencrypted documents carry it.
const AllPermissions Permissions = 0xFFFFFFFF

func (p Permissions) bit(n uint) bool { return uint32(p)&(1<<(n-1)) != 0 }

func (p Permissions) CanPrint() bool            { return p.bit(3) }
func (p Permissions) CanModify() bool           { return p.bit(4) }
func (p Permissions) CanExtract() bool          { return p.bit(5) }
func (p Permissions) CanAnnotate() bool         { return p.bit(6) }
func (p Permissions) CanFillForms() bool        { return p.bit(9) || p.bit(6) }
func (p Permissions) CanExtractForAccess() bool { return p.bit(10) }
func (p Permissions) CanAssemble() bool         { return p.bit(11) }
func (p Permissions) CanPrintHighQuality() bool { return p.bit(12) || p.bit(3) }

type noneHandler struct{}

func (noneHandler) Mode() EncryptionMode { return NoEncryption }
func (noneHandler) Authenticate(PasswordProvider) AuthResult {
	return AuthResult{Outcome: OwnerAuthorized}
}
func (noneHandler) Result() AuthResult       { return AuthResult{Outcome: OwnerAuthorized} }
func (noneHandler) Permissions() Permissions { return AllPermissions }
func (noneHandler) EncryptMetadata() bool    { return false }
func (noneHandler) DecryptString(_ ObjectRef, data []byte) ([]byte, error) {
	return data, nil
}
func (noneHandler) DecryptStream(_ ObjectRef, _ Value, data []byte) ([]byte, error) {
	return data, nil
}
func (noneHandler) DecryptEmbeddedFile(_ ObjectRef, data []byte) ([]byte, error) {
	return data, nil
}

// newSecurityHandler builds the handler named by the trailer's Encrypt
// value. A null value means the document is not encrypted.
func newSecurityHandler(enc Value, id []byte) (SecurityHandler, error) {
	if enc.IsNull() {
		return noneHandler{}, nil
	}
	desc, err := newEncryptionDescriptor(enc, id)
	if err != nil {
		return nil, err
	}
	logger.Debug(fmt.Sprintf("security: standard handler V=%d R=%d length=%d stmf=%v strf=%v",
		desc.V, desc.R, desc.KeyLength, desc.StreamFilter.Method, desc.StringFilter.Method), true)
	return &standardHandler{desc: desc, result: AuthResult{Outcome: Failed}}, nil
}

func newEncryptionDescriptor(enc Value, id []byte) (*EncryptionDescriptor, error) {
	if enc.Kind() != Dict {
		return nil, &EncryptionDescriptorError{Msg: "not a dictionary"}
	}
	filter, err := descName(enc, "Filter", true, "")
	if err != nil {
		return nil, err
	}
	if filter != "Standard" {
		return nil, &EncryptionDescriptorError{Msg: fmt.Sprintf("unknown security handler %q", filter)}
	}

	v, err := descInt(enc, "V", true, 0)
	if err != nil {
		return nil, err
	}
	if v < 1 || v > 5 {
		return nil, &EncryptionDescriptorError{Msg: fmt.Sprintf("unsupported version of document encryption (V = %d)", v)}
	}

	d := &EncryptionDescriptor{V: int(v), EncryptMetadata: true, ID: id}
	switch v {
	case 1:
		d.KeyLength = 40
	case 2, 3:
		n, _ := descInt(enc, "Length", false, 40)
		d.KeyLength = int(n)
	case 4:
		d.KeyLength = 128
	case 5:
		d.KeyLength = 256
	}

	d.Filters = map[string]CryptFilter{"Identity": {Method: CryptIdentity}}
	if v >= 4 {
		if err := d.readCryptFilters(enc); err != nil {
			return nil, err
		}
	} else {
		rc4 := CryptFilter{Method: CryptV2}
		d.StreamFilter, d.StringFilter, d.EmbeddedFileFilter = rc4, rc4, rc4
	}

	r, err := descInt(enc, "R", true, 0)
	if err != nil {
		return nil, err
	}
	if r < 2 || r > 6 || r == 5 {
		return nil, &EncryptionDescriptorError{Msg: fmt.Sprintf("revision %d of standard security handler is not supported", r)}
	}
	d.R = int(r)

	ouLen := 32
	if d.R == 6 {
		ouLen = 48
	}
	if d.O, err = descBytes(enc, "O", ouLen); err != nil {
		return nil, err
	}
	if d.U, err = descBytes(enc, "U", ouLen); err != nil {
		return nil, err
	}
	p, err := descInt(enc, "P", true, 0)
	if err != nil {
		return nil, err
	}
	d.P = uint32(int32(p))
	if d.R == 6 {
		if d.OE, err = descBytes(enc, "OE", 32); err != nil {
			return nil, err
		}
		if d.UE, err = descBytes(enc, "UE", 32); err != nil {
			return nil, err
		}
		if d.Perms, err = descBytes(enc, "Perms", 16); err != nil {
			return nil, err
		}
	}
	if em := enc.Key("EncryptMetadata"); em.Kind() == Bool {
		d.EncryptMetadata = em.Bool()
	}
	return d, nil
}

func (d *EncryptionDescriptor) readCryptFilters(enc Value) error {
	cf := enc.Key("CF")
	if cf.Kind() == Dict {
		for _, k := range cf.Keys() {
			f, err := parseCryptFilter(cf.Key(k))
			if err != nil {
				return err
			}
			d.Filters[k] = f
		}
	}
	resolve := func(key string, def string) (CryptFilter, error) {
		n, err := descName(enc, key, false, def)
		if err != nil {
			return CryptFilter{}, err
		}
		f, ok := d.Filters[n]
		if !ok {
			return CryptFilter{}, &EncryptionDescriptorError{Msg: fmt.Sprintf("unknown crypt filter %q", n)}
		}
		return f, nil
	}
	var err error
	if d.StreamFilter, err = resolve("StmF", "Identity"); err != nil {
		return err
	}
	if d.StringFilter, err = resolve("StrF", "Identity"); err != nil {
		return err
	}
	if enc.Key("EFF").IsNull() {
		d.EmbeddedFileFilter = d.StreamFilter
		return nil
	}
	if enc.Key("EFF").Kind() != Name {
		return &EncryptionDescriptorError{Msg: "invalid value for entry 'EFF', name expected"}
	}
	d.EmbeddedFileFilter, err = resolve("EFF", "")
	return err
}

func parseCryptFilter(v Value) (CryptFilter, error) {
	if v.Kind() != Dict {
		return CryptFilter{}, &EncryptionDescriptorError{Msg: "crypt filter is not a dictionary"}
	}
	var f CryptFilter
	cfm, _ := descName(v, "CFM", false, "None")
	switch cfm {
	case "None":
		f.Method = CryptNone
	case "V2":
		f.Method = CryptV2
	case "AESV2":
		f.Method = CryptAESV2
	case "AESV3":
		f.Method = CryptAESV3
	default:
		return f, &EncryptionDescriptorError{Msg: fmt.Sprintf("unsupported encryption algorithm %q", cfm)}
	}
	ev, _ := descName(v, "AuthEvent", false, "DocOpen")
	switch ev {
	case "DocOpen":
		f.AuthEvent = DocOpen
	case "EFOpen":
		f.AuthEvent = EFOpen
	default:
		return f, &EncryptionDescriptorError{Msg: fmt.Sprintf("unsupported authorization event %q", ev)}
	}
	return f, nil
}

func descName(d Value, key string, required bool, def string) (string, error) {
	v := d.Key(key)
	if v.IsNull() {
		if required {
			return "", &EncryptionDescriptorError{Msg: fmt.Sprintf("missing entry '%s'", key)}
		}
		return def, nil
	}
	if v.Kind() != Name {
		if required {
			return "", &EncryptionDescriptorError{Msg: fmt.Sprintf("invalid value for entry '%s', name expected", key)}
		}
		return def, nil
	}
	return v.Name(), nil
}

func descInt(d Value, key string, required bool, def int64) (int64, error) {
	v := d.Key(key)
	if v.Kind() != Integer {
		if required {
			return 0, &EncryptionDescriptorError{Msg: fmt.Sprintf("invalid value for entry '%s', integer expected", key)}
		}
		return def, nil
	}
	return v.Int64(), nil
}

// descBytes reads a string entry without decryption; the Encrypt
// dictionary itself is never encrypted.
func descBytes(d Value, key string, size int) ([]byte, error) {
	s, ok := d.Key(key).data.(string)
	if !ok {
		return nil, &EncryptionDescriptorError{Msg: fmt.Sprintf("expected %d characters long string in entry '%s'", size, key)}
	}
	if len(s) != size {
		return nil, &EncryptionDescriptorError{Msg: fmt.Sprintf("expected %d characters long string in entry '%s', provided length is %d", size, key, len(s))}
	}
	return []byte(s), nil
}

type standardHandler struct {
	desc   *EncryptionDescriptor
	result AuthResult
}

func (h *standardHandler) Mode() EncryptionMode     { return StandardEncryption }
func (h *standardHandler) Result() AuthResult       { return h.result }
func (h *standardHandler) Permissions() Permissions { return Permissions(h.desc.P) }
func (h *standardHandler) EncryptMetadata() bool    { return h.desc.EncryptMetadata }

// Descriptor returns the validated Encrypt dictionary.
func (h *standardHandler) Descriptor() *EncryptionDescriptor { return h.desc }

// Authenticate tries the empty password first, then each candidate from
// pp until one is accepted or pp reports no more candidates.
func (h *standardHandler) Authenticate(pp PasswordProvider) AuthResult {
	h.result = AuthResult{Outcome: Failed}
	password := ""
	for attempt := 1; ; attempt++ {
		var res AuthResult
		switch h.desc.R {
		case 2, 3, 4:
			var err error
			if res, err = h.authenticateR234(legacyPassword(password)); err != nil {
				logger.Error(fmt.Sprintf("security: %v", err))
				return h.result
			}
		case 6:
			res = h.authenticateR6(r6Password(password))
		default:
			return h.result
		}
		if res.Authorized() {
			logger.Debug(fmt.Sprintf("security: %v on attempt %d", res.Outcome, attempt), true)
			h.result = res
			return res
		}

		ok := false
		if pp != nil {
			password, ok = pp.Password()
		}
		if !ok {
			h.result = AuthResult{Outcome: Cancelled}
			return h.result
		}
	}
}

// authenticateR234 tries pw as the owner password, then as the user
// password. An error means the descriptor can never authenticate.
func (h *standardHandler) authenticateR234(pw []byte) (AuthResult, error) {
	d := h.desc
	userPw, err := d.userPasswordFromOwner(pw)
	if err != nil {
		return AuthResult{Outcome: Failed}, err
	}
	if key, err := d.fileKey(userPw); err == nil && bytes.Equal(d.computeU(key), d.U) {
		return AuthResult{Outcome: OwnerAuthorized, Key: key}, nil
	}
	key, err := d.fileKey(pw)
	if err != nil {
		return AuthResult{Outcome: Failed}, err
	}
	if bytes.Equal(d.computeU(key), d.U) {
		return AuthResult{Outcome: UserAuthorized, Key: key}, nil
	}
	return AuthResult{Outcome: Failed}, nil
}

func (h *standardHandler) authenticateR6(pw []byte) AuthResult {
	d := h.desc
	oHash, oValSalt, oKeySalt := d.O[:32], d.O[32:40], d.O[40:48]
	uHash, uValSalt, uKeySalt := d.U[:32], d.U[32:40], d.U[40:48]

	var res AuthResult
	if bytes.Equal(hashR6(concat(pw, oValSalt, d.U), pw, d.U, true), oHash) {
		kek := hashR6(concat(pw, oKeySalt, d.U), pw, d.U, true)
		if key, err := aesDecryptNoPad(kek, make([]byte, 16), d.OE); err == nil {
			res = AuthResult{Outcome: OwnerAuthorized, Key: key}
		}
	}
	if !res.Authorized() && bytes.Equal(hashR6(concat(pw, uValSalt), pw, d.U, false), uHash) {
		kek := hashR6(concat(pw, uKeySalt), pw, d.U, false)
		if key, err := aesDecryptNoPad(kek, make([]byte, 16), d.UE); err == nil {
			res = AuthResult{Outcome: UserAuthorized, Key: key}
		}
	}
	if !res.Authorized() {
		return AuthResult{Outcome: Failed}
	}
	if !validPerms(res.Key, d.Perms, d.P) {
		logger.Debug("security: Perms entry does not match P", true)
	}
	return res
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// legacyPassword encodes a revision 2 to 4 password as Latin-1, the closest
// match to PDFDocEncoding; unencodable input is used as UTF-8 bytes.
func legacyPassword(pw string) []byte {
	if b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(pw)); err == nil {
		return b
	}
	return []byte(pw)
}

// r6Password prepares a revision 6 password with the OpaqueString profile
// and truncates it to 127 bytes.
func r6Password(pw string) []byte {
	b := []byte(pw)
	if s, err := precis.OpaqueString.String(pw); err == nil {
		b = []byte(s)
	}
	if len(b) > 127 {
		b = b[:127]
	}
	return b
}

func (h *standardHandler) decrypt(f CryptFilter, ref ObjectRef, data []byte) ([]byte, error) {
	if !h.result.Authorized() {
		return nil, &AuthenticationError{Outcome: h.result.Outcome}
	}
	switch f.Method {
	case CryptV2:
		return rc4Crypt(objectKey(h.result.Key, ref, false), data), nil
	case CryptAESV2:
		return aesDecrypt(objectKey(h.result.Key, ref, true), data)
	case CryptAESV3:
		return aesDecrypt(h.result.Key, data)
	}
	return data, nil
}

func (h *standardHandler) DecryptString(ref ObjectRef, data []byte) ([]byte, error) {
	return h.decrypt(h.desc.StringFilter, ref, data)
}

func (h *standardHandler) DecryptEmbeddedFile(ref ObjectRef, data []byte) ([]byte, error) {
	return h.decrypt(h.desc.EmbeddedFileFilter, ref, data)
}

// DecryptStream picks the filter for a stream: cross-reference streams are
// never encrypted, metadata may be exempt, a /Crypt entry in the filter
// chain names its own filter, and embedded files use EFF.
func (h *standardHandler) DecryptStream(ref ObjectRef, hdr Value, data []byte) ([]byte, error) {
	switch hdr.Key("Type").Name() {
	case "XRef":
		return data, nil
	case "Metadata":
		if !h.desc.EncryptMetadata {
			return data, nil
		}
	case "EmbeddedFile":
		return h.DecryptEmbeddedFile(ref, data)
	}
	if f, ok, err := h.cryptFilterOverride(hdr); err != nil {
		return nil, err
	} else if ok {
		return h.decrypt(f, ref, data)
	}
	return h.decrypt(h.desc.StreamFilter, ref, data)
}

func (h *standardHandler) cryptFilterOverride(hdr Value) (CryptFilter, bool, error) {
	filter := hdr.Key("Filter")
	first := filter
	params := hdr.Key("DecodeParms")
	if filter.Kind() == Array {
		first = filter.Index(0)
		params = params.Index(0)
	}
	if first.Name() != "Crypt" {
		return CryptFilter{}, false, nil
	}
	n := "Identity"
	if v := params.Key("Name"); v.Kind() == Name {
		n = v.Name()
	}
	f, ok := h.desc.Filters[n]
	if !ok {
		return CryptFilter{}, false, &EncryptionDescriptorError{Msg: fmt.Sprintf("unknown crypt filter %q", n)}
	}
	return f, true, nil
}
