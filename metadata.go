// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/sassoftware/viya-pdf-ingest/logger"
)

// Meta is the unified document information model (Info + XMP fields).
type Meta struct {
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Keywords     string `json:"keywords,omitempty"`
	Creator      string `json:"creator,omitempty"`
	Producer     string `json:"producer,omitempty"`
	CreationDate string `json:"creationDate,omitempty"`
	ModDate      string `json:"modDate,omitempty"`
}

// Minimal XML models to pull common XMP fields in a namespace
type xmpPacket struct {
	XMLName xml.Name `xml:"xmpmeta"`
	RDF     rdfRDF   `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# RDF"`
}

type rdfRDF struct {
	Descriptions []rdfDescription `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Description"`
}

type rdfDescription struct {
	Title       rdfList `xml:"http://purl.org/dc/elements/1.1/ title"`
	Description rdfList `xml:"http://purl.org/dc/elements/1.1/ description"`
	Creator     rdfList `xml:"http://purl.org/dc/elements/1.1/ creator"`

	PDFProducer string `xml:"http://ns.adobe.com/pdf/1.3/ Producer"`
	PDFKeywords string `xml:"http://ns.adobe.com/pdf/1.3/ Keywords"`

	XMPCreatorTool string `xml:"http://ns.adobe.com/xap/1.0/ CreatorTool"`
	XMPCreateDate  string `xml:"http://ns.adobe.com/xap/1.0/ CreateDate"`
	XMPModifyDate  string `xml:"http://ns.adobe.com/xap/1.0/ ModifyDate"`
}

// rdfList matches rdf:Alt, rdf:Seq and rdf:Bag containers alike.
type rdfList struct {
	Alt []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Alt>li"`
	Seq []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Seq>li"`
	Bag []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Bag>li"`
}

func (l rdfList) First() string {
	for _, items := range [][]string{l.Alt, l.Seq, l.Bag} {
		if len(items) > 0 {
			return strings.TrimSpace(items[0])
		}
	}
	return ""
}

type metaField struct {
	key string // Info dictionary key
	dst *string
}

func (m *Meta) fields() []metaField {
	return []metaField{
		{"Title", &m.Title},
		{"Author", &m.Author},
		{"Subject", &m.Subject},
		{"Keywords", &m.Keywords},
		{"Creator", &m.Creator},
		{"Producer", &m.Producer},
		{"CreationDate", &m.CreationDate},
		{"ModDate", &m.ModDate},
	}
}

// merge fills the blank fields of m from fallback.
func (m *Meta) merge(fallback Meta) {
	theirs := fallback.fields()
	for i, f := range m.fields() {
		*f.dst = prefer(*f.dst, *theirs[i].dst)
	}
}

// MetadataFull is the report written by MetadataJSON.
type MetadataFull struct {
	Meta

	PDFVersion     string `json:"pdf:PDFVersion,omitempty"`
	HasXMP         bool   `json:"pdf:hasXMP"`
	HasCollection  bool   `json:"pdf:hasCollection"`
	Encrypted      bool   `json:"pdf:encrypted"`
	EncryptionMode string `json:"pdf:encryptionMode"`
	Objects        int    `json:"pdf:objects"`
	ObjectStreams  int    `json:"pdf:objectStreams"`
	Language       string `json:"language,omitempty"`

	AccessPermission AccessPermission `json:"access_permission"`
}

// AccessPermission is the JSON form of Permissions.
type AccessPermission struct {
	CanPrint                bool `json:"can_print"`
	CanPrintFaithful        bool `json:"can_print_faithful"`
	CanModify               bool `json:"can_modify"`
	ExtractContent          bool `json:"extract_content"`
	ModifyAnnotations       bool `json:"modify_annotations"`
	FillInForm              bool `json:"fill_in_form"`
	ExtractForAccessibility bool `json:"extract_for_accessibility"`
	AssembleDocument        bool `json:"assemble_document"`
}

func accessPermission(p Permissions) AccessPermission {
	return AccessPermission{
		CanPrint:                p.CanPrint(),
		CanPrintFaithful:        p.CanPrintHighQuality(),
		CanModify:               p.CanModify(),
		ExtractContent:          p.CanExtract(),
		ModifyAnnotations:       p.CanAnnotate(),
		FillInForm:              p.CanFillForms(),
		ExtractForAccessibility: p.CanExtractForAccess(),
		AssembleDocument:        p.CanAssemble(),
	}
}

// prefer returns a if non-empty after trimming, otherwise b.
func prefer(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

// InfoDict returns the /Info dictionary (may be Null).
func (d *Document) InfoDict() Value {
	return d.Trailer().Key("Info")
}

func (d *Document) readInfo() Meta {
	info := d.InfoDict()
	logger.Debug(fmt.Sprintf("metadata: Info present=%v", info.Kind() == Dict), true)
	var m Meta
	for _, f := range m.fields() {
		*f.dst = info.Key(f.key).Text()
	}
	return m
}

func (d *Document) metadataStream() Value {
	return d.Trailer().Key("Root").Key("Metadata")
}

// XMP returns the decoded XMP packet of the catalog, or "" when absent.
func (d *Document) XMP() (string, error) {
	md := d.metadataStream()
	if md.Kind() != Stream {
		return "", nil
	}
	rc := md.Reader()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		logger.Error(fmt.Sprintf("metadata: failed to read XMP stream: %v", err))
		return "", err
	}
	logger.Debug(fmt.Sprintf("metadata: XMP stream %v bytes=%d", md.Ref(), len(b)), true)
	return string(b), nil
}

// parseXMPWithXML decodes an XMP packet with encoding/xml. Later
// rdf:Description elements override earlier ones. XMP names map onto Meta
// as dc:creator to Author and xmp:CreatorTool to Creator.
func parseXMPWithXML(x string) (Meta, bool) {
	var pkt xmpPacket
	dec := xml.NewDecoder(strings.NewReader(x))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	if err := dec.Decode(&pkt); err != nil {
		return Meta{}, false
	}

	var m Meta
	for _, desc := range pkt.RDF.Descriptions {
		next := Meta{
			Title:        desc.Title.First(),
			Author:       desc.Creator.First(),
			Subject:      desc.Description.First(),
			Keywords:     strings.TrimSpace(desc.PDFKeywords),
			Creator:      strings.TrimSpace(desc.XMPCreatorTool),
			Producer:     strings.TrimSpace(desc.PDFProducer),
			CreationDate: strings.TrimSpace(desc.XMPCreateDate),
			ModDate:      strings.TrimSpace(desc.XMPModifyDate),
		}
		next.merge(m)
		m = next
	}
	return m, true
}

// parseXMPFallback searches for well-known tags when the packet does not
// decode.
func parseXMPFallback(xmp string) Meta {
	text := func(tags ...string) string {
		for _, tag := range tags {
			_, rest, ok := strings.Cut(xmp, "<"+tag+">")
			if !ok {
				continue
			}
			if body, _, ok := strings.Cut(rest, "</"+tag+">"); ok {
				return strings.TrimSpace(stripXMLTags(body))
			}
		}
		return ""
	}
	return Meta{
		Title:        text("dc:title", "pdf:Title"),
		Author:       text("dc:creator", "pdf:Author"),
		Subject:      text("dc:description", "pdf:Subject"),
		Keywords:     text("pdf:Keywords"),
		Creator:      text("xmp:CreatorTool"),
		Producer:     text("pdf:Producer"),
		CreationDate: text("xmp:CreateDate"),
		ModDate:      text("xmp:ModifyDate"),
	}
}

// stripXMLTags removes simple XML tags from a string.
func stripXMLTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch r {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// Metadata returns unified metadata with XMP taking precedence over /Info.
func (d *Document) Metadata() (Meta, error) {
	packet, err := d.XMP()
	if err != nil {
		return Meta{}, err
	}

	var m Meta
	if packet != "" {
		var ok bool
		if m, ok = parseXMPWithXML(packet); !ok {
			logger.Debug("metadata: XMP is not well formed, using tag search", true)
			m = parseXMPFallback(packet)
		}
	}
	m.merge(d.readInfo())
	return m, nil
}

// MetadataFull returns a comprehensive metadata report for the document.
func (d *Document) MetadataFull() (MetadataFull, error) {
	md, err := d.Metadata()
	if err != nil {
		return MetadataFull{}, err
	}
	root := d.Trailer().Key("Root")
	sh := d.Security()
	out := MetadataFull{
		Meta:             md,
		PDFVersion:       d.Version().String(),
		HasXMP:           d.metadataStream().Kind() == Stream,
		HasCollection:    !root.Key("Collection").IsNull(),
		Encrypted:        sh.Mode() != NoEncryption,
		EncryptionMode:   sh.Mode().String(),
		ObjectStreams:    len(d.xref.objectStreams()),
		Language:         root.Key("Lang").Text(),
		AccessPermission: accessPermission(sh.Permissions()),
	}
	for i := range d.objects {
		if d.objects[i].set {
			out.Objects++
		}
	}
	return out, nil
}

// MetadataJSON writes the full metadata as pretty JSON to the provided writer.
func (d *Document) MetadataJSON(w io.Writer) error {
	mf, err := d.MetadataFull()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(mf)
}
