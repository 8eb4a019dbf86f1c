package shardpager

import (
	"encoding/csv"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
)

// Format is an export file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
)

// ParseFormat maps a case-insensitive name to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", newQueryError(KindUnsupportedFormat, nil, "unknown output format %q", s)
	}
	return f, nil
}

// Valid reports whether f is one of the supported encodings.
func (f Format) Valid() bool {
	switch f {
	case FormatJSON, FormatCSV, FormatXML:
		return true
	}
	return false
}

// Ext returns the file extension of f, without the dot.
func (f Format) Ext() string { return string(f) }

// chunkEncoder frames the records of one chunk file. begin is called with
// the first record of the file, end after its last record.
type chunkEncoder interface {
	begin(w io.Writer, first Record) error
	encode(w io.Writer, rec Record) error
	end(w io.Writer) error
}

// jsonChunkEncoder buffers a chunk and writes it inside the response envelope.
type jsonChunkEncoder struct {
	envelope *Envelope
	nums     int64
	docs     []Record
}

func (e *jsonChunkEncoder) begin(io.Writer, Record) error {
	e.docs = e.docs[:0]
	return nil
}

func (e *jsonChunkEncoder) encode(_ io.Writer, rec Record) error {
	e.docs = append(e.docs, rec)
	return nil
}

func (e *jsonChunkEncoder) end(w io.Writer) error {
	data, err := e.envelope.Render(e.docs, e.nums, "")
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// csvChunkEncoder writes one comma-joined line per record. Unless escape is
// set, values containing commas, quotes or newlines are written verbatim.
type csvChunkEncoder struct {
	keepHeader bool
	escape     bool
	cw         *csv.Writer
}

func (e *csvChunkEncoder) begin(w io.Writer, first Record) error {
	if e.escape {
		e.cw = csv.NewWriter(w)
	}
	if !e.keepHeader {
		return nil
	}
	return e.line(w, first.Names())
}

func (e *csvChunkEncoder) encode(w io.Writer, rec Record) error {
	return e.line(w, rec.Texts())
}

func (e *csvChunkEncoder) line(w io.Writer, values []string) error {
	if e.escape {
		return e.cw.Write(values)
	}
	_, err := io.WriteString(w, strings.Join(values, ",")+"\n")
	return err
}

func (e *csvChunkEncoder) end(io.Writer) error {
	if e.cw == nil {
		return nil
	}
	e.cw.Flush()
	err := e.cw.Error()
	e.cw = nil
	return err
}

// xmlChunkEncoder streams a <response nums="N"> root with one <doc> per record.
type xmlChunkEncoder struct {
	nums int64
	enc  *xml.Encoder
}

var (
	xmlRoot  = xml.Name{Local: "response"}
	xmlDoc   = xml.Name{Local: "doc"}
	xmlField = xml.Name{Local: "field"}
)

func (e *xmlChunkEncoder) begin(w io.Writer, _ Record) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	e.enc = xml.NewEncoder(w)
	return e.enc.EncodeToken(xml.StartElement{
		Name: xmlRoot,
		Attr: []xml.Attr{{Name: xml.Name{Local: "nums"}, Value: strconv.FormatInt(e.nums, 10)}},
	})
}

func (e *xmlChunkEncoder) encode(_ io.Writer, rec Record) error {
	if err := e.enc.EncodeToken(xml.StartElement{Name: xmlDoc}); err != nil {
		return err
	}
	for _, f := range rec.Fields {
		start := xml.StartElement{
			Name: xmlField,
			Attr: []xml.Attr{{Name: xml.Name{Local: "name"}, Value: f.Name}},
		}
		if err := e.enc.EncodeToken(start); err != nil {
			return err
		}
		if err := e.enc.EncodeToken(xml.CharData(valueText(f.Value))); err != nil {
			return err
		}
		if err := e.enc.EncodeToken(start.End()); err != nil {
			return err
		}
	}
	return e.enc.EncodeToken(xml.EndElement{Name: xmlDoc})
}

func (e *xmlChunkEncoder) end(io.Writer) error {
	if err := e.enc.EncodeToken(xml.EndElement{Name: xmlRoot}); err != nil {
		return err
	}
	err := e.enc.Flush()
	e.enc = nil
	return err
}

func newChunkEncoder(f Format, envelope *Envelope, nums int64, keepHeader, escape bool) (chunkEncoder, error) {
	switch f {
	case FormatJSON:
		return &jsonChunkEncoder{envelope: envelope, nums: nums}, nil
	case FormatCSV:
		return &csvChunkEncoder{keepHeader: keepHeader, escape: escape}, nil
	case FormatXML:
		return &xmlChunkEncoder{nums: nums}, nil
	}
	return nil, newQueryError(KindUnsupportedFormat, nil, "unknown output format %q", string(f))
}
