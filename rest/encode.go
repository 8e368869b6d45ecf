package rest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang/gddo/httputil"

	"dsp/store"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
	FormatCSV  = "csv"
)

var (
	contentTypes = map[string]string{
		FormatJSON: "application/json",
		FormatXML:  "application/xml",
		FormatCSV:  "text/csv",
	}
	offers = []string{"application/json", "application/xml", "text/xml", "text/csv"}

	// callbackPattern accepts dotted JavaScript identifier paths.
	callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)
	xmlNameInvalid  = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)
)

// output describes how a response is serialized.
type output struct {
	format   string
	callback string
}

// negotiate picks the output format from the format query parameter, then
// from the Accept header.
func negotiate(r *http.Request) (output, error) {
	q := r.URL.Query()
	out := output{callback: q.Get("callback")}
	if out.callback != "" && !callbackPattern.MatchString(out.callback) {
		return output{}, store.NewBadRequestError("invalid callback name '%s'", out.callback)
	}

	switch f := strings.ToLower(q.Get("format")); f {
	case FormatJSON, FormatXML, FormatCSV:
		out.format = f
	case "":
		switch httputil.NegotiateContentType(r, offers, "application/json") {
		case "application/xml", "text/xml":
			out.format = FormatXML
		case "text/csv":
			out.format = FormatCSV
		default:
			out.format = FormatJSON
		}
	default:
		return output{}, store.NewBadRequestError("unsupported format '%s'", f)
	}
	if out.callback != "" && out.format != FormatJSON {
		return output{}, store.NewBadRequestError("callback requires json output")
	}
	return out, nil
}

// encode serializes v, a *store.Record envelope or record.
func (o output) encode(v *store.Record) ([]byte, string, error) {
	switch o.format {
	case FormatXML:
		b, err := encodeXML(v)
		return b, contentTypes[FormatXML], err
	case FormatCSV:
		b, err := encodeCSV(v)
		return b, contentTypes[FormatCSV], err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	if o.callback != "" {
		return []byte(o.callback + "(" + string(b) + ");"), "application/javascript", nil
	}
	return b, contentTypes[FormatJSON], nil
}

// encodeXML renders v inside a <dfapi> document. List values repeat their
// field element once per item.
func encodeXML(v *store.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" ?>`)
	buf.WriteString("<dfapi>")
	if err := writeXMLFields(&buf, v); err != nil {
		return nil, err
	}
	buf.WriteString("</dfapi>")
	return buf.Bytes(), nil
}

func writeXMLFields(buf *bytes.Buffer, rec *store.Record) error {
	for _, f := range rec.Fields() {
		name := xmlName(f)
		v := rec.Value(f)
		if items, ok := v.([]any); ok {
			for _, item := range items {
				if err := writeXMLElement(buf, name, item); err != nil {
					return err
				}
			}
			continue
		}
		if err := writeXMLElement(buf, name, v); err != nil {
			return err
		}
	}
	return nil
}

func writeXMLElement(buf *bytes.Buffer, name string, v any) error {
	buf.WriteString("<" + name + ">")
	switch x := v.(type) {
	case *store.Record:
		if err := writeXMLFields(buf, x); err != nil {
			return err
		}
	case []any:
		for _, item := range x {
			if err := writeXMLElement(buf, "item", item); err != nil {
				return err
			}
		}
	default:
		if err := xml.EscapeText(buf, []byte(scalarText(v))); err != nil {
			return err
		}
	}
	buf.WriteString("</" + name + ">")
	return nil
}

func xmlName(field string) string {
	name := xmlNameInvalid.ReplaceAllString(field, "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') || name[0] == '-' || name[0] == '.' {
		name = "_" + name
	}
	return name
}

// encodeCSV writes the records of v as rows. The record envelope is
// stripped; a bare record becomes a single row. The header is the union of
// fields in first-seen order.
func encodeCSV(v *store.Record) ([]byte, error) {
	var rows []*store.Record
	switch items := v.Value("record").(type) {
	case []any:
		for _, item := range items {
			if rec, ok := item.(*store.Record); ok {
				rows = append(rows, rec)
			}
		}
	default:
		if !v.Has("record") {
			rows = []*store.Record{v}
		}
	}

	var header []string
	seen := make(map[string]struct{})
	for _, row := range rows {
		for _, f := range row.Fields() {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				header = append(header, f)
			}
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(header) > 0 {
		if err := w.Write(header); err != nil {
			return nil, err
		}
	}
	line := make([]string, len(header))
	for _, row := range rows {
		for i, f := range header {
			cell, err := csvCell(row.Value(f))
			if err != nil {
				return nil, err
			}
			line[i] = cell
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func csvCell(v any) (string, error) {
	switch v.(type) {
	case *store.Record, []any:
		b, err := json.Marshal(v)
		return string(b), err
	}
	return scalarText(v), nil
}

func scalarText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
