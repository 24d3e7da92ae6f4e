package odt

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
)

// documentXML represents the structure of content.xml.
type documentXML struct {
	XMLName xml.Name `xml:"document-content"`
	Body    *bodyXML `xml:"body"`
}

type bodyXML struct {
	Text *textBodyXML `xml:"text"`
}

// textBodyXML holds body-level elements in document order.
type textBodyXML struct {
	Items []bodyItemXML
}

type bodyItemXML struct {
	Para    *textContentXML
	Heading *textContentXML
	List    *listXML
	Table   *tableXML
}

func (b *textBodyXML) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "p":
				var p textContentXML
				if err := d.DecodeElement(&p, &el); err != nil {
					return err
				}
				b.Items = append(b.Items, bodyItemXML{Para: &p})
			case "h":
				var h textContentXML
				if err := d.DecodeElement(&h, &el); err != nil {
					return err
				}
				b.Items = append(b.Items, bodyItemXML{Heading: &h})
			case "list":
				var l listXML
				if err := d.DecodeElement(&l, &el); err != nil {
					return err
				}
				b.Items = append(b.Items, bodyItemXML{List: &l})
			case "table":
				var t tableXML
				if err := d.DecodeElement(&t, &el); err != nil {
					return err
				}
				b.Items = append(b.Items, bodyItemXML{Table: &t})
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if el.Name == start.Name {
				return nil
			}
		}
	}
}

// textContentXML flattens the mixed content of <text:p> or <text:h> to
// plain text. Spans and links are descended into; <text:s>, <text:tab>
// and <text:line-break> become their whitespace equivalents.
type textContentXML struct {
	StyleName    string
	OutlineLevel string
	Text         string
}

func (tc *textContentXML) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "style-name":
			tc.StyleName = attr.Value
		case "outline-level":
			tc.OutlineLevel = attr.Value
		}
	}

	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "s":
				n := 1
				for _, a := range el.Attr {
					if a.Name.Local == "c" {
						if v, err := strconv.Atoi(a.Value); err == nil && v > 0 {
							n = v
						}
					}
				}
				sb.WriteString(strings.Repeat(" ", n))
			case "tab":
				sb.WriteString("\t")
			case "line-break":
				sb.WriteString("\n")
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(el)
		}
	}
	tc.Text = sb.String()
	return nil
}

// listXML represents a list (<text:list>).
type listXML struct {
	Items []listItemXML `xml:"list-item"`
}

// listItemXML represents a list item; nested lists recurse.
type listItemXML struct {
	Paragraphs []textContentXML `xml:"p"`
	SubLists   []listXML        `xml:"list"`
}

// tableXML represents a table (<table:table>).
type tableXML struct {
	Name    string        `xml:"name,attr"`
	Columns []tableColXML `xml:"table-column"`
	Rows    []tableRowXML `xml:"table-row"`
}

type tableColXML struct {
	Repeated string `xml:"number-columns-repeated,attr"`
}

// tableRowXML holds the row's cells in order. Covered cells mark the
// continuation of a vertical merge and must keep their position.
type tableRowXML struct {
	Items []rowCellXML
}

func (r *tableRowXML) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "table-cell":
				var c tableCellXML
				if err := d.DecodeElement(&c, &el); err != nil {
					return err
				}
				r.Items = append(r.Items, rowCellXML{Cell: &c})
			case "covered-table-cell":
				repeat := 1
				for _, a := range el.Attr {
					if a.Name.Local == "number-columns-repeated" {
						if v, err := strconv.Atoi(a.Value); err == nil && v > 0 {
							repeat = v
						}
					}
				}
				if err := d.Skip(); err != nil {
					return err
				}
				r.Items = append(r.Items, rowCellXML{Covered: true, Repeat: repeat})
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if el.Name == start.Name {
				return nil
			}
		}
	}
}

type rowCellXML struct {
	Cell    *tableCellXML
	Covered bool
	Repeat  int
}

// tableCellXML represents a table cell (<table:table-cell>).
type tableCellXML struct {
	ColsSpanned string           `xml:"number-columns-spanned,attr"`
	RowsSpanned string           `xml:"number-rows-spanned,attr"`
	Repeated    string           `xml:"number-columns-repeated,attr"`
	Paragraphs  []textContentXML `xml:"p"`
}
