package docx

import (
	"encoding/xml"
	"io"
)

// documentXML represents the structure of word/document.xml.
type documentXML struct {
	XMLName xml.Name `xml:"document"`
	Body    *bodyXML `xml:"body"`
}

// bodyXML holds body-level elements in document order. Paragraph and
// table interleaving matters for section assignment, so unmarshalling
// walks the token stream instead of collecting per-name slices.
type bodyXML struct {
	Items []bodyItemXML
}

type bodyItemXML struct {
	Para  *paragraphXML
	Table *tableXML
}

func (b *bodyXML) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
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
				var p paragraphXML
				if err := d.DecodeElement(&p, &el); err != nil {
					return err
				}
				b.Items = append(b.Items, bodyItemXML{Para: &p})
			case "tbl":
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

// paragraphXML represents a paragraph element (<w:p>).
type paragraphXML struct {
	Properties paragraphPropsXML `xml:"pPr"`
	Runs       []runXML          `xml:"r"`
	Hyperlinks []hyperlinkXML    `xml:"hyperlink"`
}

// paragraphPropsXML represents paragraph properties (<w:pPr>).
type paragraphPropsXML struct {
	Style      styleRefXML   `xml:"pStyle"`
	NumPr      *numPrXML     `xml:"numPr"`
	OutlineLvl outlineLvlXML `xml:"outlineLvl"`
}

type styleRefXML struct {
	Val string `xml:"val,attr"`
}

// numPrXML marks a paragraph as a list entry.
type numPrXML struct {
	ILvl  valXML `xml:"ilvl"`
	NumID valXML `xml:"numId"`
}

type valXML struct {
	Val string `xml:"val,attr"`
}

type outlineLvlXML struct {
	Val string `xml:"val,attr"`
}

// runXML represents a text run (<w:r>).
type runXML struct {
	Text   []textXML  `xml:"t"`
	Tabs   []tabXML   `xml:"tab"`
	Breaks []breakXML `xml:"br"`
}

// textXML represents text content (<w:t>).
type textXML struct {
	Space string `xml:"space,attr"`
	Value string `xml:",chardata"`
}

type tabXML struct{}

type breakXML struct {
	Type string `xml:"type,attr"`
}

// hyperlinkXML represents a hyperlink; only the run text matters here.
type hyperlinkXML struct {
	Runs []runXML `xml:"r"`
}

// tableXML represents a table (<w:tbl>).
type tableXML struct {
	Grid tableGridXML  `xml:"tblGrid"`
	Rows []tableRowXML `xml:"tr"`
}

type tableGridXML struct {
	Cols []gridColXML `xml:"gridCol"`
}

type gridColXML struct {
	W string `xml:"w,attr"`
}

// tableRowXML represents a table row (<w:tr>).
type tableRowXML struct {
	Cells []tableCellXML `xml:"tc"`
}

// tableCellXML represents a table cell (<w:tc>).
type tableCellXML struct {
	Properties cellPropsXML   `xml:"tcPr"`
	Paragraphs []paragraphXML `xml:"p"`
}

type cellPropsXML struct {
	GridSpan valXML     `xml:"gridSpan"`
	VMerge   *vMergeXML `xml:"vMerge"`
}

// vMergeXML: val "restart" opens a vertical merge, an empty val
// continues the merge from the row above.
type vMergeXML struct {
	Val string `xml:"val,attr"`
}

// stylesXML represents the structure of word/styles.xml.
type stylesXML struct {
	XMLName xml.Name      `xml:"styles"`
	Styles  []styleDefXML `xml:"style"`
}

type styleDefXML struct {
	Type    string            `xml:"type,attr"`
	StyleID string            `xml:"styleId,attr"`
	Name    valXML            `xml:"name"`
	BasedOn valXML            `xml:"basedOn"`
	PPr     paragraphPropsXML `xml:"pPr"`
}
