package plan

import (
	"fmt"
	"strconv"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/tsawler/aedile/entity"
)

// TextSpan is a run of text shown on a page, anchored at its position in
// PDF user space (origin bottom left, Y up).
type TextSpan struct {
	Text string
	Pos  entity.Point

	// Confidence is 1 for vector text and the recognition confidence
	// for spans that came out of OCR.
	Confidence float64

	// Region is the bounding box for OCR-derived spans. Vector spans
	// carry only their anchor point.
	Region *entity.BBox
}

// wordSpaceGap is the TJ displacement, in thousandths of a text space unit,
// below which an adjustment is treated as an intentional word gap rather
// than kerning.
const wordSpaceGap = -180

// parseContent runs a page content stream and collects positioned text.
// Graphics state handling is limited to what text placement needs: the CTM
// stack (q/Q/cm) and the text matrices (BT/ET, Tm, Td/TD, T*, TL). Show
// operations without repositioning in between are glued into one span.
func parseContent(data []byte) ([]TextSpan, error) {
	ops, err := parseOperations(data)
	if err != nil {
		return nil, err
	}

	st := textState{
		ctm: entity.Identity(),
		tm:  entity.Identity(),
		tlm: entity.Identity(),
	}
	for _, op := range ops {
		st.apply(op)
	}
	return st.spans, nil
}

type textState struct {
	ctm     entity.Matrix
	stack   []entity.Matrix
	tm      entity.Matrix
	tlm     entity.Matrix
	leading float64
	glue    bool
	spans   []TextSpan
}

func (st *textState) apply(op operation) {
	switch op.operator {
	case "q":
		st.stack = append(st.stack, st.ctm)
	case "Q":
		if n := len(st.stack); n > 0 {
			st.ctm = st.stack[n-1]
			st.stack = st.stack[:n-1]
		}
	case "cm":
		if m, ok := matrixOperands(op.operands); ok {
			st.ctm = m.Multiply(st.ctm)
		}
	case "BT":
		st.tm = entity.Identity()
		st.tlm = entity.Identity()
		st.glue = false
	case "ET":
		st.glue = false
	case "Tm":
		if m, ok := matrixOperands(op.operands); ok {
			st.tm = m
			st.tlm = m
			st.glue = false
		}
	case "Td":
		st.translate(floatOperand(op.operands, 0), floatOperand(op.operands, 1))
	case "TD":
		ty := floatOperand(op.operands, 1)
		st.leading = -ty
		st.translate(floatOperand(op.operands, 0), ty)
	case "T*":
		st.translate(0, -st.leading)
	case "TL":
		st.leading = floatOperand(op.operands, 0)
	case "Tj":
		st.show(stringOperand(op.operands, 0))
	case "'":
		st.translate(0, -st.leading)
		st.show(stringOperand(op.operands, 0))
	case "\"":
		st.translate(0, -st.leading)
		st.show(stringOperand(op.operands, 2))
	case "TJ":
		if len(op.operands) != 1 {
			return
		}
		arr, ok := op.operands[0].([]any)
		if !ok {
			return
		}
		for _, item := range arr {
			switch v := item.(type) {
			case []byte:
				st.show(v)
			case float64:
				if v < wordSpaceGap {
					st.space()
				}
			}
		}
	}
}

// translate moves the text line matrix and restarts span gluing.
func (st *textState) translate(tx, ty float64) {
	st.tlm = entity.Translate(tx, ty).Multiply(st.tlm)
	st.tm = st.tlm
	st.glue = false
}

// show emits text at the current text position, appending to the previous
// span when nothing repositioned the cursor since.
func (st *textState) show(raw []byte) {
	if len(raw) == 0 {
		return
	}
	text := decodeText(raw)
	if text == "" {
		return
	}
	if st.glue && len(st.spans) > 0 {
		st.spans[len(st.spans)-1].Text += text
		return
	}
	origin := st.tm.Multiply(st.ctm).Transform(entity.Point{})
	st.spans = append(st.spans, TextSpan{Text: text, Pos: origin, Confidence: 1})
	st.glue = true
}

func (st *textState) space() {
	if st.glue && len(st.spans) > 0 {
		st.spans[len(st.spans)-1].Text += " "
	}
}

// decodeText maps raw string bytes to text. Strings with a UTF-16BE byte
// order mark are decoded as such, everything else as Windows-1252, which
// covers the standard WinAnsi drawing exports including umlauts.
func decodeText(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		dec := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		out, err := dec.Bytes(raw)
		if err != nil {
			return ""
		}
		return string(out)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func matrixOperands(ops []any) (entity.Matrix, bool) {
	if len(ops) != 6 {
		return entity.Matrix{}, false
	}
	var m entity.Matrix
	for i, op := range ops {
		f, ok := op.(float64)
		if !ok {
			return entity.Matrix{}, false
		}
		m[i] = f
	}
	return m, true
}

func floatOperand(ops []any, i int) float64 {
	if i >= len(ops) {
		return 0
	}
	f, _ := ops[i].(float64)
	return f
}

func stringOperand(ops []any, i int) []byte {
	if i >= len(ops) {
		return nil
	}
	b, _ := ops[i].([]byte)
	return b
}

// operation is one content stream operator with the operands that preceded
// it.
type operation struct {
	operator string
	operands []any
}

// streamParser tokenizes a content stream into operations. Operands are
// plain Go values: float64, []byte (strings), string (names), []any
// (arrays), map[string]any (dictionaries), bool and nil.
type streamParser struct {
	data     []byte
	pos      int
	operands []any
	ops      []operation
}

func parseOperations(data []byte) ([]operation, error) {
	p := &streamParser{data: data}
	for {
		p.skipWhitespace()
		if p.pos >= len(p.data) {
			break
		}
		c := p.data[p.pos]
		if isStreamLetter(c) || c == '\'' || c == '"' {
			if err := p.parseOperator(); err != nil {
				return nil, err
			}
			continue
		}
		operand, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		p.operands = append(p.operands, operand)
	}
	return p.ops, nil
}

func (p *streamParser) parseOperator() error {
	start := p.pos
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isStreamLetter(c) || c == '\'' || c == '"' || c == '*' {
			p.pos++
			continue
		}
		break
	}
	operator := string(p.data[start:p.pos])

	if operator == "BI" {
		// Inline image: skip the image dictionary and binary payload up
		// to the closing EI.
		p.skipInlineImage()
		p.operands = nil
		return nil
	}

	switch operator {
	case "true", "false", "null":
		// Keyword operands, not operators.
		switch operator {
		case "true":
			p.operands = append(p.operands, true)
		case "false":
			p.operands = append(p.operands, false)
		default:
			p.operands = append(p.operands, nil)
		}
		return nil
	}

	op := operation{operator: operator, operands: p.operands}
	p.ops = append(p.ops, op)
	p.operands = nil
	return nil
}

func (p *streamParser) parseOperand() (any, error) {
	p.skipWhitespace()
	if p.pos >= len(p.data) {
		return nil, fmt.Errorf("unexpected end of content stream")
	}

	c := p.data[p.pos]
	switch {
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	case c == '(':
		return p.parseString()
	case c == '<' && p.pos+1 < len(p.data) && p.data[p.pos+1] == '<':
		return p.parseDict()
	case c == '<':
		return p.parseHexString()
	case c == '/':
		return p.parseName(), nil
	case c == '[':
		return p.parseArray()
	case isStreamLetter(c):
		return p.parseKeyword()
	}
	return nil, fmt.Errorf("unexpected character %q at position %d", c, p.pos)
}

func (p *streamParser) parseNumber() (any, error) {
	start := p.pos
	if c := p.data[p.pos]; c == '+' || c == '-' {
		p.pos++
	}
	dot := false
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' && !dot {
			dot = true
			p.pos++
			continue
		}
		break
	}
	v, err := strconv.ParseFloat(string(p.data[start:p.pos]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q at position %d", p.data[start:p.pos], start)
	}
	return v, nil
}

// parseString reads a literal string with escape and octal handling and
// balanced parentheses.
func (p *streamParser) parseString() (any, error) {
	p.pos++ // skip '('
	var out []byte
	depth := 1
	for p.pos < len(p.data) && depth > 0 {
		c := p.data[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.data):
			p.pos++
			next := p.data[p.pos]
			switch next {
			case 'n':
				out = append(out, '\n')
				p.pos++
			case 'r':
				out = append(out, '\r')
				p.pos++
			case 't':
				out = append(out, '\t')
				p.pos++
			case 'b':
				out = append(out, '\b')
				p.pos++
			case 'f':
				out = append(out, '\f')
				p.pos++
			case '(', ')', '\\':
				out = append(out, next)
				p.pos++
			case '\r':
				p.pos++
				if p.pos < len(p.data) && p.data[p.pos] == '\n' {
					p.pos++
				}
			case '\n':
				p.pos++
			case '0', '1', '2', '3', '4', '5', '6', '7':
				val := int(next - '0')
				p.pos++
				for i := 0; i < 2 && p.pos < len(p.data); i++ {
					d := p.data[p.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val*8 + int(d-'0')
					p.pos++
				}
				out = append(out, byte(val&0xFF))
			default:
				out = append(out, next)
				p.pos++
			}
		case c == '(':
			depth++
			out = append(out, c)
			p.pos++
		case c == ')':
			depth--
			if depth > 0 {
				out = append(out, c)
			}
			p.pos++
		default:
			out = append(out, c)
			p.pos++
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unclosed string literal")
	}
	return out, nil
}

func (p *streamParser) parseHexString() (any, error) {
	p.pos++ // skip '<'
	var out []byte
	var hi byte
	haveHi := false
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if c == '>' {
			p.pos++
			if haveHi {
				out = append(out, hexNibble(hi)<<4)
			}
			return out, nil
		}
		if isStreamWhitespace(c) {
			p.pos++
			continue
		}
		if !isHex(c) {
			return nil, fmt.Errorf("invalid hex digit %q at position %d", c, p.pos)
		}
		if haveHi {
			out = append(out, hexNibble(hi)<<4|hexNibble(c))
			haveHi = false
		} else {
			hi = c
			haveHi = true
		}
		p.pos++
	}
	return nil, fmt.Errorf("unclosed hex string")
}

func (p *streamParser) parseName() string {
	p.pos++ // skip '/'
	start := p.pos
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isStreamWhitespace(c) || isStreamDelimiter(c) {
			break
		}
		p.pos++
	}
	return string(p.data[start:p.pos])
}

func (p *streamParser) parseArray() (any, error) {
	p.pos++ // skip '['
	var arr []any
	for {
		p.skipWhitespace()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("unclosed array")
		}
		if p.data[p.pos] == ']' {
			p.pos++
			return arr, nil
		}
		item, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		arr = append(arr, item)
	}
}

func (p *streamParser) parseDict() (any, error) {
	p.pos += 2 // skip '<<'
	dict := make(map[string]any)
	for {
		p.skipWhitespace()
		if p.pos+1 < len(p.data) && p.data[p.pos] == '>' && p.data[p.pos+1] == '>' {
			p.pos += 2
			return dict, nil
		}
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("unclosed dictionary")
		}
		if p.data[p.pos] != '/' {
			return nil, fmt.Errorf("dictionary key at position %d is not a name", p.pos)
		}
		key := p.parseName()
		value, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		dict[key] = value
	}
}

func (p *streamParser) parseKeyword() (any, error) {
	start := p.pos
	for p.pos < len(p.data) && isStreamLetter(p.data[p.pos]) {
		p.pos++
	}
	switch string(p.data[start:p.pos]) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected keyword %q at position %d", p.data[start:p.pos], start)
}

// skipInlineImage advances past the binary payload of a BI..ID..EI inline
// image by scanning for an EI token flanked by whitespace.
func (p *streamParser) skipInlineImage() {
	for p.pos+1 < len(p.data) {
		if p.data[p.pos] == 'E' && p.data[p.pos+1] == 'I' {
			before := p.pos == 0 || isStreamWhitespace(p.data[p.pos-1])
			after := p.pos+2 >= len(p.data) || isStreamWhitespace(p.data[p.pos+2])
			if before && after {
				p.pos += 2
				return
			}
		}
		p.pos++
	}
	p.pos = len(p.data)
}

// skipWhitespace advances past PDF whitespace and comments.
func (p *streamParser) skipWhitespace() {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isStreamWhitespace(c) {
			p.pos++
			continue
		}
		if c == '%' {
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		break
	}
}

func isStreamWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isStreamLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isStreamDelimiter(c byte) bool {
	return c == '(' || c == ')' || c == '<' || c == '>' ||
		c == '[' || c == ']' || c == '{' || c == '}' ||
		c == '/' || c == '%'
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
