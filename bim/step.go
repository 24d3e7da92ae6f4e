package bim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Instance is a single entity instance from the DATA section of a STEP
// physical file, e.g. #12=IFCSPACE('2x8k...',#5,'1.01',$,...);
type Instance struct {
	ID   int64
	Type string // upper-case entity name, e.g. "IFCSPACE"
	Args []any
}

// File holds the parsed contents of a STEP physical file (ISO 10303-21),
// the exchange format IFC models are shipped in.
type File struct {
	Schema    string
	Instances map[int64]*Instance

	byType map[string][]*Instance
}

// Argument value types produced by the parser. Typed values such as
// IFCAREAMEASURE(24.5) come back as a value struct; $ becomes nil and
// * (derived) becomes the derived marker.

type ref int64

type enum string

type typed struct {
	name string
	args []any
}

type derived struct{}

// ParseSTEP reads a STEP physical file and returns its header schema and
// data-section instances. Header entities other than FILE_SCHEMA are
// parsed and discarded.
func ParseSTEP(data []byte) (*File, error) {
	p := &stepParser{data: data}
	f := &File{
		Instances: make(map[int64]*Instance),
		byType:    make(map[string][]*Instance),
	}

	p.skipSpace()
	if !p.literal("ISO-10303-21") {
		return nil, fmt.Errorf("missing ISO-10303-21 marker")
	}
	if err := p.terminator(); err != nil {
		return nil, err
	}

	for {
		p.skipSpace()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("unexpected end of file before END-ISO-10303-21")
		}
		if p.data[p.pos] == '#' {
			inst, err := p.parseInstance()
			if err != nil {
				return nil, err
			}
			if inst != nil {
				if _, dup := f.Instances[inst.ID]; dup {
					return nil, fmt.Errorf("duplicate instance #%d", inst.ID)
				}
				f.Instances[inst.ID] = inst
				f.byType[inst.Type] = append(f.byType[inst.Type], inst)
			}
			continue
		}

		kw, err := p.parseKeyword()
		if err != nil {
			return nil, err
		}
		switch kw {
		case "END-ISO-10303-21":
			p.terminatorOptional()
			return f, nil
		case "HEADER", "DATA", "ENDSEC":
			if err := p.terminator(); err != nil {
				return nil, err
			}
		default:
			// Header entity such as FILE_SCHEMA(('IFC4'));
			args, err := p.parseArgs()
			if err != nil {
				return nil, fmt.Errorf("header entity %s: %w", kw, err)
			}
			if kw == "FILE_SCHEMA" {
				f.Schema = firstString(args)
			}
			if err := p.terminator(); err != nil {
				return nil, err
			}
		}
	}
}

// ByType returns all instances of the named entity types, sorted by
// instance number. Matching is case-insensitive; types absent from the
// file contribute nothing.
func (f *File) ByType(names ...string) []*Instance {
	var out []*Instance
	for _, name := range names {
		out = append(out, f.byType[strings.ToUpper(name)]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Deref resolves an argument value to the instance it references, or nil
// if the value is not a reference or the target does not exist.
func (f *File) Deref(v any) *Instance {
	r, ok := v.(ref)
	if !ok {
		return nil
	}
	return f.Instances[int64(r)]
}

// arg returns the i-th argument or nil when the instance is shorter.
func (in *Instance) arg(i int) any {
	if i < 0 || i >= len(in.Args) {
		return nil
	}
	return in.Args[i]
}

// str returns the i-th argument as a string, unwrapping typed values and
// enumerations. Missing or non-string arguments yield "".
func (in *Instance) str(i int) string {
	s, _ := asString(in.arg(i))
	return s
}

// num returns the i-th argument as a number, unwrapping typed values
// such as IFCAREAMEASURE(24.5).
func (in *Instance) num(i int) (float64, bool) {
	return asNumber(in.arg(i))
}

// list returns the i-th argument as an aggregate, or nil.
func (in *Instance) list(i int) []any {
	l, _ := in.arg(i).([]any)
	return l
}

// unwrap strips typed-value wrappers with a single argument.
func unwrap(v any) any {
	for {
		t, ok := v.(typed)
		if !ok || len(t.args) != 1 {
			return v
		}
		v = t.args[0]
	}
}

func asString(v any) (string, bool) {
	switch x := unwrap(v).(type) {
	case string:
		return x, true
	case enum:
		return string(x), true
	}
	return "", false
}

func asNumber(v any) (float64, bool) {
	n, ok := unwrap(v).(float64)
	return n, ok
}

// firstString digs the first plain string out of nested aggregates,
// as needed for FILE_SCHEMA(('IFC4')).
func firstString(args []any) string {
	for _, a := range args {
		switch x := a.(type) {
		case string:
			return x
		case []any:
			if s := firstString(x); s != "" {
				return s
			}
		}
	}
	return ""
}

type stepParser struct {
	data []byte
	pos  int
}

// parseInstance reads #id=NAME(args); and returns the instance. Complex
// (multi-record) instances are skipped and reported as nil.
func (p *stepParser) parseInstance() (*Instance, error) {
	p.pos++ // '#'
	start := p.pos
	for p.pos < len(p.data) && isDigit(p.data[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return nil, fmt.Errorf("instance name without number at offset %d", start)
	}
	id, err := strconv.ParseInt(string(p.data[start:p.pos]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("instance number: %w", err)
	}

	p.skipSpace()
	if p.pos >= len(p.data) || p.data[p.pos] != '=' {
		return nil, fmt.Errorf("instance #%d: expected '='", id)
	}
	p.pos++
	p.skipSpace()

	if p.pos < len(p.data) && p.data[p.pos] == '(' {
		// External-mapping record (#1=(A()B());). IFC exports do not use
		// these for building elements, so skip to the terminator.
		if err := p.skipBalanced(); err != nil {
			return nil, fmt.Errorf("instance #%d: %w", id, err)
		}
		if err := p.terminator(); err != nil {
			return nil, fmt.Errorf("instance #%d: %w", id, err)
		}
		return nil, nil
	}

	name, err := p.parseKeyword()
	if err != nil {
		return nil, fmt.Errorf("instance #%d: %w", id, err)
	}
	args, err := p.parseArgs()
	if err != nil {
		return nil, fmt.Errorf("instance #%d (%s): %w", id, name, err)
	}
	if err := p.terminator(); err != nil {
		return nil, fmt.Errorf("instance #%d (%s): %w", id, name, err)
	}
	return &Instance{ID: id, Type: name, Args: args}, nil
}

// parseArgs reads a parenthesised, comma-separated argument list.
func (p *stepParser) parseArgs() ([]any, error) {
	p.skipSpace()
	if p.pos >= len(p.data) || p.data[p.pos] != '(' {
		return nil, fmt.Errorf("expected '(' at offset %d", p.pos)
	}
	p.pos++
	args := []any{}
	for {
		p.skipSpace()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("unterminated argument list")
		}
		if p.data[p.pos] == ')' {
			p.pos++
			return args, nil
		}
		if len(args) > 0 {
			if p.data[p.pos] != ',' {
				return nil, fmt.Errorf("expected ',' at offset %d", p.pos)
			}
			p.pos++
			p.skipSpace()
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
}

func (p *stepParser) parseValue() (any, error) {
	if p.pos >= len(p.data) {
		return nil, fmt.Errorf("unexpected end of file in value")
	}
	switch c := p.data[p.pos]; {
	case c == '\'':
		return p.parseString()
	case c == '#':
		p.pos++
		start := p.pos
		for p.pos < len(p.data) && isDigit(p.data[p.pos]) {
			p.pos++
		}
		if p.pos == start {
			return nil, fmt.Errorf("reference without number at offset %d", start)
		}
		n, err := strconv.ParseInt(string(p.data[start:p.pos]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("reference: %w", err)
		}
		return ref(n), nil
	case c == '.':
		return p.parseEnum()
	case c == '$':
		p.pos++
		return nil, nil
	case c == '*':
		p.pos++
		return derived{}, nil
	case c == '(':
		return p.parseArgs()
	case c == '"':
		return p.parseBinary()
	case isDigit(c) || c == '+' || c == '-':
		return p.parseNumber()
	case isUpper(c) || c == '_':
		name, err := p.parseKeyword()
		if err != nil {
			return nil, err
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, fmt.Errorf("typed value %s: %w", name, err)
		}
		return typed{name: name, args: args}, nil
	default:
		return nil, fmt.Errorf("unexpected byte %q at offset %d", c, p.pos)
	}
}

// parseString reads a quoted STEP string and decodes its escapes:
// doubled quotes, \\, \X2\..\X0\ (UTF-16), \X4\..\X0\ (UTF-32),
// \X\hh\ and \S\c (Latin-1). Raw bytes outside escapes pass through
// unchanged, which keeps files that ignore the encoding rules intact.
func (p *stepParser) parseString() (string, error) {
	start := p.pos
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case c == '\'':
			if p.pos+1 < len(p.data) && p.data[p.pos+1] == '\'' {
				sb.WriteByte('\'')
				p.pos += 2
				continue
			}
			p.pos++
			return sb.String(), nil
		case c == '\\':
			n, err := p.decodeEscape(&sb)
			if err != nil {
				return "", err
			}
			p.pos += n
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string starting at offset %d", start)
}

// decodeEscape handles the backslash escapes of ISO 10303-21 strings and
// returns the number of input bytes consumed.
func (p *stepParser) decodeEscape(sb *strings.Builder) (int, error) {
	rest := p.data[p.pos:]
	switch {
	case len(rest) >= 2 && rest[1] == '\\':
		sb.WriteByte('\\')
		return 2, nil
	case len(rest) >= 4 && rest[1] == 'S' && rest[2] == '\\':
		sb.WriteRune(rune(rest[3]) + 0x80)
		return 4, nil
	case len(rest) >= 6 && rest[1] == 'X' && rest[2] == '\\':
		b, err := strconv.ParseUint(string(rest[3:5]), 16, 8)
		if err != nil || rest[5] != '\\' {
			return 0, fmt.Errorf("bad \\X\\ escape at offset %d", p.pos)
		}
		sb.WriteRune(rune(b))
		return 6, nil
	case len(rest) >= 4 && rest[1] == 'X' && (rest[2] == '2' || rest[2] == '4') && rest[3] == '\\':
		width := 4
		if rest[2] == '4' {
			width = 8
		}
		i := 4
		var units []uint16
		for {
			if i+2 < len(rest) && rest[i] == '\\' && rest[i+1] == 'X' && rest[i+2] == '0' {
				if i+3 >= len(rest) || rest[i+3] != '\\' {
					return 0, fmt.Errorf("bad \\X0\\ terminator at offset %d", p.pos+i)
				}
				i += 4
				break
			}
			if i+width > len(rest) {
				return 0, fmt.Errorf("unterminated \\X%c\\ escape at offset %d", rest[2], p.pos)
			}
			v, err := strconv.ParseUint(string(rest[i:i+width]), 16, 32)
			if err != nil {
				return 0, fmt.Errorf("bad hex in \\X%c\\ escape at offset %d", rest[2], p.pos+i)
			}
			if width == 8 {
				sb.WriteRune(rune(v))
			} else {
				units = append(units, uint16(v))
			}
			i += width
		}
		if len(units) > 0 {
			sb.WriteString(string(utf16.Decode(units)))
		}
		return i, nil
	default:
		// Lone backslash, e.g. in Windows paths written without escaping.
		sb.WriteByte('\\')
		return 1, nil
	}
}

func (p *stepParser) parseBinary() (any, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.data) {
		if p.data[p.pos] == '"' {
			s := string(p.data[start+1 : p.pos])
			p.pos++
			return s, nil
		}
		p.pos++
	}
	return nil, fmt.Errorf("unterminated binary starting at offset %d", start)
}

func (p *stepParser) parseEnum() (any, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.data) {
		if p.data[p.pos] == '.' {
			e := enum(p.data[start+1 : p.pos])
			p.pos++
			return e, nil
		}
		if !isUpper(p.data[p.pos]) && !isDigit(p.data[p.pos]) && p.data[p.pos] != '_' {
			break
		}
		p.pos++
	}
	return nil, fmt.Errorf("unterminated enumeration at offset %d", start)
}

func (p *stepParser) parseNumber() (any, error) {
	start := p.pos
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isDigit(c) || c == '+' || c == '-' || c == '.' || c == 'E' || c == 'e' {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(string(p.data[start:p.pos]), 64)
	if err != nil {
		return nil, fmt.Errorf("number %q at offset %d", p.data[start:p.pos], start)
	}
	return f, nil
}

// parseKeyword reads an entity or section name: upper-case letters,
// digits, underscores and the hyphens of the section markers.
func (p *stepParser) parseKeyword() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isUpper(c) || isDigit(c) || c == '_' || c == '-' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", fmt.Errorf("expected keyword at offset %d", start)
	}
	return string(p.data[start:p.pos]), nil
}

// skipBalanced consumes a parenthesised region, honouring strings.
func (p *stepParser) skipBalanced() error {
	depth := 0
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case '(':
			depth++
			p.pos++
		case ')':
			depth--
			p.pos++
			if depth == 0 {
				return nil
			}
		case '\'':
			if _, err := p.parseString(); err != nil {
				return err
			}
		default:
			p.pos++
		}
	}
	return fmt.Errorf("unterminated parenthesis")
}

func (p *stepParser) terminator() error {
	p.skipSpace()
	if p.pos >= len(p.data) || p.data[p.pos] != ';' {
		return fmt.Errorf("expected ';' at offset %d", p.pos)
	}
	p.pos++
	return nil
}

func (p *stepParser) terminatorOptional() {
	p.skipSpace()
	if p.pos < len(p.data) && p.data[p.pos] == ';' {
		p.pos++
	}
}

func (p *stepParser) literal(s string) bool {
	if p.pos+len(s) > len(p.data) || string(p.data[p.pos:p.pos+len(s)]) != s {
		return false
	}
	p.pos += len(s)
	return true
}

// skipSpace consumes whitespace and /* ... */ comments.
func (p *stepParser) skipSpace() {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f':
			p.pos++
		case c == '/' && p.pos+1 < len(p.data) && p.data[p.pos+1] == '*':
			p.pos += 2
			closed := false
			for p.pos+1 < len(p.data) {
				if p.data[p.pos] == '*' && p.data[p.pos+1] == '/' {
					p.pos += 2
					closed = true
					break
				}
				p.pos++
			}
			if !closed {
				p.pos = len(p.data)
			}
		default:
			return
		}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
