package tabular

import (
	"strconv"
	"strings"
)

// Table kinds the extractor recognizes.
const (
	KindRooms    = "raumliste"
	KindDevices  = "geraeteliste"
	KindPlants   = "anlagenliste"
	KindSchedule = "terminplan"
	KindServices = "leistungsverzeichnis"
	KindUnknown  = ""
)

// kindKeywords maps table names to kinds. Order matters: the first kind
// with a matching keyword wins.
var kindKeywords = []struct {
	kind     string
	keywords []string
}{
	{KindRooms, []string{"raum", "räume", "raeume", "room"}},
	{KindDevices, []string{"geraet", "gerät", "equipment", "device"}},
	{KindPlants, []string{"anlage", "system"}},
	{KindSchedule, []string{"termin", "zeitplan", "meilenstein", "schedule"}},
	{KindServices, []string{"leistungsverzeichnis", "leistung", "lv", "position"}},
}

// ClassifyTable determines what a table holds from its name, falling
// back to header signatures when the name is silent.
func ClassifyTable(name string, headers []string) string {
	n := strings.ToLower(name)
	for _, kk := range kindKeywords {
		for _, kw := range kk.keywords {
			if strings.Contains(n, kw) {
				return kk.kind
			}
		}
	}
	return classifyByHeaders(headers)
}

func classifyByHeaders(headers []string) string {
	has := func(kws ...string) bool {
		for _, h := range headers {
			hl := strings.ToLower(h)
			for _, kw := range kws {
				if strings.Contains(hl, kw) {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has("raum") && has("fläche", "flaeche", "m²", "m2"):
		return KindRooms
	case has("datum", "termin") && has("beschreibung", "aufgabe", "vorgang", "meilenstein"):
		return KindSchedule
	case has("position", "pos") && has("menge", "einheit"):
		return KindServices
	case has("typ", "gerät", "geraet") && has("leistung", "kw", "volumenstrom"):
		return KindDevices
	case has("anlage"):
		return KindPlants
	}
	return KindUnknown
}

// columnSpec binds an entity field to the header keywords that select
// its column.
type columnSpec struct {
	field    string
	keywords []string
}

var roomColumns = []columnSpec{
	{"nummer", []string{"raumnummer", "raum-nr", "raumnr", "raum nr", "nummer", "nr.", "nr", "raum", "room"}},
	{"name", []string{"raumbezeichnung", "bezeichnung", "name"}},
	{"flaeche", []string{"fläche", "flaeche", "m²", "m2", "area", "grundfläche", "grundflaeche"}},
	{"volumen", []string{"volumen", "m³", "m3", "volume", "rauminhalt"}},
	{"hoehe", []string{"höhe", "hoehe", "height"}},
	{"nutzung", []string{"nutzungsart", "nutzung", "usage", "verwendung", "art"}},
	{"geschoss", []string{"geschoss", "etage", "ebene", "stockwerk", "floor", "storey"}},
	{"zone", []string{"zone", "bereich"}},
}

var deviceColumns = []columnSpec{
	{"name", []string{"bezeichnung", "gerätebezeichnung", "geraetebezeichnung", "name", "gerät", "geraet", "equipment", "device"}},
	{"typ", []string{"typ", "type", "art"}},
	{"leistung_kw", []string{"leistung (kw)", "leistung kw", "nennleistung", "leistung", "kw", "power"}},
	{"leistung_m3_h", []string{"volumenstrom", "luftmenge", "m³/h", "m3/h", "airflow"}},
	{"anlage", []string{"anlage", "system", "zuordnung"}},
	{"raum", []string{"raum", "standort", "aufstellort", "einbauort", "location"}},
}

var plantColumns = []columnSpec{
	{"name", []string{"anlagenbezeichnung", "bezeichnung", "name", "anlage"}},
	{"typ", []string{"typ", "type", "art"}},
	{"leistung_kw", []string{"leistung (kw)", "leistung kw", "nennleistung", "leistung", "kw", "power"}},
	{"leistung_m3_h", []string{"volumenstrom", "luftmenge", "m³/h", "m3/h", "airflow"}},
}

var scheduleColumns = []columnSpec{
	{"beschreibung", []string{"beschreibung", "aufgabe", "vorgang", "meilenstein", "bezeichnung", "task"}},
	{"datum", []string{"datum", "termin", "deadline", "abgabe", "fertigstellung", "ende", "date"}},
	{"kategorie", []string{"kategorie", "category"}},
	{"phase", []string{"sia-phase", "sia phase", "leistungsphase", "phase", "sia"}},
	{"abhaengig", []string{"abhängig", "abhaengig", "vorgänger", "vorgaenger", "depends"}},
}

var serviceColumns = []columnSpec{
	{"position", []string{"position", "pos.", "pos", "oz", "ordnungszahl"}},
	{"beschreibung", []string{"kurztext", "langtext", "beschreibung", "leistung", "text"}},
	{"einheit", []string{"einheit", "mengeneinheit", "unit", "me"}},
	{"menge", []string{"menge", "anzahl", "quantity"}},
	{"gewerk", []string{"gewerk", "disziplin", "trade"}},
	{"kategorie", []string{"kategorie", "art", "category"}},
	{"phase", []string{"sia-phase", "sia phase", "leistungsphase", "phase", "sia"}},
}

func columnsFor(kind string) []columnSpec {
	switch kind {
	case KindRooms:
		return roomColumns
	case KindDevices:
		return deviceColumns
	case KindPlants:
		return plantColumns
	case KindSchedule:
		return scheduleColumns
	case KindServices:
		return serviceColumns
	}
	return nil
}

// mapColumns resolves each field to the first header column matching one
// of its keywords. Specs are tried in order and a column serves at most
// one field.
func mapColumns(headers []string, specs []columnSpec) map[string]int {
	cols := make(map[string]int)
	taken := make(map[int]bool)

	for _, spec := range specs {
		for _, kw := range spec.keywords {
			found := -1
			for i, h := range headers {
				if taken[i] {
					continue
				}
				if strings.Contains(strings.ToLower(strings.TrimSpace(h)), kw) {
					found = i
					break
				}
			}
			if found >= 0 {
				cols[spec.field] = found
				taken[found] = true
				break
			}
		}
	}
	return cols
}

// findHeaderRow locates the first row carrying textual cells within the
// scan window. When that row matches no known columns but a later row
// matches at least two, the later row wins; title banners above the real
// header are common in exported lists.
func findHeaderRow(rows [][]string, specs []columnSpec) (int, bool) {
	window := len(rows)
	if window > headerScanRows {
		window = headerScanRows
	}

	first := -1
	for i := 0; i < window; i++ {
		if !rowHasText(rows[i]) {
			continue
		}
		if first < 0 {
			first = i
		}
		if len(specs) == 0 {
			break
		}
		if len(mapColumns(rows[i], specs)) >= 2 {
			return i, true
		}
	}
	if first >= 0 {
		return first, true
	}
	return 0, false
}

func rowHasText(row []string) bool {
	for _, cell := range row {
		c := strings.TrimSpace(cell)
		if c == "" {
			continue
		}
		if _, ok := ParseNumber(c); !ok {
			return true
		}
	}
	return false
}

// headerLabels fills empty or missing header cells with positional
// names so raw tables always carry a full header row.
func headerLabels(header []string, width int) []string {
	labels := make([]string, width)
	for i := 0; i < width; i++ {
		v := ""
		if i < len(header) {
			v = strings.TrimSpace(header[i])
		}
		if v == "" {
			v = spalteLabel(i)
		}
		labels[i] = v
	}
	return labels
}

func spalteLabel(i int) string {
	return "Spalte_" + strconv.Itoa(i+1)
}
