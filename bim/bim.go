// Package bim extracts building entities from IFC models exchanged as
// STEP physical files. Spaces, building-services systems and mechanical
// equipment are mapped together with their property-set values, and the
// model's relation instances wire spaces, plants and devices to each
// other. Every entity keeps its IFC GlobalId, both on the entity and on
// its source reference.
package bim

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tsawler/aedile/entity"
	"github.com/tsawler/aedile/format"
)

// equipmentTypes are the entity classes mapped to devices. ByType
// matches the concrete class written to the file, so the IFC4 leaf
// classes and the coarser IFC2X3 distribution classes are both listed.
var equipmentTypes = []string{
	"IfcUnitaryEquipment", "IfcAirTerminal", "IfcFan", "IfcPump",
	"IfcBoiler", "IfcChiller", "IfcSpaceHeater", "IfcCompressor",
	"IfcFlowMovingDevice", "IfcFlowTerminal", "IfcEnergyConversionDevice",
	"IfcFlowController",
}

// servicesTerms identify HVAC, sanitary and sprinkler systems among the
// model's system instances. Compared against lower-cased names.
var servicesTerms = []string{
	"hvac", "heiz", "heat", "kühl", "kuehl", "kalt", "kälte", "kaelte",
	"cool", "lüft", "lueft", "vent", "luft", "air", "klima", "rlt",
	"sanit", "plumb", "sprinkler",
}

// classNames restores the canonical spelling of the upper-cased type
// names the parser returns, for source references.
var classNames = map[string]string{}

func init() {
	names := append([]string{
		"IfcSpace", "IfcSystem", "IfcDistributionSystem", "IfcZone",
		"IfcBuildingStorey",
	}, equipmentTypes...)
	for _, n := range names {
		classNames[strings.ToUpper(n)] = n
	}
}

func className(t string) string {
	if n, ok := classNames[t]; ok {
		return n
	}
	return t
}

// Extractor turns IFC models into building entities.
type Extractor struct {
	log *zap.SugaredLogger
}

// New creates a model extractor. A nil logger disables logging.
func New(log *zap.SugaredLogger) *Extractor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Extractor{log: log.Named("bim")}
}

// Formats lists the document formats this extractor accepts.
func (e *Extractor) Formats() []format.Format {
	return []format.Format{format.IFC}
}

// Extract parses the model file and maps spaces, building-services
// systems and mechanical equipment into entities.
func (e *Extractor) Extract(ctx context.Context, doc *entity.Document) (*entity.Extraction, error) {
	f, mismatch, err := format.DetectDocument(doc)
	if err != nil {
		return nil, err
	}
	if f != format.IFC {
		return nil, fmt.Errorf("%w: %s is %s, not an IFC model", entity.ErrUnsupportedFormat, doc.Name, f)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := ParseSTEP(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedDocument, err)
	}

	ext := entity.NewExtraction(doc, f.String())
	if mismatch {
		ext.Warn(entity.WarnFormatMismatch,
			fmt.Sprintf("Dateiendung von %s passt nicht zum Inhalt (%s)", doc.Name, f), nil)
	}

	schema := strings.ToUpper(file.Schema)
	switch {
	case strings.HasPrefix(schema, "IFC2X3"):
		schema = "IFC2X3"
	case strings.HasPrefix(schema, "IFC4"):
		schema = "IFC4"
	default:
		ext.Warn(entity.WarnLowConfidence,
			fmt.Sprintf("unbekanntes IFC-Schema %q, Zuordnung nach IFC4", file.Schema), nil)
		schema = "IFC4"
	}
	ext.Metadata.Schema = schema

	m := newModel(file)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mapSpaces(ext, doc, m)
	e.mapSystems(ext, doc, m)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mapEquipment(ext, doc, m)
	m.wireServedSpaces()

	e.log.Debugw("model extracted",
		"file", doc.Name,
		"schema", schema,
		"raeume", len(ext.Spaces),
		"anlagen", len(ext.Plants),
		"geraete", len(ext.Devices))
	return ext, nil
}

// model carries the relation indexes needed to map instances, and the
// entities already created for them.
type model struct {
	file *File

	properties map[int64][]*Instance // object → property set definitions
	container  map[int64]*Instance   // element → spatial structure
	parent     map[int64]*Instance   // object → decomposing parent
	groups     map[int64][]*Instance // object → assigned groups

	spaces map[int64]*entity.Space
	plants map[int64]*entity.Plant
}

func newModel(f *File) *model {
	m := &model{
		file:       f,
		properties: make(map[int64][]*Instance),
		container:  make(map[int64]*Instance),
		parent:     make(map[int64]*Instance),
		groups:     make(map[int64][]*Instance),
		spaces:     make(map[int64]*entity.Space),
		plants:     make(map[int64]*entity.Plant),
	}

	for _, rel := range f.ByType("IfcRelDefinesByProperties") {
		def := f.Deref(rel.arg(5))
		if def == nil {
			continue
		}
		for _, id := range refIDs(rel.list(4)) {
			m.properties[id] = append(m.properties[id], def)
		}
	}
	for _, rel := range f.ByType("IfcRelContainedInSpatialStructure") {
		structure := f.Deref(rel.arg(5))
		if structure == nil {
			continue
		}
		for _, id := range refIDs(rel.list(4)) {
			m.container[id] = structure
		}
	}
	for _, rel := range f.ByType("IfcRelAggregates") {
		parent := f.Deref(rel.arg(4))
		if parent == nil {
			continue
		}
		for _, id := range refIDs(rel.list(5)) {
			m.parent[id] = parent
		}
	}
	for _, rel := range f.ByType("IfcRelAssignsToGroup") {
		group := f.Deref(rel.arg(6))
		if group == nil {
			continue
		}
		for _, id := range refIDs(rel.list(4)) {
			m.groups[id] = append(m.groups[id], group)
		}
	}
	return m
}

func refPtr(ref entity.SourceRef) *entity.SourceRef { return &ref }

func refIDs(list []any) []int64 {
	out := make([]int64, 0, len(list))
	for _, v := range list {
		if r, ok := v.(ref); ok {
			out = append(out, int64(r))
		}
	}
	return out
}

// propValue looks up a property or quantity on an object. Earlier names
// take precedence; comparison is case-insensitive.
func (m *model) propValue(objID int64, names ...string) (any, bool) {
	for _, name := range names {
		for _, def := range m.properties[objID] {
			switch def.Type {
			case "IFCPROPERTYSET":
				for _, pv := range def.list(4) {
					prop := m.file.Deref(pv)
					if prop == nil || prop.Type != "IFCPROPERTYSINGLEVALUE" {
						continue
					}
					if strings.EqualFold(prop.str(0), name) {
						return unwrap(prop.arg(2)), true
					}
				}
			case "IFCELEMENTQUANTITY":
				for _, qv := range def.list(5) {
					q := m.file.Deref(qv)
					if q == nil || !strings.HasPrefix(q.Type, "IFCQUANTITY") {
						continue
					}
					if strings.EqualFold(q.str(0), name) {
						if n, ok := q.num(3); ok {
							return n, true
						}
					}
				}
			}
		}
	}
	return nil, false
}

func (m *model) numProp(objID int64, names ...string) (float64, bool) {
	v, ok := m.propValue(objID, names...)
	if !ok {
		return 0, false
	}
	return asNumber(v)
}

func (m *model) strProp(objID int64, names ...string) (string, bool) {
	v, ok := m.propValue(objID, names...)
	if !ok {
		return "", false
	}
	return asString(v)
}

// storeyOf climbs the containment and decomposition chain to the
// enclosing building storey.
func (m *model) storeyOf(objID int64) *Instance {
	at := m.container[objID]
	if at == nil {
		at = m.parent[objID]
	}
	for depth := 0; at != nil && depth < 8; depth++ {
		if at.Type == "IFCBUILDINGSTOREY" {
			return at
		}
		next := m.parent[at.ID]
		if next == nil {
			next = m.container[at.ID]
		}
		at = next
	}
	return nil
}

// zoneOf returns the name of the first zone the object is grouped into.
func (m *model) zoneOf(objID int64) string {
	for _, g := range m.groups[objID] {
		if g.Type != "IFCZONE" {
			continue
		}
		if n := g.str(2); n != "" {
			return n
		}
		return g.str(0)
	}
	return ""
}

func (e *Extractor) mapSpaces(ext *entity.Extraction, doc *entity.Document, m *model) {
	for _, sp := range m.file.ByType("IfcSpace") {
		guid := sp.str(0)
		if guid == "" {
			ext.Warn(entity.WarnSkipped,
				fmt.Sprintf("IfcSpace #%d ohne GlobalId übersprungen", sp.ID), nil)
			continue
		}
		src := doc.Ref(entity.SourceModel)
		src.GlobalID = guid
		src.Object = "IfcSpace"

		s := &entity.Space{ID: entity.SpaceID(guid), GlobalID: guid}

		number := sp.str(2)
		name := sp.str(7)
		if name == "" {
			name = number
		}
		if name != "" {
			s.Name = entity.Resolved(name)
			src.AddField("name")
		}
		if number != "" {
			s.Number = entity.Resolved(number)
			src.AddField("nummer")
		}
		if v, ok := m.numProp(sp.ID, "NetFloorArea", "GrossFloorArea"); ok {
			s.AreaM2 = entity.Resolved(v)
			src.AddField("flaeche_m2")
		}
		if v, ok := m.numProp(sp.ID, "NetVolume", "GrossVolume"); ok {
			s.VolumeM3 = entity.Resolved(v)
			src.AddField("volumen_m3")
		}
		if v, ok := m.numProp(sp.ID, "Height", "FinishCeilingHeight"); ok {
			s.HeightM = entity.Resolved(v)
			src.AddField("hoehe_m")
		}
		if v, ok := m.strProp(sp.ID, "Usage", "Category", "OccupancyType"); ok && v != "" {
			s.Usage = entity.Resolved(v)
			src.AddField("nutzungsart")
		}

		// The storey wins over a Level property when both exist.
		floor, _ := m.strProp(sp.ID, "Level")
		if st := m.storeyOf(sp.ID); st != nil {
			if n := st.str(2); n != "" {
				floor = n
			} else {
				floor = st.str(0)
			}
		}
		if floor != "" {
			s.Floor = entity.Resolved(floor)
			src.AddField("geschoss")
		}
		if z := m.zoneOf(sp.ID); z != "" {
			s.Zone = entity.Resolved(z)
			src.AddField("zone")
		}

		s.AddSource(src)
		ext.Spaces = append(ext.Spaces, s)
		m.spaces[sp.ID] = s
	}
}

func (e *Extractor) mapSystems(ext *entity.Extraction, doc *entity.Document, m *model) {
	for _, sys := range m.file.ByType("IfcSystem", "IfcDistributionSystem") {
		guid := sys.str(0)
		if guid == "" {
			ext.Warn(entity.WarnSkipped,
				fmt.Sprintf("%s #%d ohne GlobalId übersprungen", className(sys.Type), sys.ID), nil)
			continue
		}
		name := sys.str(2)
		objType := sys.str(4)
		var longName, predefined string
		if sys.Type == "IFCDISTRIBUTIONSYSTEM" {
			longName = sys.str(5)
			predefined = sys.str(6)
		}
		if !isBuildingServices(predefined, objType, name, longName) {
			continue
		}

		src := doc.Ref(entity.SourceModel)
		src.GlobalID = guid
		src.Object = className(sys.Type)

		p := &entity.Plant{ID: entity.PlantID(guid), GlobalID: guid}
		if name != "" {
			p.Name = entity.Resolved(name)
			src.AddField("name")
		} else {
			p.Incomplete = true
			ext.Warn(entity.WarnIncomplete,
				fmt.Sprintf("Anlage %s ohne Bezeichnung", guid), refPtr(src))
		}
		kind := predefined
		if kind == "" {
			kind = objType
		}
		if kind == "" {
			kind = "HLKS-System"
		}
		p.Kind = entity.Resolved(kind)
		src.AddField("typ")
		if v, ok := m.numProp(sys.ID, "TotalPower", "Power"); ok {
			p.PowerKW = entity.Resolved(v)
			src.AddField("leistung_kw")
		}
		if v, ok := m.numProp(sys.ID, "AirFlowRate", "FlowRate"); ok {
			p.AirflowM3H = entity.Resolved(v)
			src.AddField("leistung_m3_h")
		}

		p.AddSource(src)
		ext.Plants = append(ext.Plants, p)
		m.plants[sys.ID] = p
	}
}

func isBuildingServices(fields ...string) bool {
	for _, f := range fields {
		low := strings.ToLower(f)
		for _, term := range servicesTerms {
			if strings.Contains(low, term) {
				return true
			}
		}
	}
	return false
}

func (e *Extractor) mapEquipment(ext *entity.Extraction, doc *entity.Document, m *model) {
	for _, eq := range m.file.ByType(equipmentTypes...) {
		guid := eq.str(0)
		class := className(eq.Type)
		if guid == "" {
			ext.Warn(entity.WarnSkipped,
				fmt.Sprintf("%s #%d ohne GlobalId übersprungen", class, eq.ID), nil)
			continue
		}

		src := doc.Ref(entity.SourceModel)
		src.GlobalID = guid
		src.Object = class

		d := &entity.Device{ID: entity.DeviceID(guid), GlobalID: guid}
		if name := eq.str(2); name != "" {
			d.Name = entity.Resolved(name)
			src.AddField("name")
		} else {
			d.Incomplete = true
			ext.Warn(entity.WarnIncomplete,
				fmt.Sprintf("%s %s ohne Bezeichnung", class, guid), refPtr(src))
		}
		kind := eq.str(4)
		if kind == "" {
			kind = strings.TrimPrefix(class, "Ifc")
		}
		d.Kind = entity.Resolved(kind)
		src.AddField("typ")
		if v, ok := m.numProp(eq.ID, "Power", "TotalPower"); ok {
			d.PowerKW = entity.Resolved(v)
			src.AddField("leistung_kw")
		}
		if v, ok := m.numProp(eq.ID, "FlowRate", "AirFlowRate"); ok {
			d.AirflowM3H = entity.Resolved(v)
			src.AddField("leistung_m3_h")
		}

		// Direct containment in a space gives the device its room.
		if st := m.container[eq.ID]; st != nil && st.Type == "IFCSPACE" {
			if s := m.spaces[st.ID]; s != nil {
				room := st.str(2)
				if room == "" {
					room = s.ID
				}
				d.Space = entity.Resolved(room)
				src.AddField("zugehoeriger_raum")
				s.Devices = entity.UnionStrings(s.Devices, []string{d.ID})
			}
		}

		// Group assignment to a mapped system gives the device its plant.
		for _, g := range m.groups[eq.ID] {
			p := m.plants[g.ID]
			if p == nil {
				continue
			}
			d.SystemID = p.GlobalID
			plant := p.Name.Or(p.ID)
			d.Plant = entity.Resolved(plant)
			src.AddField("zugehoerige_anlage")
			p.Devices = entity.UnionStrings(p.Devices, []string{d.ID})
			break
		}

		d.AddSource(src)
		ext.Devices = append(ext.Devices, d)
	}
}

// wireServedSpaces links systems to the spaces they serve, in both
// directions, using the model's IfcRelServicesBuildings instances.
func (m *model) wireServedSpaces() {
	for _, rel := range m.file.ByType("IfcRelServicesBuildings") {
		sys := m.file.Deref(rel.arg(4))
		if sys == nil {
			continue
		}
		p := m.plants[sys.ID]
		if p == nil {
			continue
		}
		for _, id := range refIDs(rel.list(5)) {
			s := m.spaces[id]
			if s == nil {
				continue
			}
			p.Spaces = entity.UnionStrings(p.Spaces, []string{s.ID})
			s.Plants = entity.UnionStrings(s.Plants, []string{p.ID})
		}
	}
}
