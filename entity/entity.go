// Package entity defines the domain model shared by all extractors and the
// merge engine: building-services entities (spaces, plants, devices,
// requirements, schedule and service items), source references locating every
// value in its originating document, contested values for conflicting
// observations, and the canonical project dataset.
package entity

// Entity type names as they appear in output and logs.
const (
	TypeSpace       = "raum"
	TypePlant       = "anlage"
	TypeDevice      = "geraet"
	TypeRequirement = "anforderung"
	TypeSchedule    = "termin"
	TypeService     = "leistung"
)

// Entity is the common surface of all extracted entity types.
type Entity interface {
	// EntityID returns the stable identifier.
	EntityID() string
	// TypeName returns the entity type name (raum, anlage, ...).
	TypeName() string
	// SourceRefs returns all source references carried by the entity.
	SourceRefs() []SourceRef
	// AddSource appends a source reference, skipping duplicates.
	AddSource(SourceRef)
}

// Space is a bounded area or room with physical and usage attributes.
type Space struct {
	ID          string            `json:"id"`
	Name        Value[string]     `json:"name"`
	Number      Value[string]     `json:"nummer"`
	Floor       Value[string]     `json:"geschoss"`
	AreaM2      Value[float64]    `json:"flaeche_m2"`
	VolumeM3    Value[float64]    `json:"volumen_m3"`
	HeightM     Value[float64]    `json:"hoehe_m"`
	Usage       Value[string]     `json:"nutzungsart"`
	Zone        Value[string]     `json:"zone"`
	GlobalID    string            `json:"ifc_guid,omitempty"`
	Plants      []string          `json:"zugehoerige_anlagen,omitempty"`
	Devices     []string          `json:"zugehoerige_geraete,omitempty"`
	Unconfirmed bool              `json:"unbestaetigt,omitempty"`
	Incomplete  bool              `json:"unvollstaendig,omitempty"`
	Extra       map[string]string `json:"zusatz,omitempty"`
	Sources     []SourceRef       `json:"quellen"`
}

func (s *Space) EntityID() string        { return s.ID }
func (s *Space) TypeName() string        { return TypeSpace }
func (s *Space) SourceRefs() []SourceRef { return s.Sources }
func (s *Space) AddSource(src SourceRef) { s.Sources = appendSource(s.Sources, src) }

// Plant is a mechanical or technical system serving one or more spaces.
type Plant struct {
	ID          string            `json:"id"`
	Name        Value[string]     `json:"name"`
	Kind        Value[string]     `json:"typ"`
	PowerKW     Value[float64]    `json:"leistung_kw"`
	AirflowM3H  Value[float64]    `json:"leistung_m3_h"`
	GlobalID    string            `json:"ifc_guid,omitempty"`
	Spaces      []string          `json:"zugehoerige_raeume,omitempty"`
	Devices     []string          `json:"zugehoerige_geraete,omitempty"`
	Unconfirmed bool              `json:"unbestaetigt,omitempty"`
	Incomplete  bool              `json:"unvollstaendig,omitempty"`
	Extra       map[string]string `json:"zusatz,omitempty"`
	Sources     []SourceRef       `json:"quellen"`
}

func (p *Plant) EntityID() string        { return p.ID }
func (p *Plant) TypeName() string        { return TypePlant }
func (p *Plant) SourceRefs() []SourceRef { return p.Sources }
func (p *Plant) AddSource(src SourceRef) { p.Sources = appendSource(p.Sources, src) }

// Device is a piece of equipment or a terminal unit belonging to a plant.
type Device struct {
	ID          string            `json:"id"`
	Name        Value[string]     `json:"name"`
	Kind        Value[string]     `json:"typ"`
	PowerKW     Value[float64]    `json:"leistung_kw"`
	AirflowM3H  Value[float64]    `json:"leistung_m3_h"`
	SystemID    string            `json:"system_id,omitempty"`
	GlobalID    string            `json:"ifc_guid,omitempty"`
	Plant       Value[string]     `json:"zugehoerige_anlage"`
	Space       Value[string]     `json:"zugehoeriger_raum"`
	Unconfirmed bool              `json:"unbestaetigt,omitempty"`
	Incomplete  bool              `json:"unvollstaendig,omitempty"`
	Extra       map[string]string `json:"zusatz,omitempty"`
	Sources     []SourceRef       `json:"quellen"`
}

func (d *Device) EntityID() string        { return d.ID }
func (d *Device) TypeName() string        { return TypeDevice }
func (d *Device) SourceRefs() []SourceRef { return d.Sources }
func (d *Device) AddSource(src SourceRef) { d.Sources = appendSource(d.Sources, src) }

// Requirement is a demand on the building services, classified by category,
// obligation level and planning phase.
type Requirement struct {
	ID          string            `json:"id"`
	Text        Value[string]     `json:"text"`
	Category    Value[string]     `json:"kategorie"`
	Priority    Value[string]     `json:"prioritaet"`
	Phase       Value[string]     `json:"sia_phase"`
	Spaces      []string          `json:"zugehoerige_raeume,omitempty"`
	Plants      []string          `json:"zugehoerige_anlagen,omitempty"`
	Unconfirmed bool              `json:"unbestaetigt,omitempty"`
	Incomplete  bool              `json:"unvollstaendig,omitempty"`
	Extra       map[string]string `json:"zusatz,omitempty"`
	Sources     []SourceRef       `json:"quellen"`
}

func (r *Requirement) EntityID() string        { return r.ID }
func (r *Requirement) TypeName() string        { return TypeRequirement }
func (r *Requirement) SourceRefs() []SourceRef { return r.Sources }
func (r *Requirement) AddSource(src SourceRef) { r.Sources = appendSource(r.Sources, src) }

// ScheduleItem is a dated task, milestone or deliverable. Date is an ISO
// date string (2006-01-02). DependsOn lists ids of items that must precede
// this one.
type ScheduleItem struct {
	ID          string            `json:"id"`
	Description Value[string]     `json:"beschreibung"`
	Date        Value[string]     `json:"termin_datum"`
	Category    Value[string]     `json:"kategorie"`
	Phase       Value[string]     `json:"sia_phase"`
	DependsOn   []string          `json:"abhaengig_von,omitempty"`
	Unconfirmed bool              `json:"unbestaetigt,omitempty"`
	Incomplete  bool              `json:"unvollstaendig,omitempty"`
	Extra       map[string]string `json:"zusatz,omitempty"`
	Sources     []SourceRef       `json:"quellen"`
}

func (t *ScheduleItem) EntityID() string        { return t.ID }
func (t *ScheduleItem) TypeName() string        { return TypeSchedule }
func (t *ScheduleItem) SourceRefs() []SourceRef { return t.Sources }
func (t *ScheduleItem) AddSource(src SourceRef) { t.Sources = appendSource(t.Sources, src) }

// ServiceItem is a bill-of-quantities line: a described service with
// discipline, quantity and unit.
type ServiceItem struct {
	ID          string            `json:"id"`
	Position    Value[string]     `json:"position"`
	Text        Value[string]     `json:"beschreibung"`
	Discipline  Value[string]     `json:"gewerk"`
	Quantity    Value[float64]    `json:"menge"`
	Unit        Value[string]     `json:"einheit"`
	Category    Value[string]     `json:"kategorie"`
	Phase       Value[string]     `json:"sia_phase"`
	Unconfirmed bool              `json:"unbestaetigt,omitempty"`
	Incomplete  bool              `json:"unvollstaendig,omitempty"`
	Extra       map[string]string `json:"zusatz,omitempty"`
	Sources     []SourceRef       `json:"quellen"`
}

func (l *ServiceItem) EntityID() string        { return l.ID }
func (l *ServiceItem) TypeName() string        { return TypeService }
func (l *ServiceItem) SourceRefs() []SourceRef { return l.Sources }
func (l *ServiceItem) AddSource(src SourceRef) { l.Sources = appendSource(l.Sources, src) }

// UnionStrings merges b into a preserving order of first appearance.
func UnionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
