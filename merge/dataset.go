package merge

import "github.com/tsawler/aedile/entity"

// File processing statuses as reported in the project dataset.
const (
	StatusProcessed = "verarbeitet"
	StatusFailed    = "fehlgeschlagen"
)

// Reasons for routing an entity to the unmatched bucket.
const (
	ReasonNoSource   = "keine Quellenangabe"
	ReasonNoIdentity = "keine Identitätsmerkmale"
	ReasonAmbiguous  = "mehrdeutige Zuordnung"
)

// ProjectInfo identifies the project and lists every file that
// contributed to (or failed to contribute to) the dataset.
type ProjectInfo struct {
	Name      string     `json:"name"`
	Number    string     `json:"nummer,omitempty"`
	CreatedAt string     `json:"erstellt_am"`
	Files     []FileInfo `json:"dateien"`
}

// FileInfo records one processed document.
type FileInfo struct {
	File       string `json:"datei"`
	DocumentID string `json:"datei_id,omitempty"`
	Format     string `json:"format,omitempty"`
	Discipline string `json:"disziplin,omitempty"`
	Revision   string `json:"revision,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"fehler,omitempty"`
}

// UnmatchedEntry is an entity the merge could not place: it lacked
// identity keys, matched more than one candidate equally well, or
// failed the source invariant. The payload is kept verbatim so no
// extracted data is lost.
type UnmatchedEntry struct {
	Type   string        `json:"typ"`
	Reason string        `json:"grund"`
	Object entity.Entity `json:"objekt"`
}

// Stats summarizes the dataset.
type Stats struct {
	FilesTotal  int `json:"dateien_gesamt"`
	FilesFailed int `json:"dateien_fehlgeschlagen"`
	Entities    int `json:"entitaeten"`
	Conflicts   int `json:"konflikte"`
	Unmatched   int `json:"unzugeordnet"`
	Warnings    int `json:"warnungen"`
}

// Dataset is the canonical merged view of one project: all entities
// de-duplicated across documents, raw tables and free text preserved,
// unplaceable objects bucketed instead of dropped.
type Dataset struct {
	Project      ProjectInfo            `json:"projekt"`
	Spaces       []*entity.Space        `json:"raeume"`
	Plants       []*entity.Plant        `json:"anlagen"`
	Devices      []*entity.Device       `json:"geraete"`
	Requirements []*entity.Requirement  `json:"anforderungen"`
	Schedule     []*entity.ScheduleItem `json:"termine"`
	Services     []*entity.ServiceItem  `json:"leistungen"`
	RawTables    []entity.RawTable      `json:"rohtabellen,omitempty"`
	FullText     []entity.TextBlock     `json:"volltext,omitempty"`
	Unmatched    []UnmatchedEntry       `json:"unzugeordnet"`
	Stats        Stats                  `json:"statistik"`
}

// EntityCount returns the number of merged entities across partitions.
func (d *Dataset) EntityCount() int {
	return len(d.Spaces) + len(d.Plants) + len(d.Devices) +
		len(d.Requirements) + len(d.Schedule) + len(d.Services)
}

// conflictCount walks every attribute of every merged entity and counts
// the contested ones.
func (d *Dataset) conflictCount() int {
	n := 0
	for _, s := range d.Spaces {
		n += contested(s.Name, s.Number, s.Floor, s.Usage, s.Zone)
		n += contested(s.AreaM2, s.VolumeM3, s.HeightM)
	}
	for _, p := range d.Plants {
		n += contested(p.Name, p.Kind)
		n += contested(p.PowerKW, p.AirflowM3H)
	}
	for _, dev := range d.Devices {
		n += contested(dev.Name, dev.Kind, dev.Plant, dev.Space)
		n += contested(dev.PowerKW, dev.AirflowM3H)
	}
	for _, r := range d.Requirements {
		n += contested(r.Text, r.Category, r.Priority, r.Phase)
	}
	for _, t := range d.Schedule {
		n += contested(t.Description, t.Date, t.Category, t.Phase)
	}
	for _, l := range d.Services {
		n += contested(l.Position, l.Text, l.Discipline, l.Unit, l.Category, l.Phase)
		n += contested(l.Quantity)
	}
	return n
}

func contested[T any](vals ...entity.Value[T]) int {
	n := 0
	for _, v := range vals {
		if v.IsContested() {
			n++
		}
	}
	return n
}
