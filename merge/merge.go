// Package merge folds extraction results from many documents into one
// canonical project dataset. Entities describing the same space, plant
// or device are identified across documents (by GUID, id, number, name
// and finally fuzzy name matching) and combined: agreeing values gain
// sources, disagreeing values become contested variant lists, list
// fields are unioned and flags are or-combined. Entities that cannot be
// placed go to the unmatched bucket instead of being dropped.
//
// A merge is a full rebuild over everything the project has collected,
// so merging the same inputs twice yields the same dataset.
package merge

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tsawler/aedile/entity"
)

// State is the merge lifecycle of a project.
type State string

const (
	// StateCollecting means extraction results are still arriving.
	StateCollecting State = "collecting"
	// StateMerging means a merge is running.
	StateMerging State = "merging"
	// StateMerged means the dataset reflects every collected result.
	StateMerged State = "merged"
)

// Project accumulates extraction results for one project. Add and
// Merge are safe for concurrent use; results can keep arriving while
// earlier ones are being merged.
type Project struct {
	mu      sync.Mutex
	name    string
	number  string
	created time.Time
	state   State
	exts    []*entity.Extraction
	byFile  map[string]int
	byDoc   map[string]int
	files   []FileInfo
	fileIdx map[string]int
	dataset *Dataset
}

// NewProject creates an empty project in the collecting state.
func NewProject(name, number string) *Project {
	return &Project{
		name:    name,
		number:  number,
		created: time.Now(),
		state:   StateCollecting,
		byFile:  make(map[string]int),
		byDoc:   make(map[string]int),
		fileIdx: make(map[string]int),
	}
}

// Name returns the project name.
func (p *Project) Name() string { return p.name }

// State returns the current lifecycle state.
func (p *Project) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Dataset returns the most recent merge result, or nil before the
// first merge. Check State to know whether it is current.
func (p *Project) Dataset() *Dataset {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dataset
}

// Add records an extraction result. Re-adding the same file, or the
// same document id, replaces the earlier result in place, so
// reprocessing never duplicates entities. File name is the primary key
// because reprocessing a file assigns it a fresh document id.
func (p *Project) Add(ext *entity.Extraction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateCollecting
	i, ok := p.slotFor(ext.File, ext.DocumentID)
	if ok {
		if old := p.exts[i]; old != nil && old.DocumentID != "" && old.DocumentID != ext.DocumentID {
			delete(p.byDoc, old.DocumentID)
		}
		p.exts[i] = ext
	} else {
		i = len(p.exts)
		p.exts = append(p.exts, ext)
	}
	if ext.File != "" {
		p.byFile[ext.File] = i
	}
	if ext.DocumentID != "" {
		p.byDoc[ext.DocumentID] = i
	}
	p.putFile(FileInfo{
		File:       ext.File,
		DocumentID: ext.DocumentID,
		Format:     ext.Metadata.Format,
		Discipline: ext.Metadata.Discipline,
		Revision:   ext.Metadata.Revision,
		Status:     StatusProcessed,
	})
}

// AddFailure records a document that could not be processed. The file
// appears in the dataset with its error kind. If the same file had
// succeeded before, its earlier result is withdrawn.
func (p *Project) AddFailure(file, documentID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateCollecting
	if i, ok := p.slotFor(file, documentID); ok {
		if old := p.exts[i]; old != nil && old.DocumentID != "" {
			delete(p.byDoc, old.DocumentID)
		}
		p.exts[i] = nil
	}
	p.putFile(FileInfo{
		File:       file,
		DocumentID: documentID,
		Status:     StatusFailed,
		Error:      entity.ErrorKind(err),
	})
}

// slotFor finds the extraction slot already holding this file or
// document. Withdrawn slots stay reachable by file name so a retried
// file lands back in its original position.
func (p *Project) slotFor(file, documentID string) (int, bool) {
	if file != "" {
		if i, ok := p.byFile[file]; ok {
			return i, true
		}
	}
	if documentID != "" {
		if i, ok := p.byDoc[documentID]; ok {
			return i, true
		}
	}
	return 0, false
}

// putFile appends or replaces the status row for a file.
func (p *Project) putFile(info FileInfo) {
	key := info.File
	if key == "" {
		key = info.DocumentID
	}
	if key != "" {
		if i, ok := p.fileIdx[key]; ok {
			p.files[i] = info
			return
		}
		p.fileIdx[key] = len(p.files)
	}
	p.files = append(p.files, info)
}

// Engine builds canonical datasets from collected extraction results.
type Engine struct {
	log *zap.SugaredLogger
}

// New creates a merge engine. A nil logger disables logging.
func New(log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{log: log.Named("merge")}
}

// Merge rebuilds the canonical dataset for a project from every
// extraction it holds. The project is locked for the duration, so
// concurrent merges of the same project serialize. The input
// extractions are never modified.
func (e *Engine) Merge(ctx context.Context, p *Project) (*Dataset, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateMerging
	ds := &Dataset{
		Project: ProjectInfo{
			Name:      p.name,
			Number:    p.number,
			CreatedAt: p.created.UTC().Format(time.RFC3339),
			Files:     append(make([]FileInfo, 0, len(p.files)), p.files...),
		},
		Requirements: []*entity.Requirement{},
		Services:     []*entity.ServiceItem{},
		Unmatched:    []UnmatchedEntry{},
	}

	m := newMerger(ds)
	for _, ext := range p.exts {
		if ext == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			p.state = StateCollecting
			return nil, err
		}
		m.add(ext)
	}
	m.finish()

	ds.Stats.FilesTotal = len(ds.Project.Files)
	for _, f := range ds.Project.Files {
		if f.Status == StatusFailed {
			ds.Stats.FilesFailed++
		}
	}

	p.dataset = ds
	p.state = StateMerged
	e.log.Infow("dataset merged",
		"project", p.name,
		"files", ds.Stats.FilesTotal,
		"entities", ds.Stats.Entities,
		"conflicts", ds.Stats.Conflicts,
		"unmatched", ds.Stats.Unmatched,
	)
	return ds, nil
}

// merger carries the per-partition state of one merge run.
type merger struct {
	ds       *Dataset
	spaces   *spaceIndex
	plants   *plantIndex
	devices  *deviceIndex
	schedule *scheduleMerger
	warnings int
}

func newMerger(ds *Dataset) *merger {
	return &merger{
		ds:       ds,
		spaces:   newSpaceIndex(),
		plants:   newPlantIndex(),
		devices:  newDeviceIndex(),
		schedule: newScheduleMerger(),
	}
}

// add folds one extraction into the accumulating dataset. Raw tables
// and free text are always preserved.
func (m *merger) add(ext *entity.Extraction) {
	for _, c := range ext.Spaces {
		m.addSpace(c)
	}
	for _, c := range ext.Plants {
		m.addPlant(c)
	}
	for _, c := range ext.Devices {
		m.addDevice(c)
	}
	for _, c := range ext.Requirements {
		m.addRequirement(c)
	}
	for _, c := range ext.Schedule {
		m.addSchedule(ext.DocumentID, c)
	}
	for _, c := range ext.Services {
		m.addService(c)
	}
	m.ds.RawTables = append(m.ds.RawTables, ext.RawTables...)
	m.ds.FullText = append(m.ds.FullText, ext.FullText...)
	m.warnings += len(ext.Warnings)
}

// bucket routes an entity to the unmatched list. Nothing extracted is
// ever silently dropped.
func (m *merger) bucket(e entity.Entity, reason string) {
	m.ds.Unmatched = append(m.ds.Unmatched, UnmatchedEntry{
		Type:   e.TypeName(),
		Reason: reason,
		Object: e,
	})
}

func (m *merger) addSpace(c *entity.Space) {
	if len(c.Sources) == 0 {
		m.bucket(c, ReasonNoSource)
		return
	}
	if c.GlobalID == "" && c.ID == "" && !c.Name.IsSet() && !c.Number.IsSet() {
		m.bucket(c, ReasonNoIdentity)
		return
	}
	rec, ambiguous := m.spaces.find(c)
	if ambiguous {
		m.bucket(c, ReasonAmbiguous)
		return
	}
	if rec == nil {
		rec = newSpace(c)
		rec.ID = uniqueID(m.spaces.byID, rec.ID)
		m.spaces.list = append(m.spaces.list, rec)
	} else {
		mergeSpace(rec, c)
	}
	m.spaces.register(c, rec)
}

func (m *merger) addPlant(c *entity.Plant) {
	if len(c.Sources) == 0 {
		m.bucket(c, ReasonNoSource)
		return
	}
	if c.GlobalID == "" && c.ID == "" && !c.Name.IsSet() {
		m.bucket(c, ReasonNoIdentity)
		return
	}
	rec, ambiguous := m.plants.find(c)
	if ambiguous {
		m.bucket(c, ReasonAmbiguous)
		return
	}
	if rec == nil {
		rec = newPlant(c)
		rec.ID = uniqueID(m.plants.byID, rec.ID)
		m.plants.list = append(m.plants.list, rec)
	} else {
		mergePlant(rec, c)
	}
	m.plants.register(c, rec)
}

func (m *merger) addDevice(c *entity.Device) {
	if len(c.Sources) == 0 {
		m.bucket(c, ReasonNoSource)
		return
	}
	if c.GlobalID == "" && c.ID == "" && !c.Name.IsSet() {
		m.bucket(c, ReasonNoIdentity)
		return
	}
	rec, ambiguous := m.devices.find(c)
	if ambiguous {
		m.bucket(c, ReasonAmbiguous)
		return
	}
	if rec == nil {
		rec = newDevice(c)
		rec.ID = uniqueID(m.devices.byID, rec.ID)
		m.devices.list = append(m.devices.list, rec)
	} else {
		mergeDevice(rec, c)
	}
	m.devices.register(c, rec)
}

func (m *merger) addRequirement(c *entity.Requirement) {
	if len(c.Sources) == 0 {
		m.bucket(c, ReasonNoSource)
		return
	}
	if !c.Text.IsSet() {
		m.bucket(c, ReasonNoIdentity)
		return
	}
	m.ds.Requirements = append(m.ds.Requirements, newRequirement(c))
}

func (m *merger) addSchedule(doc string, c *entity.ScheduleItem) {
	if len(c.Sources) == 0 {
		m.bucket(c, ReasonNoSource)
		return
	}
	if !c.Description.IsSet() && !c.Date.IsSet() {
		m.bucket(c, ReasonNoIdentity)
		return
	}
	m.schedule.add(doc, c)
}

func (m *merger) addService(c *entity.ServiceItem) {
	if len(c.Sources) == 0 {
		m.bucket(c, ReasonNoSource)
		return
	}
	if !c.Text.IsSet() && !c.Position.IsSet() {
		m.bucket(c, ReasonNoIdentity)
		return
	}
	m.ds.Services = append(m.ds.Services, newService(c))
}

// finish orders the partitions, issues sequential ids where entities
// have none of their own, rewrites cross-references to merged ids and
// computes the statistics.
func (m *merger) finish() {
	m.ds.Spaces = m.spaces.list
	m.ds.Plants = m.plants.list
	m.ds.Devices = m.devices.list
	sortByID(m.ds.Spaces, func(s *entity.Space) string { return s.ID })
	sortByID(m.ds.Plants, func(p *entity.Plant) string { return p.ID })
	sortByID(m.ds.Devices, func(d *entity.Device) string { return d.ID })
	m.ds.Schedule = m.schedule.finish()

	for i, r := range m.ds.Requirements {
		r.ID = entity.SeqID("anf", i+1)
	}
	for i, l := range m.ds.Services {
		l.ID = entity.SeqID("leist", i+1)
	}

	for _, s := range m.ds.Spaces {
		s.Plants = resolveList(s.Plants, m.plants.resolve)
		s.Devices = resolveList(s.Devices, m.devices.resolve)
	}
	for _, p := range m.ds.Plants {
		p.Spaces = resolveList(p.Spaces, m.spaces.resolve)
		p.Devices = resolveList(p.Devices, m.devices.resolve)
	}
	for _, r := range m.ds.Requirements {
		r.Spaces = resolveList(r.Spaces, m.spaces.resolve)
		r.Plants = resolveList(r.Plants, m.plants.resolve)
	}

	m.ds.Stats.Entities = m.ds.EntityCount()
	m.ds.Stats.Conflicts = m.ds.conflictCount()
	m.ds.Stats.Unmatched = len(m.ds.Unmatched)
	m.ds.Stats.Warnings = m.warnings
}

func sortByID[T any](list []*T, id func(*T) string) {
	sort.Slice(list, func(i, j int) bool { return id(list[i]) < id(list[j]) })
}
