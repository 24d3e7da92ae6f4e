package merge

import (
	"fmt"
	"math"
	"sort"

	"github.com/tsawler/aedile/entity"
)

// Identity thresholds for fuzzy name matching. A candidate joins an
// existing record only when its name scores strictly above the
// threshold for its entity type.
const (
	spaceNameThreshold  = 0.8
	plantNameThreshold  = 0.8
	deviceNameThreshold = 0.7
	scheduleThreshold   = 0.9

	// Two records scoring within this margin of each other are
	// indistinguishable; the candidate is routed to the unmatched
	// bucket instead of guessing.
	ambiguityMargin = 0.01

	// Numeric observations within this tolerance agree.
	numTolerance = 0.01
)

func eqNum(a, b float64) bool { return math.Abs(a-b) <= numTolerance }

// eqText compares strings in normalized form, so case, whitespace,
// punctuation and umlaut spelling differences do not conflict.
func eqText(a, b string) bool { return entity.NormalizeKey(a) == entity.NormalizeKey(b) }

func eqExact(a, b string) bool { return a == b }

// refsFor selects the candidate sources that reported a field: refs
// whose field annotations name it, falling back to the first ref when
// none do.
func refsFor(srcs []entity.SourceRef, field string) []entity.SourceRef {
	var out []entity.SourceRef
	for i := range srcs {
		for _, f := range srcs[i].Fields {
			if f == field {
				out = append(out, srcs[i])
				break
			}
		}
	}
	if len(out) == 0 && len(srcs) > 0 {
		out = srcs[:1]
	}
	return out
}

// foldValue merges a candidate attribute into the accumulator,
// attributing every observation to the sources that reported it.
// Agreeing observations gain sources, disagreeing ones turn the
// accumulator contested.
func foldValue[T any](acc *entity.Value[T], cand entity.Value[T], srcs []entity.SourceRef, field string, eq func(a, b T) bool) {
	if !cand.IsSet() {
		return
	}
	if vars := cand.Variants(); vars != nil {
		for _, va := range vars {
			refs := va.Sources
			if len(refs) == 0 {
				refs = refsFor(srcs, field)
			}
			for _, r := range refs {
				acc.Fold(va.Value, r, eq)
			}
		}
		return
	}
	v, _ := cand.Get()
	refs := cand.Sources()
	if len(refs) == 0 {
		refs = refsFor(srcs, field)
	}
	for _, r := range refs {
		acc.Fold(v, r, eq)
	}
}

// unionRefs merges candidate sources into a record's source list,
// combining the field annotations of refs that point at the same
// location. The candidate refs are cloned, never aliased.
func unionRefs(dst []entity.SourceRef, srcs []entity.SourceRef) []entity.SourceRef {
	for _, s := range entity.CloneRefs(srcs) {
		merged := false
		for i := range dst {
			if dst[i].SameLocation(s) {
				for _, f := range s.Fields {
					dst[i].AddField(f)
				}
				merged = true
				break
			}
		}
		if !merged {
			dst = append(dst, s)
		}
	}
	return dst
}

// mergeExtra folds freeform annotations, first observation per key wins.
func mergeExtra(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}

// claim registers a lookup key for a record unless an earlier record
// already holds it. Empty keys are ignored.
func claim[T any](m map[string]T, key string, rec T) {
	if key == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = rec
	}
}

// uniqueID suffixes an id until it is free. Needed when a candidate
// derives the same id as a record it was vetoed from joining, for
// example two equally named rooms on different floors.
func uniqueID[T any](byID map[string]T, id string) string {
	if _, ok := byID[id]; !ok {
		return id
	}
	for i := 2; ; i++ {
		c := fmt.Sprintf("%s_%d", id, i)
		if _, ok := byID[c]; !ok {
			return c
		}
	}
}

// bestNameScore rates a normalized name against a record's name,
// taking the best variant when the record's name is contested.
func bestNameScore(name string, v entity.Value[string]) float64 {
	if s, ok := v.Get(); ok {
		return Ratio(name, entity.NormalizeKey(s))
	}
	var max float64
	for _, va := range v.Variants() {
		if r := Ratio(name, entity.NormalizeKey(va.Value)); r > max {
			max = r
		}
	}
	return max
}

// kindsMatch reports whether a record's kind agrees with the candidate
// kind in normalized form. Two missing kinds agree.
func kindsMatch(kind string, v entity.Value[string]) bool {
	if vars := v.Variants(); vars != nil {
		for _, va := range vars {
			if entity.NormalizeKey(va.Value) == kind {
				return true
			}
		}
		return false
	}
	return entity.NormalizeKey(v.Or("")) == kind
}

// resolveList rewrites a cross-reference list through resolve, dropping
// duplicates and sorting the result.
func resolveList(list []string, resolve func(string) string) []string {
	if len(list) == 0 {
		return list
	}
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		r := resolve(v)
		if r != "" && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// spaceIndex holds merged spaces with every identity key observed for
// them: GUID, id, normalized number and normalized name.
type spaceIndex struct {
	list   []*entity.Space
	byGUID map[string]*entity.Space
	byID   map[string]*entity.Space
	byNum  map[string]*entity.Space
	byName map[string]*entity.Space
}

func newSpaceIndex() *spaceIndex {
	return &spaceIndex{
		list:   []*entity.Space{},
		byGUID: make(map[string]*entity.Space),
		byID:   make(map[string]*entity.Space),
		byNum:  make(map[string]*entity.Space),
		byName: make(map[string]*entity.Space),
	}
}

// register adds the candidate's identity keys to the index, all
// pointing at the record it merged into. Later documents may reference
// the space by any of them.
func (ix *spaceIndex) register(c, rec *entity.Space) {
	claim(ix.byGUID, entity.NormalizeKey(c.GlobalID), rec)
	claim(ix.byID, rec.ID, rec)
	claim(ix.byID, c.ID, rec)
	claim(ix.byNum, entity.NormalizeKey(c.Number.Or("")), rec)
	claim(ix.byName, entity.NormalizeKey(c.Name.Or("")), rec)
}

// find locates the record a space candidate belongs to: by GUID, by id,
// by room number, by exact name, then by fuzzy name. Number and name
// matches are vetoed when the floors disagree. ambiguous is true when
// two records match the name equally well.
func (ix *spaceIndex) find(c *entity.Space) (rec *entity.Space, ambiguous bool) {
	if c.GlobalID != "" {
		if r, ok := ix.byGUID[entity.NormalizeKey(c.GlobalID)]; ok {
			return r, false
		}
	}
	if c.ID != "" {
		if r, ok := ix.byID[c.ID]; ok {
			return r, false
		}
	}
	floor := entity.NormalizeKey(c.Floor.Or(""))
	if num := entity.NormalizeKey(c.Number.Or("")); num != "" {
		if r, ok := ix.byNum[num]; ok && !floorsDiffer(floor, r) {
			return r, false
		}
	}
	name := entity.NormalizeKey(c.Name.Or(""))
	if name == "" {
		return nil, false
	}
	if r, ok := ix.byName[name]; ok && !floorsDiffer(floor, r) {
		return r, false
	}
	return ix.fuzzy(name, floor)
}

func (ix *spaceIndex) fuzzy(name, floor string) (*entity.Space, bool) {
	var best *entity.Space
	var bestScore, second float64
	for _, r := range ix.list {
		if floorsDiffer(floor, r) {
			continue
		}
		score := bestNameScore(name, r.Name)
		switch {
		case score > bestScore:
			best, second, bestScore = r, bestScore, score
		case score > second:
			second = score
		}
	}
	if bestScore <= spaceNameThreshold {
		return nil, false
	}
	if second > spaceNameThreshold && bestScore-second < ambiguityMargin {
		return nil, true
	}
	return best, false
}

// resolve maps a space reference in any observed vocabulary (merged id,
// source id, room number, name) to the merged record id. Unknown
// references are returned verbatim.
func (ix *spaceIndex) resolve(ref string) string {
	if r, ok := ix.byID[ref]; ok {
		return r.ID
	}
	if r, ok := ix.byID[entity.SpaceID(ref)]; ok {
		return r.ID
	}
	key := entity.NormalizeKey(ref)
	if r, ok := ix.byGUID[key]; ok {
		return r.ID
	}
	if r, ok := ix.byNum[key]; ok {
		return r.ID
	}
	if r, ok := ix.byName[key]; ok {
		return r.ID
	}
	return ref
}

// floorsDiffer vetoes a match when both sides name a floor and the
// floors disagree in normalized form.
func floorsDiffer(floor string, r *entity.Space) bool {
	if floor == "" {
		return false
	}
	rf, ok := r.Floor.Get()
	if !ok {
		return false
	}
	norm := entity.NormalizeKey(rf)
	return norm != "" && norm != floor
}

func newSpace(c *entity.Space) *entity.Space {
	id := c.ID
	if id == "" {
		switch {
		case c.GlobalID != "":
			id = entity.SpaceID(c.GlobalID)
		case c.Name.IsSet():
			id = entity.SpaceID(c.Name.Or(""))
		default:
			id = entity.SpaceID(c.Number.Or(""))
		}
	}
	rec := &entity.Space{ID: id}
	mergeSpace(rec, c)
	return rec
}

func mergeSpace(rec, c *entity.Space) {
	foldValue(&rec.Name, c.Name, c.Sources, "name", eqText)
	foldValue(&rec.Number, c.Number, c.Sources, "nummer", eqText)
	foldValue(&rec.Floor, c.Floor, c.Sources, "geschoss", eqText)
	foldValue(&rec.AreaM2, c.AreaM2, c.Sources, "flaeche_m2", eqNum)
	foldValue(&rec.VolumeM3, c.VolumeM3, c.Sources, "volumen_m3", eqNum)
	foldValue(&rec.HeightM, c.HeightM, c.Sources, "hoehe_m", eqNum)
	foldValue(&rec.Usage, c.Usage, c.Sources, "nutzungsart", eqText)
	foldValue(&rec.Zone, c.Zone, c.Sources, "zone", eqText)
	if rec.GlobalID == "" {
		rec.GlobalID = c.GlobalID
	}
	rec.Plants = entity.UnionStrings(rec.Plants, c.Plants)
	rec.Devices = entity.UnionStrings(rec.Devices, c.Devices)
	rec.Unconfirmed = rec.Unconfirmed || c.Unconfirmed
	rec.Incomplete = rec.Incomplete || c.Incomplete
	rec.Extra = mergeExtra(rec.Extra, c.Extra)
	rec.Sources = unionRefs(rec.Sources, c.Sources)
}

// plantIndex holds merged plants keyed by GUID, id and normalized name.
type plantIndex struct {
	list   []*entity.Plant
	byGUID map[string]*entity.Plant
	byID   map[string]*entity.Plant
	byName map[string]*entity.Plant
}

func newPlantIndex() *plantIndex {
	return &plantIndex{
		list:   []*entity.Plant{},
		byGUID: make(map[string]*entity.Plant),
		byID:   make(map[string]*entity.Plant),
		byName: make(map[string]*entity.Plant),
	}
}

func (ix *plantIndex) register(c, rec *entity.Plant) {
	claim(ix.byGUID, entity.NormalizeKey(c.GlobalID), rec)
	claim(ix.byID, rec.ID, rec)
	claim(ix.byID, c.ID, rec)
	claim(ix.byName, entity.NormalizeKey(c.Name.Or("")), rec)
}

func (ix *plantIndex) find(c *entity.Plant) (*entity.Plant, bool) {
	if c.GlobalID != "" {
		if r, ok := ix.byGUID[entity.NormalizeKey(c.GlobalID)]; ok {
			return r, false
		}
	}
	if c.ID != "" {
		if r, ok := ix.byID[c.ID]; ok {
			return r, false
		}
	}
	name := entity.NormalizeKey(c.Name.Or(""))
	if name == "" {
		return nil, false
	}
	if r, ok := ix.byName[name]; ok {
		return r, false
	}
	return ix.fuzzy(name)
}

func (ix *plantIndex) fuzzy(name string) (*entity.Plant, bool) {
	var best *entity.Plant
	var bestScore, second float64
	for _, r := range ix.list {
		score := bestNameScore(name, r.Name)
		switch {
		case score > bestScore:
			best, second, bestScore = r, bestScore, score
		case score > second:
			second = score
		}
	}
	if bestScore <= plantNameThreshold {
		return nil, false
	}
	if second > plantNameThreshold && bestScore-second < ambiguityMargin {
		return nil, true
	}
	return best, false
}

func (ix *plantIndex) resolve(ref string) string {
	if r, ok := ix.byID[ref]; ok {
		return r.ID
	}
	if r, ok := ix.byID[entity.PlantID(ref)]; ok {
		return r.ID
	}
	key := entity.NormalizeKey(ref)
	if r, ok := ix.byGUID[key]; ok {
		return r.ID
	}
	if r, ok := ix.byName[key]; ok {
		return r.ID
	}
	return ref
}

func newPlant(c *entity.Plant) *entity.Plant {
	id := c.ID
	if id == "" {
		if c.GlobalID != "" {
			id = entity.PlantID(c.GlobalID)
		} else {
			id = entity.PlantID(c.Name.Or(""))
		}
	}
	rec := &entity.Plant{ID: id}
	mergePlant(rec, c)
	return rec
}

func mergePlant(rec, c *entity.Plant) {
	foldValue(&rec.Name, c.Name, c.Sources, "name", eqText)
	foldValue(&rec.Kind, c.Kind, c.Sources, "typ", eqText)
	foldValue(&rec.PowerKW, c.PowerKW, c.Sources, "leistung_kw", eqNum)
	foldValue(&rec.AirflowM3H, c.AirflowM3H, c.Sources, "leistung_m3_h", eqNum)
	if rec.GlobalID == "" {
		rec.GlobalID = c.GlobalID
	}
	rec.Spaces = entity.UnionStrings(rec.Spaces, c.Spaces)
	rec.Devices = entity.UnionStrings(rec.Devices, c.Devices)
	rec.Unconfirmed = rec.Unconfirmed || c.Unconfirmed
	rec.Incomplete = rec.Incomplete || c.Incomplete
	rec.Extra = mergeExtra(rec.Extra, c.Extra)
	rec.Sources = unionRefs(rec.Sources, c.Sources)
}

// deviceIndex holds merged devices keyed by GUID, id and normalized name.
type deviceIndex struct {
	list   []*entity.Device
	byGUID map[string]*entity.Device
	byID   map[string]*entity.Device
	byName map[string]*entity.Device
}

func newDeviceIndex() *deviceIndex {
	return &deviceIndex{
		list:   []*entity.Device{},
		byGUID: make(map[string]*entity.Device),
		byID:   make(map[string]*entity.Device),
		byName: make(map[string]*entity.Device),
	}
}

func (ix *deviceIndex) register(c, rec *entity.Device) {
	claim(ix.byGUID, entity.NormalizeKey(c.GlobalID), rec)
	claim(ix.byID, rec.ID, rec)
	claim(ix.byID, c.ID, rec)
	claim(ix.byName, entity.NormalizeKey(c.Name.Or("")), rec)
}

// find locates the record a device candidate belongs to. An exact name
// match joins unconditionally; a fuzzy match additionally requires the
// kinds to agree, since short device names score high against each
// other.
func (ix *deviceIndex) find(c *entity.Device) (*entity.Device, bool) {
	if c.GlobalID != "" {
		if r, ok := ix.byGUID[entity.NormalizeKey(c.GlobalID)]; ok {
			return r, false
		}
	}
	if c.ID != "" {
		if r, ok := ix.byID[c.ID]; ok {
			return r, false
		}
	}
	name := entity.NormalizeKey(c.Name.Or(""))
	if name == "" {
		return nil, false
	}
	if r, ok := ix.byName[name]; ok {
		return r, false
	}
	return ix.fuzzy(c, name)
}

func (ix *deviceIndex) fuzzy(c *entity.Device, name string) (*entity.Device, bool) {
	kind := entity.NormalizeKey(c.Kind.Or(""))
	var best *entity.Device
	var bestScore, second float64
	for _, r := range ix.list {
		if !kindsMatch(kind, r.Kind) {
			continue
		}
		score := bestNameScore(name, r.Name)
		switch {
		case score > bestScore:
			best, second, bestScore = r, bestScore, score
		case score > second:
			second = score
		}
	}
	if bestScore <= deviceNameThreshold {
		return nil, false
	}
	if second > deviceNameThreshold && bestScore-second < ambiguityMargin {
		return nil, true
	}
	return best, false
}

func (ix *deviceIndex) resolve(ref string) string {
	if r, ok := ix.byID[ref]; ok {
		return r.ID
	}
	if r, ok := ix.byID[entity.DeviceID(ref)]; ok {
		return r.ID
	}
	key := entity.NormalizeKey(ref)
	if r, ok := ix.byGUID[key]; ok {
		return r.ID
	}
	if r, ok := ix.byName[key]; ok {
		return r.ID
	}
	return ref
}

func newDevice(c *entity.Device) *entity.Device {
	id := c.ID
	if id == "" {
		if c.GlobalID != "" {
			id = entity.DeviceID(c.GlobalID)
		} else {
			id = entity.DeviceID(c.Name.Or(""))
		}
	}
	rec := &entity.Device{ID: id}
	mergeDevice(rec, c)
	return rec
}

func mergeDevice(rec, c *entity.Device) {
	foldValue(&rec.Name, c.Name, c.Sources, "name", eqText)
	foldValue(&rec.Kind, c.Kind, c.Sources, "typ", eqText)
	foldValue(&rec.PowerKW, c.PowerKW, c.Sources, "leistung_kw", eqNum)
	foldValue(&rec.AirflowM3H, c.AirflowM3H, c.Sources, "leistung_m3_h", eqNum)
	foldValue(&rec.Plant, c.Plant, c.Sources, "zugehoerige_anlage", eqText)
	foldValue(&rec.Space, c.Space, c.Sources, "zugehoeriger_raum", eqText)
	if rec.SystemID == "" {
		rec.SystemID = c.SystemID
	}
	if rec.GlobalID == "" {
		rec.GlobalID = c.GlobalID
	}
	rec.Unconfirmed = rec.Unconfirmed || c.Unconfirmed
	rec.Incomplete = rec.Incomplete || c.Incomplete
	rec.Extra = mergeExtra(rec.Extra, c.Extra)
	rec.Sources = unionRefs(rec.Sources, c.Sources)
}

// newRequirement rebuilds a requirement with source attribution.
// Requirements are never merged across documents, every candidate
// yields its own record.
func newRequirement(c *entity.Requirement) *entity.Requirement {
	rec := &entity.Requirement{}
	foldValue(&rec.Text, c.Text, c.Sources, "text", eqText)
	foldValue(&rec.Category, c.Category, c.Sources, "kategorie", eqText)
	foldValue(&rec.Priority, c.Priority, c.Sources, "prioritaet", eqText)
	foldValue(&rec.Phase, c.Phase, c.Sources, "sia_phase", eqText)
	rec.Spaces = entity.UnionStrings(nil, c.Spaces)
	rec.Plants = entity.UnionStrings(nil, c.Plants)
	rec.Unconfirmed = c.Unconfirmed
	rec.Incomplete = c.Incomplete
	rec.Extra = mergeExtra(nil, c.Extra)
	rec.Sources = unionRefs(nil, c.Sources)
	return rec
}

// newService rebuilds a bill-of-quantities line with source
// attribution. Like requirements, service items never merge.
func newService(c *entity.ServiceItem) *entity.ServiceItem {
	rec := &entity.ServiceItem{}
	foldValue(&rec.Position, c.Position, c.Sources, "position", eqText)
	foldValue(&rec.Text, c.Text, c.Sources, "beschreibung", eqText)
	foldValue(&rec.Discipline, c.Discipline, c.Sources, "gewerk", eqText)
	foldValue(&rec.Quantity, c.Quantity, c.Sources, "menge", eqNum)
	foldValue(&rec.Unit, c.Unit, c.Sources, "einheit", eqText)
	foldValue(&rec.Category, c.Category, c.Sources, "kategorie", eqText)
	foldValue(&rec.Phase, c.Phase, c.Sources, "sia_phase", eqText)
	rec.Unconfirmed = c.Unconfirmed
	rec.Incomplete = c.Incomplete
	rec.Extra = mergeExtra(nil, c.Extra)
	rec.Sources = unionRefs(nil, c.Sources)
	return rec
}
