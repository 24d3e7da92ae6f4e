package merge

import (
	"sort"

	"github.com/tsawler/aedile/entity"
)

// docDep is a dependency reference as written in one document: the id
// is only meaningful in that document's namespace until the merge
// rewrites it.
type docDep struct {
	doc string
	id  string
}

// scheduleMerger accumulates schedule items. Identity is fuzzy: two
// items merge when their descriptions are nearly identical and their
// dates agree (two undated items can merge). Source ids are per
// document, so they are tracked as aliases rather than identity keys,
// and dependency references are kept in document scope until the final
// ids exist.
type scheduleMerger struct {
	list     []*entity.ScheduleItem
	aliasDoc map[string]*entity.ScheduleItem
	aliasAny map[string]*entity.ScheduleItem
	deps     map[*entity.ScheduleItem][]docDep
}

func newScheduleMerger() *scheduleMerger {
	return &scheduleMerger{
		list:     []*entity.ScheduleItem{},
		aliasDoc: make(map[string]*entity.ScheduleItem),
		aliasAny: make(map[string]*entity.ScheduleItem),
		deps:     make(map[*entity.ScheduleItem][]docDep),
	}
}

func aliasKey(doc, id string) string { return doc + "\x00" + id }

func (sm *scheduleMerger) add(doc string, c *entity.ScheduleItem) {
	rec := sm.find(c)
	if rec == nil {
		rec = newScheduleItem(c)
		sm.list = append(sm.list, rec)
	} else {
		mergeScheduleItem(rec, c)
	}
	if c.ID != "" {
		claim(sm.aliasDoc, aliasKey(doc, c.ID), rec)
		claim(sm.aliasAny, c.ID, rec)
	}
	for _, dep := range c.DependsOn {
		if dep == "" {
			continue
		}
		sm.deps[rec] = appendDocDep(sm.deps[rec], docDep{doc: doc, id: dep})
	}
}

func appendDocDep(deps []docDep, d docDep) []docDep {
	for _, have := range deps {
		if have == d {
			return deps
		}
	}
	return append(deps, d)
}

func (sm *scheduleMerger) find(c *entity.ScheduleItem) *entity.ScheduleItem {
	desc := entity.NormalizeKey(c.Description.Or(""))
	if desc == "" {
		return nil
	}
	date, _ := c.Date.Get()
	for _, r := range sm.list {
		rd, _ := r.Date.Get()
		if rd != date {
			continue
		}
		if bestNameScore(desc, r.Description) > scheduleThreshold {
			return r
		}
	}
	return nil
}

func newScheduleItem(c *entity.ScheduleItem) *entity.ScheduleItem {
	rec := &entity.ScheduleItem{}
	mergeScheduleItem(rec, c)
	return rec
}

func mergeScheduleItem(rec, c *entity.ScheduleItem) {
	foldValue(&rec.Description, c.Description, c.Sources, "beschreibung", eqText)
	foldValue(&rec.Date, c.Date, c.Sources, "termin_datum", eqExact)
	foldValue(&rec.Category, c.Category, c.Sources, "kategorie", eqText)
	foldValue(&rec.Phase, c.Phase, c.Sources, "sia_phase", eqText)
	rec.Unconfirmed = rec.Unconfirmed || c.Unconfirmed
	rec.Incomplete = rec.Incomplete || c.Incomplete
	rec.Extra = mergeExtra(rec.Extra, c.Extra)
	rec.Sources = unionRefs(rec.Sources, c.Sources)
}

// depSet is an item's dependencies after alias resolution: pointers to
// merged records plus the references no document could explain.
type depSet struct {
	resolved   []*entity.ScheduleItem
	unresolved []string
}

// finish orders the merged schedule and issues final sequential ids.
// Items are sorted chronologically (undated last), then moved after the
// dependencies they name, keeping the existing order wherever
// dependencies allow. Dependency references are rewritten to the final
// ids; unresolvable ones are kept verbatim.
func (sm *scheduleMerger) finish() []*entity.ScheduleItem {
	resolved := make(map[*entity.ScheduleItem]depSet, len(sm.list))
	for _, t := range sm.list {
		resolved[t] = sm.resolveDeps(t)
	}

	ordered := make([]*entity.ScheduleItem, 0, len(sm.list))
	ordered = append(ordered, sm.list...)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, iok := ordered[i].Date.Get()
		dj, jok := ordered[j].Date.Get()
		if iok != jok {
			return iok
		}
		if !iok {
			return false
		}
		return di < dj
	})
	ordered = orderAfterDeps(ordered, resolved)

	finalID := make(map[*entity.ScheduleItem]string, len(ordered))
	for i, t := range ordered {
		finalID[t] = entity.SeqID("term", i+1)
	}
	for _, t := range ordered {
		ds := resolved[t]
		deps := make([]string, 0, len(ds.resolved)+len(ds.unresolved))
		for _, d := range ds.resolved {
			deps = append(deps, finalID[d])
		}
		deps = append(deps, ds.unresolved...)
		t.ID = finalID[t]
		if len(deps) > 0 {
			t.DependsOn = deps
		} else {
			t.DependsOn = nil
		}
	}
	return ordered
}

// resolveDeps maps an item's document-scoped dependency references to
// merged records, preferring the alias namespace of the document that
// wrote the reference. Self references are dropped.
func (sm *scheduleMerger) resolveDeps(t *entity.ScheduleItem) depSet {
	var ds depSet
	seen := make(map[*entity.ScheduleItem]bool)
	seenRaw := make(map[string]bool)
	for _, dd := range sm.deps[t] {
		target, ok := sm.aliasDoc[aliasKey(dd.doc, dd.id)]
		if !ok {
			target, ok = sm.aliasAny[dd.id]
		}
		if ok {
			if target != t && !seen[target] {
				seen[target] = true
				ds.resolved = append(ds.resolved, target)
			}
			continue
		}
		if !seenRaw[dd.id] {
			seenRaw[dd.id] = true
			ds.unresolved = append(ds.unresolved, dd.id)
		}
	}
	return ds
}

// orderAfterDeps repeatedly emits the first item whose dependencies
// have all been emitted, so a deferred item lands directly after its
// last dependency and everything else keeps its order. A dependency
// cycle cannot be ordered; the remaining items keep their
// chronological order.
func orderAfterDeps(items []*entity.ScheduleItem, deps map[*entity.ScheduleItem]depSet) []*entity.ScheduleItem {
	out := make([]*entity.ScheduleItem, 0, len(items))
	emitted := make(map[*entity.ScheduleItem]bool, len(items))
	pending := append(make([]*entity.ScheduleItem, 0, len(items)), items...)
	for len(pending) > 0 {
		idx := -1
		for i, t := range pending {
			ready := true
			for _, d := range deps[t].resolved {
				if !emitted[d] {
					ready = false
					break
				}
			}
			if ready {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, pending...)
			break
		}
		t := pending[idx]
		emitted[t] = true
		out = append(out, t)
		pending = append(pending[:idx], pending[idx+1:]...)
	}
	return out
}
