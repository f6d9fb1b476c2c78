package search

// Deduplicator accumulates places by provider id. On collision the first-seen
// stub wins; the final set does not depend on query order.
type Deduplicator struct {
	byID  map[string]PlaceStub
	order []string
}

// NewDeduplicator returns an empty accumulator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{byID: make(map[string]PlaceStub)}
}

// Missing returns the ids in places not yet accumulated, in first-seen order
// and without duplicates. It does not modify d.
func (d *Deduplicator) Missing(places []PlaceStub) []string {
	var ids []string
	seen := make(map[string]bool, len(places))
	for _, p := range places {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if _, ok := d.byID[p.ID]; !ok {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// Add accumulates places and returns the ids that were new.
func (d *Deduplicator) Add(places []PlaceStub) []string {
	var added []string
	for _, p := range places {
		if p.ID == "" {
			continue
		}
		if _, ok := d.byID[p.ID]; ok {
			continue
		}
		d.byID[p.ID] = p
		d.order = append(d.order, p.ID)
		added = append(added, p.ID)
	}
	return added
}

// Merge accumulates every place of results.
func (d *Deduplicator) Merge(results ...QueryResult) {
	for _, r := range results {
		d.Add(r.Places)
	}
}

// Len returns the number of unique places.
func (d *Deduplicator) Len() int { return len(d.byID) }

// Places returns the unique places in discovery order.
func (d *Deduplicator) Places() []PlaceStub {
	out := make([]PlaceStub, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id])
	}
	return out
}

// Merge is the pure form of Deduplicator: the unique places of results keyed
// by id.
func Merge(results []QueryResult) map[string]PlaceStub {
	d := NewDeduplicator()
	d.Merge(results...)
	return d.byID
}
