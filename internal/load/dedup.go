package load

// Dedup is the run-scoped registry of identities already written, per table.
//
// Identities seen while loading a document stay pending until the document
// commits, so a rolled-back document leaves the registry unchanged.
// Dedup is not safe for concurrent use; a run is single-goroutine.
type Dedup struct {
	committed map[string]map[string]struct{}
}

func NewDedup() *Dedup {
	return &Dedup{committed: make(map[string]map[string]struct{})}
}

// Seen reports whether key was committed for table.
func (d *Dedup) Seen(table, key string) bool {
	_, ok := d.committed[table][key]
	return ok
}

// Len returns the number of committed identities for table.
func (d *Dedup) Len(table string) int { return len(d.committed[table]) }

// Begin starts the pending set of one document.
func (d *Dedup) Begin() *Pending {
	return &Pending{d: d, keys: make(map[string]map[string]struct{})}
}

// Pending collects the identities admitted by one document.
type Pending struct {
	d    *Dedup
	keys map[string]map[string]struct{}
}

// Admit reports whether key is new for table, both in the committed registry
// and among this document's pending identities. A new key becomes pending.
func (p *Pending) Admit(table, key string) bool {
	if p.d.Seen(table, key) {
		return false
	}
	set := p.keys[table]
	if set == nil {
		set = make(map[string]struct{})
		p.keys[table] = set
	}
	if _, ok := set[key]; ok {
		return false
	}
	set[key] = struct{}{}
	return true
}

// Commit merges the pending identities into the registry. Pending must not
// be used afterwards.
func (p *Pending) Commit() {
	for table, set := range p.keys {
		dst := p.d.committed[table]
		if dst == nil {
			dst = make(map[string]struct{}, len(set))
			p.d.committed[table] = dst
		}
		for k := range set {
			dst[k] = struct{}{}
		}
	}
	p.keys = nil
}
