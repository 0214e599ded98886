package layerio

import "sync"

// catalog holds a reader's lazily built layer tables. Rebuilds and reads
// both go through the lock; callers receive an immutable snapshot, never
// the live structure. A rebuild replaces the slices wholesale, so snapshots
// taken earlier stay valid.
type catalog struct {
	mu     sync.Mutex
	built  bool
	views  []string
	perSub []string
	tables []*viewLayers
	union  []LayerInfo
}

// catalogSnapshot is a consistent view of the catalog, safe to use without
// holding the lock.
type catalogSnapshot struct {
	views  []string
	perSub []string
	tables []*viewLayers
	union  []LayerInfo
}

// snapshot returns the current catalog, building it first if needed. load
// supplies the subimage specs on a rebuild.
func (c *catalog) snapshot(load func() ([]*ImageSpec, error)) (catalogSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.built {
		specs, err := load()
		if err != nil {
			return catalogSnapshot{}, err
		}
		c.views, c.perSub = detectViews(specs)
		c.tables = aggregateLayers(specs, c.views, c.perSub)
		c.union = buildLayerUnion(c.tables)
		c.built = true
	}
	return catalogSnapshot{views: c.views, perSub: c.perSub, tables: c.tables, union: c.union}, nil
}

// invalidate drops the built tables. The next snapshot rebuilds them.
func (c *catalog) invalidate() {
	c.mu.Lock()
	c.built = false
	c.views = nil
	c.perSub = nil
	c.tables = nil
	c.union = nil
	c.mu.Unlock()
}

// viewTable returns the layer table of the named view, or nil.
func (s catalogSnapshot) viewTable(view string) *viewLayers {
	for _, t := range s.tables {
		if t.view == view {
			return t
		}
	}
	return nil
}
