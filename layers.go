package layerio

import (
	"fmt"
	"strings"
)

// maxLayerChannels caps how many channels one layer may carry. The
// aggregator's per-group scans rely on this bound; channels beyond the cap
// that resolve to the same layer name are dropped.
const maxLayerChannels = 4

// LayerEntry identifies the source channels of one layer. All channels of
// an entry belong to the same subimage; a layer never spans subimages.
type LayerEntry struct {
	// Subimage is the index of the owning subimage.
	Subimage int

	// Channels holds up to maxLayerChannels channel indices within that
	// subimage, in layer order.
	Channels []int

	// Tokens holds the canonical channel tokens, parallel to Channels.
	Tokens []string
}

// viewLayers is one view's layer table. names preserves file-encounter
// order, which determines catalog ordering and the default layer.
type viewLayers struct {
	view   string
	names  []string
	byName map[string]*LayerEntry
}

// aggregateLayers groups every channel of every subimage into named layers
// per view.
//
// Each channel is classified by name, falling back to the subimage-level
// view assignment when the name carries none. A layerless classification
// whose single prefix component names a view is reassigned to that view
// (files using the bare "view.channel" convention). Channels that still
// resolve to no view land in the default view. A channel with no layer
// name inherits the subimage's part name, and failing that gets a name
// synthesized from the channel tokens co-present in its group. Layer names
// already claimed by a different subimage are disambiguated with a
// "PartN." prefix, keeping every layer within a single subimage.
func aggregateLayers(specs []*ImageSpec, views, perSub []string) []*viewLayers {
	tables := make([]*viewLayers, len(views))
	byView := make(map[string]*viewLayers, len(views))
	for i, v := range views {
		tables[i] = &viewLayers{view: v, byName: make(map[string]*LayerEntry)}
		byView[v] = tables[i]
	}

	for si, spec := range specs {
		ids := make([]channelID, len(spec.Channels))
		for ci, raw := range spec.Channels {
			id := classifyChannel(raw, views)
			if id.View == "" && perSub[si] != "" {
				if v, ok := matchView(views, perSub[si]); ok {
					id.View = v
				}
			}
			if id.View == "" && id.Layer != "" {
				if v, ok := matchView(views, id.Layer); ok {
					id.View = v
					id.Layer = ""
				}
			}
			if id.View == "" {
				id.View = views[0]
			}
			if id.Layer == "" {
				if name, ok := spec.AttrString(attrPartName); ok {
					id.Layer = name
				}
			}
			ids[ci] = id
		}

		// Tokens co-present per view among this subimage's layerless
		// channels, consulted by the synthesis rules.
		bare := make(map[string]map[string]bool)
		for _, id := range ids {
			if id.Layer != "" {
				continue
			}
			m := bare[id.View]
			if m == nil {
				m = make(map[string]bool)
				bare[id.View] = m
			}
			m[id.Token] = true
		}

		for ci, id := range ids {
			name := id.Layer
			if name == "" {
				name = synthesizeLayerName(id.Token, bare[id.View])
			}
			vt := byView[id.View]
			if e := vt.byName[name]; e != nil && e.Subimage != si {
				for n := 1; ; n++ {
					cand := fmt.Sprintf("Part%d.%s", n, name)
					if e2 := vt.byName[cand]; e2 == nil || e2.Subimage == si {
						name = cand
						break
					}
				}
			}
			e := vt.byName[name]
			if e == nil {
				e = &LayerEntry{Subimage: si}
				vt.byName[name] = e
				vt.names = append(vt.names, name)
			}
			if len(e.Channels) >= maxLayerChannels {
				continue
			}
			e.Channels = append(e.Channels, ci)
			e.Tokens = append(e.Tokens, id.Token)
		}
	}
	return tables
}

// synthesizeLayerName derives a layer name for a channel that carried none.
// group holds the canonical tokens of the other layerless channels in the
// same view and subimage; a nil map means the channel stands alone.
func synthesizeLayerName(tok string, group map[string]bool) string {
	switch tok {
	case "R", "G", "B", "A", "I":
		return "Color"
	case "X":
		if group["Y"] && group["Z"] {
			return "XYZ"
		}
	case "Y":
		if group["X"] && group["Z"] {
			return "XYZ"
		}
		if !group["R"] && !group["G"] && !group["B"] && !group["I"] {
			return "Color"
		}
	case "Z":
		if group["X"] && group["Y"] {
			return "XYZ"
		}
		return "depth"
	}
	return tok
}

// LayerInfo is one entry of the user-facing layer catalog.
type LayerInfo struct {
	// Name is the resolved layer name, unique within the catalog.
	Name string

	// Entry is the representative LayerEntry, taken from the first view
	// containing the layer.
	Entry LayerEntry

	// Views lists the views containing the layer, in view order.
	Views []string

	// Label is the display string: the name, annotated with the view list
	// when the file has more than one view.
	Label string
}

// buildLayerUnion flattens per-view layer tables into a single ordered
// catalog. Views are scanned in discovery order and each view's layers in
// insertion order, so the output is stable across rebuilds: all layers of
// the first view first, then layers unique to later views.
func buildLayerUnion(tables []*viewLayers) []LayerInfo {
	var union []LayerInfo
	index := make(map[string]int)
	for _, vt := range tables {
		for _, name := range vt.names {
			if i, ok := index[name]; ok {
				union[i].Views = append(union[i].Views, vt.view)
				continue
			}
			index[name] = len(union)
			union = append(union, LayerInfo{
				Name:  name,
				Entry: *vt.byName[name],
				Views: []string{vt.view},
			})
		}
	}
	for i := range union {
		if len(tables) > 1 {
			union[i].Label = fmt.Sprintf("%s (%s)", union[i].Name, strings.Join(union[i].Views, ", "))
		} else {
			union[i].Label = union[i].Name
		}
	}
	return union
}
