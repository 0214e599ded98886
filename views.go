package layerio

import "strings"

// DefaultView is the implicit view name used when a file declares none.
const DefaultView = "Main"

// Multi-view metadata keys, following the OpenEXR convention.
const (
	attrMultiView = "multiView"
	attrView      = "view"
	attrPartName  = "name"
)

// detectViews derives the ordered view list for a file, plus the view
// assigned to each subimage ("" when unassigned).
//
// A single-subimage file declares its views through a multi-view string
// list attribute. A multi-part file instead tags each part with its own
// view attribute. A file using neither convention gets the single implicit
// DefaultView.
func detectViews(specs []*ImageSpec) (views []string, perSub []string) {
	perSub = make([]string, len(specs))
	if len(specs) == 1 {
		if list, ok := specs[0].AttrStringList(attrMultiView); ok {
			for _, v := range list {
				if v == "" {
					continue
				}
				if _, seen := matchView(views, v); !seen {
					views = append(views, v)
				}
			}
		}
	} else {
		for i, s := range specs {
			v, _ := s.AttrString(attrView)
			perSub[i] = v
			if v == "" {
				continue
			}
			if _, seen := matchView(views, v); !seen {
				views = append(views, v)
			}
		}
	}
	if len(views) == 0 {
		views = []string{DefaultView}
	}
	return views, perSub
}

// matchView finds name in views, comparing case-insensitively, and returns
// the declared spelling.
func matchView(views []string, name string) (string, bool) {
	for _, v := range views {
		if strings.EqualFold(v, name) {
			return v, true
		}
	}
	return "", false
}
