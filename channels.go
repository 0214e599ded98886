package layerio

import "strings"

// channelSynonyms maps lowercase channel tokens to their canonical
// single-letter form. Tokens not listed here pass through unchanged.
var channelSynonyms = map[string]string{
	"r":     "R",
	"red":   "R",
	"g":     "G",
	"green": "G",
	"b":     "B",
	"blue":  "B",
	"a":     "A",
	"alpha": "A",
	"z":     "Z",
	"depth": "Z",
}

// canonicalToken normalizes a raw channel token via the synonym table,
// case-insensitively. Unrecognized tokens are returned as-is.
func canonicalToken(tok string) string {
	if c, ok := channelSynonyms[strings.ToLower(tok)]; ok {
		return c
	}
	return tok
}

// channelID is the result of parsing one raw channel name. View and Layer
// may be empty; Token is always the canonical channel token.
type channelID struct {
	View  string
	Layer string
	Token string
}

// classifyChannel parses a raw channel name of the form
// "[layer.]view.channel", "layer.channel" or "channel".
//
// The name is split at its last dot; the suffix becomes the channel token.
// If the remaining prefix itself contains a dot, the component after that
// dot is taken as the view when it matches a declared view name
// (case-insensitively); the rest is the layer. When the candidate does not
// match, or the prefix has no further dot, the whole prefix is the layer.
// A single-component prefix that names a view is resolved later, during
// aggregation, once the subimage-level view assignment has been consulted.
func classifyChannel(name string, views []string) channelID {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return channelID{Token: canonicalToken(name)}
	}
	prefix := name[:i]
	id := channelID{Token: canonicalToken(name[i+1:])}
	j := strings.LastIndexByte(prefix, '.')
	if j < 0 {
		id.Layer = prefix
		return id
	}
	if v, ok := matchView(views, prefix[j+1:]); ok {
		id.View = v
		id.Layer = prefix[:j]
	} else {
		id.Layer = prefix
	}
	return id
}
