// Package directory resolves PABX extension ids to operator display
// names. The static table from configuration is the source of truth;
// extensions observed in live reports are merged in on listing.
package directory

import "sort"

// Entry is one known extension with its resolved display name.
type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	CallerID string `json:"callerid"`
}

// Resolver holds the static extension table.
type Resolver struct {
	names map[string]string
}

// New builds a Resolver from a static extension->name table. The map
// is copied; later mutation of the argument has no effect.
func New(names map[string]string) *Resolver {
	table := make(map[string]string, len(names))
	for id, name := range names {
		table[id] = name
	}
	return &Resolver{names: table}
}

// Resolve returns the display name for an extension id. Unknown ids
// resolve to themselves.
func (r *Resolver) Resolve(extension string) string {
	if name, ok := r.names[extension]; ok {
		return name
	}
	return extension
}

// Known reports whether the extension is in the static table.
func (r *Resolver) Known(extension string) bool {
	_, ok := r.names[extension]
	return ok
}

// List returns the union of the static table and observedIDs, sorted
// by id, each annotated with its resolved name. CallerID renders as
// "Name (id)" for known extensions and the bare id otherwise.
func (r *Resolver) List(observedIDs []string) []Entry {
	seen := make(map[string]struct{}, len(r.names)+len(observedIDs))
	for id := range r.names {
		seen[id] = struct{}{}
	}
	for _, id := range observedIDs {
		if id != "" {
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entry := Entry{ID: id, Name: r.Resolve(id), CallerID: id}
		if r.Known(id) {
			entry.CallerID = entry.Name + " (" + id + ")"
		}
		entries = append(entries, entry)
	}
	return entries
}

// StaticList returns the static table alone, for degraded mode when
// live discovery fails.
func (r *Resolver) StaticList() []Entry {
	return r.List(nil)
}
