// Package fhir holds the minimal FHIR model the mediator needs. Bundles and
// entries are typed for the fields the pipeline manipulates; resource bodies
// stay generic JSON objects because the mediator forwards them untouched
// apart from patient handling.
package fhir

import (
	"encoding/json"
	"time"
)

// Bundle type codes the mediator distinguishes.
const (
	BundleTypeDocument    = "document"
	BundleTypeTransaction = "transaction"
	BundleTypeSearchset   = "searchset"
)

// Resource is a generic FHIR resource body.
type Resource map[string]any

// Type returns the resourceType field, empty when absent.
func (r Resource) Type() string {
	t, _ := r["resourceType"].(string)
	return t
}

// ID returns the id field, empty when absent.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Clone returns a deep copy so transforms never alias the original body.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	out, _ := deepCopy(map[string]any(r)).(map[string]any)
	return Resource(out)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// Request is a transaction entry's request directive.
type Request struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Entry is one bundle entry.
type Entry struct {
	FullURL  string   `json:"fullUrl,omitempty"`
	Resource Resource `json:"resource,omitempty"`
	Request  *Request `json:"request,omitempty"`
}

// Link is a bundle-level link relation.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Meta is the subset of resource metadata the mediator stamps.
type Meta struct {
	LastUpdated string `json:"lastUpdated,omitempty"`
}

// Bundle is a FHIR Bundle limited to the fields the pipeline reads or writes.
type Bundle struct {
	ResourceType string  `json:"resourceType"`
	ID           string  `json:"id,omitempty"`
	Meta         *Meta   `json:"meta,omitempty"`
	Type         string  `json:"type"`
	Total        int     `json:"total,omitempty"`
	Link         []Link  `json:"link,omitempty"`
	Entry        []Entry `json:"entry,omitempty"`
}

// ParseBundle decodes raw JSON into a Bundle.
func ParseBundle(raw []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// Clone deep-copies the bundle, including every resource body.
func (b Bundle) Clone() Bundle {
	out := b
	out.Link = append([]Link(nil), b.Link...)
	out.Entry = make([]Entry, len(b.Entry))
	for i, e := range b.Entry {
		out.Entry[i] = Entry{FullURL: e.FullURL, Resource: e.Resource.Clone()}
		if e.Request != nil {
			req := *e.Request
			out.Entry[i].Request = &req
		}
	}
	if b.Meta != nil {
		meta := *b.Meta
		out.Meta = &meta
	}
	return out
}

// StampLastUpdated sets a fresh lastUpdated meta timestamp.
func (b *Bundle) StampLastUpdated(now time.Time) {
	if b.Meta == nil {
		b.Meta = &Meta{}
	}
	b.Meta.LastUpdated = now.UTC().Format(time.RFC3339)
}
