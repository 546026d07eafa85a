package fhir

import "strings"

// PatientRefPrefix is the reference prefix for patient resources.
const PatientRefPrefix = "Patient/"

// PatientRef builds a patient reference from an id.
func PatientRef(id string) string {
	return PatientRefPrefix + id
}

// IsPatientRef reports whether ref addresses a Patient resource.
func IsPatientRef(ref string) bool {
	return strings.HasPrefix(ref, PatientRefPrefix)
}

// PatientIDFromRef extracts the id from a Patient reference, empty when the
// reference is not a patient reference.
func PatientIDFromRef(ref string) string {
	if !IsPatientRef(ref) {
		return ""
	}
	return strings.TrimPrefix(ref, PatientRefPrefix)
}

// RewriteReferences walks v and replaces the value of every `reference`
// field that exactly equals oldRef with newRef. Exact matching is deliberate:
// substring substitution would let Patient/1 clobber part of Patient/12.
func RewriteReferences(v any, oldRef, newRef string) {
	walkReferences(v, func(ref string) string {
		if ref == oldRef {
			return newRef
		}
		return ref
	})
}

// CollectReferences walks v and returns every `reference` field value that
// satisfies the filter, in encounter order, without duplicates.
func CollectReferences(v any, filter func(string) bool) []string {
	var refs []string
	seen := make(map[string]struct{})
	walkReferences(v, func(ref string) string {
		if filter == nil || filter(ref) {
			if _, ok := seen[ref]; !ok {
				seen[ref] = struct{}{}
				refs = append(refs, ref)
			}
		}
		return ref
	})
	return refs
}

func walkReferences(v any, fn func(string) string) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if k == "reference" {
				if ref, ok := val.(string); ok {
					t[k] = fn(ref)
					continue
				}
			}
			walkReferences(val, fn)
		}
	case []any:
		for _, val := range t {
			walkReferences(val, fn)
		}
	case Resource:
		walkReferences(map[string]any(t), fn)
	}
}

// PatientLinks returns the references linked from a Patient resource's link
// array, in declaration order.
func PatientLinks(patient Resource) []string {
	links, ok := patient["link"].([]any)
	if !ok {
		return nil
	}
	var refs []string
	for _, l := range links {
		link, ok := l.(map[string]any)
		if !ok {
			continue
		}
		other, ok := link["other"].(map[string]any)
		if !ok {
			continue
		}
		if ref, ok := other["reference"].(string); ok && ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}
