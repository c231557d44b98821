package acl

// EntityKind describes one grantable resource kind. New kinds are
// registered at configuration time; the resolution engine never needs to
// know about them individually.
type EntityKind struct {
	Tag         string
	Description string
}

// EntityKinds is the injected registry of grantable entity kinds. Grants
// against unregistered tags are rejected with ErrInvalidParameter by the
// registry service.
type EntityKinds struct {
	kinds map[string]EntityKind
}

// NewEntityKinds builds a registry from the configured kinds.
func NewEntityKinds(kinds ...EntityKind) *EntityKinds {
	m := make(map[string]EntityKind, len(kinds))
	for _, k := range kinds {
		m[k.Tag] = k
	}
	return &EntityKinds{kinds: m}
}

// Lookup resolves a type tag to its descriptor.
func (e *EntityKinds) Lookup(tag string) (EntityKind, bool) {
	k, ok := e.kinds[tag]
	return k, ok
}

// Tags lists the registered tags.
func (e *EntityKinds) Tags() []string {
	tags := make([]string, 0, len(e.kinds))
	for tag := range e.kinds {
		tags = append(tags, tag)
	}
	return tags
}

// DefaultEntityKinds covers the resource kinds the platform ships with.
func DefaultEntityKinds() *EntityKinds {
	return NewEntityKinds(
		EntityKind{Tag: "VirtualMachine", Description: "user virtual machine"},
		EntityKind{Tag: "Volume", Description: "storage volume"},
		EntityKind{Tag: "Template", Description: "virtual machine template"},
		EntityKind{Tag: "Snapshot", Description: "volume snapshot"},
	)
}
