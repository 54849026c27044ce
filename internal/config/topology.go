package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nestkit/nestkit/internal/protocol"
)

// refNamespace derives stable actor refs from names so snapshots match
// across restarts.
var refNamespace = uuid.MustParse("6f1c3a52-4b0e-4d8e-9a51-0c3f7d2b9e14")

// Topology lists the actors one node hosts.
type Topology struct {
	Catalogs       []CatalogSpec       `yaml:"catalogs"`
	ResourceStores []ResourceStoreSpec `yaml:"resource_stores"`
	Collections    []CollectionSpec    `yaml:"collections"`

	refs map[string]protocol.ActorRef
}

type CatalogSpec struct {
	Name  string     `yaml:"name"`
	Ref   string     `yaml:"ref,omitempty"`
	Admin string     `yaml:"admin"`
	Parts []PartSpec `yaml:"parts,omitempty"`
}

// PartSpec seeds one catalog part. Equippable entries are collection names
// or refs.
type PartSpec struct {
	ID              protocol.PartID `yaml:"id"`
	Kind            string          `yaml:"kind"`
	Z               uint32          `yaml:"z"`
	MetadataURI     string          `yaml:"metadata_uri,omitempty"`
	Equippable      []string        `yaml:"equippable,omitempty"`
	EquippableToAll bool            `yaml:"equippable_to_all,omitempty"`
}

type ResourceStoreSpec struct {
	Name  string `yaml:"name"`
	Ref   string `yaml:"ref,omitempty"`
	Admin string `yaml:"admin"`
}

type CollectionSpec struct {
	Name          string `yaml:"name"`
	Ref           string `yaml:"ref,omitempty"`
	Admin         string `yaml:"admin"`
	ResourceStore string `yaml:"resource_store,omitempty"`
	Replicated    bool   `yaml:"replicated,omitempty"`
}

// LoadTopology reads and resolves a topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return ParseTopology(data)
}

func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse YAML topology: %w", err)
	}
	if err := t.resolve(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Ref returns the actor ref of a named actor.
func (t *Topology) Ref(name string) (protocol.ActorRef, bool) {
	ref, ok := t.refs[name]
	return ref, ok
}

// Replicated returns the collection hosted behind raft, if any.
func (t *Topology) Replicated() (CollectionSpec, bool) {
	for _, c := range t.Collections {
		if c.Replicated {
			return c, true
		}
	}
	return CollectionSpec{}, false
}

// StoreAdmins lists who may add entries to a resource store: its admin and
// every collection bound to it.
func (t *Topology) StoreAdmins(store ResourceStoreSpec) []protocol.ActorRef {
	admins := []protocol.ActorRef{t.mustAccount(store.Admin)}
	for _, c := range t.Collections {
		if c.ResourceStore == store.Name {
			admins = append(admins, t.refs[c.Name])
		}
	}
	return admins
}

// Account parses an admin field.
func (t *Topology) Account(raw string) protocol.ActorRef {
	return t.mustAccount(raw)
}

func (t *Topology) mustAccount(raw string) protocol.ActorRef {
	ref, err := protocol.ParseActorRef(raw)
	if err != nil {
		return protocol.ZeroActor
	}
	return ref
}

// Parts converts a catalog's seed parts, resolving collection names.
func (t *Topology) Parts(c CatalogSpec) (map[protocol.PartID]protocol.Part, error) {
	out := make(map[protocol.PartID]protocol.Part, len(c.Parts))
	for _, p := range c.Parts {
		part := protocol.Part{
			Kind:            protocol.PartKind(p.Kind),
			Z:               p.Z,
			MetadataURI:     p.MetadataURI,
			EquippableToAll: p.EquippableToAll,
		}
		for _, e := range p.Equippable {
			ref, err := t.lookup(e)
			if err != nil {
				return nil, fmt.Errorf("catalog %s part %d: %w", c.Name, p.ID, err)
			}
			part.Equippable = append(part.Equippable, ref)
		}
		if err := part.Validate(); err != nil {
			return nil, fmt.Errorf("catalog %s part %d: %w", c.Name, p.ID, err)
		}
		if _, dup := out[p.ID]; dup || p.ID == 0 {
			return nil, fmt.Errorf("catalog %s: invalid or repeated part id %d", c.Name, p.ID)
		}
		out[p.ID] = part
	}
	return out, nil
}

func (t *Topology) resolve() error {
	t.refs = map[string]protocol.ActorRef{}
	add := func(name, raw, admin string) error {
		if name == "" {
			return errors.New("every actor needs a name")
		}
		if _, dup := t.refs[name]; dup {
			return fmt.Errorf("actor name %q is used twice", name)
		}
		if _, err := protocol.ParseActorRef(admin); err != nil {
			return fmt.Errorf("actor %s: invalid admin: %w", name, err)
		}
		ref := protocol.ActorRef(uuid.NewSHA1(refNamespace, []byte(name)))
		if raw != "" {
			parsed, err := protocol.ParseActorRef(raw)
			if err != nil {
				return fmt.Errorf("actor %s: invalid ref: %w", name, err)
			}
			ref = parsed
		}
		t.refs[name] = ref
		return nil
	}
	for _, c := range t.Catalogs {
		if err := add(c.Name, c.Ref, c.Admin); err != nil {
			return err
		}
	}
	for _, s := range t.ResourceStores {
		if err := add(s.Name, s.Ref, s.Admin); err != nil {
			return err
		}
	}
	replicated := 0
	for _, c := range t.Collections {
		if err := add(c.Name, c.Ref, c.Admin); err != nil {
			return err
		}
		if c.Replicated {
			replicated++
		}
	}
	if replicated > 1 {
		return errors.New("at most one collection can be replicated per node")
	}
	for _, c := range t.Collections {
		if c.ResourceStore == "" {
			continue
		}
		if !t.isStore(c.ResourceStore) {
			return fmt.Errorf("collection %s: unknown resource store %q", c.Name, c.ResourceStore)
		}
	}
	for _, c := range t.Catalogs {
		if _, err := t.Parts(c); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) isStore(name string) bool {
	for _, s := range t.ResourceStores {
		if s.Name == name {
			return true
		}
	}
	return false
}

// lookup accepts an actor name from this topology or a raw ref.
func (t *Topology) lookup(v string) (protocol.ActorRef, error) {
	if ref, ok := t.refs[v]; ok {
		return ref, nil
	}
	ref, err := protocol.ParseActorRef(v)
	if err != nil {
		return protocol.ZeroActor, fmt.Errorf("unknown actor %q", v)
	}
	return ref, nil
}
