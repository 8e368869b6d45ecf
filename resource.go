package store

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// RelationKind describes how a relation's target rows are found.
type RelationKind string

const (
	// BelongsTo: the parent row holds ForeignKey pointing at the target's
	// primary key. Embedded as a single object.
	BelongsTo RelationKind = "belongs_to"
	// HasMany: target rows hold ForeignKey pointing at the parent's primary
	// key. Embedded as an array.
	HasMany RelationKind = "has_many"
	// ManyMany: rows of JoinResource link parent (JoinParentKey) and target
	// (JoinTargetKey). Embedded as an array and assignable on save.
	ManyMany RelationKind = "many_many"
)

// Relation is a named association from one resource to another.
type Relation struct {
	Name          string       `yaml:"name"`
	Kind          RelationKind `yaml:"kind"`
	Target        string       `yaml:"target"`
	ForeignKey    string       `yaml:"foreign_key"`
	JoinResource  string       `yaml:"join"`
	JoinParentKey string       `yaml:"join_parent_key"`
	JoinTargetKey string       `yaml:"join_target_key"`
	// Discriminator is an extra join column that is part of a join row's
	// identity (for example the component of a role access row).
	Discriminator string `yaml:"discriminator"`
}

// Resource describes one CRUD-addressable collection.
type Resource struct {
	Name       string   `yaml:"name"`
	Table      string   `yaml:"table"`
	PrimaryKey string   `yaml:"primary_key"`
	Columns    []string `yaml:"columns"`
	Required   []string `yaml:"required"`
	// Filter is a row filter ANDed into every read, e.g. "owner_id = :user_id".
	Filter string `yaml:"filter"`
	// Order is the natural order used when a read specifies none.
	Order     string     `yaml:"order"`
	Relations []Relation `yaml:"relations"`
	// Internal resources back relations and are not routable.
	Internal bool `yaml:"internal"`

	Pipeline Pipeline `yaml:"-"`

	columns map[string]struct{}
}

// HasColumn reports whether column is a stored column of the resource.
func (r *Resource) HasColumn(column string) bool {
	if r.columns == nil {
		for _, c := range r.Columns {
			if c == column {
				return true
			}
		}
		return false
	}
	_, ok := r.columns[column]
	return ok
}

// Relation looks up a relation by name.
func (r *Resource) Relation(name string) (Relation, bool) {
	for _, rel := range r.Relations {
		if rel.Name == name {
			return rel, true
		}
	}
	return Relation{}, false
}

// Schema describes the resource for clients.
func (r *Resource) Schema() *Record {
	fields := make([]any, 0, len(r.Columns))
	for _, c := range r.Columns {
		field := RecordOf("name", c, "required", r.isRequired(c))
		if c == r.PrimaryKey {
			field.Set("primary_key", true)
		}
		fields = append(fields, field)
	}
	related := make([]any, 0, len(r.Relations))
	for _, rel := range r.Relations {
		related = append(related, RecordOf("name", rel.Name, "type", string(rel.Kind), "ref_table", rel.Target))
	}
	return RecordOf(
		"name", r.Name,
		"primary_key", r.PrimaryKey,
		"field", fields,
		"related", related,
	)
}

func (r *Resource) isRequired(column string) bool {
	for _, c := range r.Required {
		if c == column {
			return true
		}
	}
	return false
}

func (r *Resource) prepare() error {
	if r.Name == "" {
		return NewConfigErrorForField("name", r.Name, "resource name is required")
	}
	if r.Table == "" {
		r.Table = r.Name
	}
	if r.PrimaryKey == "" {
		r.PrimaryKey = "id"
	}
	r.columns = make(map[string]struct{}, len(r.Columns))
	for _, c := range r.Columns {
		r.columns[c] = struct{}{}
	}
	if _, ok := r.columns[r.PrimaryKey]; !ok {
		return NewConfigErrorForField("primary_key", r.PrimaryKey,
			fmt.Sprintf("resource %s does not declare its primary key as a column", r.Name))
	}
	for _, c := range r.Required {
		if _, ok := r.columns[c]; !ok {
			return NewConfigErrorForField("required", c,
				fmt.Sprintf("resource %s requires undeclared column", r.Name))
		}
	}
	if r.Order != "" {
		if _, err := ParseOrder(r.Order); err != nil {
			return NewConfigErrorForField("order", r.Order, err.Error())
		}
	}
	return nil
}

// Registry maps resource names to resources. It is populated at startup and
// only read afterwards.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*Resource
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]*Resource)}
}

// Register adds res to the registry.
func (r *Registry) Register(res *Resource) error {
	if err := res.prepare(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[res.Name]; exists {
		return NewConfigErrorForField("name", res.Name, "resource already registered")
	}
	r.resources[res.Name] = res
	r.order = append(r.order, res.Name)
	return nil
}

// Lookup returns the resource registered under name.
func (r *Registry) Lookup(name string) (*Resource, error) {
	r.mu.RLock()
	res, ok := r.resources[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewRecordNotFoundError(name, "")
	}
	return res, nil
}

// Names returns the routable resource names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, n := range r.order {
		if !r.resources[n].Internal {
			names = append(names, n)
		}
	}
	return names
}

// Resources returns every registered resource in registration order.
func (r *Registry) Resources() []*Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Resource, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.resources[n])
	}
	return out
}

// Validate checks that every relation points at registered resources and
// columns.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.resources))
	for n := range r.resources {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		res := r.resources[n]
		for _, rel := range res.Relations {
			if err := r.validateRelation(res, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) validateRelation(res *Resource, rel Relation) error {
	fail := func(msg string) error {
		return NewConfigErrorForField("relations", rel.Name, fmt.Sprintf("resource %s: %s", res.Name, msg))
	}
	target, ok := r.resources[rel.Target]
	if !ok {
		return fail("unknown target " + rel.Target)
	}
	switch rel.Kind {
	case BelongsTo:
		if !res.HasColumn(rel.ForeignKey) {
			return fail("foreign key " + rel.ForeignKey + " is not a column")
		}
	case HasMany:
		if !target.HasColumn(rel.ForeignKey) {
			return fail("foreign key " + rel.ForeignKey + " is not a column of " + target.Name)
		}
	case ManyMany:
		join, ok := r.resources[rel.JoinResource]
		if !ok {
			return fail("unknown join resource " + rel.JoinResource)
		}
		for _, c := range []string{rel.JoinParentKey, rel.JoinTargetKey} {
			if !join.HasColumn(c) {
				return fail("join key " + c + " is not a column of " + join.Name)
			}
		}
		if rel.Discriminator != "" && !join.HasColumn(rel.Discriminator) {
			return fail("discriminator " + rel.Discriminator + " is not a column of " + join.Name)
		}
	default:
		return fail("unknown relation kind " + string(rel.Kind))
	}
	return nil
}

// ResourceFile is the on-disk format for declaring additional resources.
type ResourceFile struct {
	Resources []*Resource `yaml:"resources"`
}

// LoadResourceFile reads resource declarations from a YAML file and
// registers them.
func LoadResourceFile(path string, registry *Registry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("couldn't open resource file: %w", err)
	}
	defer f.Close()

	var file ResourceFile
	if err := yaml.NewDecoder(f).Decode(&file); err != nil {
		return fmt.Errorf("couldn't decode resource file %s: %w", path, err)
	}
	for _, res := range file.Resources {
		if err := registry.Register(res); err != nil {
			return err
		}
	}
	return registry.Validate()
}
