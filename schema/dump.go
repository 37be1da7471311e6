package schema

import (
	"io"

	"gopkg.in/yaml.v3"
)

type dumpAttribute struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Column     string `yaml:"column,omitempty"`
	Nillable   bool   `yaml:"nillable,omitempty"`
	Optional   bool   `yaml:"optional,omitempty"`
	Unique     bool   `yaml:"unique,omitempty"`
	PrimaryKey bool   `yaml:"primary_key,omitempty"`
	Ref        string `yaml:"ref,omitempty"`
}

type dumpRelationship struct {
	Name    string `yaml:"name"`
	Target  string `yaml:"target"`
	Through string `yaml:"through,omitempty"`
	Unique  bool   `yaml:"unique,omitempty"`
	Cascade string `yaml:"cascade,omitempty"`
	Loading string `yaml:"loading,omitempty"`
}

type dumpKind struct {
	Name          string             `yaml:"name"`
	Table         string             `yaml:"table"`
	Attributes    []dumpAttribute    `yaml:"attributes"`
	Relationships []dumpRelationship `yaml:"relationships,omitempty"`
}

// Dump writes a YAML snapshot of the registry to w, in registration
// order. The snapshot is for diagnostics and schema review; it is not
// read back by the engine.
func (r *Registry) Dump(w io.Writer) error {
	kinds := make([]dumpKind, 0, len(r.order))
	for _, k := range r.order {
		dk := dumpKind{Name: k.Name, Table: k.Table}
		for _, a := range k.attrs {
			da := dumpAttribute{
				Name:       a.Name,
				Type:       a.Type.String(),
				Nillable:   a.Nillable,
				Optional:   a.Optional,
				Unique:     a.Unique,
				PrimaryKey: a.PrimaryKey,
			}
			if a.Column != a.Name {
				da.Column = a.Column
			}
			if a.Ref != nil {
				da.Ref = a.Ref.Kind + "." + a.Ref.Attribute
			}
			dk.Attributes = append(dk.Attributes, da)
		}
		for _, rel := range k.relList {
			dr := dumpRelationship{
				Name:   rel.Name,
				Target: rel.Target.Name,
				Unique: rel.Unique,
			}
			if rel.Through != nil {
				dr.Through = rel.Through.Name
			}
			if rel.Rule != 0 {
				dr.Cascade = rel.Rule.String()
			}
			if rel.Load != 0 {
				dr.Loading = rel.Load.String()
			}
			dk.Relationships = append(dk.Relationships, dr)
		}
		kinds = append(kinds, dk)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(struct {
		Kinds []dumpKind `yaml:"kinds"`
	}{Kinds: kinds})
}
