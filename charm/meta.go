// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"io"
	"sort"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"
)

// Relation is an endpoint the charm requires, as declared in
// metadata.yaml.
type Relation struct {
	Name      string
	Interface string

	// Limit is the number of relations the endpoint accepts, zero
	// meaning no limit.
	Limit int
}

// Meta holds the parts of a charm's metadata.yaml the hooks use.
type Meta struct {
	Name     string
	Requires map[string]Relation
}

// ReadMeta reads the content of a metadata.yaml file and returns
// its representation.
func ReadMeta(r io.Reader) (*Meta, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotate(err, "metadata")
	}
	v, err := metaSchema.Coerce(raw, nil)
	if err != nil {
		return nil, errors.Annotate(err, "metadata")
	}
	m := v.(map[string]any)
	meta := &Meta{Name: m["name"].(string)}
	if requires, ok := m["requires"].(map[any]any); ok {
		meta.Requires = make(map[string]Relation, len(requires))
		for name, rel := range requires {
			relation := parseRelation(name.(string), rel.(map[string]any))
			meta.Requires[relation.Name] = relation
		}
	}
	return meta, nil
}

// RequiredEndpoints returns the sorted names of the endpoints the charm
// requires.
func (m *Meta) RequiredEndpoints() []string {
	endpoints := make([]string, 0, len(m.Requires))
	for name := range m.Requires {
		endpoints = append(endpoints, name)
	}
	sort.Strings(endpoints)
	return endpoints
}

func parseRelation(name string, fields map[string]any) Relation {
	relation := Relation{
		Name:      name,
		Interface: fields["interface"].(string),
	}
	switch limit := fields["limit"].(type) {
	case int64:
		relation.Limit = int(limit)
	case int:
		relation.Limit = limit
	}
	return relation
}

// relationChecker accepts both the "endpoint: interface" shorthand and
// the full form of a required endpoint, filling in the default limit of
// one relation.
type relationChecker struct{}

var (
	stringC = schema.String()
	mapC    = schema.StringMap(schema.Any())
)

func (relationChecker) Coerce(v any, path []string) (any, error) {
	if iface, err := stringC.Coerce(v, path); err == nil {
		return map[string]any{"interface": iface, "limit": int64(1)}, nil
	}
	v, err := mapC.Coerce(v, path)
	if err != nil {
		return nil, err
	}
	m := v.(map[string]any)
	if _, ok := m["limit"]; !ok {
		m["limit"] = int64(1)
	}
	return relationSchema.Coerce(m, path)
}

var relationSchema = schema.FieldMap(
	schema.Fields{
		"interface": schema.String(),
		"limit":     schema.OneOf(schema.Const(nil), schema.Int()),
	},
	nil,
)

var metaSchema = schema.FieldMap(
	schema.Fields{
		"name":     schema.String(),
		"requires": schema.Map(schema.String(), relationChecker{}),
	},
	schema.Defaults{
		"requires": schema.Omit,
	},
)
