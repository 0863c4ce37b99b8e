// Package memgraph keeps a small typed graph in memory and serves it through the
// graph.Connection interface.
package memgraph

import (
	"context"
	"fmt"
	"slices"

	"github.com/diwise/typedb-exporter/pkg/graph"
	"github.com/diwise/typedb-exporter/pkg/graph/errors"
)

type Graph struct {
	database string
	schema   string

	types     []*typeDef
	byLabel   map[string]*typeDef
	instances []*instance
	byIID     map[string]*instance

	opened int
	closed int
}

type typeDef struct {
	t      graph.Type
	parent *typeDef
	owns   []graph.AttributeType
	roles  []graph.Role
}

type ownership struct {
	attribute string
	value     string
}

type player struct {
	role string
	iid  string
}

type instance struct {
	graph.Instance
	has     []ownership
	players []player
}

func New(database, schema string) *Graph {
	return &Graph{
		database: database,
		schema:   schema,
		byLabel:  make(map[string]*typeDef),
		byIID:    make(map[string]*instance),
	}
}

func (g *Graph) Attribute(label string, valueType graph.ValueType) graph.AttributeType {
	return graph.AttributeType{Label: label, ValueType: valueType}
}

func (g *Graph) Entity(label string, owns ...graph.AttributeType) graph.Type {
	return g.define(graph.Type{Label: label, Kind: graph.EntityKind}, nil, owns, nil)
}

func (g *Graph) Relation(label string, roles []string, owns ...graph.AttributeType) graph.Type {
	return g.define(graph.Type{Label: label, Kind: graph.RelationKind}, nil, owns, roles)
}

// Sub declares label as a subtype of parent, inheriting its owned attributes and roles
func (g *Graph) Sub(parent graph.Type, label string, owns ...graph.AttributeType) graph.Type {
	p, ok := g.byLabel[parent.Label]
	if !ok {
		panic(fmt.Sprintf("unknown supertype %s", parent.Label))
	}
	return g.define(graph.Type{Label: label, Kind: parent.Kind}, p, owns, nil)
}

func (g *Graph) define(t graph.Type, parent *typeDef, owns []graph.AttributeType, roles []string) graph.Type {
	if _, exists := g.byLabel[t.Label]; exists {
		panic(fmt.Sprintf("type %s is already defined", t.Label))
	}

	td := &typeDef{t: t, parent: parent, owns: owns}
	for _, r := range roles {
		td.roles = append(td.roles, graph.Role{Relation: t.Label, Name: r})
	}

	g.types = append(g.types, td)
	g.byLabel[t.Label] = td

	return t
}

func (g *Graph) Insert(t graph.Type) graph.Instance {
	if _, ok := g.byLabel[t.Label]; !ok {
		panic(fmt.Sprintf("unknown type %s", t.Label))
	}

	i := &instance{
		Instance: graph.Instance{
			IID:  fmt.Sprintf("0x1e00%016x", len(g.instances)+1),
			Type: t.Label,
		},
	}

	g.instances = append(g.instances, i)
	g.byIID[i.IID] = i

	return i.Instance
}

// Own appends values of attribute type a to the instance, keeping insertion order
func (g *Graph) Own(i graph.Instance, a graph.AttributeType, values ...string) {
	inst := g.mustFind(i)
	for _, v := range values {
		inst.has = append(inst.has, ownership{attribute: a.Label, value: v})
	}
}

func (g *Graph) Link(relation graph.Instance, role string, players ...graph.Instance) {
	rel := g.mustFind(relation)
	for _, p := range players {
		g.mustFind(p)
		rel.players = append(rel.players, player{role: role, iid: p.IID})
	}
}

// Type returns the type declared with label
func (g *Graph) Type(label string) (graph.Type, bool) {
	td, ok := g.byLabel[label]
	if !ok {
		return graph.Type{}, false
	}
	return td.t, true
}

// Lookup returns the instance identified by iid
func (g *Graph) Lookup(iid string) (graph.Instance, bool) {
	i, ok := g.byIID[iid]
	if !ok {
		return graph.Instance{}, false
	}
	return i.Instance, true
}

// Transactions reports how many transactions have been opened and closed
func (g *Graph) Transactions() (opened, closed int) {
	return g.opened, g.closed
}

func (g *Graph) mustFind(i graph.Instance) *instance {
	inst, ok := g.byIID[i.IID]
	if !ok {
		panic(fmt.Sprintf("unknown instance %s", i.IID))
	}
	return inst
}

func (g *Graph) Schema(ctx context.Context, database string) (string, error) {
	if database != g.database {
		return "", errors.NewSchemaLookupError(fmt.Sprintf("database %s does not exist", database))
	}
	return g.schema, nil
}

func (g *Graph) Transaction(ctx context.Context, database string) (graph.Transaction, error) {
	if database != g.database {
		return nil, errors.NewSchemaLookupError(fmt.Sprintf("database %s does not exist", database))
	}

	g.opened++

	return &transaction{g: g}, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return nil
}

type transaction struct {
	g      *Graph
	closed bool
}

func (tx *transaction) EntityTypes(ctx context.Context) ([]graph.Type, error) {
	return tx.typesOfKind(graph.EntityKind)
}

func (tx *transaction) RelationTypes(ctx context.Context) ([]graph.Type, error) {
	return tx.typesOfKind(graph.RelationKind)
}

func (tx *transaction) typesOfKind(k graph.Kind) ([]graph.Type, error) {
	if tx.closed {
		return nil, errors.ErrClosed
	}

	types := []graph.Type{}
	for _, td := range tx.g.types {
		if td.t.Kind == k {
			types = append(types, td.t)
		}
	}

	return types, nil
}

func (tx *transaction) lookup(t graph.Type) (*typeDef, error) {
	if tx.closed {
		return nil, errors.ErrClosed
	}

	td, ok := tx.g.byLabel[t.Label]
	if !ok {
		return nil, errors.NewSchemaLookupError(fmt.Sprintf("type %s does not exist", t.Label))
	}

	return td, nil
}

func (tx *transaction) Owns(ctx context.Context, t graph.Type) ([]graph.AttributeType, error) {
	td, err := tx.lookup(t)
	if err != nil {
		return nil, err
	}

	owns := []graph.AttributeType{}
	for _, def := range lineage(td) {
		for _, a := range def.owns {
			if !slices.Contains(owns, a) {
				owns = append(owns, a)
			}
		}
	}

	return owns, nil
}

func (tx *transaction) Relates(ctx context.Context, t graph.Type) ([]graph.Role, error) {
	td, err := tx.lookup(t)
	if err != nil {
		return nil, err
	}

	roles := []graph.Role{}
	for _, def := range lineage(td) {
		roles = append(roles, def.roles...)
	}

	return roles, nil
}

// lineage returns td and its supertypes, root first
func lineage(td *typeDef) []*typeDef {
	defs := []*typeDef{}
	for d := td; d != nil; d = d.parent {
		defs = append([]*typeDef{d}, defs...)
	}
	return defs
}

func (tx *transaction) Instances(ctx context.Context, t graph.Type) ([]graph.Instance, error) {
	if _, err := tx.lookup(t); err != nil {
		return nil, err
	}

	instances := []graph.Instance{}
	for _, i := range tx.g.instances {
		if i.Type == t.Label {
			instances = append(instances, i.Instance)
		}
	}

	return instances, nil
}

func (tx *transaction) Has(ctx context.Context, i graph.Instance, a graph.AttributeType) ([]string, error) {
	inst, err := tx.instance(i)
	if err != nil {
		return nil, err
	}

	values := []string{}
	for _, o := range inst.has {
		if o.attribute == a.Label {
			values = append(values, o.value)
		}
	}

	return values, nil
}

func (tx *transaction) Players(ctx context.Context, i graph.Instance, r graph.Role) ([]graph.Instance, error) {
	inst, err := tx.instance(i)
	if err != nil {
		return nil, err
	}

	players := []graph.Instance{}
	for _, p := range inst.players {
		if p.role == r.Name {
			players = append(players, tx.g.byIID[p.iid].Instance)
		}
	}

	return players, nil
}

func (tx *transaction) instance(i graph.Instance) (*instance, error) {
	if tx.closed {
		return nil, errors.ErrClosed
	}

	inst, ok := tx.g.byIID[i.IID]
	if !ok {
		return nil, errors.NewQueryError(fmt.Sprintf("no instance with iid %s", i.IID))
	}

	return inst, nil
}

func (tx *transaction) Close(ctx context.Context) error {
	if tx.closed {
		return errors.ErrClosed
	}

	tx.closed = true
	tx.g.closed++

	return nil
}
