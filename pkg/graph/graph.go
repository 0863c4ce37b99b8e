package graph

import (
	"context"
	"strings"
)

type Kind int

const (
	EntityKind Kind = iota
	RelationKind
)

func (k Kind) String() string {
	switch k {
	case EntityKind:
		return "entity"
	case RelationKind:
		return "relation"
	default:
		return "unknown"
	}
}

// Type is an entity or relation type declared in the schema
type Type struct {
	Label string
	Kind  Kind
}

type ValueType string

const (
	StringValue   ValueType = "string"
	BooleanValue  ValueType = "boolean"
	IntegerValue  ValueType = "integer"
	DoubleValue   ValueType = "double"
	DecimalValue  ValueType = "decimal"
	DateValue     ValueType = "date"
	DateTimeValue ValueType = "datetime"
)

type AttributeType struct {
	Label     string
	ValueType ValueType
}

func (a AttributeType) IsString() bool {
	return a.ValueType == StringValue
}

// Instance identifiers are only valid within the transaction that returned them
type Instance struct {
	IID  string
	Type string
}

type Role struct {
	Relation string
	Name     string
}

// Label returns the scoped role label, i.e. relation:name
func (r Role) Label() string {
	return r.Relation + ":" + r.Name
}

// RoleFromLabel splits a scoped role label into its relation and role name
func RoleFromLabel(label string) Role {
	relation, name, found := strings.Cut(label, ":")
	if !found {
		return Role{Name: label}
	}
	return Role{Relation: relation, Name: name}
}

type Connection interface {
	Schema(ctx context.Context, database string) (string, error)
	// Transaction opens a read only transaction against the named database
	Transaction(ctx context.Context, database string) (Transaction, error)
	Close(ctx context.Context) error
}

// Transaction is a consistent, read only view of a database
type Transaction interface {
	// EntityTypes returns every entity type, transitively, below the entity root
	EntityTypes(ctx context.Context) ([]Type, error)
	// RelationTypes returns every relation type, transitively, below the relation root
	RelationTypes(ctx context.Context) ([]Type, error)

	Owns(ctx context.Context, t Type) ([]AttributeType, error)
	Relates(ctx context.Context, t Type) ([]Role, error)

	// Instances returns the instances whose exact type is t, excluding instances of subtypes
	Instances(ctx context.Context, t Type) ([]Instance, error)
	// Has returns the textual form of every value of type a owned by i
	Has(ctx context.Context, i Instance, a AttributeType) ([]string, error)
	Players(ctx context.Context, i Instance, r Role) ([]Instance, error)

	Close(ctx context.Context) error
}
