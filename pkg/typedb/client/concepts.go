package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/diwise/typedb-exporter/pkg/graph"
	"github.com/diwise/typedb-exporter/pkg/graph/errors"
)

const (
	EntityTypeKind    string = "entityType"
	RelationTypeKind  string = "relationType"
	AttributeTypeKind string = "attributeType"
	RoleTypeKind      string = "roleType"
	EntityKind        string = "entity"
	RelationKind      string = "relation"
	AttributeKind     string = "attribute"
	ValueKind         string = "value"
)

// Concept is a single concept in a query answer as encoded by the HTTP API
type Concept struct {
	Kind      string          `json:"kind"`
	Label     string          `json:"label,omitempty"`
	IID       string          `json:"iid,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	ValueType string          `json:"valueType,omitempty"`
	Type      *Concept        `json:"type,omitempty"`
}

// ConceptRow binds query variables, without the leading $, to concepts
type ConceptRow map[string]Concept

type queryRequest struct {
	Query        string        `json:"query"`
	QueryOptions *queryOptions `json:"queryOptions,omitempty"`
}

type queryOptions struct {
	IncludeInstanceTypes bool `json:"includeInstanceTypes"`
	AnswerCountLimit     int  `json:"answerCountLimit,omitempty"`
}

type queryResponse struct {
	QueryType  string `json:"queryType"`
	AnswerType string `json:"answerType"`
	Answers    []struct {
		Data ConceptRow `json:"data"`
	} `json:"answers"`
	Warning *string `json:"warning,omitempty"`
}

func (c Concept) AsType() (graph.Type, error) {
	switch c.Kind {
	case EntityTypeKind:
		return graph.Type{Label: c.Label, Kind: graph.EntityKind}, nil
	case RelationTypeKind:
		return graph.Type{Label: c.Label, Kind: graph.RelationKind}, nil
	}
	return graph.Type{}, unexpectedKind(c, EntityTypeKind, RelationTypeKind)
}

func (c Concept) AsAttributeType() (graph.AttributeType, error) {
	if c.Kind != AttributeTypeKind {
		return graph.AttributeType{}, unexpectedKind(c, AttributeTypeKind)
	}
	return graph.AttributeType{Label: c.Label, ValueType: graph.ValueType(c.ValueType)}, nil
}

func (c Concept) AsRole() (graph.Role, error) {
	if c.Kind != RoleTypeKind {
		return graph.Role{}, unexpectedKind(c, RoleTypeKind)
	}
	return graph.RoleFromLabel(c.Label), nil
}

func (c Concept) AsInstance() (graph.Instance, error) {
	if c.Kind != EntityKind && c.Kind != RelationKind {
		return graph.Instance{}, unexpectedKind(c, EntityKind, RelationKind)
	}

	i := graph.Instance{IID: c.IID}
	if c.Type != nil {
		i.Type = c.Type.Label
	}

	return i, nil
}

// AsText returns the literal text of an attribute or value concept. Strings are
// returned unquoted, every other value as the JSON text sent by the server.
func (c Concept) AsText() (string, error) {
	if c.Kind != AttributeKind && c.Kind != ValueKind {
		return "", unexpectedKind(c, AttributeKind, ValueKind)
	}

	raw := bytes.TrimSpace(c.Value)
	if len(raw) == 0 {
		return "", fmt.Errorf("%s concept without value (%w)", c.Kind, errors.ErrBadResponse)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("failed to decode value %s: %s (%w)", string(raw), err.Error(), errors.ErrBadResponse)
		}
		return s, nil
	}

	return string(raw), nil
}

func unexpectedKind(c Concept, expected ...string) error {
	return fmt.Errorf("unexpected concept kind %q, expected one of %v (%w)", c.Kind, expected, errors.ErrBadResponse)
}
