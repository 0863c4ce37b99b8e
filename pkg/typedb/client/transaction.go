package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/typedb-exporter/pkg/graph"
	"github.com/diwise/typedb-exporter/pkg/graph/errors"
)

const (
	entityTypesQuery   string = "match entity $t;"
	relationTypesQuery string = "match relation $t;"
	ownsQuery          string = "match $t label %s; $t owns $a;"
	relatesQuery       string = "match $t label %s; $t relates $r;"
	instancesQuery     string = "match $x isa! %s;"
	hasQuery           string = "match $x iid %s; $x has %s $a;"
	playersQuery       string = "match $x iid %s; $r label %s; $x links ($r: $p);"
)

type transaction struct {
	c        *tdbClient
	id       string
	database string
	closed   bool
}

func (tx *transaction) EntityTypes(ctx context.Context) ([]graph.Type, error) {
	return collect(ctx, tx, entityTypesQuery, "t", Concept.AsType)
}

func (tx *transaction) RelationTypes(ctx context.Context) ([]graph.Type, error) {
	return collect(ctx, tx, relationTypesQuery, "t", Concept.AsType)
}

func (tx *transaction) Owns(ctx context.Context, t graph.Type) ([]graph.AttributeType, error) {
	return collect(ctx, tx, fmt.Sprintf(ownsQuery, t.Label), "a", Concept.AsAttributeType)
}

func (tx *transaction) Relates(ctx context.Context, t graph.Type) ([]graph.Role, error) {
	return collect(ctx, tx, fmt.Sprintf(relatesQuery, t.Label), "r", Concept.AsRole)
}

func (tx *transaction) Instances(ctx context.Context, t graph.Type) ([]graph.Instance, error) {
	return collect(ctx, tx, fmt.Sprintf(instancesQuery, t.Label), "x", Concept.AsInstance)
}

func (tx *transaction) Has(ctx context.Context, i graph.Instance, a graph.AttributeType) ([]string, error) {
	return collect(ctx, tx, fmt.Sprintf(hasQuery, i.IID, a.Label), "a", Concept.AsText)
}

func (tx *transaction) Players(ctx context.Context, i graph.Instance, r graph.Role) ([]graph.Instance, error) {
	return collect(ctx, tx, fmt.Sprintf(playersQuery, i.IID, r.Label()), "p", Concept.AsInstance)
}

// collect runs query and converts the concept bound to variable in every answer
func collect[T any](ctx context.Context, tx *transaction, query, variable string, convert func(Concept) (T, error)) ([]T, error) {
	rows, err := tx.query(ctx, query)
	if err != nil {
		return nil, err
	}

	result := make([]T, 0, len(rows))

	for _, row := range rows {
		concept, ok := row[variable]
		if !ok {
			return nil, fmt.Errorf("answer to %q does not bind $%s (%w)", query, variable, errors.ErrBadResponse)
		}

		v, err := convert(concept)
		if err != nil {
			return nil, err
		}

		result = append(result, v)
	}

	return result, nil
}

func (tx *transaction) query(ctx context.Context, query string) ([]ConceptRow, error) {
	var err error

	if tx.closed {
		return nil, errors.ErrClosed
	}

	ctx, span := tracer.Start(ctx, "query",
		trace.WithAttributes(attribute.String(TraceAttributeDatabase, tx.database)),
		trace.WithAttributes(attribute.String(TraceAttributeTransactionID, tx.id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	request := queryRequest{
		Query:        query,
		QueryOptions: &queryOptions{
			IncludeInstanceTypes: true,
			AnswerCountLimit:     tx.c.answerCountLimit,
		},
	}

	response, responseBody, err := tx.c.call(ctx, http.MethodPost, tx.path("query"), request)
	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		err = errors.NewErrorFromResponse(response.StatusCode, responseBody)
		return nil, err
	}

	qr := queryResponse{}
	if err = json.Unmarshal(responseBody, &qr); err != nil {
		if tx.c.debug && len(responseBody) < 1000 {
			err = fmt.Errorf("unmarshaling of %s failed with err %s", string(responseBody), err.Error())
		}
		err = fmt.Errorf("failed to decode answer to %q: %s (%w)", query, err.Error(), errors.ErrBadResponse)
		return nil, err
	}

	if qr.AnswerType != "conceptRows" {
		err = fmt.Errorf("answer to %q has type %q, expected conceptRows (%w)", query, qr.AnswerType, errors.ErrBadResponse)
		return nil, err
	}

	// the server attaches a warning when it truncated the answers
	if qr.Warning != nil {
		err = fmt.Errorf("answer to %q is incomplete: %s (%w)", query, *qr.Warning, errors.ErrBadResponse)
		return nil, err
	}

	rows := make([]ConceptRow, 0, len(qr.Answers))
	for _, a := range qr.Answers {
		rows = append(rows, a.Data)
	}

	return rows, nil
}

func (tx *transaction) Close(ctx context.Context) error {
	var err error

	if tx.closed {
		return errors.ErrClosed
	}

	ctx, span := tracer.Start(ctx, "close-transaction",
		trace.WithAttributes(attribute.String(TraceAttributeTransactionID, tx.id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	tx.closed = true

	response, responseBody, err := tx.c.call(ctx, http.MethodPost, tx.path("close"), nil)
	if err != nil {
		return err
	}

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusNoContent {
		err = errors.NewErrorFromResponse(response.StatusCode, responseBody)
		return err
	}

	return nil
}

func (tx *transaction) path(operation string) string {
	return "/v1/transactions/" + url.PathEscape(tx.id) + "/" + operation
}
