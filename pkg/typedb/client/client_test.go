package client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"
	"github.com/matryer/is"

	"github.com/diwise/typedb-exporter/pkg/graph"
	graphErrors "github.com/diwise/typedb-exporter/pkg/graph/errors"
	"github.com/diwise/typedb-exporter/pkg/graph/memgraph"
	"github.com/diwise/typedb-exporter/pkg/typedb/typedbtest"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var anyInput = expects.AnyInput
var method = expects.RequestMethod
var path = expects.RequestPath
var bodyContaining = expects.RequestBodyContaining

func TestConnectSignsIn(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/v1/signin"),
			bodyContaining(`"username":"exporter"`),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"token":"t0k3n"}`)),
		),
	)
	defer s.Close()

	conn, err := Connect(context.Background(), s.URL(), Credentials("exporter", "secret"))

	is.NoErr(err)
	is.Equal(conn.(*tdbClient).token, "t0k3n")
	is.Equal(s.RequestCount(), 1)
}

func TestConnectWithBadCredentials(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusUnauthorized),
			response.Body([]byte(`{"code":"AUT3","message":"Invalid credential supplied."}`)),
		),
	)
	defer s.Close()

	_, err := Connect(context.Background(), s.URL())

	is.True(errors.Is(err, graphErrors.ErrConnection))
}

func TestConnectFailsOnServerError(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(response.Code(http.StatusInternalServerError)),
	)
	defer s.Close()

	_, err := Connect(context.Background(), s.URL())

	is.True(errors.Is(err, graphErrors.ErrConnection)) // any failed sign in is a connection error
}

func TestConnectHandlesMissingToken(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.Code(http.StatusOK),
			response.Body([]byte(`{}`)),
		),
	)
	defer s.Close()

	_, err := Connect(context.Background(), s.URL())

	is.True(errors.Is(err, graphErrors.ErrBadResponse))
}

func TestConnectToUnreachableServer(t *testing.T) {
	is := is.New(t)

	_, err := Connect(context.Background(), "http://127.0.0.1:1")

	is.True(errors.Is(err, graphErrors.ErrConnection))
}

func TestSchema(t *testing.T) {
	is, ctx, conn, _ := setupClientTest(t)

	schema, err := conn.Schema(ctx, "sample_app")

	is.NoErr(err)
	is.Equal(schema, testSchema)
}

func TestSchemaOfUnknownDatabase(t *testing.T) {
	is, ctx, conn, _ := setupClientTest(t)

	_, err := conn.Schema(ctx, "nope")

	is.True(errors.Is(err, graphErrors.ErrSchemaLookup))
}

func TestSchemaAsJSONString(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`"define\n  entity person;"`)),
		),
	)
	defer s.Close()

	c := &tdbClient{baseURL: s.URL(), token: "t0k3n"}

	schema, err := c.Schema(context.Background(), "sample_app")

	is.NoErr(err)
	is.Equal(schema, "define\n  entity person;")
}

func TestReadTypesAndInstances(t *testing.T) {
	is, ctx, conn, g := setupClientTest(t)

	tx, err := conn.Transaction(ctx, "sample_app")
	is.NoErr(err)
	defer tx.Close(ctx)

	entityTypes, err := tx.EntityTypes(ctx)
	is.NoErr(err)
	is.Equal(entityTypes, []graph.Type{{Label: "person", Kind: graph.EntityKind}})

	relationTypes, err := tx.RelationTypes(ctx)
	is.NoErr(err)
	is.Equal(relationTypes, []graph.Type{{Label: "employment", Kind: graph.RelationKind}})

	owns, err := tx.Owns(ctx, entityTypes[0])
	is.NoErr(err)
	is.Equal(owns, []graph.AttributeType{
		{Label: "name", ValueType: graph.StringValue},
		{Label: "age", ValueType: graph.IntegerValue},
	})

	persons, err := tx.Instances(ctx, entityTypes[0])
	is.NoErr(err)
	is.Equal(len(persons), 2)

	expected, _ := g.Lookup(persons[0].IID)
	is.Equal(persons[0], expected)
}

func TestReadAttributeValues(t *testing.T) {
	is, ctx, conn, _ := setupClientTest(t)

	tx, _ := conn.Transaction(ctx, "sample_app")
	defer tx.Close(ctx)

	person := graph.Type{Label: "person", Kind: graph.EntityKind}
	persons, _ := tx.Instances(ctx, person)

	names, err := tx.Has(ctx, persons[0], graph.AttributeType{Label: "name", ValueType: graph.StringValue})
	is.NoErr(err)
	is.Equal(names, []string{"Ann", `Ann "Annie" Smith`})

	ages, err := tx.Has(ctx, persons[0], graph.AttributeType{Label: "age", ValueType: graph.IntegerValue})
	is.NoErr(err)
	is.Equal(ages, []string{"42"})

	none, err := tx.Has(ctx, persons[1], graph.AttributeType{Label: "name", ValueType: graph.StringValue})
	is.NoErr(err)
	is.Equal(len(none), 0)
}

func TestReadRolePlayers(t *testing.T) {
	is, ctx, conn, _ := setupClientTest(t)

	tx, _ := conn.Transaction(ctx, "sample_app")
	defer tx.Close(ctx)

	employment := graph.Type{Label: "employment", Kind: graph.RelationKind}

	roles, err := tx.Relates(ctx, employment)
	is.NoErr(err)
	is.Equal(roles, []graph.Role{
		{Relation: "employment", Name: "employer"},
		{Relation: "employment", Name: "employee"},
	})

	relations, err := tx.Instances(ctx, employment)
	is.NoErr(err)
	is.Equal(len(relations), 1)

	employers, err := tx.Players(ctx, relations[0], roles[0])
	is.NoErr(err)
	is.Equal(len(employers), 1)
	is.Equal(employers[0].Type, "person")
}

func TestCloseTransaction(t *testing.T) {
	is, ctx, conn, g := setupClientTest(t)

	tx, err := conn.Transaction(ctx, "sample_app")
	is.NoErr(err)

	is.NoErr(tx.Close(ctx))

	opened, closed := g.Transactions()
	is.Equal(opened, 1)
	is.Equal(closed, 1)

	_, err = tx.EntityTypes(ctx)
	is.True(errors.Is(err, graphErrors.ErrClosed))
}

func TestTransactionOnUnknownDatabase(t *testing.T) {
	is, ctx, conn, _ := setupClientTest(t)

	_, err := conn.Transaction(ctx, "nope")

	is.True(errors.Is(err, graphErrors.ErrSchemaLookup))
}

func TestQueryErrorsAreReported(t *testing.T) {
	is, ctx, conn, _ := setupClientTest(t)

	tx, _ := conn.Transaction(ctx, "sample_app")
	defer tx.Close(ctx)

	_, err := tx.Instances(ctx, graph.Type{Label: "unicorn", Kind: graph.EntityKind})

	is.True(errors.Is(err, graphErrors.ErrQuery))
}

func TestRequestsAfterCloseAreUnauthorized(t *testing.T) {
	is, ctx, conn, _ := setupClientTest(t)

	is.NoErr(conn.Close(ctx))

	_, err := conn.Schema(ctx, "sample_app")

	is.True(errors.Is(err, graphErrors.ErrConnection))
}

const testSchema string = `define
  attribute name, value string;
  attribute age, value integer;
  entity person, owns name, owns age;
  relation employment, relates employer, relates employee;
`

func TestIncompleteAnswerIsAnError(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/v1/transactions/tx1/query"),
			bodyContaining(`"answerCountLimit":1000000`),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(truncatedAnswer)),
		),
	)
	defer s.Close()

	c := &tdbClient{baseURL: s.URL(), token: "t0k3n", answerCountLimit: DefaultAnswerCountLimit}
	tx := &transaction{c: c, id: "tx1", database: "sample_app"}

	persons, err := tx.Instances(context.Background(), graph.Type{Label: "person", Kind: graph.EntityKind})

	is.True(errors.Is(err, graphErrors.ErrBadResponse))
	is.Equal(len(persons), 0) // a partial list must never be returned
	is.Equal(s.RequestCount(), 1)
}

func TestAnswersAboveTheLimitAbortTheRead(t *testing.T) {
	is, ctx, _, g := setupClientTest(t)

	s := typedbtest.NewServer(g, "admin", "password")
	defer s.Close()

	conn, err := Connect(ctx, s.URL(), AnswerCountLimit(1))
	is.NoErr(err)
	defer conn.Close(ctx)

	tx, err := conn.Transaction(ctx, "sample_app")
	is.NoErr(err)
	defer tx.Close(ctx)

	person, _ := g.Type("person")

	_, err = tx.Instances(ctx, person)
	is.True(errors.Is(err, graphErrors.ErrBadResponse)) // two persons, limit of one

	employment, _ := g.Type("employment")

	jobs, err := tx.Instances(ctx, employment)
	is.NoErr(err) // answers within the limit are unaffected
	is.Equal(len(jobs), 1)
}

func setupClientTest(t *testing.T) (*is.I, context.Context, graph.Connection, *memgraph.Graph) {
	is := is.New(t)
	ctx := context.Background()

	g := memgraph.New("sample_app", testSchema)

	name := g.Attribute("name", graph.StringValue)
	age := g.Attribute("age", graph.IntegerValue)
	person := g.Entity("person", name, age)
	employment := g.Relation("employment", []string{"employer", "employee"})

	ann := g.Insert(person)
	g.Own(ann, name, "Ann", `Ann "Annie" Smith`)
	g.Own(ann, age, "42")
	bob := g.Insert(person)

	job := g.Insert(employment)
	g.Link(job, "employer", ann)
	g.Link(job, "employee", bob)

	s := typedbtest.NewServer(g, "admin", "password")
	t.Cleanup(s.Close)

	conn, err := Connect(ctx, s.URL(), Credentials("admin", "password"))
	is.NoErr(err)

	return is, ctx, conn, g
}

const truncatedAnswer string = `{
  "queryType": "read",
  "answerType": "conceptRows",
  "answers": [
    {"data": {"x": {"kind": "entity", "iid": "0x1e00000000000001", "type": {"kind": "entityType", "label": "person"}}}}
  ],
  "warning": "The query results were truncated because they exceeded the answer count limit."
}`
