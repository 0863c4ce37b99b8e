// Package typedbtest serves a memgraph.Graph through the subset of the TypeDB HTTP
// API that the exporter uses. It is meant for tests only.
package typedbtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/riandyrn/otelchi"

	"github.com/diwise/typedb-exporter/pkg/graph"
	"github.com/diwise/typedb-exporter/pkg/graph/memgraph"
)

// DefaultAnswerCountLimit applies to queries that do not set answerCountLimit
const DefaultAnswerCountLimit int = 10_000

type Server struct {
	srv *httptest.Server
	g   *memgraph.Graph

	username string
	password string
	token    string

	mu      sync.Mutex
	txs     map[string]graph.Transaction
	queries []string
}

func NewServer(g *memgraph.Graph, username, password string) *Server {
	s := &Server{
		g:        g,
		username: username,
		password: password,
		token:    uuid.NewString(),
		txs:      make(map[string]graph.Transaction),
	}

	r := chi.NewRouter()
	r.Use(otelchi.Middleware("typedb", otelchi.WithChiRoutes(r)))

	r.Post("/v1/signin", s.signIn)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated)

		r.Get("/v1/databases/{database}/schema", s.schema)
		r.Post("/v1/transactions/open", s.openTransaction)
		r.Post("/v1/transactions/{id}/query", s.query)
		r.Post("/v1/transactions/{id}/close", s.closeTransaction)
	})

	s.srv = httptest.NewServer(r)

	return s
}

func (s *Server) URL() string {
	return s.srv.URL
}

func (s *Server) Close() {
	s.srv.Close()
}

// Queries returns every query received so far, in order
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queries)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	credentials := struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{}

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		writeError(w, http.StatusBadRequest, "HSR1", err.Error())
		return
	}

	if credentials.Username != s.username || credentials.Password != s.password {
		writeError(w, http.StatusUnauthorized, "AUT3", "Invalid credential supplied.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": s.token})
}

func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "AUT2", "Missing or invalid token.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) schema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.g.Schema(r.Context(), chi.URLParam(r, "database"))
	if err != nil {
		writeError(w, http.StatusNotFound, "DBS1", err.Error())
		return
	}

	w.Header().Add("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(schema))
}

func (s *Server) openTransaction(w http.ResponseWriter, r *http.Request) {
	request := struct {
		DatabaseName    string `json:"databaseName"`
		TransactionType string `json:"transactionType"`
	}{}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "HSR1", err.Error())
		return
	}

	if request.TransactionType != "read" {
		writeError(w, http.StatusBadRequest, "TXN1", fmt.Sprintf("%s transactions are not supported", request.TransactionType))
		return
	}

	tx, err := s.g.Transaction(r.Context(), request.DatabaseName)
	if err != nil {
		writeError(w, http.StatusNotFound, "DBS1", err.Error())
		return
	}

	id := uuid.NewString()

	s.mu.Lock()
	s.txs[id] = tx
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"transactionId": id})
}

func (s *Server) transaction(w http.ResponseWriter, r *http.Request) (graph.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "TXN2", "Transaction not found.")
	}

	return tx, ok
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.transaction(w, r)
	if !ok {
		return
	}

	request := struct {
		Query        string `json:"query"`
		QueryOptions struct {
			AnswerCountLimit int `json:"answerCountLimit"`
		} `json:"queryOptions"`
	}{}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "HSR1", err.Error())
		return
	}

	s.mu.Lock()
	s.queries = append(s.queries, request.Query)
	s.mu.Unlock()

	rows, err := s.answer(r, tx, request.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "QRY1", err.Error())
		return
	}

	var warning *string

	limit := request.QueryOptions.AnswerCountLimit
	if limit <= 0 {
		limit = DefaultAnswerCountLimit
	}

	if len(rows) > limit {
		rows = rows[:limit]
		warning = new(string)
		*warning = fmt.Sprintf("The query results were truncated because they exceeded the answer count limit of %d.", limit)
	}

	answers := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		answers = append(answers, map[string]any{"data": row, "involvedBlocks": []int{0}})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queryType":  "read",
		"answerType": "conceptRows",
		"answers":    answers,
		"warning":    warning,
	})
}

func (s *Server) closeTransaction(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.transaction(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.txs, chi.URLParam(r, "id"))
	s.mu.Unlock()

	if err := tx.Close(r.Context()); err != nil {
		writeError(w, http.StatusBadRequest, "TXN3", err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	b, _ := json.Marshal(body)

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

var (
	entityTypesPattern   = regexp.MustCompile(`^match entity \$t;$`)
	relationTypesPattern = regexp.MustCompile(`^match relation \$t;$`)
	ownsPattern          = regexp.MustCompile(`^match \$t label ([\w-]+); \$t owns \$a;$`)
	relatesPattern       = regexp.MustCompile(`^match \$t label ([\w-]+); \$t relates \$r;$`)
	instancesPattern     = regexp.MustCompile(`^match \$x isa! ([\w-]+);$`)
	hasPattern           = regexp.MustCompile(`^match \$x iid (0x[0-9a-f]+); \$x has ([\w-]+) \$a;$`)
	playersPattern       = regexp.MustCompile(`^match \$x iid (0x[0-9a-f]+); \$r label ([\w-]+:[\w-]+); \$x links \(\$r: \$p\);$`)
)

type conceptRow map[string]any

func (s *Server) answer(r *http.Request, tx graph.Transaction, query string) ([]conceptRow, error) {
	ctx := r.Context()
	rows := []conceptRow{}

	switch {
	case entityTypesPattern.MatchString(query), relationTypesPattern.MatchString(query):
		list := tx.EntityTypes
		if relationTypesPattern.MatchString(query) {
			list = tx.RelationTypes
		}

		types, err := list(ctx)
		if err != nil {
			return nil, err
		}

		for _, t := range types {
			rows = append(rows, conceptRow{"t": typeConcept(t)})
		}

	case ownsPattern.MatchString(query):
		t, err := s.lookupType(ownsPattern.FindStringSubmatch(query)[1])
		if err != nil {
			return nil, err
		}

		owns, err := tx.Owns(ctx, t)
		if err != nil {
			return nil, err
		}

		for _, a := range owns {
			rows = append(rows, conceptRow{"a": attributeTypeConcept(a)})
		}

	case relatesPattern.MatchString(query):
		t, err := s.lookupType(relatesPattern.FindStringSubmatch(query)[1])
		if err != nil {
			return nil, err
		}

		roles, err := tx.Relates(ctx, t)
		if err != nil {
			return nil, err
		}

		for _, role := range roles {
			rows = append(rows, conceptRow{"r": map[string]any{"kind": "roleType", "label": role.Label()}})
		}

	case instancesPattern.MatchString(query):
		t, err := s.lookupType(instancesPattern.FindStringSubmatch(query)[1])
		if err != nil {
			return nil, err
		}

		instances, err := tx.Instances(ctx, t)
		if err != nil {
			return nil, err
		}

		for _, i := range instances {
			rows = append(rows, conceptRow{"x": s.instanceConcept(i)})
		}

	case hasPattern.MatchString(query):
		m := hasPattern.FindStringSubmatch(query)

		i, a, err := s.lookupOwnership(r, tx, m[1], m[2])
		if err != nil {
			return nil, err
		}

		values, err := tx.Has(ctx, i, a)
		if err != nil {
			return nil, err
		}

		for _, v := range values {
			rows = append(rows, conceptRow{"a": attributeConcept(a, v)})
		}

	case playersPattern.MatchString(query):
		m := playersPattern.FindStringSubmatch(query)

		i, ok := s.g.Lookup(m[1])
		if !ok {
			return nil, fmt.Errorf("no instance with iid %s", m[1])
		}

		players, err := tx.Players(ctx, i, graph.RoleFromLabel(m[2]))
		if err != nil {
			return nil, err
		}

		for _, p := range players {
			rows = append(rows, conceptRow{"p": s.instanceConcept(p)})
		}

	default:
		return nil, fmt.Errorf("unsupported query: %s", query)
	}

	return rows, nil
}

func (s *Server) lookupType(label string) (graph.Type, error) {
	t, ok := s.g.Type(label)
	if !ok {
		return graph.Type{}, fmt.Errorf("type %s does not exist", label)
	}
	return t, nil
}

func (s *Server) lookupOwnership(r *http.Request, tx graph.Transaction, iid, attribute string) (graph.Instance, graph.AttributeType, error) {
	i, ok := s.g.Lookup(iid)
	if !ok {
		return graph.Instance{}, graph.AttributeType{}, fmt.Errorf("no instance with iid %s", iid)
	}

	t, err := s.lookupType(i.Type)
	if err != nil {
		return graph.Instance{}, graph.AttributeType{}, err
	}

	owns, err := tx.Owns(r.Context(), t)
	if err != nil {
		return graph.Instance{}, graph.AttributeType{}, err
	}

	for _, a := range owns {
		if a.Label == attribute {
			return i, a, nil
		}
	}

	return graph.Instance{}, graph.AttributeType{}, fmt.Errorf("%s does not own %s", t.Label, attribute)
}

func typeConcept(t graph.Type) map[string]any {
	kind := "entityType"
	if t.Kind == graph.RelationKind {
		kind = "relationType"
	}
	return map[string]any{"kind": kind, "label": t.Label}
}

func attributeTypeConcept(a graph.AttributeType) map[string]any {
	return map[string]any{"kind": "attributeType", "label": a.Label, "valueType": string(a.ValueType)}
}

func attributeConcept(a graph.AttributeType, value string) map[string]any {
	var v any = value

	switch a.ValueType {
	case graph.IntegerValue, graph.DoubleValue, graph.BooleanValue:
		if json.Valid([]byte(value)) {
			v = json.RawMessage(value)
		}
	}

	return map[string]any{
		"kind":      "attribute",
		"value":     v,
		"valueType": string(a.ValueType),
		"type":      attributeTypeConcept(a),
	}
}

func (s *Server) instanceConcept(i graph.Instance) map[string]any {
	t, _ := s.g.Type(i.Type)

	kind := "entity"
	if t.Kind == graph.RelationKind {
		kind = "relation"
	}

	return map[string]any{"kind": kind, "iid": i.IID, "type": typeConcept(t)}
}
