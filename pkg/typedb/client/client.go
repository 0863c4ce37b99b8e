package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/typedb-exporter/pkg/graph"
	"github.com/diwise/typedb-exporter/pkg/graph/errors"
)

const (
	TraceAttributeDatabase      string = "typedb-database"
	TraceAttributeTransactionID string = "typedb-transaction-id"
)

// DefaultAnswerCountLimit is sent with every query. The server refuses to return more
// answers than the limit and flags the answer as incomplete instead.
const DefaultAnswerCountLimit int = 1_000_000

var tracer = otel.Tracer("typedb-client")

func Credentials(username, password string) func(*tdbClient) {
	return func(c *tdbClient) {
		c.username = username
		c.password = password
	}
}

// TransactionTimeout limits the lifetime of transactions opened by the client. Zero
// leaves the timeout to the server.
func TransactionTimeout(timeout time.Duration) func(*tdbClient) {
	return func(c *tdbClient) {
		c.transactionTimeout = timeout
	}
}

// AnswerCountLimit caps the number of answers to a single query. Zero keeps
// DefaultAnswerCountLimit.
func AnswerCountLimit(limit int) func(*tdbClient) {
	return func(c *tdbClient) {
		if limit > 0 {
			c.answerCountLimit = limit
		}
	}
}

func Debug(enabled string) func(*tdbClient) {
	return func(c *tdbClient) {
		c.debug = (enabled == "true")
	}
}

// Connect signs in to the TypeDB HTTP endpoint at address and returns a connection
// that authenticates every following request with the issued token
func Connect(ctx context.Context, address string, options ...func(*tdbClient)) (graph.Connection, error) {
	c := &tdbClient{
		baseURL:  strings.TrimSuffix(address, "/"),
		username: "admin",
		password: "password",

		answerCountLimit: DefaultAnswerCountLimit,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, option := range options {
		option(c)
	}

	if err := c.signIn(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

type tdbClient struct {
	baseURL  string
	username string
	password string
	token    string

	transactionTimeout time.Duration
	answerCountLimit   int
	debug              bool

	httpClient http.Client
}

func (c *tdbClient) signIn(ctx context.Context) error {
	var err error

	ctx, span := tracer.Start(ctx, "sign-in")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	credentials := map[string]string{"username": c.username, "password": c.password}

	response, responseBody, err := c.call(ctx, http.MethodPost, "/v1/signin", credentials)
	if err != nil {
		return err
	}

	if response.StatusCode != http.StatusOK {
		err = errors.NewConnectionError(
			fmt.Sprintf("failed to sign in as %s: %s", c.username, errors.NewErrorFromResponse(response.StatusCode, responseBody).Error()),
		)
		return err
	}

	signIn := struct {
		Token string `json:"token"`
	}{}

	if err = json.Unmarshal(responseBody, &signIn); err != nil || signIn.Token == "" {
		err = fmt.Errorf("sign in response did not contain a token (%w)", errors.ErrBadResponse)
		return err
	}

	c.token = signIn.Token

	return nil
}

func (c *tdbClient) Schema(ctx context.Context, database string) (string, error) {
	var err error

	ctx, span := tracer.Start(ctx, "get-schema",
		trace.WithAttributes(attribute.String(TraceAttributeDatabase, database)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	response, responseBody, err := c.call(ctx, http.MethodGet, "/v1/databases/"+url.PathEscape(database)+"/schema", nil)
	if err != nil {
		return "", err
	}

	if response.StatusCode != http.StatusOK {
		err = errors.NewErrorFromResponse(response.StatusCode, responseBody)
		return "", err
	}

	// the schema is either sent as plain text or as a json encoded string
	var schema string
	if json.Unmarshal(responseBody, &schema) == nil {
		return schema, nil
	}

	return string(responseBody), nil
}

func (c *tdbClient) Transaction(ctx context.Context, database string) (graph.Transaction, error) {
	var err error

	ctx, span := tracer.Start(ctx, "open-transaction",
		trace.WithAttributes(attribute.String(TraceAttributeDatabase, database)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	request := openTransactionRequest{
		DatabaseName:    database,
		TransactionType: "read",
	}

	if c.transactionTimeout > 0 {
		request.TransactionOptions = &transactionOptions{
			TransactionTimeoutMillis: c.transactionTimeout.Milliseconds(),
		}
	}

	response, responseBody, err := c.call(ctx, http.MethodPost, "/v1/transactions/open", request)
	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		err = errors.NewErrorFromResponse(response.StatusCode, responseBody)
		return nil, err
	}

	opened := struct {
		TransactionID string `json:"transactionId"`
	}{}

	if err = json.Unmarshal(responseBody, &opened); err != nil || opened.TransactionID == "" {
		err = fmt.Errorf("open transaction response did not contain a transaction id (%w)", errors.ErrBadResponse)
		return nil, err
	}

	logging.GetFromContext(ctx).Debug("opened read transaction", "database", database, "transaction_id", opened.TransactionID)

	return &transaction{c: c, id: opened.TransactionID, database: database}, nil
}

func (c *tdbClient) Close(ctx context.Context) error {
	c.token = ""
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *tdbClient) call(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var reqBody io.Reader

	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %s (%w)", err.Error(), errors.ErrQuery)
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrConnection)
	}

	req.Header.Add("Accept", "application/json")

	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Add("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrConnection)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest {
		req.Header.Del("Authorization")
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		log := logging.GetFromContext(ctx)
		log.Error("request failed", "request", string(reqbytes), "response", string(respbytes), "body", string(respBody))
	}

	return resp, respBody, nil
}

type openTransactionRequest struct {
	DatabaseName       string              `json:"databaseName"`
	TransactionType    string              `json:"transactionType"`
	TransactionOptions *transactionOptions `json:"transactionOptions,omitempty"`
}

type transactionOptions struct {
	TransactionTimeoutMillis int64 `json:"transactionTimeoutMillis,omitempty"`
}
