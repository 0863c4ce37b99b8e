package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/matryer/is"
)

func TestUnauthorizedResponseIsAConnectionError(t *testing.T) {
	is := is.New(t)

	err := NewErrorFromResponse(http.StatusUnauthorized, []byte(`{"code":"AUT1","message":"invalid credentials"}`))

	is.True(errors.Is(err, ErrConnection))
	is.Equal(err.Error(), "[status: 401, code: AUT1] invalid credentials")
}

func TestNotFoundResponseIsASchemaLookupError(t *testing.T) {
	is := is.New(t)

	err := NewErrorFromResponse(http.StatusNotFound, []byte(`{"code":"DBS2","message":"database 'nope' not found"}`))

	is.True(errors.Is(err, ErrSchemaLookup))
	is.True(!errors.Is(err, ErrConnection))
}

func TestPlainTextResponseBodyIsKeptAsMessage(t *testing.T) {
	is := is.New(t)

	err := NewErrorFromResponse(http.StatusBadRequest, []byte("syntax error\n"))

	is.True(errors.Is(err, ErrQuery))
	is.Equal(err.Error(), "[status: 400] syntax error")
}

func TestFilesystemErrorWrapsCause(t *testing.T) {
	is := is.New(t)

	err := NewFilesystemError("create", "/tmp/x", errors.New("permission denied"))

	is.True(errors.Is(err, ErrFilesystem))
	is.Equal(err.Error(), "failed to create /tmp/x: permission denied (filesystem error)")
}
