package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/udisondev/shortid/internal/resolver"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadlock", &pgconn.PgError{Code: "40P01"}, resolver.ErrTransient},
		{"serialization", &pgconn.PgError{Code: "40001"}, resolver.ErrTransient},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, resolver.ErrTransient},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, resolver.ErrConnection},
		{"connection failure", &pgconn.PgError{Code: "08006"}, resolver.ErrConnection},
		{"eof", fmt.Errorf("reading: %w", io.EOF), resolver.ErrConnection},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), resolver.ErrTransient},
		{"already transient", fmt.Errorf("%w: x", resolver.ErrTransient), resolver.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tt.err), tt.want)
		})
	}
}

func TestClassify_Fatal(t *testing.T) {
	for _, err := range []error{
		&pgconn.PgError{Code: "42P01"}, // undefined_table
		&pgconn.PgError{Code: "28P01"}, // invalid_password
		errors.New("something unexpected"),
	} {
		got := Classify(err)
		assert.NotErrorIs(t, got, resolver.ErrTransient)
		assert.NotErrorIs(t, got, resolver.ErrConnection)
		assert.Equal(t, err, got)
	}
	assert.NoError(t, Classify(nil))
}

func TestValidateTableName(t *testing.T) {
	assert.NoError(t, ValidateTableName("shortid"))
	assert.NoError(t, ValidateTableName("_ids_2"))
	assert.Error(t, ValidateTableName(""))
	assert.Error(t, ValidateTableName("ShortID"))
	assert.Error(t, ValidateTableName("ids; DROP TABLE x"))
	assert.Error(t, ValidateTableName("1ids"))
}
