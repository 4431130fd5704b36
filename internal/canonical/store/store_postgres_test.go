package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"
)

func TestCodeFor(t *testing.T) {
	checkFailed := fmt.Errorf("insert phone contact: %w", &pgconn.PgError{Code: "23514"})
	tooLong := &pq.Error{Code: "22001"}
	connLost := &pgconn.PgError{Code: "08006"}

	cases := []struct {
		name string
		errs []error
		want dErrors.Code
	}{
		{"check constraint", []error{checkFailed}, dErrors.CodeValidation},
		{"value too long from lib/pq", []error{tooLong}, dErrors.CodeValidation},
		{"unique violation", []error{&pgconn.PgError{Code: uniqueViolation}}, dErrors.CodeValidation},
		{"connection failure", []error{connLost}, dErrors.CodeDatabase},
		{"driver error without state", []error{errors.New("bad connection")}, dErrors.CodeDatabase},
		{"mixed address failures", []error{checkFailed, connLost}, dErrors.CodeDatabase},
		{"all address failures rejected", []error{checkFailed, tooLong}, dErrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, codeFor(tc.errs...))
		})
	}
}
