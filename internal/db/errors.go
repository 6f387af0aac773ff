package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/intake/internal/store"
)

// Sentinel errors for database operations.
var (
	// ErrAlreadyExists indicates a record with the same ID already exists.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict indicates concurrent writes to the same
	// records. The write may be retried.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound is store.ErrNotFound so callers need not import this package.
	ErrNotFound = store.ErrNotFound
)

// queryErrors maps SurrealDB query error text onto sentinels.
var queryErrors = []struct {
	fragment string
	sentinel error
}{
	{"already exists", ErrAlreadyExists},
	{"Transaction conflict", ErrTransactionConflict},
	{"Resource busy", ErrTransactionConflict},
}

// wrapQueryError wraps known SurrealDB query errors with a sentinel. Other
// errors are returned unchanged.
func wrapQueryError(err error) error {
	var queryErr *surrealdb.QueryError
	if !errors.As(err, &queryErr) {
		return err
	}
	for _, qe := range queryErrors {
		if strings.Contains(queryErr.Message, qe.fragment) {
			return fmt.Errorf("%w: %s", qe.sentinel, queryErr.Message)
		}
	}
	return err
}

// recordKey extracts the string key of a record ID.
func recordKey(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected record key type %T", id.Table, id.ID)
	}
	return s, nil
}
