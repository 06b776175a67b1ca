package accounts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound reports that no row matched the lookup. It is a normal outcome, not a failure.
	ErrNotFound = errors.New("accounts: record not found")
	// ErrDuplicate reports a unique constraint violation on insert or rename.
	ErrDuplicate = errors.New("accounts: duplicate record")
)

const pgUniqueViolation = "23505"

// classifyError maps driver failures onto the package sentinels.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.TrimSpace(pgErr.Code) == pgUniqueViolation
	}
	// sqlite reports "UNIQUE constraint failed: <table>.<column>"
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
