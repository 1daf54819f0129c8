package dbtx

import (
	"database/sql"
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// Closed taxonomy of translated database errors. Callers should compare
// against these with errors.Is rather than inspecting driver-specific codes.
var (
	ErrNotFound = errors.New("dbtx: not found")
	ErrTxFailed = errors.New("dbtx: transaction failed")

	ErrUniqueViolation     = errors.New("dbtx: unique constraint violation")
	ErrForeignKeyViolation = errors.New("dbtx: foreign key violation")
	ErrNotNullViolation    = errors.New("dbtx: not null constraint violation")
	ErrCheckViolation      = errors.New("dbtx: check constraint violation")
	ErrConstraintViolation = errors.New("dbtx: constraint violation")

	ErrDeadlockDetected     = errors.New("dbtx: deadlock detected")
	ErrLockNotAvailable     = errors.New("dbtx: lock wait timeout")
	ErrQueryCanceled        = errors.New("dbtx: query canceled")
	ErrDataTruncation       = errors.New("dbtx: data truncation error")
	ErrNumericOutOfRange    = errors.New("dbtx: numeric value out of range")
	ErrInvalidInputSyntax   = errors.New("dbtx: invalid input syntax")
	ErrUndefinedColumn      = errors.New("dbtx: undefined column")
	ErrUndefinedTable       = errors.New("dbtx: undefined table")
)

// IsValidationClass reports whether err is (or wraps) one of the
// constraint/data-class errors that SPEC_FULL.md §7 maps to HTTP 422 rather
// than 500.
func IsValidationClass(err error) bool {
	for _, class := range []error{
		ErrUniqueViolation,
		ErrForeignKeyViolation,
		ErrNotNullViolation,
		ErrCheckViolation,
		ErrDataTruncation,
		ErrNumericOutOfRange,
		ErrInvalidInputSyntax,
	} {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}

// translateError maps MySQL driver errors onto the closed taxonomy above.
// Grounded on contenox-runtime's libs/libdb/postgres.go translateError, with
// the SQLSTATE switch swapped for MySQL numeric error codes.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062: // ER_DUP_ENTRY
			return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
		case 1452, 1216, 1217: // ER_NO_REFERENCED_ROW_2 and friends
			return fmt.Errorf("%w: %v", ErrForeignKeyViolation, err)
		case 1048, 1138: // ER_BAD_NULL_ERROR
			return fmt.Errorf("%w: %v", ErrNotNullViolation, err)
		case 3819, 4025: // ER_CHECK_CONSTRAINT_VIOLATED
			return fmt.Errorf("%w: %v", ErrCheckViolation, err)
		case 1213: // ER_LOCK_DEADLOCK
			return fmt.Errorf("%w: %v", ErrDeadlockDetected, err)
		case 1205: // ER_LOCK_WAIT_TIMEOUT
			return fmt.Errorf("%w: %v", ErrLockNotAvailable, err)
		case 1317, 1969: // ER_QUERY_INTERRUPTED, ER_STATEMENT_TIMEOUT
			return fmt.Errorf("%w: %v", ErrQueryCanceled, err)
		case 1406: // ER_DATA_TOO_LONG
			return fmt.Errorf("%w: %v", ErrDataTruncation, err)
		case 1264: // ER_WARN_DATA_OUT_OF_RANGE
			return fmt.Errorf("%w: %v", ErrNumericOutOfRange, err)
		case 1064, 1366: // ER_PARSE_ERROR, ER_TRUNCATED_WRONG_VALUE_FOR_FIELD
			return fmt.Errorf("%w: %v", ErrInvalidInputSyntax, err)
		case 1054: // ER_BAD_FIELD_ERROR
			return fmt.Errorf("%w: %v", ErrUndefinedColumn, err)
		case 1146: // ER_NO_SUCH_TABLE
			return fmt.Errorf("%w: %v", ErrUndefinedTable, err)
		default:
			return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
		}
	}

	return fmt.Errorf("dbtx: unexpected error: %w", err)
}
