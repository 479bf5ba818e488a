package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	// SQLite (error code 2067)
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsRowConstraintErr reports whether err is an integrity violation caused by the values of a
// single row (foreign key, check, not-null, value range), as opposed to a connection or
// transaction failure. Unique conflicts are excluded: the upsert handles them.
func IsRowConstraintErr(err error) bool {
	if err == nil || IsDuplicateKeyErr(err) {
		return false
	}

	if errors.Is(err, gorm.ErrForeignKeyViolated) || errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 23: integrity constraint violation, class 22: data exception
		return strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22")
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1048, 1216, 1217, 1264, 1366, 1406, 1451, 1452, 3819:
			return true
		}
		return false
	}

	msg := err.Error()
	for _, marker := range []string{
		"FOREIGN KEY constraint failed",
		"CHECK constraint failed",
		"NOT NULL constraint failed",
		"datatype mismatch",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
