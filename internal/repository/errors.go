// Package repository is the data access layer. Every statement that touches
// an expense is filtered by the owning user's id in the same statement, so a
// row belonging to someone else behaves exactly like a missing row.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrEmailExists is returned by UserRepo.Create when the email is taken.
	ErrEmailExists = errors.New("email already exists")

	ErrUserNotFound    = errors.New("user not found")
	ErrExpenseNotFound = errors.New("expense not found")
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
