package dberr

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrExists          = errors.New("record already exists")
	ErrUnsupportedType = errors.New("unsupported field type")
	ErrUnsupported     = errors.New("unsupported operation")
)

// NotFoundError id 作用域的删除/更新未影响任何行
type NotFoundError struct {
	Class string
	IDs   []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s not found", e.Class, strings.Join(e.IDs, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ExistsError 驱动返回的主键/唯一键冲突
type ExistsError struct {
	Class string
	Err   error
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ExistsError) Unwrap() error { return ErrExists }

// Cause 返回原始驱动错误
func (e *ExistsError) Cause() error { return e.Err }

// UnsupportedTypeError 字段类型没有对应的列类型或字面量映射，属于不可重试的错误
type UnsupportedTypeError struct {
	Field string
	Type  string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported type %q for field %q", e.Type, e.Field)
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrUnsupportedType }

// UnsupportedError 当前数据库引擎无法执行该操作
type UnsupportedError struct {
	Engine    string
	Operation string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Engine, e.Operation)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

func NotFound(class string, ids ...string) error {
	return &NotFoundError{Class: class, IDs: ids}
}

func UnsupportedType(field, typ string) error {
	return &UnsupportedTypeError{Field: field, Type: typ}
}

func Unsupported(engine, operation string) error {
	return &UnsupportedError{Engine: engine, Operation: operation}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsExists(err error) bool {
	return errors.Is(err, ErrExists)
}

func IsUnsupportedType(err error) bool {
	return errors.Is(err, ErrUnsupportedType)
}

// Postgres SQLSTATE / MySQL 错误码
const (
	pgUniqueViolation    = "23505"
	mysqlDuplicateEntry  = 1062
	mysqlDuplicateKeyRow = 1022
)

// IsDuplicateKey 判断驱动错误是否为唯一约束冲突
// 优先按驱动错误类型判断，其余驱动退回到错误信息匹配
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry || myErr.Number == mysqlDuplicateKeyRow
	}

	return containsAny(err.Error(),
		"Error 1062",                 // MySQL
		"Duplicate entry",            // MySQL
		"violates unique constraint", // Postgres
		"UNIQUE constraint failed",   // SQLite
		"PRIMARY KEY constraint failed",
	)
}

// Translate 将唯一键冲突转换为 ExistsError，其余错误原样返回
func Translate(class string, err error) error {
	if err == nil {
		return nil
	}
	if IsDuplicateKey(err) {
		return &ExistsError{Class: class, Err: err}
	}
	return err
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
