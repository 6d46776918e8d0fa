// errors.go — доменная таксономия ошибок адаптера ресурса.
// Вызывающая сторона получает типизированную ошибку, а не сырой код
// или текст сообщения бэкенда.
package resource

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mperativ/fondat-postgresql/tx"
)

// Ошибки операций ресурса.
var (
	// ErrNotFound — ни одна строка не подошла под ключ.
	// Ожидаемая ситуация, обрабатывается вызывающей стороной.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — нарушение ограничения уникальности при вставке.
	ErrConflict = errors.New("конфликт уникальности")
	// ErrReference — нарушение ссылочной целостности (внешний ключ).
	ErrReference = errors.New("нарушение ссылочной целостности")
	// ErrConcurrency — несовпадение ожидаемой версии при patch.
	ErrConcurrency = errors.New("конфликт версий записи")
	// ErrSerialization — сбой сериализации или deadlock; транзакцию
	// можно повторить целиком.
	ErrSerialization = errors.New("сбой сериализации транзакции")
	// ErrBackend — прочая ошибка бэкенда; SQLSTATE и сообщение
	// сохраняются в тексте.
	ErrBackend = errors.New("ошибка бэкенда")
)

// mapError переводит ошибку бэкенда в доменную.
// Классификация только по SQLSTATE — текст сообщения не разбирается.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation, pgerrcode.ExclusionViolation:
		return errorWithDetail(ErrConflict, pgErr)
	case pgerrcode.ForeignKeyViolation:
		return errorWithDetail(ErrReference, pgErr)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return errorWithDetail(ErrSerialization, pgErr)
	}
	if pgerrcode.IsConnectionException(pgErr.Code) {
		return fmt.Errorf("%w: SQLSTATE %s", tx.ErrConnectionLost, pgErr.Code)
	}
	// Неклассифицированный SQLSTATE: сырой PgError не пересекает
	// контракт операций.
	return fmt.Errorf("%w: SQLSTATE %s: %s", ErrBackend, pgErr.Code, pgErr.Message)
}

// errorWithDetail дополняет доменную ошибку именем нарушенного
// ограничения, сохраняя возможность errors.Is по виду ошибки.
func errorWithDetail(kind error, pgErr *pgconn.PgError) error {
	if pgErr.ConstraintName == "" {
		return kind
	}
	return &constraintError{kind: kind, constraint: pgErr.ConstraintName}
}

type constraintError struct {
	kind       error
	constraint string
}

func (e *constraintError) Error() string {
	return e.kind.Error() + " (ограничение " + e.constraint + ")"
}

func (e *constraintError) Unwrap() error { return e.kind }
