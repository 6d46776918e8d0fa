// conn.go — контракт соединения с БД, которым управляет пул.
// *pgx.Conn реализует его напрямую; в тестах используются фейки.
package pool

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn — минимальный контракт живого соединения:
// выполнение запросов, проба живости и закрытие.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	IsClosed() bool
	Close(ctx context.Context) error
}

// Проверка на этапе компиляции: *pgx.Conn удовлетворяет контракту.
var _ Conn = (*pgx.Conn)(nil)

// ConnectFunc открывает новое соединение с БД.
type ConnectFunc func(ctx context.Context) (Conn, error)

// pgxConnect возвращает ConnectFunc поверх pgx.Connect для строки подключения.
func pgxConnect(connString string) ConnectFunc {
	return func(ctx context.Context) (Conn, error) {
		return pgx.Connect(ctx, connString)
	}
}
