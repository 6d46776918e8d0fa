// querier.go — интерфейс запросов внутри транзакции.
// Каждый запрос ограничен ExecTimeout; истечение тайм-аута или закрытие
// соединения помечает транзакционный контекст негодным — аренда будет
// уничтожена при выходе из внешней транзакции.
package tx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier — выполнение запросов в рамках текущей транзакции.
// Передаётся в fn менеджером; вне Run не используется.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier — реализация Querier на аренде транзакционного контекста.
type querier struct {
	tc  *txContext
	mgr *Manager
}

var _ Querier = (*querier)(nil)

// stmtCtx ограничивает контекст запроса тайм-аутом ExecTimeout.
func (q *querier) stmtCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.mgr.cfg.ExecTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, q.mgr.cfg.ExecTimeout)
}

// mapErr классифицирует ошибку запроса и помечает контекст негодным,
// если соединению больше нельзя доверять. pgx при отмене контекста
// посреди запроса закрывает соединение — такие ошибки превращаются
// в ErrConnectionLost, кроме отмены самим вызывающим.
func (q *querier) mapErr(stmtCtx, callerCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if q.tc.lease.Conn().IsClosed() {
		q.tc.broken = true
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if stmtCtx.Err() != nil {
		q.tc.broken = true
		if callerCtx.Err() != nil {
			return callerCtx.Err()
		}
		return fmt.Errorf("%w: тайм-аут выполнения запроса (%s): %v",
			ErrConnectionLost, q.mgr.cfg.ExecTimeout, err)
	}
	return err
}

// exec — внутренний помощник менеджера для служебных команд
// (BEGIN, COMMIT, SAVEPOINT и т.д.).
func (q *querier) exec(ctx context.Context, sql string) error {
	_, err := q.Exec(ctx, sql)
	return err
}

// Exec выполняет запрос без результирующих строк.
func (q *querier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sctx, cancel := q.stmtCtx(ctx)
	defer cancel()
	tag, err := q.tc.lease.Conn().Exec(sctx, sql, args...)
	return tag, q.mapErr(sctx, ctx, err)
}

// Query выполняет запрос с результирующими строками.
// Возвращённые pgx.Rows обязаны быть закрыты вызывающей стороной;
// тайм-аут покрывает и чтение строк.
func (q *querier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	sctx, cancel := q.stmtCtx(ctx)
	r, err := q.tc.lease.Conn().Query(sctx, sql, args...)
	if err != nil {
		cancel()
		return nil, q.mapErr(sctx, ctx, err)
	}
	return &rows{Rows: r, cancel: cancel, q: q, stmtCtx: sctx, callerCtx: ctx}, nil
}

// QueryRow выполняет запрос одной строки.
// Ошибка откладывается до Scan, как у pgx.
func (q *querier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	sctx, cancel := q.stmtCtx(ctx)
	r := q.tc.lease.Conn().QueryRow(sctx, sql, args...)
	return &row{Row: r, cancel: cancel, q: q, stmtCtx: sctx, callerCtx: ctx}
}

// rows — обёртка pgx.Rows, снимающая тайм-аут запроса при закрытии
// и классифицирующая итоговую ошибку.
type rows struct {
	pgx.Rows
	cancel    context.CancelFunc
	q         *querier
	stmtCtx   context.Context
	callerCtx context.Context
}

func (r *rows) Close() {
	r.Rows.Close()
	r.cancel()
}

func (r *rows) Err() error {
	return r.q.mapErr(r.stmtCtx, r.callerCtx, r.Rows.Err())
}

// row — обёртка pgx.Row с отложенной отменой тайм-аута.
type row struct {
	pgx.Row
	cancel    context.CancelFunc
	q         *querier
	stmtCtx   context.Context
	callerCtx context.Context
}

func (r *row) Scan(dest ...any) error {
	defer r.cancel()
	return r.q.mapErr(r.stmtCtx, r.callerCtx, r.Row.Scan(dest...))
}
