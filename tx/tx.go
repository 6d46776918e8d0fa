// Пакет tx — транзакционный контекст поверх пула соединений.
//
// Единица работы выполняется через Manager.Run: внешний вызов арендует
// соединение и открывает транзакцию (BEGIN/COMMIT/ROLLBACK), вложенный —
// создаёт savepoint на той же аренде (SAVEPOINT/RELEASE/ROLLBACK TO),
// не арендуя второе соединение. Признак вложенности переносится через
// context.Context — так же, как у оригинального адаптера через
// thread-local, но с явной областью видимости.
//
// Контракт конкурентности: один транзакционный контекст (и его аренда)
// принадлежит ровно одной горутине; привязка запроса к собственному
// контексту — ответственность вызывающей стороны.
package tx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mperativ/fondat-postgresql/pool"
)

// ErrConnectionLost — соединение потеряно или запрос завис: транзакция
// откатывается, аренда уничтожается и никогда не возвращается в оборот.
var ErrConnectionLost = errors.New("соединение с БД потеряно")

// IsolationLevel — уровень изоляции транзакции.
type IsolationLevel string

const (
	// IsolationDefault — уровень по умолчанию для БД (BEGIN без опций).
	IsolationDefault IsolationLevel = ""
	// IsolationReadCommitted — READ COMMITTED.
	IsolationReadCommitted IsolationLevel = "READ COMMITTED"
	// IsolationRepeatableRead — REPEATABLE READ (снимок).
	IsolationRepeatableRead IsolationLevel = "REPEATABLE READ"
	// IsolationSerializable — SERIALIZABLE.
	IsolationSerializable IsolationLevel = "SERIALIZABLE"
)

// rollbackTimeout — предел на ROLLBACK при уже отменённом контексте
// вызывающего: откат обязан состояться до распространения отмены.
const rollbackTimeout = 5 * time.Second

// state — состояние транзакционного контекста.
type state int

const (
	stateActive state = iota
	stateCommitted
	stateRolledBack
)

// ManagerConfig — параметры менеджера транзакций.
type ManagerConfig struct {
	// Isolation — уровень изоляции внешних транзакций.
	Isolation IsolationLevel
	// ExecTimeout — тайм-аут выполнения одного запроса (0 — без предела).
	// По истечении соединение считается зависшим и уничтожается.
	ExecTimeout time.Duration
	// Logger — структурный логгер (nil — slog.Default()).
	Logger *slog.Logger
}

// Manager выполняет единицы работы в транзакциях на арендах пула.
type Manager struct {
	pool   *pool.Pool
	cfg    ManagerConfig
	logger *slog.Logger
}

// NewManager создаёт менеджер транзакций поверх пула.
func NewManager(p *pool.Pool, cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{pool: p, cfg: cfg, logger: logger}
}

// ctxKey — ключ транзакционного контекста в context.Context.
type ctxKey struct{}

// txContext — состояние одной внешней транзакции.
type txContext struct {
	lease  *pool.Lease
	depth  int
	broken bool
	st     state
}

// Run выполняет fn в транзакции.
//
// Вне транзакции: аренда, BEGIN, fn, COMMIT при nil / ROLLBACK при ошибке
// или панике; аренда возвращается на каждом пути выхода (уничтожается,
// если соединение признано негодным). Внутри транзакции: SAVEPOINT на той
// же аренде, RELEASE при nil / ROLLBACK TO при ошибке — откат вложенной
// единицы не пересекает границу родителя.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if tc, ok := ctx.Value(ctxKey{}).(*txContext); ok {
		return m.runNested(ctx, tc, fn)
	}
	return m.runOuter(ctx, fn)
}

// runOuter — внешняя транзакция: владеет арендой и COMMIT/ROLLBACK.
func (m *Manager) runOuter(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	lease, err := m.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	tc := &txContext{lease: lease, st: stateActive}
	q := &querier{tc: tc, mgr: m}

	if err := q.exec(ctx, beginSQL(m.cfg.Isolation)); err != nil {
		m.finish(tc)
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	fnCtx := context.WithValue(ctx, ctxKey{}, tc)
	fnErr := m.callOuter(fnCtx, q, fn)

	if fnErr != nil {
		m.rollback(tc, q)
		m.finish(tc)
		return fnErr
	}

	if err := q.exec(ctx, "COMMIT"); err != nil {
		// COMMIT не прошёл — транзакция уже откачена или соединение мертво.
		tc.st = stateRolledBack
		m.finish(tc)
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	tc.st = stateCommitted
	m.finish(tc)
	return nil
}

// callOuter вызывает fn, превращая панику в откат с повторной паникой.
func (m *Manager) callOuter(ctx context.Context, q *querier, fn func(ctx context.Context, q Querier) error) (err error) {
	tc := q.tc
	defer func() {
		if p := recover(); p != nil {
			m.rollback(tc, q)
			m.finish(tc)
			panic(p)
		}
	}()
	return fn(ctx, q)
}

// runNested — вложенная единица работы: savepoint на аренде родителя.
func (m *Manager) runNested(ctx context.Context, tc *txContext, fn func(ctx context.Context, q Querier) error) error {
	if tc.st != stateActive {
		return fmt.Errorf("транзакция уже завершена")
	}

	tc.depth++
	name := fmt.Sprintf("fondat_sp_%d", tc.depth)
	q := &querier{tc: tc, mgr: m}

	if err := q.exec(ctx, "SAVEPOINT "+name); err != nil {
		tc.depth--
		return fmt.Errorf("ошибка создания savepoint: %w", err)
	}

	fnErr := m.callNested(ctx, q, name, fn)

	if fnErr != nil {
		m.rollbackToSavepoint(tc, q, name)
		tc.depth--
		return fnErr
	}

	if err := q.exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		tc.depth--
		return fmt.Errorf("ошибка освобождения savepoint: %w", err)
	}
	tc.depth--
	return nil
}

// callNested вызывает fn вложенной единицы с защитой от паники.
func (m *Manager) callNested(ctx context.Context, q *querier, name string, fn func(ctx context.Context, q Querier) error) (err error) {
	tc := q.tc
	defer func() {
		if p := recover(); p != nil {
			m.rollbackToSavepoint(tc, q, name)
			tc.depth--
			panic(p)
		}
	}()
	return fn(ctx, q)
}

// rollback откатывает внешнюю транзакцию.
// Выполняется на свежем контексте: отмена вызывающего не должна
// оставить транзакцию открытой.
func (m *Manager) rollback(tc *txContext, q *querier) {
	if tc.st != stateActive {
		return
	}
	tc.st = stateRolledBack
	if tc.broken {
		return // соединение мертво, откатывать не на чем
	}
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	if err := q.exec(ctx, "ROLLBACK"); err != nil {
		m.logger.Warn("Ошибка отката транзакции", slog.String("error", err.Error()))
		tc.broken = true
	}
}

// rollbackToSavepoint откатывает вложенную единицу к её savepoint.
func (m *Manager) rollbackToSavepoint(tc *txContext, q *querier, name string) {
	if tc.broken {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	if err := q.exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		m.logger.Warn("Ошибка отката к savepoint",
			slog.String("savepoint", name),
			slog.String("error", err.Error()))
		tc.broken = true
	}
}

// finish возвращает аренду внешней транзакции в пул.
// Негодное соединение уничтожается и не возвращается в оборот.
func (m *Manager) finish(tc *txContext) {
	if tc.broken {
		tc.lease.Destroy()
		return
	}
	tc.lease.Release()
}

// beginSQL формирует BEGIN с учётом уровня изоляции.
func beginSQL(iso IsolationLevel) string {
	if iso == IsolationDefault {
		return "BEGIN"
	}
	return "BEGIN ISOLATION LEVEL " + string(iso)
}
