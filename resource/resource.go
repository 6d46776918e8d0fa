// Пакет resource — адаптер ресурса: пять операций (get, list, insert,
// patch, delete) поверх одной таблицы. Каждая операция присоединяется к
// транзакции через менеджер (или открывает свою), строит SQL через
// построитель, декодирует строки реестром кодеков и переводит ошибки
// бэкенда в доменные.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/jackc/pgx/v5"

	"github.com/mperativ/fondat-postgresql/codec"
	"github.com/mperativ/fondat-postgresql/schema"
	"github.com/mperativ/fondat-postgresql/sqlbuild"
	"github.com/mperativ/fondat-postgresql/tx"
)

// defaultListLimit — размер страницы List, если Limit не задан.
const defaultListLimit = 100

// Query — параметры выборки List.
type Query struct {
	// Filter — условия отбора (nil — вся таблица).
	Filter sqlbuild.Filter
	// OrderBy — столбец сортировки ("" — первичный ключ).
	OrderBy string
	// Desc — сортировка по убыванию.
	Desc bool
	// Limit — размер страницы (0 — defaultListLimit).
	Limit int
	// Cursor — курсор предыдущей страницы ("" — первая страница).
	Cursor string
}

// Page — страница выборки.
type Page[T any] struct {
	Items []T
	// Cursor — курсор следующей страницы ("" — страниц больше нет).
	Cursor string
}

// Adapter — адаптер ресурса для типа записи T.
// Конструируется один раз, далее безопасен для конкурентного
// использования: всё состояние неизменяемо после New.
type Adapter[T any] struct {
	mgr     *tx.Manager
	table   *schema.Table
	reg     *codec.Registry
	builder *sqlbuild.Builder
	bind    *binder
	logger  *slog.Logger

	pkIdx int // позиция первичного ключа в порядке столбцов
}

// New конструирует адаптер: проверяет привязку T к дескриптору,
// собирает реестр кодеков и построитель SQL.
func New[T any](mgr *tx.Manager, table *schema.Table, logger *slog.Logger) (*Adapter[T], error) {
	if logger == nil {
		logger = slog.Default()
	}
	var zero T
	bind, err := newBinder(reflect.TypeOf(zero), table)
	if err != nil {
		return nil, fmt.Errorf("таблица %q: %w", table.Name(), err)
	}
	reg, err := codec.NewRegistry(table, bind.fieldTypes())
	if err != nil {
		return nil, err
	}
	builder, err := sqlbuild.New(table, reg)
	if err != nil {
		return nil, err
	}

	pkIdx := -1
	for i, col := range table.Columns() {
		if col.Name == table.PrimaryKey() {
			pkIdx = i
		}
	}

	return &Adapter[T]{
		mgr:     mgr,
		table:   table,
		reg:     reg,
		builder: builder,
		bind:    bind,
		logger:  logger,
		pkIdx:   pkIdx,
	}, nil
}

// Table возвращает дескриптор таблицы адаптера.
func (a *Adapter[T]) Table() *schema.Table { return a.table }

// Get возвращает запись по первичному ключу.
func (a *Adapter[T]) Get(ctx context.Context, key any) (T, error) {
	var out T
	err := a.mgr.Run(ctx, func(ctx context.Context, q tx.Querier) error {
		sqlText, args, err := a.builder.FetchOne(key)
		if err != nil {
			return err
		}
		rec, _, err := a.scanOne(ctx, q, sqlText, args)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// List возвращает страницу записей по фильтру.
// Выбирается limit+1 строк: лишняя строка означает наличие следующей
// страницы, курсор формируется по последней выданной записи.
func (a *Adapter[T]) List(ctx context.Context, query Query) (Page[T], error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	ord := sqlbuild.Order{Column: query.OrderBy, Desc: query.Desc}

	var page Page[T]
	err := a.mgr.Run(ctx, func(ctx context.Context, q tx.Querier) error {
		sqlText, args, err := a.builder.FetchSet(query.Filter, ord, limit+1, query.Cursor)
		if err != nil {
			return err
		}
		rows, err := q.Query(ctx, sqlText, args...)
		if err != nil {
			return mapError(err)
		}
		defer rows.Close()

		items := make([]T, 0, limit)
		more := false
		var lastValues []any
		for rows.Next() {
			if len(items) == limit {
				// Лишняя строка: следующая страница существует.
				more = true
				break
			}
			targets := a.reg.ScanTargets()
			if err := rows.Scan(targets...); err != nil {
				return mapError(err)
			}
			values, err := a.reg.DecodeRow(targets)
			if err != nil {
				return err
			}
			rec, err := a.bind.fromValues(values)
			if err != nil {
				return err
			}
			items = append(items, rec.(T))
			lastValues = values
		}
		if err := rows.Err(); err != nil {
			return mapError(err)
		}

		page.Items = items
		if more {
			cur, err := a.cursorFor(ord, lastValues)
			if err != nil {
				return err
			}
			page.Cursor = cur
		}
		return nil
	})
	if err != nil {
		return Page[T]{}, err
	}
	return page, nil
}

// Insert вставляет запись и возвращает её сохранённое состояние.
// Столбец версии (если объявлен) инициализируется единицей.
func (a *Adapter[T]) Insert(ctx context.Context, rec T) (T, error) {
	var out T
	values, err := a.bind.toValues(rec)
	if err != nil {
		return out, err
	}
	if ver := a.table.VersionColumn(); ver != "" {
		if isZeroVersion(values[ver]) {
			values[ver] = int64(1)
		}
	}

	err = a.mgr.Run(ctx, func(ctx context.Context, q tx.Querier) error {
		sqlText, args, err := a.builder.Insert(values)
		if err != nil {
			return err
		}
		saved, _, err := a.scanOne(ctx, q, sqlText, args)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	return out, err
}

// Patch частично обновляет запись и возвращает её новое состояние.
// expectedVersion — ожидаемая версия для optimistic locking; при
// несовпадении возвращается ErrConcurrency, при отсутствии записи —
// ErrNotFound (различаются повторной выборкой в той же транзакции).
func (a *Adapter[T]) Patch(ctx context.Context, key any, patch map[string]any, expectedVersion *int64) (T, error) {
	var out T
	err := a.mgr.Run(ctx, func(ctx context.Context, q tx.Querier) error {
		sqlText, args, err := a.builder.Patch(key, patch, expectedVersion)
		if err != nil {
			return err
		}
		rec, _, err := a.scanOne(ctx, q, sqlText, args)
		if err == nil {
			out = rec
			return nil
		}
		if !errors.Is(err, ErrNotFound) || expectedVersion == nil {
			return err
		}
		// Ноль строк при заданной версии: запись исчезла или версия
		// разошлась. Различаем выборкой в той же транзакции.
		fetchSQL, fetchArgs, ferr := a.builder.FetchOne(key)
		if ferr != nil {
			return ferr
		}
		if _, _, ferr := a.scanOne(ctx, q, fetchSQL, fetchArgs); ferr == nil {
			return ErrConcurrency
		} else if errors.Is(ferr, ErrNotFound) {
			return ErrNotFound
		} else {
			return ferr
		}
	})
	return out, err
}

// Delete удаляет запись по первичному ключу.
func (a *Adapter[T]) Delete(ctx context.Context, key any) error {
	return a.mgr.Run(ctx, func(ctx context.Context, q tx.Querier) error {
		sqlText, args, err := a.builder.Delete(key)
		if err != nil {
			return err
		}
		tag, err := q.Exec(ctx, sqlText, args...)
		if err != nil {
			return mapError(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteSet удаляет записи по фильтру и возвращает их число.
// Пустой фильтр отклоняется построителем.
func (a *Adapter[T]) DeleteSet(ctx context.Context, f sqlbuild.Filter) (int64, error) {
	var n int64
	err := a.mgr.Run(ctx, func(ctx context.Context, q tx.Querier) error {
		sqlText, args, err := a.builder.DeleteSet(f)
		if err != nil {
			return err
		}
		tag, err := q.Exec(ctx, sqlText, args...)
		if err != nil {
			return mapError(err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// scanOne выполняет запрос одной строки и декодирует её в запись.
// Возвращает также декодированные значения столбцов (для курсора).
func (a *Adapter[T]) scanOne(ctx context.Context, q tx.Querier, sqlText string, args []any) (T, []any, error) {
	var zero T
	targets := a.reg.ScanTargets()
	if err := q.QueryRow(ctx, sqlText, args...).Scan(targets...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, nil, ErrNotFound
		}
		return zero, nil, mapError(err)
	}
	values, err := a.reg.DecodeRow(targets)
	if err != nil {
		return zero, nil, err
	}
	rec, err := a.bind.fromValues(values)
	if err != nil {
		return zero, nil, err
	}
	return rec.(T), values, nil
}

// cursorFor формирует курсор следующей страницы по значениям последней
// выданной строки.
func (a *Adapter[T]) cursorFor(ord sqlbuild.Order, values []any) (string, error) {
	ordName := ord.Column
	if ordName == "" {
		ordName = a.table.PrimaryKey()
	}
	ordIdx := -1
	for i, col := range a.table.Columns() {
		if col.Name == ordName {
			ordIdx = i
		}
	}
	if ordIdx < 0 || a.pkIdx < 0 {
		return "", fmt.Errorf("столбец сортировки %q не найден в дескрипторе", ordName)
	}
	return a.builder.EncodeCursor(ord, values[ordIdx], values[a.pkIdx])
}

// isZeroVersion — версия не задана вызывающей стороной.
func isZeroVersion(v any) bool {
	switch n := v.(type) {
	case nil:
		return true
	case int64:
		return n == 0
	case int:
		return n == 0
	default:
		return false
	}
}
