// Пакет sqlbuild — построение параметризованного SQL для операций ресурса.
// Текст запроса собирается только из проверенных по дескриптору имён
// и $-плейсхолдеров; значения всегда уходят параметрами.
// Построитель не хранит состояния между вызовами, кроме LRU-кэша текста
// запросов, и безопасен для конкурентного использования.
package sqlbuild

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mperativ/fondat-postgresql/codec"
	"github.com/mperativ/fondat-postgresql/schema"
)

// stmtCacheSize — ёмкость LRU-кэша построенного SQL.
// Формы запросов определяются кодом вызывающей стороны, их немного;
// кэш ограничен на случай патологически разнообразных фильтров.
const stmtCacheSize = 256

// Order — сортировка выборки.
// Пустой Column означает сортировку по первичному ключу.
type Order struct {
	Column string
	Desc   bool
}

// Builder — построитель SQL для одной таблицы.
type Builder struct {
	table *schema.Table
	reg   *codec.Registry
	cache *lru.Cache[string, string]

	fetchOneSQL string
	insertSQL   string
	deleteSQL   string
}

// New конструирует построитель для таблицы.
func New(table *schema.Table, reg *codec.Registry) (*Builder, error) {
	cache, err := lru.New[string, string](stmtCacheSize)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кэша запросов: %w", err)
	}

	b := &Builder{table: table, reg: reg, cache: cache}

	pk := table.PrimaryKey()
	b.fetchOneSQL = fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		table.SelectList(), table.Name(), pk)
	b.deleteSQL = fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table.Name(), pk)

	cols := table.Columns()
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	b.insertSQL = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		table.Name(), table.SelectList(), strings.Join(placeholders, ", "), table.SelectList())

	return b, nil
}

// Table возвращает дескриптор таблицы построителя.
func (b *Builder) Table() *schema.Table { return b.table }

// FetchOne — выборка одной строки по первичному ключу.
func (b *Builder) FetchOne(key any) (string, []any, error) {
	ek, err := b.reg.Encode(b.table.PrimaryKey(), key)
	if err != nil {
		return "", nil, err
	}
	return b.fetchOneSQL, []any{ek}, nil
}

// Insert — вставка строки со всеми объявленными столбцами.
// values — значения по именам столбцов; отсутствующий столбец означает NULL.
func (b *Builder) Insert(values map[string]any) (string, []any, error) {
	for name := range values {
		if !b.table.Has(name) {
			return "", nil, fmt.Errorf("%w: неизвестный столбец %q", ErrFilter, name)
		}
	}
	cols := b.table.Columns()
	args := make([]any, len(cols))
	for i, col := range cols {
		ev, err := b.reg.Encode(col.Name, values[col.Name])
		if err != nil {
			return "", nil, err
		}
		args[i] = ev
	}
	return b.insertSQL, args, nil
}

// Delete — удаление одной строки по первичному ключу.
func (b *Builder) Delete(key any) (string, []any, error) {
	ek, err := b.reg.Encode(b.table.PrimaryKey(), key)
	if err != nil {
		return "", nil, err
	}
	return b.deleteSQL, []any{ek}, nil
}

// DeleteSet — удаление строк по фильтру.
// Пустой фильтр отклоняется: удаление всей таблицы должно быть явным
// решением вызывающей стороны, а не следствием пустого запроса.
func (b *Builder) DeleteSet(f Filter) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, fmt.Errorf("%w: пустой фильтр для группового удаления", ErrFilter)
	}

	where, args, err := buildWhere(b.table, b.reg, f, 1)
	if err != nil {
		return "", nil, err
	}

	key := "delset|" + f.shapeKey()
	sqlText, ok := b.cache.Get(key)
	if !ok {
		sqlText = fmt.Sprintf("DELETE FROM %s WHERE %s", b.table.Name(), where)
		b.cache.Add(key, sqlText)
	}
	return sqlText, args, nil
}

// Patch — частичное обновление: SET только для переданных столбцов.
// expectedVersion — ожидаемая версия для optimistic locking (требует
// объявленного столбца версии); столбец версии инкрементируется всегда,
// когда он объявлен.
func (b *Builder) Patch(key any, patch map[string]any, expectedVersion *int64) (string, []any, error) {
	if len(patch) == 0 {
		return "", nil, fmt.Errorf("%w: пустой patch-документ", ErrFilter)
	}
	verCol := b.table.VersionColumn()
	if expectedVersion != nil && verCol == "" {
		return "", nil, fmt.Errorf("%w: таблица %q без столбца версии", ErrFilter, b.table.Name())
	}
	for name := range patch {
		if !b.table.Has(name) {
			return "", nil, fmt.Errorf("%w: неизвестный столбец %q", ErrFilter, name)
		}
		if name == b.table.PrimaryKey() {
			return "", nil, fmt.Errorf("%w: первичный ключ не обновляется через patch", ErrFilter)
		}
		if name == verCol {
			return "", nil, fmt.Errorf("%w: столбец версии обновляется автоматически", ErrFilter)
		}
	}

	ek, err := b.reg.Encode(b.table.PrimaryKey(), key)
	if err != nil {
		return "", nil, err
	}
	args := []any{ek}

	// Столбцы SET — в порядке объявления в дескрипторе,
	// чтобы форма запроса была детерминированной для кэша.
	var sets []string
	var setCols []string
	argNum := 2
	for _, col := range b.table.Columns() {
		v, present := patch[col.Name]
		if !present {
			continue
		}
		ev, err := b.reg.Encode(col.Name, v)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col.Name, argNum))
		setCols = append(setCols, col.Name)
		args = append(args, ev)
		argNum++
	}
	if verCol != "" {
		sets = append(sets, fmt.Sprintf("%s = %s + 1", verCol, verCol))
	}

	where := fmt.Sprintf("%s = $1", b.table.PrimaryKey())
	if expectedVersion != nil {
		where += fmt.Sprintf(" AND %s = $%d", verCol, argNum)
		args = append(args, *expectedVersion)
	}

	key2 := fmt.Sprintf("patch|%s|v=%t", strings.Join(setCols, ","), expectedVersion != nil)
	sqlText, ok := b.cache.Get(key2)
	if !ok {
		sqlText = fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING %s",
			b.table.Name(), strings.Join(sets, ", "), where, b.table.SelectList())
		b.cache.Add(key2, sqlText)
	}
	return sqlText, args, nil
}

// FetchSet — выборка страницы по фильтру с keyset-пагинацией.
// ORDER BY всегда заканчивается первичным ключом — полный порядок
// гарантирует стабильность курсора. Курсор ("" — первая страница)
// должен быть выдан EncodeCursor для той же сортировки.
func (b *Builder) FetchSet(f Filter, ord Order, limit int, cursor string) (string, []any, error) {
	if limit <= 0 {
		return "", nil, fmt.Errorf("%w: limit должен быть > 0", ErrFilter)
	}
	ordCol, err := b.resolveOrder(ord)
	if err != nil {
		return "", nil, err
	}

	where, args, err := buildWhere(b.table, b.reg, f, 1)
	if err != nil {
		return "", nil, err
	}
	argNum := len(args) + 1

	pk := b.table.PrimaryKey()
	byPK := ordCol.Name == pk

	// Предикат курсора: строго после последней выданной пары (ord, pk).
	var cursorPred string
	if cursor != "" {
		v, k, err := b.decodeCursor(ord, ordCol, cursor)
		if err != nil {
			return "", nil, err
		}
		ev, err := b.reg.Encode(ordCol.Name, v)
		if err != nil {
			return "", nil, err
		}
		cmp := ">"
		if ord.Desc {
			cmp = "<"
		}
		if byPK {
			cursorPred = fmt.Sprintf("%s %s $%d", pk, cmp, argNum)
			args = append(args, ev)
			argNum++
		} else {
			ek, err := b.reg.Encode(pk, k)
			if err != nil {
				return "", nil, err
			}
			cursorPred = fmt.Sprintf("(%s, %s) %s ($%d, $%d)", ordCol.Name, pk, cmp, argNum, argNum+1)
			args = append(args, ev, ek)
			argNum += 2
		}
	}

	cacheKey := fmt.Sprintf("set|%s|o=%s|d=%t|c=%t", f.shapeKey(), ordCol.Name, ord.Desc, cursor != "")
	sqlText, ok := b.cache.Get(cacheKey)
	if !ok {
		var conds []string
		if where != "" {
			conds = append(conds, where)
		}
		if cursorPred != "" {
			conds = append(conds, cursorPred)
		}
		whereClause := ""
		if len(conds) > 0 {
			whereClause = " WHERE " + strings.Join(conds, " AND ")
		}

		dir := "ASC"
		if ord.Desc {
			dir = "DESC"
		}
		orderBy := fmt.Sprintf("ORDER BY %s %s", ordCol.Name, dir)
		if !byPK {
			orderBy += fmt.Sprintf(", %s %s", pk, dir)
		}

		sqlText = fmt.Sprintf("SELECT %s FROM %s%s %s LIMIT $%d",
			b.table.SelectList(), b.table.Name(), whereClause, orderBy, argNum)
		b.cache.Add(cacheKey, sqlText)
	}

	args = append(args, limit)
	return sqlText, args, nil
}

// resolveOrder проверяет столбец сортировки (пустой — первичный ключ).
func (b *Builder) resolveOrder(ord Order) (schema.Column, error) {
	name := ord.Column
	if name == "" {
		name = b.table.PrimaryKey()
	}
	col, ok := b.table.Column(name)
	if !ok {
		return schema.Column{}, fmt.Errorf("%w: неизвестный столбец сортировки %q", ErrFilter, name)
	}
	if !col.Type.Orderable() {
		return schema.Column{}, fmt.Errorf("%w: тип %s непригоден для сортировки", ErrFilter, col.Type)
	}
	// NULL не сравнивается предикатом курсора (ord, pk) > ($i, $j):
	// строки с NULL выпадали бы из выборки, а курсор на границе страницы
	// не кодировался бы.
	if col.Nullable {
		return schema.Column{}, fmt.Errorf("%w: NULLable-столбец %q непригоден для сортировки", ErrFilter, name)
	}
	return col, nil
}
