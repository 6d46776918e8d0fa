package codec

import (
	"fmt"
	"reflect"

	"github.com/mperativ/fondat-postgresql/schema"
)

// Registry — набор кодеков всех столбцов одной таблицы.
// Конструируется один раз вместе с дескриптором, далее только читается.
type Registry struct {
	table  *schema.Table
	codecs map[string]Codec
}

// NewRegistry конструирует реестр кодеков таблицы.
// fieldTypes — типы полей записи по именам столбцов; обязательны только
// для JSON-столбцов (nil или отсутствие записи — map[string]any).
func NewRegistry(table *schema.Table, fieldTypes map[string]reflect.Type) (*Registry, error) {
	codecs := make(map[string]Codec, len(table.Columns()))
	for _, col := range table.Columns() {
		c, err := New(col, fieldTypes[col.Name])
		if err != nil {
			return nil, fmt.Errorf("таблица %q: %w", table.Name(), err)
		}
		codecs[col.Name] = c
	}
	return &Registry{table: table, codecs: codecs}, nil
}

// Codec возвращает кодек столбца.
func (r *Registry) Codec(column string) (Codec, bool) {
	c, ok := r.codecs[column]
	return c, ok
}

// Encode кодирует значение столбца в аргумент запроса.
func (r *Registry) Encode(column string, v any) (any, error) {
	c, ok := r.codecs[column]
	if !ok {
		return nil, fmt.Errorf("%w: неизвестный столбец %q", ErrUnsupportedValue, column)
	}
	return c.Encode(v)
}

// ScanTargets выделяет цели сканирования для всех столбцов таблицы
// в порядке объявления (порядок совпадает с SelectList дескриптора).
func (r *Registry) ScanTargets() []any {
	cols := r.table.Columns()
	targets := make([]any, len(cols))
	for i, col := range cols {
		targets[i] = r.codecs[col.Name].ScanTarget()
	}
	return targets
}

// DecodeRow декодирует заполненные цели сканирования в значения столбцов
// (в порядке объявления). NULL представлен как nil.
func (r *Registry) DecodeRow(targets []any) ([]any, error) {
	cols := r.table.Columns()
	if len(targets) != len(cols) {
		return nil, fmt.Errorf("%w: ожидалось %d целей сканирования, получено %d", ErrDecode, len(cols), len(targets))
	}
	values := make([]any, len(cols))
	for i, col := range cols {
		v, err := r.codecs[col.Name].Decode(targets[i])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
