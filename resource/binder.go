// binder.go — привязка полей записи к столбцам таблицы по тегу `db`.
// Привязка строится и проверяется один раз при создании адаптера:
// рассинхронизация записи и дескриптора — ошибка конструирования,
// а не сюрприз во время запроса.
package resource

import (
	"fmt"
	"reflect"

	"github.com/mperativ/fondat-postgresql/schema"
)

// fieldBind — соответствие одного столбца полю структуры.
type fieldBind struct {
	column string
	index  []int
	isPtr  bool
}

// binder — полная привязка типа записи T к таблице.
// Порядок binds совпадает с порядком объявления столбцов дескриптора.
type binder struct {
	typ   reflect.Type
	binds []fieldBind
}

// newBinder строит привязку типа записи к дескриптору таблицы.
// Каждый столбец должен быть представлен ровно одним полем с тегом
// `db:"<имя столбца>"`; тег `db:"-"` и поля без тега игнорируются.
func newBinder(typ reflect.Type, table *schema.Table) (*binder, error) {
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("тип записи %s не является структурой", typ)
	}

	byColumn := make(map[string]fieldBind)
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag, ok := f.Tag.Lookup("db")
		if !ok || tag == "-" {
			continue
		}
		if !f.IsExported() {
			return nil, fmt.Errorf("поле %s.%s с тегом db не экспортировано", typ.Name(), f.Name)
		}
		if !table.Has(tag) {
			return nil, fmt.Errorf("поле %s.%s: столбец %q не объявлен в таблице %q",
				typ.Name(), f.Name, tag, table.Name())
		}
		if prev, dup := byColumn[tag]; dup {
			return nil, fmt.Errorf("столбец %q привязан к двум полям: %s и %s",
				tag, typ.FieldByIndex(prev.index).Name, f.Name)
		}
		byColumn[tag] = fieldBind{
			column: tag,
			index:  f.Index,
			isPtr:  f.Type.Kind() == reflect.Pointer,
		}
	}

	cols := table.Columns()
	binds := make([]fieldBind, 0, len(cols))
	for _, col := range cols {
		fb, ok := byColumn[col.Name]
		if !ok {
			return nil, fmt.Errorf("столбец %q таблицы %q не имеет поля с тегом db в %s",
				col.Name, table.Name(), typ.Name())
		}
		if col.Nullable && !fb.isPtr && !nilable(typ.FieldByIndex(fb.index).Type) {
			return nil, fmt.Errorf("поле %s.%s для NULLable-столбца %q должно быть указателем или срезом",
				typ.Name(), typ.FieldByIndex(fb.index).Name, col.Name)
		}
		binds = append(binds, fb)
	}
	return &binder{typ: typ, binds: binds}, nil
}

// nilable — типы, способные представить NULL без указателя.
func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Map:
		return true
	default:
		return false
	}
}

// fieldTypes возвращает типы полей по именам столбцов
// (для конструирования реестра кодеков; указатели разыменованы).
func (b *binder) fieldTypes() map[string]reflect.Type {
	out := make(map[string]reflect.Type, len(b.binds))
	for _, fb := range b.binds {
		ft := b.typ.FieldByIndex(fb.index).Type
		if fb.isPtr {
			ft = ft.Elem()
		}
		out[fb.column] = ft
	}
	return out
}

// toValues извлекает значения столбцов из записи
// (map столбец → значение; nil-указатель → nil, то есть NULL).
func (b *binder) toValues(rec any) (map[string]any, error) {
	rv := reflect.ValueOf(rec)
	if rv.Type() != b.typ {
		return nil, fmt.Errorf("ожидалась запись %s, получена %T", b.typ, rec)
	}
	out := make(map[string]any, len(b.binds))
	for _, fb := range b.binds {
		fv := rv.FieldByIndex(fb.index)
		if fb.isPtr {
			if fv.IsNil() {
				out[fb.column] = nil
				continue
			}
			fv = fv.Elem()
		}
		out[fb.column] = fv.Interface()
	}
	return out, nil
}

// fromValues собирает запись из декодированных значений столбцов
// (в порядке объявления дескриптора; nil означает NULL).
func (b *binder) fromValues(values []any) (any, error) {
	if len(values) != len(b.binds) {
		return nil, fmt.Errorf("ожидалось %d значений столбцов, получено %d", len(b.binds), len(values))
	}
	rec := reflect.New(b.typ).Elem()
	for i, fb := range b.binds {
		v := values[i]
		fv := rec.FieldByIndex(fb.index)
		if v == nil {
			continue // нулевое значение поля и есть NULL
		}
		rv := reflect.ValueOf(v)
		target := fv
		if fb.isPtr {
			p := reflect.New(fv.Type().Elem())
			fv.Set(p)
			target = p.Elem()
		}
		switch {
		case rv.Type().AssignableTo(target.Type()):
			target.Set(rv)
		case rv.Type().ConvertibleTo(target.Type()) && rv.Kind() == target.Kind():
			target.Set(rv.Convert(target.Type()))
		case rv.Kind() == reflect.Int64 && isIntKind(target.Kind()):
			target.SetInt(rv.Int())
		default:
			return nil, fmt.Errorf("столбец %q: значение %T не присваивается полю %s",
				fb.column, v, target.Type())
		}
	}
	return rec.Interface(), nil
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}
