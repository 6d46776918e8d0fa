// filter.go — конъюнктивное выражение фильтрации для WHERE-условий.
// Значения всегда передаются параметрами, имена столбцов проверяются
// по дескриптору таблицы — конкатенация пользовательского ввода в SQL
// исключена.
package sqlbuild

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mperativ/fondat-postgresql/codec"
	"github.com/mperativ/fondat-postgresql/schema"
)

// ErrFilter — некорректное выражение фильтрации.
var ErrFilter = errors.New("некорректный фильтр")

// Op — операция сравнения в предикате фильтра.
type Op int

const (
	// OpEq — равенство.
	OpEq Op = iota + 1
	// OpNe — неравенство.
	OpNe
	// OpLt — строго меньше.
	OpLt
	// OpLe — меньше или равно.
	OpLe
	// OpGt — строго больше.
	OpGt
	// OpGe — больше или равно.
	OpGe
	// OpIn — принадлежность множеству значений.
	OpIn
	// OpIsNull — проверка на NULL.
	OpIsNull
	// OpNotNull — проверка на NOT NULL.
	OpNotNull
)

// sqlOp — SQL-представление операций с одним операндом.
var sqlOp = map[Op]string{
	OpEq: "=",
	OpNe: "<>",
	OpLt: "<",
	OpLe: "<=",
	OpGt: ">",
	OpGe: ">=",
}

// Cond — один предикат: столбец, операция, значение.
// Для OpIn заполняется Values, для OpIsNull/OpNotNull значения не нужны.
type Cond struct {
	Column string
	Op     Op
	Value  any
	Values []any
}

// Filter — конъюнкция предикатов (объединяются через AND).
type Filter []Cond

// Вспомогательные конструкторы предикатов.

// Eq — column = value.
func Eq(column string, value any) Cond { return Cond{Column: column, Op: OpEq, Value: value} }

// Ne — column <> value.
func Ne(column string, value any) Cond { return Cond{Column: column, Op: OpNe, Value: value} }

// Lt — column < value.
func Lt(column string, value any) Cond { return Cond{Column: column, Op: OpLt, Value: value} }

// Le — column <= value.
func Le(column string, value any) Cond { return Cond{Column: column, Op: OpLe, Value: value} }

// Gt — column > value.
func Gt(column string, value any) Cond { return Cond{Column: column, Op: OpGt, Value: value} }

// Ge — column >= value.
func Ge(column string, value any) Cond { return Cond{Column: column, Op: OpGe, Value: value} }

// In — column = ANY(values).
func In(column string, values ...any) Cond { return Cond{Column: column, Op: OpIn, Values: values} }

// IsNull — column IS NULL.
func IsNull(column string) Cond { return Cond{Column: column, Op: OpIsNull} }

// NotNull — column IS NOT NULL.
func NotNull(column string) Cond { return Cond{Column: column, Op: OpNotNull} }

// shapeKey возвращает сигнатуру формы фильтра для кэша SQL
// (столбцы и операции без значений; для In — количество значений,
// оно влияет только на нумерацию, сам текст использует ANY).
func (f Filter) shapeKey() string {
	var b strings.Builder
	for _, c := range f {
		fmt.Fprintf(&b, "%s:%d;", c.Column, c.Op)
	}
	return b.String()
}

// buildWhere строит фрагмент WHERE (без ключевого слова) и аргументы.
// startArg — номер первого $-параметра. Значения кодируются через реестр.
func buildWhere(table *schema.Table, reg *codec.Registry, f Filter, startArg int) (string, []any, error) {
	var conditions []string
	var args []any
	argNum := startArg

	for _, c := range f {
		col, ok := table.Column(c.Column)
		if !ok {
			return "", nil, fmt.Errorf("%w: неизвестный столбец %q", ErrFilter, c.Column)
		}
		if err := checkOp(col, c.Op); err != nil {
			return "", nil, err
		}

		switch c.Op {
		case OpIsNull:
			conditions = append(conditions, fmt.Sprintf("%s IS NULL", col.Name))
		case OpNotNull:
			conditions = append(conditions, fmt.Sprintf("%s IS NOT NULL", col.Name))
		case OpIn:
			if len(c.Values) == 0 {
				return "", nil, fmt.Errorf("%w: столбец %q: OpIn без значений", ErrFilter, c.Column)
			}
			encoded := make([]any, len(c.Values))
			for i, v := range c.Values {
				ev, err := reg.Encode(col.Name, v)
				if err != nil {
					return "", nil, err
				}
				encoded[i] = ev
			}
			conditions = append(conditions, fmt.Sprintf("%s = ANY($%d)", col.Name, argNum))
			args = append(args, encoded)
			argNum++
		default:
			if c.Value == nil {
				return "", nil, fmt.Errorf("%w: столбец %q: nil в сравнении, используйте IsNull", ErrFilter, c.Column)
			}
			ev, err := reg.Encode(col.Name, c.Value)
			if err != nil {
				return "", nil, err
			}
			conditions = append(conditions, fmt.Sprintf("%s %s $%d", col.Name, sqlOp[c.Op], argNum))
			args = append(args, ev)
			argNum++
		}
	}

	return strings.Join(conditions, " AND "), args, nil
}

// checkOp проверяет применимость операции к типу столбца.
func checkOp(col schema.Column, op Op) error {
	switch op {
	case OpIsNull, OpNotNull:
		return nil
	case OpLt, OpLe, OpGt, OpGe:
		if !col.Type.Orderable() {
			return fmt.Errorf("%w: столбец %q: тип %s не поддерживает сравнение по порядку", ErrFilter, col.Name, col.Type)
		}
		return nil
	case OpEq, OpNe, OpIn:
		if col.Type == schema.TypeJSON || col.Type == schema.TypeArray {
			return fmt.Errorf("%w: столбец %q: тип %s не поддерживает сравнение на равенство", ErrFilter, col.Name, col.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: столбец %q: неизвестная операция %d", ErrFilter, col.Name, op)
	}
}
