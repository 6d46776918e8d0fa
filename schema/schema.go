// Пакет schema — неизменяемые дескрипторы таблиц и столбцов.
// Дескриптор объявляется один раз при конструировании адаптера ресурса
// и далее только читается — никакой мутации после NewTable.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Type — семантический тип столбца.
// Определяет кодек для преобразования значений и допустимые операции
// (сортировка, сравнение) в построителе запросов.
type Type int

const (
	// TypeInvalid — нулевое значение, недопустимо в дескрипторе.
	TypeInvalid Type = iota
	// TypeText — текст (text / varchar).
	TypeText
	// TypeInteger — целое число (bigint).
	TypeInteger
	// TypeFloat — число с плавающей точкой (double precision).
	TypeFloat
	// TypeBool — логическое значение (boolean).
	TypeBool
	// TypeTimestamptz — момент времени с зоной (timestamptz).
	TypeTimestamptz
	// TypeDate — календарная дата без времени (date).
	TypeDate
	// TypeBytes — бинарные данные (bytea).
	TypeBytes
	// TypeJSON — JSON-документ (jsonb).
	TypeJSON
	// TypeArray — массив скалярных элементов (text[], bigint[] и т.д.).
	TypeArray
	// TypeEnum — перечисление: текст с закрытым набором меток.
	TypeEnum
	// TypeUUID — UUID (хранится как uuid, в памяти — uuid.UUID).
	TypeUUID
)

// String возвращает читаемое имя типа (для сообщений об ошибках).
func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamptz:
		return "timestamptz"
	case TypeDate:
		return "date"
	case TypeBytes:
		return "bytes"
	case TypeJSON:
		return "json"
	case TypeArray:
		return "array"
	case TypeEnum:
		return "enum"
	case TypeUUID:
		return "uuid"
	default:
		return "invalid"
	}
}

// Orderable сообщает, допустим ли тип в ORDER BY и keyset-курсоре.
func (t Type) Orderable() bool {
	switch t {
	case TypeText, TypeInteger, TypeFloat, TypeTimestamptz, TypeDate, TypeUUID, TypeEnum, TypeBool:
		return true
	default:
		return false
	}
}

// scalar сообщает, допустим ли тип как элемент массива.
func (t Type) scalar() bool {
	switch t {
	case TypeText, TypeInteger, TypeFloat, TypeBool, TypeUUID:
		return true
	default:
		return false
	}
}

// Column — дескриптор столбца таблицы. Неизменяем после NewTable.
type Column struct {
	// Name — имя столбца в БД (snake_case, проверяется при конструировании).
	Name string
	// Type — семантический тип столбца.
	Type Type
	// Nullable — допускает ли столбец NULL.
	// NULLable-столбцы соответствуют указательным полям записи.
	Nullable bool
	// MaxLen — ограничение длины в символах для TypeText (0 — без ограничения).
	MaxLen int
	// Elem — тип элемента для TypeArray.
	Elem Type
	// Labels — закрытый набор меток для TypeEnum.
	Labels []string
}

// identRe — допустимая форма идентификатора (имени таблицы/столбца).
// Жёсткий whitelist вместо квотирования: имена объявляются кодом,
// а не пользовательским вводом.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdent проверяет форму идентификатора.
func ValidIdent(name string) bool {
	return identRe.MatchString(name)
}

// Table — дескриптор таблицы: имя, упорядоченный список столбцов,
// первичный ключ и (опционально) столбец версии для optimistic locking.
type Table struct {
	name       string
	columns    []Column
	byName     map[string]int
	primaryKey string
	versionCol string
	selectList string
}

// Option — опция конструирования таблицы.
type Option func(*Table)

// WithVersionColumn объявляет столбец версии для optimistic locking.
// Столбец должен быть TypeInteger NOT NULL; при Patch к условию WHERE
// добавляется сравнение версии, а сама версия инкрементируется.
func WithVersionColumn(name string) Option {
	return func(t *Table) { t.versionCol = name }
}

// NewTable конструирует дескриптор таблицы и валидирует его.
// primaryKey — имя столбца первичного ключа (составные ключи не поддерживаются).
func NewTable(name, primaryKey string, columns []Column, opts ...Option) (*Table, error) {
	if !ValidIdent(name) {
		return nil, fmt.Errorf("недопустимое имя таблицы: %q", name)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("таблица %q: нет столбцов", name)
	}

	t := &Table{
		name:       name,
		columns:    make([]Column, len(columns)),
		byName:     make(map[string]int, len(columns)),
		primaryKey: primaryKey,
	}
	copy(t.columns, columns)

	for _, opt := range opts {
		opt(t)
	}

	names := make([]string, 0, len(columns))
	for i, c := range t.columns {
		if !ValidIdent(c.Name) {
			return nil, fmt.Errorf("таблица %q: недопустимое имя столбца: %q", name, c.Name)
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("таблица %q: дублирующийся столбец: %q", name, c.Name)
		}
		if err := validateColumn(c); err != nil {
			return nil, fmt.Errorf("таблица %q: %w", name, err)
		}
		t.byName[c.Name] = i
		names = append(names, c.Name)
	}
	t.selectList = strings.Join(names, ", ")

	pk, ok := t.Column(primaryKey)
	if !ok {
		return nil, fmt.Errorf("таблица %q: первичный ключ %q не объявлен среди столбцов", name, primaryKey)
	}
	if pk.Nullable {
		return nil, fmt.Errorf("таблица %q: первичный ключ %q не может быть NULLable", name, primaryKey)
	}
	if !pk.Type.Orderable() {
		return nil, fmt.Errorf("таблица %q: тип %s непригоден для первичного ключа", name, pk.Type)
	}

	if t.versionCol != "" {
		vc, ok := t.Column(t.versionCol)
		if !ok {
			return nil, fmt.Errorf("таблица %q: столбец версии %q не объявлен", name, t.versionCol)
		}
		if vc.Type != TypeInteger || vc.Nullable {
			return nil, fmt.Errorf("таблица %q: столбец версии %q должен быть integer NOT NULL", name, t.versionCol)
		}
		if t.versionCol == t.primaryKey {
			return nil, fmt.Errorf("таблица %q: столбец версии не может совпадать с первичным ключом", name)
		}
	}

	return t, nil
}

// validateColumn проверяет внутреннюю согласованность дескриптора столбца.
func validateColumn(c Column) error {
	switch c.Type {
	case TypeInvalid:
		return fmt.Errorf("столбец %q: не задан тип", c.Name)
	case TypeEnum:
		if len(c.Labels) == 0 {
			return fmt.Errorf("столбец %q: enum без набора меток", c.Name)
		}
		seen := make(map[string]bool, len(c.Labels))
		for _, l := range c.Labels {
			if l == "" {
				return fmt.Errorf("столбец %q: пустая метка enum", c.Name)
			}
			if seen[l] {
				return fmt.Errorf("столбец %q: дублирующаяся метка enum: %q", c.Name, l)
			}
			seen[l] = true
		}
	case TypeArray:
		if !c.Elem.scalar() {
			return fmt.Errorf("столбец %q: недопустимый тип элемента массива: %s", c.Name, c.Elem)
		}
	}
	if c.MaxLen > 0 && c.Type != TypeText {
		return fmt.Errorf("столбец %q: MaxLen применим только к text", c.Name)
	}
	if c.MaxLen < 0 {
		return fmt.Errorf("столбец %q: отрицательный MaxLen", c.Name)
	}
	return nil
}

// Name возвращает имя таблицы.
func (t *Table) Name() string { return t.name }

// PrimaryKey возвращает имя столбца первичного ключа.
func (t *Table) PrimaryKey() string { return t.primaryKey }

// VersionColumn возвращает имя столбца версии ("" — не объявлен).
func (t *Table) VersionColumn() string { return t.versionCol }

// Columns возвращает упорядоченный список столбцов.
// Возвращаемый срез принадлежит дескриптору — только для чтения.
func (t *Table) Columns() []Column { return t.columns }

// Column возвращает дескриптор столбца по имени.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// Has сообщает, объявлен ли столбец с таким именем.
func (t *Table) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// SelectList возвращает список столбцов через запятую — для SELECT/RETURNING.
func (t *Table) SelectList() string { return t.selectList }
