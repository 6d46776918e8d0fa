// Пакет codec — двунаправленные кодеки значений столбцов.
// Encode переводит значение записи в представление, принимаемое драйвером;
// Decode восстанавливает значение из результата сканирования строки.
// Кодеки — чистые функции без состояния, безопасны для общего доступа.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mperativ/fondat-postgresql/schema"
)

// Ошибки границы кодеков. Всегда означают ошибку программирования
// или рассинхронизацию схемы — никогда не маскируются.
var (
	// ErrUnsupportedValue — значение непредставимо для типа столбца.
	ErrUnsupportedValue = errors.New("значение непредставимо для типа столбца")
	// ErrDecode — представление в БД не соответствует типу столбца.
	ErrDecode = errors.New("некорректное представление значения в БД")
)

// Codec — кодек одного столбца.
//
// Протокол декодирования: ScanTarget выделяет типизированную цель для
// rows.Scan (всегда указатель на указатель — NULL различим для любого
// столбца), Decode извлекает из неё значение записи.
// Для NULL Decode возвращает nil (и ошибку, если столбец NOT NULL).
type Codec interface {
	// Encode переводит значение записи в аргумент запроса.
	// nil означает NULL и допустим только для NULLable-столбцов.
	Encode(v any) (any, error)
	// ScanTarget выделяет новую цель для rows.Scan.
	ScanTarget() any
	// Decode извлекает значение записи из заполненной цели сканирования.
	Decode(target any) (any, error)
}

// New конструирует кодек для столбца.
// fieldType — тип поля записи; обязателен только для TypeJSON
// (nil — документ декодируется в map[string]any).
func New(col schema.Column, fieldType reflect.Type) (Codec, error) {
	switch col.Type {
	case schema.TypeText:
		return &textCodec{col: col}, nil
	case schema.TypeEnum:
		labels := make(map[string]bool, len(col.Labels))
		for _, l := range col.Labels {
			labels[l] = true
		}
		return &enumCodec{col: col, labels: labels}, nil
	case schema.TypeInteger:
		return &intCodec{col: col}, nil
	case schema.TypeFloat:
		return &floatCodec{col: col}, nil
	case schema.TypeBool:
		return &boolCodec{col: col}, nil
	case schema.TypeTimestamptz:
		return &timeCodec{col: col, dateOnly: false}, nil
	case schema.TypeDate:
		return &timeCodec{col: col, dateOnly: true}, nil
	case schema.TypeBytes:
		return &bytesCodec{col: col}, nil
	case schema.TypeUUID:
		return &uuidCodec{col: col}, nil
	case schema.TypeJSON:
		if fieldType == nil {
			fieldType = reflect.TypeOf(map[string]any{})
		}
		return &jsonCodec{col: col, typ: fieldType}, nil
	case schema.TypeArray:
		return newArrayCodec(col)
	default:
		return nil, fmt.Errorf("столбец %q: неизвестный тип %s", col.Name, col.Type)
	}
}

// encodeNull — общая обработка nil на стороне Encode.
// Возвращает (обработано, результат, ошибка).
func encodeNull(col schema.Column, v any) (bool, any, error) {
	if v != nil {
		return false, nil, nil
	}
	if !col.Nullable {
		return true, nil, fmt.Errorf("%w: столбец %q: NULL в NOT NULL столбце", ErrUnsupportedValue, col.Name)
	}
	return true, nil, nil
}

// decodeNull — общая обработка NULL на стороне Decode.
func decodeNull(col schema.Column) (any, error) {
	if !col.Nullable {
		return nil, fmt.Errorf("%w: столбец %q: NULL в NOT NULL столбце", ErrDecode, col.Name)
	}
	return nil, nil
}

// --- text ---

type textCodec struct {
	col schema.Column
}

func (c *textCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: ожидалась строка, получен %T", ErrUnsupportedValue, c.col.Name, v)
	}
	if c.col.MaxLen > 0 && utf8.RuneCountInString(s) > c.col.MaxLen {
		return nil, fmt.Errorf("%w: столбец %q: длина %d превышает ограничение %d",
			ErrUnsupportedValue, c.col.Name, utf8.RuneCountInString(s), c.col.MaxLen)
	}
	return s, nil
}

func (c *textCodec) ScanTarget() any { return new(*string) }

func (c *textCodec) Decode(target any) (any, error) {
	p, ok := target.(**string)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	return **p, nil
}

// --- enum ---

type enumCodec struct {
	col    schema.Column
	labels map[string]bool
}

func (c *enumCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: ожидалась метка enum, получен %T", ErrUnsupportedValue, c.col.Name, v)
	}
	if !c.labels[s] {
		return nil, fmt.Errorf("%w: столбец %q: метка %q не входит в перечисление", ErrUnsupportedValue, c.col.Name, s)
	}
	return s, nil
}

func (c *enumCodec) ScanTarget() any { return new(*string) }

func (c *enumCodec) Decode(target any) (any, error) {
	p, ok := target.(**string)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	if !c.labels[**p] {
		return nil, fmt.Errorf("%w: столбец %q: значение %q не входит в перечисление", ErrDecode, c.col.Name, **p)
	}
	return **p, nil
}

// --- integer ---

type intCodec struct {
	col schema.Column
}

func (c *intCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	default:
		return nil, fmt.Errorf("%w: столбец %q: ожидалось целое, получен %T", ErrUnsupportedValue, c.col.Name, v)
	}
}

func (c *intCodec) ScanTarget() any { return new(*int64) }

func (c *intCodec) Decode(target any) (any, error) {
	p, ok := target.(**int64)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	return **p, nil
}

// --- float ---

type floatCodec struct {
	col schema.Column
}

func (c *floatCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	default:
		return nil, fmt.Errorf("%w: столбец %q: ожидалось float, получен %T", ErrUnsupportedValue, c.col.Name, v)
	}
}

func (c *floatCodec) ScanTarget() any { return new(*float64) }

func (c *floatCodec) Decode(target any) (any, error) {
	p, ok := target.(**float64)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	return **p, nil
}

// --- bool ---

type boolCodec struct {
	col schema.Column
}

func (c *boolCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: ожидалось bool, получен %T", ErrUnsupportedValue, c.col.Name, v)
	}
	return b, nil
}

func (c *boolCodec) ScanTarget() any { return new(*bool) }

func (c *boolCodec) Decode(target any) (any, error) {
	p, ok := target.(**bool)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	return **p, nil
}

// --- timestamptz / date ---

// timeCodec обслуживает оба временных типа.
// Контракт нормализации: значения хранятся и возвращаются в UTC;
// для date легальный домен — полночь UTC (компоненты времени нулевые).
type timeCodec struct {
	col      schema.Column
	dateOnly bool
}

func (c *timeCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: ожидалось time.Time, получен %T", ErrUnsupportedValue, c.col.Name, v)
	}
	t = t.UTC()
	if c.dateOnly {
		h, m, s := t.Clock()
		if h != 0 || m != 0 || s != 0 || t.Nanosecond() != 0 {
			return nil, fmt.Errorf("%w: столбец %q: дата содержит компонент времени: %s",
				ErrUnsupportedValue, c.col.Name, t.Format(time.RFC3339Nano))
		}
	}
	return t, nil
}

func (c *timeCodec) ScanTarget() any { return new(*time.Time) }

func (c *timeCodec) Decode(target any) (any, error) {
	p, ok := target.(**time.Time)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	return (**p).UTC(), nil
}

// --- bytes ---

type bytesCodec struct {
	col schema.Column
}

func (c *bytesCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: ожидалось []byte, получен %T", ErrUnsupportedValue, c.col.Name, v)
	}
	if b == nil {
		return c.Encode(nil)
	}
	return b, nil
}

func (c *bytesCodec) ScanTarget() any { return new([]byte) }

func (c *bytesCodec) Decode(target any) (any, error) {
	p, ok := target.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	return *p, nil
}

// --- uuid ---

// uuidCodec принимает uuid.UUID или каноническую строку;
// на проводе — каноническая строка (pgx кодирует её по OID параметра).
type uuidCodec struct {
	col schema.Column
}

func (c *uuidCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	switch u := v.(type) {
	case uuid.UUID:
		return u.String(), nil
	case string:
		parsed, err := uuid.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("%w: столбец %q: некорректный UUID %q", ErrUnsupportedValue, c.col.Name, u)
		}
		return parsed.String(), nil
	default:
		return nil, fmt.Errorf("%w: столбец %q: ожидался UUID, получен %T", ErrUnsupportedValue, c.col.Name, v)
	}
}

func (c *uuidCodec) ScanTarget() any { return new(*string) }

func (c *uuidCodec) Decode(target any) (any, error) {
	p, ok := target.(**string)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	u, err := uuid.Parse(**p)
	if err != nil {
		return nil, fmt.Errorf("%w: столбец %q: некорректный UUID %q", ErrDecode, c.col.Name, **p)
	}
	return u, nil
}

// --- json ---

// jsonCodec сериализует значение поля записи в jsonb и обратно.
// typ — тип поля записи, в который декодируется документ.
type jsonCodec struct {
	col schema.Column
	typ reflect.Type
}

func (c *jsonCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: столбец %q: %v", ErrUnsupportedValue, c.col.Name, err)
	}
	return b, nil
}

func (c *jsonCodec) ScanTarget() any { return new([]byte) }

func (c *jsonCodec) Decode(target any) (any, error) {
	p, ok := target.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	out := reflect.New(c.typ)
	if err := json.Unmarshal(*p, out.Interface()); err != nil {
		return nil, fmt.Errorf("%w: столбец %q: %v", ErrDecode, c.col.Name, err)
	}
	return out.Elem().Interface(), nil
}

// --- array ---

// newArrayCodec выбирает реализацию по типу элемента.
func newArrayCodec(col schema.Column) (Codec, error) {
	switch col.Elem {
	case schema.TypeText:
		return &arrayCodec[string]{col: col}, nil
	case schema.TypeInteger:
		return &arrayCodec[int64]{col: col}, nil
	case schema.TypeFloat:
		return &arrayCodec[float64]{col: col}, nil
	case schema.TypeBool:
		return &arrayCodec[bool]{col: col}, nil
	case schema.TypeUUID:
		return &uuidArrayCodec{col: col}, nil
	default:
		return nil, fmt.Errorf("столбец %q: недопустимый тип элемента массива: %s", col.Name, col.Elem)
	}
}

// arrayCodec — массив скалярных элементов одного Go-типа.
// На проводе — срез, который pgx кодирует в массив PostgreSQL.
type arrayCodec[E comparable] struct {
	col schema.Column
}

func (c *arrayCodec[E]) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	s, ok := v.([]E)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: ожидался %T, получен %T", ErrUnsupportedValue, c.col.Name, []E(nil), v)
	}
	if s == nil {
		return c.Encode(nil)
	}
	return s, nil
}

func (c *arrayCodec[E]) ScanTarget() any { return new([]E) }

func (c *arrayCodec[E]) Decode(target any) (any, error) {
	p, ok := target.(*[]E)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	return *p, nil
}

// uuidArrayCodec — массив UUID: в памяти []uuid.UUID, на проводе []string.
type uuidArrayCodec struct {
	col schema.Column
}

func (c *uuidArrayCodec) Encode(v any) (any, error) {
	if done, res, err := encodeNull(c.col, v); done {
		return res, err
	}
	s, ok := v.([]uuid.UUID)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: ожидался []uuid.UUID, получен %T", ErrUnsupportedValue, c.col.Name, v)
	}
	if s == nil {
		return c.Encode(nil)
	}
	out := make([]string, len(s))
	for i, u := range s {
		out[i] = u.String()
	}
	return out, nil
}

func (c *uuidArrayCodec) ScanTarget() any { return new([]string) }

func (c *uuidArrayCodec) Decode(target any) (any, error) {
	p, ok := target.(*[]string)
	if !ok {
		return nil, fmt.Errorf("%w: столбец %q: неожиданная цель сканирования %T", ErrDecode, c.col.Name, target)
	}
	if *p == nil {
		return decodeNull(c.col)
	}
	out := make([]uuid.UUID, len(*p))
	for i, raw := range *p {
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: столбец %q: некорректный UUID %q", ErrDecode, c.col.Name, raw)
		}
		out[i] = u
	}
	return out, nil
}
