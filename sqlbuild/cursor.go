// cursor.go — непрозрачный keyset-курсор пагинации.
// Курсор кодирует значение столбца сортировки и первичный ключ последней
// выданной строки; следующая страница начинается строго после этой пары.
// OFFSET не используется — пагинация стабильна при конкурентных записях.
package sqlbuild

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mperativ/fondat-postgresql/schema"
)

// ErrCursor — курсор повреждён или не соответствует параметрам запроса.
var ErrCursor = errors.New("некорректный курсор пагинации")

// cursorToken — сериализуемое содержимое курсора.
// Столбец сортировки и направление зашиты в токен: курсор от другого
// запроса отклоняется, а не молча выдаёт неверную страницу.
type cursorToken struct {
	Column string          `json:"c"`
	Desc   bool            `json:"d"`
	Value  json.RawMessage `json:"v"`
	Key    json.RawMessage `json:"k"`
}

// encodeCursorValue переводит значение записи в JSON-безопасную форму.
func encodeCursorValue(t schema.Type, v any) (json.RawMessage, error) {
	var out any
	switch t {
	case schema.TypeText, schema.TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: ожидалась строка, получен %T", ErrCursor, v)
		}
		out = s
	case schema.TypeUUID:
		u, ok := v.(uuid.UUID)
		if !ok {
			return nil, fmt.Errorf("%w: ожидался uuid.UUID, получен %T", ErrCursor, v)
		}
		out = u.String()
	case schema.TypeInteger:
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: ожидалось int64, получен %T", ErrCursor, v)
		}
		out = n
	case schema.TypeFloat:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: ожидалось float64, получен %T", ErrCursor, v)
		}
		out = f
	case schema.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: ожидалось bool, получен %T", ErrCursor, v)
		}
		out = b
	case schema.TypeTimestamptz, schema.TypeDate:
		tm, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: ожидалось time.Time, получен %T", ErrCursor, v)
		}
		out = tm.UTC().Format(time.RFC3339Nano)
	default:
		return nil, fmt.Errorf("%w: тип %s непригоден для курсора", ErrCursor, t)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCursor, err)
	}
	return raw, nil
}

// decodeCursorValue восстанавливает значение записи из JSON-формы.
func decodeCursorValue(t schema.Type, raw json.RawMessage) (any, error) {
	switch t {
	case schema.TypeText, schema.TypeEnum:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCursor, err)
		}
		return s, nil
	case schema.TypeUUID:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCursor, err)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: некорректный UUID %q", ErrCursor, s)
		}
		return u, nil
	case schema.TypeInteger:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var num json.Number
		if err := dec.Decode(&num); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCursor, err)
		}
		n, err := num.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCursor, err)
		}
		return n, nil
	case schema.TypeFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCursor, err)
		}
		return f, nil
	case schema.TypeBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCursor, err)
		}
		return b, nil
	case schema.TypeTimestamptz, schema.TypeDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCursor, err)
		}
		tm, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: некорректное время %q", ErrCursor, s)
		}
		return tm.UTC(), nil
	default:
		return nil, fmt.Errorf("%w: тип %s непригоден для курсора", ErrCursor, t)
	}
}

// EncodeCursor формирует непрозрачный токен курсора по последней строке
// страницы: orderValue — значение столбца сортировки, key — первичный ключ.
func (b *Builder) EncodeCursor(ord Order, orderValue, key any) (string, error) {
	ordCol, err := b.resolveOrder(ord)
	if err != nil {
		return "", err
	}
	pkCol, _ := b.table.Column(b.table.PrimaryKey())

	rawV, err := encodeCursorValue(ordCol.Type, orderValue)
	if err != nil {
		return "", err
	}
	rawK, err := encodeCursorValue(pkCol.Type, key)
	if err != nil {
		return "", err
	}

	tok := cursorToken{Column: ordCol.Name, Desc: ord.Desc, Value: rawV, Key: rawK}
	data, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCursor, err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// decodeCursor разбирает токен и проверяет его соответствие запросу.
// Возвращает значения столбца сортировки и первичного ключа.
func (b *Builder) decodeCursor(ord Order, ordCol schema.Column, cursor string) (any, any, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCursor, err)
	}
	var tok cursorToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCursor, err)
	}
	if tok.Column != ordCol.Name || tok.Desc != ord.Desc {
		return nil, nil, fmt.Errorf("%w: курсор выдан для другой сортировки (%s)", ErrCursor, tok.Column)
	}

	pkCol, _ := b.table.Column(b.table.PrimaryKey())
	v, err := decodeCursorValue(ordCol.Type, tok.Value)
	if err != nil {
		return nil, nil, err
	}
	k, err := decodeCursorValue(pkCol.Type, tok.Key)
	if err != nil {
		return nil, nil, err
	}
	return v, k, nil
}
