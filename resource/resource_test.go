package resource

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mperativ/fondat-postgresql/schema"
	"github.com/mperativ/fondat-postgresql/tx"
)

// thing — запись для тестов привязки.
type thing struct {
	ID       int64   `db:"id"`
	Title    string  `db:"title"`
	Note     *string `db:"note"`
	Internal string  `db:"-"`
	Plain    string
}

// thingTable — дескриптор таблицы для thing.
func thingTable(t *testing.T) *schema.Table {
	t.Helper()
	tbl, err := schema.NewTable("things", "id", []schema.Column{
		{Name: "id", Type: schema.TypeInteger},
		{Name: "title", Type: schema.TypeText},
		{Name: "note", Type: schema.TypeText, Nullable: true},
	})
	if err != nil {
		t.Fatalf("NewTable() вернул ошибку: %v", err)
	}
	return tbl
}

// TestNewBinder проверяет корректную привязку и извлечение типов полей.
func TestNewBinder(t *testing.T) {
	b, err := newBinder(reflect.TypeOf(thing{}), thingTable(t))
	if err != nil {
		t.Fatalf("newBinder() вернул ошибку: %v", err)
	}

	types := b.fieldTypes()
	if types["id"] != reflect.TypeOf(int64(0)) {
		t.Errorf("fieldTypes[id] = %v", types["id"])
	}
	// Указатель разыменовывается: кодеку нужен тип значения.
	if types["note"] != reflect.TypeOf("") {
		t.Errorf("fieldTypes[note] = %v", types["note"])
	}
}

// TestNewBinderValidation проверяет отклонение рассинхронизированных записей.
func TestNewBinderValidation(t *testing.T) {
	tbl := thingTable(t)

	type noField struct {
		ID    int64  `db:"id"`
		Title string `db:"title"`
		// нет поля для note
	}
	type unknownColumn struct {
		ID    int64  `db:"id"`
		Title string `db:"title"`
		Note  *string `db:"note"`
		Extra string  `db:"extra"`
	}
	type duplicate struct {
		ID     int64   `db:"id"`
		Title  string  `db:"title"`
		Title2 string  `db:"title"`
		Note   *string `db:"note"`
	}
	type nullableValue struct {
		ID    int64  `db:"id"`
		Title string `db:"title"`
		Note  string `db:"note"` // NULLable-столбец без указателя
	}

	cases := []struct {
		name string
		typ  reflect.Type
	}{
		{"не структура", reflect.TypeOf(42)},
		{"столбец без поля", reflect.TypeOf(noField{})},
		{"поле для необъявленного столбца", reflect.TypeOf(unknownColumn{})},
		{"два поля на один столбец", reflect.TypeOf(duplicate{})},
		{"NULLable-столбец без указателя", reflect.TypeOf(nullableValue{})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := newBinder(tc.typ, tbl); err == nil {
				t.Error("newBinder() не вернул ошибку")
			}
		})
	}
}

// TestBinderRoundTrip проверяет запись → значения → запись.
func TestBinderRoundTrip(t *testing.T) {
	b, err := newBinder(reflect.TypeOf(thing{}), thingTable(t))
	if err != nil {
		t.Fatalf("newBinder() вернул ошибку: %v", err)
	}

	note := "заметка"
	in := thing{ID: 7, Title: "заголовок", Note: &note, Internal: "x", Plain: "y"}

	values, err := b.toValues(in)
	if err != nil {
		t.Fatalf("toValues() вернул ошибку: %v", err)
	}
	if values["id"] != int64(7) || values["title"] != "заголовок" || values["note"] != "заметка" {
		t.Errorf("toValues() = %v", values)
	}
	if len(values) != 3 {
		t.Errorf("toValues() вернул %d значений, ожидалось 3 (поля без тега не захватываются)", len(values))
	}

	// Значения в порядке объявления столбцов: id, title, note.
	out, err := b.fromValues([]any{int64(7), "заголовок", "заметка"})
	if err != nil {
		t.Fatalf("fromValues() вернул ошибку: %v", err)
	}
	got := out.(thing)
	if got.ID != 7 || got.Title != "заголовок" || got.Note == nil || *got.Note != "заметка" {
		t.Errorf("fromValues() = %+v", got)
	}

	// NULL → nil-указатель.
	out, err = b.fromValues([]any{int64(7), "заголовок", nil})
	if err != nil {
		t.Fatalf("fromValues(NULL) вернул ошибку: %v", err)
	}
	if out.(thing).Note != nil {
		t.Errorf("fromValues(NULL).Note = %v, ожидался nil", out.(thing).Note)
	}
}

// TestBinderNilPointer проверяет nil-указатель → NULL.
func TestBinderNilPointer(t *testing.T) {
	b, err := newBinder(reflect.TypeOf(thing{}), thingTable(t))
	if err != nil {
		t.Fatalf("newBinder() вернул ошибку: %v", err)
	}
	values, err := b.toValues(thing{ID: 1, Title: "x"})
	if err != nil {
		t.Fatalf("toValues() вернул ошибку: %v", err)
	}
	if values["note"] != nil {
		t.Errorf("toValues().note = %v, ожидался nil", values["note"])
	}
}

// TestMapError проверяет перевод кодов SQLSTATE в доменные ошибки.
func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"нет строк", pgx.ErrNoRows, ErrNotFound},
		{"уникальность", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "things_title_key"}, ErrConflict},
		{"exclusion", &pgconn.PgError{Code: pgerrcode.ExclusionViolation}, ErrConflict},
		{"внешний ключ", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "fk_note"}, ErrReference},
		{"сериализация", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, ErrSerialization},
		{"deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, ErrSerialization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.in)
			if !errors.Is(got, tt.want) {
				t.Errorf("mapError() = %v, ожидался %v", got, tt.want)
			}
		})
	}

	// Обёрнутая ошибка драйвера тоже классифицируется.
	wrapped := fmt.Errorf("ошибка запроса: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation})
	if !errors.Is(mapError(wrapped), ErrConflict) {
		t.Error("mapError(обёрнутая) не распознал код")
	}

	// Ошибки вне протокола бэкенда проходят без изменений.
	other := errors.New("сетевая ошибка")
	if got := mapError(other); got != other {
		t.Errorf("mapError(прочая) = %v, ожидался passthrough", got)
	}
	if mapError(nil) != nil {
		t.Error("mapError(nil) != nil")
	}

	// Класс 08 — потеря соединения.
	connErr := mapError(&pgconn.PgError{Code: pgerrcode.ConnectionFailure})
	if !errors.Is(connErr, tx.ErrConnectionLost) {
		t.Errorf("mapError(08006) = %v, ожидался ErrConnectionLost", connErr)
	}

	// Неклассифицированный SQLSTATE заворачивается в ErrBackend:
	// сырой PgError не пересекает контракт операций.
	backend := mapError(&pgconn.PgError{Code: pgerrcode.NotNullViolation, Message: "null value in column"})
	if !errors.Is(backend, ErrBackend) {
		t.Errorf("mapError(23502) = %v, ожидался ErrBackend", backend)
	}
	var rawPg *pgconn.PgError
	if errors.As(backend, &rawPg) {
		t.Error("mapError(23502) сохранил сырой PgError в цепочке")
	}
	if !strings.Contains(backend.Error(), pgerrcode.NotNullViolation) {
		t.Errorf("mapError(23502) = %q, SQLSTATE потерян из текста", backend.Error())
	}

	// Имя нарушенного ограничения сохраняется в тексте.
	got := mapError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "things_title_key"})
	if !errors.Is(got, ErrConflict) || got.Error() == ErrConflict.Error() {
		t.Errorf("mapError() = %q, ожидалось имя ограничения в тексте", got.Error())
	}
}

// TestIsZeroVersion проверяет определение незаданной версии.
func TestIsZeroVersion(t *testing.T) {
	if !isZeroVersion(nil) || !isZeroVersion(int64(0)) || !isZeroVersion(0) {
		t.Error("нулевая версия не распознана")
	}
	if isZeroVersion(int64(3)) || isZeroVersion("0") {
		t.Error("ненулевая версия распознана как нулевая")
	}
}
