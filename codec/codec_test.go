package codec

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mperativ/fondat-postgresql/schema"
)

// mustCodec создаёт кодек или останавливает тест.
func mustCodec(t *testing.T, col schema.Column, fieldType reflect.Type) Codec {
	t.Helper()
	c, err := New(col, fieldType)
	if err != nil {
		t.Fatalf("New(%q) вернул ошибку: %v", col.Name, err)
	}
	return c
}

// TestTextCodec проверяет кодек текста и ограничение длины в символах.
func TestTextCodec(t *testing.T) {
	c := mustCodec(t, schema.Column{Name: "title", Type: schema.TypeText, MaxLen: 3}, nil)

	// Длина считается в символах, не в байтах: "ёёё" — 3 руны, 6 байт.
	wire, err := c.Encode("ёёё")
	if err != nil {
		t.Fatalf("Encode() вернул ошибку: %v", err)
	}
	if wire != "ёёё" {
		t.Errorf("Encode() = %v", wire)
	}

	if _, err := c.Encode("ёёёё"); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(4 руны) err = %v, ожидался ErrUnsupportedValue", err)
	}
	if _, err := c.Encode(42); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(int) err = %v, ожидался ErrUnsupportedValue", err)
	}

	// Декодирование
	target := c.ScanTarget().(**string)
	s := "abc"
	*target = &s
	got, err := c.Decode(target)
	if err != nil {
		t.Fatalf("Decode() вернул ошибку: %v", err)
	}
	if got != "abc" {
		t.Errorf("Decode() = %v", got)
	}
}

// TestNullHandling проверяет обработку NULL с обеих сторон.
func TestNullHandling(t *testing.T) {
	notNull := mustCodec(t, schema.Column{Name: "a", Type: schema.TypeText}, nil)
	nullable := mustCodec(t, schema.Column{Name: "b", Type: schema.TypeText, Nullable: true}, nil)

	// NULL в NOT NULL столбце — ошибка программирования, не маскируется.
	if _, err := notNull.Encode(nil); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(nil) err = %v, ожидался ErrUnsupportedValue", err)
	}
	wire, err := nullable.Encode(nil)
	if err != nil {
		t.Fatalf("nullable Encode(nil) вернул ошибку: %v", err)
	}
	if wire != nil {
		t.Errorf("nullable Encode(nil) = %v, ожидался nil", wire)
	}

	// NULL из БД в NOT NULL столбце — рассинхронизация схемы.
	if _, err := notNull.Decode(notNull.ScanTarget()); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(NULL) err = %v, ожидался ErrDecode", err)
	}
	got, err := nullable.Decode(nullable.ScanTarget())
	if err != nil {
		t.Fatalf("nullable Decode(NULL) вернул ошибку: %v", err)
	}
	if got != nil {
		t.Errorf("nullable Decode(NULL) = %v, ожидался nil", got)
	}
}

// TestEnumCodec проверяет закрытый набор меток в обе стороны.
func TestEnumCodec(t *testing.T) {
	col := schema.Column{Name: "status", Type: schema.TypeEnum, Labels: []string{"draft", "published"}}
	c := mustCodec(t, col, nil)

	if _, err := c.Encode("draft"); err != nil {
		t.Errorf("Encode(draft) вернул ошибку: %v", err)
	}
	if _, err := c.Encode("unknown"); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(unknown) err = %v, ожидался ErrUnsupportedValue", err)
	}

	// Значение из БД вне набора меток — рассинхронизация схемы.
	target := c.ScanTarget().(**string)
	s := "unknown"
	*target = &s
	if _, err := c.Decode(target); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(unknown) err = %v, ожидался ErrDecode", err)
	}
}

// TestIntCodec проверяет принимаемые целочисленные типы.
func TestIntCodec(t *testing.T) {
	c := mustCodec(t, schema.Column{Name: "n", Type: schema.TypeInteger}, nil)

	for _, v := range []any{int64(42), int(42), int32(42), int16(42)} {
		wire, err := c.Encode(v)
		if err != nil {
			t.Errorf("Encode(%T) вернул ошибку: %v", v, err)
			continue
		}
		if wire != int64(42) {
			t.Errorf("Encode(%T) = %v, ожидалось int64(42)", v, wire)
		}
	}
	if _, err := c.Encode("42"); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(string) err = %v, ожидался ErrUnsupportedValue", err)
	}

	target := c.ScanTarget().(**int64)
	n := int64(7)
	*target = &n
	got, err := c.Decode(target)
	if err != nil {
		t.Fatalf("Decode() вернул ошибку: %v", err)
	}
	if got != int64(7) {
		t.Errorf("Decode() = %v", got)
	}
}

// TestTimeCodec проверяет нормализацию к UTC и контракт date.
func TestTimeCodec(t *testing.T) {
	ts := mustCodec(t, schema.Column{Name: "at", Type: schema.TypeTimestamptz}, nil)

	msk := time.FixedZone("MSK", 3*3600)
	local := time.Date(2026, 8, 24, 15, 30, 0, 0, msk)

	wire, err := ts.Encode(local)
	if err != nil {
		t.Fatalf("Encode() вернул ошибку: %v", err)
	}
	enc := wire.(time.Time)
	if enc.Location() != time.UTC {
		t.Errorf("Encode() зона = %v, ожидался UTC", enc.Location())
	}
	if !enc.Equal(local) {
		t.Errorf("Encode() изменил момент времени: %v != %v", enc, local)
	}

	// Декодирование возвращает UTC независимо от зоны драйвера.
	target := ts.ScanTarget().(**time.Time)
	*target = &local
	got, err := ts.Decode(target)
	if err != nil {
		t.Fatalf("Decode() вернул ошибку: %v", err)
	}
	if got.(time.Time).Location() != time.UTC {
		t.Errorf("Decode() зона = %v, ожидался UTC", got.(time.Time).Location())
	}

	// date принимает только полночь UTC.
	d := mustCodec(t, schema.Column{Name: "day", Type: schema.TypeDate}, nil)
	if _, err := d.Encode(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Errorf("Encode(полночь) вернул ошибку: %v", err)
	}
	if _, err := d.Encode(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(с временем) err = %v, ожидался ErrUnsupportedValue", err)
	}
}

// TestUUIDCodec проверяет канонизацию UUID и отклонение мусора.
func TestUUIDCodec(t *testing.T) {
	c := mustCodec(t, schema.Column{Name: "id", Type: schema.TypeUUID}, nil)
	u := uuid.New()

	wire, err := c.Encode(u)
	if err != nil {
		t.Fatalf("Encode(uuid.UUID) вернул ошибку: %v", err)
	}
	if wire != u.String() {
		t.Errorf("Encode() = %v, ожидалось %v", wire, u.String())
	}

	// Строковая форма тоже принимается и канонизируется.
	if wire, err = c.Encode(u.String()); err != nil || wire != u.String() {
		t.Errorf("Encode(string) = %v, %v", wire, err)
	}
	if _, err := c.Encode("не-uuid"); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(мусор) err = %v, ожидался ErrUnsupportedValue", err)
	}

	target := c.ScanTarget().(**string)
	s := u.String()
	*target = &s
	got, err := c.Decode(target)
	if err != nil {
		t.Fatalf("Decode() вернул ошибку: %v", err)
	}
	if got != u {
		t.Errorf("Decode() = %v, ожидалось %v", got, u)
	}
}

// TestJSONCodec проверяет сериализацию документа в тип поля записи.
func TestJSONCodec(t *testing.T) {
	type meta struct {
		Author string `json:"author"`
		Views  int    `json:"views"`
	}
	col := schema.Column{Name: "meta", Type: schema.TypeJSON}
	c := mustCodec(t, col, reflect.TypeOf(meta{}))

	wire, err := c.Encode(meta{Author: "иван", Views: 3})
	if err != nil {
		t.Fatalf("Encode() вернул ошибку: %v", err)
	}

	target := c.ScanTarget().(*[]byte)
	*target = wire.([]byte)
	got, err := c.Decode(target)
	if err != nil {
		t.Fatalf("Decode() вернул ошибку: %v", err)
	}
	if got.(meta) != (meta{Author: "иван", Views: 3}) {
		t.Errorf("Decode() = %+v", got)
	}

	// Без типа поля документ декодируется в map[string]any.
	generic := mustCodec(t, col, nil)
	target2 := generic.ScanTarget().(*[]byte)
	*target2 = []byte(`{"k": "v"}`)
	got2, err := generic.Decode(target2)
	if err != nil {
		t.Fatalf("Decode(map) вернул ошибку: %v", err)
	}
	m, ok := got2.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Errorf("Decode(map) = %v", got2)
	}

	// Битый JSON из БД — ErrDecode.
	target3 := generic.ScanTarget().(*[]byte)
	*target3 = []byte("{")
	if _, err := generic.Decode(target3); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(битый JSON) err = %v, ожидался ErrDecode", err)
	}
}

// TestArrayCodec проверяет массивы скалярных элементов.
func TestArrayCodec(t *testing.T) {
	c := mustCodec(t, schema.Column{Name: "tags", Type: schema.TypeArray, Elem: schema.TypeText, Nullable: true}, nil)

	wire, err := c.Encode([]string{"a", "b"})
	if err != nil {
		t.Fatalf("Encode() вернул ошибку: %v", err)
	}
	target := c.ScanTarget().(*[]string)
	*target = wire.([]string)
	got, err := c.Decode(target)
	if err != nil {
		t.Fatalf("Decode() вернул ошибку: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Decode() = %v", got)
	}

	if _, err := c.Encode([]int64{1}); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode([]int64) err = %v, ожидался ErrUnsupportedValue", err)
	}
}

// TestUUIDArrayCodec проверяет массив UUID: []uuid.UUID ↔ []string.
func TestUUIDArrayCodec(t *testing.T) {
	c := mustCodec(t, schema.Column{Name: "ids", Type: schema.TypeArray, Elem: schema.TypeUUID, Nullable: true}, nil)
	u1, u2 := uuid.New(), uuid.New()

	wire, err := c.Encode([]uuid.UUID{u1, u2})
	if err != nil {
		t.Fatalf("Encode() вернул ошибку: %v", err)
	}
	strs := wire.([]string)
	if len(strs) != 2 || strs[0] != u1.String() {
		t.Errorf("Encode() = %v", strs)
	}

	target := c.ScanTarget().(*[]string)
	*target = strs
	got, err := c.Decode(target)
	if err != nil {
		t.Fatalf("Decode() вернул ошибку: %v", err)
	}
	if !reflect.DeepEqual(got, []uuid.UUID{u1, u2}) {
		t.Errorf("Decode() = %v", got)
	}
}

// TestRegistry проверяет реестр кодеков таблицы.
func TestRegistry(t *testing.T) {
	tbl, err := schema.NewTable("things", "id", []schema.Column{
		{Name: "id", Type: schema.TypeInteger},
		{Name: "title", Type: schema.TypeText},
		{Name: "rating", Type: schema.TypeFloat, Nullable: true},
	})
	if err != nil {
		t.Fatalf("NewTable() вернул ошибку: %v", err)
	}
	reg, err := NewRegistry(tbl, nil)
	if err != nil {
		t.Fatalf("NewRegistry() вернул ошибку: %v", err)
	}

	if _, err := reg.Encode("missing", 1); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Encode(missing) err = %v, ожидался ErrUnsupportedValue", err)
	}

	// Цели сканирования — в порядке объявления столбцов.
	targets := reg.ScanTargets()
	if len(targets) != 3 {
		t.Fatalf("ScanTargets() len = %d, ожидалось 3", len(targets))
	}
	n := int64(1)
	s := "заголовок"
	*(targets[0].(**int64)) = &n
	*(targets[1].(**string)) = &s
	// rating остаётся NULL

	values, err := reg.DecodeRow(targets)
	if err != nil {
		t.Fatalf("DecodeRow() вернул ошибку: %v", err)
	}
	if values[0] != int64(1) || values[1] != "заголовок" || values[2] != nil {
		t.Errorf("DecodeRow() = %v", values)
	}

	// Несовпадение числа целей — ошибка декодирования.
	if _, err := reg.DecodeRow(targets[:2]); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodeRow(2 цели) err = %v, ожидался ErrDecode", err)
	}
}
