package schema

import (
	"testing"
)

// testColumns — минимальный корректный набор столбцов.
func testColumns() []Column {
	return []Column{
		{Name: "id", Type: TypeInteger},
		{Name: "title", Type: TypeText, MaxLen: 100},
		{Name: "status", Type: TypeEnum, Labels: []string{"draft", "published"}},
		{Name: "ver", Type: TypeInteger},
	}
}

// TestNewTable проверяет конструирование корректного дескриптора.
func TestNewTable(t *testing.T) {
	tbl, err := NewTable("things", "id", testColumns(), WithVersionColumn("ver"))
	if err != nil {
		t.Fatalf("NewTable() вернул ошибку: %v", err)
	}

	if tbl.Name() != "things" {
		t.Errorf("Name() = %q, ожидалось %q", tbl.Name(), "things")
	}
	if tbl.PrimaryKey() != "id" {
		t.Errorf("PrimaryKey() = %q, ожидалось %q", tbl.PrimaryKey(), "id")
	}
	if tbl.VersionColumn() != "ver" {
		t.Errorf("VersionColumn() = %q, ожидалось %q", tbl.VersionColumn(), "ver")
	}
	if got := tbl.SelectList(); got != "id, title, status, ver" {
		t.Errorf("SelectList() = %q", got)
	}
	if !tbl.Has("title") {
		t.Error("Has(title) = false, ожидалось true")
	}
	col, ok := tbl.Column("status")
	if !ok {
		t.Fatal("Column(status) не найден")
	}
	if col.Type != TypeEnum || len(col.Labels) != 2 {
		t.Errorf("Column(status) = %+v", col)
	}
}

// TestNewTableValidation проверяет отклонение некорректных дескрипторов.
func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		pk      string
		columns []Column
		opts    []Option
	}{
		{
			name:    "недопустимое имя таблицы",
			table:   "Things; DROP TABLE",
			pk:      "id",
			columns: testColumns(),
		},
		{
			name:    "недопустимое имя столбца",
			table:   "things",
			pk:      "id",
			columns: []Column{{Name: "id", Type: TypeInteger}, {Name: "bad-name", Type: TypeText}},
		},
		{
			name:    "дублирующийся столбец",
			table:   "things",
			pk:      "id",
			columns: []Column{{Name: "id", Type: TypeInteger}, {Name: "id", Type: TypeText}},
		},
		{
			name:    "первичный ключ не объявлен",
			table:   "things",
			pk:      "missing",
			columns: testColumns(),
		},
		{
			name:    "NULLable первичный ключ",
			table:   "things",
			pk:      "id",
			columns: []Column{{Name: "id", Type: TypeInteger, Nullable: true}},
		},
		{
			name:    "JSON как первичный ключ",
			table:   "things",
			pk:      "doc",
			columns: []Column{{Name: "doc", Type: TypeJSON}},
		},
		{
			name:    "enum без меток",
			table:   "things",
			pk:      "id",
			columns: []Column{{Name: "id", Type: TypeInteger}, {Name: "status", Type: TypeEnum}},
		},
		{
			name:    "дублирующаяся метка enum",
			table:   "things",
			pk:      "id",
			columns: []Column{{Name: "id", Type: TypeInteger}, {Name: "status", Type: TypeEnum, Labels: []string{"a", "a"}}},
		},
		{
			name:    "массив с недопустимым элементом",
			table:   "things",
			pk:      "id",
			columns: []Column{{Name: "id", Type: TypeInteger}, {Name: "docs", Type: TypeArray, Elem: TypeJSON}},
		},
		{
			name:    "MaxLen не на text",
			table:   "things",
			pk:      "id",
			columns: []Column{{Name: "id", Type: TypeInteger, MaxLen: 10}},
		},
		{
			name:    "столбец версии не объявлен",
			table:   "things",
			pk:      "id",
			columns: testColumns(),
			opts:    []Option{WithVersionColumn("missing")},
		},
		{
			name:    "столбец версии не integer",
			table:   "things",
			pk:      "id",
			columns: testColumns(),
			opts:    []Option{WithVersionColumn("title")},
		},
		{
			name:    "столбец версии совпадает с первичным ключом",
			table:   "things",
			pk:      "id",
			columns: testColumns(),
			opts:    []Option{WithVersionColumn("id")},
		},
		{
			name:    "нет столбцов",
			table:   "things",
			pk:      "id",
			columns: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.table, tt.pk, tt.columns, tt.opts...); err == nil {
				t.Error("NewTable() не вернул ошибку")
			}
		})
	}
}

// TestTypeOrderable проверяет применимость типов к сортировке.
func TestTypeOrderable(t *testing.T) {
	orderable := []Type{TypeText, TypeInteger, TypeFloat, TypeTimestamptz, TypeDate, TypeUUID, TypeEnum, TypeBool}
	for _, typ := range orderable {
		if !typ.Orderable() {
			t.Errorf("%s.Orderable() = false, ожидалось true", typ)
		}
	}
	notOrderable := []Type{TypeJSON, TypeArray, TypeBytes, TypeInvalid}
	for _, typ := range notOrderable {
		if typ.Orderable() {
			t.Errorf("%s.Orderable() = true, ожидалось false", typ)
		}
	}
}

// TestValidIdent проверяет whitelist идентификаторов.
func TestValidIdent(t *testing.T) {
	valid := []string{"id", "created_at", "_internal", "col1"}
	for _, name := range valid {
		if !ValidIdent(name) {
			t.Errorf("ValidIdent(%q) = false, ожидалось true", name)
		}
	}
	invalid := []string{"", "1col", "Name", "a-b", "a b", `a"b`, "таблица"}
	for _, name := range invalid {
		if ValidIdent(name) {
			t.Errorf("ValidIdent(%q) = true, ожидалось false", name)
		}
	}
}
