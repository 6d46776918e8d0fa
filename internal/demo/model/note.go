// Пакет model — записи демонстрационного сервиса заметок и их
// дескрипторы таблиц.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/mperativ/fondat-postgresql/schema"
)

// Статусы заметки (перечисление столбца status).
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Note — заметка. Поля привязаны к столбцам таблицы notes тегом db;
// NULLable-столбцы представлены указателями или срезами.
type Note struct {
	ID        uuid.UUID      `db:"id"`
	Title     string         `db:"title"`
	Body      *string        `db:"body"`
	Status    string         `db:"status"`
	Tags      []string       `db:"tags"`
	Meta      map[string]any `db:"meta"`
	Pinned    bool           `db:"pinned"`
	Rating    *float64       `db:"rating"`
	CreatedAt time.Time      `db:"created_at"`
	Ver       int64          `db:"ver"`
}

// NoteLink — ссылка между заметками (внешний ключ на notes).
type NoteLink struct {
	ID     int64     `db:"id"`
	NoteID uuid.UUID `db:"note_id"`
	Target string    `db:"target"`
}

// NotesTable возвращает дескриптор таблицы notes.
func NotesTable() (*schema.Table, error) {
	return schema.NewTable("notes", "id",
		[]schema.Column{
			{Name: "id", Type: schema.TypeUUID},
			{Name: "title", Type: schema.TypeText, MaxLen: 200},
			{Name: "body", Type: schema.TypeText, Nullable: true},
			{Name: "status", Type: schema.TypeEnum,
				Labels: []string{StatusDraft, StatusPublished, StatusArchived}},
			{Name: "tags", Type: schema.TypeArray, Elem: schema.TypeText, Nullable: true},
			{Name: "meta", Type: schema.TypeJSON, Nullable: true},
			{Name: "pinned", Type: schema.TypeBool},
			{Name: "rating", Type: schema.TypeFloat, Nullable: true},
			{Name: "created_at", Type: schema.TypeTimestamptz},
			{Name: "ver", Type: schema.TypeInteger},
		},
		schema.WithVersionColumn("ver"),
	)
}

// NoteLinksTable возвращает дескриптор таблицы note_links.
func NoteLinksTable() (*schema.Table, error) {
	return schema.NewTable("note_links", "id",
		[]schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "note_id", Type: schema.TypeUUID},
			{Name: "target", Type: schema.TypeText, MaxLen: 500},
		},
	)
}
