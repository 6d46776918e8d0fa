// notes.go — REST-обработчики CRUD заметок поверх адаптера ресурса.
// Демонстрирует все пять операций адаптера и маппинг доменных ошибок
// в HTTP-статусы.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mperativ/fondat-postgresql/codec"
	"github.com/mperativ/fondat-postgresql/internal/demo/model"
	"github.com/mperativ/fondat-postgresql/pool"
	"github.com/mperativ/fondat-postgresql/resource"
	"github.com/mperativ/fondat-postgresql/sqlbuild"
	"github.com/mperativ/fondat-postgresql/tx"
)

// NotesHandler — обработчики /api/v1/notes.
type NotesHandler struct {
	notes  *resource.Adapter[model.Note]
	logger *slog.Logger
}

// NewNotesHandler создаёт обработчики заметок.
func NewNotesHandler(notes *resource.Adapter[model.Note], logger *slog.Logger) *NotesHandler {
	return &NotesHandler{notes: notes, logger: logger}
}

// noteBody — тело запроса создания заметки.
type noteBody struct {
	Title  string         `json:"title"`
	Body   *string        `json:"body,omitempty"`
	Status string         `json:"status"`
	Tags   []string       `json:"tags,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
	Pinned bool           `json:"pinned"`
	Rating *float64       `json:"rating,omitempty"`
}

// listResponse — страница заметок с курсором следующей страницы.
type listResponse struct {
	Items  []model.Note `json:"items"`
	Cursor string       `json:"cursor,omitempty"`
}

// Get — GET /api/v1/notes/{id}.
func (h *NotesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, fmt.Errorf("некорректный id: %w", err))
		return
	}
	note, err := h.notes.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// List — GET /api/v1/notes.
// Параметры: status, pinned, order, desc, limit, cursor.
func (h *NotesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter sqlbuild.Filter
	if status := q.Get("status"); status != "" {
		filter = append(filter, sqlbuild.Eq("status", status))
	}
	if pinned := q.Get("pinned"); pinned != "" {
		b, err := strconv.ParseBool(pinned)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, fmt.Errorf("некорректный pinned: %q", pinned))
			return
		}
		filter = append(filter, sqlbuild.Eq("pinned", b))
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.logger, http.StatusBadRequest, fmt.Errorf("некорректный limit: %q", raw))
			return
		}
		limit = n
	}

	desc := false
	if raw := q.Get("desc"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, fmt.Errorf("некорректный desc: %q", raw))
			return
		}
		desc = b
	}

	page, err := h.notes.List(r.Context(), resource.Query{
		Filter:  filter,
		OrderBy: q.Get("order"),
		Desc:    desc,
		Limit:   limit,
		Cursor:  q.Get("cursor"),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: page.Items, Cursor: page.Cursor})
}

// Create — POST /api/v1/notes.
func (h *NotesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body noteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, fmt.Errorf("некорректное тело запроса: %w", err))
		return
	}

	note := model.Note{
		ID:        uuid.New(),
		Title:     body.Title,
		Body:      body.Body,
		Status:    body.Status,
		Tags:      body.Tags,
		Meta:      body.Meta,
		Pinned:    body.Pinned,
		Rating:    body.Rating,
		CreatedAt: time.Now().UTC(),
	}
	saved, err := h.notes.Insert(r.Context(), note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// Patch — PATCH /api/v1/notes/{id}.
// Обновляются только присутствующие в теле поля; заголовок If-Match
// задаёт ожидаемую версию для optimistic locking.
func (h *NotesHandler) Patch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, fmt.Errorf("некорректный id: %w", err))
		return
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, fmt.Errorf("некорректное тело запроса: %w", err))
		return
	}
	patch, err := patchDocument(raw)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var expectedVersion *int64
	if match := r.Header.Get("If-Match"); match != "" {
		v, err := strconv.ParseInt(match, 10, 64)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, fmt.Errorf("некорректный If-Match: %q", match))
			return
		}
		expectedVersion = &v
	}

	saved, err := h.notes.Patch(r.Context(), id, patch, expectedVersion)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// Delete — DELETE /api/v1/notes/{id}.
func (h *NotesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, fmt.Errorf("некорректный id: %w", err))
		return
	}
	if err := h.notes.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// patchDocument переводит JSON-тело PATCH в patch-документ по столбцам.
// Поле, присутствующее со значением null, означает установку NULL.
func patchDocument(raw map[string]json.RawMessage) (map[string]any, error) {
	patch := make(map[string]any, len(raw))
	for field, msg := range raw {
		switch field {
		case "title", "status":
			var s string
			if err := json.Unmarshal(msg, &s); err != nil {
				return nil, fmt.Errorf("поле %q: ожидалась строка", field)
			}
			patch[field] = s
		case "body":
			var s *string
			if err := json.Unmarshal(msg, &s); err != nil {
				return nil, fmt.Errorf("поле %q: ожидалась строка или null", field)
			}
			patch[field] = deref(s)
		case "tags":
			var tags []string
			if err := json.Unmarshal(msg, &tags); err != nil {
				return nil, fmt.Errorf("поле %q: ожидался массив строк", field)
			}
			patch[field] = anyOrNil(tags != nil, tags)
		case "meta":
			var m map[string]any
			if err := json.Unmarshal(msg, &m); err != nil {
				return nil, fmt.Errorf("поле %q: ожидался объект", field)
			}
			patch[field] = anyOrNil(m != nil, m)
		case "pinned":
			var b bool
			if err := json.Unmarshal(msg, &b); err != nil {
				return nil, fmt.Errorf("поле %q: ожидалось bool", field)
			}
			patch[field] = b
		case "rating":
			var f *float64
			if err := json.Unmarshal(msg, &f); err != nil {
				return nil, fmt.Errorf("поле %q: ожидалось число или null", field)
			}
			patch[field] = derefFloat(f)
		default:
			return nil, fmt.Errorf("поле %q не обновляется через patch", field)
		}
	}
	return patch, nil
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func derefFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func anyOrNil(present bool, v any) any {
	if !present {
		return nil
	}
	return v
}

// writeDomainError переводит доменную ошибку адаптера в HTTP-статус.
func (h *NotesHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resource.ErrNotFound):
		writeError(w, h.logger, http.StatusNotFound, err)
	case errors.Is(err, resource.ErrConcurrency):
		writeError(w, h.logger, http.StatusPreconditionFailed, err)
	case errors.Is(err, resource.ErrConflict), errors.Is(err, resource.ErrReference):
		writeError(w, h.logger, http.StatusConflict, err)
	case errors.Is(err, sqlbuild.ErrFilter), errors.Is(err, sqlbuild.ErrCursor),
		errors.Is(err, codec.ErrUnsupportedValue):
		writeError(w, h.logger, http.StatusBadRequest, err)
	case errors.Is(err, pool.ErrAcquireTimeout), errors.Is(err, tx.ErrConnectionLost),
		errors.Is(err, resource.ErrSerialization):
		writeError(w, h.logger, http.StatusServiceUnavailable, err)
	default:
		writeError(w, h.logger, http.StatusInternalServerError, err)
	}
}

// writeError логирует и сериализует ошибку.
func writeError(w http.ResponseWriter, logger *slog.Logger, code int, err error) {
	if code >= 500 {
		logger.Error("Ошибка обработки запроса", slog.String("error", err.Error()))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
