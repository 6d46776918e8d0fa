// logging.go — slog-журнал обработанных HTTP-запросов сервиса заметок.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// accessWriter перехватывает статус-код и объём тела ответа.
type accessWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (aw *accessWriter) WriteHeader(code int) {
	aw.status = code
	aw.ResponseWriter.WriteHeader(code)
}

func (aw *accessWriter) Write(b []byte) (int, error) {
	n, err := aw.ResponseWriter.Write(b)
	aw.size += int64(n)
	return n, err
}

// Unwrap отдаёт исходный ResponseWriter для http.ResponseController.
func (aw *accessWriter) Unwrap() http.ResponseWriter {
	return aw.ResponseWriter
}

// RequestLogger возвращает middleware, пишущий запись о каждом
// обработанном запросе. Ошибки клиента логируются как WARN,
// ошибки сервиса — как ERROR.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			aw := &accessWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(aw, r)

			var level slog.Level
			switch {
			case aw.status >= http.StatusInternalServerError:
				level = slog.LevelError
			case aw.status >= http.StatusBadRequest:
				level = slog.LevelWarn
			default:
				level = slog.LevelInfo
			}

			logger.LogAttrs(r.Context(), level, "Запрос обработан",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("size", aw.size),
				slog.Duration("elapsed", time.Since(started)),
				slog.String("client", r.RemoteAddr),
			)
		})
	}
}
