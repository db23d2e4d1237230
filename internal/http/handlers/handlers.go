package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"marketplace/auth-service/internal/service"
)

// Handlers агрегирует зависимости HTTP-эндпоинтов.
type Handlers struct {
	service *service.Service
}

func New(s *service.Service) *Handlers {
	return &Handlers{service: s}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// deviceInfo собирает диагностические метки устройства из запроса.
func deviceInfo(r *http.Request) service.DeviceInfo {
	return service.DeviceInfo{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
}

// clientIP — адрес клиента: первый элемент X-Forwarded-For, иначе RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
