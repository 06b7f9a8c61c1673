// Пакет handle — временные ссылки на содержимое файлов (display handles).
//
// Handle — владеемый ресурс: создаётся при выдаче файла наружу,
// разрешается в содержимое по токену через HTTP-мост и должен быть
// явно освобождён владельцем. Реестр не освобождает ссылки сам;
// утечки видны по метрике vault_display_handles_live.
package handle

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
)

// handlesLive — количество неосвобождённых ссылок.
var handlesLive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vault_display_handles_live",
	Help: "Количество выданных и не освобождённых ссылок на содержимое",
})

// PathPrefix — префикс пути ссылки.
const PathPrefix = "/blob/"

// Opener читает содержимое файла в момент обращения по ссылке.
type Opener func(ctx context.Context) (*model.StoredFile, error)

// Handle — ссылка на содержимое одного файла.
type Handle struct {
	Token    string
	URL      string
	FileID   string
	MimeType string

	opener   Opener
	registry *Registry
	released atomic.Bool
}

// Open читает содержимое файла.
func (h *Handle) Open(ctx context.Context) (*model.StoredFile, error) {
	return h.opener(ctx)
}

// Release освобождает ссылку. Повторный вызов ничего не делает.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.registry.remove(h.Token)
}

// Released возвращает true, если ссылка освобождена.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// MarshalJSON сериализует ссылку как её URL.
func (h *Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.URL)
}

// Registry — реестр выданных ссылок.
type Registry struct {
	baseURL string

	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry создаёт реестр. baseURL — адрес HTTP-моста
// (например, "http://127.0.0.1:8090"), может быть пустым.
func NewRegistry(baseURL string) *Registry {
	return &Registry{
		baseURL: strings.TrimRight(baseURL, "/"),
		handles: make(map[string]*Handle),
	}
}

// Mint выдаёт новую ссылку на файл id. Каждый вызов создаёт
// отдельную ссылку, даже для одного и того же файла.
func (r *Registry) Mint(id, mimeType string, opener Opener) *Handle {
	token := uuid.NewString()
	h := &Handle{
		Token:    token,
		URL:      r.baseURL + PathPrefix + token,
		FileID:   id,
		MimeType: mimeType,
		opener:   opener,
		registry: r,
	}

	r.mu.Lock()
	r.handles[token] = h
	r.mu.Unlock()
	handlesLive.Inc()
	return h
}

// Lookup возвращает ссылку по токену.
func (r *Registry) Lookup(token string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[token]
	return h, ok
}

// Live возвращает количество неосвобождённых ссылок.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// ReleaseAll освобождает все ссылки (при остановке).
func (r *Registry) ReleaseAll() int {
	r.mu.RLock()
	all := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		all = append(all, h)
	}
	r.mu.RUnlock()

	for _, h := range all {
		h.Release()
	}
	return len(all)
}

func (r *Registry) remove(token string) {
	r.mu.Lock()
	_, ok := r.handles[token]
	delete(r.handles, token)
	r.mu.Unlock()
	if ok {
		handlesLive.Dec()
	}
}
