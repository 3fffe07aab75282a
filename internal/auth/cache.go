package auth

import (
	"strings"
	"sync"
	"time"
)

const (
	cacheKeyUser    = "auth/user"
	cacheKeySession = "auth/session"
)

// QueryCache implementa um cache em memória com TTL para leituras do provedor.
// Mudanças de autenticação invalidam tudo sob o prefixo "auth/".
type QueryCache struct {
	mu        sync.RWMutex
	entries   map[string]any
	updatedAt map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	// generation muda a cada Invalidate/Clear; gravações iniciadas antes disso são descartadas
	generation uint64
}

// NewQueryCache cria um novo cache com TTL
func NewQueryCache(ttl time.Duration) *QueryCache {
	return &QueryCache{
		entries:   make(map[string]any),
		updatedAt: make(map[string]time.Time),
		ttl:       ttl,
		now:       time.Now,
	}
}

// isExpired verifica se uma entrada do cache expirou
func (c *QueryCache) isExpired(key string) bool {
	t, ok := c.updatedAt[key]
	if !ok {
		return true
	}
	return c.now().Sub(t) > c.ttl
}

// Get retorna o valor cacheado se ainda válido
func (c *QueryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isExpired(key) {
		return nil, false
	}
	v, ok := c.entries[key]
	return v, ok
}

// Set armazena um valor no cache
func (c *QueryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = value
	c.updatedAt[key] = c.now()
}

// Generation retorna a geração atual do cache; leia antes de consultar o provedor
func (c *QueryCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// SetIfGeneration grava só se nenhuma invalidação aconteceu desde gen
func (c *QueryCache) SetIfGeneration(key string, value any, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		return false
	}
	c.entries[key] = value
	c.updatedAt[key] = c.now()
	return true
}

// Invalidate remove todas as entradas que começam com prefix
func (c *QueryCache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			delete(c.updatedAt, key)
		}
	}
}

// Clear esvazia o cache
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.entries = make(map[string]any)
	c.updatedAt = make(map[string]time.Time)
}

// GetUpdatedAt retorna quando uma chave foi gravada pela última vez
func (c *QueryCache) GetUpdatedAt(key string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if t, ok := c.updatedAt[key]; ok {
		return t
	}
	return time.Time{}
}
