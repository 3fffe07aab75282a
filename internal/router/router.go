package router

import (
	"log"
	"sync"

	"authdesk/internal/store"
)

// View é a tela de topo apresentada pela UI
type View string

const (
	ViewLoading        View = "loading"
	ViewLogin          View = "login"
	ViewSignUp         View = "signup"
	ViewForgotPassword View = "forgot-password"
	ViewAuthenticated  View = "authenticated"
)

// Router seleciona a view a partir do estado de autenticação.
// Precedência: loading > autenticado > última seleção do usuário (default Login).
type Router struct {
	mu          sync.Mutex
	selected    View
	current     View
	loading     bool
	authed      bool
	initialized bool
	revision    uint64
	handlers    []func(View)
	unsubscribe func()
}

// New cria o router no estado inicial Loading
func New() *Router {
	return &Router{
		selected: ViewLogin,
		current:  ViewLoading,
		loading:  true,
	}
}

// Bind passa a reavaliar a view a cada mudança do store
func (r *Router) Bind(s *store.Store) {
	r.mu.Lock()
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.mu.Unlock()

	unsubscribe := s.Subscribe(r.Update)

	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	r.Update(s.Snapshot())
}

// Unbind cancela a inscrição no store
func (r *Router) Unbind() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Update aplica um snapshot do store. Snapshots com Revision menor ou igual
// ao último aplicado chegaram fora de ordem e são ignorados; Revision 0 não
// é versionado e sempre se aplica.
func (r *Router) Update(st store.State) {
	r.mu.Lock()
	if st.Revision != 0 {
		if st.Revision <= r.revision {
			r.mu.Unlock()
			return
		}
		r.revision = st.Revision
	}
	if st.IsInitialized && !st.IsLoading {
		r.initialized = true
	}
	// depois de inicializado o router nunca volta para Loading
	r.loading = st.IsLoading && !r.initialized
	r.authed = st.IsAuthenticated()
	r.reselectLocked()
}

// OnChange registra um observer chamado quando a view muda
func (r *Router) OnChange(handler func(View)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler)
}

// Current retorna a view atual
func (r *Router) Current() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Selected retorna a última view não autenticada escolhida pelo usuário
func (r *Router) Selected() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// === Navegação ===

func (r *Router) SwitchToSignUp()     { r.navigate(ViewSignUp) }
func (r *Router) SwitchToLogin()      { r.navigate(ViewLogin) }
func (r *Router) GoToForgotPassword() { r.navigate(ViewForgotPassword) }
func (r *Router) BackToLogin()        { r.navigate(ViewLogin) }

// navigate só altera a seleção fora do estado autenticado
func (r *Router) navigate(target View) {
	r.mu.Lock()
	if r.current == ViewAuthenticated {
		r.mu.Unlock()
		log.Printf("[ROUTER] Ignoring navigation to %s while authenticated", target)
		return
	}
	r.selected = target
	r.reselectLocked()
}

// reselectLocked recalcula a view e libera o lock antes de notificar
func (r *Router) reselectLocked() {
	var next View
	switch {
	case r.loading:
		next = ViewLoading
	case r.authed:
		next = ViewAuthenticated
	default:
		next = r.selected
	}

	changed := next != r.current
	r.current = next
	handlers := make([]func(View), len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	if !changed {
		return
	}
	log.Printf("[ROUTER] View changed: %s", next)
	for _, handler := range handlers {
		handler(next)
	}
}
