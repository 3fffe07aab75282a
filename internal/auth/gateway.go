package auth

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"authdesk/internal/config"
	"authdesk/internal/store"
)

const pushBuffer = 64

// Auditor recebe eventos de autenticação para trilha de auditoria
type Auditor interface {
	Record(userID, event, outcome, details string)
}

// GatewayOptions configura o Gateway
type GatewayOptions struct {
	ResetRedirect string
	CacheTTL      time.Duration
	Auditor       Auditor
}

// Gateway normaliza chamadas e eventos do provedor e é o único escritor do
// par identidade/sessão no store. Chamadas diretas e eventos push passam pelo
// mesmo caminho de aplicação, ordenado pelo Seq do provedor.
type Gateway struct {
	provider      Provider
	store         store.ISessionStore
	cache         *QueryCache
	resetRedirect string
	auditor       Auditor

	mu         sync.Mutex
	appliedSeq uint64
	pushGen    uint64

	events    chan Event
	sub       Subscription
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewGateway cria o gateway; Start deve ser chamado para receber eventos push
func NewGateway(provider Provider, sessionStore store.ISessionStore, opts GatewayOptions) *Gateway {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = config.QueryCacheTTL
	}
	return &Gateway{
		provider:      provider,
		store:         sessionStore,
		cache:         NewQueryCache(opts.CacheTTL),
		resetRedirect: opts.ResetRedirect,
		auditor:       opts.Auditor,
		events:        make(chan Event, pushBuffer),
		done:          make(chan struct{}),
	}
}

// Start inscreve o gateway no canal onAuthStateChange do provedor
func (g *Gateway) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		g.sub = g.provider.OnAuthStateChange(func(ev Event) {
			select {
			case g.events <- ev:
			case <-g.done:
			}
		})

		g.wg.Add(1)
		go g.consume(ctx)
		log.Println("[AUTH] Gateway subscribed to provider auth state changes")
	})
}

// Close cancela a inscrição e para o consumidor de eventos
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		if g.sub != nil {
			g.sub.Unsubscribe()
		}
		close(g.done)
	})
	g.wg.Wait()
}

func (g *Gateway) consume(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case ev := <-g.events:
			g.applyPush(ev)
		}
	}
}

// applyPush aplica um evento push; eventos mais antigos que o último aplicado são descartados
func (g *Gateway) applyPush(ev Event) {
	g.mu.Lock()
	if ev.Seq < g.appliedSeq {
		g.mu.Unlock()
		log.Printf("[AUTH] Discarding stale %s event (seq=%d applied=%d)", ev.Name, ev.Seq, g.appliedSeq)
		return
	}
	g.appliedSeq = ev.Seq
	g.pushGen++

	identity, session := NormalizeSession(ev.Session)
	if ev.Name == EventSignedOut {
		identity, session = nil, nil
	}
	g.store.ApplyAuth(identity, session, false)
	g.cache.Invalidate("auth/")
	g.mu.Unlock()

	userID := ""
	if identity != nil {
		userID = identity.ID
	}
	log.Printf("[AUTH] Applied %s event (seq=%d authenticated=%t)", ev.Name, ev.Seq, identity != nil)
	g.audit(userID, string(ev.Name), "ok", "")
}

// applyDirect aplica o resultado de uma chamada direta se nenhum evento mais novo já foi aplicado
func (g *Gateway) applyDirect(seq uint64, identity *store.Identity, session *store.Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq < g.appliedSeq {
		return false
	}
	g.appliedSeq = seq
	// autenticação direta bem-sucedida também resolve o loading de startup
	g.store.ApplyAuth(identity, session, true)
	g.cache.Invalidate("auth/")
	return true
}

// SignIn autentica com email e senha e grava o par identidade/sessão.
// Em falha o store não é alterado.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*Result, error) {
	email = NormalizeEmail(email)
	resp, err := g.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		g.audit("", "SIGN_IN", "error", err.Error())
		return nil, err
	}

	identity, session := NormalizeSession(resp.Session)
	if identity == nil {
		err := newAuthError("signIn", ErrProvider, "", 0)
		g.audit("", "SIGN_IN", "error", err.Error())
		return nil, err
	}
	if !g.applyDirect(resp.Seq, identity, session) {
		log.Printf("[AUTH] Sign in result superseded by a newer auth event (seq=%d)", resp.Seq)
	}
	g.audit(identity.ID, "SIGN_IN", "ok", "")
	return &Result{Identity: identity, Session: session, Email: identity.Email}, nil
}

// SignUp cria a conta. Sem sessão imediata o resultado é PendingVerification
// e o store fica como estava.
func (g *Gateway) SignUp(ctx context.Context, email, password string) (*Result, error) {
	email = NormalizeEmail(email)
	resp, err := g.provider.SignUp(ctx, email, password)
	if err != nil {
		g.audit("", "SIGN_UP", "error", err.Error())
		return nil, err
	}

	identity, session := NormalizeSession(resp.Session)
	if identity == nil {
		pendingID := ""
		if resp.User != nil {
			pendingID = resp.User.ID
		}
		g.audit(pendingID, "SIGN_UP", "pending_verification", "")
		return &Result{PendingVerification: true, Email: email}, nil
	}

	if !g.applyDirect(resp.Seq, identity, session) {
		log.Printf("[AUTH] Sign up result superseded by a newer auth event (seq=%d)", resp.Seq)
	}
	g.audit(identity.ID, "SIGN_UP", "ok", "")
	return &Result{Identity: identity, Session: session, Email: identity.Email}, nil
}

// SignOut encerra a sessão no provedor e só então limpa o store e o cache.
// Em falha o usuário continua autenticado localmente e o erro é retornado.
func (g *Gateway) SignOut(ctx context.Context) error {
	userID := ""
	if st := g.store.Snapshot(); st.Identity != nil {
		userID = st.Identity.ID
	}

	seq, err := g.provider.SignOut(ctx)
	if err != nil {
		log.Printf("[AUTH] Sign out failed, keeping local session: %v", err)
		g.audit(userID, "SIGN_OUT", "error", err.Error())
		return err
	}

	g.mu.Lock()
	if seq > g.appliedSeq {
		g.appliedSeq = seq
	}
	g.store.Clear()
	g.cache.Clear()
	g.mu.Unlock()

	g.audit(userID, "SIGN_OUT", "ok", "")
	return nil
}

// ResetPasswordRequest pede ao provedor o email de redefinição de senha.
// Não altera o store.
func (g *Gateway) ResetPasswordRequest(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := g.provider.ResetPasswordForEmail(ctx, email, g.resetRedirect); err != nil {
		g.audit("", "PASSWORD_RESET_REQUEST", "error", err.Error())
		return err
	}
	g.audit("", "PASSWORD_RESET_REQUEST", "ok", "")
	return nil
}

// RestoreSession consulta a sessão existente uma vez no startup. Sempre encerra
// com IsLoading=false e IsInitialized=true; o par só é gravado em sucesso e se
// nenhum evento push foi aplicado enquanto a chamada estava em voo.
func (g *Gateway) RestoreSession(ctx context.Context) error {
	g.mu.Lock()
	gen := g.pushGen
	g.mu.Unlock()

	resp, err := g.provider.GetSession(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil {
		log.Printf("[AUTH] Session restore failed: %v", err)
		g.store.Resolve()
		g.audit("", "RESTORE_SESSION", "error", err.Error())
		return err
	}
	if g.pushGen != gen || resp.Seq < g.appliedSeq {
		log.Printf("[AUTH] Discarding stale session restore (seq=%d applied=%d)", resp.Seq, g.appliedSeq)
		g.store.Resolve()
		g.audit("", "RESTORE_SESSION", "ignored", "superseded by auth event")
		return nil
	}

	identity, session := NormalizeSession(resp.Session)
	g.appliedSeq = resp.Seq
	g.store.ApplyAuth(identity, session, true)
	g.cache.Invalidate("auth/")

	userID := ""
	if identity != nil {
		userID = identity.ID
	}
	log.Printf("[AUTH] Session restored (authenticated=%t)", identity != nil)
	g.audit(userID, "RESTORE_SESSION", "ok", "")
	return nil
}

// CurrentIdentity retorna o usuário atual do provedor (cacheado em auth/user).
// Retorna nil sem erro quando não há sessão.
func (g *Gateway) CurrentIdentity(ctx context.Context) (*store.Identity, error) {
	if cached, ok := g.cache.Get(cacheKeyUser); ok {
		if identity, ok := cached.(*store.Identity); ok {
			return identity, nil
		}
	}

	gen := g.cache.Generation()
	user, err := g.provider.GetUser(ctx)
	if err != nil {
		if errors.Is(err, ErrSessionMissing) {
			return nil, nil
		}
		return nil, err
	}
	identity := NormalizeUser(user)
	if !g.cache.SetIfGeneration(cacheKeyUser, identity, gen) && !g.store.Snapshot().IsAuthenticated() {
		// sign-out durante a consulta: o resultado não pode ser servido
		log.Println("[AUTH] Dropping identity lookup superseded by sign out")
		return nil, nil
	}
	return identity, nil
}

// CurrentSession retorna a sessão atual do provedor (cacheada em auth/session)
func (g *Gateway) CurrentSession(ctx context.Context) (*store.Session, error) {
	if cached, ok := g.cache.Get(cacheKeySession); ok {
		if session, ok := cached.(*store.Session); ok {
			return session, nil
		}
	}

	gen := g.cache.Generation()
	resp, err := g.provider.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	_, session := NormalizeSession(resp.Session)
	if session != nil && !g.cache.SetIfGeneration(cacheKeySession, session, gen) && !g.store.Snapshot().IsAuthenticated() {
		log.Println("[AUTH] Dropping session lookup superseded by sign out")
		return nil, nil
	}
	return session, nil
}

// Cache expõe o cache de consultas (usado pelo host para invalidação manual)
func (g *Gateway) Cache() *QueryCache {
	return g.cache
}

func (g *Gateway) audit(userID, event, outcome, details string) {
	if g.auditor == nil {
		return
	}
	g.auditor.Record(userID, event, outcome, details)
}

// NormalizeEmail remove espaços e converte para minúsculas
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
