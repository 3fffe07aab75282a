package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"authdesk/internal/config"
	"authdesk/internal/security"
	"authdesk/internal/store"

	"github.com/google/uuid"
)

const maxResponseBytes = 1 << 20

// GoTrueOptions configura o cliente do provedor
type GoTrueOptions struct {
	BaseURL    string
	AnonKey    string
	Backend    store.Backend
	StorageKey string
	HTTPClient *http.Client
	Now        func() time.Time
}

// GoTrueClient implementa Provider contra a API REST do Supabase Auth (GoTrue).
// Mantém o próprio par de tokens persistido e emite eventos de mudança de estado
// em ordem, por uma goroutine de despacho.
type GoTrueClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	backend    store.Backend
	storageKey string
	now        func() time.Time
	sanitizer  *security.LogSanitizer

	mu      sync.Mutex
	session *ProviderSession
	seq     uint64

	refreshMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[uuid.UUID]func(Event)

	queueMu sync.Mutex
	queue   []Event
	wake    chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Provider = (*GoTrueClient)(nil)

// NewGoTrueClient cria o cliente e carrega a sessão persistida (se houver)
func NewGoTrueClient(opts GoTrueOptions) *GoTrueClient {
	if opts.Backend == nil {
		opts.Backend = store.NewMemoryBackend()
	}
	if opts.StorageKey == "" {
		opts.StorageKey = config.ProviderStorageKey
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: config.ProviderRequestTimeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &GoTrueClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		anonKey:    opts.AnonKey,
		httpClient: opts.HTTPClient,
		backend:    opts.Backend,
		storageKey: opts.StorageKey,
		now:        opts.Now,
		sanitizer:  security.NewLogSanitizer(),
		subs:       make(map[uuid.UUID]func(Event)),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	if persisted, err := c.loadPersisted(); err != nil {
		log.Printf("[AUTH] Warning: could not load persisted provider session: %v", err)
	} else {
		c.session = persisted
	}

	c.wg.Add(1)
	go c.dispatchLoop()
	return c
}

// Close para o despacho de eventos e o auto refresh
func (c *GoTrueClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

// === Provider ===

// SignInWithPassword troca email+senha por uma sessão (grant_type=password)
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error) {
	const op = "signInWithPassword"
	query := url.Values{"grant_type": {"password"}}
	status, body, err := c.do(ctx, op, http.MethodPost, "/auth/v1/token", query, map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyProviderError(op, status, body)
	}

	ps, err := c.decodeSession(op, body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	ev := c.setSessionLocked(ps, EventSignedIn, true)
	c.mu.Unlock()

	log.Printf("[AUTH] Signed in user %s", ps.User.ID)
	return &AuthResponse{Session: ps.clone(), User: &ps.User, Seq: ev.Seq}, nil
}

// SignUp cria a conta; sem confirmação automática o provedor retorna só o usuário
func (c *GoTrueClient) SignUp(ctx context.Context, email, password string) (*AuthResponse, error) {
	const op = "signUp"
	status, body, err := c.do(ctx, op, http.MethodPost, "/auth/v1/signup", nil, map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, classifyProviderError(op, status, body)
	}

	var payload struct {
		ProviderSession
		ID           string         `json:"id"`
		Email        string         `json:"email"`
		UserMetadata map[string]any `json:"user_metadata"`
		CreatedAt    string         `json:"created_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, newAuthError(op, ErrProvider, "", status)
	}

	if payload.AccessToken != "" {
		ps := payload.ProviderSession
		ps.stampExpiry(c.now())
		c.mu.Lock()
		ev := c.setSessionLocked(&ps, EventSignedIn, true)
		c.mu.Unlock()
		log.Printf("[AUTH] Signed up user %s with active session", ps.User.ID)
		return &AuthResponse{Session: ps.clone(), User: &ps.User, Seq: ev.Seq}, nil
	}

	user := &ProviderUser{ID: payload.ID, Email: payload.Email, UserMetadata: payload.UserMetadata, CreatedAt: payload.CreatedAt}
	if user.ID == "" && payload.User.ID != "" {
		u := payload.User
		user = &u
	}
	c.mu.Lock()
	seq := c.seq
	c.mu.Unlock()
	log.Printf("[AUTH] Sign up pending email confirmation (user=%s)", user.ID)
	return &AuthResponse{User: user, Seq: seq}, nil
}

// SignOut revoga a sessão no servidor e só então limpa a sessão local.
// 401/403/404 significam que o servidor já não conhece a sessão.
func (c *GoTrueClient) SignOut(ctx context.Context) (uint64, error) {
	const op = "signOut"

	c.mu.Lock()
	current := c.session.clone()
	c.mu.Unlock()

	if current != nil {
		query := url.Values{"scope": {"global"}}
		status, body, err := c.do(ctx, op, http.MethodPost, "/auth/v1/logout", query, nil, current.AccessToken)
		if err != nil {
			return 0, err
		}
		switch {
		case status == http.StatusOK || status == http.StatusNoContent:
		case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound:
			log.Printf("[AUTH] Sign out: session already invalid on server (status=%d)", status)
		default:
			return 0, classifyProviderError(op, status, body)
		}
	}

	c.mu.Lock()
	ev := c.setSessionLocked(nil, EventSignedOut, true)
	c.mu.Unlock()
	log.Println("[AUTH] Signed out")
	return ev.Seq, nil
}

// ResetPasswordForEmail pede o email de reset com PKCE; o verifier fica persistido
// até o redirect voltar para o app.
func (c *GoTrueClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	const op = "resetPasswordForEmail"

	pkce, err := GeneratePKCE()
	if err != nil {
		return fmt.Errorf("failed to generate PKCE: %w", err)
	}
	if err := c.backend.SetItem(c.verifierKey(), []byte(pkce.CodeVerifier)); err != nil {
		log.Printf("[AUTH] Warning: failed to persist code verifier: %v", err)
	}

	var query url.Values
	if strings.TrimSpace(redirectTo) != "" {
		query = url.Values{"redirect_to": {redirectTo}}
	}
	status, body, err := c.do(ctx, op, http.MethodPost, "/auth/v1/recover", query, map[string]string{
		"email":                 email,
		"code_challenge":        pkce.CodeChallenge,
		"code_challenge_method": "s256",
	}, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return classifyProviderError(op, status, body)
	}
	return nil
}

// GetSession retorna a sessão atual, renovando-a se expirada.
// Refresh rejeitado pelo servidor encerra a sessão (SIGNED_OUT) sem erro.
func (c *GoTrueClient) GetSession(ctx context.Context) (*AuthResponse, error) {
	c.mu.Lock()
	current := c.session.clone()
	seq := c.seq
	c.mu.Unlock()

	if current == nil {
		return &AuthResponse{Seq: seq}, nil
	}
	if !c.needsRefresh(current) {
		return &AuthResponse{Session: current, User: &current.User, Seq: seq}, nil
	}

	refreshed, refreshedSeq, err := c.refresh(ctx, current)
	if err != nil {
		if isRetryable(err) {
			return nil, err
		}
		return &AuthResponse{Seq: refreshedSeq}, nil
	}
	if refreshed == nil {
		return &AuthResponse{Seq: refreshedSeq}, nil
	}
	return &AuthResponse{Session: refreshed, User: &refreshed.User, Seq: refreshedSeq}, nil
}

// GetUser consulta o perfil do usuário da sessão atual
func (c *GoTrueClient) GetUser(ctx context.Context) (*ProviderUser, error) {
	const op = "getUser"

	c.mu.Lock()
	current := c.session.clone()
	c.mu.Unlock()
	if current == nil {
		return nil, newAuthError(op, ErrSessionMissing, "", 0)
	}
	return c.fetchUser(ctx, current.AccessToken)
}

// OnAuthStateChange registra um callback chamado, em ordem, a cada mudança de sessão
func (c *GoTrueClient) OnAuthStateChange(callback func(Event)) Subscription {
	id := uuid.New()
	c.subsMu.Lock()
	c.subs[id] = callback
	c.subsMu.Unlock()
	return &subscription{client: c, id: id}
}

type subscription struct {
	client *GoTrueClient
	id     uuid.UUID
}

func (s *subscription) Unsubscribe() {
	s.client.subsMu.Lock()
	delete(s.client.subs, s.id)
	s.client.subsMu.Unlock()
}

// === Redirect (link de reset / confirmação) ===

// HandleRedirect processa o deep link de retorno do email.
// Aceita ?code= (PKCE) ou #access_token=... (implicit).
func (c *GoTrueClient) HandleRedirect(ctx context.Context, rawURL string) (*AuthResponse, error) {
	const op = "handleRedirect"

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, newAuthError(op, ErrProvider, "Invalid redirect link", 0)
	}
	query := parsed.Query()
	fragment, _ := url.ParseQuery(parsed.Fragment)

	if desc := firstNonEmpty(query.Get("error_description"), fragment.Get("error_description")); desc != "" {
		return nil, newAuthError(op, ErrProvider, desc, 0)
	}

	event := EventSignedIn
	if firstNonEmpty(query.Get("type"), fragment.Get("type")) == "recovery" || strings.Contains(parsed.Host+parsed.Path, "reset-password") {
		event = EventPasswordRecovery
	}

	if code := query.Get("code"); code != "" {
		return c.exchangeCode(ctx, code, event)
	}

	accessToken := fragment.Get("access_token")
	if accessToken == "" {
		return nil, newAuthError(op, ErrSessionMissing, "Redirect link has no session", 0)
	}

	user, err := c.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	ps := &ProviderSession{
		AccessToken:  accessToken,
		RefreshToken: fragment.Get("refresh_token"),
		TokenType:    firstNonEmpty(fragment.Get("token_type"), "bearer"),
		User:         *user,
	}
	if v, convErr := parseInt64(fragment.Get("expires_at")); convErr == nil {
		ps.ExpiresAt = v
	}
	if v, convErr := parseInt64(fragment.Get("expires_in")); convErr == nil {
		ps.ExpiresIn = v
	}
	ps.stampExpiry(c.now())

	c.mu.Lock()
	ev := c.setSessionLocked(ps, event, true)
	c.mu.Unlock()
	return &AuthResponse{Session: ps.clone(), User: &ps.User, Seq: ev.Seq}, nil
}

// exchangeCode troca o authorization code + code_verifier por tokens (grant_type=pkce)
func (c *GoTrueClient) exchangeCode(ctx context.Context, code string, event EventName) (*AuthResponse, error) {
	const op = "exchangeCodeForSession"

	verifier, ok, err := c.backend.GetItem(c.verifierKey())
	if err != nil || !ok || len(verifier) == 0 {
		return nil, newAuthError(op, ErrSessionMissing, "No password reset request found on this device", 0)
	}

	query := url.Values{"grant_type": {"pkce"}}
	status, body, err := c.do(ctx, op, http.MethodPost, "/auth/v1/token", query, map[string]string{
		"auth_code":     code,
		"code_verifier": string(verifier),
	}, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyProviderError(op, status, body)
	}

	ps, err := c.decodeSession(op, body)
	if err != nil {
		return nil, err
	}
	if err := c.backend.RemoveItem(c.verifierKey()); err != nil {
		log.Printf("[AUTH] Warning: failed to remove code verifier: %v", err)
	}

	c.mu.Lock()
	ev := c.setSessionLocked(ps, event, true)
	c.mu.Unlock()
	return &AuthResponse{Session: ps.clone(), User: &ps.User, Seq: ev.Seq}, nil
}

// === Internals ===

func (c *GoTrueClient) verifierKey() string {
	return c.storageKey + "-code-verifier"
}

func (c *GoTrueClient) decodeSession(op string, body []byte) (*ProviderSession, error) {
	var ps ProviderSession
	if err := json.Unmarshal(body, &ps); err != nil {
		return nil, newAuthError(op, ErrProvider, "", http.StatusOK)
	}
	if ps.AccessToken == "" || ps.User.ID == "" {
		return nil, newAuthError(op, ErrProvider, "", http.StatusOK)
	}
	ps.stampExpiry(c.now())
	return &ps, nil
}

func (c *GoTrueClient) fetchUser(ctx context.Context, accessToken string) (*ProviderUser, error) {
	const op = "getUser"
	status, body, err := c.do(ctx, op, http.MethodGet, "/auth/v1/user", nil, nil, accessToken)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyProviderError(op, status, body)
	}
	var user ProviderUser
	if err := json.Unmarshal(body, &user); err != nil || user.ID == "" {
		return nil, newAuthError(op, ErrProvider, "", status)
	}
	return &user, nil
}

func (c *GoTrueClient) needsRefresh(ps *ProviderSession) bool {
	exp := ps.expiry()
	if exp.IsZero() {
		return false
	}
	return !c.now().Add(config.RefreshMargin).Before(exp)
}

// refresh renova a sessão com o refresh token. Refreshes concorrentes são
// serializados; quem chega depois reaproveita o resultado.
func (c *GoTrueClient) refresh(ctx context.Context, current *ProviderSession) (*ProviderSession, uint64, error) {
	const op = "refreshSession"

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	if c.session == nil || c.session.RefreshToken != current.RefreshToken {
		latest, seq := c.session.clone(), c.seq
		c.mu.Unlock()
		return latest, seq, nil
	}
	c.mu.Unlock()

	query := url.Values{"grant_type": {"refresh_token"}}
	status, body, err := c.do(ctx, op, http.MethodPost, "/auth/v1/token", query, map[string]string{
		"refresh_token": current.RefreshToken,
	}, "")
	if err == nil && status != http.StatusOK {
		err = classifyProviderError(op, status, body)
	}
	if err != nil {
		if isRetryable(err) {
			log.Printf("[AUTH] Refresh failed, keeping session: %v", err)
			c.mu.Lock()
			seq := c.seq
			c.mu.Unlock()
			return nil, seq, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.session != nil && c.session.RefreshToken == current.RefreshToken {
			log.Printf("[AUTH] Refresh token rejected, signing out: %v", err)
			ev := c.setSessionLocked(nil, EventSignedOut, true)
			return nil, ev.Seq, err
		}
		return nil, c.seq, err
	}

	var ps ProviderSession
	if jsonErr := json.Unmarshal(body, &ps); jsonErr != nil || ps.AccessToken == "" {
		return nil, 0, newAuthError(op, ErrProvider, "", status)
	}
	if ps.User.ID == "" {
		ps.User = current.User
	}
	ps.stampExpiry(c.now())

	c.mu.Lock()
	ev := c.setSessionLocked(&ps, EventTokenRefreshed, true)
	c.mu.Unlock()
	log.Printf("[AUTH] Token refreshed for user %s", ps.User.ID)
	return ps.clone(), ev.Seq, nil
}

// StartAutoRefresh renova a sessão antes de expirar até ctx ou Close encerrarem
func (c *GoTrueClient) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.RefreshTickInterval
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-ticker.C:
				c.autoRefreshTick(ctx)
			}
		}
	}()
}

func (c *GoTrueClient) autoRefreshTick(ctx context.Context) {
	c.mu.Lock()
	current := c.session.clone()
	c.mu.Unlock()
	if current == nil || !c.needsRefresh(current) {
		return
	}
	if _, _, err := c.refresh(ctx, current); err != nil {
		log.Printf("[AUTH] Auto refresh error: %s", c.sanitizer.Sanitize(err.Error()))
	}
}

// SyncFromStorage relê o par de tokens persistido (outra instância pode tê-lo
// alterado) e emite o evento correspondente se ele divergir da memória.
func (c *GoTrueClient) SyncFromStorage() {
	stored, err := c.loadPersisted()
	if err != nil {
		log.Printf("[AUTH] Warning: storage sync read failed: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.session
	var event EventName
	switch {
	case stored == nil && current == nil:
		return
	case stored == nil:
		event = EventSignedOut
	case current == nil || stored.User.ID != current.User.ID:
		event = EventSignedIn
	case stored.AccessToken != current.AccessToken:
		event = EventTokenRefreshed
	case !sameUser(stored.User, current.User):
		event = EventUserUpdated
	default:
		return
	}
	log.Printf("[AUTH] Storage changed externally: %s", event)
	c.setSessionLocked(stored, event, false)
}

// setSessionLocked troca a sessão em memória, persiste e enfileira o evento.
// Deve ser chamado com c.mu travado.
func (c *GoTrueClient) setSessionLocked(ps *ProviderSession, name EventName, persist bool) Event {
	c.session = ps.clone()
	c.seq++
	if persist {
		c.persistLocked()
	}
	ev := Event{Name: name, Session: ps.clone(), Seq: c.seq}
	c.enqueue(ev)
	return ev
}

func (c *GoTrueClient) persistLocked() {
	if c.session == nil {
		if err := c.backend.RemoveItem(c.storageKey); err != nil {
			log.Printf("[AUTH] Warning: failed to remove persisted session: %v", err)
		}
		return
	}
	raw, err := json.Marshal(c.session)
	if err != nil {
		log.Printf("[AUTH] Warning: failed to encode session: %v", err)
		return
	}
	if err := c.backend.SetItem(c.storageKey, raw); err != nil {
		log.Printf("[AUTH] Warning: failed to persist session: %v", err)
	}
}

func (c *GoTrueClient) loadPersisted() (*ProviderSession, error) {
	raw, ok, err := c.backend.GetItem(c.storageKey)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var ps ProviderSession
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil, fmt.Errorf("decode persisted session: %w", err)
	}
	if ps.AccessToken == "" {
		return nil, nil
	}
	return &ps, nil
}

func (c *GoTrueClient) enqueue(ev Event) {
	c.queueMu.Lock()
	c.queue = append(c.queue, ev)
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *GoTrueClient) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.queueMu.Lock()
			if len(c.queue) == 0 {
				c.queueMu.Unlock()
				break
			}
			ev := c.queue[0]
			c.queue = c.queue[1:]
			c.queueMu.Unlock()
			c.deliver(ev)
		}
	}
}

func (c *GoTrueClient) deliver(ev Event) {
	c.subsMu.RLock()
	callbacks := make([]func(Event), 0, len(c.subs))
	for _, cb := range c.subs {
		callbacks = append(callbacks, cb)
	}
	c.subsMu.RUnlock()

	for _, cb := range callbacks {
		cb(Event{Name: ev.Name, Session: ev.Session.clone(), Seq: ev.Seq})
	}
}

// do executa uma chamada HTTP ao GoTrue. Erros de transporte viram AuthError(ErrNetwork);
// status HTTP de erro ficam a cargo do chamador.
func (c *GoTrueClient) do(ctx context.Context, op, method, path string, query url.Values, payload any, bearer string) (int, []byte, error) {
	if c.baseURL == "" {
		return 0, nil, newAuthError(op, ErrNotConfigured, "", 0)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.anonKey)
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, nil, err
		}
		log.Printf("[AUTH] %s request failed: %s", op, c.sanitizer.Sanitize(err.Error()))
		return 0, nil, networkError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, networkError(op, err)
	}
	if resp.StatusCode >= 400 {
		log.Printf("[AUTH] %s failed: status=%d message=%q", op, resp.StatusCode, summarizeAuthErrorBody(body))
	}
	return resp.StatusCode, body, nil
}

func sameUser(a, b ProviderUser) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseInt64(raw string) (int64, error) {
	var v int64
	_, err := fmt.Sscan(raw, &v)
	return v, err
}
