package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"authdesk/internal/auth"
	"authdesk/internal/config"
	"authdesk/internal/database"
	fw "authdesk/internal/filewatcher"
	"authdesk/internal/forms"
	"authdesk/internal/router"
	"authdesk/internal/security"
	"authdesk/internal/store"
	"authdesk/internal/validation"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

const (
	deepLinkScheme      = "authdesk"
	deepLinkTimeout     = 20 * time.Second
	shutdownGracePeriod = 3 * time.Second
)

var errRuntimeNotReady = errors.New("runtime not ready")

// App é o host shell: liga store, gateway, router e formulários e expõe os
// bindings para o frontend.
type App struct {
	ctx      context.Context
	settings config.Settings

	db           *database.Service
	backend      store.Backend
	store        *store.Store
	provider     *auth.GoTrueClient
	gateway      *auth.Gateway
	router       *router.Router
	loginForm    *forms.LoginForm
	signUpForm   *forms.SignUpForm
	forgotForm   *forms.ForgotPasswordForm
	fileWatcher  fw.IFileWatcher
	logSanitizer *security.LogSanitizer

	mu           sync.Mutex
	authRevision uint64
	cancel       context.CancelFunc
	unsubscribe  func()
	restoreDone  chan struct{}
}

// NewApp cria a instância do App
func NewApp() *App {
	return &App{logSanitizer: security.NewLogSanitizer()}
}

// Startup é chamado pelo Wails quando o app inicia
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	log.Println("[AUTHDESK] Starting up...")

	// 1. Configuração do ambiente
	a.settings = config.Load()
	if a.settings.ProviderURL == "" {
		log.Println("[AUTHDESK] Warning: AUTHDESK_PROVIDER_URL not set - auth calls will fail")
	}

	// 2. Garantir diretórios existem
	if err := a.settings.EnsureDataDirs(); err != nil {
		log.Printf("[AUTHDESK] Error creating data dirs: %v", err)
	}

	// 3. Banco SQLite (auditoria e, opcionalmente, armazenamento)
	dbService, err := database.NewService(a.settings.DBPath)
	if err != nil {
		log.Printf("[AUTHDESK] Error initializing database: %v", err)
	} else {
		a.db = dbService
		log.Println("[AUTHDESK] Database initialized")
	}

	// 4. Backend de armazenamento local
	backend, watchPath := a.openBackend()

	// 5-10. Store, provedor, gateway, router e formulários
	a.wire(ctx, backend)

	// 11. File Watcher: outra instância pode alterar os tokens persistidos
	if watchPath != "" {
		a.startFileWatcher(watchPath)
	}

	// 12. Restaurar sessão existente (resolve o loading inicial)
	go a.restoreSession()

	log.Println("[AUTHDESK] Startup complete")
}

// openBackend escolhe o backend configurado; sqlite sem banco cai para arquivo
func (a *App) openBackend() (store.Backend, string) {
	switch a.settings.Storage {
	case config.StorageKeyring:
		log.Println("[AUTHDESK] Using OS keyring storage")
		return store.NewKeyringBackend(config.AppBundleID), ""
	case config.StorageSQLite:
		if a.db != nil {
			log.Println("[AUTHDESK] Using SQLite storage")
			return a.db, a.settings.DBPath
		}
		log.Println("[AUTHDESK] SQLite storage unavailable - falling back to file storage")
	}

	fileBackend, err := store.NewFileBackend(a.settings.StorageDir())
	if err != nil {
		log.Printf("[AUTHDESK] Error initializing file storage: %v - using memory", err)
		return store.NewMemoryBackend(), ""
	}
	log.Printf("[AUTHDESK] Using file storage at %s", fileBackend.Dir())
	return fileBackend, fileBackend.Path(config.ProviderStorageKey)
}

// wire monta os serviços sobre o backend informado
func (a *App) wire(ctx context.Context, backend store.Backend) {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.restoreDone = make(chan struct{})
	a.mu.Unlock()
	a.backend = backend

	// 5. Session Store persistido em auth-storage
	a.store = store.New(backend, config.AuthStorageKey)
	if err := a.store.Restore(); err != nil {
		log.Printf("[AUTHDESK] Warning: persisted auth state discarded: %v", err)
	}
	a.store.SetPersistErrorHandler(func(err error) {
		a.emit("auth:error", &auth.ErrorPayload{Kind: "persistence", Message: "Could not save your session on this device."})
	})
	log.Println("[AUTHDESK] Session store initialized")

	// 6. Cliente do provedor + auto refresh
	a.provider = auth.NewGoTrueClient(auth.GoTrueOptions{
		BaseURL: a.settings.ProviderURL,
		AnonKey: a.settings.AnonKey,
		Backend: backend,
	})
	a.provider.StartAutoRefresh(runCtx, config.RefreshTickInterval)
	log.Println("[AUTHDESK] Auth provider client initialized")

	// 7. Gateway (único escritor do par identidade/sessão)
	opts := auth.GatewayOptions{ResetRedirect: a.settings.ResetRedirect, CacheTTL: config.QueryCacheTTL}
	if a.db != nil {
		opts.Auditor = auth.NewDatabaseAuditor(a.db, a.logSanitizer)
	}
	a.gateway = auth.NewGateway(a.provider, a.store, opts)
	a.gateway.Start(runCtx)
	log.Println("[AUTHDESK] Auth gateway initialized")

	// 8. Router derivado do store
	a.router = router.New()
	a.router.OnChange(func(view router.View) {
		a.emit("view:changed", view)
	})
	a.router.Bind(a.store)

	// 9. Estado de auth para a UI
	a.unsubscribe = a.store.Subscribe(func(st store.State) {
		if !a.acceptAuthRevision(st.Revision) {
			return
		}
		a.emit("auth:changed", auth.StateFromStore(st))
	})

	// 10. Formulários
	a.loginForm = forms.NewLoginForm(a.gateway)
	a.signUpForm = forms.NewSignUpForm(a.gateway)
	a.forgotForm = forms.NewForgotPasswordForm(a.gateway)
	for _, form := range []interface{ OnChange(func(forms.State)) }{a.loginForm, a.signUpForm, a.forgotForm} {
		form.OnChange(func(st forms.State) {
			a.emit("form:changed", st)
		})
	}
}

// acceptAuthRevision descarta snapshots do store entregues fora de ordem
func (a *App) acceptAuthRevision(revision uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if revision <= a.authRevision {
		return false
	}
	a.authRevision = revision
	return true
}

func (a *App) startFileWatcher(path string) {
	watcher, err := fw.NewService(func(eventName string, data interface{}) {
		a.emit(eventName, data)
	})
	if err != nil {
		log.Printf("[AUTHDESK] Error initializing FileWatcher: %v", err)
		return
	}
	watcher.OnChange(func(event fw.FileEvent) {
		if a.provider != nil {
			a.provider.SyncFromStorage()
		}
	})
	if err := watcher.Watch(path, config.ProviderStorageKey); err != nil {
		log.Printf("[AUTHDESK] Error watching %s: %v", path, err)
	}
	a.fileWatcher = watcher
	log.Println("[AUTHDESK] FileWatcher initialized")
}

func (a *App) restoreSession() {
	a.mu.Lock()
	done := a.restoreDone
	a.mu.Unlock()
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), config.ProviderRequestTimeout)
	defer cancel()
	if err := a.gateway.RestoreSession(ctx); err != nil {
		a.emit("auth:error", auth.Describe(err))
	}
}

// DomReady is called when the frontend DOM is ready
func (a *App) DomReady(ctx context.Context) {
	log.Println("[AUTHDESK] DOM Ready")

	// janela começa oculta para não piscar antes do primeiro render
	runtime.WindowShow(ctx)
	a.emitHydration()
}

// Shutdown is called when the app is shutting down
func (a *App) Shutdown(ctx context.Context) {
	log.Println("[AUTHDESK] Shutting down...")

	// Formulários desmontados: resultados tardios são descartados
	if a.loginForm != nil {
		a.loginForm.Dispose()
		a.signUpForm.Dispose()
		a.forgotForm.Dispose()
	}

	if a.fileWatcher != nil {
		if err := a.fileWatcher.Close(); err != nil {
			log.Printf("[AUTHDESK] Error closing FileWatcher: %v", err)
		}
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.router != nil {
		a.router.Unbind()
	}

	a.mu.Lock()
	cancel := a.cancel
	done := a.restoreDone
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(shutdownGracePeriod):
			log.Println("[AUTHDESK] Session restore still in flight at shutdown")
		}
	}

	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.provider != nil {
		a.provider.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("[AUTHDESK] Error closing database: %v", err)
		}
	}
	log.Println("[AUTHDESK] Shutdown complete")
}

// emit envia um evento ao frontend; sem runtime (testes) só descarta
func (a *App) emit(eventName string, data interface{}) {
	if a.ctx == nil || strings.TrimSpace(eventName) == "" {
		return
	}
	runtime.EventsEmit(a.ctx, eventName, data)
}

// HydrationPayload é o payload enviado ao frontend no startup
type HydrationPayload struct {
	Auth    *auth.AuthState `json:"auth"`
	View    router.View     `json:"view"`
	Version string          `json:"version"`
}

func (a *App) getHydrationPayload() HydrationPayload {
	return HydrationPayload{
		Auth:    a.GetAuthState(),
		View:    a.GetView(),
		Version: config.AppVersion,
	}
}

// emitHydration envia o estado inicial para o frontend
func (a *App) emitHydration() {
	a.emit("app:hydrated", a.getHydrationPayload())
	log.Println("[AUTHDESK] Hydration emitted")
}

// === Bindings (expostos ao Frontend) ===

// Ping verifica que o processo host está vivo
func (a *App) Ping() string {
	return "pong"
}

// GetAuthState retorna o estado de autenticação sem tokens
func (a *App) GetAuthState() *auth.AuthState {
	if a.store == nil {
		return &auth.AuthState{IsLoading: true}
	}
	return auth.StateFromStore(a.store.Snapshot())
}

// GetView retorna a view atual
func (a *App) GetView() router.View {
	if a.router == nil {
		return router.ViewLoading
	}
	return a.router.Current()
}

// SwitchToSignUp seleciona a view de cadastro; ignorado enquanto autenticado
func (a *App) SwitchToSignUp() router.View {
	a.router.SwitchToSignUp()
	return a.router.Current()
}

// SwitchToLogin seleciona a view de login
func (a *App) SwitchToLogin() router.View {
	a.router.SwitchToLogin()
	return a.router.Current()
}

// GoToForgotPassword abre a recuperação de senha
func (a *App) GoToForgotPassword() router.View {
	a.router.GoToForgotPassword()
	return a.router.Current()
}

// BackToLogin volta da recuperação de senha para o login
func (a *App) BackToLogin() router.View {
	a.router.BackToLogin()
	return a.router.Current()
}

// SubmitLogin valida e autentica; erros chegam no banner do formulário
func (a *App) SubmitLogin(values validation.LoginValues) forms.State {
	_, err := a.loginForm.Submit(a.callContext(), values)
	a.reportFormError("login", err)
	return a.loginForm.Snapshot()
}

// SubmitSignUp valida e cria a conta
func (a *App) SubmitSignUp(values validation.SignUpValues) forms.State {
	_, err := a.signUpForm.Submit(a.callContext(), values)
	a.reportFormError("signup", err)
	return a.signUpForm.Snapshot()
}

// ResetSignUp sai do estado "check your email"
func (a *App) ResetSignUp() forms.State {
	a.signUpForm.Reset()
	return a.signUpForm.Snapshot()
}

// SubmitForgotPassword pede o email de reset de senha
func (a *App) SubmitForgotPassword(values validation.ForgotPasswordValues) forms.State {
	err := a.forgotForm.Submit(a.callContext(), values)
	a.reportFormError("forgot-password", err)
	return a.forgotForm.Snapshot()
}

// ForgotPasswordTryAgain volta da confirmação para o formulário
func (a *App) ForgotPasswordTryAgain() forms.State {
	a.forgotForm.TryAgain()
	return a.forgotForm.Snapshot()
}

// DismissFormError remove o banner de erro de um formulário
func (a *App) DismissFormError(form string) {
	switch form {
	case "login":
		a.loginForm.DismissBanner()
	case "signup":
		a.signUpForm.DismissBanner()
	case "forgot-password":
		a.forgotForm.DismissBanner()
	}
}

// SignOut encerra a sessão; em falha o usuário continua autenticado
func (a *App) SignOut() error {
	if a.gateway == nil {
		return errRuntimeNotReady
	}
	if err := a.gateway.SignOut(a.callContext()); err != nil {
		a.emit("auth:error", auth.Describe(err))
		return err
	}
	return nil
}

// GetCurrentUser consulta o perfil no provedor (cacheado)
func (a *App) GetCurrentUser() (*store.Identity, error) {
	if a.gateway == nil {
		return nil, errRuntimeNotReady
	}
	return a.gateway.CurrentIdentity(a.callContext())
}

// GetAuditLog lista os últimos eventos de autenticação do usuário atual
func (a *App) GetAuditLog(limit int) ([]database.AuthAuditLog, error) {
	if a.db == nil {
		return nil, errors.New("database not available")
	}
	userID := ""
	if st := a.store.Snapshot(); st.Identity != nil {
		userID = st.Identity.ID
	}
	return a.db.ListAuditEvents(userID, limit)
}

// OpenExternal abre links http(s) no navegador padrão, nunca dentro da janela
func (a *App) OpenExternal(rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("refusing to open %q: only http(s) links are allowed", rawURL)
	}
	if a.ctx == nil {
		return errRuntimeNotReady
	}
	runtime.BrowserOpenURL(a.ctx, parsed.String())
	return nil
}

// HandleDeepLink processa links authdesk:// (chamado pelo macOS)
func (a *App) HandleDeepLink(urlStr string) {
	log.Printf("[AUTHDESK] Deep Link received: %s", a.logSanitizer.Sanitize(urlStr))

	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme != deepLinkScheme {
		log.Printf("[AUTHDESK] Ignored unknown deep link")
		return
	}
	if a.provider == nil {
		log.Println("[AUTHDESK] Deep link received before startup")
		return
	}

	ctx, cancel := context.WithTimeout(a.callContext(), deepLinkTimeout)
	defer cancel()
	resp, err := a.provider.HandleRedirect(ctx, urlStr)
	if err != nil {
		log.Printf("[AUTHDESK] Deep link auth failed: %s", a.logSanitizer.Sanitize(err.Error()))
		a.emit("auth:error", auth.Describe(err))
	} else if resp != nil && strings.Contains(parsed.Host+parsed.Path, "reset-password") {
		a.emit("auth:password-recovery", auth.StateFromStore(a.store.Snapshot()))
	}

	if a.ctx != nil {
		runtime.WindowShow(a.ctx)
	}
}

func (a *App) callContext() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

func (a *App) reportFormError(form string, err error) {
	if err == nil {
		return
	}
	var fieldErrs validation.FieldErrors
	if errors.As(err, &fieldErrs) || errors.Is(err, forms.ErrSubmitInFlight) || errors.Is(err, forms.ErrDisposed) {
		return
	}
	log.Printf("[AUTHDESK] %s submit failed: %s", form, a.logSanitizer.Sanitize(err.Error()))
	a.emit("auth:error", auth.Describe(err))
}
