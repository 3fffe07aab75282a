package forms

import (
	"context"
	"errors"
	"log"
	"sync"

	"authdesk/internal/auth"
	"authdesk/internal/validation"
)

var (
	// ErrSubmitInFlight é retornado quando o submit é acionado com outro em andamento
	ErrSubmitInFlight = errors.New("submission already in flight")
	// ErrDisposed é retornado depois que o formulário foi desmontado
	ErrDisposed = errors.New("form disposed")
)

// Gateway é o subconjunto do Auth Gateway usado pelos formulários
type Gateway interface {
	SignIn(ctx context.Context, email, password string) (*auth.Result, error)
	SignUp(ctx context.Context, email, password string) (*auth.Result, error)
	ResetPasswordRequest(ctx context.Context, email string) error
}

// State é o estado de um formulário exposto à UI
type State struct {
	Form                string                 `json:"form"`
	Busy                bool                   `json:"busy"`
	FieldErrors         validation.FieldErrors `json:"fieldErrors,omitempty"`
	Banner              *auth.ErrorPayload     `json:"banner,omitempty"`
	EmailSent           bool                   `json:"emailSent,omitempty"`
	PendingVerification bool                   `json:"pendingVerification,omitempty"`
	PendingEmail        string                 `json:"pendingEmail,omitempty"`
}

// controller concentra busy flag, erros e descarte, comum aos três formulários
type controller struct {
	mu       sync.Mutex
	state    State
	disposed bool
	onChange func(State)
}

// Snapshot retorna uma cópia do estado atual
func (c *controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyLocked()
}

// OnChange registra o observer de estado do formulário
func (c *controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Dispose modela o unmount: resultados tardios são descartados
func (c *controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.onChange = nil
}

// DismissBanner remove o banner de erro do formulário
func (c *controller) DismissBanner() {
	c.update(func(st *State) { st.Banner = nil })
}

// begin valida e marca o formulário como ocupado.
// Falhas de validação nunca chegam ao gateway.
func (c *controller) begin(errs validation.FieldErrors) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.state.Busy {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	c.state.Banner = nil
	if !errs.OK() {
		c.state.FieldErrors = errs
		c.mu.Unlock()
		c.emit()
		return errs
	}
	c.state.FieldErrors = nil
	c.state.Busy = true
	c.mu.Unlock()
	c.emit()
	return nil
}

// finish encerra o submit; após Dispose o resultado é ignorado
func (c *controller) finish(err error, onSuccess func(st *State)) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		log.Printf("[FORMS] Dropping late result for disposed %s form", c.state.Form)
		return
	}
	c.state.Busy = false
	if err != nil {
		c.state.Banner = auth.Describe(err)
	} else if onSuccess != nil {
		onSuccess(&c.state)
	}
	c.mu.Unlock()
	c.emit()
}

func (c *controller) update(mutate func(st *State)) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	mutate(&c.state)
	c.mu.Unlock()
	c.emit()
}

func (c *controller) emit() {
	c.mu.Lock()
	fn := c.onChange
	snapshot := c.copyLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}

func (c *controller) copyLocked() State {
	out := c.state
	if c.state.FieldErrors != nil {
		out.FieldErrors = make(validation.FieldErrors, len(c.state.FieldErrors))
		for k, v := range c.state.FieldErrors {
			out.FieldErrors[k] = v
		}
	}
	if c.state.Banner != nil {
		banner := *c.state.Banner
		out.Banner = &banner
	}
	return out
}
