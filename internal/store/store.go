package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrPersistence marca falhas de leitura/escrita do armazenamento local
var ErrPersistence = errors.New("persistence error")

// PersistenceError descreve uma falha não fatal do backend de armazenamento
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Store é o Session Store: fonte única do estado de autenticação no processo.
// Toda mutação grava em memória, persiste o subconjunto durável e notifica
// os observers, nessa ordem.
type Store struct {
	mu      sync.Mutex
	state   State
	backend Backend
	key     string

	subsMu  sync.RWMutex
	subs    map[uint64]func(State)
	nextSub uint64

	onPersistError func(error)
}

// New cria um Store vazio em estado de cold start (IsLoading=true)
func New(backend Backend, key string) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Store{
		state:   State{IsLoading: true},
		backend: backend,
		key:     key,
		subs:    make(map[uint64]func(State)),
	}
}

// SetPersistErrorHandler registra um observer para falhas de persistência
func (s *Store) SetPersistErrorHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPersistError = fn
}

// Restore lê o subconjunto persistido uma única vez no startup.
// IsLoading continua true até o restore do provedor resolver.
func (s *Store) Restore() error {
	raw, ok, err := s.backend.GetItem(s.key)
	if err != nil {
		perr := &PersistenceError{Op: "read", Key: s.key, Err: err}
		s.reportPersistError(perr)
		return perr
	}
	if !ok || len(raw) == 0 {
		return nil
	}

	var env persistedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		perr := &PersistenceError{Op: "decode", Key: s.key, Err: err}
		s.reportPersistError(perr)
		return perr
	}

	s.mu.Lock()
	identity, session := env.State.Identity, env.State.Session
	if identity == nil || session == nil {
		identity, session = nil, nil
	}
	s.state.Identity = cloneIdentity(identity)
	s.state.Session = cloneSession(session)
	s.state.IsInitialized = env.State.IsInitialized
	s.state.IsLoading = true
	s.state.Revision++
	snapshot := s.state.clone()
	s.mu.Unlock()

	log.Printf("[STORE] Restored persisted state (authenticated=%t)", snapshot.IsAuthenticated())
	s.notify(snapshot)
	return nil
}

// Snapshot retorna uma cópia do estado atual
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// IsAuthenticated é um atalho para Snapshot().IsAuthenticated()
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Identity != nil
}

// SetAuth grava identidade e sessão como um único commit.
// Qualquer um dos dois ausente limpa ambos.
func (s *Store) SetAuth(identity *Identity, session *Session) {
	s.ApplyAuth(identity, session, false)
}

// ApplyAuth grava o par identidade/sessão e, com resolve, encerra o loading
// de startup, tudo em um único commit.
func (s *Store) ApplyAuth(identity *Identity, session *Session, resolve bool) {
	s.commit(func(st *State) {
		if identity == nil || session == nil {
			st.Identity, st.Session = nil, nil
		} else {
			st.Identity = cloneIdentity(identity)
			st.Session = cloneSession(session)
			st.Session.Identity = *cloneIdentity(identity)
		}
		if resolve {
			st.IsLoading = false
			st.IsInitialized = true
		}
	})
}

// SetIdentity substitui a identidade da sessão atual.
// Sem sessão presente a identidade não pode existir sozinha; nil limpa o par.
func (s *Store) SetIdentity(identity *Identity) {
	s.commit(func(st *State) {
		if identity == nil {
			st.Identity, st.Session = nil, nil
			return
		}
		if st.Session == nil {
			log.Printf("[STORE] Warning: ignoring identity without session (id=%s)", identity.ID)
			return
		}
		st.Identity = cloneIdentity(identity)
		st.Session.Identity = *cloneIdentity(identity)
	})
}

// SetSession substitui a sessão; a identidade acompanha session.Identity.
func (s *Store) SetSession(session *Session) {
	s.commit(func(st *State) {
		if session == nil {
			st.Identity, st.Session = nil, nil
			return
		}
		st.Session = cloneSession(session)
		st.Identity = cloneIdentity(&session.Identity)
	})
}

// SetLoading altera a flag de loading; depois da primeira resolução o
// loading não volta a true.
func (s *Store) SetLoading(loading bool) {
	s.commit(func(st *State) {
		if loading && st.IsInitialized {
			return
		}
		st.IsLoading = loading
	})
}

// SetInitialized marca o store como inicializado; nunca volta a false.
func (s *Store) SetInitialized(initialized bool) {
	s.commit(func(st *State) {
		if !initialized && st.IsInitialized {
			return
		}
		st.IsInitialized = initialized
	})
}

// Resolve encerra o loading de startup em um único commit
func (s *Store) Resolve() {
	s.commit(func(st *State) {
		st.IsLoading = false
		st.IsInitialized = true
	})
}

// Clear remove identidade e sessão e marca o store como resolvido
func (s *Store) Clear() {
	s.commit(func(st *State) {
		st.Identity = nil
		st.Session = nil
		st.IsLoading = false
		st.IsInitialized = true
	})
}

// Subscribe registra um observer; a função retornada cancela a inscrição.
func (s *Store) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	s.subsMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) commit(mutate func(st *State)) {
	s.mu.Lock()
	mutate(&s.state)
	s.state.Revision++
	snapshot := s.state.clone()
	// Persistir sob o lock mantém a ordem de escrita igual à ordem em memória.
	err := s.persistLocked()
	s.mu.Unlock()

	if err != nil {
		s.reportPersistError(err)
	}
	s.notify(snapshot)
}

func (s *Store) persistLocked() error {
	env := persistedEnvelope{
		State: persistedState{
			Identity:      s.state.Identity,
			Session:       s.state.Session,
			IsInitialized: s.state.IsInitialized,
		},
		Version: persistVersion,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return &PersistenceError{Op: "encode", Key: s.key, Err: err}
	}
	if err := s.backend.SetItem(s.key, raw); err != nil {
		return &PersistenceError{Op: "write", Key: s.key, Err: err}
	}
	return nil
}

func (s *Store) reportPersistError(err error) {
	log.Printf("[STORE] Warning: %v", err)
	s.mu.Lock()
	handler := s.onPersistError
	s.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

func (s *Store) notify(snapshot State) {
	s.subsMu.RLock()
	handlers := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range handlers {
		fn(snapshot.clone())
	}
}
