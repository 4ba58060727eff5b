// Package service is the UI-facing façade over the terminal transport. It
// is the single source of truth for session descriptors and owns the
// fan-out of data and exit events to any number of subscribers per session.
package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/term"
)

// Config bounds the service. MaxSessions mirrors the manager's cap so a
// doomed create is rejected before it ever touches the transport.
type Config struct {
	MaxSessions int
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 12
	}
	return c
}

type Service struct {
	cfg Config
	log *zap.Logger
	tr  term.Transport

	mu       sync.Mutex
	sessions map[string]*term.Descriptor
	order    []string // creation order, for deterministic saves

	dataSubs  map[string]map[uint64]func(chunk []byte)
	exitSubs  map[string]map[uint64]func(exitCode int)
	nextToken uint64

	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(tr term.Transport, cfg Config, log *zap.Logger) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		tr:       tr,
		sessions: make(map[string]*term.Descriptor),
		dataSubs: make(map[string]map[uint64]func([]byte)),
		exitSubs: make(map[string]map[uint64]func(int)),
	}
}

// Initialize installs the service's single data listener and single exit
// listener on the transport. Idempotent: repeat calls while listeners are
// installed are no-ops.
func (s *Service) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})

	s.wg.Add(2)
	go s.consumeData(s.stop)
	go s.consumeExits(s.stop)
}

// Destroy removes the transport listeners and clears every in-memory
// registry. The service can be re-initialized afterwards.
func (s *Service) Destroy() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.sessions = make(map[string]*term.Descriptor)
	s.order = nil
	s.dataSubs = make(map[string]map[uint64]func([]byte))
	s.exitSubs = make(map[string]map[uint64]func(int))
	s.mu.Unlock()
}

func (s *Service) consumeData(stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.tr.Data():
			s.dispatchData(ev)
		case <-stop:
			return
		}
	}
}

func (s *Service) consumeExits(stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.tr.Exits():
			s.dispatchExit(ev)
		case <-stop:
			return
		}
	}
}

func (s *Service) dispatchData(ev term.DataEvent) {
	s.mu.Lock()
	handlers := make([]func([]byte), 0, len(s.dataSubs[ev.SessionID]))
	for _, fn := range s.dataSubs[ev.SessionID] {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(ev.Chunk)
	}
}

func (s *Service) dispatchExit(ev term.ExitEvent) {
	s.mu.Lock()
	if desc, ok := s.sessions[ev.SessionID]; ok {
		code := ev.ExitCode
		desc.Status = term.StatusExited
		desc.ExitCode = &code
	}
	handlers := make([]func(int), 0, len(s.exitSubs[ev.SessionID]))
	for _, fn := range s.exitSubs[ev.SessionID] {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	s.log.Info("terminal exited",
		zap.String("id", ev.SessionID), zap.Int("exit_code", ev.ExitCode))
	for _, fn := range handlers {
		fn(ev.ExitCode)
	}
}

// CreateTerminal spawns a new session and registers its descriptor. At the
// session cap it fails fast without contacting the manager; on any manager
// failure nothing stays registered.
//
// The descriptor is registered BEFORE the transport call: the capacity
// check and the slot claim happen under one lock acquisition, so two
// concurrent creates at the cap cannot both pass, and an exit event that
// races the create response finds the descriptor and marks it exited.
func (s *Service) CreateTerminal(name string, opts term.CreateOptions) (term.Descriptor, error) {
	id := uuid.NewString()
	desc := &term.Descriptor{
		ID:        id,
		Name:      name,
		Shell:     opts.Shell,
		Cwd:       opts.Cwd,
		Status:    term.StatusActive,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		return term.Descriptor{}, term.ErrCapacityExceeded
	}
	s.sessions[id] = desc
	s.order = append(s.order, id)
	s.mu.Unlock()

	pid, shell, err := s.tr.CreateSession(id, opts)
	if err != nil {
		s.mu.Lock()
		delete(s.sessions, id)
		s.removeFromOrder(id)
		delete(s.dataSubs, id)
		delete(s.exitSubs, id)
		s.mu.Unlock()
		return term.Descriptor{}, fmt.Errorf("create terminal %q: %w", name, err)
	}

	// Status is left alone here: dispatchExit may already have flipped it
	// for a process that died before the create response arrived.
	s.mu.Lock()
	desc.PID = pid
	desc.Shell = shell
	out := *desc
	s.mu.Unlock()

	s.log.Info("terminal created",
		zap.String("id", id), zap.String("name", name), zap.Int("pid", pid))
	return out, nil
}

// WriteInput forwards input to an active session. Input for unknown
// sessions, or for exited-but-not-yet-closed ones, is silently dropped;
// the returned result exists so tests can assert which happened.
func (s *Service) WriteInput(id string, data []byte) term.WriteResult {
	s.mu.Lock()
	desc, ok := s.sessions[id]
	active := ok && desc.Status == term.StatusActive
	s.mu.Unlock()

	if !active {
		return term.WriteIgnored
	}
	s.tr.Write(id, data)
	return term.WriteOK
}

// ResizeTerminal forwards new dimensions to the manager. Fire-and-forget;
// unknown sessions are dropped.
func (s *Service) ResizeTerminal(id string, cols, rows int) term.WriteResult {
	s.mu.Lock()
	_, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return term.WriteIgnored
	}
	s.tr.Resize(id, cols, rows)
	return term.WriteOK
}

// CloseTerminal closes the session and removes the descriptor along with
// every listener registered for it. Closing an unknown id is a no-op.
func (s *Service) CloseTerminal(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		s.removeFromOrder(id)
		delete(s.dataSubs, id)
		delete(s.exitSubs, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.tr.Close(id)
	s.log.Info("terminal closed", zap.String("id", id))
}

// CloseAllTerminals closes every tracked session and clears local state.
// Used when switching the active project and at shutdown.
func (s *Service) CloseAllTerminals() {
	s.mu.Lock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	s.sessions = make(map[string]*term.Descriptor)
	s.order = nil
	s.dataSubs = make(map[string]map[uint64]func([]byte))
	s.exitSubs = make(map[string]map[uint64]func(int))
	s.mu.Unlock()

	for _, id := range ids {
		s.tr.Close(id)
	}
}

// OnTerminalData subscribes to a session's output. Any number of
// independent subscribers may coexist; the returned unsubscribe is
// idempotent and deletes the backing set once the last subscriber leaves.
func (s *Service) OnTerminalData(id string, fn func(chunk []byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.dataSubs[id]
	if !ok {
		set = make(map[uint64]func([]byte))
		s.dataSubs[id] = set
	}
	token := s.nextToken
	s.nextToken++
	set[token] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.dataSubs[id]; ok {
			delete(set, token)
			if len(set) == 0 {
				delete(s.dataSubs, id)
			}
		}
	}
}

// OnTerminalExit subscribes to a session's exit notification. Same
// subscription semantics as OnTerminalData.
func (s *Service) OnTerminalExit(id string, fn func(exitCode int)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.exitSubs[id]
	if !ok {
		set = make(map[uint64]func(int))
		s.exitSubs[id] = set
	}
	token := s.nextToken
	s.nextToken++
	set[token] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.exitSubs[id]; ok {
			delete(set, token)
			if len(set) == 0 {
				delete(s.exitSubs, id)
			}
		}
	}
}

// Session returns the descriptor for id, if tracked.
func (s *Service) Session(id string) (term.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, ok := s.sessions[id]
	if !ok {
		return term.Descriptor{}, false
	}
	return *desc, true
}

// Sessions returns all tracked descriptors in creation order.
func (s *Service) Sessions() []term.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]term.Descriptor, 0, len(s.order))
	for _, id := range s.order {
		if desc, ok := s.sessions[id]; ok {
			out = append(out, *desc)
		}
	}
	return out
}

// Count reports the number of tracked descriptors, exited ones included.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SaveState persists the tracked session list plus per-session scrollback
// text for a workspace. Scrollback comes through the caller-supplied
// accessor so no rendering concern leaks into this layer. With zero
// tracked sessions this is a no-op that never touches the transport.
func (s *Service) SaveState(workspace string, getScrollback func(id string) string) error {
	s.mu.Lock()
	saved := make([]term.SavedSession, 0, len(s.order))
	for _, id := range s.order {
		desc, ok := s.sessions[id]
		if !ok {
			continue
		}
		saved = append(saved, term.SavedSession{
			ID:    desc.ID,
			Name:  desc.Name,
			Shell: desc.Shell,
			Cwd:   desc.Cwd,
		})
	}
	s.mu.Unlock()

	if len(saved) == 0 {
		return nil
	}

	scrollbacks := make(map[string]string, len(saved))
	for _, sess := range saved {
		scrollbacks[sess.ID] = getScrollback(sess.ID)
	}

	state := term.SavedState{Sessions: saved, SavedAt: time.Now()}
	return s.tr.SaveState(workspace, state, scrollbacks)
}

// LoadState fetches a workspace's saved terminal state. Failures are
// logged and reported as absence; callers always get a usable answer.
func (s *Service) LoadState(workspace string) (*term.SavedState, map[string]string) {
	state, scrollbacks, err := s.tr.LoadState(workspace)
	if err != nil {
		s.log.Warn("load state failed, starting fresh",
			zap.String("workspace", workspace), zap.Error(err))
		return nil, nil
	}
	return state, scrollbacks
}

func (s *Service) removeFromOrder(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
