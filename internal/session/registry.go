package session

import (
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// Factory creates a fresh session for a language.
type Factory func() Session

// languageSlot serializes session creation per language so concurrent
// GetOrCreate calls never race-create two processes, while executions in
// different languages never contend on a shared lock.
type languageSlot struct {
	mu   sync.Mutex
	sess Session
}

// Registry maps language identifiers to their live sessions. Exactly one
// live session exists per language; terminated (crashed or reset) sessions
// are replaced with fresh ones on the next GetOrCreate, losing any
// interpreter-level state the old session held.
type Registry struct {
	log *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	binaries  map[string]string // language → runtime binary, for availability checks
	kernels   map[string]KernelConfig
	strategy  map[string]string // language → "subprocess" | "kernel"
	slots     map[string]*languageSlot
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:       log,
		factories: make(map[string]Factory),
		binaries:  make(map[string]string),
		kernels:   make(map[string]KernelConfig),
		strategy:  make(map[string]string),
		slots:     make(map[string]*languageSlot),
	}
}

// RegisterSubprocess registers a subprocess-strategy language.
func (r *Registry) RegisterSubprocess(profile Profile, workDir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[profile.Name] = func() Session {
		return NewSubprocess(profile, workDir, r.log)
	}
	r.binaries[profile.Name] = profile.Command[0]
	r.strategy[profile.Name] = "subprocess"
}

// RegisterKernel registers a kernel-strategy language.
func (r *Registry) RegisterKernel(language string, cfg KernelConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[language] = func() Session {
		return NewKernel(language, cfg, r.log)
	}
	r.kernels[language] = cfg
	r.strategy[language] = "kernel"
}

// Languages returns the registered language names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether a language has a registered factory.
func (r *Registry) Supported(language string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[language]
	return ok
}

// Strategy returns "subprocess" or "kernel" for a registered language.
func (r *Registry) Strategy(language string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy[language]
}

// Available reports whether a language's runtime can actually run here:
// its binary is on PATH, or it is kernel-backed (checked at spawn time).
func (r *Registry) Available(language string) bool {
	r.mu.RLock()
	binary, isSubprocess := r.binaries[language]
	_, registered := r.factories[language]
	r.mu.RUnlock()

	if !registered {
		return false
	}
	if !isSubprocess {
		return true
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

// preflightTimeout bounds the gateway reachability check.
const preflightTimeout = 3 * time.Second

// Preflight verifies that a language's runtime is reachable before an
// execution is attempted: the binary is on PATH for subprocess languages,
// the gateway answers a kernel listing for kernel languages. Failures wrap
// ErrSpawnFailed so callers can surface them synchronously.
func (r *Registry) Preflight(language string) error {
	r.mu.RLock()
	binary, isSubprocess := r.binaries[language]
	cfg, isKernel := r.kernels[language]
	_, registered := r.factories[language]
	r.mu.RUnlock()

	if !registered {
		return fmt.Errorf("%w: %q", ErrLanguageNotSupported, language)
	}

	switch {
	case isSubprocess:
		if _, err := exec.LookPath(binary); err != nil {
			return fmt.Errorf("%w: no runtime for %q on this machine", ErrSpawnFailed, language)
		}
	case isKernel:
		req, err := http.NewRequest(http.MethodGet, cfg.GatewayURL+"/api/kernels", nil)
		if err != nil {
			return fmt.Errorf("%w: invalid gateway URL %q: %v", ErrSpawnFailed, cfg.GatewayURL, err)
		}
		if cfg.Token != "" {
			req.Header.Set("Authorization", "token "+cfg.Token)
		}
		client := &http.Client{Timeout: preflightTimeout}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: kernel gateway unreachable at %s: %v", ErrSpawnFailed, cfg.GatewayURL, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w: kernel gateway at %s returned %s", ErrSpawnFailed, cfg.GatewayURL, resp.Status)
		}
	}
	return nil
}

// GetOrCreate returns the live session for a language, creating one if none
// exists or the previous one terminated. A crashed session is never
// restarted in place; the replacement is a fresh process with fresh state.
func (r *Registry) GetOrCreate(language string) (Session, error) {
	r.mu.RLock()
	factory, ok := r.factories[language]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLanguageNotSupported, language)
	}

	slot := r.slot(language)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.sess != nil && slot.sess.State() != StateTerminated {
		return slot.sess, nil
	}
	if slot.sess != nil {
		r.log.Debug("replacing terminated session", "language", language)
	}
	slot.sess = factory()
	return slot.sess, nil
}

// slot returns the per-language slot, creating it under the registry lock.
func (r *Registry) slot(language string) *languageSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[language]
	if !ok {
		s = &languageSlot{}
		r.slots[language] = s
	}
	return s
}

// Reset terminates and forgets the session for one language.
func (r *Registry) Reset(language string) {
	r.mu.RLock()
	slot, ok := r.slots[language]
	r.mu.RUnlock()
	if !ok {
		return
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.sess != nil {
		slot.sess.Terminate()
		slot.sess = nil
	}
}

// ResetAll terminates and forgets every live session.
func (r *Registry) ResetAll() {
	for _, language := range r.Languages() {
		r.Reset(language)
	}
}
