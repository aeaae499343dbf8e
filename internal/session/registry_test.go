package session

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	r := NewRegistry(slog.Default())
	r.RegisterSubprocess(DefaultProfiles()["shell"], "")
	return r
}

func TestRegistry_UnknownLanguage(t *testing.T) {
	r := NewRegistry(slog.Default())
	_, err := r.GetOrCreate("cobol")
	if !errors.Is(err, ErrLanguageNotSupported) {
		t.Errorf("expected ErrLanguageNotSupported, got %v", err)
	}
}

func TestRegistry_OneSessionPerLanguage(t *testing.T) {
	r := testRegistry(t)
	defer r.ResetAll()

	a, err := r.GetOrCreate("shell")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	b, err := r.GetOrCreate("shell")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if a != b {
		t.Error("expected the same live session on repeated GetOrCreate")
	}
}

func TestRegistry_TerminatedSessionReplaced(t *testing.T) {
	r := testRegistry(t)
	defer r.ResetAll()

	a, err := r.GetOrCreate("shell")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	a.Terminate()

	b, err := r.GetOrCreate("shell")
	if err != nil {
		t.Fatalf("GetOrCreate after terminate failed: %v", err)
	}
	if a == b {
		t.Error("expected a fresh session after termination")
	}
	if b.State() == StateTerminated {
		t.Error("replacement session should not be terminated")
	}
}

func TestRegistry_ResetForgetsSession(t *testing.T) {
	r := testRegistry(t)

	a, err := r.GetOrCreate("shell")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	r.Reset("shell")
	if a.State() != StateTerminated {
		t.Error("reset should terminate the session")
	}

	b, err := r.GetOrCreate("shell")
	if err != nil {
		t.Fatalf("GetOrCreate after reset failed: %v", err)
	}
	if a == b {
		t.Error("expected a fresh session after reset")
	}
	r.ResetAll()
}

func TestRegistry_ResetUnknownLanguageIsNoop(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.Reset("nothing") // must not panic
	r.ResetAll()
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	r := testRegistry(t)
	defer r.ResetAll()

	const callers = 8
	sessions := make([]Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GetOrCreate("shell")
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if sessions[i] != sessions[0] {
			t.Fatal("concurrent GetOrCreate produced more than one session")
		}
	}
}

func TestRegistry_LanguagesSorted(t *testing.T) {
	r := NewRegistry(slog.Default())
	for _, p := range DefaultProfiles() {
		r.RegisterSubprocess(p, "")
	}
	r.RegisterKernel("python-kernel", KernelConfig{GatewayURL: "http://localhost:8888"})

	langs := r.Languages()
	want := []string{"javascript", "python", "python-kernel", "shell"}
	if len(langs) != len(want) {
		t.Fatalf("expected %d languages, got %d: %v", len(want), len(langs), langs)
	}
	for i := range want {
		if langs[i] != want[i] {
			t.Errorf("expected %s at %d, got %s", want[i], i, langs[i])
		}
	}
}

func TestRegistry_Strategy(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.RegisterSubprocess(DefaultProfiles()["shell"], "")
	r.RegisterKernel("python-kernel", KernelConfig{GatewayURL: "http://localhost:8888"})

	if got := r.Strategy("shell"); got != "subprocess" {
		t.Errorf("expected subprocess, got %s", got)
	}
	if got := r.Strategy("python-kernel"); got != "kernel" {
		t.Errorf("expected kernel, got %s", got)
	}
}

func TestRegistry_Available(t *testing.T) {
	r := testRegistry(t)
	if !r.Available("shell") {
		t.Error("shell should be available when bash is on PATH")
	}
	if r.Available("cobol") {
		t.Error("unregistered language should not be available")
	}

	ghost := DefaultProfiles()["shell"]
	ghost.Name = "ghost"
	ghost.Command = []string{"definitely-not-a-real-interpreter-binary"}
	r.RegisterSubprocess(ghost, "")
	if r.Available("ghost") {
		t.Error("language with missing binary should not be available")
	}
}

func TestRegistry_PreflightSubprocess(t *testing.T) {
	r := testRegistry(t)
	if err := r.Preflight("shell"); err != nil {
		t.Errorf("shell preflight should pass when bash is on PATH, got %v", err)
	}

	ghost := DefaultProfiles()["shell"]
	ghost.Name = "ghost"
	ghost.Command = []string{"definitely-not-a-real-interpreter-binary"}
	r.RegisterSubprocess(ghost, "")
	if err := r.Preflight("ghost"); !errors.Is(err, ErrSpawnFailed) {
		t.Errorf("expected ErrSpawnFailed for missing binary, got %v", err)
	}

	if err := r.Preflight("cobol"); !errors.Is(err, ErrLanguageNotSupported) {
		t.Errorf("expected ErrLanguageNotSupported, got %v", err)
	}
}

func TestRegistry_PreflightKernelGatewayDown(t *testing.T) {
	r := NewRegistry(slog.Default())
	// Port 9 (discard) is reserved; nothing listens there.
	r.RegisterKernel("python-kernel", KernelConfig{GatewayURL: "http://127.0.0.1:9"})

	if err := r.Preflight("python-kernel"); !errors.Is(err, ErrSpawnFailed) {
		t.Errorf("expected ErrSpawnFailed for unreachable gateway, got %v", err)
	}
}

func TestRegistry_PreflightKernelGatewayUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/kernels" {
			http.NotFound(w, req)
			return
		}
		if got := req.Header.Get("Authorization"); got != "token sekrit" {
			t.Errorf("expected token header, got %q", got)
		}
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	r := NewRegistry(slog.Default())
	r.RegisterKernel("python-kernel", KernelConfig{GatewayURL: srv.URL, Token: "sekrit"})

	if err := r.Preflight("python-kernel"); err != nil {
		t.Errorf("expected preflight to pass against a live gateway, got %v", err)
	}
}
