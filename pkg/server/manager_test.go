package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestNewManager(t *testing.T) {
	t.Setenv("DOCRAG_HOME", t.TempDir())
	mgr, err := NewManager()
	if err != nil {
		t.Fatal(err)
	}
	if mgr.port != DefaultPort || mgr.host != DefaultHost {
		t.Errorf("got port=%d host=%s", mgr.port, mgr.host)
	}
}

func TestNewManagerCustomPort(t *testing.T) {
	t.Setenv("DOCRAG_HOME", t.TempDir())
	t.Setenv("DOCRAG_RERANK_PORT", "9090")
	mgr, _ := NewManager()
	if mgr.port != 9090 {
		t.Errorf("got %d", mgr.port)
	}
}

func TestNewManagerInvalidPort(t *testing.T) {
	t.Setenv("DOCRAG_HOME", t.TempDir())
	t.Setenv("DOCRAG_RERANK_PORT", "bad")
	mgr, _ := NewManager()
	if mgr.port != DefaultPort {
		t.Errorf("should default to %d, got %d", DefaultPort, mgr.port)
	}
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr := &Manager{port: mustPort(srv.URL), host: "localhost"}
	if !mgr.IsRunning() {
		t.Error("should be running")
	}
}

func TestIsRunningFalse(t *testing.T) {
	mgr := &Manager{port: 59999, host: "localhost"}
	if mgr.IsRunning() {
		t.Error("should not be running")
	}
}

func TestIsRunningNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	mgr := &Manager{port: mustPort(srv.URL), host: "localhost"}
	if mgr.IsRunning() {
		t.Error("500 should not count as running")
	}
}

func TestPaths(t *testing.T) {
	mgr := &Manager{dataHome: "/home/test", port: 8081, host: "localhost"}
	if mgr.ModelPath() != "/home/test/models/"+ModelName {
		t.Error("ModelPath")
	}
	if mgr.ModelsDir() != "/home/test/models" {
		t.Error("ModelsDir")
	}
	if mgr.Endpoint() != "http://localhost:8081" {
		t.Error("Endpoint")
	}
	if mgr.healthURL() != "http://localhost:8081/health" {
		t.Error("healthURL")
	}
	if mgr.pidPath() != "/home/test/rerank-server.pid" {
		t.Error("pidPath")
	}
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "rerank-server.pid"), []byte("12345"), 0644)
	mgr := &Manager{dataHome: dir, port: 59998, host: "localhost"}

	running, pid, port := mgr.Status()
	if running || pid != 12345 || port != 59998 {
		t.Errorf("got running=%v pid=%d port=%d", running, pid, port)
	}
}

func TestPIDFile(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "rerank-server.pid")
	mgr := &Manager{dataHome: dir}

	// No file
	if _, err := mgr.readPID(); err == nil {
		t.Error("should error on missing")
	}

	// Valid
	_ = os.WriteFile(pidFile, []byte("999"), 0644)
	pid, err := mgr.readPID()
	if err != nil || pid != 999 {
		t.Errorf("got %d %v", pid, err)
	}

	// Invalid
	_ = os.WriteFile(pidFile, []byte("bad"), 0644)
	if _, err := mgr.readPID(); err == nil {
		t.Error("should error on bad content")
	}

	// Remove
	mgr.removePIDFile()
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("file should be removed")
	}
}

func TestCleanStalePID(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "rerank-server.pid")
	mgr := &Manager{dataHome: dir}

	// No file - no panic
	mgr.cleanStalePID()

	// Dead process
	_ = os.WriteFile(pidFile, []byte("99999999"), 0644)
	mgr.cleanStalePID()
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("stale PID should be cleaned")
	}

	// Live process (current)
	_ = os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
	mgr.cleanStalePID()
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Error("live PID should not be cleaned")
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr := &Manager{dataHome: t.TempDir(), port: mustPort(srv.URL), host: "localhost"}
	if err := mgr.Start(); err != nil {
		t.Errorf("should succeed: %v", err)
	}
}

func TestStartNoModel(t *testing.T) {
	mgr := &Manager{dataHome: t.TempDir(), port: 59997, host: "localhost"}
	if err := mgr.Start(); err == nil {
		t.Error("should fail without model")
	}
}

func TestStopNoServer(t *testing.T) {
	mgr := &Manager{dataHome: t.TempDir(), port: 59996, host: "localhost"}
	if err := mgr.Stop(); err != nil {
		t.Errorf("should succeed: %v", err)
	}
}

func TestStopDeadPID(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "rerank-server.pid"), []byte("99999999"), 0644)
	mgr := &Manager{dataHome: dir, port: 59995, host: "localhost"}
	if err := mgr.Stop(); err != nil {
		t.Errorf("should handle dead: %v", err)
	}
}

func TestStopRunningNoPID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr := &Manager{dataHome: t.TempDir(), port: mustPort(srv.URL), host: "localhost"}
	if err := mgr.Stop(); err == nil {
		t.Error("should error when running but no PID")
	}
}

func TestEnsureRunningAlreadyUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr := &Manager{dataHome: t.TempDir(), port: mustPort(srv.URL), host: "localhost"}
	if err := mgr.EnsureRunning(); err != nil {
		t.Errorf("should succeed: %v", err)
	}
}

func TestWaitForReadyAlreadyUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr := &Manager{port: mustPort(srv.URL), host: "localhost"}
	if err := mgr.waitForReady(); err != nil {
		t.Errorf("should succeed: %v", err)
	}
}

func TestFindLlamaServer(t *testing.T) {
	mgr := &Manager{dataHome: t.TempDir()}
	// Just verify it doesn't panic; result depends on system
	_, _ = mgr.findLlamaServer()
}

func TestDataHome(t *testing.T) {
	t.Setenv("DOCRAG_HOME", "/custom")
	h, _ := dataHome()
	if h != "/custom" {
		t.Error("env not used")
	}

	t.Setenv("DOCRAG_HOME", "")
	h, _ = dataHome()
	home, _ := os.UserHomeDir()
	if h != filepath.Join(home, ".docrag") {
		t.Error("default wrong")
	}
}

func mustPort(url string) int {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == ':' {
			p, _ := strconv.Atoi(url[i+1:])
			return p
		}
	}
	return 0
}
