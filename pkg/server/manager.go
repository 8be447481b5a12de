// Package server manages a local llama.cpp reranking server. The
// cross-encoder stage talks to it over the /v1/rerank endpoint; this
// package handles the process lifecycle so users do not have to.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

const (
	DefaultPort    = 8081
	DefaultHost    = "localhost"
	StartupTimeout = 15 * time.Second
	HealthInterval = 500 * time.Millisecond
)

// Manager handles the llama.cpp rerank server lifecycle.
type Manager struct {
	dataHome string
	port     int
	host     string
}

// NewManager creates a server manager rooted at the docrag data
// directory.
func NewManager() (*Manager, error) {
	home, err := dataHome()
	if err != nil {
		return nil, err
	}

	port := DefaultPort
	if p := os.Getenv("DOCRAG_RERANK_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}

	return &Manager{
		dataHome: home,
		port:     port,
		host:     DefaultHost,
	}, nil
}

// IsRunning checks if the rerank server is responding.
func (m *Manager) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", m.healthURL(), nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Start starts the rerank server if not already running.
func (m *Manager) Start() error {
	if m.IsRunning() {
		return nil
	}

	llamaPath, err := m.findLlamaServer()
	if err != nil {
		return err
	}

	modelPath := m.ModelPath()
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("reranker model not found at %s. Run 'docrag setup' first", modelPath)
	}

	m.cleanStalePID()

	logPath := filepath.Join(m.dataHome, "rerank-server.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	threads := runtime.NumCPU()
	if threads > 16 {
		threads = 16
	}

	args := []string{
		"-m", modelPath,
		"--rerank",
		"--port", strconv.Itoa(m.port),
		"--host", m.host,
		"-c", strconv.Itoa(4096),
		"-b", "2048",
		"--threads", strconv.Itoa(threads),
		"-ngl", "99", // offload all layers when a GPU is present
	}

	cmd := exec.Command(llamaPath, args...)

	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // Detach from parent process group
	}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to start llama-server: %w", err)
	}

	pidPath := m.pidPath()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write PID file: %v\n", err)
	}

	if err := m.waitForReady(); err != nil {
		_ = m.Stop()
		return err
	}

	return nil
}

// Stop stops the rerank server.
func (m *Manager) Stop() error {
	pid, err := m.readPID()
	if err != nil {
		if m.IsRunning() {
			return fmt.Errorf("server running but no PID file found; kill manually on port %d", m.port)
		}
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		m.removePIDFile()
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Process might already be dead
		m.removePIDFile()
		return nil
	}

	time.Sleep(500 * time.Millisecond)

	if m.IsRunning() {
		_ = proc.Signal(syscall.SIGKILL)
	}

	m.removePIDFile()
	return nil
}

// Status returns server status info.
func (m *Manager) Status() (running bool, pid int, port int) {
	port = m.port
	running = m.IsRunning()
	pid, _ = m.readPID()
	return
}

// ModelPath returns the path to the reranker model.
func (m *Manager) ModelPath() string {
	return filepath.Join(m.dataHome, "models", ModelName)
}

// ModelsDir returns the models directory.
func (m *Manager) ModelsDir() string {
	return filepath.Join(m.dataHome, "models")
}

// Endpoint returns the server endpoint URL.
func (m *Manager) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", m.host, m.port)
}

// EnsureRunning starts the server if not running.
func (m *Manager) EnsureRunning() error {
	if m.IsRunning() {
		return nil
	}
	return m.Start()
}

func (m *Manager) healthURL() string {
	return fmt.Sprintf("http://%s:%d/health", m.host, m.port)
}

func (m *Manager) pidPath() string {
	return filepath.Join(m.dataHome, "rerank-server.pid")
}

func (m *Manager) readPID() (int, error) {
	data, err := os.ReadFile(m.pidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func (m *Manager) removePIDFile() {
	_ = os.Remove(m.pidPath())
}

func (m *Manager) cleanStalePID() {
	pid, err := m.readPID()
	if err != nil {
		return
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		m.removePIDFile()
		return
	}

	// Signal 0 checks if process exists
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		m.removePIDFile()
	}
}

func (m *Manager) waitForReady() error {
	deadline := time.Now().Add(StartupTimeout)
	for time.Now().Before(deadline) {
		if m.IsRunning() {
			return nil
		}
		time.Sleep(HealthInterval)
	}
	return fmt.Errorf("server failed to start within %v", StartupTimeout)
}

func (m *Manager) findLlamaServer() (string, error) {
	names := []string{"llama-server", "llama-server-metal", "server"}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	brewPaths := []string{
		"/opt/homebrew/bin/llama-server",
		"/usr/local/bin/llama-server",
	}
	for _, p := range brewPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("llama-server not found. Install with: brew install llama.cpp")
}

func dataHome() (string, error) {
	if home := os.Getenv("DOCRAG_HOME"); home != "" {
		return home, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".docrag"), nil
}
