package util

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// SocatManager manages lifecycle of socat-created virtual serial pairs.
type SocatManager struct {
	mu     sync.Mutex
	bin    string
	cmds   []*exec.Cmd
	links  []string
	closed bool
	log    *Logger
}

// NewSocatManager initializes an empty manager using the socat binary on PATH.
func NewSocatManager() *SocatManager {
	return &SocatManager{bin: "socat", log: NewLogger("virt-serial")}
}

// Args returns the socat arguments linking two raw PTYs at left and right.
func Args(left, right string) []string {
	return []string{
		"-d", "-d",
		fmt.Sprintf("pty,raw,echo=0,link=%s", left),
		fmt.Sprintf("pty,raw,echo=0,link=%s", right),
	}
}

// CreatePair starts a socat process that links two PTYs (bidirectional) and
// waits up to timeout for both links to appear.
func (m *SocatManager) CreatePair(left, right string, timeout time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("socat manager closed")
	}
	cmd := exec.Command(m.bin, Args(left, right)...)
	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to start socat: %w", err)
	}
	m.cmds = append(m.cmds, cmd)
	m.links = append(m.links, left, right)
	m.mu.Unlock()

	m.log.Infof("started socat (pid=%d): %s <-> %s", cmd.Process.Pid, left, right)
	return WaitForPaths(timeout, left, right)
}

// WaitForPaths polls until every path exists or timeout elapses.
func WaitForPaths(timeout time.Duration, paths ...string) error {
	deadline := time.Now().Add(timeout)
	for _, p := range paths {
		for {
			if _, err := os.Lstat(p); err == nil {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%s did not appear within %v", p, timeout)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	return nil
}

// Pairs returns the number of started pairs.
func (m *SocatManager) Pairs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cmds)
}

// Cleanup stops all socat processes and removes created links.
func (m *SocatManager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	for _, cmd := range m.cmds {
		if cmd.Process != nil {
			m.log.Infof("killing socat pid=%d", cmd.Process.Pid)
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	}

	for _, path := range m.links {
		if _, err := os.Lstat(path); err == nil {
			_ = os.Remove(path)
			m.log.Infof("removed link: %s", path)
		}
	}

	m.log.Infof("cleanup complete (%d pairs)", len(m.cmds))
}
