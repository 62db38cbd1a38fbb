package bridge

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
)

// Socket stands in for the live connection an upgrade handler expects. The connection is only
// taken over from the inbound response writer when Hijack is called.
type Socket struct {
	w    http.ResponseWriter
	info *ConnInfo

	mu        sync.Mutex
	hijacked  bool
	signalled bool
	handshake chan UpgradeResult
}

func newSocket(w http.ResponseWriter, info *ConnInfo) *Socket {
	return &Socket{
		w:         w,
		info:      info,
		handshake: make(chan UpgradeResult, 1),
	}
}

func (s *Socket) Info() *ConnInfo {
	return s.info
}

// Hijack takes over the underlying connection. Only the first call succeeds.
func (s *Socket) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hijacked {
		return nil, nil, ErrSocketHijacked
	}

	var conn net.Conn
	var brw *bufio.ReadWriter
	var err error
	if hj, ok := s.w.(http.Hijacker); ok {
		conn, brw, err = hj.Hijack()
	} else {
		conn, brw, err = http.NewResponseController(s.w).Hijack()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error in Hijack: %w", err)
	}
	s.hijacked = true
	return conn, brw, nil
}

func (s *Socket) Hijacked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hijacked
}

// Accept reports a completed handshake. The connection belongs to the upgrade handler from here.
func (s *Socket) Accept() {
	s.signal(UpgradeResult{Upgraded: true, Status: http.StatusSwitchingProtocols})
}

// Reject reports that the upgrade did not happen. Nothing must have been written to the
// connection, the caller responds with status.
func (s *Socket) Reject(status int) {
	s.signal(UpgradeResult{Status: status})
}

func (s *Socket) signal(res UpgradeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signalled {
		return
	}
	s.signalled = true
	s.handshake <- res
}
