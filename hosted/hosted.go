package hosted

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danthegoodman1/EchoNext/gologger"
	"github.com/danthegoodman1/EchoNext/utils"
)

var (
	ErrNoUpstream     = errors.New("no upstream configured")
	ErrProcessExited  = errors.New("hosted process exited")
	ErrFailedToCast   = errors.New("failed to cast")
	ErrUpstreamNotUp  = errors.New("upstream did not become ready")
	ErrInvalidCommand = errors.New("invalid command")

	logger = gologger.NewLogger()
)

type (
	Config struct {
		// Dir is where the hosted app lives, the process runs from here
		Dir string
		Dev bool
		// Port is the port echo listens on, forwarded as X-Forwarded-Port
		Port     int
		Hostname string

		// Upstream is the base URL of the hosted framework's server, e.g. http://127.0.0.1:3001
		Upstream string
		// Command starts the hosted framework, e.g. ["npx", "next", "dev"]. Optional when
		// something else already runs Upstream.
		Command []string
		// Debug starts the process with the node inspector
		Debug bool

		// Options are handed to the hosted process untouched, as environment variables
		Options map[string]string

		// WaitTimeout bounds how long Initialize waits for a started process to answer
		WaitTimeout time.Duration
	}

	// Server is the hosted framework's request and upgrade handler pair.
	Server struct {
		cfg      Config
		upstream *url.URL
		client   *http.Client
		proc     *process
	}
)

// Initialize starts the hosted framework (when a Command is configured) and returns its
// handlers once it answers requests.
func Initialize(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Upstream == "" && len(cfg.Command) > 0 && cfg.Port > 0 {
		cfg.Upstream = fmt.Sprintf("http://127.0.0.1:%d", cfg.Port+1)
	}
	if cfg.Upstream == "" {
		return nil, ErrNoUpstream
	}
	upstream, err := url.Parse(strings.TrimSuffix(cfg.Upstream, "/"))
	if err != nil {
		return nil, fmt.Errorf("error parsing upstream %q: %w", cfg.Upstream, err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream %q needs a scheme and host: %w", cfg.Upstream, ErrNoUpstream)
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = time.Second * time.Duration(utils.Env_UpstreamWaitSec)
	}

	s := &Server{
		cfg:      cfg,
		upstream: upstream,
		client:   newClient(),
	}

	if len(cfg.Command) == 0 {
		logger.Debug().Str("upstream", upstream.String()).Msg("using already running hosted server")
		return s, nil
	}

	s.proc, err = startProcess(cfg, upstream)
	if err != nil {
		return nil, fmt.Errorf("error in startProcess: %w", err)
	}
	if err := s.waitReady(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("error in waitReady: %w", err)
	}
	logger.Info().Str("upstream", upstream.String()).Bool("dev", cfg.Dev).Msg("hosted server ready")
	return s, nil
}

func newClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if utils.Env_UpstreamTimeoutSec > 0 {
		transport.ResponseHeaderTimeout = time.Second * time.Duration(utils.Env_UpstreamTimeoutSec)
	}
	return &http.Client{
		Transport: transport,
		// Redirects belong to the browser
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *Server) Upstream() string {
	return s.upstream.String()
}

// Close stops the hosted process if Initialize started one.
func (s *Server) Close() error {
	if s.proc == nil {
		return nil
	}
	return s.proc.stop(10 * time.Second)
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}
