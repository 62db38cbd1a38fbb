package hosted

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// processEnv is what the hosted process sees on top of our own environment. Options go last
// so they can override anything.
func processEnv(cfg Config, upstream *url.URL) []string {
	env := []string{
		"NODE_ENV=" + lo.Ternary(cfg.Dev, "development", "production"),
		"PORT=" + portOf(upstream),
		"HOSTNAME=" + upstream.Hostname(),
	}
	if cfg.Debug {
		env = append(env, "NODE_OPTIONS=--inspect")
	}

	keys := lo.Keys(cfg.Options)
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, cfg.Options[k]))
	}
	return env
}

func startProcess(cfg Config, upstream *url.URL) (*process, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, ErrInvalidCommand
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), processEnv(cfg, upstream)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("error in StdoutPipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("error in StderrPipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting %s: %w", cfg.Command[0], err)
	}
	logger.Info().Strs("command", cfg.Command).Str("dir", cfg.Dir).Int("pid", cmd.Process.Pid).Msg("started hosted process")

	p := &process{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go logLines(stdout, zerolog.InfoLevel)
	go logLines(stderr, zerolog.WarnLevel)
	go func() {
		p.err = cmd.Wait()
		logger.Warn().Err(p.err).Msg("hosted process exited")
		close(p.done)
	}()
	return p, nil
}

func logLines(r io.Reader, level zerolog.Level) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		logger.WithLevel(level).Str("source", "hosted").Msg(sc.Text())
	}
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) stop(timeout time.Duration) error {
	if p.exited() {
		return nil
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		logger.Warn().Msg("hosted process did not exit in time, killing")
		return p.cmd.Process.Kill()
	}
}

// waitReady polls the upstream until it answers anything at all.
func (s *Server) waitReady(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
		backoff.WithMaxElapsedTime(s.cfg.WaitTimeout),
	), ctx)

	err := backoff.Retry(func() error {
		if s.proc != nil && s.proc.exited() {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrProcessExited, s.proc.err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.upstream.String()+"/", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := s.client.Do(req)
		if err != nil {
			logger.Debug().Err(err).Msg("hosted server not ready yet")
			return err
		}
		res.Body.Close()
		return nil
	}, b)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamNotUp, err)
	}
	return nil
}
