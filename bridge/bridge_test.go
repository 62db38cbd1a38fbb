package bridge

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(h http.Handler, u Upgrader) *Bridge {
	srv := &http.Server{}
	return &Bridge{
		Server:   func() *http.Server { return srv },
		Handler:  h,
		Upgrader: u,
	}
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

func TestConvertRequestPanicsWithoutServer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.PanicsWithValue(t, ErrServerNotInitialized, func() {
		ConvertRequest(req, nil, nil)
	})

	b := &Bridge{Handler: http.NotFoundHandler()}
	assert.Panics(t, func() {
		_, _ = b.Render(req, "")
	})
}

func TestConvertRequestAttachesConnInfo(t *testing.T) {
	srv := &http.Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/thing?x=1", strings.NewReader("hello"))
	req.Header.Set("X-Test", "yes")

	adapted, res := ConvertRequest(req, nil, srv)
	info := ConnInfoFromRequest(adapted)
	require.NotNil(t, info)
	assert.Same(t, srv, info.Server)
	assert.Same(t, res, info.Response)
	assert.Same(t, req, info.Original)

	assert.Equal(t, http.MethodPost, adapted.Method)
	assert.Equal(t, "/api/thing", adapted.URL.Path)
	assert.Equal(t, "x=1", adapted.URL.RawQuery)
	assert.Equal(t, "yes", adapted.Header.Get("X-Test"))
	body, err := io.ReadAll(adapted.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	assert.Nil(t, ConnInfoFromRequest(req))
}

func TestRenderNotFound(t *testing.T) {
	var calls int
	b := newTestBridge(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}), nil)

	res, err := b.Render(httptest.NewRequest(http.MethodGet, "/missing", nil), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not found", readBody(t, res))
	assert.EqualValues(t, len("not found"), res.ContentLength)
	assert.Equal(t, 1, calls)
}

func TestRenderDefaultsToOK(t *testing.T) {
	b := newTestBridge(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<h1>hi</h1>")
	}), nil)

	res, err := b.Render(httptest.NewRequest(http.MethodGet, "/", nil), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/html", res.Header.Get("Content-Type"))
	assert.Equal(t, "<h1>hi</h1>", readBody(t, res))
}

func TestRenderPathOverride(t *testing.T) {
	var seen, original string
	b := newTestBridge(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.RequestURI()
		original = ConnInfoFromRequest(r).Original.URL.Path
	}), nil)

	res, err := b.Render(httptest.NewRequest(http.MethodGet, "/other", nil), "/custom")
	require.NoError(t, err)
	readBody(t, res)
	assert.Equal(t, "/custom", seen)
	assert.Equal(t, "/other", original)

	res, err = b.Render(httptest.NewRequest(http.MethodGet, "/other?a=b", nil), "/custom?c=d")
	require.NoError(t, err)
	readBody(t, res)
	assert.Equal(t, "/custom?c=d", seen)
}

func TestRenderKeepsOriginalRequest(t *testing.T) {
	var info *ConnInfo
	var adapted *http.Request
	b := newTestBridge(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adapted = r
		info = ConnInfoFromRequest(r)
	}), nil)

	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	res, err := b.Render(req, "")
	require.NoError(t, err)
	readBody(t, res)
	require.NotNil(t, info)
	assert.Same(t, req, info.Original)
	assert.NotSame(t, req, adapted)
}

func TestRenderInvalidPath(t *testing.T) {
	b := newTestBridge(http.NotFoundHandler(), nil)
	_, err := b.Render(httptest.NewRequest(http.MethodGet, "/", nil), "custom")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestRenderIndependentPairs(t *testing.T) {
	var mu sync.Mutex
	var infos []*ConnInfo
	b := newTestBridge(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		infos = append(infos, ConnInfoFromRequest(r))
		mu.Unlock()
		w.Header().Set("X-Path", r.URL.Path)
		_, _ = io.WriteString(w, r.URL.Path)
	}), nil)

	first, err := b.Render(httptest.NewRequest(http.MethodGet, "/same", nil), "")
	require.NoError(t, err)
	second, err := b.Render(httptest.NewRequest(http.MethodGet, "/same", nil), "")
	require.NoError(t, err)

	require.Len(t, infos, 2)
	assert.NotSame(t, infos[0], infos[1])
	assert.NotSame(t, infos[0].Response, infos[1].Response)
	assert.NotSame(t, infos[0].Original, infos[1].Original)

	first.Header.Set("X-Path", "changed")
	assert.Equal(t, "/same", second.Header.Get("X-Path"))
	assert.Equal(t, "/same", readBody(t, first))
	assert.Equal(t, "/same", readBody(t, second))
}

func TestRenderStreamsAfterFlush(t *testing.T) {
	release := make(chan struct{})
	b := newTestBridge(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "first\n")
		w.(http.Flusher).Flush()
		<-release
		_, _ = io.WriteString(w, "second\n")
	}), nil)

	res, err := b.Render(httptest.NewRequest(http.MethodGet, "/stream", nil), "")
	require.NoError(t, err)
	assert.EqualValues(t, -1, res.ContentLength)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	br := bufio.NewReader(res.Body)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "first\n", line)

	close(release)
	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(rest))
	require.NoError(t, res.Body.Close())
}

func TestRenderRecoversPanic(t *testing.T) {
	b := newTestBridge(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), nil)

	res, err := b.Render(httptest.NewRequest(http.MethodGet, "/", nil), "")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrHandlerPanic)
}

func TestRenderContextCanceled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	b := newTestBridge(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	_, err := b.Render(req, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResponseWriterRepliesOnce(t *testing.T) {
	var replies int
	rw := newResponseWriter(func(*http.Response) { replies++ })
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusTeapot)
	_, _ = rw.Write([]byte("x"))
	rw.finish(nil)
	rw.finish(nil)

	assert.Equal(t, 1, replies)
	assert.Equal(t, http.StatusCreated, rw.Status())
	_, err := rw.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrResponseFinished)
}

func TestUpgradeDefaultsHead(t *testing.T) {
	var head []byte
	var called int
	b := newTestBridge(nil, UpgraderFunc(func(r *http.Request, sock *Socket, h []byte) error {
		called++
		head = h
		assert.NotNil(t, sock.Info())
		sock.Reject(http.StatusBadRequest)
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/_next/webpack-hmr", nil)
	req.Header.Set("Upgrade", "websocket")
	result, err := b.Upgrade(httptest.NewRecorder(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, called)
	assert.NotNil(t, head)
	assert.Len(t, head, 0)
	assert.False(t, result.Upgraded)
	assert.Equal(t, http.StatusBadRequest, result.Status)
}

func TestUpgradeKeepsOriginalRequest(t *testing.T) {
	var info *ConnInfo
	b := newTestBridge(nil, UpgraderFunc(func(r *http.Request, sock *Socket, h []byte) error {
		info = sock.Info()
		sock.Reject(http.StatusBadRequest)
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/_next/webpack-hmr", nil)
	req.Header.Set("Upgrade", "websocket")
	_, err := b.Upgrade(httptest.NewRecorder(), req, nil)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Same(t, req, info.Original)
}

func TestUpgradeWithoutHandshake(t *testing.T) {
	b := newTestBridge(nil, UpgraderFunc(func(r *http.Request, sock *Socket, h []byte) error {
		return nil
	}))
	result, err := b.Upgrade(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.ErrorIs(t, err, ErrNoHandshake)
	assert.False(t, result.Upgraded)
	assert.Equal(t, http.StatusBadGateway, result.Status)

	b.Upgrader = nil
	_, err = b.Upgrade(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.ErrorIs(t, err, ErrNoUpgrader)
}

// echoUpgrader accepts any upgrade and echoes lines back until the client hangs up
var echoUpgrader = UpgraderFunc(func(r *http.Request, sock *Socket, head []byte) error {
	conn, brw, err := sock.Hijack()
	if err != nil {
		return err
	}
	defer conn.Close()

	_, _ = brw.WriteString("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")
	if err := brw.Flush(); err != nil {
		return err
	}
	sock.Accept()

	for {
		line, err := brw.ReadString('\n')
		if err != nil {
			return nil
		}
		_, _ = brw.WriteString(line)
		_ = brw.Flush()
	}
})

func TestUpgradeAcceptOverRealConnection(t *testing.T) {
	b := newTestBridge(nil, echoUpgrader)
	results := make(chan UpgradeResult, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := b.Upgrade(w, r, nil)
		assert.NoError(t, err)
		results <- result
	}))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "GET /_next/webpack-hmr HTTP/1.1\r\nHost: test\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n")
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	res, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, res.StatusCode)

	result := <-results
	assert.True(t, result.Upgraded)

	_, err = io.WriteString(conn, "ping\n")
	require.NoError(t, err)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)
}
