package bridge

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// ResponseWriter buffers what the hosted handler writes and turns it into a single
// *http.Response. Once Flush is called the response is delivered with a streaming body and
// later writes go straight through.
type ResponseWriter struct {
	mu          sync.Mutex
	header      http.Header
	status      int
	wroteHeader bool
	buf         bytes.Buffer

	// set once streaming
	pw *io.PipeWriter

	reply   func(*http.Response)
	replied bool
	done    bool

	req *http.Request
}

func newResponseWriter(reply func(*http.Response)) *ResponseWriter {
	return &ResponseWriter{
		header: make(http.Header),
		reply:  reply,
	}
}

func (rw *ResponseWriter) Header() http.Header {
	return rw.header
}

func (rw *ResponseWriter) WriteHeader(statusCode int) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.writeHeaderLocked(statusCode)
}

func (rw *ResponseWriter) writeHeaderLocked(statusCode int) {
	if rw.wroteHeader {
		return
	}
	// 1xx are informational, the final status is still to come
	if statusCode >= 100 && statusCode < 200 && statusCode != http.StatusSwitchingProtocols {
		return
	}
	rw.status = statusCode
	rw.wroteHeader = true
}

func (rw *ResponseWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	if rw.done {
		rw.mu.Unlock()
		return 0, ErrResponseFinished
	}
	rw.writeHeaderLocked(http.StatusOK)
	if rw.pw == nil {
		defer rw.mu.Unlock()
		return rw.buf.Write(p)
	}
	pw := rw.pw
	rw.mu.Unlock()

	// The pipe blocks until the reader catches up, so no lock here
	return pw.Write(p)
}

// Flush delivers the response now. The caller reads the rest of the body as it is written.
func (rw *ResponseWriter) Flush() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.pw != nil || rw.done {
		return
	}
	rw.writeHeaderLocked(http.StatusOK)

	pr, pw := io.Pipe()
	rw.pw = pw
	prefix := bytes.Clone(rw.buf.Bytes())
	rw.buf.Reset()

	res := rw.responseLocked(struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(prefix), pr), pr}, -1)
	rw.replyLocked(res)
}

// Status is the status the handler wrote, 0 if it has not written one yet.
func (rw *ResponseWriter) Status() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.status
}

// Replied reports whether the completion callback has fired.
func (rw *ResponseWriter) Replied() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.replied
}

// finish completes the response when the handler returns. A non-nil err aborts a streaming
// body, and suppresses the reply if nothing was delivered yet.
func (rw *ResponseWriter) finish(err error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.done {
		return
	}
	rw.done = true

	if rw.pw != nil {
		rw.pw.CloseWithError(err)
		return
	}
	if err != nil {
		return
	}

	rw.writeHeaderLocked(http.StatusOK)
	body := bytes.Clone(rw.buf.Bytes())
	res := rw.responseLocked(io.NopCloser(bytes.NewReader(body)), int64(len(body)))
	rw.replyLocked(res)
}

func (rw *ResponseWriter) responseLocked(body io.ReadCloser, contentLength int64) *http.Response {
	header := rw.header.Clone()
	if contentLength >= 0 && header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
	res := &http.Response{
		Status:        strconv.Itoa(rw.status) + " " + http.StatusText(rw.status),
		StatusCode:    rw.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: contentLength,
		Request:       rw.req,
	}
	return res
}

func (rw *ResponseWriter) replyLocked(res *http.Response) {
	if rw.replied {
		return
	}
	rw.replied = true
	if rw.reply != nil {
		rw.reply(res)
	}
}
