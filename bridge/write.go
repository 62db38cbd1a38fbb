package bridge

import (
	"errors"
	"io"
	"net/http"
)

// WriteResponse copies res onto w and closes its body. Bodies of unknown length are flushed
// chunk by chunk so streamed renders reach the client as they are produced.
func WriteResponse(w http.ResponseWriter, res *http.Response) error {
	defer res.Body.Close()

	for key, vals := range res.Header {
		w.Header().Del(key)
		for _, val := range vals {
			w.Header().Add(key, val)
		}
	}
	w.WriteHeader(res.StatusCode)

	_, err := copyBody(w, res.Body, res.ContentLength < 0)
	return err
}

func copyBody(w http.ResponseWriter, body io.Reader, flush bool) (int64, error) {
	if !flush {
		return io.Copy(w, body)
	}
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
