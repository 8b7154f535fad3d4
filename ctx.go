// ctx.go
package webapp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
	"unicode/utf8"
)

// Ctx carries the per-request state handed to every Handler.
type Ctx struct {
	w   http.ResponseWriter
	r   *http.Request
	rc  *http.ResponseController
	log *slog.Logger

	status      int
	wroteHeader bool
}

func newCtx(w http.ResponseWriter, r *http.Request, log *slog.Logger) *Ctx {
	if log == nil {
		log = slog.Default()
	}
	return &Ctx{
		w:      w,
		r:      r,
		rc:     http.NewResponseController(w),
		log:    log,
		status: http.StatusOK,
	}
}

// Request returns the underlying *http.Request.
func (c *Ctx) Request() *http.Request { return c.r }

// Writer returns the underlying http.ResponseWriter.
func (c *Ctx) Writer() http.ResponseWriter { return c.w }

// Response is an alias for Writer, matching handlers that reach for the
// response object directly instead of going through Ctx's write helpers.
func (c *Ctx) Response() http.ResponseWriter { return c.w }

// SetWriter swaps the response writer, rebuilding the ResponseController.
// Used by middleware that wraps the writer (gzip, buffering, ...).
func (c *Ctx) SetWriter(w http.ResponseWriter) {
	c.w = w
	c.rc = http.NewResponseController(w)
}

// Header returns the response header map.
func (c *Ctx) Header() http.Header { return c.w.Header() }

// Context returns the request's context.Context.
func (c *Ctx) Context() context.Context { return c.r.Context() }

// Logger returns the request-scoped logger.
func (c *Ctx) Logger() *slog.Logger { return c.log }

// Status records the status code to use on the next write. It does not
// flush headers by itself.
func (c *Ctx) Status(code int) *Ctx {
	if !c.wroteHeader {
		c.status = code
	}
	return c
}

// StatusCode reports the status recorded so far.
func (c *Ctx) StatusCode() int { return c.status }

func (c *Ctx) writeHeader() {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.w.WriteHeader(c.status)
}

// Param returns a path value set by the router (Go 1.22 ServeMux {name} patterns).
func (c *Ctx) Param(name string) string { return c.r.PathValue(name) }

// Query returns the first value of a query parameter.
func (c *Ctx) Query(name string) string {
	if c.r.URL == nil {
		return ""
	}
	return c.r.URL.Query().Get(name)
}

// QueryValues returns the full parsed query string.
func (c *Ctx) QueryValues() url.Values {
	if c.r.URL == nil {
		return url.Values{}
	}
	return c.r.URL.Query()
}

// Form parses and returns application/x-www-form-urlencoded or multipart values.
func (c *Ctx) Form() (url.Values, error) {
	if err := c.r.ParseForm(); err != nil {
		return nil, err
	}
	return c.r.Form, nil
}

// MultipartForm parses a multipart body up to maxMemory bytes held in memory,
// returning a cleanup func that removes any temp files.
func (c *Ctx) MultipartForm(maxMemory int64) (*multipart.Form, func(), error) {
	if err := c.r.ParseMultipartForm(maxMemory); err != nil {
		return nil, func() {}, err
	}
	form := c.r.MultipartForm
	return form, func() {
		if form != nil {
			_ = form.RemoveAll()
		}
	}, nil
}

// Cookie returns a named request cookie.
func (c *Ctx) Cookie(name string) (*http.Cookie, error) { return c.r.Cookie(name) }

// SetCookie appends a Set-Cookie header.
func (c *Ctx) SetCookie(ck *http.Cookie) { http.SetCookie(c.w, ck) }

// ErrBindTooLarge is returned by Bind when the body exceeds maxBytes.
var ErrBindTooLarge = errors.New("webapp: request body too large")

// Bind decodes a JSON body into v, rejecting unknown fields and trailing
// data. maxBytes of 0 means unlimited.
func (c *Ctx) Bind(v any, maxBytes int64) error {
	body := io.Reader(c.r.Body)
	if maxBytes > 0 {
		body = io.LimitReader(body, maxBytes+1)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("webapp: decode body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("webapp: unexpected trailing data in body")
	}
	if maxBytes > 0 {
		// Confirm we didn't silently truncate: if the limited reader still
		// had bytes beyond maxBytes, Decode would have either errored on a
		// truncated token or succeeded on a body that fit. Re-check size by
		// attempting one more read.
		var extra [1]byte
		if n, _ := body.Read(extra[:]); n > 0 {
			return ErrBindTooLarge
		}
	}
	return nil
}

// JSON writes v as a JSON response, setting Content-Type if unset.
func (c *Ctx) JSON(code int, v any) error {
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	c.Status(code)
	c.writeHeader()
	return json.NewEncoder(c.w).Encode(v)
}

// HTML writes a raw HTML response body.
func (c *Ctx) HTML(code int, body string) error {
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	c.Status(code)
	c.writeHeader()
	_, err := io.WriteString(c.w, body)
	return err
}

// Text writes a plain-text response body. A body that is not valid UTF-8 is
// labeled application/octet-stream instead of text/plain.
func (c *Ctx) Text(code int, body string) error {
	if c.Header().Get("Content-Type") == "" {
		if utf8.ValidString(body) {
			c.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			c.Header().Set("Content-Type", "application/octet-stream")
		}
	}
	c.Status(code)
	c.writeHeader()
	_, err := io.WriteString(c.w, body)
	return err
}

// Bytes writes a raw byte response with contentType, defaulting to
// application/octet-stream when contentType is empty.
func (c *Ctx) Bytes(code int, body []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", contentType)
	}
	c.Status(code)
	c.writeHeader()
	_, err := c.w.Write(body)
	return err
}

// Write implements io.Writer, locking the status on first use.
func (c *Ctx) Write(p []byte) (int, error) {
	c.writeHeader()
	return c.w.Write(p)
}

// WriteString writes a string, locking the status on first use.
func (c *Ctx) WriteString(s string) (int, error) {
	c.writeHeader()
	return io.WriteString(c.w, s)
}

// NoContent writes an empty 204 response.
func (c *Ctx) NoContent() error {
	c.status = http.StatusNoContent
	c.writeHeader()
	return nil
}

// Redirect writes a redirect response. code of 0 defaults to 302 Found.
func (c *Ctx) Redirect(code int, target string) error {
	if code == 0 {
		code = http.StatusFound
	}
	http.Redirect(c.w, c.r, target, code)
	return nil
}

// File serves a single file from disk. code of 0 uses the ctx's recorded status.
func (c *Ctx) File(code int, path string) error {
	if code != 0 {
		c.status = code
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	c.writeHeader()
	http.ServeContent(c.w, c.r, fi.Name(), fi.ModTime(), f)
	return nil
}

// Download serves a file as an attachment with the given download name.
func (c *Ctx) Download(code int, path, name string) error {
	c.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	return c.File(code, path)
}

// Stream calls fn with the response writer, flushing the header first.
func (c *Ctx) Stream(fn func(w io.Writer) error) error {
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", "application/octet-stream")
	}
	c.writeHeader()
	return fn(c.w)
}

// SSE streams values from ch as text/event-stream frames until ch is closed
// or the request context is canceled, then emits a final "end" event.
func (c *Ctx) SSE(ch <-chan any) error {
	flusher, ok := c.w.(http.Flusher)
	if !ok {
		return errors.New("webapp: ResponseWriter does not support flushing")
	}
	c.Header().Set("Content-Type", "text/event-stream")
	c.Header().Set("Cache-Control", "no-cache")
	c.Header().Set("Connection", "keep-alive")
	c.writeHeader()

	ctx := c.r.Context()
	for {
		select {
		case v, open := <-ch:
			if !open {
				fmt.Fprintf(c.w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				return nil
			}
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Flush flushes buffered output if the writer supports it.
func (c *Ctx) Flush() {
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
}

// SetWriteDeadline proxies to the underlying ResponseController.
func (c *Ctx) SetWriteDeadline(t time.Time) error { return c.rc.SetWriteDeadline(t) }

// EnableFullDuplex proxies to the underlying ResponseController.
func (c *Ctx) EnableFullDuplex() error { return c.rc.EnableFullDuplex() }

// Hijack takes over the connection for protocols like WebSocket.
func (c *Ctx) Hijack() (net.Conn, *bufio.ReadWriter, error) { return c.rc.Hijack() }
