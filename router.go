// router.go
package webapp

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
)

// Handler is webapp's request handler signature.
type Handler func(c *Ctx) error

// Middleware wraps a Handler to produce another Handler.
type Middleware func(Handler) Handler

// ErrorHandlerFunc converts a Handler error into a response.
type ErrorHandlerFunc func(c *Ctx, err error)

// PanicError wraps a recovered panic value together with the stack trace
// captured at the point of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return "panic recovered"
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Router is a thin, middleware-aware wrapper around http.ServeMux.
//
// A Router may be scoped with Prefix/With to share a sub-tree of routes
// and middleware without affecting the parent.
type Router struct {
	mux  *http.ServeMux
	base string

	global []Middleware
	scoped []Middleware

	errHandler ErrorHandlerFunc
	log        *slog.Logger

	// Compat bridges plain net/http handlers and middleware into this Router.
	Compat *httpRouter
}

// NewRouter creates an empty Router with stdlib defaults.
func NewRouter() *Router {
	r := &Router{
		mux: http.NewServeMux(),
		log: defaultLogger(),
	}
	r.Compat = &httpRouter{r: r}
	return r
}

// Logger returns the router's logger.
func (r *Router) Logger() *slog.Logger { return r.log }

// SetLogger replaces the router's logger. A nil logger is ignored.
func (r *Router) SetLogger(l *slog.Logger) {
	if l != nil {
		r.log = l
	}
}

// Use appends global middleware, run for every request regardless of scope.
func (r *Router) Use(mw ...Middleware) { r.global = append(r.global, mw...) }

// ErrorHandler sets the handler invoked when a route Handler returns a
// non-nil error (including recovered panics, wrapped as *PanicError).
func (r *Router) ErrorHandler(fn ErrorHandlerFunc) { r.errHandler = fn }

// Prefix returns a sub-router whose routes are registered under base,
// sharing the same underlying mux. Middleware added via Use on the returned
// router is scoped to routes registered through it, not to the parent.
func (r *Router) Prefix(base string) *Router {
	sub := &Router{
		mux:        r.mux,
		base:       joinPath(r.base, base),
		errHandler: r.errHandler,
		log:        r.log,
		global:     append([]Middleware{}, r.global...),
	}
	sub.Compat = &httpRouter{r: sub}
	return sub
}

// With returns a sub-router identical to the receiver but with additional
// scoped middleware appended, without mutating the receiver.
func (r *Router) With(mw ...Middleware) *Router {
	sub := &Router{
		mux:        r.mux,
		base:       r.base,
		errHandler: r.errHandler,
		log:        r.log,
		global:     append([]Middleware{}, r.global...),
		scoped:     append(append([]Middleware{}, r.scoped...), mw...),
	}
	sub.Compat = &httpRouter{r: sub}
	return sub
}

func (r *Router) fullPath(p string) string { return joinPath(r.base, p) }

// Get registers a GET route.
func (r *Router) Get(path string, h Handler) { r.Handle(http.MethodGet, path, h) }

// Post registers a POST route.
func (r *Router) Post(path string, h Handler) { r.Handle(http.MethodPost, path, h) }

// Put registers a PUT route.
func (r *Router) Put(path string, h Handler) { r.Handle(http.MethodPut, path, h) }

// Delete registers a DELETE route.
func (r *Router) Delete(path string, h Handler) { r.Handle(http.MethodDelete, path, h) }

// Patch registers a PATCH route.
func (r *Router) Patch(path string, h Handler) { r.Handle(http.MethodPatch, path, h) }

// Handle registers h for method and path under the router's scope, wrapping
// it with scoped middleware (innermost) so scoped middleware always runs
// before the handler, after global middleware.
func (r *Router) Handle(method, path string, h Handler) {
	full := r.fullPath(path)
	wrapped := h
	for i := len(r.scoped) - 1; i >= 0; i-- {
		wrapped = r.scoped[i](wrapped)
	}
	pattern := method + " " + full
	r.mux.Handle(pattern, r.terminal(wrapped))
}

// Static serves fsys under prefix, redirecting prefix to prefix+"/" and
// serving index files the way http.FileServer does.
func (r *Router) Static(prefix string, fsys http.FileSystem) {
	full := r.fullPath(prefix)
	fileServer := http.FileServer(fsys)

	var stripped http.Handler
	if full == "/" {
		stripped = fileServer
	} else {
		stripped = http.StripPrefix(full, fileServer)
	}

	wrapped := Handler(func(c *Ctx) error {
		stripped.ServeHTTP(c.Writer(), c.Request())
		return nil
	})
	for i := len(r.scoped) - 1; i >= 0; i-- {
		wrapped = r.scoped[i](wrapped)
	}

	h := r.terminal(wrapped)

	if full != "/" {
		r.mux.Handle(full, http.RedirectHandler(full+"/", http.StatusMovedPermanently))
	}
	routePrefix := full
	if !strings.HasSuffix(routePrefix, "/") {
		routePrefix += "/"
	}
	r.mux.Handle(routePrefix, h)
}

// terminal builds the final http.Handler for one route: global middleware,
// panic recovery, Ctx construction, then the route's (already scoped-wrapped)
// Handler, finishing with error handling.
func (r *Router) terminal(h Handler) http.Handler {
	chain := h
	for i := len(r.global) - 1; i >= 0; i-- {
		chain = r.global[i](chain)
	}
	errHandler := r.errHandler
	if errHandler == nil {
		errHandler = defaultErrorHandler
	}
	logger := r.log

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c := newCtx(w, req, logger)

		var err error
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					err = &PanicError{Value: rec, Stack: debug.Stack()}
				}
			}()
			err = chain(c)
		}()

		if err != nil {
			errHandler(c, err)
		}
	})
}

func defaultErrorHandler(c *Ctx, err error) {
	var pe *PanicError
	if errors.As(err, &pe) {
		c.Logger().Error("panic recovered", slog.Any("value", pe.Value), slog.String("stack", string(pe.Stack)))
	} else {
		c.Logger().Error("handler error", slog.Any("error", err))
	}
	http.Error(c.Writer(), http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// ServeHTTP implements http.Handler, dispatching through the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// cleanLeading ensures p starts with a single leading slash.
func cleanLeading(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// joinPath joins a base and a sub-path into a single clean, leading-slash path.
// Under a non-empty base a trailing slash on the sub-path is dropped; with no
// base the sub-path is returned as given (apart from its leading slash).
func joinPath(base, p string) string {
	base = strings.TrimSuffix(base, "/")
	p = cleanLeading(p)
	if p == "/" {
		if base == "" {
			return "/"
		}
		return base
	}
	if base == "" {
		return p
	}
	return base + strings.TrimSuffix(p, "/")
}

// httpRouter bridges plain net/http handlers and middleware into a Router,
// for code migrating from or interoperating with the standard library.
type httpRouter struct {
	r *Router
}

// Handle registers a plain http.Handler for all methods at path.
func (h *httpRouter) Handle(path string, handler http.Handler) {
	full := h.r.fullPath(path)
	wrapped := Handler(func(c *Ctx) error {
		handler.ServeHTTP(c.Writer(), c.Request())
		return nil
	})
	for i := len(h.r.scoped) - 1; i >= 0; i-- {
		wrapped = h.r.scoped[i](wrapped)
	}
	h.r.mux.Handle(full, h.r.terminal(wrapped))
}

// HandleMethod registers a plain http.Handler for one method at path,
// responding 405 Method Not Allowed for any other method.
func (h *httpRouter) HandleMethod(method, path string, handler http.Handler) {
	full := h.r.fullPath(path)
	h.r.Handle(method, path, func(c *Ctx) error {
		handler.ServeHTTP(c.Writer(), c.Request())
		return nil
	})
	_ = full
}

// Mount registers a plain http.Handler for all methods at path (alias of Handle).
func (h *httpRouter) Mount(path string, handler http.Handler) { h.Handle(path, handler) }

// Use installs a standard net/http middleware func as global middleware.
func (h *httpRouter) Use(mw func(http.Handler) http.Handler) {
	h.r.Use(func(next Handler) Handler {
		return func(c *Ctx) error {
			var handlerErr error
			wrapped := mw(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				c.SetWriter(w)
				handlerErr = next(c)
			}))
			wrapped.ServeHTTP(c.Writer(), c.Request())
			return handlerErr
		}
	})
}

// Group calls fn with a *httpRouter scoped under prefix.
func (h *httpRouter) Group(prefix string, fn func(*httpRouter)) {
	sub := h.r.Prefix(prefix)
	fn(sub.Compat)
}
