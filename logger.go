// logger.go
package webapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"
)

// LogMode selects the Logger middleware's output format.
type LogMode int

const (
	// Auto picks Dev when Output is a terminal, Prod otherwise.
	Auto LogMode = iota
	// Dev uses a colorized, human-readable line-per-request format.
	Dev
	// Prod uses single-line structured JSON.
	Prod
)

// LoggerOptions configures the Logger access-log middleware.
type LoggerOptions struct {
	Mode            LogMode
	Output          io.Writer // defaults to os.Stderr
	Logger          *slog.Logger
	UserAgent       bool
	RequestIDHeader string
	RequestIDGen    func() string
	TraceExtractor  func(ctx context.Context) (traceID, spanID string, sampled bool)
}

// Logger returns a Middleware that emits one log line per request.
func Logger(opts LoggerOptions) Middleware {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var log *slog.Logger
	if opts.Logger != nil {
		log = opts.Logger
	} else {
		mode := opts.Mode
		if mode == Auto {
			if isTerminal(out) {
				mode = Dev
			} else {
				mode = Prod
			}
		}
		var h slog.Handler
		if mode == Dev {
			if supportsColorEnv() {
				h = newColorTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})
			} else {
				h = slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})
			}
		} else {
			h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})
		}
		log = slog.New(h)
	}

	dev := opts.Logger == nil && (opts.Mode == Dev || (opts.Mode == Auto && isTerminal(out)))

	return func(next Handler) Handler {
		return func(c *Ctx) error {
			start := time.Now()

			reqID := ""
			if opts.RequestIDHeader != "" {
				reqID = c.Request().Header.Get(opts.RequestIDHeader)
			}
			if reqID == "" && opts.RequestIDGen != nil {
				reqID = opts.RequestIDGen()
				c.Writer().Header().Set("X-Request-Id", reqID)
			}

			err := next(c)

			attrs := []slog.Attr{
				slog.Int("status", c.StatusCode()),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Request().URL.Path),
				slog.String("host", c.Request().Host),
				slog.Duration("duration", time.Since(start)),
			}
			if c.Request().URL.RawQuery != "" {
				attrs = append(attrs, slog.String("query", c.Request().URL.RawQuery))
			}
			if reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			if opts.UserAgent {
				attrs = append(attrs, slog.String("user_agent", c.Request().Header.Get("User-Agent")))
			}
			if opts.TraceExtractor != nil {
				if tid, sid, sampled := opts.TraceExtractor(c.Request().Context()); tid != "" {
					attrs = append(attrs,
						slog.String("trace_id", tid),
						slog.String("span_id", sid),
						slog.Bool("trace_sampled", sampled),
					)
				}
			}
			if dev {
				attrs = append(attrs, slog.String("latency_human", humanDuration(time.Since(start))))
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}

			level := levelFor(c.StatusCode(), err)
			log.LogAttrs(c.Request().Context(), level, "request", attrs...)

			return err
		}
	}
}

func levelFor(status int, err error) slog.Level {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1e6)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// attrInt extracts an integer-like value from a slog.Attr's Value, used by
// the color handler when rendering numeric fields.
func attrInt(a slog.Attr) (int64, bool) {
	switch a.Value.Kind() {
	case slog.KindInt64:
		return a.Value.Int64(), true
	case slog.KindUint64:
		return int64(a.Value.Uint64()), true
	case slog.KindFloat64:
		return int64(a.Value.Float64()), true
	default:
		return 0, false
	}
}

func genRequestID() string {
	return fmt.Sprintf("%08x", rand.Uint32())
}

func supportsColorEnv() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if runtime.GOOS == "windows" {
		return false
	}
	term := os.Getenv("TERM")
	if term == "" || term == "dumb" {
		return false
	}
	return true
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// colorTextHandler is a minimal slog.Handler emitting "key=value" pairs with
// ANSI coloring by level, used by Dev mode when color is supported.
type colorTextHandler struct {
	w     io.Writer
	opts  *slog.HandlerOptions
	attrs []slog.Attr
}

func newColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *colorTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &colorTextHandler{w: w, opts: opts}
}

func (h *colorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\x1b[31m"
	case level >= slog.LevelWarn:
		return "\x1b[33m"
	case level >= slog.LevelInfo:
		return "\x1b[32m"
	default:
		return "\x1b[36m"
	}
}

func (h *colorTextHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	reset := "\x1b[0m"
	fmt.Fprintf(&b, "%s%s%s %s", levelColor(r.Level), r.Level.String(), reset, r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *colorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := &colorTextHandler{w: h.w, opts: h.opts}
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return n
}

func (h *colorTextHandler) WithGroup(_ string) slog.Handler { return h }

// defaultLogger returns a text slog.Logger writing to stderr at Info level,
// used whenever no logger is supplied to New/NewRouter.
func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
