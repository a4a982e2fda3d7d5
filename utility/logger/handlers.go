package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	ctxKeysMu sync.RWMutex
	ctxKeys   = make(map[any]string)
)

// RegisterContextKey registers a context key whose value is added to every
// record logged with a context carrying it.
func RegisterContextKey(ctxKey any, logKey string) {
	ctxKeysMu.Lock()
	defer ctxKeysMu.Unlock()
	ctxKeys[ctxKey] = logKey
}

type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	ctxKeysMu.RLock()
	for ctxKey, logKey := range ctxKeys {
		if val := ctx.Value(ctxKey); val != nil {
			r.AddAttrs(slog.Any(logKey, val))
		}
	}
	ctxKeysMu.RUnlock()

	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{h.Handler.WithGroup(name)}
}

var (
	levelColors = map[slog.Level]lipgloss.Color{
		slog.LevelDebug: lipgloss.Color("5"), // Purple
		slog.LevelInfo:  lipgloss.Color("4"), // Blue
		slog.LevelWarn:  lipgloss.Color("3"), // Yellow
		slog.LevelError: lipgloss.Color("1"), // Red
	}
	levelStyle = lipgloss.NewStyle().Width(8).Bold(true)
	keyStyle   = lipgloss.NewStyle().
			Foreground(lipgloss.Color("6")). // Cyan
			Bold(true)
	errKeyStyle = keyStyle.Foreground(lipgloss.Color("9"))
)

// localHandler renders records as a single coloured line:
//
//	INFO:   message cve=CVE-2020-1234 repo=https://github.com/a/b
type localHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
}

func newLocalHandler(w io.Writer, level slog.Leveler) *localHandler {
	return &localHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
	}
}

func (h *localHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *localHandler) Handle(_ context.Context, r slog.Record) error {
	sb := &strings.Builder{}
	sb.WriteString(levelStyle.Foreground(levelColors[r.Level]).Render(r.Level.String() + ":"))
	sb.WriteString(r.Message)

	write := func(a slog.Attr) bool {
		style := keyStyle
		if a.Key == "err" || a.Key == "error" {
			style = errKeyStyle
		}
		sb.WriteString(" " + style.Render(a.Key+"="))
		sb.WriteString(fmt.Sprintf("%v", a.Value))

		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, sb.String())

	return err
}

func (h *localHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &localHandler{
		mu:    h.mu,
		w:     h.w,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

// WithGroup is unsupported; group names are dropped.
func (h *localHandler) WithGroup(_ string) slog.Handler {
	return h
}
