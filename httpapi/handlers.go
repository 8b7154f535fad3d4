package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	validator "github.com/go-playground/validator/v10"

	webapp "github.com/dirsync/syncprov"
	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/live"
	"github.com/dirsync/syncprov/provider"
)

var validate = validator.New()

// errorResponse is the JSON body returned for any handler failure.
type errorResponse struct {
	Error string `json:"error"`
}

// Handlers wires the Search Coordinator and Write Interceptor onto an HTTP
// surface: a refresh-only search endpoint, a WebSocket endpoint that
// upgrades a refresh-and-persist search into a live session, and a
// checkpoint status probe.
type Handlers struct {
	Coordinator *provider.Coordinator
	Interceptor *provider.Interceptor
	Codec       csn.Codec
	Live        *live.Server

	// Registry is optional: when set, /sync/databases/{name}/status reports
	// on whichever Context is registered under that name, independent of
	// the single Coordinator/Interceptor this Handlers instance serves
	// (provider.Registry, SPEC_FULL.md supplemented feature 3).
	Registry *provider.Registry

	mu          sync.Mutex
	initialized map[string]bool
	sessions    map[string]*provider.Session
}

// NewHandlers returns Handlers bound to co/in, constructing the live
// session server from liveOpts with OnMessage/OnClose set to the handlers'
// own implementation — callers should not set those two themselves.
func NewHandlers(co *provider.Coordinator, in *provider.Interceptor, codec csn.Codec, liveOpts live.Options) *Handlers {
	h := &Handlers{
		Coordinator: co,
		Interceptor: in,
		Codec:       codec,
		initialized: make(map[string]bool),
		sessions:    make(map[string]*provider.Session),
	}
	liveOpts.OnMessage = h.handleLiveMessage
	liveOpts.OnClose = h.handleLiveClose
	h.Live = live.New(liveOpts)
	return h
}

// Mount registers the search, live-upgrade, and status routes on r.
func (h *Handlers) Mount(r *webapp.Router) {
	r.Post("/sync/search", h.handleSearch)
	r.Get("/sync/status", h.handleStatus)
	r.Get("/sync/databases/{name}/status", h.handleDatabaseStatus)
	r.Compat.Handle("/sync/live", h.Live.Handler())
}

// handleSearch serves a refresh-only synchronization search synchronously;
// refresh-and-persist searches must instead connect to /sync/live, since a
// persistent session needs a connection that outlives one HTTP request.
func (h *Handlers) handleSearch(c *webapp.Ctx) error {
	var body SearchRequestBody
	if err := c.Bind(&body, 1<<20); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if err := validate.Struct(body); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	if body.Mode == "persist" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "httpapi: persist mode requires /sync/live"})
	}

	req, err := body.toSearchRequest(h.Codec, "", c.Request().Header.Get("X-Request-Id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	out, err := h.Coordinator.Handle(c.Context(), req, nil)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, newSearchResponse("", out))
}

// handleStatus reports the context CSN, for operators polling readiness
// without opening a live session.
func (h *Handlers) handleStatus(c *webapp.Ctx) error {
	return c.JSON(http.StatusOK, checkpointStatusResponse{
		ContextCSN: string(h.Coordinator.Context.GetContextCSN()),
		Learned:    h.Coordinator.Context.Learned(),
	})
}

// handleDatabaseStatus reports on the named Context held in h.Registry,
// independent of whichever database this Handlers instance's Coordinator
// serves — a deployment running several overlay instances looks each one
// up by name rather than standing up one Handlers per database.
func (h *Handlers) handleDatabaseStatus(c *webapp.Ctx) error {
	if h.Registry == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "httpapi: no database registry configured"})
	}
	name := c.Param("name")
	ctx, ok := h.Registry.Get(name)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "httpapi: no database registered as " + name})
	}
	return c.JSON(http.StatusOK, checkpointStatusResponse{
		ContextCSN: string(ctx.GetContextCSN()),
		Learned:    ctx.Learned(),
	})
}

// handleLiveMessage treats a connected session's first message as its
// synchronization request: everything after that is ignored here, since a
// live connection carries no further requests, only notifications pushed
// the other way.
func (h *Handlers) handleLiveMessage(ctx context.Context, s *live.Session, msg live.Message) {
	h.mu.Lock()
	already := h.initialized[s.ID()]
	h.initialized[s.ID()] = true
	h.mu.Unlock()
	if already {
		return
	}

	var body SearchRequestBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		h.sendLiveError(s, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		h.sendLiveError(s, err)
		return
	}
	body.Mode = "persist"

	req, err := body.toSearchRequest(h.Codec, s.ID(), "")
	if err != nil {
		h.sendLiveError(s, err)
		return
	}

	out, err := h.Coordinator.Handle(ctx, req, newLiveSender(s))
	if err != nil {
		h.sendLiveError(s, err)
		return
	}

	if out.Session != nil {
		h.mu.Lock()
		h.sessions[s.ID()] = out.Session
		h.mu.Unlock()
	}

	h.sendLiveOutcome(s, out)
}

func (h *Handlers) sendLiveOutcome(s *live.Session, out *provider.SearchOutcome) {
	resp := newSearchResponse(s.ID(), out)
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = s.Send(live.Message{Type: "refresh", Body: body})
}

func (h *Handlers) sendLiveError(s *live.Session, err error) {
	body, merr := json.Marshal(errorResponse{Error: err.Error()})
	if merr != nil {
		return
	}
	_ = s.Send(live.Message{Type: "error", Body: body})
	_ = s.Close()
}

// handleLiveClose abandons the persistent session backing a closed
// connection, if one was ever registered for it.
func (h *Handlers) handleLiveClose(s *live.Session, _ error) {
	h.mu.Lock()
	sess := h.sessions[s.ID()]
	delete(h.sessions, s.ID())
	delete(h.initialized, s.ID())
	h.mu.Unlock()

	if sess != nil {
		h.Interceptor.Abandon(sess)
	}
}
