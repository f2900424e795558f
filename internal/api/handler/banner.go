package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/d9705996/rollcall/internal/api/jsonapi"
	"github.com/d9705996/rollcall/internal/banner"
)

const bannerType = "banners"

// keepAliveInterval spaces SSE comment frames on an idle stream.
const keepAliveInterval = 15 * time.Second

// BannerHandler handles /api/v1/banners/* routes. It is the host page of
// the welcome banners held by a banner.Registry.
type BannerHandler struct {
	banners *banner.Registry
	log     *slog.Logger
}

// NewBannerHandler creates a BannerHandler.
func NewBannerHandler(reg *banner.Registry, log *slog.Logger) *BannerHandler {
	return &BannerHandler{banners: reg, log: log}
}

func bannerResource(id string, s banner.Snapshot) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type:       bannerType,
		ID:         id,
		Attributes: s,
		Links:      &jsonapi.Links{Self: "/api/v1/banners/" + id},
	}
}

// decodeInput reads {"name": "..."}; an empty body is an empty input.
func decodeInput(r *http.Request) (banner.Input, error) {
	var in banner.Input
	if err := decodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
		return banner.Input{}, err
	}
	return in, nil
}

func (h *BannerHandler) renderLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, banner.ErrNotFound) {
		jsonapi.NotFound(w, "no banner with id "+id)
		return
	}
	h.log.Error("banner lookup failed", "banner_id", id, "err", err)
	jsonapi.RenderError(w, http.StatusInternalServerError, "internal", "Internal Server Error", "banner lookup failed")
}

// Create handles POST /api/v1/banners. The new banner is activated at once.
func (h *BannerHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(r)
	if err != nil {
		renderInvalidBody(w, err)
		return
	}
	id, snap := h.banners.Open(in)
	jsonapi.RenderOne(w, http.StatusCreated, bannerResource(id, snap))
}

// List handles GET /api/v1/banners.
func (h *BannerHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.banners.List()
	data := make([]any, len(all))
	for i, l := range all {
		data[i] = bannerResource(l.ID, l.Snapshot)
	}
	jsonapi.RenderList(w, http.StatusOK, data, &jsonapi.Links{Self: "/api/v1/banners"})
}

// Show handles GET /api/v1/banners/{id}.
func (h *BannerHandler) Show(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := h.banners.Get(id)
	if err != nil {
		h.renderLookupError(w, id, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, bannerResource(id, snap))
}

// Update handles PUT /api/v1/banners/{id}: the input changed, so the
// banner restarts its cycle even when the name is the same.
func (h *BannerHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	in, err := decodeInput(r)
	if err != nil {
		renderInvalidBody(w, err)
		return
	}
	snap, err := h.banners.Change(id, in)
	if err != nil {
		h.renderLookupError(w, id, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, bannerResource(id, snap))
}

// Delete handles DELETE /api/v1/banners/{id}: the banner is removed from
// the page and torn down.
func (h *BannerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.banners.Close(id); err != nil {
		h.renderLookupError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /api/v1/banners/{id}/events. It streams the current
// snapshot and then one per state change as server-sent events. The
// stream ends when the client goes away or the banner is torn down;
// disconnecting does not tear the banner down.
func (h *BannerHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Only the newest snapshots matter to a display, so a slow reader
	// loses the oldest queued ones rather than blocking the banner.
	updates := make(chan banner.Snapshot, 8)
	push := func(s banner.Snapshot) {
		for {
			select {
			case updates <- s:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	}

	unsubscribe, err := h.banners.Subscribe(id, push)
	if err != nil {
		h.renderLookupError(w, id, err)
		return
	}
	defer unsubscribe()

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.Warn("banner events: clear write deadline", "err", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case s := <-updates:
			if err := writeBannerEvent(w, id, s); err != nil {
				h.log.Debug("banner events: write failed", "banner_id", id, "err", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if s.State == banner.StateTornDown {
				return
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeBannerEvent(w io.Writer, id string, s banner.Snapshot) error {
	data, err := jsonapi.Marshal(bannerResource(id, s))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: banner\ndata: %s\n\n", data)
	return err
}
