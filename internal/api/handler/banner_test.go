package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/d9705996/rollcall/internal/api/handler"
	"github.com/d9705996/rollcall/internal/api/jsonapi"
	"github.com/d9705996/rollcall/internal/banner"
	"github.com/d9705996/rollcall/internal/banner/bannertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

type bannerFixture struct {
	mux   *http.ServeMux
	reg   *banner.Registry
	clock *bannertest.Clock
}

func newBannerFixture(t *testing.T) *bannerFixture {
	t.Helper()
	clk := bannertest.NewClock(time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC))
	reg := banner.NewRegistry(banner.RegistryConfig{Clock: clk, Logger: newNullLogger()})
	t.Cleanup(func() { reg.Shutdown() })

	h := handler.NewBannerHandler(reg, newNullLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/banners", h.List)
	mux.HandleFunc("POST /api/v1/banners", h.Create)
	mux.HandleFunc("GET /api/v1/banners/{id}", h.Show)
	mux.HandleFunc("PUT /api/v1/banners/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/banners/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/banners/{id}/events", h.Events)
	return &bannerFixture{mux: mux, reg: reg, clock: clk}
}

func (f *bannerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

type bannerDoc struct {
	Data struct {
		Type       string          `json:"type"`
		ID         string          `json:"id"`
		Attributes banner.Snapshot `json:"attributes"`
	} `json:"data"`
}

func decodeBanner(t *testing.T, body []byte) bannerDoc {
	t.Helper()
	var doc bannerDoc
	require.NoError(t, json.Unmarshal(body, &doc))
	return doc
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var doc jsonapi.ErrorDocument
	require.NoError(t, json.Unmarshal(body, &doc))
	require.Len(t, doc.Errors, 1)
	return doc.Errors[0].Code
}

func TestBanner_Create(t *testing.T) {
	f := newBannerFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/banners", `{"name":"Ana"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, jsonapi.ContentType, w.Header().Get("Content-Type"))

	doc := decodeBanner(t, w.Body.Bytes())
	assert.Equal(t, "banners", doc.Data.Type)
	assert.NotEmpty(t, doc.Data.ID)
	assert.Equal(t, "Welcome, Ana!", doc.Data.Attributes.Greeting)
	assert.True(t, doc.Data.Attributes.Visible)
	assert.Len(t, doc.Data.Attributes.Decorations, banner.DecorationCount)
	assert.Equal(t, 1, f.reg.Len())
}

func TestBanner_CreateDefaults(t *testing.T) {
	f := newBannerFixture(t)

	for _, body := range []string{"", `{}`, `{"name":""}`} {
		w := f.do(t, http.MethodPost, "/api/v1/banners", body)
		require.Equal(t, http.StatusCreated, w.Code, body)
		assert.Equal(t, banner.DefaultName, decodeBanner(t, w.Body.Bytes()).Data.Attributes.Name, body)
	}
}

func TestBanner_CreateInvalidBody(t *testing.T) {
	f := newBannerFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/banners", `{"name":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_body", errorCode(t, w.Body.Bytes()))
	assert.Equal(t, 0, f.reg.Len())
}

func TestBanner_TrailingDataRejected(t *testing.T) {
	f := newBannerFixture(t)
	id, _ := f.reg.Open(banner.Input{Name: "Ana"})

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/v1/banners", `{"name":"a"}garbage`},
		{http.MethodPost, "/api/v1/banners", `{"name":"a"}{"name":"b"}`},
		{http.MethodPut, "/api/v1/banners/" + id, `{"name":"a"} []`},
	} {
		w := f.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.body)
		assert.Equal(t, "invalid_body", errorCode(t, w.Body.Bytes()), tc.body)
	}
	assert.Equal(t, 1, f.reg.Len())

	snap, err := f.reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Ana", snap.Name, "a rejected update leaves the banner alone")

	w := f.do(t, http.MethodPost, "/api/v1/banners", "{\"name\":\"a\"}\n  ")
	assert.Equal(t, http.StatusCreated, w.Code, "trailing whitespace is fine")
}

func TestBanner_CreateWrongFieldType(t *testing.T) {
	f := newBannerFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/banners", `{"name":42}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var doc jsonapi.ErrorDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Errors, 1)
	require.NotNil(t, doc.Errors[0].Source)
	assert.Equal(t, "/name", doc.Errors[0].Source.Pointer)
}

func TestBanner_List(t *testing.T) {
	f := newBannerFixture(t)
	first, _ := f.reg.Open(banner.Input{Name: "Ana"})
	f.clock.Advance(time.Second)
	second, _ := f.reg.Open(banner.Input{Name: "Ben"})

	w := f.do(t, http.MethodGet, "/api/v1/banners", "")
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Data []struct {
			ID         string          `json:"id"`
			Attributes banner.Snapshot `json:"attributes"`
		} `json:"data"`
		Page jsonapi.Pagination `json:"page"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Data, 2)
	assert.Equal(t, first, doc.Data[0].ID)
	assert.Equal(t, second, doc.Data[1].ID)
	assert.Equal(t, "Ben", doc.Data[1].Attributes.Name)
	assert.Equal(t, 2, doc.Page.Total)
}

func TestBanner_ListEmpty(t *testing.T) {
	f := newBannerFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/banners", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestBanner_ShowHidesAfterTimer(t *testing.T) {
	f := newBannerFixture(t)
	id := decodeBanner(t, f.do(t, http.MethodPost, "/api/v1/banners", `{"name":"Ana"}`).Body.Bytes()).Data.ID

	f.clock.Advance(banner.VisibleFor)
	w := f.do(t, http.MethodGet, "/api/v1/banners/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)

	snap := decodeBanner(t, w.Body.Bytes()).Data.Attributes
	assert.Equal(t, banner.StateHidden, snap.State)
	assert.False(t, snap.Visible)
	assert.Empty(t, snap.Decorations)
}

func TestBanner_UpdateRestarts(t *testing.T) {
	f := newBannerFixture(t)
	id := decodeBanner(t, f.do(t, http.MethodPost, "/api/v1/banners", `{"name":"Ana"}`).Body.Bytes()).Data.ID
	f.clock.Advance(banner.VisibleFor)

	w := f.do(t, http.MethodPut, "/api/v1/banners/"+id, `{"name":"Ana"}`)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeBanner(t, w.Body.Bytes()).Data.Attributes
	assert.True(t, snap.Visible)
	assert.Len(t, snap.Decorations, banner.DecorationCount)
	assert.Equal(t, 1, f.clock.Pending())
}

func TestBanner_UnknownID(t *testing.T) {
	f := newBannerFixture(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/banners/nope", ""},
		{http.MethodPut, "/api/v1/banners/nope", `{"name":"Ana"}`},
		{http.MethodDelete, "/api/v1/banners/nope", ""},
		{http.MethodGet, "/api/v1/banners/nope/events", ""},
	} {
		w := f.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, w.Code, tc.method+" "+tc.path)
		assert.Equal(t, "not_found", errorCode(t, w.Body.Bytes()))
	}
}

func TestBanner_UpdateInvalidBody(t *testing.T) {
	f := newBannerFixture(t)
	id, _ := f.reg.Open(banner.Input{Name: "Ana"})

	w := f.do(t, http.MethodPut, "/api/v1/banners/"+id, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBanner_DeleteTearsDown(t *testing.T) {
	f := newBannerFixture(t)
	id, _ := f.reg.Open(banner.Input{Name: "Ana"})

	w := f.do(t, http.MethodDelete, "/api/v1/banners/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, f.reg.Len())
	assert.Equal(t, 0, f.clock.Pending(), "the pending hide is cancelled")

	w = f.do(t, http.MethodGet, "/api/v1/banners/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// readEvent reads one SSE frame and returns its event name and data.
func readEvent(t *testing.T, r *bufio.Reader) (event string, data []byte) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" || data != nil {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = []byte(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestBanner_EventsStream(t *testing.T) {
	f := newBannerFixture(t)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	id, _ := f.reg.Open(banner.Input{Name: "Ana"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/banners/"+id+"/events", http.NoBody)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)

	event, data := readEvent(t, r)
	assert.Equal(t, "banner", event)
	doc := decodeBanner(t, data)
	assert.Equal(t, id, doc.Data.ID)
	assert.Equal(t, banner.StateVisible, doc.Data.Attributes.State)
	assert.Len(t, doc.Data.Attributes.Decorations, banner.DecorationCount)

	f.clock.Advance(banner.VisibleFor)
	_, data = readEvent(t, r)
	assert.Equal(t, banner.StateHidden, decodeBanner(t, data).Data.Attributes.State)

	_, err = f.reg.Change(id, banner.Input{Name: "Ben"})
	require.NoError(t, err)
	_, data = readEvent(t, r)
	snap := decodeBanner(t, data).Data.Attributes
	assert.Equal(t, "Ben", snap.Name)
	assert.True(t, snap.Visible)

	_, err = f.reg.Close(id)
	require.NoError(t, err)
	_, data = readEvent(t, r)
	assert.Equal(t, banner.StateTornDown, decodeBanner(t, data).Data.Attributes.State)

	// The server ends the stream after the terminal snapshot.
	_, err = r.ReadString('\n')
	assert.Error(t, err)
}
