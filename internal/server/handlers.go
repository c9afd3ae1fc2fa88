package server

import (
	"net/http"
	"strings"

	"github.com/czhmisaka/Html2Img/internal/model"
	"github.com/czhmisaka/Html2Img/internal/pipeline"
	"github.com/czhmisaka/Html2Img/internal/render"
	"github.com/czhmisaka/Html2Img/internal/sanitize"
	"github.com/labstack/echo/v4"
)

const (
	headerCache    = "X-Cache"
	headerCacheKey = "X-Cache-Key"
)

type sanitizeRequest struct {
	HTML    string           `json:"html"`
	Options sanitize.Options `json:"options"`
}

type sanitizeResponse struct {
	Result string `json:"result"`
}

type renderRequest struct {
	HTML     string            `json:"html"`
	Options  render.Options    `json:"options"`
	Sanitize *sanitize.Options `json:"sanitize,omitempty"`
	Cache    *bool             `json:"cache,omitempty"` // default true when the server has a cache
}

func (r renderRequest) pipelineRequest() pipeline.Request {
	return pipeline.Request{Markup: r.HTML, Options: r.Options, Sanitize: r.Sanitize}
}

type cacheResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Cached bool   `json:"cached"`
}

type handler struct {
	svc Service
}

func (h *handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/sanitize
func (h *handler) sanitize(c echo.Context) error {
	var req sanitizeRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	out, err := h.svc.Sanitize(req.HTML, req.Options)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sanitizeResponse{Result: out})
}

// POST /api/screenshot
func (h *handler) screenshot(c echo.Context) error {
	var req renderRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if !h.svc.CacheEnabled() || (req.Cache != nil && !*req.Cache) {
		res, err := h.svc.Render(ctx, req.pipelineRequest())
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, res.ContentType, res.Data)
	}

	out, err := h.svc.RenderCached(ctx, req.pipelineRequest())
	if err != nil {
		return err
	}
	hdr := c.Response().Header()
	hdr.Set(headerCacheKey, out.Key)
	if out.Hit {
		hdr.Set(headerCache, "HIT")
	} else {
		hdr.Set(headerCache, "MISS")
	}
	return c.Blob(http.StatusOK, out.Result.ContentType, out.Result.Data)
}

// POST /api/cache renders into the cache and returns where to fetch the image.
func (h *handler) cache(c echo.Context) error {
	if !h.svc.CacheEnabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "cache is disabled")
	}

	var req renderRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	out, err := h.svc.RenderCached(c.Request().Context(), req.pipelineRequest())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cacheResponse{
		ID:     out.Key,
		URL:    "/cache/" + out.Key + ".png",
		Cached: out.Hit,
	})
}

// GET /cache/:id
func (h *handler) cachedImage(c echo.Context) error {
	id := strings.TrimSuffix(c.Param("id"), ".png")

	res, err := h.svc.Lookup(id)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "image not found")
		}
		return err
	}
	return c.Blob(http.StatusOK, res.ContentType, res.Data)
}
