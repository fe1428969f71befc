// Package server implements the WebGIS REST backend.
package server

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chai2010/webp"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const etagCap = 64

var (
	blankTileOnce sync.Once
	blankTile     []byte
)

// transparentTile returns a lossless 256x256 transparent webp tile.
func transparentTile() []byte {
	blankTileOnce.Do(func() {
		var buf bytes.Buffer
		img := image.NewNRGBA(image.Rect(0, 0, 256, 256))
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
			log.Error().Err(err).Msg("Failed to encode blank tile")
			return
		}
		blankTile = buf.Bytes()
	})
	return blankTile
}

// HandleIndex serves the map application, or redirects to the login page
// without a session.
func (s *ServerContext) HandleIndex(c *gin.Context) {
	if _, ok := s.sessionUser(c); !ok {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	s.servePage(c, s.Pages.Index)
}

// HandleLoginPage serves the login form.
func (s *ServerContext) HandleLoginPage(c *gin.Context) {
	s.servePage(c, s.Pages.Login)
}

func (s *ServerContext) servePage(c *gin.Context, page []byte) {
	etag := fmt.Sprintf(`"%x"`, len(page))

	if match := c.GetHeader("If-None-Match"); match == etag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("ETag", etag)
	c.Header("Cache-Control", "public, no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// HandleHealth reports liveness and database reachability.
func (s *ServerContext) HandleHealth(c *gin.Context) {
	dbOK := s.Store != nil && s.Store.Ping(c.Request.Context()) == nil
	status := "healthy"
	if !dbOK {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": s.now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		"database":  dbOK,
		"version":   Version,
	})
}

// HandleTile serves a cached basemap tile, /tiles/{z}/{x}/{y}.webp. Missing
// tiles are answered with a transparent one.
func (s *ServerContext) HandleTile(c *gin.Context) {
	z, x, y := c.Param("z"), c.Param("x"), c.Param("y")
	if !isNumber(z) || !isNumber(x) || !strings.HasSuffix(y, ".webp") || !isNumber(strings.TrimSuffix(y, ".webp")) {
		c.Status(http.StatusNotFound)
		return
	}

	path := filepath.Join(s.Config.Server.TilesDir, z, x, y)
	if s.serveFile(c.Writer, c.Request, path, "image/webp") {
		return
	}

	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, "image/webp", transparentTile())
}

func isNumber(s string) bool {
	_, err := strconv.ParseUint(s, 10, 32)
	return err == nil
}

// HandleWatch upgrades to the change stream of the session user.
func (s *ServerContext) HandleWatch(c *gin.Context) {
	if err := s.Hub.Serve(c.Writer, c.Request, currentUser(c).Username); err != nil {
		log.Debug().Err(err).Msg("Websocket upgrade failed")
	}
}

// serveFile tries to serve a file from disk with ETag generation.
// It returns true if the file was found and served (or 304).
func (s *ServerContext) serveFile(w http.ResponseWriter, r *http.Request, path string, contentType string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}

	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, info.Size(), 16)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, info.ModTime().UnixNano(), 16)
	buf = append(buf, '"')
	etag := string(buf)

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	http.ServeFile(w, r, path)
	return true
}
