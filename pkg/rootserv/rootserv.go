// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rootserv

import (
	"bedguard/pkg/logger"
	"context"
	"errors"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"
)

const shutdownGrace = 5 * time.Second

type mount struct {
	Path string
	Desc string
}

// RootServer serves a set of sub-handlers under path prefixes plus an
// index page listing them.
type RootServer struct {
	log      *logger.Logger
	addr     string
	mux      *http.ServeMux
	mounts   []mount
	mainPage http.Handler
	prio     int
}

func New(addr string) *RootServer {
	return &RootServer{
		addr: addr,
		mux:  http.NewServeMux(),
		log:  logger.New("HTTPServer"),
	}
}

// WithPriority sets the start order relative to other services.
func (rs *RootServer) WithPriority(p int) *RootServer {
	rs.prio = p
	return rs
}

func (rs *RootServer) Priority() int { return rs.prio }

// Attach mounts handler under path with the prefix stripped.
// Path "/" makes it the main page instead of the index redirect.
func (rs *RootServer) Attach(path, desc string, handler http.Handler) {
	if path == "/" {
		rs.mainPage = handler
		rs.log.Info("Main page: %s", desc)
		return
	}

	path = "/" + strings.Trim(path, "/")
	rs.mounts = append(rs.mounts, mount{Path: path, Desc: desc})
	rs.mux.Handle(path+"/", http.StripPrefix(path, handler))
	rs.log.Info("Attach: %s (%s)", path, desc)
}

// Handler returns the complete routing tree.
func (rs *RootServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", rs.mux)
	mux.HandleFunc("GET /index", rs.handleIndex)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		if rs.mainPage != nil {
			rs.mainPage.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "/index", http.StatusTemporaryRedirect)
	})
	return mux
}

var indexPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>bedguard</title></head><body>
<h1>Available Sub-Servers</h1><ul>
{{range .}}<li><a href="{{.Path}}/">{{.Path}}</a> - {{.Desc}}</li>
{{end}}</ul></body></html>
`))

func (rs *RootServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	mounts := append([]mount(nil), rs.mounts...)
	sort.Slice(mounts, func(i, j int) bool { return mounts[i].Path < mounts[j].Path })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexPage.Execute(w, mounts); err != nil {
		rs.log.Error("render index: %v", err)
	}
}

// Run serves until ctx is canceled.
func (rs *RootServer) Run(ctx context.Context) {
	rs.log.Info("Running on %s...", rs.addr)

	srv := &http.Server{
		Addr:              rs.addr,
		Handler:           rs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rs.log.Warn("shutdown: %v", err)
		}
		rs.log.Info("Stopped")
	case err := <-errCh:
		// the device keeps running without its web surface
		rs.log.Error("Stopped: %v", err)
	}
}
