// Package api exposes a read-only diagnostics HTTP surface over a
// replica's status snapshot. It is explicitly not part of the Raft
// protocol: the UDP transport in internal/transport is the only contract
// real peers and clients speak, and this server never mutates replica
// state -- it only reads the Status a replica publishes once per event
// loop iteration.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/kelridge/raftkv/internal/raft"
)

// Server wraps a gin engine bound to one replica's status snapshot.
type Server struct {
	engine *gin.Engine
	addr   string
}

// New builds the diagnostics server for replica, listening on addr. addr
// is expected to come from config.Config.HTTPAddr; an empty addr means
// the caller should not start the server at all.
func New(replica *raft.Replica, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/status", func(c *gin.Context) {
		status := replica.Status()
		c.JSON(http.StatusOK, gin.H{
			"id":           status.ID,
			"role":         status.Role,
			"term":         status.Term,
			"leader":       status.Leader,
			"commit_index": status.CommitIndex,
			"last_applied": status.LastApplied,
			"log_length":   len(status.Log),
		})
	})

	engine.GET("/log", func(c *gin.Context) {
		c.JSON(http.StatusOK, replica.Status().Log)
	})

	engine.GET("/kv", func(c *gin.Context) {
		c.JSON(http.StatusOK, replica.Status().KV)
	})

	return &Server{engine: engine, addr: addr}
}

// Run starts serving and blocks until the listener fails. Callers
// typically invoke this in its own goroutine.
func (s *Server) Run() error {
	handler := cors.AllowAll().Handler(s.engine)
	log.Info().Str("addr", s.addr).Msg("diagnostics server listening")
	return http.ListenAndServe(s.addr, handler)
}
