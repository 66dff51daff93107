package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sumgrid/internal/cluster"
	"sumgrid/internal/dispatch"
	"sumgrid/internal/election"
	"sumgrid/internal/heartbeat"
	"sumgrid/internal/task"
)

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Node      *cluster.Node
	Dispatch  *dispatch.Router
	Election  *election.Manager
	Heartbeat *heartbeat.Manager
	Tasks     *task.Manager
	Executor  *task.Executor
}

// TaskSubmission is the client-facing submission body.
type TaskSubmission struct {
	ProjectDescription string `json:"project_description" binding:"required"`
	UserEmail          string `json:"user_email"`
}

func (s *Server) registerRoutes(d Deps) {
	started := time.Now()

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).String(),
			"node":   s.identity.ID,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/status", func(c *gin.Context) {
		snapshot := d.Node.Status()
		c.JSON(http.StatusOK, gin.H{
			"node_id":         snapshot.NodeID,
			"is_leader":       snapshot.IsLeader,
			"leader_id":       snapshot.LeaderID,
			"alive_nodes":     snapshot.Alive,
			"ip":              s.identity.IP,
			"port":            s.identity.Port,
			"state":           s.State().String(),
			"tasks":           d.Tasks.Counts(),
			"tasks_processed": d.Executor.Processed(),
		})
	})

	// Shared wire protocol between nodes.
	s.router.POST("/dispatch", func(c *gin.Context) {
		var req dispatch.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, d.Dispatch.Dispatch(c.Request.Context(), req))
	})

	s.router.POST("/heartbeat", func(c *gin.Context) {
		var ping heartbeat.Ping
		if err := c.ShouldBindJSON(&ping); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d.Heartbeat.Receive(ping.NodeID)
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
	})

	s.router.POST("/election", func(c *gin.Context) {
		var msg election.Message
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d.Election.Receive(c.Request.Context(), msg.NodeID, msg.ElectionID)
		c.JSON(http.StatusOK, gin.H{"status": "received"})
	})

	s.router.POST("/leader", func(c *gin.Context) {
		var ann election.Announcement
		if err := c.ShouldBindJSON(&ann); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if ann.LeaderID != 0 {
			d.Election.ReceiveAnnouncement(ann.LeaderID)
		}
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
	})

	s.router.POST("/submit_task", func(c *gin.Context) {
		var sub TaskSubmission
		if err := c.ShouldBindJSON(&sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if !d.Node.IsLeader() {
			s.forwardToLeader(c, d, sub)
			return
		}

		id := d.Tasks.Create(sub.ProjectDescription, sub.UserEmail)
		c.JSON(http.StatusOK, gin.H{
			"task_id": id,
			"status":  "submitted",
			"message": "task accepted by leader",
		})
	})

	s.router.GET("/tasks/:id", func(c *gin.Context) {
		t, ok := d.Tasks.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusOK, t)
	})

	s.router.POST("/execute_task", func(c *gin.Context) {
		var a task.Assignment
		if err := c.ShouldBindJSON(&a); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, d.Executor.Execute(c.Request.Context(), a))
	})
}

// forwardToLeader relays a submission from a worker to the current leader.
func (s *Server) forwardToLeader(c *gin.Context, d Deps, sub TaskSubmission) {
	leaderID, leaderAddr, ok := d.Node.LeaderRecord()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no leader available"})
		return
	}

	body, err := json.Marshal(sub)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost,
		"http://"+leaderAddr+"/submit_task", bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Int("leader", leaderID).Msg("submit forward failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to forward to leader: " + err.Error()})
		return
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(resp.StatusCode, "application/json", payload)
}
