package playbackmodule

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumira-media/lumira/internal/errors"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/capabilities"
	"github.com/lumira-media/lumira/internal/modules/playbackmodule/session"
)

func (m *Module) handleStart(c *gin.Context) {
	// Defaults distinguish "absent" from zero values.
	req := session.StartRequest{
		CapabilityVersion:   -1,
		AudioStreamIndex:    -1,
		SubtitleStreamIndex: -1,
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.RespondValidation(c, "invalid start request body", "body")
		return
	}

	payload, err := m.orch.Start(c.Request.Context(), &req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (m *Module) handleResume(c *gin.Context) {
	var req struct {
		Capabilities      *capabilities.Declaration `json:"capabilities,omitempty"`
		CapabilityVersion int                       `json:"capabilityVersion"`
	}
	req.CapabilityVersion = -1
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errors.RespondValidation(c, "invalid resume request body", "body")
			return
		}
	}

	payload, err := m.orch.Resume(c.Request.Context(), c.Param("sessionId"),
		req.Capabilities, req.CapabilityVersion)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (m *Module) handleHeartbeat(c *gin.Context) {
	req := session.HeartbeatRequest{CapabilityVersion: -1}
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.RespondValidation(c, "invalid heartbeat body", "body")
		return
	}

	payload, err := m.orch.Heartbeat(c.Request.Context(), c.Param("sessionId"), &req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (m *Module) handleDecide(c *gin.Context) {
	req := session.DecideRequest{CapabilityVersion: -1}
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.RespondValidation(c, "invalid decide body", "body")
		return
	}

	payload, err := m.orch.Decide(c.Request.Context(), c.Param("sessionId"), &req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (m *Module) handleSeek(c *gin.Context) {
	var req session.SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.RespondValidation(c, "invalid seek body", "body")
		return
	}

	payload, err := m.orch.Seek(c.Request.Context(), c.Param("sessionId"), &req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (m *Module) handleStop(c *gin.Context) {
	var req session.StopRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errors.RespondValidation(c, "invalid stop body", "body")
			return
		}
	}

	if err := m.orch.Stop(c.Request.Context(), c.Param("sessionId"), &req); err != nil {
		errors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Module) handleGetSession(c *gin.Context) {
	sess, err := m.orch.Get(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// handleCapabilities stores a declaration outside any other operation, for
// clients that re-probe their environment mid-session.
func (m *Module) handleCapabilities(c *gin.Context) {
	var req struct {
		capabilities.Declaration
		CapabilityVersion int `json:"capabilityVersion"`
	}
	req.CapabilityVersion = -1
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.RespondValidation(c, "invalid capability declaration", "body")
		return
	}

	result, err := m.caps.Upsert(c.Param("sessionId"), &req.Declaration, req.CapabilityVersion)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"capabilityVersion":         result.EffectiveVersion,
		"capabilityVersionMismatch": result.Mismatch,
		"changed":                   result.Changed,
	})
}

func (m *Module) handleQueue(c *gin.Context) {
	startIndex, _ := strconv.Atoi(c.DefaultQuery("startIndex", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	chunk, err := m.orch.Chunk(c.Request.Context(), c.Param("sessionId"), startIndex, limit)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, chunk)
}

func (m *Module) handleModes(c *gin.Context) {
	var req session.ModesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.RespondValidation(c, "invalid modes body", "body")
		return
	}

	nav, err := m.orch.SetModes(c.Request.Context(), c.Param("sessionId"), &req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, nav)
}

// Direct-file endpoints. Range requests are handled by http.ServeFile
// underneath gin's c.File.

func (m *Module) handlePartFile(c *gin.Context) {
	part, err := m.catalog.GetPart(c.Request.Context(), c.Param("partId"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			errors.Respond(c, errors.NotFound("media part", c.Param("partId")))
			return
		}
		errors.Respond(c, errors.Internal("failed to load part", err))
		return
	}
	c.File(part.Path)
}

func (m *Module) handleItemFile(c *gin.Context) {
	// Items resolve through their first part.
	facts, err := m.catalog.GetFacts(c.Request.Context(), c.Param("itemId"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			errors.Respond(c, errors.NotFound("library item", c.Param("itemId")))
			return
		}
		errors.Respond(c, errors.Internal("failed to load item", err))
		return
	}
	c.File(facts.Part.Path)
}

func (m *Module) handleTrickplay(c *gin.Context) {
	item, err := m.catalog.GetItem(c.Request.Context(), c.Param("itemId"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			errors.Respond(c, errors.NotFound("library item", c.Param("itemId")))
			return
		}
		errors.Respond(c, errors.Internal("failed to load item", err))
		return
	}
	if item.TrickplayPath == "" {
		errors.Respond(c, errors.NotFound("trickplay track", item.ID))
		return
	}
	c.File(item.TrickplayPath)
}
