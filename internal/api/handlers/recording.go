package handlers

import (
	"github.com/gin-gonic/gin"

	"automator/internal/actions"
	"automator/internal/models"
	"automator/pkg/response"
)

type startRecordingRequest struct {
	TargetURL string `json:"target_url" binding:"required,url"`
}

// StartRecording launches a capture browser on the target URL.
func StartRecording(c *gin.Context) {
	var req startRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	sessionID, err := deps.Recording.Start(c.Request.Context(), req.TargetURL)
	if err != nil {
		response.InternalServerError(c, "failed to start recording: "+err.Error())
		return
	}

	response.SuccessWithMessage(c, "recording started", gin.H{
		"session_id": sessionID,
		"target_url": req.TargetURL,
	})
}

type stopRecordingRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// StopRecording ends the capture and returns the committed action
// list. An empty list means there is nothing to save.
func StopRecording(c *gin.Context) {
	var req stopRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	committed, err := deps.Recording.Stop(req.SessionID)
	if err != nil {
		response.InternalServerError(c, "failed to stop recording: "+err.Error())
		return
	}

	response.SuccessWithMessage(c, "recording stopped", gin.H{
		"session_id": req.SessionID,
		"actions":    committed,
		"count":      len(committed),
	})
}

// GetRecordingStatus reports whether a session is still capturing and
// how many raw actions it has staged.
func GetRecordingStatus(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.BadRequest(c, "session_id is required")
		return
	}

	recording, staged, err := deps.Recording.Status(sessionID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"session_id": sessionID,
		"recording":  recording,
		"staged":     staged,
	})
}

type saveRecordingRequest struct {
	SessionID string           `json:"session_id" binding:"required"`
	Name      string           `json:"name" binding:"required,min=1,max=200"`
	AutoRun   bool             `json:"auto_run"`
	Frequency int64            `json:"frequency" binding:"min=0"`
	TabHref   string           `json:"tab_href" binding:"max=1000"`
	Actions   []actions.Action `json:"actions"`
}

// SaveRecording turns a stopped session's committed actions into a
// persisted record. The caller may send edited actions; otherwise the
// session's committed list is used.
func SaveRecording(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "not logged in")
		return
	}

	var req saveRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	acts := req.Actions
	if acts == nil {
		var err error
		acts, err = deps.Recording.Committed(req.SessionID)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if len(acts) == 0 {
		response.BadRequest(c, "nothing recorded, no record to save")
		return
	}
	for _, a := range acts {
		if err := a.Validate(); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	record := models.Record{
		Name:      req.Name,
		AutoRun:   req.AutoRun,
		Frequency: req.Frequency,
		TabHref:   req.TabHref,
		UserID:    userID.(uint),
	}
	if record.TabHref == "" && len(acts) > 0 {
		record.TabHref = acts[0].TabHref
	}
	if err := record.SetActions(acts); err != nil {
		response.InternalServerError(c, "failed to encode actions")
		return
	}

	// The in-memory draft is not discarded on failure: the session
	// stays registered so the user can retry the save.
	if err := deps.Records.Save(&record); err != nil {
		response.InternalServerError(c, "failed to save record: "+err.Error())
		return
	}
	deps.Recording.Cleanup(req.SessionID)

	response.SuccessWithMessage(c, "record saved", record)
}

// RecordingWebSocket upgrades to the extension bus: connected
// extension contexts identify themselves and exchange routed
// request/response messages through the hub.
func RecordingWebSocket(c *gin.Context) {
	deps.Hub.HandleWS(c.Writer, c.Request)
}
