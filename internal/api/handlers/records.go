package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"automator/internal/actions"
	"automator/internal/models"
	"automator/pkg/database"
	"automator/pkg/response"
	"automator/pkg/utils"
)

func GetRecords(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}

	var records []models.Record
	var total int64

	query := database.DB.Model(&models.Record{})
	query.Count(&total)

	offset := (page - 1) * pageSize
	err := query.Preload("User").Order("create_timestamp DESC").
		Offset(offset).Limit(pageSize).Find(&records).Error
	if err != nil {
		response.InternalServerError(c, "failed to list records")
		return
	}

	for i := range records {
		records[i].User.Password = ""
	}

	response.Page(c, records, total, page, pageSize)
}

type recordRequest struct {
	Name      string           `json:"name" binding:"required,min=1,max=200"`
	Actions   []actions.Action `json:"actions"`
	AutoRun   bool             `json:"auto_run"`
	Frequency int64            `json:"frequency" binding:"min=0"`
	Paused    bool             `json:"paused"`
	TabHref   string           `json:"tab_href" binding:"max=1000"`
}

func CreateRecord(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "not logged in")
		return
	}

	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(req.Actions) == 0 {
		response.BadRequest(c, "a record needs at least one action")
		return
	}
	for _, a := range req.Actions {
		if err := a.Validate(); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	record := models.Record{
		Name:      req.Name,
		AutoRun:   req.AutoRun,
		Frequency: req.Frequency,
		Paused:    req.Paused,
		TabHref:   req.TabHref,
		UserID:    userID.(uint),
	}
	if err := record.SetActions(req.Actions); err != nil {
		response.BadRequest(c, "failed to encode actions")
		return
	}

	// Save goes through the store so the executor sees the change
	// event and schedules the record.
	if err := deps.Records.Save(&record); err != nil {
		response.InternalServerError(c, "failed to create record")
		return
	}

	response.SuccessWithMessage(c, "record created", record)
}

func GetRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid record id")
		return
	}

	record, err := deps.Records.Load(id)
	if err != nil {
		response.NotFound(c, "record not found")
		return
	}

	acts, err := record.GetActions()
	if err != nil {
		response.InternalServerError(c, "record actions are corrupt")
		return
	}

	record.User.Password = ""
	response.Success(c, gin.H{
		"record":  record,
		"actions": acts,
	})
}

func UpdateRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid record id")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "not logged in")
		return
	}

	record, err := deps.Records.Load(id)
	if err != nil {
		response.NotFound(c, "record not found")
		return
	}
	if !utils.HasPermissionOnRecord(userID.(uint), record.ID) {
		response.Forbidden(c, "no permission on this record")
		return
	}

	var req struct {
		Name      string           `json:"name" binding:"omitempty,min=1,max=200"`
		Actions   []actions.Action `json:"actions"`
		AutoRun   *bool            `json:"auto_run"`
		Frequency *int64           `json:"frequency"`
		Paused    *bool            `json:"paused"`
		TabHref   string           `json:"tab_href" binding:"max=1000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if req.Name != "" {
		record.Name = req.Name
	}
	if req.AutoRun != nil {
		record.AutoRun = *req.AutoRun
	}
	if req.Frequency != nil {
		record.Frequency = *req.Frequency
	}
	if req.Paused != nil {
		record.Paused = *req.Paused
	}
	if req.TabHref != "" {
		record.TabHref = req.TabHref
	}
	if req.Actions != nil {
		for _, a := range req.Actions {
			if err := a.Validate(); err != nil {
				response.BadRequest(c, err.Error())
				return
			}
		}
		if err := record.SetActions(req.Actions); err != nil {
			response.BadRequest(c, "failed to encode actions")
			return
		}
	}

	if err := deps.Records.Save(record); err != nil {
		response.InternalServerError(c, "failed to update record")
		return
	}

	record.User.Password = ""
	response.SuccessWithMessage(c, "record updated", record)
}

func DeleteRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid record id")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "not logged in")
		return
	}

	record, err := deps.Records.Load(id)
	if err != nil {
		response.NotFound(c, "record not found")
		return
	}
	if !utils.HasPermissionOnRecord(userID.(uint), record.ID) {
		response.Forbidden(c, "no permission on this record")
		return
	}

	if err := deps.Records.Delete(record); err != nil {
		response.InternalServerError(c, "failed to delete record")
		return
	}

	response.SuccessWithMessage(c, "record deleted", nil)
}

// pauseRecord flips the paused flag through the store so the change
// stream keeps the executor's view current.
func pauseRecord(c *gin.Context, paused bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid record id")
		return
	}

	record, err := deps.Records.Load(id)
	if err != nil {
		response.NotFound(c, "record not found")
		return
	}

	record.Paused = paused
	if err := deps.Records.Save(record); err != nil {
		response.InternalServerError(c, "failed to update record")
		return
	}

	if paused {
		response.SuccessWithMessage(c, "record paused", record)
	} else {
		response.SuccessWithMessage(c, "record resumed", record)
	}
}

func PauseRecord(c *gin.Context)  { pauseRecord(c, true) }
func ResumeRecord(c *gin.Context) { pauseRecord(c, false) }

// ExecuteRecord replays a record once, immediately, tracking the run
// in a RecordExecution row.
func ExecuteRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid record id")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "not logged in")
		return
	}

	record, err := deps.Records.Load(id)
	if err != nil {
		response.NotFound(c, "record not found")
		return
	}

	execution := models.RecordExecution{
		RecordID:  record.ID,
		Status:    "running",
		StartTime: time.Now(),
		Logs:      "[]",
		UserID:    userID.(uint),
	}
	if err := database.DB.Create(&execution).Error; err != nil {
		response.InternalServerError(c, "failed to create execution")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		runErr := deps.Exec.ExecRecord(ctx, record)

		now := time.Now()
		execution.EndTime = &now
		execution.Duration = int(now.Sub(execution.StartTime).Milliseconds())
		if runErr != nil {
			execution.Status = "failed"
			execution.ErrorMessage = runErr.Error()
		} else {
			execution.Status = "passed"
		}
		if err := database.DB.Save(&execution).Error; err != nil {
			log.Printf("failed to save execution %d result: %v", execution.ID, err)
		}
	}()

	response.SuccessWithMessage(c, "execution started", execution)
}
