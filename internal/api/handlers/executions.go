package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"automator/internal/models"
	"automator/pkg/database"
	"automator/pkg/response"
	"automator/pkg/utils"
)

func GetExecutions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	recordID := c.Query("record_id")
	status := c.Query("status")

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}

	var executions []models.RecordExecution
	var total int64

	query := database.DB.Model(&models.RecordExecution{})
	if recordID != "" {
		query = query.Where("record_id = ?", recordID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	query.Count(&total)

	offset := (page - 1) * pageSize
	err := query.Preload("Record").Preload("User").Order("start_time DESC").
		Offset(offset).Limit(pageSize).Find(&executions).Error
	if err != nil {
		response.InternalServerError(c, "failed to list executions")
		return
	}

	for i := range executions {
		executions[i].User.Password = ""
	}

	response.Page(c, executions, total, page, pageSize)
}

func GetExecution(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid execution id")
		return
	}

	var execution models.RecordExecution
	err = database.DB.Preload("Record").Preload("User").First(&execution, id).Error
	if err != nil {
		response.NotFound(c, "execution not found")
		return
	}

	execution.User.Password = ""
	response.Success(c, execution)
}

func DeleteExecution(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid execution id")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "not logged in")
		return
	}

	var execution models.RecordExecution
	err = database.DB.First(&execution, id).Error
	if err != nil {
		response.NotFound(c, "execution not found")
		return
	}

	if execution.UserID != userID.(uint) && !utils.IsAdmin(userID.(uint)) {
		response.Forbidden(c, "no permission on this execution")
		return
	}

	err = database.DB.Delete(&execution).Error
	if err != nil {
		response.InternalServerError(c, "failed to delete execution")
		return
	}

	response.SuccessWithMessage(c, "execution deleted", nil)
}

// GetExecutionStatistics aggregates pass/fail counts for the
// dashboard.
func GetExecutionStatistics(c *gin.Context) {
	var total, passed, failed, running int64

	database.DB.Model(&models.RecordExecution{}).Count(&total)
	database.DB.Model(&models.RecordExecution{}).Where("status = ?", "passed").Count(&passed)
	database.DB.Model(&models.RecordExecution{}).Where("status = ?", "failed").Count(&failed)
	database.DB.Model(&models.RecordExecution{}).Where("status = ?", "running").Count(&running)

	response.Success(c, gin.H{
		"total":     total,
		"passed":    passed,
		"failed":    failed,
		"running":   running,
		"scheduled": deps.Exec.ScheduledCount(),
	})
}
