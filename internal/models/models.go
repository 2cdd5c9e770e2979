package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"automator/internal/actions"
)

type BaseModel struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

type User struct {
	BaseModel
	Username string `json:"username" gorm:"uniqueIndex;size:100;not null"`
	Email    string `json:"email" gorm:"uniqueIndex;size:100;not null"`
	Password string `json:"-" gorm:"size:255;not null"`
	Status   int    `json:"status" gorm:"default:1"` // 1:active, 0:inactive
}

// Record is a persisted, named sequence of actions with scheduling
// metadata. CreateTimestamp doubles as the record's unique id: the
// executor keys its scheduling registry by it and never treats its own
// in-memory copy as authoritative.
type Record struct {
	BaseModel
	Name            string `json:"name" gorm:"size:200;not null"`
	Actions         string `json:"-" gorm:"column:actions;type:longtext"` // JSON actions.Action array
	AutoRun         bool   `json:"auto_run" gorm:"default:false"`         // execute on page load
	Frequency       int64  `json:"frequency" gorm:"default:0"`            // repeat interval ms, 0 = run once
	Paused          bool   `json:"paused" gorm:"default:false"`
	CreateTimestamp int64  `json:"create_timestamp" gorm:"uniqueIndex;not null"`
	UpdateTimestamp int64  `json:"update_timestamp"`
	TabHref         string `json:"tab_href" gorm:"size:1000"` // used to relocate the tab at replay time
	UserID          uint   `json:"user_id"`
	User            User   `json:"user" gorm:"foreignKey:UserID"`
}

// GetActions decodes the persisted action list.
func (r *Record) GetActions() ([]actions.Action, error) {
	var list []actions.Action
	if r.Actions == "" {
		return list, nil
	}
	err := json.Unmarshal([]byte(r.Actions), &list)
	return list, err
}

// SetActions encodes the action list for persistence.
func (r *Record) SetActions(list []actions.Action) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	r.Actions = string(data)
	return nil
}

// RecordExecution is one replay of a record: status, timing and the
// per-action log, kept for the history views.
type RecordExecution struct {
	BaseModel
	RecordID     uint       `json:"record_id" gorm:"not null"`
	Record       Record     `json:"record" gorm:"foreignKey:RecordID"`
	Status       string     `json:"status"` // pending, running, passed, failed, cancelled
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	Duration     int        `json:"duration"` // milliseconds
	ErrorMessage string     `json:"error_message" gorm:"type:text"`
	Logs         string     `json:"logs" gorm:"type:longtext"` // JSON format
	UserID       uint       `json:"user_id"`
	User         User       `json:"user" gorm:"foreignKey:UserID"`
}
