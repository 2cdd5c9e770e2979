package utils

import (
	"automator/internal/models"
	"automator/pkg/database"
)

// IsAdmin checks if the user with given ID is an admin user
func IsAdmin(userID uint) bool {
	var user models.User
	err := database.DB.First(&user, userID).Error
	if err != nil {
		return false
	}
	return user.Username == "admin"
}

// HasPermissionOnRecord checks if user has permission on a record
// (owner or admin)
func HasPermissionOnRecord(userID uint, recordID uint) bool {
	if IsAdmin(userID) {
		return true
	}

	var record models.Record
	err := database.DB.Where("id = ? AND user_id = ?", recordID, userID).First(&record).Error
	return err == nil
}
