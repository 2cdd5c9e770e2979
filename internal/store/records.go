// Package store is the persistence collaborator for records: CRUD over
// the database plus a change-notification stream the executor uses to
// keep its schedule in step with saves and deletes.
package store

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"automator/internal/models"
)

// ErrRecordNotFound is returned when no record carries the given id.
var ErrRecordNotFound = errors.New("record not found")

// ChangeType distinguishes the events on the change stream.
type ChangeType int

const (
	ChangeCreated ChangeType = iota
	ChangeUpdated
	ChangeDeleted
)

// ChangeEvent is one persisted-record mutation.
type ChangeEvent struct {
	Type   ChangeType
	Record models.Record
}

// Records owns record persistence. The executor never writes records;
// it only loads them and watches the change stream.
type Records struct {
	db *gorm.DB

	mu   sync.Mutex
	subs []chan ChangeEvent
}

// NewRecords builds a record store over db.
func NewRecords(db *gorm.DB) *Records {
	return &Records{db: db}
}

// Load fetches one record by its unique id (its create timestamp).
func (s *Records) Load(id int64) (*models.Record, error) {
	var rec models.Record
	err := s.db.Where("create_timestamp = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %d: %w", id, err)
	}
	return &rec, nil
}

// LoadMany fetches all records, newest first. A zero userID loads
// everyone's records (the top-window executor schedules them all).
func (s *Records) LoadMany(userID uint) ([]models.Record, error) {
	var recs []models.Record
	q := s.db.Order("create_timestamp DESC")
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	return recs, nil
}

// Save creates the record on first write and updates it afterwards,
// keyed by CreateTimestamp, then notifies watchers.
func (s *Records) Save(rec *models.Record) error {
	now := time.Now().UnixMilli()
	if rec.CreateTimestamp == 0 {
		rec.CreateTimestamp = now
	}
	rec.UpdateTimestamp = now

	var existing models.Record
	err := s.db.Where("create_timestamp = ?", rec.CreateTimestamp).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to create record %q: %w", rec.Name, err)
		}
		s.notify(ChangeEvent{Type: ChangeCreated, Record: *rec})
	case err != nil:
		return fmt.Errorf("failed to look up record %d: %w", rec.CreateTimestamp, err)
	default:
		rec.ID = existing.ID
		if err := s.db.Save(rec).Error; err != nil {
			return fmt.Errorf("failed to update record %d: %w", rec.CreateTimestamp, err)
		}
		s.notify(ChangeEvent{Type: ChangeUpdated, Record: *rec})
	}
	return nil
}

// Delete removes the record and notifies watchers.
func (s *Records) Delete(rec *models.Record) error {
	if err := s.db.Delete(&models.Record{}, rec.ID).Error; err != nil {
		return fmt.Errorf("failed to delete record %d: %w", rec.CreateTimestamp, err)
	}
	s.notify(ChangeEvent{Type: ChangeDeleted, Record: *rec})
	return nil
}

// Watch subscribes to the change stream. The channel is buffered; a
// subscriber that falls behind loses events rather than blocking the
// writer.
func (s *Records) Watch() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Records) notify(ev ChangeEvent) {
	s.mu.Lock()
	subs := make([]chan ChangeEvent, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			log.Printf("record store: dropping change event for slow watcher (record %d)", ev.Record.CreateTimestamp)
		}
	}
}
