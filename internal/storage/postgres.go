package storage

import (
	"campuschat/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Service is the PostgreSQL implementation of Storage.
type Service struct {
	DB  *gorm.DB
	log *logrus.Entry
}

var _ Storage = (*Service)(nil)

// NewStorageService wraps an open GORM handle.
func NewStorageService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{
		DB:  db,
		log: logger.WithField("component", "storage"),
	}
}

// OpenPostgres connects with duplicate-key translation enabled so that
// unique violations surface as gorm.ErrDuplicatedKey.
func OpenPostgres(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	return db, nil
}

// Migrate creates or updates the chat tables.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.ChatRoom{},
		&models.Message{},
		&models.BlockRelation{},
	)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateRoom inserts a new room. A concurrent insert for the same pair
// fails with ErrDuplicate.
func (s *Service) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	if err := s.DB.WithContext(ctx).Create(room).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		s.log.WithError(err).Error("failed to create room")
		return err
	}
	return nil
}

// FindRoomByPair looks the pair up in either order.
func (s *Service) FindRoomByPair(ctx context.Context, a, b models.Participant) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).
		Where("pair_key = ?", models.PairKey(a, b)).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Service) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Error("failed to get room")
		return nil, err
	}
	return &room, nil
}

// ListRoomsForUser returns the user's rooms, most recently active first.
func (s *Service) ListRoomsForUser(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.DB.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("last_activity_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// DeleteRoom removes the room and all of its messages.
func (s *Service) DeleteRoom(ctx context.Context, roomID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", roomID).Delete(&models.ChatRoom{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AppendMessage stores msg and bumps the room's activity timestamp in one
// transaction. The room must exist.
func (s *Service) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ChatRoom{}).
			Where("id = ?", msg.RoomID).
			Updates(map[string]interface{}{
				"last_activity_at": msg.CreatedAt,
				"updated_at":       gorm.Expr("NOW()"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(msg).Error
	})
}

// ListMessages returns limit messages skipping the offset newest ones, in
// chronological order.
func (s *Service) ListMessages(ctx context.Context, roomID string, offset, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// LastMessages returns the newest message of every given room.
func (s *Service) LastMessages(ctx context.Context, roomIDs []string) (map[string]models.Message, error) {
	out := make(map[string]models.Message, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}
	rawSQL := `
        SELECT DISTINCT ON (room_id) *
        FROM messages
        WHERE room_id IN ?
        ORDER BY room_id, created_at DESC, id DESC
    `
	var msgs []models.Message
	if err := s.DB.WithContext(ctx).Raw(rawSQL, roomIDs).Scan(&msgs).Error; err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.RoomID] = m
	}
	return out, nil
}

// MarkRead flips every unread message in the room not sent by readerID.
func (s *Service) MarkRead(ctx context.Context, roomID, readerID string) (int64, error) {
	res := s.DB.WithContext(ctx).
		Model(&models.Message{}).
		Where("room_id = ? AND sender_id <> ? AND is_read = ?", roomID, readerID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (s *Service) UnreadCountForRoom(ctx context.Context, roomID, userID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).
		Model(&models.Message{}).
		Where("room_id = ? AND sender_id <> ? AND is_read = ?", roomID, userID, false).
		Count(&n).Error
	return n, err
}

// unreadScope joins messages with the rooms the user belongs to.
func (s *Service) unreadScope(ctx context.Context, userID string) *gorm.DB {
	return s.DB.WithContext(ctx).
		Table("messages AS m").
		Joins("JOIN chat_rooms AS r ON r.id = m.room_id").
		Where("(r.user1_id = ? OR r.user2_id = ?) AND m.sender_id <> ? AND m.is_read = ?", userID, userID, userID, false)
}

// UnreadCountsByRoom returns per-room unread counts in a single grouped query.
// Rooms without unread messages are absent from the map.
func (s *Service) UnreadCountsByRoom(ctx context.Context, userID string) (map[string]int64, error) {
	var rows []struct {
		RoomID string
		Unread int64
	}
	err := s.unreadScope(ctx, userID).
		Select("m.room_id AS room_id, COUNT(*) AS unread").
		Group("m.room_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.RoomID] = r.Unread
	}
	return out, nil
}

// TotalUnreadCount is the sum of UnreadCountsByRoom, computed by the database.
func (s *Service) TotalUnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.unreadScope(ctx, userID).Count(&n).Error
	return n, err
}

// Block is idempotent.
func (s *Service) Block(ctx context.Context, blockerID, blockedID string) error {
	rel := models.BlockRelation{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: time.Now()}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rel).Error
}

func (s *Service) Unblock(ctx context.Context, blockerID, blockedID string) error {
	res := s.DB.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.BlockRelation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListBlocked(ctx context.Context, blockerID string) ([]models.BlockRelation, error) {
	var rels []models.BlockRelation
	err := s.DB.WithContext(ctx).
		Where("blocker_id = ?", blockerID).
		Order("created_at DESC").
		Find(&rels).Error
	return rels, err
}

func (s *Service) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).
		Model(&models.BlockRelation{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Count(&n).Error
	return n > 0, err
}
