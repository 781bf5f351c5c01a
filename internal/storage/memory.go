package storage

import (
	"campuschat/backend/internal/models"
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Storage. It honours the same invariants as
// the PostgreSQL store (one room per pair, cascade delete, atomic append)
// and is used with store.driver=memory and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]*models.ChatRoom
	pairs    map[string]string
	messages map[string][]*models.Message
	blocks   map[string]map[string]time.Time
}

var _ Storage = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]*models.ChatRoom),
		pairs:    make(map[string]string),
		messages: make(map[string][]*models.Message),
		blocks:   make(map[string]map[string]time.Time),
	}
}

func (m *MemoryStore) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := room.BeforeCreate(nil); err != nil {
		return err
	}
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pairs[room.PairKey]; ok {
		return ErrDuplicate
	}
	if _, ok := m.rooms[room.ID]; ok {
		return ErrDuplicate
	}
	stored := *room
	m.rooms[room.ID] = &stored
	m.pairs[room.PairKey] = room.ID
	return nil
}

func (m *MemoryStore) FindRoomByPair(ctx context.Context, a, b models.Participant) (*models.ChatRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pairs[models.PairKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	room := *m.rooms[id]
	return &room, nil
}

func (m *MemoryStore) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	room := *r
	return &room, nil
}

func (m *MemoryStore) ListRoomsForUser(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rooms []models.ChatRoom
	for _, r := range m.rooms {
		if r.HasUser(userID) {
			rooms = append(rooms, *r)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].LastActivityAt.After(rooms[j].LastActivityAt)
	})
	return rooms, nil
}

func (m *MemoryStore) DeleteRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	delete(m.pairs, r.PairKey)
	delete(m.rooms, roomID)
	delete(m.messages, roomID)
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[msg.RoomID]
	if !ok {
		return ErrNotFound
	}
	// The id is generated under the lock so id order matches append order.
	if err := msg.BeforeCreate(nil); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	stored := *msg
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], &stored)
	r.LastActivityAt = msg.CreatedAt
	r.UpdatedAt = time.Now()
	return nil
}

// ListMessages mirrors the SQL ORDER BY created_at DESC, id DESC.
func (m *MemoryStore) ListMessages(ctx context.Context, roomID string, offset, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sortedLocked(roomID)
	out := make([]models.Message, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, *all[i])
	}
	reverse(out)
	return out, nil
}

func (m *MemoryStore) sortedLocked(roomID string) []*models.Message {
	msgs := append([]*models.Message(nil), m.messages[roomID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	return msgs
}

func (m *MemoryStore) LastMessages(ctx context.Context, roomIDs []string) (map[string]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.Message, len(roomIDs))
	for _, id := range roomIDs {
		all := m.sortedLocked(id)
		if len(all) > 0 {
			out[id] = *all[len(all)-1]
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, roomID, readerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages[roomID] {
		if msg.SenderID != readerID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UnreadCountForRoom(ctx context.Context, roomID, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unreadLocked(roomID, userID), nil
}

func (m *MemoryStore) unreadLocked(roomID, userID string) int64 {
	var n int64
	for _, msg := range m.messages[roomID] {
		if msg.SenderID != userID && !msg.IsRead {
			n++
		}
	}
	return n
}

func (m *MemoryStore) UnreadCountsByRoom(ctx context.Context, userID string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64)
	for id, r := range m.rooms {
		if !r.HasUser(userID) {
			continue
		}
		if n := m.unreadLocked(id, userID); n > 0 {
			out[id] = n
		}
	}
	return out, nil
}

func (m *MemoryStore) TotalUnreadCount(ctx context.Context, userID string) (int64, error) {
	counts, err := m.UnreadCountsByRoom(ctx, userID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func (m *MemoryStore) Block(ctx context.Context, blockerID, blockedID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.blocks[blockerID]
	if set == nil {
		set = make(map[string]time.Time)
		m.blocks[blockerID] = set
	}
	if _, ok := set[blockedID]; !ok {
		set[blockedID] = time.Now()
	}
	return nil
}

func (m *MemoryStore) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[blockerID][blockedID]; !ok {
		return ErrNotFound
	}
	delete(m.blocks[blockerID], blockedID)
	return nil
}

func (m *MemoryStore) ListBlocked(ctx context.Context, blockerID string) ([]models.BlockRelation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rels := make([]models.BlockRelation, 0, len(m.blocks[blockerID]))
	for blocked, at := range m.blocks[blockerID] {
		rels = append(rels, models.BlockRelation{BlockerID: blockerID, BlockedID: blocked, CreatedAt: at})
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].CreatedAt.After(rels[j].CreatedAt) })
	return rels, nil
}

func (m *MemoryStore) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[blockerID][blockedID]
	return ok, nil
}
