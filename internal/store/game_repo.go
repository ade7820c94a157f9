package store

import (
	"context"
	"database/sql"
)

func (s *Store) CreateGame(ctx context.Context, g Game) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.games[g.ID] = g
		s.nextSeq[g.ID] = 1
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO games (id,created_by,status,created_at) VALUES (?,?,?,?)`,
		g.ID, g.CreatedBy, g.Status, g.CreatedAt,
	)
	if err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, `INSERT INTO game_sequences (game_code,next_seq) VALUES (?,1) ON DUPLICATE KEY UPDATE next_seq=next_seq`, g.ID)
	return nil
}

func (s *Store) GetGame(ctx context.Context, id string) (*Game, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if g, ok := s.games[id]; ok {
			return &g, nil
		}
		return nil, sql.ErrNoRows
	}
	row := s.DB.QueryRowContext(ctx, `SELECT id,created_by,status,created_at FROM games WHERE id=?`, id)
	var g Game
	if err := row.Scan(&g.ID, &g.CreatedBy, &g.Status, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) SetGameStatus(ctx context.Context, id, status string) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if g, ok := s.games[id]; ok {
			g.Status = status
			s.games[id] = g
		}
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE games SET status=? WHERE id=?`, status, id)
	return err
}

func (s *Store) AddGameMember(ctx context.Context, m GameMember) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, existing := range s.members[m.GameCode] {
			if existing.UserID == m.UserID {
				return nil
			}
		}
		s.members[m.GameCode] = append(s.members[m.GameCode], m)
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO game_members (game_code,user_id,joined_at) VALUES (?,?,?) ON DUPLICATE KEY UPDATE joined_at=joined_at`,
		m.GameCode, m.UserID, m.Joined,
	)
	return err
}

func (s *Store) GetGameMembers(ctx context.Context, gameCode string) ([]GameMember, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return append([]GameMember(nil), s.members[gameCode]...), nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT game_code,user_id,joined_at FROM game_members WHERE game_code=?`, gameCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []GameMember
	for rows.Next() {
		var m GameMember
		if err := rows.Scan(&m.GameCode, &m.UserID, &m.Joined); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *Store) IsMember(ctx context.Context, gameCode, userID string) (bool, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, m := range s.members[gameCode] {
			if m.UserID == userID {
				return true, nil
			}
		}
		return false, nil
	}
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM game_members WHERE game_code=? AND user_id=?`, gameCode, userID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
