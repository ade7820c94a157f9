package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

func (s *Store) GetDedupRecord(ctx context.Context, gameCode, actorUserID, idempotencyKey, commandType string) (*DedupRecord, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if r, ok := s.dedups[dedupKey(gameCode, actorUserID, idempotencyKey, commandType)]; ok {
			return &r, nil
		}
		return nil, nil
	}
	row := s.DB.QueryRowContext(ctx, `SELECT game_code,actor_user_id,idempotency_key,command_type,command_id,status,result_json,created_at FROM commands_dedup WHERE game_code=? AND actor_user_id=? AND idempotency_key=? AND command_type=?`, gameCode, actorUserID, idempotencyKey, commandType)
	var r DedupRecord
	if err := row.Scan(&r.GameCode, &r.ActorUserID, &r.IdempotencyKey, &r.CommandType, &r.CommandID, &r.Status, &r.ResultJSON, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) SaveDedupRecord(ctx context.Context, tx *sql.Tx, r DedupRecord) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dedups[dedupKey(r.GameCode, r.ActorUserID, r.IdempotencyKey, r.CommandType)] = r
		return nil
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO commands_dedup (game_code,actor_user_id,idempotency_key,command_type,command_id,status,result_json,created_at) VALUES (?,?,?,?,?,?,?,?) ON DUPLICATE KEY UPDATE status=VALUES(status),result_json=VALUES(result_json)`,
		r.GameCode, r.ActorUserID, r.IdempotencyKey, r.CommandType, r.CommandID, r.Status, r.ResultJSON, r.CreatedAt)
	return err
}

func dedupKey(gameCode, actorUserID, idempotencyKey, commandType string) string {
	return gameCode + "|" + actorUserID + "|" + idempotencyKey + "|" + commandType
}

func (s *Store) GetLatestSnapshot(ctx context.Context, gameCode string) (*Snapshot, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if snap, ok := s.snapshots[gameCode]; ok {
			cp := snap
			return &cp, nil
		}
		return nil, nil
	}
	row := s.DB.QueryRowContext(ctx, `SELECT game_code,last_seq,state_json,created_at FROM snapshots WHERE game_code=? ORDER BY last_seq DESC LIMIT 1`, gameCode)
	var snap Snapshot
	if err := row.Scan(&snap.GameCode, &snap.LastSeq, &snap.StateJSON, &snap.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, tx *sql.Tx, snap Snapshot) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.snapshots[snap.GameCode] = snap
		return nil
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO snapshots (game_code,last_seq,state_json,created_at) VALUES (?,?,?,?)`, snap.GameCode, snap.LastSeq, snap.StateJSON, snap.CreatedAt)
	return err
}

func (s *Store) LoadEventsAfter(ctx context.Context, gameCode string, afterSeq int64, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var res []StoredEvent
		for _, e := range s.events[gameCode] {
			if e.Seq > afterSeq {
				res = append(res, e)
				if len(res) >= limit {
					break
				}
			}
		}
		return res, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT game_code,seq,event_id,event_type,actor_user_id,causation_command_id,payload_json,server_ts FROM events WHERE game_code=? AND seq>? ORDER BY seq ASC LIMIT ?`, gameCode, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.GameCode, &e.Seq, &e.EventID, &e.EventType, &e.ActorUserID, &e.CausationCommand, &e.PayloadJSON, &e.ServerTime); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *Store) LoadEventsUpTo(ctx context.Context, gameCode string, toSeq int64) ([]StoredEvent, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var res []StoredEvent
		for _, e := range s.events[gameCode] {
			if toSeq <= 0 || e.Seq <= toSeq {
				res = append(res, e)
			}
		}
		return res, nil
	}
	var (
		rows *sql.Rows
		err  error
	)
	if toSeq > 0 {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT game_code,seq,event_id,event_type,actor_user_id,causation_command_id,payload_json,server_ts
			 FROM events WHERE game_code=? AND seq<=? ORDER BY seq ASC`,
			gameCode, toSeq)
	} else {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT game_code,seq,event_id,event_type,actor_user_id,causation_command_id,payload_json,server_ts
			 FROM events WHERE game_code=? ORDER BY seq ASC`,
			gameCode)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.GameCode, &e.Seq, &e.EventID, &e.EventType, &e.ActorUserID, &e.CausationCommand, &e.PayloadJSON, &e.ServerTime); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AppendEvents assigns sequence numbers in the gap after the game's
// current high-water mark and persists events, an optional dedup record,
// and an optional snapshot atomically.
func (s *Store) AppendEvents(ctx context.Context, gameCode string, events []StoredEvent, dedup *DedupRecord, snap *Snapshot) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		current := s.nextSeq[gameCode]
		if current == 0 {
			current = 1
		}
		for i := range events {
			events[i].Seq = current + int64(i)
		}
		s.nextSeq[gameCode] = current + int64(len(events))
		s.events[gameCode] = append(s.events[gameCode], events...)
		if dedup != nil {
			s.dedups[dedupKey(dedup.GameCode, dedup.ActorUserID, dedup.IdempotencyKey, dedup.CommandType)] = *dedup
		}
		if snap != nil {
			s.snapshots[snap.GameCode] = *snap
		}
		return nil
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var current int64
		row := tx.QueryRowContext(ctx, `SELECT next_seq FROM game_sequences WHERE game_code=? FOR UPDATE`, gameCode)
		switch err := row.Scan(&current); err {
		case nil:
		case sql.ErrNoRows:
			current = 1
			if _, err := tx.ExecContext(ctx, `INSERT INTO game_sequences (game_code,next_seq) VALUES (?,?)`, gameCode, current); err != nil {
				return err
			}
		default:
			return err
		}

		for i := range events {
			events[i].Seq = current + int64(i)
		}
		next := current + int64(len(events))
		if _, err := tx.ExecContext(ctx, `UPDATE game_sequences SET next_seq=? WHERE game_code=?`, next, gameCode); err != nil {
			return err
		}

		for _, e := range events {
			if _, err := tx.ExecContext(ctx, `INSERT INTO events (game_code,seq,event_id,event_type,actor_user_id,causation_command_id,payload_json,server_ts) VALUES (?,?,?,?,?,?,?,?)`,
				e.GameCode, e.Seq, e.EventID, e.EventType, e.ActorUserID, e.CausationCommand, e.PayloadJSON, e.ServerTime); err != nil {
				return err
			}
		}

		if dedup != nil {
			if err := s.SaveDedupRecord(ctx, tx, *dedup); err != nil {
				return err
			}
		}
		if snap != nil {
			if err := s.SaveSnapshot(ctx, tx, *snap); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveTrophies persists the end-of-game awards computed by the trophy
// queue handler (supplemented detail, see SPEC_FULL.md).
func (s *Store) SaveTrophies(ctx context.Context, trophies []Trophy) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, t := range trophies {
			s.trophies[t.GameCode] = append(s.trophies[t.GameCode], t)
		}
		return nil
	}
	for _, t := range trophies {
		if _, err := s.DB.ExecContext(ctx, `INSERT INTO trophies (id,game_code,player_id,category,value,created_at) VALUES (?,?,?,?,?,?)`,
			t.ID, t.GameCode, t.PlayerID, t.Category, t.Value, t.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTrophies(ctx context.Context, gameCode string) ([]Trophy, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return append([]Trophy(nil), s.trophies[gameCode]...), nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,game_code,player_id,category,value,created_at FROM trophies WHERE game_code=?`, gameCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Trophy
	for rows.Next() {
		var t Trophy
		if err := rows.Scan(&t.ID, &t.GameCode, &t.PlayerID, &t.Category, &t.Value, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func EncodeResultJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
