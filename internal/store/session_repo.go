// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Thermoquad/whitebeet/pkg/message"
	"github.com/Thermoquad/whitebeet/pkg/session"
)

// Entry is a recorded session
type Entry struct {
	ID                 int64
	Link               string
	Role               string
	Reason             string
	FinalState         string
	Detail             string
	SessionID          string
	PeerID             string
	Protocol           message.Protocol
	EnergyTransferMode message.EnergyTransferMode
	StartedAt          time.Time
	EndedAt            time.Time
	StartSOC           uint8
	FinalSOC           uint8
	EnergyWh           float64
	ChargeCount        int
	SessionErrors      []message.SessionErrorCode
}

// Completed reports whether the session ended normally
func (e *Entry) Completed() bool {
	return e.Reason == session.ReasonCompleted.String()
}

// Duration returns how long the session ran
func (e *Entry) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}

// SessionRepo records session results
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Record stores r with the name of the link it ran on and returns the row id
func (r *SessionRepo) Record(ctx context.Context, link string, res session.Result) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin record tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	out, err := tx.ExecContext(ctx, `
		INSERT INTO sessions(
			link, role, reason, final_state, detail, session_id, peer_id, protocol,
			energy_transfer_mode, started_at, ended_at, start_soc, final_soc, energy_wh, charge_count
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		link,
		res.Role.String(),
		res.Reason.String(),
		res.FinalState.String(),
		res.Detail,
		hex.EncodeToString(res.SessionID),
		hex.EncodeToString(res.PeerID),
		int(res.Protocol),
		int(res.EnergyTransferMode),
		toUnixMillis(res.StartedAt),
		toUnixMillis(res.EndedAt),
		int(res.StartSOC),
		int(res.FinalSOC),
		res.EnergyWh,
		res.ChargeCount,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := out.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session row id: %w", err)
	}

	for _, se := range res.SessionErrors {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_errors(session_row, code, at) VALUES(?, ?, ?)
		`, id, int(se.Code), toUnixMillis(se.At)); err != nil {
			return 0, fmt.Errorf("insert session error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit record tx: %w", err)
	}
	return id, nil
}

// List returns the most recent sessions first. A limit of zero or less
// returns every session.
func (r *SessionRepo) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, link, role, reason, final_state, detail, session_id, peer_id, protocol,
			energy_transfer_mode, started_at, ended_at, start_soc, final_soc, energy_wh, charge_count
		FROM sessions
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e                  Entry
			protocol, mode     int
			startedMs, endedMs int64
			startSOC, finalSOC int
		)
		if err := rows.Scan(&e.ID, &e.Link, &e.Role, &e.Reason, &e.FinalState, &e.Detail,
			&e.SessionID, &e.PeerID, &protocol, &mode, &startedMs, &endedMs,
			&startSOC, &finalSOC, &e.EnergyWh, &e.ChargeCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.Protocol = message.Protocol(protocol)
		e.EnergyTransferMode = message.EnergyTransferMode(mode)
		e.StartedAt = fromUnixMillis(startedMs)
		e.EndedAt = fromUnixMillis(endedMs)
		e.StartSOC = uint8(startSOC)
		e.FinalSOC = uint8(finalSOC)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	rows.Close()

	for i := range out {
		codes, err := r.sessionErrors(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].SessionErrors = codes
	}
	return out, nil
}

func (r *SessionRepo) sessionErrors(ctx context.Context, id int64) ([]message.SessionErrorCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code FROM session_errors WHERE session_row = ? ORDER BY at, rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list session errors: %w", err)
	}
	defer rows.Close()

	var codes []message.SessionErrorCode
	for rows.Next() {
		var code int
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan session error: %w", err)
		}
		codes = append(codes, message.SessionErrorCode(code))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session errors: %w", err)
	}
	return codes, nil
}

// Prune deletes every session that ended before cutoff and returns how
// many were removed
func (r *SessionRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ms := toUnixMillis(cutoff)
	// foreign_keys is per connection, so the cascade is not relied on
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM session_errors
		WHERE session_row IN (SELECT id FROM sessions WHERE ended_at < ?)
	`, ms); err != nil {
		return 0, fmt.Errorf("prune session errors: %w", err)
	}
	out, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE ended_at < ?`, ms)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruned rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune tx: %w", err)
	}
	return n, nil
}

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
