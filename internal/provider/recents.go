package provider

import (
	"database/sql"

	"github.com/google/uuid"
)

// maxRecentsPerZone caps the rolling recently-played list.
const maxRecentsPerZone = 30

// Recent is one recently played entry of a zone.
type Recent struct {
	RecentID  string `json:"recentId"`
	PlayerID  int    `json:"playerid"`
	Title     string `json:"title"`
	AudioPath string `json:"audiopath"`
	CoverURL  string `json:"coverurl,omitempty"`
	PlayedAt  string `json:"playedAt"`
}

// RecentsRepository persists the per-zone recently played list.
type RecentsRepository struct {
	reader *sql.DB
	writer *sql.DB
}

func NewRecentsRepository(pair DBPair) *RecentsRepository {
	return &RecentsRepository{reader: pair.Reader(), writer: pair.Writer()}
}

// ListByZone returns the newest entries first.
func (r *RecentsRepository) ListByZone(playerID, limit int) ([]Recent, error) {
	rows, err := r.reader.Query(`
		SELECT recent_id, player_id, title, audiopath, COALESCE(coverurl, ''), played_at
		FROM recent_plays
		WHERE player_id = ?
		ORDER BY played_at DESC
		LIMIT ?
	`, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recents []Recent
	for rows.Next() {
		var recent Recent
		if err := rows.Scan(&recent.RecentID, &recent.PlayerID, &recent.Title,
			&recent.AudioPath, &recent.CoverURL, &recent.PlayedAt); err != nil {
			return nil, err
		}
		recents = append(recents, recent)
	}
	return recents, rows.Err()
}

// Record inserts a play, replacing any prior entry for the same audiopath and
// pruning the list to its cap.
func (r *RecentsRepository) Record(playerID int, title, audioPath, coverURL string) error {
	tx, err := r.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM recent_plays WHERE player_id = ? AND audiopath = ?", playerID, audioPath,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO recent_plays (recent_id, player_id, title, audiopath, coverurl)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), playerID, title, audioPath, coverURL); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		DELETE FROM recent_plays
		WHERE player_id = ? AND recent_id NOT IN (
			SELECT recent_id FROM recent_plays
			WHERE player_id = ?
			ORDER BY played_at DESC
			LIMIT ?
		)
	`, playerID, playerID, maxRecentsPerZone); err != nil {
		return err
	}
	return tx.Commit()
}

// Clear empties a zone's list.
func (r *RecentsRepository) Clear(playerID int) error {
	_, err := r.writer.Exec("DELETE FROM recent_plays WHERE player_id = ?", playerID)
	return err
}
