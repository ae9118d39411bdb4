package provider

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// DBPair matches db.DBPair for dependency injection.
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Favorite is one stored room favourite. Slot is the 1-based position the
// Loxone app shows.
type Favorite struct {
	FavoriteID string `json:"favoriteId"`
	PlayerID   int    `json:"playerid"`
	Slot       int    `json:"slot"`
	Name       string `json:"name"`
	AudioPath  string `json:"audiopath"`
	CoverURL   string `json:"coverurl,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

// FavoritesRepository persists per-zone favourites.
type FavoritesRepository struct {
	reader *sql.DB
	writer *sql.DB
}

func NewFavoritesRepository(pair DBPair) *FavoritesRepository {
	return &FavoritesRepository{reader: pair.Reader(), writer: pair.Writer()}
}

// ListByZone returns one page of a zone's favourites ordered by slot.
func (r *FavoritesRepository) ListByZone(playerID, offset, limit int) ([]Favorite, int, error) {
	var total int
	if err := r.reader.QueryRow(
		"SELECT COUNT(*) FROM room_favorites WHERE player_id = ?", playerID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.reader.Query(`
		SELECT favorite_id, player_id, slot, name, audiopath, COALESCE(coverurl, ''), COALESCE(provider, '')
		FROM room_favorites
		WHERE player_id = ?
		ORDER BY slot
		LIMIT ? OFFSET ?
	`, playerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var favorites []Favorite
	for rows.Next() {
		var favorite Favorite
		if err := rows.Scan(&favorite.FavoriteID, &favorite.PlayerID, &favorite.Slot,
			&favorite.Name, &favorite.AudioPath, &favorite.CoverURL, &favorite.Provider); err != nil {
			return nil, 0, err
		}
		favorites = append(favorites, favorite)
	}
	return favorites, total, rows.Err()
}

// GetBySlot fetches one favourite by zone and slot.
func (r *FavoritesRepository) GetBySlot(playerID, slot int) (*Favorite, error) {
	row := r.reader.QueryRow(`
		SELECT favorite_id, player_id, slot, name, audiopath, COALESCE(coverurl, ''), COALESCE(provider, '')
		FROM room_favorites
		WHERE player_id = ? AND slot = ?
	`, playerID, slot)

	var favorite Favorite
	err := row.Scan(&favorite.FavoriteID, &favorite.PlayerID, &favorite.Slot,
		&favorite.Name, &favorite.AudioPath, &favorite.CoverURL, &favorite.Provider)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &favorite, nil
}

// Add appends a favourite at the next free slot.
func (r *FavoritesRepository) Add(playerID int, name, audioPath, coverURL, providerTag string) (*Favorite, error) {
	var maxSlot sql.NullInt64
	if err := r.reader.QueryRow(
		"SELECT MAX(slot) FROM room_favorites WHERE player_id = ?", playerID,
	).Scan(&maxSlot); err != nil {
		return nil, err
	}

	favorite := Favorite{
		FavoriteID: uuid.New().String(),
		PlayerID:   playerID,
		Slot:       int(maxSlot.Int64) + 1,
		Name:       name,
		AudioPath:  audioPath,
		CoverURL:   coverURL,
		Provider:   providerTag,
	}
	_, err := r.writer.Exec(`
		INSERT INTO room_favorites (favorite_id, player_id, slot, name, audiopath, coverurl, provider)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, favorite.FavoriteID, favorite.PlayerID, favorite.Slot, favorite.Name,
		favorite.AudioPath, favorite.CoverURL, favorite.Provider)
	if err != nil {
		return nil, err
	}
	return &favorite, nil
}

// Delete removes a favourite by slot and compacts the remaining slots.
func (r *FavoritesRepository) Delete(playerID, slot int) error {
	tx, err := r.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM room_favorites WHERE player_id = ? AND slot = ?", playerID, slot,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE room_favorites SET slot = slot - 1, updated_at = datetime('now')
		WHERE player_id = ? AND slot > ?
	`, playerID, slot); err != nil {
		return err
	}
	return tx.Commit()
}

// Reorder moves the favourite at fromSlot to toSlot, shifting the range
// between them.
func (r *FavoritesRepository) Reorder(playerID, fromSlot, toSlot int) error {
	if fromSlot == toSlot {
		return nil
	}
	tx, err := r.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Park the moving row outside the slot range to dodge the unique index.
	if _, err := tx.Exec(
		"UPDATE room_favorites SET slot = -1 WHERE player_id = ? AND slot = ?", playerID, fromSlot,
	); err != nil {
		return err
	}
	if fromSlot < toSlot {
		if _, err := tx.Exec(`
			UPDATE room_favorites SET slot = slot - 1
			WHERE player_id = ? AND slot > ? AND slot <= ?
		`, playerID, fromSlot, toSlot); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(`
			UPDATE room_favorites SET slot = slot + 1
			WHERE player_id = ? AND slot >= ? AND slot < ?
		`, playerID, toSlot, fromSlot); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`
		UPDATE room_favorites SET slot = ?, updated_at = datetime('now')
		WHERE player_id = ? AND slot = -1
	`, toSlot, playerID); err != nil {
		return err
	}
	return tx.Commit()
}

// CopyToZone duplicates one favourite into another zone at its next free slot.
func (r *FavoritesRepository) CopyToZone(playerID, slot, targetPlayerID int) (*Favorite, error) {
	source, err := r.GetBySlot(playerID, slot)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("no favourite at slot %d for player %d", slot, playerID)
	}
	return r.Add(targetPlayerID, source.Name, source.AudioPath, source.CoverURL, source.Provider)
}

// SetSlot pins a favourite to an explicit slot, swapping with any occupant.
func (r *FavoritesRepository) SetSlot(playerID, slot, newSlot int) error {
	if slot == newSlot {
		return nil
	}
	tx, err := r.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE room_favorites SET slot = -1 WHERE player_id = ? AND slot = ?", playerID, slot,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"UPDATE room_favorites SET slot = ? WHERE player_id = ? AND slot = ?", slot, playerID, newSlot,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE room_favorites SET slot = ?, updated_at = datetime('now')
		WHERE player_id = ? AND slot = -1
	`, newSlot, playerID); err != nil {
		return err
	}
	return tx.Commit()
}
