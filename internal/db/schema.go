package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS room_favorites (
  favorite_id TEXT PRIMARY KEY,
  player_id INTEGER NOT NULL,
  slot INTEGER NOT NULL,
  name TEXT NOT NULL,
  audiopath TEXT NOT NULL,
  coverurl TEXT,
  provider TEXT,
  created_at TEXT NOT NULL DEFAULT (datetime('now')),
  updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_room_favorites_slot
  ON room_favorites(player_id, slot);

CREATE TABLE IF NOT EXISTS recent_plays (
  recent_id TEXT PRIMARY KEY,
  player_id INTEGER NOT NULL,
  title TEXT NOT NULL,
  audiopath TEXT NOT NULL,
  coverurl TEXT,
  played_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_recent_plays_player
  ON recent_plays(player_id, played_at DESC);
`
