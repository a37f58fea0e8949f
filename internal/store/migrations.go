package store

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS games (
    id               TEXT PRIMARY KEY,
    slug             TEXT NOT NULL UNIQUE,
    name             TEXT NOT NULL,
    igdb_id          INTEGER UNIQUE,
    summary          TEXT,
    cover_url        TEXT,
    release_date     TEXT,
    developer        TEXT,
    publisher        TEXT,
    follows          INTEGER NOT NULL DEFAULT 0 CHECK (follows >= 0),
    hypes            INTEGER NOT NULL DEFAULT 0 CHECK (hypes >= 0),
    rating_count     INTEGER NOT NULL DEFAULT 0 CHECK (rating_count >= 0),
    like_count       INTEGER NOT NULL DEFAULT 0 CHECK (like_count >= 0),
    view_count       INTEGER NOT NULL DEFAULT 0 CHECK (view_count >= 0),
    average_rating   REAL,
    popularity_score INTEGER NOT NULL DEFAULT 0 CHECK (popularity_score >= 0),
    popularity_tier  TEXT NOT NULL DEFAULT 'niche'
        CHECK (popularity_tier IN ('niche', 'known', 'popular', 'mainstream', 'viral')),
    flagged_at       DATETIME,
    flag_reason      TEXT NOT NULL DEFAULT '',
    admin_only       BOOLEAN NOT NULL DEFAULT 0,
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL,
    last_synced      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_games_popularity_score ON games(popularity_score DESC);
CREATE INDEX IF NOT EXISTS idx_games_popularity_tier ON games(popularity_tier);
CREATE INDEX IF NOT EXISTS idx_games_rating ON games(rating_count DESC, average_rating DESC);
CREATE INDEX IF NOT EXISTS idx_games_updated_at ON games(updated_at);
CREATE INDEX IF NOT EXISTS idx_games_flagged_at ON games(flagged_at) WHERE flagged_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS score_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    game_id     TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    from_score  INTEGER NOT NULL,
    to_score    INTEGER NOT NULL,
    from_tier   TEXT NOT NULL,
    to_tier     TEXT NOT NULL,
    from_rank   INTEGER NOT NULL,
    to_rank     INTEGER NOT NULL,
    reason      TEXT NOT NULL,
    created_at  DATETIME NOT NULL,
    alerted     BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_score_history_game ON score_history(game_id, id);
CREATE INDEX IF NOT EXISTS idx_score_history_pending ON score_history(alerted, to_rank);

CREATE TABLE IF NOT EXISTS projection_entries (
    projection       TEXT NOT NULL,
    generation       TEXT NOT NULL,
    rank             INTEGER NOT NULL,
    game_id          TEXT NOT NULL,
    slug             TEXT NOT NULL,
    name             TEXT NOT NULL,
    cover_url        TEXT,
    follows          INTEGER NOT NULL,
    hypes            INTEGER NOT NULL,
    rating_count     INTEGER NOT NULL,
    average_rating   REAL,
    popularity_score INTEGER NOT NULL,
    popularity_tier  TEXT NOT NULL,
    flagged_at       DATETIME,
    flag_reason      TEXT NOT NULL DEFAULT '',
    updated_at       DATETIME NOT NULL,
    PRIMARY KEY (projection, generation, rank)
);

CREATE TABLE IF NOT EXISTS projection_heads (
    projection TEXT PRIMARY KEY,
    generation TEXT NOT NULL,
    built_at   DATETIME NOT NULL,
    row_count  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS feed_hypes (
    item_key   TEXT NOT NULL,
    game_id    TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (item_key, game_id)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS games (
    id               TEXT PRIMARY KEY,
    slug             TEXT NOT NULL UNIQUE,
    name             TEXT NOT NULL,
    igdb_id          BIGINT UNIQUE,
    summary          TEXT,
    cover_url        TEXT,
    release_date     TEXT,
    developer        TEXT,
    publisher        TEXT,
    follows          BIGINT NOT NULL DEFAULT 0 CHECK (follows >= 0),
    hypes            BIGINT NOT NULL DEFAULT 0 CHECK (hypes >= 0),
    rating_count     BIGINT NOT NULL DEFAULT 0 CHECK (rating_count >= 0),
    like_count       BIGINT NOT NULL DEFAULT 0 CHECK (like_count >= 0),
    view_count       BIGINT NOT NULL DEFAULT 0 CHECK (view_count >= 0),
    average_rating   DOUBLE PRECISION,
    popularity_score BIGINT NOT NULL DEFAULT 0 CHECK (popularity_score >= 0),
    popularity_tier  TEXT NOT NULL DEFAULT 'niche'
        CHECK (popularity_tier IN ('niche', 'known', 'popular', 'mainstream', 'viral')),
    flagged_at       TIMESTAMPTZ,
    flag_reason      TEXT NOT NULL DEFAULT '',
    admin_only       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    last_synced      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_games_popularity_score ON games(popularity_score DESC);
CREATE INDEX IF NOT EXISTS idx_games_popularity_tier ON games(popularity_tier);
CREATE INDEX IF NOT EXISTS idx_games_rating ON games(rating_count DESC, average_rating DESC NULLS LAST);
CREATE INDEX IF NOT EXISTS idx_games_updated_at ON games(updated_at);
CREATE INDEX IF NOT EXISTS idx_games_flagged_at ON games(flagged_at) WHERE flagged_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS score_history (
    id          BIGSERIAL PRIMARY KEY,
    game_id     TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    from_score  BIGINT NOT NULL,
    to_score    BIGINT NOT NULL,
    from_tier   TEXT NOT NULL,
    to_tier     TEXT NOT NULL,
    from_rank   INTEGER NOT NULL,
    to_rank     INTEGER NOT NULL,
    reason      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    alerted     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_score_history_game ON score_history(game_id, id);
CREATE INDEX IF NOT EXISTS idx_score_history_pending ON score_history(alerted, to_rank);

CREATE TABLE IF NOT EXISTS projection_entries (
    projection       TEXT NOT NULL,
    generation       TEXT NOT NULL,
    rank             INTEGER NOT NULL,
    game_id          TEXT NOT NULL,
    slug             TEXT NOT NULL,
    name             TEXT NOT NULL,
    cover_url        TEXT,
    follows          BIGINT NOT NULL,
    hypes            BIGINT NOT NULL,
    rating_count     BIGINT NOT NULL,
    average_rating   DOUBLE PRECISION,
    popularity_score BIGINT NOT NULL,
    popularity_tier  TEXT NOT NULL,
    flagged_at       TIMESTAMPTZ,
    flag_reason      TEXT NOT NULL DEFAULT '',
    updated_at       TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (projection, generation, rank)
);

CREATE TABLE IF NOT EXISTS projection_heads (
    projection TEXT PRIMARY KEY,
    generation TEXT NOT NULL,
    built_at   TIMESTAMPTZ NOT NULL,
    row_count  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS feed_hypes (
    item_key   TEXT NOT NULL,
    game_id    TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (item_key, game_id)
);
`
