package db

// Schema contains the SQL statements creating the document-store schema.
const Schema = `
-- Buckets: one per repository, scoping everything below it
CREATE TABLE IF NOT EXISTS buckets (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_name TEXT UNIQUE NOT NULL,
    attributes      TEXT,
    rec_version     INTEGER NOT NULL DEFAULT 1
);

-- Components: logical artifact versions (group/name/version coordinates)
CREATE TABLE IF NOT EXISTS components (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    bucket_id     INTEGER NOT NULL,
    format        TEXT NOT NULL,
    group_name    TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL,
    coord_version TEXT NOT NULL DEFAULT '',
    last_updated  DATETIME NOT NULL,
    attributes    TEXT,
    rec_version   INTEGER NOT NULL DEFAULT 1,
    FOREIGN KEY (bucket_id) REFERENCES buckets(id) ON DELETE CASCADE,
    UNIQUE (bucket_id, group_name, name, coord_version)
);

-- Assets: individual files, optionally owned by a component
CREATE TABLE IF NOT EXISTS assets (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    bucket_id       INTEGER NOT NULL,
    component_id    INTEGER,
    format          TEXT NOT NULL,
    name            TEXT NOT NULL,
    size            INTEGER NOT NULL DEFAULT 0,
    content_type    TEXT,
    blob_ref        TEXT,
    last_updated    DATETIME NOT NULL,
    last_downloaded DATETIME,
    last_accessed   DATETIME,
    attributes      TEXT,
    rec_version     INTEGER NOT NULL DEFAULT 1,
    FOREIGN KEY (bucket_id) REFERENCES buckets(id) ON DELETE CASCADE,
    FOREIGN KEY (component_id) REFERENCES components(id) ON DELETE CASCADE
);

-- Uniqueness: (bucket, component, name) for owned assets,
-- (bucket, name) for standalone assets. Partial indexes keep the two
-- namespaces separate since sqlite treats NULLs as distinct in UNIQUE.
CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_owned_name
    ON assets(bucket_id, component_id, name) WHERE component_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_standalone_name
    ON assets(bucket_id, name) WHERE component_id IS NULL;

-- A blob belongs to at most one asset.
CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_blob_ref
    ON assets(blob_ref) WHERE blob_ref IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_components_bucket ON components(bucket_id);
CREATE INDEX IF NOT EXISTS idx_assets_bucket ON assets(bucket_id);
CREATE INDEX IF NOT EXISTS idx_assets_component ON assets(component_id);

-- Browse tree: one row per path segment per repository
CREATE TABLE IF NOT EXISTS browse_nodes (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_name      TEXT NOT NULL,
    parent_path          TEXT NOT NULL,
    name                 TEXT NOT NULL,
    component_id         INTEGER,
    asset_id             INTEGER,
    asset_name_lowercase TEXT NOT NULL DEFAULT '',
    leaf                 BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE (repository_name, parent_path, name)
);

-- parent_path ordering drives the subtree range scans.
CREATE INDEX IF NOT EXISTS idx_browse_parent
    ON browse_nodes(repository_name, parent_path, name);
`
