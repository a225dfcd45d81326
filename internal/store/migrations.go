package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS config (
	keyname TEXT PRIMARY KEY,
	value   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS contacts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL DEFAULT '',
	addr       TEXT NOT NULL COLLATE NOCASE,
	origin     INTEGER NOT NULL DEFAULT 0,
	blocked    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       INTEGER NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	grpid      TEXT NOT NULL DEFAULT '',
	blocked    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chats_contacts (
	chat_id    INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	contact_id INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	PRIMARY KEY (chat_id, contact_id)
);

CREATE TABLE IF NOT EXISTS msgs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    INTEGER NOT NULL,
	from_id    INTEGER NOT NULL,
	state      INTEGER NOT NULL,
	rfc724_mid TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	hidden     INTEGER NOT NULL DEFAULT 0,
	encrypted  INTEGER NOT NULL DEFAULT 0,
	timestamp  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS acpeerstates (
	id                     INTEGER PRIMARY KEY,
	addr                   TEXT NOT NULL UNIQUE COLLATE NOCASE,
	last_seen              INTEGER NOT NULL DEFAULT 0,
	last_seen_autocrypt    INTEGER NOT NULL DEFAULT 0,
	prefer_encrypted       INTEGER NOT NULL DEFAULT 0,
	public_key             BLOB,
	gossip_timestamp       INTEGER NOT NULL DEFAULT 0,
	gossip_key             BLOB,
	public_key_fingerprint TEXT NOT NULL DEFAULT '',
	gossip_key_fingerprint TEXT NOT NULL DEFAULT '',
	public_key_verified    INTEGER NOT NULL DEFAULT 0,
	gossip_key_verified    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tokens (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	namespc    INTEGER NOT NULL,
	foreign_id INTEGER NOT NULL DEFAULT 0,
	token      TEXT NOT NULL,
	timestamp  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS keypairs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	addr        TEXT NOT NULL COLLATE NOCASE,
	is_default  INTEGER NOT NULL DEFAULT 0,
	private_key BLOB NOT NULL,
	public_key  BLOB NOT NULL,
	created     INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_addr ON contacts(addr);
CREATE INDEX IF NOT EXISTS idx_chats_grpid ON chats(grpid);
CREATE INDEX IF NOT EXISTS idx_msgs_chat_id ON msgs(chat_id);
CREATE INDEX IF NOT EXISTS idx_msgs_rfc724_mid ON msgs(rfc724_mid);
CREATE INDEX IF NOT EXISTS idx_acpeerstates_pubfpr ON acpeerstates(public_key_fingerprint);
CREATE INDEX IF NOT EXISTS idx_acpeerstates_gossipfpr ON acpeerstates(gossip_key_fingerprint);
CREATE INDEX IF NOT EXISTS idx_tokens_namespc ON tokens(namespc, foreign_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		// Ids up to 9 are reserved for special contacts and chats.
		version: 2,
		sql: `
INSERT INTO contacts (id, name, addr, origin, created_at)
	VALUES (1, 'Me', 'self@peertrust.local', 0x40000, CURRENT_TIMESTAMP);
INSERT INTO contacts (id, name, addr, origin, created_at)
	VALUES (2, 'Device', 'device@peertrust.local', 0x40000, CURRENT_TIMESTAMP);
INSERT INTO contacts (id, name, addr, created_at)
	VALUES (9, '', 'reserved@peertrust.local', CURRENT_TIMESTAMP);
DELETE FROM contacts WHERE id = 9;

INSERT INTO chats (id, type, created_at) VALUES (9, 0, CURRENT_TIMESTAMP);
DELETE FROM chats WHERE id = 9;

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
