package model

// PeerstateRow is the persisted form of a peer's Autocrypt state.
// Keys are stored as raw OpenPGP blobs; a nil slice means the key is absent.
type PeerstateRow struct {
	Addr                 string `db:"addr"`
	LastSeen             int64  `db:"last_seen"`
	LastSeenAutocrypt    int64  `db:"last_seen_autocrypt"`
	PreferEncrypted      int    `db:"prefer_encrypted"`
	PublicKey            []byte `db:"public_key"`
	GossipTimestamp      int64  `db:"gossip_timestamp"`
	GossipKey            []byte `db:"gossip_key"`
	PublicKeyFingerprint string `db:"public_key_fingerprint"`
	GossipKeyFingerprint string `db:"gossip_key_fingerprint"`
	PublicKeyVerified    int    `db:"public_key_verified"`
	GossipKeyVerified    int    `db:"gossip_key_verified"`
}

// Keypair is the locally generated OpenPGP identity used for Autocrypt.
type Keypair struct {
	Addr       string `db:"addr"`
	IsDefault  bool   `db:"is_default"`
	PublicKey  []byte `db:"public_key"`
	PrivateKey []byte `db:"private_key"`
	Created    int64  `db:"created"`
}

// Token is one remembered handshake secret.
type Token struct {
	ID        int64  `db:"id"`
	Namespace int    `db:"namespc"`
	ForeignID int64  `db:"foreign_id"`
	Token     string `db:"token"`
	Timestamp int64  `db:"timestamp"`
}
