package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JeromeFenwick/bili-sync/config"
	"github.com/JeromeFenwick/bili-sync/crypto"
	"github.com/JeromeFenwick/bili-sync/model"
)

// ConfigPersister implements config.Persister against the `config` table.
// The five credential strings are encrypted at rest; every other field is
// stored as plain JSON so operators can inspect it directly.
type ConfigPersister struct {
	pg  *Postgres
	enc crypto.Encryptor
}

// NewConfigPersister builds a ConfigPersister. enc encrypts/decrypts the
// credential substruct only.
func NewConfigPersister(pg *Postgres, enc crypto.Encryptor) *ConfigPersister {
	return &ConfigPersister{pg: pg, enc: enc}
}

// configWire is the JSON shape stored in the config.payload column: the
// full model.Config except Credential is replaced by its encrypted
// fields.
type configWire struct {
	model.Config
	Credential encryptedCredential `json:"credential"`
}

type encryptedCredential struct {
	SessData    string `json:"sessdata"`
	BiliJCT     string `json:"bili_jct"`
	Buvid3      string `json:"buvid3"`
	DedeUserID  string `json:"dedeuserid"`
	ACTimeValue string `json:"ac_time_value"`
}

func (p *ConfigPersister) encryptCredential(cred model.Credential) (encryptedCredential, error) {
	var out encryptedCredential
	var err error
	if out.SessData, err = crypto.EncryptString(p.enc, cred.SessData); err != nil {
		return out, err
	}
	if out.BiliJCT, err = crypto.EncryptString(p.enc, cred.BiliJCT); err != nil {
		return out, err
	}
	if out.Buvid3, err = crypto.EncryptString(p.enc, cred.Buvid3); err != nil {
		return out, err
	}
	if out.DedeUserID, err = crypto.EncryptString(p.enc, cred.DedeUserID); err != nil {
		return out, err
	}
	if out.ACTimeValue, err = crypto.EncryptString(p.enc, cred.ACTimeValue); err != nil {
		return out, err
	}
	return out, nil
}

func (p *ConfigPersister) decryptCredential(enc encryptedCredential) (model.Credential, error) {
	var out model.Credential
	var err error
	if out.SessData, err = crypto.DecryptString(p.enc, enc.SessData); err != nil {
		return out, err
	}
	if out.BiliJCT, err = crypto.DecryptString(p.enc, enc.BiliJCT); err != nil {
		return out, err
	}
	if out.Buvid3, err = crypto.DecryptString(p.enc, enc.Buvid3); err != nil {
		return out, err
	}
	if out.DedeUserID, err = crypto.DecryptString(p.enc, enc.DedeUserID); err != nil {
		return out, err
	}
	if out.ACTimeValue, err = crypto.DecryptString(p.enc, enc.ACTimeValue); err != nil {
		return out, err
	}
	return out, nil
}

// LoadConfig returns the persisted snapshot, or nil if none exists yet.
func (p *ConfigPersister) LoadConfig(ctx context.Context) (*model.Config, error) {
	var payload []byte
	var version int64
	err := p.pg.pool.QueryRow(ctx, `SELECT version, payload FROM config WHERE id = 1`).Scan(&version, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load config: %w", err)
	}

	var wire configWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("store: decode config: %w", err)
	}
	cred, err := p.decryptCredential(wire.Credential)
	if err != nil {
		return nil, fmt.Errorf("store: decrypt credential: %w", err)
	}
	cfg := wire.Config
	cfg.Credential = cred
	cfg.Version = uint64(version)
	return &cfg, nil
}

// SaveConfig persists cfg with optimistic-concurrency protection: the
// write only succeeds if the row's current version still equals
// expectedVersion, or the row does not exist yet (expectedVersion == 0).
func (p *ConfigPersister) SaveConfig(ctx context.Context, cfg *model.Config, expectedVersion uint64) error {
	encCred, err := p.encryptCredential(cfg.Credential)
	if err != nil {
		return fmt.Errorf("store: encrypt credential: %w", err)
	}
	wire := configWire{Config: *cfg}
	wire.Credential = encCred
	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("store: encode config: %w", err)
	}

	tag, err := p.pg.pool.Exec(ctx, `
		INSERT INTO config (id, version, payload) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, payload = EXCLUDED.payload
		WHERE config.version = $3`,
		cfg.Version, payload, expectedVersion)
	if err != nil {
		return fmt.Errorf("store: save config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return config.ErrVersionConflict
	}
	return nil
}

var _ config.Persister = (*ConfigPersister)(nil)
