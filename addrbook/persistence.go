package addrbook

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"time"

	"github.com/cespare/cp"
	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/crypto/scrypt"

	"github.com/postchain/node/peer"
)

// record is the JSON-compatible on-disk shape of an Address (§4.4, §6
// "Persisted state"). Field names are the ones §4.4 names explicitly;
// unknown extra fields are tolerated by json.Unmarshal's default behavior,
// satisfying "loaders tolerate unknown extra fields" (§6).
type record struct {
	SchemaVersion int    `json:"schema_version"`
	Address       string `json:"address"`
	Port          uint16 `json:"port"`
	FirstSeen     int64  `json:"first_seen"`
	LastSeen      int64  `json:"last_seen"`
	LastAttempt   int64  `json:"last_attempt"`
	SuccessCount  int32  `json:"success_count"`
	FailureCount  int32  `json:"failure_count"`
	Source        string `json:"source"`
}

func toRecord(a Address) record {
	return record{
		SchemaVersion: a.SchemaVersion,
		Address:       a.Endpoint.IP.String(),
		Port:          a.Endpoint.Port,
		FirstSeen:     a.FirstSeen.Unix(),
		LastSeen:      a.LastSeen.Unix(),
		LastAttempt:   a.LastAttempt.Unix(),
		SuccessCount:  a.SuccessCount,
		FailureCount:  a.FailureCount,
		Source:        a.Source,
	}
}

func fromRecord(r record) (Address, error) {
	if r.SchemaVersion > schemaVersion {
		return Address{}, fmt.Errorf("unsupported schema version %d", r.SchemaVersion)
	}
	ip := net.ParseIP(r.Address)
	if ip == nil {
		return Address{}, fmt.Errorf("malformed address %q", r.Address)
	}
	return Address{
		SchemaVersion: r.SchemaVersion,
		Endpoint:      peer.Endpoint{IP: ip, Port: r.Port},
		FirstSeen:     unixOrZero(r.FirstSeen),
		LastSeen:      unixOrZero(r.LastSeen),
		LastAttempt:   unixOrZero(r.LastAttempt),
		SuccessCount:  r.SuccessCount,
		FailureCount:  r.FailureCount,
		Source:        r.Source,
	}, nil
}

func marshalRecords(records []record) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

func unmarshalRecords(raw []byte) ([]record, error) {
	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// Save persists the current snapshot to cfg.PersistencePath, a goleveldb
// database directory. Each record value is snappy-compressed (and, if an
// encryption passphrase is configured, AES-256-GCM sealed) before the put,
// matching the teacher's use of golang/snappy to shrink on-disk chain data.
func (b *Book) Save() error {
	if b.cfg.PersistencePath == "" {
		return errors.New("addrbook: no persistence path configured")
	}
	b.mu.RLock()
	snap := b.snapshotLocked()
	b.mu.RUnlock()

	db, err := leveldb.OpenFile(b.cfg.PersistencePath, nil)
	if err != nil {
		return fmt.Errorf("addrbook: open %s: %w", b.cfg.PersistencePath, err)
	}
	defer db.Close()

	batch := new(leveldb.Batch)
	// Clear prior contents so removed/evicted entries don't resurrect.
	iter := db.NewIterator(nil, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()

	for _, a := range snap {
		raw, err := json.Marshal(toRecord(a))
		if err != nil {
			return fmt.Errorf("addrbook: marshal %s: %w", a.key(), err)
		}
		raw = snappy.Encode(nil, raw)
		if b.cfg.EncryptionPassphrase != "" {
			raw, err = encrypt(raw, b.cfg.EncryptionPassphrase)
			if err != nil {
				return fmt.Errorf("addrbook: encrypt %s: %w", a.key(), err)
			}
		}
		batch.Put([]byte(a.key()), raw)
	}
	return db.Write(batch, nil)
}

// Load restores the catalog from cfg.PersistencePath. Malformed records are
// skipped rather than aborting the whole load (§4.4, §9).
func (b *Book) Load() error {
	if b.cfg.PersistencePath == "" {
		return errors.New("addrbook: no persistence path configured")
	}
	db, err := leveldb.OpenFile(b.cfg.PersistencePath, nil)
	if err != nil {
		return fmt.Errorf("addrbook: open %s: %w", b.cfg.PersistencePath, err)
	}
	defer db.Close()

	loaded := make(map[string]Address)
	subnets := make(map[string]int)

	iter := db.NewIterator(util.BytesPrefix(nil), nil)
	defer iter.Release()
	for iter.Next() {
		raw := append([]byte(nil), iter.Value()...)
		var err error
		if b.cfg.EncryptionPassphrase != "" {
			raw, err = decrypt(raw, b.cfg.EncryptionPassphrase)
			if err != nil {
				continue // skip: can't decrypt, treat as malformed
			}
		}
		raw, err = snappy.Decode(nil, raw)
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		addr, err := fromRecord(rec)
		if err != nil {
			continue
		}
		loaded[addr.key()] = addr
		subnets[subnetKey(addr.Endpoint.IP)]++
	}

	b.mu.Lock()
	b.addresses = loaded
	b.subnets = subnets
	b.mu.Unlock()
	return nil
}

// ExportSnapshot writes the catalog as a plain JSON array to dst, using an
// atomic temp-file-then-rename copy so a reader never observes a partial
// file (§5 Persistence recommendation). cespare/cp.CopyFile performs the
// atomic rename step.
func (b *Book) ExportSnapshot(dst string) error {
	b.mu.RLock()
	snap := b.snapshotLocked()
	b.mu.RUnlock()

	records := make([]record, 0, len(snap))
	for _, a := range snap {
		records = append(records, toRecord(a))
	}
	raw, err := marshalRecords(records)
	if err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(os.TempDir(), "addrbook-export-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return cp.CopyFile(dst, tmpPath)
}

// encrypt seals data with AES-256-GCM, key derived via scrypt from
// passphrase with a per-call random salt prepended to the ciphertext.
func encrypt(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, data, nil)
	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func decrypt(data []byte, passphrase string) ([]byte, error) {
	if len(data) < 16+12 {
		return nil, fmt.Errorf("addrbook: ciphertext too short")
	}
	salt, rest := data[:16], data[16:]
	key, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("addrbook: ciphertext too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
