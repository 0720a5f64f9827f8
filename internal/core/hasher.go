package core

import (
	"CustodyLedger/internal/ledger"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const GenesisHashSeed = "CustodyLedger:journal:v1"

// JournalHasher chains journal entries into one digest so two stores, or
// one store at two points in time, can be compared without diffing rows.
type JournalHasher struct {
	prevHash [32]byte
	count    int64
}

// NewJournalHasher initializes with genesis hash
func NewJournalHasher() *JournalHasher {
	return &JournalHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// Add computes hash[N] = SHA-256(prev_hash || N || entry digest)
func (h *JournalHasher) Add(j ledger.Journal) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(h.count))
	hasher.Write(seqBuf[:])

	hasher.Write(j.JournalID[:])
	hasher.Write(j.BatchID[:])
	hasher.Write([]byte(j.DebitAccount.AccountPath()))
	hasher.Write([]byte{0})
	hasher.Write([]byte(j.CreditAccount.AccountPath()))
	hasher.Write([]byte{0})
	// String trims trailing zeros, so NUMERIC scale does not change the hash.
	hasher.Write([]byte(j.Amount.String()))
	hasher.Write([]byte{0})
	hasher.Write([]byte(j.JournalType.String()))

	copy(h.prevHash[:], hasher.Sum(nil))
	h.count++
	return h.prevHash
}

// Sum returns the chain tip as hex.
func (h *JournalHasher) Sum() string {
	return hex.EncodeToString(h.prevHash[:])
}

func (h *JournalHasher) Count() int64 {
	return h.count
}
