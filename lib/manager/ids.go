package manager

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"github.com/zeebo/blake3"
)

var (
	poolSeed     = []byte("pool")
	positionSeed = []byte("position")
	vaultSeed    = []byte("vault")
)

func derive(parts ...[]byte) solana.PublicKey {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}
	var key solana.PublicKey
	h.Digest().Read(key[:])
	return key
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// PoolID = BLAKE3("pool" || mint0 || mint1 || feeRate || tickSpacing)
func PoolID(mint0, mint1 solana.PublicKey, feeRate uint32, tickSpacing uint16) solana.PublicKey {
	var spacing [2]byte
	binary.LittleEndian.PutUint16(spacing[:], tickSpacing)
	return derive(poolSeed, mint0[:], mint1[:], u32(feeRate), spacing[:])
}

// PositionID = BLAKE3("position" || pool || owner || lower || upper || nonce)
func PositionID(pool, owner solana.PublicKey, tickLower, tickUpper int32, nonce uint64) solana.PublicKey {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	return derive(positionSeed, pool[:], owner[:], u32(uint32(tickLower)), u32(uint32(tickUpper)), n[:])
}

// VaultAddress = BLAKE3("vault" || pool || mint)
func VaultAddress(pool, mint solana.PublicKey) solana.PublicKey {
	return derive(vaultSeed, pool[:], mint[:])
}
