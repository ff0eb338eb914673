package percolator

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"percolator-sim/internal/i128"
	"percolator-sim/internal/solana"
)

// User slot account layout (little-endian):
//
//	offset 0   u8   version (currently 1)
//	offset 1   u16  slot index
//	offset 3   i128 signed position size, base units at 1e6 scale
//	offset 19  u64  entry price, 1e6 fixed point
//	offset 27  i64  position opened-at, unix milliseconds
const (
	userSlotVersion = 1
	userSlotSize    = 35
)

// UserSlot is a participant's decoded slot entry on a market.
type UserSlot struct {
	Index      uint16
	SignedSize i128.I128
	EntryPrice uint64
	OpenedAtMs int64
}

// Flat reports whether the slot holds no open position.
func (s *UserSlot) Flat() bool {
	return s.SignedSize.IsZero()
}

// ParseUserSlot decodes a user slot account's data.
func ParseUserSlot(data []byte) (*UserSlot, error) {
	if len(data) < userSlotSize {
		return nil, fmt.Errorf("user slot account too short: %d bytes", len(data))
	}
	if data[0] != userSlotVersion {
		return nil, fmt.Errorf("unsupported user slot version %d", data[0])
	}
	return &UserSlot{
		Index:      binary.LittleEndian.Uint16(data[1:]),
		SignedSize: getI128(data[3:]),
		EntryPrice: binary.LittleEndian.Uint64(data[19:]),
		OpenedAtMs: int64(binary.LittleEndian.Uint64(data[27:])),
	}, nil
}

// EncodeUserSlot serializes a slot entry, mirroring ParseUserSlot. Used by
// tests and local fixtures; the program writes the real accounts.
func EncodeUserSlot(s *UserSlot) []byte {
	data := make([]byte, userSlotSize)
	data[0] = userSlotVersion
	binary.LittleEndian.PutUint16(data[1:], s.Index)
	putI128(data[3:], s.SignedSize)
	binary.LittleEndian.PutUint64(data[19:], s.EntryPrice)
	binary.LittleEndian.PutUint64(data[27:], uint64(s.OpenedAtMs))
	return data
}

// DeriveUserSlotAddress computes the deterministic per-user, per-market slot
// account address.
func (p *Program) DeriveUserSlotAddress(m Market, user solana.PublicKey) solana.PublicKey {
	h := sha256.New()
	h.Write(p.ID[:])
	h.Write(m.StateAccount[:])
	h.Write(user[:])
	h.Write([]byte("user-slot"))

	var out solana.PublicKey
	copy(out[:], h.Sum(nil))
	return out
}
