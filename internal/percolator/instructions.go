// Package percolator encodes instructions for the external perp program and
// decodes its account layouts. The program owns all position, margin and
// funding accounting; this client only encodes and submits.
package percolator

import (
	"encoding/binary"

	"percolator-sim/internal/i128"
	"percolator-sim/internal/solana"
)

// Instruction discriminators.
const (
	ixRegisterIdentity  byte = 0
	ixDepositCollateral byte = 1
	ixExecuteTrade      byte = 2
	ixPushPrice         byte = 3
	ixCrank             byte = 4
)

// Market groups the on-ledger accounts for one tradeable market.
type Market struct {
	Name         string // internal market name, e.g. "BTC-PERP"
	Symbol       string // reference price symbol, e.g. "BTCUSDT"
	StateAccount solana.PublicKey
	VaultAccount solana.PublicKey
}

// Program builds instructions against one deployed program instance.
type Program struct {
	ID solana.PublicKey
}

// RegisterIdentity creates the user's slot on the market.
func (p *Program) RegisterIdentity(m Market, user solana.PublicKey) solana.Instruction {
	return solana.Instruction{
		ProgramID: p.ID,
		Accounts: []solana.AccountMeta{
			{PubKey: user, IsSigner: true, IsWritable: true},
			{PubKey: m.StateAccount, IsWritable: true},
		},
		Data: []byte{ixRegisterIdentity},
	}
}

// DepositCollateral funds the user's slot with amount (1e6 scale USD).
func (p *Program) DepositCollateral(m Market, user solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = ixDepositCollateral
	binary.LittleEndian.PutUint64(data[1:], amount)

	return solana.Instruction{
		ProgramID: p.ID,
		Accounts: []solana.AccountMeta{
			{PubKey: user, IsSigner: true, IsWritable: true},
			{PubKey: m.StateAccount, IsWritable: true},
			{PubKey: m.VaultAccount, IsWritable: true},
		},
		Data: data,
	}
}

// ExecuteTrade changes the user's position by signedSize base units against
// the shared counterparty. Both the user and the counterparty sign.
func (p *Program) ExecuteTrade(m Market, user, counterparty solana.PublicKey, slotIndex uint16, signedSize i128.I128) solana.Instruction {
	data := make([]byte, 19)
	data[0] = ixExecuteTrade
	binary.LittleEndian.PutUint16(data[1:], slotIndex)
	putI128(data[3:], signedSize)

	return solana.Instruction{
		ProgramID: p.ID,
		Accounts: []solana.AccountMeta{
			{PubKey: user, IsSigner: true, IsWritable: true},
			{PubKey: counterparty, IsSigner: true, IsWritable: true},
			{PubKey: m.StateAccount, IsWritable: true},
			{PubKey: m.VaultAccount, IsWritable: true},
		},
		Data: data,
	}
}

// PushReferencePrice publishes a 1e6 fixed-point reference price.
func (p *Program) PushReferencePrice(m Market, authority solana.PublicKey, priceFixed uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = ixPushPrice
	binary.LittleEndian.PutUint64(data[1:], priceFixed)

	return solana.Instruction{
		ProgramID: p.ID,
		Accounts: []solana.AccountMeta{
			{PubKey: authority, IsSigner: true},
			{PubKey: m.StateAccount, IsWritable: true},
		},
		Data: data,
	}
}

// Crank advances the market's time-dependent state (funding accrual,
// liquidation checks).
func (p *Program) Crank(m Market, authority solana.PublicKey) solana.Instruction {
	return solana.Instruction{
		ProgramID: p.ID,
		Accounts: []solana.AccountMeta{
			{PubKey: authority, IsSigner: true},
			{PubKey: m.StateAccount, IsWritable: true},
		},
		Data: []byte{ixCrank},
	}
}

// putI128 writes v little-endian (lo limb first) into 16 bytes of b.
func putI128(b []byte, v i128.I128) {
	binary.LittleEndian.PutUint64(b[0:], v.Lo)
	binary.LittleEndian.PutUint64(b[8:], uint64(v.Hi))
}

// getI128 reads a little-endian 128-bit value from 16 bytes of b.
func getI128(b []byte) i128.I128 {
	return i128.I128{
		Lo: binary.LittleEndian.Uint64(b[0:]),
		Hi: int64(binary.LittleEndian.Uint64(b[8:])),
	}
}
