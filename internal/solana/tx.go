package solana

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

// AccountMeta describes how an instruction touches one account.
type AccountMeta struct {
	PubKey     PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program invocation within a transaction.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// Transaction is an unsigned or partially signed legacy transaction.
type Transaction struct {
	feePayer     PublicKey
	instructions []Instruction
	blockhash    string

	message    []byte
	keys       []PublicKey
	numSigners int
	signatures [][64]byte
}

// NewTransaction builds a transaction message from instructions. The fee
// payer is always the first account key and the first signer.
func NewTransaction(feePayer PublicKey, blockhash string, instructions ...Instruction) (*Transaction, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("transaction requires at least one instruction")
	}

	tx := &Transaction{
		feePayer:     feePayer,
		instructions: instructions,
		blockhash:    blockhash,
	}
	if err := tx.compile(); err != nil {
		return nil, err
	}
	return tx, nil
}

// compiledMeta merges per-key flags across instructions.
type compiledMeta struct {
	signer   bool
	writable bool
}

// compile orders account keys (fee payer, signer-writable, signer-readonly,
// writable, readonly), builds the message header and serializes the message.
func (tx *Transaction) compile() error {
	metas := map[PublicKey]*compiledMeta{
		tx.feePayer: {signer: true, writable: true},
	}
	var order []PublicKey
	order = append(order, tx.feePayer)

	addKey := func(pk PublicKey, signer, writable bool) {
		m, ok := metas[pk]
		if !ok {
			m = &compiledMeta{}
			metas[pk] = m
			order = append(order, pk)
		}
		m.signer = m.signer || signer
		m.writable = m.writable || writable
	}

	for _, ins := range tx.instructions {
		for _, acc := range ins.Accounts {
			addKey(acc.PubKey, acc.IsSigner, acc.IsWritable)
		}
		addKey(ins.ProgramID, false, false)
	}

	classify := func(pk PublicKey) int {
		if pk == tx.feePayer {
			return 0
		}
		m := metas[pk]
		switch {
		case m.signer && m.writable:
			return 1
		case m.signer:
			return 2
		case m.writable:
			return 3
		default:
			return 4
		}
	}

	// Stable bucket sort preserving first-seen order within buckets.
	var keys []PublicKey
	for class := 0; class <= 4; class++ {
		for _, pk := range order {
			if classify(pk) == class {
				keys = append(keys, pk)
			}
		}
	}

	var numSigners, numReadonlySigned, numReadonlyUnsigned int
	for _, pk := range keys {
		m := metas[pk]
		if m.signer {
			numSigners++
			if !m.writable {
				numReadonlySigned++
			}
		} else if !m.writable {
			numReadonlyUnsigned++
		}
	}

	index := make(map[PublicKey]int, len(keys))
	for i, pk := range keys {
		index[pk] = i
	}

	blockhashRaw, err := base58.Decode(tx.blockhash)
	if err != nil {
		return fmt.Errorf("decode blockhash: %w", err)
	}
	if len(blockhashRaw) != 32 {
		return fmt.Errorf("blockhash must be 32 bytes, got %d", len(blockhashRaw))
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(numSigners))
	buf.WriteByte(byte(numReadonlySigned))
	buf.WriteByte(byte(numReadonlyUnsigned))

	writeCompactU16(&buf, len(keys))
	for _, pk := range keys {
		buf.Write(pk[:])
	}
	buf.Write(blockhashRaw)

	writeCompactU16(&buf, len(tx.instructions))
	for _, ins := range tx.instructions {
		buf.WriteByte(byte(index[ins.ProgramID]))
		writeCompactU16(&buf, len(ins.Accounts))
		for _, acc := range ins.Accounts {
			buf.WriteByte(byte(index[acc.PubKey]))
		}
		writeCompactU16(&buf, len(ins.Data))
		buf.Write(ins.Data)
	}

	tx.message = buf.Bytes()
	tx.keys = keys
	tx.numSigners = numSigners
	tx.signatures = make([][64]byte, numSigners)
	return nil
}

// Sign fills in signatures for every required signer. All signer keypairs
// must be supplied; missing ones are an error.
func (tx *Transaction) Sign(signers ...*Keypair) error {
	byKey := make(map[PublicKey]*Keypair, len(signers))
	for _, kp := range signers {
		byKey[kp.PublicKey()] = kp
	}

	for i := 0; i < tx.numSigners; i++ {
		kp, ok := byKey[tx.keys[i]]
		if !ok {
			return fmt.Errorf("missing signer for %s", tx.keys[i])
		}
		tx.signatures[i] = kp.Sign(tx.message)
	}
	return nil
}

// Signature returns the transaction signature (the fee payer's) in base58.
func (tx *Transaction) Signature() string {
	return base58.Encode(tx.signatures[0][:])
}

// Serialize returns the wire form: compact signature array then message.
func (tx *Transaction) Serialize() ([]byte, error) {
	var empty [64]byte
	for i, sig := range tx.signatures {
		if sig == empty {
			return nil, fmt.Errorf("signature %d missing: call Sign first", i)
		}
	}

	var buf bytes.Buffer
	writeCompactU16(&buf, len(tx.signatures))
	for _, sig := range tx.signatures {
		buf.Write(sig[:])
	}
	buf.Write(tx.message)
	return buf.Bytes(), nil
}

// Message returns the serialized message bytes being signed.
func (tx *Transaction) Message() []byte { return tx.message }

// writeCompactU16 appends n in the compact-u16 variable-length encoding.
func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}
