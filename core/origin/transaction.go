package origin

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"os"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

// AccountMeta describes how an instruction uses an account.
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// LockSolInstruction builds the bridge program's lock_sol instruction. The
// recipient tag is stripped to fit the program's length limit.
func LockSolInstruction(accts BridgeAccounts, user PublicKey, amount uint64, recipient string) (Instruction, error) {
	if amount == 0 {
		return Instruction{}, errors.New("amount must be greater than zero")
	}
	recipient = extractor.StripRecipient(recipient)
	if recipient == "" || len(recipient) > extractor.MaxRecipientLength {
		return Instruction{}, errors.Errorf("recipient must be 1..%d bytes after stripping", extractor.MaxRecipientLength)
	}

	data := append([]byte{}, extractor.LockSolDiscriminator[:]...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(recipient)))
	data = append(data, recipient...)

	return Instruction{
		ProgramID: accts.ProgramID,
		Accounts: []AccountMeta{
			{PublicKey: accts.BridgeState, IsWritable: true},
			{PublicKey: accts.Escrow, IsWritable: true},
			{PublicKey: user, IsSigner: true, IsWritable: true},
			{PublicKey: SystemProgramID},
		},
		Data: data,
	}, nil
}

// appendShortVec appends the compact-u16 length encoding.
func appendShortVec(buf []byte, n int) []byte {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

type keyFlags struct {
	key      PublicKey
	signer   bool
	writable bool
}

// CompileMessage serializes a legacy message with payer as fee payer.
func CompileMessage(payer PublicKey, instructions []Instruction, recentBlockhash string) ([]byte, error) {
	blockhash, err := ParsePublicKey(recentBlockhash)
	if err != nil {
		return nil, errors.Wrap(err, "recent blockhash")
	}

	index := map[PublicKey]int{}
	var keys []keyFlags
	add := func(pk PublicKey, signer, writable bool) {
		if i, ok := index[pk]; ok {
			keys[i].signer = keys[i].signer || signer
			keys[i].writable = keys[i].writable || writable
			return
		}
		index[pk] = len(keys)
		keys = append(keys, keyFlags{key: pk, signer: signer, writable: writable})
	}
	add(payer, true, true)
	for _, ix := range instructions {
		for _, a := range ix.Accounts {
			add(a.PublicKey, a.IsSigner, a.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}

	// order: writable signers, readonly signers, writable, readonly; payer first
	rank := func(k keyFlags) int {
		switch {
		case k.signer && k.writable:
			return 0
		case k.signer:
			return 1
		case k.writable:
			return 2
		default:
			return 3
		}
	}
	ordered := make([]keyFlags, 0, len(keys))
	for r := 0; r < 4; r++ {
		for _, k := range keys {
			if rank(k) == r {
				ordered = append(ordered, k)
			}
		}
	}
	var numSigners, roSigned, roUnsigned int
	for i, k := range ordered {
		index[k.key] = i
		switch rank(k) {
		case 0:
			numSigners++
		case 1:
			numSigners++
			roSigned++
		case 3:
			roUnsigned++
		}
	}

	msg := []byte{byte(numSigners), byte(roSigned), byte(roUnsigned)}
	msg = appendShortVec(msg, len(ordered))
	for _, k := range ordered {
		msg = append(msg, k.key[:]...)
	}
	msg = append(msg, blockhash[:]...)
	msg = appendShortVec(msg, len(instructions))
	for _, ix := range instructions {
		msg = append(msg, byte(index[ix.ProgramID]))
		msg = appendShortVec(msg, len(ix.Accounts))
		for _, a := range ix.Accounts {
			msg = append(msg, byte(index[a.PublicKey]))
		}
		msg = appendShortVec(msg, len(ix.Data))
		msg = append(msg, ix.Data...)
	}
	return msg, nil
}

// SignTransaction prefixes message with one signature per signer, in the
// order the message lists its signing accounts.
func SignTransaction(message []byte, signers ...ed25519.PrivateKey) ([]byte, string, error) {
	if len(message) == 0 {
		return nil, "", errors.New("empty message")
	}
	if int(message[0]) != len(signers) {
		return nil, "", errors.Errorf("message requires %d signatures, got %d signers", message[0], len(signers))
	}
	tx := appendShortVec(nil, len(signers))
	var primary string
	for i, key := range signers {
		sig := ed25519.Sign(key, message)
		if i == 0 {
			primary = base58.Encode(sig)
		}
		tx = append(tx, sig...)
	}
	return append(tx, message...), primary, nil
}

// LoadKeypairFile reads a keypair stored as a JSON array of 64 bytes.
func LoadKeypairFile(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read keypair %s", path)
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, errors.Wrapf(err, "decode keypair %s", path)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("keypair %s has %d bytes, want %d", path, len(ints), ed25519.PrivateKeySize)
	}
	key := make(ed25519.PrivateKey, 0, ed25519.PrivateKeySize)
	for _, v := range ints {
		if v < 0 || v > 255 {
			return nil, errors.Errorf("keypair %s contains a non-byte value", path)
		}
		key = append(key, byte(v))
	}
	return key, nil
}

// PublicKeyOf returns the address of an ed25519 key.
func PublicKeyOf(key ed25519.PrivateKey) PublicKey {
	var pk PublicKey
	copy(pk[:], key.Public().(ed25519.PublicKey))
	return pk
}

// SubmitLock signs and sends a lock_sol transaction paid for by user.
// It returns the transaction signature.
func SubmitLock(ctx context.Context, sender Sender, user ed25519.PrivateKey, accts BridgeAccounts, amount uint64, recipient string) (string, error) {
	ix, err := LockSolInstruction(accts, PublicKeyOf(user), amount, recipient)
	if err != nil {
		return "", err
	}
	blockhash, err := sender.GetLatestBlockhash(ctx)
	if err != nil {
		return "", errors.Wrap(err, "get latest blockhash")
	}
	msg, err := CompileMessage(PublicKeyOf(user), []Instruction{ix}, blockhash)
	if err != nil {
		return "", err
	}
	tx, sig, err := SignTransaction(msg, user)
	if err != nil {
		return "", err
	}
	sent, err := sender.SendTransaction(ctx, tx)
	if err != nil {
		return "", errors.Wrap(err, "send lock transaction")
	}
	if sent != sig {
		return "", errors.Wrapf(types.ErrSignatureMismatch, "node returned %s for %s", sent, sig)
	}
	return sig, nil
}
