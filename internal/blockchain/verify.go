package blockchain

import (
	"fmt"

	"stepchain/internal/security"
	"stepchain/internal/storage"
)

// VerifyChain re-computes each block hash, link, index and signature to detect tampering
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, b := range l.blocks {
		h, err := b.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", b.Index, err)
		}
		if h != b.Hash {
			return fmt.Errorf("hash mismatch at index %d", b.Index)
		}

		if i > 0 && b.PrevHash != l.blocks[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at index %d", b.Index)
		}
		if i == 0 && b.PrevHash != "" {
			return fmt.Errorf("first block has prev hash %s", b.PrevHash)
		}
		if b.Index != i {
			return fmt.Errorf("index mismatch: expected %d got %d", i, b.Index)
		}

		ok, err := security.VerifyHex(b.PubKey, []byte(b.Hash), b.Signature)
		if err != nil {
			return fmt.Errorf("decode signature at index %d: %w", b.Index, err)
		}
		if !ok {
			return fmt.Errorf("bad signature at index %d", b.Index)
		}
	}
	return nil
}

// VerifyLogs checks that every referenced log file still hashes to its recorded digest.
// Blocks without a log file are skipped.
func (l *Ledger) VerifyLogs() error {
	for _, b := range l.Blocks() {
		if b.LogPath == "" {
			continue
		}
		h, err := storage.DigestFile(b.LogPath)
		if err != nil {
			return fmt.Errorf("read log for index %d: %w", b.Index, err)
		}
		if h != b.LogHash {
			return fmt.Errorf("log digest mismatch at index %d (%s)", b.Index, b.LogPath)
		}
	}
	return nil
}
