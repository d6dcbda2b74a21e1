package blockchain

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"stepchain/internal/security"
)

// Ledger is an append-only chain of signed step blocks,
// persisted as JSON lines (one block per line).
type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
}

// OpenLedger loads an existing ledger file or creates an empty one.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var blk Block
		if err := json.Unmarshal(sc.Bytes(), &blk); err != nil {
			return nil, fmt.Errorf("decode ledger line %d: %w", line, err)
		}
		l.blocks = append(l.blocks, &blk)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Blocks returns the blocks in order. The pointers are shared with the ledger.
func (l *Ledger) Blocks() []*Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Block(nil), l.blocks...)
}

// Len returns the number of blocks.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// Record chains e onto the ledger, signs it and persists it.
func (l *Ledger) Record(e Entry, signer *security.Signer) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	if n := len(l.blocks); n > 0 {
		prev = l.blocks[n-1].Hash
	}
	blk, err := NewBlock(len(l.blocks), e, prev)
	if err != nil {
		return nil, err
	}
	if err := l.appendLocked(blk, signer); err != nil {
		return nil, err
	}
	return blk, nil
}

// Append adds a prepared block; its PrevHash must link to the last block.
func (l *Ledger) Append(b *Block, signer *security.Signer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(b, signer)
}

func (l *Ledger) appendLocked(b *Block, signer *security.Signer) error {
	if signer == nil {
		return errors.New("no signer, cannot sign block")
	}

	// recompute so the stored hash always matches the canonical fields
	h, err := b.ComputeHash()
	if err != nil {
		return fmt.Errorf("recompute block hash: %w", err)
	}
	b.Hash = h

	if n := len(l.blocks); n > 0 {
		last := l.blocks[n-1]
		if b.PrevHash != last.Hash {
			return fmt.Errorf("prevHash mismatch: expected %s, got %s", last.Hash, b.PrevHash)
		}
	}
	if b.Index != len(l.blocks) {
		return fmt.Errorf("index mismatch: expected %d, got %d", len(l.blocks), b.Index)
	}

	b.Signature = signer.Sign([]byte(b.Hash))
	b.PubKey = signer.PublicHex()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(b); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}

	l.blocks = append(l.blocks, b)
	return nil
}

// Save rewrites the whole ledger file from memory.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmp := l.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create ledger file: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, b := range l.blocks {
		if err := enc.Encode(b); err != nil {
			f.Close()
			return fmt.Errorf("write ledger file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
