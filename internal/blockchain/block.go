package blockchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// now is swapped in tests.
var now = time.Now

// Entry is what the ledger records about one executed step.
type Entry struct {
	BuildID   string
	StepIndex int
	StepRef   string
	StepName  string
	ExitCode  int
	LogPath   string
	LogHash   string
	AgentID   string
}

// Block is a tamper-evident record for one pipeline step
type Block struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	BuildID   string `json:"buildId"`
	StepIndex int    `json:"stepIndex"`
	StepRef   string `json:"stepRef"`
	StepName  string `json:"stepName"`
	ExitCode  int    `json:"exitCode"`
	LogPath   string `json:"logPath"`
	LogHash   string `json:"logHash"`
	PrevHash  string `json:"prevHash"`
	AgentID   string `json:"agentId"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
	PubKey    string `json:"pubKey"`
}

// canonicalData returns the JSON bytes used to compute the block hash.
// It excludes Hash, Signature and PubKey.
func (b *Block) canonicalData() ([]byte, error) {
	view := struct {
		Index     int    `json:"index"`
		Timestamp string `json:"timestamp"`
		BuildID   string `json:"buildId"`
		StepIndex int    `json:"stepIndex"`
		StepRef   string `json:"stepRef"`
		StepName  string `json:"stepName"`
		ExitCode  int    `json:"exitCode"`
		LogPath   string `json:"logPath"`
		LogHash   string `json:"logHash"`
		PrevHash  string `json:"prevHash"`
		AgentID   string `json:"agentId"`
	}{
		Index:     b.Index,
		Timestamp: b.Timestamp,
		BuildID:   b.BuildID,
		StepIndex: b.StepIndex,
		StepRef:   b.StepRef,
		StepName:  b.StepName,
		ExitCode:  b.ExitCode,
		LogPath:   b.LogPath,
		LogHash:   b.LogHash,
		PrevHash:  b.PrevHash,
		AgentID:   b.AgentID,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA256 over canonicalData
func (b *Block) ComputeHash() (string, error) {
	data, err := b.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewBlock constructs a block and computes its hash (no signature yet)
func NewBlock(index int, e Entry, prevHash string) (*Block, error) {
	blk := &Block{
		Index:     index,
		Timestamp: now().UTC().Format(time.RFC3339Nano),
		BuildID:   e.BuildID,
		StepIndex: e.StepIndex,
		StepRef:   e.StepRef,
		StepName:  e.StepName,
		ExitCode:  e.ExitCode,
		LogPath:   e.LogPath,
		LogHash:   e.LogHash,
		PrevHash:  prevHash,
		AgentID:   e.AgentID,
	}

	h, err := blk.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute block hash: %w", err)
	}
	blk.Hash = h
	return blk, nil
}
