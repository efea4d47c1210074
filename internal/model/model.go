// Package model defines the core memory data types.
package model

import (
	"strings"
	"time"
	"unicode"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// ValidRoles are the allowed turn roles.
var ValidRoles = map[Role]bool{
	RoleUser:   true,
	RoleAgent:  true,
	RoleSystem: true,
}

// Session groups turns into a bounded conversation lifetime.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Closed    bool      `json:"closed"`
}

// Turn is one message within a session. Turns are append-only and
// immutable once written.
type Turn struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ProfileEntry is one key/value pair of the user profile. Updates
// overwrite in place; there is no history.
type ProfileEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fact is a deduplicated, confidence-scored piece of extracted knowledge.
// Identity is (Category, NormalizeFactText(Content)); writes hitting an
// existing identity merge instead of inserting.
type Fact struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NormalizeFactText produces the canonical form used for fact identity:
// lowercased, runs of whitespace collapsed to single spaces, trailing
// sentence punctuation removed.
func NormalizeFactText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Document is an ingested piece of external text, owning an ordered
// sequence of chunks.
type Document struct {
	ID         string    `json:"id"`
	Origin     string    `json:"origin"`
	Hash       string    `json:"hash"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Chunk is a contiguous span of a document or turn, the unit of
// embedding and retrieval. Exactly one of DocumentID/TurnID is set.
// Spans of a single source are non-overlapping and concatenate back to
// the source text. Indexed reports whether the chunk's embedding has
// been stored in the semantic index; the index is a derived cache and
// the flag here is authoritative.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id,omitempty"`
	TurnID     string `json:"turn_id,omitempty"`
	Seq        int    `json:"seq"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Indexed    bool   `json:"indexed"`
}

// SearchLayer names the retrieval method that produced a result.
type SearchLayer string

const (
	LayerBuffer   SearchLayer = "buffer"
	LayerSemantic SearchLayer = "semantic"
	LayerLexical  SearchLayer = "lexical"
)

// SearchResult is a ranked retrieval hit. Score is in [0,1], higher is
// more relevant; scores from different layers are not on the same scale.
type SearchResult struct {
	ChunkID string      `json:"chunk_id,omitempty"`
	TurnID  string      `json:"turn_id,omitempty"`
	Text    string      `json:"text"`
	Score   float64     `json:"score"`
	Layer   SearchLayer `json:"layer"`
}

// Identity returns the dedup key for a result: the chunk ID when
// present, otherwise the turn ID.
func (r SearchResult) Identity() string {
	if r.ChunkID != "" {
		return r.ChunkID
	}
	return r.TurnID
}
