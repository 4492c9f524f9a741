// Package memory stores interaction records in a transient working tier and a
// durable episodic tier, scores their importance and retrieves them by similarity.
package memory

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

type Tier string

const (
	TierWorking  Tier = "working"
	TierEpisodic Tier = "episodic"
)

type Category string

const (
	CategoryGeneral     Category = "general"
	CategoryTechnical   Category = "technical"
	CategoryPersonal    Category = "personal"
	CategoryCreative    Category = "creative"
	CategoryEducational Category = "educational"
)

// Categories lists the closed set of record categories.
var Categories = []Category{
	CategoryGeneral, CategoryTechnical, CategoryPersonal, CategoryCreative, CategoryEducational,
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Access tracks retrieval hits.
type Access struct {
	Count      int       `json:"count"`
	LastAccess time.Time `json:"last_access,omitempty"`
}

// Record is one stored interaction or fact. ID, Text, Vector and Timestamp
// never change after creation.
type Record struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Vector     []float32         `json:"-"`
	Timestamp  time.Time         `json:"timestamp"`
	Category   Category          `json:"category"`
	Importance float64           `json:"importance"`
	Sentiment  float64           `json:"sentiment"`
	Pinned     bool              `json:"pinned"`
	Access     Access            `json:"access"`
	Tier       Tier              `json:"tier"`
	Meta       map[string]string `json:"meta,omitempty"`
}

func (r *Record) clone() *Record {
	c := *r
	c.Vector = append([]float32(nil), r.Vector...)
	if r.Meta != nil {
		c.Meta = make(map[string]string, len(r.Meta))
		for k, v := range r.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

// Meta is the caller-supplied context of Remember.
type Meta struct {
	// Sentiment in [-1,1]; its magnitude feeds importance.
	Sentiment float64
	// Category overrides the keyword heuristic when valid.
	Category Category
	Pinned   bool
	// Attributes are stored verbatim on the record.
	Attributes map[string]string
}

// Match is one FindSimilar result.
type Match struct {
	Record     *Record
	Similarity float64
	Score      float64
}

// Stats summarizes the store.
type Stats struct {
	Working        int
	Episodic       int
	Pinned         int
	PendingWrites  int
	IndexEnabled   bool
	IndexedRecords int
}

// storedRecord is the durable encoding of a Record. The vector is kept as a
// little-endian float32 blob.
type storedRecord struct {
	Record
	Vector []byte `json:"vector"`
}

func encodeRecord(r *Record) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, r.Vector); err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return json.Marshal(storedRecord{Record: *r, Vector: buf.Bytes()})
}

func decodeRecord(body []byte) (*Record, error) {
	var sr storedRecord
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if len(sr.Vector)%4 != 0 {
		return nil, fmt.Errorf("record %s: vector blob has %d bytes", sr.ID, len(sr.Vector))
	}
	vector := make([]float32, len(sr.Vector)/4)
	if err := binary.Read(bytes.NewReader(sr.Vector), binary.LittleEndian, vector); err != nil {
		return nil, fmt.Errorf("failed to decode vector: %w", err)
	}
	r := sr.Record
	r.Vector = vector
	return &r, nil
}
