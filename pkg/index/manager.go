package index

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/coldtree/coldtree/pkg/bptree"
	"github.com/coldtree/coldtree/pkg/journal"
)

// SecondaryIndex manages a B+Tree-based index for a specific field
type SecondaryIndex struct {
	fieldName string
	order     int
	tree      *bptree.BPlusTree
	mutex     sync.RWMutex
}

// NewSecondaryIndex creates a new secondary index for a field
func NewSecondaryIndex(fieldName string, order int) *SecondaryIndex {
	return &SecondaryIndex{
		fieldName: fieldName,
		order:     order,
		tree:      bptree.NewBPlusTree(order),
	}
}

// Insert adds a record to the secondary index
// The index key is: field_value + primary_key (to ensure uniqueness)
func (idx *SecondaryIndex) Insert(fieldValue interface{}, primaryKey []byte) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	indexKey := idx.createIndexKey(fieldValue, primaryKey)
	idx.tree.Insert(indexKey, ksuidFromPrimaryKey(primaryKey))
	return nil
}

// ksuidFromPrimaryKey derives the tree's fixed-width value handle from an
// arbitrary-length primary key: keys that already are raw KSUIDs pass
// through unchanged, anything else is collapsed through SHA-1 (whose
// 20-byte digest happens to match the KSUID encoding exactly). The handle
// is opaque — uniqueness of an entry comes from the composite index key,
// which carries the full primary key bytes.
func ksuidFromPrimaryKey(primaryKey []byte) ksuid.KSUID {
	if len(primaryKey) == ksuidByteLength {
		if id, err := ksuid.FromBytes(primaryKey); err == nil {
			return id
		}
	}
	sum := sha1.Sum(primaryKey)
	id, _ := ksuid.FromBytes(sum[:])
	return id
}

// Delete removes a record from the secondary index
func (idx *SecondaryIndex) Delete(fieldValue interface{}, primaryKey []byte) bool {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	indexKey := idx.createIndexKey(fieldValue, primaryKey)
	return idx.tree.Delete(indexKey)
}

// Search finds records with exact field value match
func (idx *SecondaryIndex) Search(fieldValue interface{}) ([][]byte, error) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	// For exact match, we need to find all keys that start with the field value
	_ = idx.createFieldPrefix(fieldValue) // TODO: Use for prefix search

	// TODO: Implement prefix search in B+Tree
	// For now, return empty (this needs B+Tree range query support)
	return [][]byte{}, nil
}

// SearchRange finds records within a field value range
func (idx *SecondaryIndex) SearchRange(startValue, endValue interface{}) ([][]byte, error) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	// TODO: Implement range search in B+Tree
	// This requires extending the B+Tree with range query capabilities
	return [][]byte{}, nil
}

// indexOp tags one replayable record in an index's append log.
type indexOp uint8

const (
	opInsert indexOp = iota
	opDelete
)

// Save persists the index as a replayable op log: one framed record per
// live key, written fresh each time rather than a structural snapshot of
// the tree's own node layout. This replaces the old whole-tree BFS blob —
// now the file is just a sequence of inserts an empty tree can replay,
// using the same CRC-framed record shape the btree engine's journal
// writes (pkg/journal.WriteFrame), so a corrupt tail is detected the same
// way rather than silently desyncing the tree.
func (idx *SecondaryIndex) Save(dir string) error {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	filename := filepath.Join(dir, fmt.Sprintf("index_%s.dat", idx.fieldName))
	tmp := filename + ".tmp"

	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create index file for field %s: %w", idx.fieldName, err)
	}
	w := bufio.NewWriter(file)

	var walkErr error
	idx.tree.ForEach(func(key []byte, value ksuid.KSUID) {
		if walkErr != nil {
			return
		}
		walkErr = journal.WriteFrame(w, encodeIndexOp(opInsert, key, value))
	})
	if walkErr == nil {
		walkErr = w.Flush()
	}
	if walkErr == nil {
		walkErr = file.Sync()
	}
	closeErr := file.Close()
	if walkErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write index for field %s: %w", idx.fieldName, walkErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}
	return os.Rename(tmp, filename)
}

// Load restores the index from disk by replaying its op log into a fresh
// tree.
func (idx *SecondaryIndex) Load(dir string) error {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	filename := filepath.Join(dir, fmt.Sprintf("index_%s.dat", idx.fieldName))
	file, err := os.Open(filename)
	if os.IsNotExist(err) {
		// Index doesn't exist yet, keep empty tree
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open index for field %s: %w", idx.fieldName, err)
	}
	defer file.Close()

	tree := bptree.NewBPlusTree(idx.order)

	r := bufio.NewReader(file)
	for {
		payload, err := journal.ReadFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to replay index for field %s: %w", idx.fieldName, err)
		}
		op, key, value, err := decodeIndexOp(payload)
		if err != nil {
			return fmt.Errorf("failed to decode index record for field %s: %w", idx.fieldName, err)
		}
		switch op {
		case opInsert:
			tree.Insert(key, value)
		case opDelete:
			tree.Delete(key)
		}
	}

	idx.tree = tree
	return nil
}

// ksuidByteLength is segmentio/ksuid's fixed raw-byte encoding length
// (the package exports no constant for it).
const ksuidByteLength = 20

func encodeIndexOp(op indexOp, key []byte, value ksuid.KSUID) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(op))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	buf.Write(lenBuf[:])
	buf.Write(key)
	valueBytes := value.Bytes()
	buf.Write(valueBytes)
	return buf.Bytes()
}

func decodeIndexOp(payload []byte) (indexOp, []byte, ksuid.KSUID, error) {
	if len(payload) < 5 {
		return 0, nil, ksuid.KSUID{}, fmt.Errorf("index record too short")
	}
	op := indexOp(payload[0])
	keyLen := binary.LittleEndian.Uint32(payload[1:5])
	if uint32(len(payload)-5) < keyLen+ksuidByteLength {
		return 0, nil, ksuid.KSUID{}, fmt.Errorf("index record truncated")
	}
	key := payload[5 : 5+keyLen]
	value, err := ksuid.FromBytes(payload[5+keyLen : 5+keyLen+ksuidByteLength])
	if err != nil {
		return 0, nil, ksuid.KSUID{}, err
	}
	return op, key, value, nil
}

// createIndexKey creates a composite key: field_value + primary_key
func (idx *SecondaryIndex) createIndexKey(fieldValue interface{}, primaryKey []byte) []byte {
	var buf bytes.Buffer

	// Serialize field value
	idx.serializeValue(&buf, fieldValue)

	// Append primary key
	buf.Write(primaryKey)

	return buf.Bytes()
}

// createFieldPrefix creates a key prefix for field value matching
func (idx *SecondaryIndex) createFieldPrefix(fieldValue interface{}) []byte {
	var buf bytes.Buffer
	idx.serializeValue(&buf, fieldValue)
	return buf.Bytes()
}

// serializeValue serializes different value types for indexing
func (idx *SecondaryIndex) serializeValue(buf *bytes.Buffer, value interface{}) {
	switch v := value.(type) {
	case int:
		buf.WriteByte(0) // Type marker for int
		binary.Write(buf, binary.BigEndian, int64(v))
	case int64:
		buf.WriteByte(0)
		binary.Write(buf, binary.BigEndian, v)
	case float64:
		buf.WriteByte(1) // Type marker for float64
		binary.Write(buf, binary.BigEndian, v)
	case string:
		buf.WriteByte(2) // Type marker for string
		buf.WriteString(v)
		buf.WriteByte(0) // Null terminator
	default:
		// For unknown types, convert to string
		buf.WriteByte(2)
		buf.WriteString(fmt.Sprintf("%v", v))
		buf.WriteByte(0)
	}
}

// IndexManager manages multiple secondary indexes for a partition
type IndexManager struct {
	indexes map[string]*SecondaryIndex
	mutex   sync.RWMutex
	order   int
}

// NewIndexManager creates a new index manager
func NewIndexManager(order int) *IndexManager {
	return &IndexManager{
		indexes: make(map[string]*SecondaryIndex),
		order:   order,
	}
}

// GetOrCreateIndex gets an existing index or creates a new one for a field
func (im *IndexManager) GetOrCreateIndex(fieldName string) *SecondaryIndex {
	im.mutex.Lock()
	defer im.mutex.Unlock()

	if idx, exists := im.indexes[fieldName]; exists {
		return idx
	}

	idx := NewSecondaryIndex(fieldName, im.order)
	im.indexes[fieldName] = idx
	return idx
}

// SaveAll saves all indexes to disk
func (im *IndexManager) SaveAll(dir string) error {
	im.mutex.RLock()
	defer im.mutex.RUnlock()

	for _, idx := range im.indexes {
		if err := idx.Save(dir); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll loads all indexes from disk
func (im *IndexManager) LoadAll(dir string) error {
	im.mutex.Lock()
	defer im.mutex.Unlock()

	// Find all index files
	pattern := filepath.Join(dir, "index_*.dat")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	for _, file := range files {
		filename := filepath.Base(file)
		if len(filename) < 10 { // "index_.dat" is 10 chars minimum
			continue
		}

		// Extract field name from filename
		fieldName := filename[6 : len(filename)-4] // Remove "index_" prefix and ".dat" suffix

		idx := NewSecondaryIndex(fieldName, im.order)
		if err := idx.Load(dir); err != nil {
			return err
		}

		im.indexes[fieldName] = idx
	}

	return nil
}
