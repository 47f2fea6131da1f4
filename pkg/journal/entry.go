package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coldtree/coldtree/pkg/btree"
	"github.com/coldtree/coldtree/pkg/codec"
)

// frameCodec frames journal entries with the same pkg/codec record format
// the KV store's log uses: a CRC-checked header carrying the key/value
// sizes and a timestamp, then the data. The journal is an append-only log
// of the same character as the KV store's, so it reuses the codec outright
// instead of carrying a parallel frame format; a journal frame is simply a
// record with an empty key whose value is the entry payload.
var frameCodec = codec.NewRecordCodec()

// frameHeaderSize is codec.Record's fixed header: CRC32, key size, value
// size, timestamp.
const frameHeaderSize = 20

// WriteFrame writes one payload as a codec record with an empty key. It's
// exported so other packages (pkg/index) can build their own append-log
// persistence on the same frame format without going through
// btree.JournalEntry.
func WriteFrame(w io.Writer, payload []byte) error {
	data, err := frameCodec.Encode(nil, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame reads one frame written by WriteFrame, returning its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	keySize := binary.LittleEndian.Uint32(header[4:8])
	valueSize := binary.LittleEndian.Uint32(header[8:12])

	data := make([]byte, frameHeaderSize+int(keySize)+int(valueSize))
	copy(data, header)
	if _, err := io.ReadFull(r, data[frameHeaderSize:]); err != nil {
		return nil, err
	}

	record, err := frameCodec.Decode(data)
	if err != nil {
		return nil, ErrCorruptEntry
	}
	if err := record.Validate(); err != nil {
		return nil, ErrCorruptEntry
	}
	return record.Value, nil
}

// encodeEntry serializes a btree.JournalEntry into its frame payload.
func encodeEntry(e btree.JournalEntry) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(e.Btree))

	keys := e.Keys
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(keys)))
	buf.Write(countBuf[:])

	for _, k := range keys {
		var posBuf [20]byte
		binary.LittleEndian.PutUint64(posBuf[0:8], k.Pos.Inode)
		binary.LittleEndian.PutUint64(posBuf[8:16], k.Pos.Offset)
		binary.LittleEndian.PutUint32(posBuf[16:20], k.Pos.Snapshot)
		buf.Write(posBuf[:])

		var sizeBuf [8]byte
		binary.LittleEndian.PutUint64(sizeBuf[:], k.Size)
		buf.Write(sizeBuf[:])

		var ptrCountBuf [4]byte
		binary.LittleEndian.PutUint32(ptrCountBuf[:], uint32(len(k.Ptrs)))
		buf.Write(ptrCountBuf[:])

		for _, p := range k.Ptrs {
			var ptrBuf [18]byte
			ptrBuf[0] = byte(p.Version)
			binary.LittleEndian.PutUint32(ptrBuf[1:5], p.Dev)
			ptrBuf[5] = p.Gen
			binary.LittleEndian.PutUint64(ptrBuf[6:14], p.Sector)
			binary.LittleEndian.PutUint32(ptrBuf[14:18], p.Sectors)
			buf.Write(ptrBuf[:])
		}
	}

	var rootCountBuf [4]byte
	binary.LittleEndian.PutUint32(rootCountBuf[:], uint32(len(e.Roots)))
	buf.Write(rootCountBuf[:])

	for _, root := range e.Roots {
		var rootBuf [18]byte
		rootBuf[0] = byte(root.Btree)
		binary.LittleEndian.PutUint64(rootBuf[1:9], uint64(root.Node))
		rootBuf[9] = root.Level
		binary.LittleEndian.PutUint64(rootBuf[10:18], root.Generation)
		buf.Write(rootBuf[:])
	}

	return buf.Bytes()
}

func decodeEntry(payload []byte) (btree.JournalEntry, error) {
	if len(payload) < 5 {
		return btree.JournalEntry{}, ErrCorruptEntry
	}
	r := bytes.NewReader(payload)

	var btByte [1]byte
	if _, err := io.ReadFull(r, btByte[:]); err != nil {
		return btree.JournalEntry{}, err
	}
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return btree.JournalEntry{}, err
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	entry := btree.JournalEntry{Btree: btree.ID(btByte[0])}
	for i := uint32(0); i < count; i++ {
		var posBuf [20]byte
		if _, err := io.ReadFull(r, posBuf[:]); err != nil {
			return btree.JournalEntry{}, err
		}
		var sizeBuf [8]byte
		if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
			return btree.JournalEntry{}, err
		}
		var ptrCountBuf [4]byte
		if _, err := io.ReadFull(r, ptrCountBuf[:]); err != nil {
			return btree.JournalEntry{}, err
		}
		ptrCount := binary.LittleEndian.Uint32(ptrCountBuf[:])

		k := btree.Key{
			Pos: btree.Pos{
				Inode:    binary.LittleEndian.Uint64(posBuf[0:8]),
				Offset:   binary.LittleEndian.Uint64(posBuf[8:16]),
				Snapshot: binary.LittleEndian.Uint32(posBuf[16:20]),
			},
			Size: binary.LittleEndian.Uint64(sizeBuf[:]),
			Ptrs: make([]btree.Ptr, ptrCount),
		}
		for j := uint32(0); j < ptrCount; j++ {
			var ptrBuf [18]byte
			if _, err := io.ReadFull(r, ptrBuf[:]); err != nil {
				return btree.JournalEntry{}, err
			}
			k.Ptrs[j] = btree.Ptr{
				Version: btree.PointerVersion(ptrBuf[0]),
				Dev:     binary.LittleEndian.Uint32(ptrBuf[1:5]),
				Gen:     ptrBuf[5],
				Sector:  binary.LittleEndian.Uint64(ptrBuf[6:14]),
				Sectors: binary.LittleEndian.Uint32(ptrBuf[14:18]),
			}
		}
		entry.Keys = append(entry.Keys, k)
	}

	var rootCountBuf [4]byte
	if _, err := io.ReadFull(r, rootCountBuf[:]); err != nil {
		return btree.JournalEntry{}, err
	}
	rootCount := binary.LittleEndian.Uint32(rootCountBuf[:])

	for i := uint32(0); i < rootCount; i++ {
		var rootBuf [18]byte
		if _, err := io.ReadFull(r, rootBuf[:]); err != nil {
			return btree.JournalEntry{}, err
		}
		entry.Roots = append(entry.Roots, btree.RootPtr{
			Btree:      btree.ID(rootBuf[0]),
			Node:       btree.NodeID(binary.LittleEndian.Uint64(rootBuf[1:9])),
			Level:      rootBuf[9],
			Generation: binary.LittleEndian.Uint64(rootBuf[10:18]),
		})
	}

	return entry, nil
}

// ErrCorruptEntry is returned by replay when a frame's CRC doesn't match
// its payload.
var ErrCorruptEntry = fmt.Errorf("journal: corrupt entry")
