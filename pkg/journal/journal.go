// Package journal implements the write-ahead log collaborator the update
// engine (pkg/btree) commits interior-node key changes and root swaps
// through before any node write lands, satisfying the reachability
// ordering the engine requires: journal commit happens-before node write.
// It is grounded on pkg/store's LogWriter/LogReader pair: the same
// buffered-writer-plus-fsync-timer shape, the same pkg/codec record
// framing on disk (an empty-key record whose value is the encoded entry),
// but carrying btree.JournalEntry payloads instead of key/value pairs,
// and taking an advisory flock the KV store's writer never needed because
// it never assumed a single process owned the file.
package journal

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/coldtree/coldtree/pkg/btree"
)

// Config mirrors store.LogWriterConfig's shape, adapted to the journal's
// own defaults.
type Config struct {
	Path          string
	BufferSize    int
	FsyncInterval time.Duration
}

// DefaultBufferSize matches the KV log writer's default.
const DefaultBufferSize = 64 * 1024

// Journal is an append-only, CRC-framed log of btree.JournalEntry
// records. It satisfies btree.Journal.
type Journal struct {
	file       *os.File
	writer     *bufio.Writer
	config     Config
	fsyncTimer *time.Timer

	mu        sync.Mutex
	offset    int64
	nextSeq   uint64
	preresCap uint32 // bytes currently outstanding under unreleased Preres calls
	pins      map[uint64]pinnedEntry
}

type pinnedEntry struct {
	offset int64
	length uint32
}

// Open creates or reopens a journal log at config.Path, taking an
// exclusive advisory flock so two processes can never append to the same
// journal concurrently.
func Open(config Config) (*Journal, error) {
	if config.BufferSize == 0 {
		config.BufferSize = DefaultBufferSize
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0750); err != nil {
		return nil, errors.Wrap(err, "journal: creating directory")
	}

	file, err := os.OpenFile(config.Path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "journal: opening log file")
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "journal: another process already holds this log")
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "journal: stat")
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "journal: seeking to end")
	}

	j := &Journal{
		file:   file,
		writer: bufio.NewWriterSize(file, config.BufferSize),
		config: config,
		offset: stat.Size(),
		pins:   make(map[uint64]pinnedEntry),
	}

	if config.FsyncInterval > 0 {
		j.fsyncTimer = time.AfterFunc(config.FsyncInterval, func() {
			j.mu.Lock()
			defer j.mu.Unlock()
			j.sync()
		})
	}

	return j, nil
}

// Preres reserves bytes of log space. The journal has no fixed capacity
// of its own (unlike a circular log), so this only tracks outstanding
// reservations for Stat/introspection purposes; it never fails for
// space, only ctx cancellation.
func (j *Journal) Preres(ctx context.Context, bytes uint32) (btree.JournalPreres, error) {
	if err := ctx.Err(); err != nil {
		return btree.JournalPreres{}, err
	}
	j.mu.Lock()
	j.preresCap += bytes
	j.mu.Unlock()
	return btree.JournalPreres{Bytes: bytes}, nil
}

// Add appends entry to the log under a previously taken preres,
// returning a pin that the caller must release once entry's effects are
// durable by some other means (the node itself reaching disk).
func (j *Journal) Add(pre btree.JournalPreres, entry btree.JournalEntry) (btree.JournalPin, error) {
	payload := encodeEntry(entry)

	j.mu.Lock()
	defer j.mu.Unlock()

	if pre.Bytes > j.preresCap {
		return btree.JournalPin{}, errors.New("journal: Add called with a preres this journal never granted")
	}
	j.preresCap -= pre.Bytes

	recordOffset := j.offset
	if err := WriteFrame(j.writer, payload); err != nil {
		return btree.JournalPin{}, errors.Wrap(err, "journal: appending entry")
	}
	written := int64(frameHeaderSize + len(payload))
	j.offset += written

	if j.config.FsyncInterval == 0 {
		if err := j.sync(); err != nil {
			return btree.JournalPin{}, err
		}
	} else if j.fsyncTimer != nil {
		j.fsyncTimer.Reset(j.config.FsyncInterval)
	}

	j.nextSeq++
	seq := j.nextSeq
	j.pins[seq] = pinnedEntry{offset: recordOffset, length: uint32(written)}

	return btree.JournalPin{Seq: seq}, nil
}

// Flush blocks until every entry appended so far is fsynced.
func (j *Journal) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sync()
}

// PinRelease drops a pin taken by Add. Once every pin predating some
// offset has been released, that prefix of the log is eligible for
// reclamation by compaction (cmd/coldctl compact).
func (j *Journal) PinRelease(pin btree.JournalPin) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.pins, pin.Seq)
}

// OldestPinnedOffset returns the file offset of the oldest still-pinned
// entry, or the current write offset if nothing is pinned. Compaction
// uses this to decide how much of the log it may safely discard.
func (j *Journal) OldestPinnedOffset() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	oldest := j.offset
	for _, p := range j.pins {
		if p.offset < oldest {
			oldest = p.offset
		}
	}
	return oldest
}

// PinCount reports how many entries are currently pinned, for the
// admin/introspection surface.
func (j *Journal) PinCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pins)
}

func (j *Journal) sync() error {
	if err := j.writer.Flush(); err != nil {
		return errors.Wrap(err, "journal: flushing buffer")
	}
	return errors.Wrap(j.file.Sync(), "journal: fsync")
}

// Close flushes and closes the journal, releasing the advisory flock.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.fsyncTimer != nil {
		j.fsyncTimer.Stop()
	}
	if err := j.sync(); err != nil {
		j.file.Close()
		return err
	}
	unix.Flock(int(j.file.Fd()), unix.LOCK_UN)
	return j.file.Close()
}

// Replay reads every entry currently in the log in order, calling fn for
// each. It's used at mount time to rebuild any interior-node state that
// hadn't yet reached its own node write when the filesystem last closed.
func Replay(path string, fn func(btree.JournalEntry) error) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "journal: opening log for replay")
	}
	defer file.Close()

	r := bufio.NewReader(file)
	for {
		payload, err := ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "journal: reading frame")
		}
		entry, err := decodeEntry(payload)
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}
