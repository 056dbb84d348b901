//  _   _     _                                _
// | |_(_) __| | ___ _ __ ___   __ _ _ __| | __
// | __| |/ _` |/ _ \ '_ ` _ \ / _` | '__| |/ /
// | |_| | (_| |  __/ | | | | | (_| | |  |   <
//  \__|_|\__,_|\___|_| |_| |_|\__,_|_|  |_|\_\
//
//  Copyright © 2026 Tidemark B.V. All rights reserved.
//
//  CONTACT: hello@tidemark.io
//

package commitlog

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrPositionReordered marks a write whose replay position conflicts with
// a concurrent truncate. The truncate semantically removed the write
// already, so callers drop it silently.
var ErrPositionReordered = errors.New("replay position reordered with truncate")

// EntryWriter lets callers serialize an entry directly into the log's
// buffered writer instead of through an intermediate allocation.
type EntryWriter interface {
	WriteTo(w io.Writer) (int64, error)
}

// Log is the durability log contract the write path depends on. Appends
// are ordered per table; entries for distinct tables may interleave.
type Log interface {
	// AddEntry appends one entry for the given table and returns the
	// durable position handle.
	AddEntry(ctx context.Context, tableID uuid.UUID, entry EntryWriter) (ReplayPosition, error)
	// DiscardCompletedSegments tells the log that all of tableID's data
	// strictly below upTo is durable elsewhere; fully covered segments are
	// deleted.
	DiscardCompletedSegments(tableID uuid.UUID, upTo ReplayPosition)
	// Head returns the position the next appended entry would receive.
	// Truncation uses it as the cut point between old and new writes.
	Head() ReplayPosition
	// Shutdown flushes and closes the log. No appends may follow.
	Shutdown(ctx context.Context) error
}

const segmentFilePrefix = "segment-"

// FileLog is the file-backed Log. Entries are framed little-endian into
// size-rotated segment files; per-segment dirty-table bookkeeping drives
// segment discard.
type FileLog struct {
	mu sync.Mutex

	dir         string
	segmentSize int64

	segment uint64
	offset  uint64
	file    *os.File
	writer  *bufio.Writer

	// per closed-or-current segment: highest position appended per table
	dirty map[uint64]map[uuid.UUID]ReplayPosition

	closed bool

	logger logrus.FieldLogger
}

func NewFileLog(dir string, segmentSize int64, logger logrus.FieldLogger) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create commit log directory")
	}

	l := &FileLog{
		dir:         dir,
		segmentSize: segmentSize,
		dirty:       map[uint64]map[uuid.UUID]ReplayPosition{},
		logger:      logger.WithField("action", "commitlog"),
	}

	next, err := l.highestExistingSegment()
	if err != nil {
		return nil, err
	}
	if err := l.openSegment(next + 1); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *FileLog) highestExistingSegment() (uint64, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, errors.Wrap(err, "scan commit log directory")
	}

	var highest uint64
	for _, entry := range entries {
		seg, ok := parseSegmentName(entry.Name())
		if ok && seg > highest {
			highest = seg
		}
	}
	return highest, nil
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentFilePrefix) || !strings.HasSuffix(name, ".wal") {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, segmentFilePrefix), ".wal")
	seg, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return seg, true
}

func segmentPath(dir string, segment uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d.wal", segmentFilePrefix, segment))
}

func (l *FileLog) segmentPath(segment uint64) string {
	return segmentPath(l.dir, segment)
}

// must be called with l.mu held (or during construction)
func (l *FileLog) openSegment(segment uint64) error {
	f, err := os.Create(l.segmentPath(segment))
	if err != nil {
		return errors.Wrapf(err, "create segment %d", segment)
	}

	l.segment = segment
	l.offset = 0
	l.file = f
	l.writer = bufio.NewWriter(f)
	return nil
}

// must be called with l.mu held
func (l *FileLog) closeSegment() error {
	if err := l.writer.Flush(); err != nil {
		return errors.Wrap(err, "flush segment buffer")
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrap(err, "fsync segment")
	}
	return l.file.Close()
}

// AddEntry appends the entry and flushes the write buffer before
// returning, so the returned position is backed by the file once the call
// succeeds. Per-table ordering follows from the single writer lock.
func (l *FileLog) AddEntry(ctx context.Context, tableID uuid.UUID,
	entry EntryWriter,
) (ReplayPosition, error) {
	if err := ctx.Err(); err != nil {
		return ReplayPosition{}, errors.Wrap(err, "commit log append")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ReplayPosition{}, errors.New("commit log is shut down")
	}

	pos := ReplayPosition{Segment: l.segment, Offset: l.offset}

	if _, err := l.writer.Write(tableID[:]); err != nil {
		return ReplayPosition{}, errors.Wrap(err, "write table id")
	}

	var payload countingWriter
	payload.w = io.Discard
	if _, err := entry.WriteTo(&payload); err != nil {
		return ReplayPosition{}, errors.Wrap(err, "size entry")
	}
	if err := binary.Write(l.writer, binary.LittleEndian, uint64(payload.n)); err != nil {
		return ReplayPosition{}, errors.Wrap(err, "write entry length")
	}

	written, err := entry.WriteTo(l.writer)
	if err != nil {
		return ReplayPosition{}, errors.Wrap(err, "write entry")
	}
	if written != payload.n {
		return ReplayPosition{}, errors.Errorf(
			"entry writer produced %d bytes after declaring %d", written, payload.n)
	}

	if err := l.writer.Flush(); err != nil {
		return ReplayPosition{}, errors.Wrap(err, "flush entry")
	}

	l.offset += 16 + 8 + uint64(written)

	perTable, ok := l.dirty[l.segment]
	if !ok {
		perTable = map[uuid.UUID]ReplayPosition{}
		l.dirty[l.segment] = perTable
	}
	perTable[tableID] = Max(perTable[tableID], pos)

	if int64(l.offset) >= l.segmentSize {
		if err := l.closeSegment(); err != nil {
			return ReplayPosition{}, err
		}
		if err := l.openSegment(l.segment + 1); err != nil {
			return ReplayPosition{}, err
		}
	}

	return pos, nil
}

// DiscardCompletedSegments removes tableID's dirty marks strictly below
// upTo and deletes every closed segment that no table keeps dirty anymore.
// An entry sitting exactly at upTo is not yet covered and keeps its
// segment alive.
func (l *FileLog) DiscardCompletedSegments(tableID uuid.UUID, upTo ReplayPosition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var discardable []uint64
	for segment, perTable := range l.dirty {
		if pos, ok := perTable[tableID]; ok && pos.Cmp(upTo) < 0 {
			delete(perTable, tableID)
		}
		if len(perTable) == 0 && segment != l.segment {
			discardable = append(discardable, segment)
		}
	}

	sort.Slice(discardable, func(i, j int) bool { return discardable[i] < discardable[j] })
	for _, segment := range discardable {
		delete(l.dirty, segment)
		if err := os.Remove(l.segmentPath(segment)); err != nil {
			l.logger.WithError(err).WithField("segment", segment).
				Warn("failed to remove completed segment")
			continue
		}
		l.logger.WithField("segment", segment).Debug("discarded completed segment")
	}
}

// Head returns the position the next entry would be appended at.
func (l *FileLog) Head() ReplayPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ReplayPosition{Segment: l.segment, Offset: l.offset}
}

// Shutdown flushes, fsyncs and closes the current segment.
func (l *FileLog) Shutdown(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.closeSegment()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
