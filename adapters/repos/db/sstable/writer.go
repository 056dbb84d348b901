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

package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tidemark/tidemark/adapters/repos/db/commitlog"
	"github.com/tidemark/tidemark/adapters/repos/db/memtable"
	"github.com/tidemark/tidemark/entities/cells"
)

// Writer turns a sealed memtable's content into a durable artifact.
type Writer interface {
	Write(partitions []memtable.Partition,
		replayFrom, replayTo, barrier commitlog.ReplayPosition) (Descriptor, error)
}

const (
	fileMagic = uint32(0x7464_6d6b) // "tdmk"

	cellFlagLive      = byte(1)
	cellFlagHasExpiry = byte(2)
)

// FileWriter writes artifacts for one table into its directory. It writes
// through a temp file and renames only after fsync, so a crash mid-flush
// never leaves a readable half-artifact behind.
type FileWriter struct {
	dir     string
	tableID uuid.UUID
}

func NewFileWriter(dir string, tableID uuid.UUID) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create table directory")
	}
	return &FileWriter{dir: dir, tableID: tableID}, nil
}

// ArtifactPath returns the final path of one generation's artifact.
func (fw *FileWriter) ArtifactPath(generation uint64) string {
	return filepath.Join(fw.dir, fmt.Sprintf("gen-%06d.tmk", generation))
}

// NextGeneration scans the directory for the highest existing generation
// and returns the one after it.
func (fw *FileWriter) NextGeneration() (uint64, error) {
	paths, err := filepath.Glob(filepath.Join(fw.dir, "gen-*.tmk"))
	if err != nil {
		return 0, errors.Wrap(err, "scan artifact directory")
	}

	var highest uint64
	for _, path := range paths {
		var gen uint64
		if _, err := fmt.Sscanf(filepath.Base(path), "gen-%d.tmk", &gen); err == nil && gen > highest {
			highest = gen
		}
	}
	return highest + 1, nil
}

// Write persists the partitions (which must already be in key order) and
// returns the descriptor of the finished artifact.
func (fw *FileWriter) Write(partitions []memtable.Partition,
	replayFrom, replayTo, barrier commitlog.ReplayPosition,
) (Descriptor, error) {
	generation, err := fw.NextGeneration()
	if err != nil {
		return Descriptor{}, err
	}

	finalPath := fw.ArtifactPath(generation)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "create artifact temp file")
	}

	size, err := fw.writeAll(f, partitions, replayFrom, replayTo, barrier)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return Descriptor{}, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return Descriptor{}, errors.Wrap(err, "fsync artifact")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return Descriptor{}, errors.Wrap(err, "close artifact")
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return Descriptor{}, errors.Wrap(err, "rename artifact into place")
	}

	return Descriptor{
		Path:       finalPath,
		TableID:    fw.tableID,
		Generation: generation,
		Size:       size,
		ReplayFrom: replayFrom,
		ReplayTo:   replayTo,
		Barrier:    barrier,
	}, nil
}

func (fw *FileWriter) writeAll(f *os.File, partitions []memtable.Partition,
	replayFrom, replayTo, barrier commitlog.ReplayPosition,
) (int64, error) {
	w := bufio.NewWriter(f)

	header := []interface{}{
		fileMagic,
		fw.tableID[:],
		replayFrom.Segment, replayFrom.Offset,
		replayTo.Segment, replayTo.Offset,
		barrier.Segment, barrier.Offset,
		uint32(len(partitions)),
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return 0, errors.Wrap(err, "write artifact header")
		}
	}

	size := int64(4 + 16 + 6*8 + 4)

	for _, partition := range partitions {
		n, err := writePartition(w, partition)
		if err != nil {
			return 0, errors.Wrapf(err, "write partition %x", partition.Key)
		}
		size += n
	}

	if err := w.Flush(); err != nil {
		return 0, errors.Wrap(err, "flush artifact buffer")
	}
	return size, nil
}

func writePartition(w io.Writer, partition memtable.Partition) (int64, error) {
	columns := make([]string, 0, len(partition.Columns))
	for column := range partition.Columns {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	n := int64(0)

	if err := binary.Write(w, binary.LittleEndian, uint32(len(partition.Key))); err != nil {
		return 0, err
	}
	if _, err := w.Write(partition.Key); err != nil {
		return 0, err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(columns))); err != nil {
		return 0, err
	}
	n += 4 + int64(len(partition.Key)) + 4

	for _, column := range columns {
		written, err := writeCell(w, column, partition.Columns[column])
		if err != nil {
			return 0, err
		}
		n += written
	}
	return n, nil
}

func writeCell(w io.Writer, column string, cell cells.Cell) (int64, error) {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(column))); err != nil {
		return 0, err
	}
	if _, err := w.Write([]byte(column)); err != nil {
		return 0, err
	}

	var flags byte
	if cell.Live {
		flags |= cellFlagLive
	}
	if cell.HasExpiry {
		flags |= cellFlagHasExpiry
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return 0, err
	}

	for _, field := range []uint64{
		uint64(cell.Timestamp), uint64(cell.Expiry), uint64(cell.DeletionTime),
	} {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return 0, err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(cell.Value))); err != nil {
		return 0, err
	}
	if _, err := w.Write(cell.Value); err != nil {
		return 0, err
	}

	return 4 + int64(len(column)) + 1 + 3*8 + 4 + int64(len(cell.Value)), nil
}
