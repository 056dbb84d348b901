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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/tidemark/tidemark/adapters/repos/db/memtable"
	"github.com/tidemark/tidemark/entities/cells"
)

// ReadDescriptor reads only the header of an artifact, reconstructing its
// descriptor. Used on startup to rediscover which replay positions are
// already durable.
func ReadDescriptor(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "open artifact")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "stat artifact")
	}

	r := bufio.NewReader(f)

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return Descriptor{}, errors.Wrap(err, "read artifact magic")
	}
	if magic != fileMagic {
		return Descriptor{}, errors.Errorf("artifact %q: bad magic %#x", path, magic)
	}

	desc := Descriptor{Path: path, Size: info.Size()}
	if _, err := io.ReadFull(r, desc.TableID[:]); err != nil {
		return Descriptor{}, errors.Wrap(err, "read table id")
	}

	for _, field := range []*uint64{
		&desc.ReplayFrom.Segment, &desc.ReplayFrom.Offset,
		&desc.ReplayTo.Segment, &desc.ReplayTo.Offset,
		&desc.Barrier.Segment, &desc.Barrier.Offset,
	} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return Descriptor{}, errors.Wrap(err, "read replay range")
		}
	}

	if _, err := fmt.Sscanf(filepath.Base(path), "gen-%d.tmk", &desc.Generation); err != nil {
		return Descriptor{}, errors.Wrapf(err, "parse generation of %q", path)
	}

	return desc, nil
}

// ReadAll streams every partition of one artifact to fn, in key order. fn
// returning false stops the scan early.
func ReadAll(path string, fn func(partition memtable.Partition) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open artifact")
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return errors.Wrap(err, "read artifact magic")
	}
	if magic != fileMagic {
		return errors.Errorf("artifact %q: bad magic %#x", path, magic)
	}

	// table id, replay range and barrier, not needed for the scan
	if _, err := io.CopyN(io.Discard, r, 16+6*8); err != nil {
		return errors.Wrap(err, "read artifact header")
	}

	var partitionCount uint32
	if err := binary.Read(r, binary.LittleEndian, &partitionCount); err != nil {
		return errors.Wrap(err, "read partition count")
	}

	for i := uint32(0); i < partitionCount; i++ {
		partition, err := readPartition(r)
		if err != nil {
			return errors.Wrapf(err, "read partition %d of %q", i, path)
		}
		if !fn(partition) {
			return nil
		}
	}
	return nil
}

// ReadPartition scans one artifact for a single partition key. Returns nil
// when the key is not present.
func ReadPartition(path string, key []byte) (map[string]cells.Cell, error) {
	var found map[string]cells.Cell
	err := ReadAll(path, func(partition memtable.Partition) bool {
		if bytes.Equal(partition.Key, key) {
			found = partition.Columns
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func readPartition(r io.Reader) (memtable.Partition, error) {
	key, err := readBytes(r)
	if err != nil {
		return memtable.Partition{}, err
	}

	var columnCount uint32
	if err := binary.Read(r, binary.LittleEndian, &columnCount); err != nil {
		return memtable.Partition{}, err
	}

	columns := make(map[string]cells.Cell, columnCount)
	for i := uint32(0); i < columnCount; i++ {
		column, cell, err := readCell(r)
		if err != nil {
			return memtable.Partition{}, err
		}
		columns[column] = cell
	}

	return memtable.Partition{Key: key, Columns: columns}, nil
}

func readCell(r io.Reader) (string, cells.Cell, error) {
	column, err := readBytes(r)
	if err != nil {
		return "", cells.Cell{}, err
	}

	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return "", cells.Cell{}, err
	}

	var timestamp, expiry, deletionTime uint64
	for _, field := range []*uint64{&timestamp, &expiry, &deletionTime} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return "", cells.Cell{}, err
		}
	}

	value, err := readBytes(r)
	if err != nil {
		return "", cells.Cell{}, err
	}

	return string(column), cells.Cell{
		Timestamp:    int64(timestamp),
		Live:         flags[0]&cellFlagLive != 0,
		Value:        value,
		HasExpiry:    flags[0]&cellFlagHasExpiry != 0,
		Expiry:       int64(expiry),
		DeletionTime: int64(deletionTime),
	}, nil
}

func readBytes(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
