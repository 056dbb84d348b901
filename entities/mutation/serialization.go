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

package mutation

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	flagLive      = 1 << 0
	flagHasExpiry = 1 << 1
	flagIsCounter = 1 << 2
)

// WriteTo encodes the mutation in the durability log wire form. The format
// is little-endian and self-delimiting so that log segments can be replayed
// without a schema at hand.
func (m *Mutation) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	if _, err := cw.Write(m.TableID[:]); err != nil {
		return cw.n, err
	}
	if _, err := cw.Write(m.SchemaVersion[:]); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint32(len(m.Key))); err != nil {
		return cw.n, err
	}
	if _, err := cw.Write(m.Key); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint32(len(m.Updates))); err != nil {
		return cw.n, err
	}

	for i, u := range m.Updates {
		if err := writeUpdate(cw, u); err != nil {
			return cw.n, errors.Wrapf(err, "write update %d", i)
		}
	}

	return cw.n, nil
}

// Bytes encodes the mutation into a fresh buffer.
func (m *Mutation) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeUpdate(w io.Writer, u CellUpdate) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(u.Column))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, u.Column); err != nil {
		return err
	}

	var flags byte
	if u.Cell.Live {
		flags |= flagLive
	}
	if u.Cell.HasExpiry {
		flags |= flagHasExpiry
	}
	if u.IsCounter {
		flags |= flagIsCounter
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return err
	}

	for _, v := range []uint64{
		uint64(u.Cell.Timestamp), uint64(u.Cell.Expiry),
		uint64(u.Cell.DeletionTime), uint64(u.CounterDelta),
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(u.Cell.Value))); err != nil {
		return err
	}
	_, err := w.Write(u.Cell.Value)
	return err
}

// FromBytes decodes a mutation previously encoded with WriteTo/Bytes.
func FromBytes(in []byte) (*Mutation, error) {
	return Read(bytes.NewReader(in))
}

// Read decodes one mutation from r, e.g. while replaying a log segment.
func Read(r io.Reader) (*Mutation, error) {
	m := &Mutation{}
	if _, err := io.ReadFull(r, m.TableID[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, m.SchemaVersion[:]); err != nil {
		return nil, errors.Wrap(err, "read schema version")
	}

	keyLen, err := readUint32(r)
	if err != nil {
		return nil, errors.Wrap(err, "read key length")
	}
	m.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, m.Key); err != nil {
		return nil, errors.Wrap(err, "read key")
	}

	updateCount, err := readUint32(r)
	if err != nil {
		return nil, errors.Wrap(err, "read update count")
	}

	m.Updates = make([]CellUpdate, updateCount)
	for i := range m.Updates {
		if m.Updates[i], err = readUpdate(r); err != nil {
			return nil, errors.Wrapf(err, "read update %d", i)
		}
	}

	return m, nil
}

func readUpdate(r io.Reader) (CellUpdate, error) {
	var u CellUpdate

	colLen, err := readUint32(r)
	if err != nil {
		return u, err
	}
	col := make([]byte, colLen)
	if _, err := io.ReadFull(r, col); err != nil {
		return u, err
	}
	u.Column = string(col)

	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return u, err
	}
	u.Cell.Live = flags[0]&flagLive != 0
	u.Cell.HasExpiry = flags[0]&flagHasExpiry != 0
	u.IsCounter = flags[0]&flagIsCounter != 0

	var fixed [32]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return u, err
	}
	u.Cell.Timestamp = int64(binary.LittleEndian.Uint64(fixed[0:8]))
	u.Cell.Expiry = int64(binary.LittleEndian.Uint64(fixed[8:16]))
	u.Cell.DeletionTime = int64(binary.LittleEndian.Uint64(fixed[16:24]))
	u.CounterDelta = int64(binary.LittleEndian.Uint64(fixed[24:32]))

	valLen, err := readUint32(r)
	if err != nil {
		return u, err
	}
	if valLen > 0 {
		u.Cell.Value = make([]byte, valLen)
		if _, err := io.ReadFull(r, u.Cell.Value); err != nil {
			return u, err
		}
	}

	return u, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
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
