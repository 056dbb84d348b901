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
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ReplayFunc consumes one logged entry. Returning an error aborts the
// replay.
type ReplayFunc func(tableID uuid.UUID, rp ReplayPosition, payload []byte) error

// Replay reads every surviving segment in the directory in segment order
// and feeds each entry to fn. A truncated tail entry (the typical shape of
// a crash mid-append) ends the replay of that segment without error; any
// other framing damage aborts.
func Replay(dir string, fn ReplayFunc) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "scan commit log directory")
	}

	var segments []uint64
	for _, entry := range entries {
		if seg, ok := parseSegmentName(entry.Name()); ok {
			segments = append(segments, seg)
		}
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i] < segments[j] })

	for _, segment := range segments {
		if err := replaySegment(segmentPath(dir, segment), segment, fn); err != nil {
			return errors.Wrapf(err, "replay segment %d", segment)
		}
	}
	return nil
}

func replaySegment(path string, segment uint64, fn ReplayFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open segment")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	offset := uint64(0)

	for {
		var tableID uuid.UUID
		if _, err := io.ReadFull(r, tableID[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			// a partial frame at the tail is an interrupted append
			if err == io.ErrUnexpectedEOF {
				return nil
			}
			return errors.Wrap(err, "read table id")
		}

		var length uint64
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return errors.Wrap(err, "read entry length")
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return errors.Wrap(err, "read entry payload")
		}

		rp := ReplayPosition{Segment: segment, Offset: offset}
		if err := fn(tableID, rp, payload); err != nil {
			return err
		}

		offset += 16 + 8 + length
	}
}
