package pager

import (
	"sort"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xvdbe/util"
)

// The journal is a sequence of frames appended by one committing
// transaction and truncated after checkpoint:
//
//	0  4  page number (data) or new page count (commit)
//	4  4  frame kind
//	8  4  payload length
//	12 4  sequence, the change counter of the transaction
//	16 8  xxhash64 of bytes 0..16 and the payload
//	24    snappy-compressed page image (data frames only)
const (
	frameHeaderSize = 24

	frameData   = 1
	frameCommit = 2
)

type wal struct {
	f      File
	off    int64
	noSync bool
}

func (w *wal) frame(kind, page, seq uint32, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	util.WriteUB4(buf, 0, page)
	util.WriteUB4(buf, 4, kind)
	util.WriteUB4(buf, 8, uint32(len(payload)))
	util.WriteUB4(buf, 12, seq)
	util.WriteUB8(buf, 16, util.Checksum(buf[:16], payload))
	return append(buf, payload...)
}

func (w *wal) write(b []byte) error {
	if _, err := w.f.WriteAt(b, w.off); err != nil {
		return err
	}
	w.off += int64(len(b))
	return nil
}

func (w *wal) sync() error {
	if w.noSync {
		return nil
	}
	return w.f.Sync()
}

// appendPages writes one data frame per page, in page order, and syncs.
func (w *wal) appendPages(seq uint32, pages map[uint32][]byte) error {
	for _, pgno := range sortedPages(pages) {
		b := w.frame(frameData, pgno, seq, snappy.Encode(nil, pages[pgno]))
		if err := w.write(b); err != nil {
			return errors.Wrapf(err, "journal page %d", pgno)
		}
	}
	return errors.Wrap(w.sync(), "sync journal")
}

// commit appends the commit marker and syncs. Once it returns nil the
// transaction survives a crash.
func (w *wal) commit(seq, pageCount uint32) error {
	if err := w.write(w.frame(frameCommit, pageCount, seq, nil)); err != nil {
		return errors.Wrap(err, "journal commit marker")
	}
	return errors.Wrap(w.sync(), "sync journal marker")
}

func (w *wal) reset() error {
	w.off = 0
	if err := w.f.Truncate(0); err != nil {
		return errors.Wrap(err, "truncate journal")
	}
	return errors.Wrap(w.sync(), "sync journal")
}

// recovered is the committed content found in a journal.
type recovered struct {
	pages     map[uint32][]byte
	pageCount uint32
	commits   int
	discarded int
}

// scan reads frames until the first invalid one. Frames are applied only
// when the commit frame of their sequence follows with a valid checksum.
func (w *wal) scan(pageSize int) (*recovered, error) {
	size, err := w.f.Size()
	if err != nil {
		return nil, errors.Wrap(err, "journal size")
	}

	rec := &recovered{pages: make(map[uint32][]byte)}
	pending := make(map[uint32][]byte)
	var pendingSeq uint32
	hdr := make([]byte, frameHeaderSize)

	off := int64(0)
loop:
	for off+frameHeaderSize <= size {
		if _, err := w.f.ReadAt(hdr, off); err != nil {
			break
		}
		page := util.ReadUB4(hdr, 0)
		kind := util.ReadUB4(hdr, 4)
		n := int64(util.ReadUB4(hdr, 8))
		seq := util.ReadUB4(hdr, 12)
		if off+frameHeaderSize+n > size {
			break
		}
		payload := make([]byte, n)
		if n > 0 {
			if _, err := w.f.ReadAt(payload, off+frameHeaderSize); err != nil {
				break
			}
		}
		if util.Checksum(hdr[:16], payload) != util.ReadUB8(hdr, 16) {
			break
		}

		if len(pending) > 0 && seq != pendingSeq {
			break
		}
		pendingSeq = seq

		switch kind {
		case frameData:
			img, err := snappy.Decode(nil, payload)
			if err != nil || len(img) != pageSize || page == 0 {
				break loop
			}
			pending[page] = img
		case frameCommit:
			for p, img := range pending {
				rec.pages[p] = img
			}
			rec.pageCount = page
			rec.commits++
			pending = make(map[uint32][]byte)
		default:
			break loop
		}
		off += frameHeaderSize + n
	}
	rec.discarded = len(pending)
	return rec, nil
}

func sortedPages(pages map[uint32][]byte) []uint32 {
	keys := make([]uint32, 0, len(pages))
	for k := range pages {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
