package engine

import (
	"bytes"
	"io"
	"os"

	"github.com/OneOfOne/xxhash"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xvdbe/storage/btree"
	"github.com/zhukovaskychina/xvdbe/storage/pager"
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/util"
)

// Backup stream, lz4 compressed:
//
//	offset size
//	0      16  backupMagic
//	16     4   page size
//	20     4   page count
//	24     ... page images 1..count
//	end    8   xxhash64 of the page images
const backupHeaderSize = 24

var backupMagic = [16]byte{'x', 'v', 'd', 'b', 'e', ' ', 'b', 'a', 'c', 'k', 'u', 'p', ' ', '1'}

// Backup writes a consistent copy of the database to w. It runs in one
// read transaction, so writers may keep committing meanwhile. It returns
// the number of pages written.
func (db *DB) Backup(w io.Writer) (uint32, error) {
	var count uint32
	err := db.View(func(tx *btree.Tx) error {
		ptx := tx.Pager()
		count = ptx.PageCount()

		zw := lz4.NewWriter(w)
		hdr := make([]byte, backupHeaderSize)
		copy(hdr, backupMagic[:])
		util.WriteUB4(hdr, 16, uint32(tx.PageSize()))
		util.WriteUB4(hdr, 20, count)
		if _, err := zw.Write(hdr); err != nil {
			return errors.Wrap(err, "write backup header")
		}

		sum := xxhash.New64()
		for pgno := uint32(1); pgno <= count; pgno++ {
			page, err := ptx.Get(pgno)
			if err != nil {
				return err
			}
			sum.Write(page)
			if _, err := zw.Write(page); err != nil {
				return errors.Wrapf(err, "write backup page %d", pgno)
			}
		}
		trailer := make([]byte, 8)
		util.WriteUB8(trailer, 0, sum.Sum64())
		if _, err := zw.Write(trailer); err != nil {
			return errors.Wrap(err, "write backup trailer")
		}
		return errors.Wrap(zw.Close(), "finish backup")
	})
	if err != nil {
		return 0, err
	}
	db.log.WithField("pages", count).Infof("backup written")
	return count, nil
}

// Restore writes the pages of a backup stream to dst, replacing its
// content. dst holds a database file that Open accepts once Restore
// returns without error.
func Restore(r io.Reader, dst pager.File) (uint32, error) {
	zr := lz4.NewReader(r)
	hdr := make([]byte, backupHeaderSize)
	if _, err := io.ReadFull(zr, hdr); err != nil {
		return 0, errors.Wrap(err, "read backup header")
	}
	if !bytes.Equal(hdr[:16], backupMagic[:]) {
		return 0, terror.ErrCorrupt.Gen("not a backup stream")
	}
	pageSize := int(util.ReadUB4(hdr, 16))
	count := util.ReadUB4(hdr, 20)
	if !pager.ValidPageSize(pageSize) || count == 0 {
		return 0, terror.ErrCorrupt.Gen("backup declares %d pages of %d bytes", count, pageSize)
	}

	sum := xxhash.New64()
	page := make([]byte, pageSize)
	for pgno := uint32(1); pgno <= count; pgno++ {
		if _, err := io.ReadFull(zr, page); err != nil {
			return 0, errors.Wrapf(err, "read backup page %d", pgno)
		}
		if pgno == 1 {
			if _, err := pager.DecodeHeader(page); err != nil {
				return 0, err
			}
		}
		sum.Write(page)
		if _, err := dst.WriteAt(page, int64(pgno-1)*int64(pageSize)); err != nil {
			return 0, terror.ErrIO.Wrap(err)
		}
	}
	trailer := make([]byte, 8)
	if _, err := io.ReadFull(zr, trailer); err != nil {
		return 0, errors.Wrap(err, "read backup trailer")
	}
	if util.ReadUB8(trailer, 0) != sum.Sum64() {
		return 0, terror.ErrCorrupt.Gen("backup checksum mismatch")
	}
	if err := dst.Truncate(int64(count) * int64(pageSize)); err != nil {
		return 0, terror.ErrIO.Wrap(err)
	}
	if err := dst.Sync(); err != nil {
		return 0, terror.ErrIO.Wrap(err)
	}
	return count, nil
}

// RestoreFile restores a backup into a new database at path. Neither the
// file nor its journal may exist.
func RestoreFile(r io.Reader, path string) (uint32, error) {
	for _, p := range []string{path, path + "-wal"} {
		if _, err := os.Stat(p); err == nil {
			return 0, errors.Errorf("restore target %s already exists", p)
		}
	}
	f, err := pager.OpenOSFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", path)
	}
	n, err := Restore(r, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Wrapf(cerr, "close %s", path)
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}
