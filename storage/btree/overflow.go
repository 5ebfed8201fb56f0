package btree

import (
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/util"
)

// Overflow page: byte 0 TypeOverflow, bytes 4..8 next page, data from 8.

// writeOverflow stores data in a new chain and returns its first page.
func (tx *Tx) writeOverflow(data []byte) (uint32, error) {
	per := tx.e.pageSize - overflowHeaderSize
	npages := (len(data) + per - 1) / per
	pages := make([]uint32, npages)
	bufs := make([][]byte, npages)
	for i := range pages {
		pgno, buf, err := tx.ptx.Allocate()
		if err != nil {
			return 0, err
		}
		pages[i], bufs[i] = pgno, buf
	}
	for i, buf := range bufs {
		buf[0] = TypeOverflow
		if i+1 < npages {
			util.WriteUB4(buf, 4, pages[i+1])
		}
		end := (i + 1) * per
		if end > len(data) {
			end = len(data)
		}
		copy(buf[overflowHeaderSize:], data[i*per:end])
	}
	return pages[0], nil
}

// readOverflow reads n bytes from the chain starting at first.
func (tx *Tx) readOverflow(first uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	limit := tx.ptx.PageCount()
	pgno := first
	for hops := uint32(0); len(out) < n; hops++ {
		if pgno == 0 {
			return nil, terror.ErrCorrupt.Gen("overflow chain ends %d bytes early", n-len(out))
		}
		if hops > limit {
			return nil, terror.ErrCycle.GenWithPage(pgno, "overflow chain loops")
		}
		buf, err := tx.ptx.Get(pgno)
		if err != nil {
			return nil, err
		}
		if buf[0] != TypeOverflow {
			return nil, badPage(pgno, "page %d in overflow chain has type 0x%02x", pgno, buf[0])
		}
		take := n - len(out)
		if max := len(buf) - overflowHeaderSize; take > max {
			take = max
		}
		out = append(out, buf[overflowHeaderSize:overflowHeaderSize+take]...)
		pgno = util.ReadUB4(buf, 4)
	}
	return out, nil
}

// freeOverflow releases the chain starting at first.
func (tx *Tx) freeOverflow(first uint32) error {
	limit := tx.ptx.PageCount()
	for pgno, hops := first, uint32(0); pgno != 0; hops++ {
		if hops > limit {
			return terror.ErrCycle.GenWithPage(pgno, "overflow chain loops")
		}
		buf, err := tx.ptx.Get(pgno)
		if err != nil {
			return err
		}
		if buf[0] != TypeOverflow {
			return badPage(pgno, "page %d in overflow chain has type 0x%02x", pgno, buf[0])
		}
		next := util.ReadUB4(buf, 4)
		if err := tx.ptx.Free(pgno); err != nil {
			return err
		}
		pgno = next
	}
	return nil
}

// newTableLeafCell builds a leaf cell for payload, spilling the tail into
// an overflow chain when it does not fit locally.
func (tx *Tx) newTableLeafCell(rowid int64, payload []byte) (cell, error) {
	if len(payload) <= tx.e.maxLocal {
		return tableLeafCell(rowid, uint64(len(payload)), payload, 0), nil
	}
	first, err := tx.writeOverflow(payload[tx.e.maxLocal:])
	if err != nil {
		return cell{}, err
	}
	return tableLeafCell(rowid, uint64(len(payload)), payload[:tx.e.maxLocal], first), nil
}

// payload assembles the whole payload of a table leaf cell.
func (tx *Tx) payload(c *cell) ([]byte, error) {
	if c.ovfl == 0 {
		return c.local, nil
	}
	rest, err := tx.readOverflow(c.ovfl, int(c.size)-len(c.local))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, c.size)
	out = append(out, c.local...)
	return append(out, rest...), nil
}
