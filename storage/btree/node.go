package btree

import (
	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/util"
)

// Page types.
const (
	TypeIndexInterior = 0x02
	TypeTableInterior = 0x05
	TypeIndexLeaf     = 0x0A
	TypeTableLeaf     = 0x0D
	TypeOverflow      = 0x0E
)

const (
	nodeHeaderSize     = 12
	cellPointerSize    = 2
	overflowHeaderSize = 8

	offType         = 0
	offFlags        = 1
	offNumCells     = 2
	offContentStart = 4
	offRightChild   = 8
)

func isLeafType(typ byte) bool  { return typ == TypeTableLeaf || typ == TypeIndexLeaf }
func isTableType(typ byte) bool { return typ == TypeTableLeaf || typ == TypeTableInterior }

// IsTreePage reports whether typ is one of the four b-tree page types.
func IsTreePage(typ byte) bool {
	switch typ {
	case TypeIndexInterior, TypeTableInterior, TypeIndexLeaf, TypeTableLeaf:
		return true
	}
	return false
}

// MaxLocal is the largest payload stored inside a cell on pages of
// pageSize bytes. It keeps every cell under a tenth of the page so that a
// split leaves both halves at least 40% full.
func MaxLocal(pageSize int) int {
	return (pageSize-nodeHeaderSize)/10 - 23
}

// cell is one decoded cell. raw is a private copy of the encoded bytes and
// is what gets written back, so cells move between pages unchanged.
type cell struct {
	raw   []byte
	left  uint32 // interior
	rowid int64  // table
	key   []byte // index, the whole key
	size  uint64 // table leaf, whole payload size
	local []byte // table leaf, the part stored in the cell
	ovfl  uint32 // table leaf, first overflow page or 0
}

type node struct {
	pgno  uint32
	typ   byte
	right uint32
	cells []cell
}

func (n *node) leaf() bool  { return isLeafType(n.typ) }
func (n *node) table() bool { return isTableType(n.typ) }

// child returns child pointer i; i == len(cells) is the right-most child.
func (n *node) child(i int) uint32 {
	if i >= len(n.cells) {
		return n.right
	}
	return n.cells[i].left
}

func (n *node) setChild(i int, pgno uint32) {
	if i >= len(n.cells) {
		n.right = pgno
		return
	}
	n.cells[i] = interiorCell(n.table(), pgno, n.cells[i])
}

func cellsSize(cells []cell) int {
	s := 0
	for i := range cells {
		s += cellPointerSize + len(cells[i].raw)
	}
	return s
}

func (n *node) used() int { return nodeHeaderSize + cellsSize(n.cells) }

// fill is the used share of the cell area in percent.
func (n *node) fill(pageSize int) float64 {
	return float64(cellsSize(n.cells)) * 100 / float64(pageSize-nodeHeaderSize)
}

func (n *node) insertCell(i int, c cell) {
	n.cells = append(n.cells, cell{})
	copy(n.cells[i+1:], n.cells[i:])
	n.cells[i] = c
}

func (n *node) removeCell(i int) {
	n.cells = append(n.cells[:i], n.cells[i+1:]...)
}

func interiorType(leafType byte) byte {
	if leafType == TypeTableLeaf {
		return TypeTableInterior
	}
	return TypeIndexInterior
}

func leafType(typ byte) byte {
	if isTableType(typ) {
		return TypeTableLeaf
	}
	return TypeIndexLeaf
}

// tableLeafCell builds a table leaf cell whose local part is local; ovfl is
// the first overflow page when size exceeds len(local).
func tableLeafCell(rowid int64, size uint64, local []byte, ovfl uint32) cell {
	raw := util.AppendVarint(nil, uint64(rowid))
	raw = util.AppendVarint(raw, size)
	start := len(raw)
	raw = append(raw, local...)
	if ovfl != 0 {
		raw = util.AppendUB4(raw, ovfl)
	}
	return cell{raw: raw, rowid: rowid, size: size, local: raw[start : start+len(local)], ovfl: ovfl}
}

func indexLeafCell(key []byte) cell {
	raw := util.AppendVarint(nil, uint64(len(key)))
	start := len(raw)
	raw = append(raw, key...)
	return cell{raw: raw, key: raw[start:]}
}

// interiorCell builds a separator pointing left of the key carried by c,
// which may be a leaf or an interior cell.
func interiorCell(table bool, left uint32, c cell) cell {
	raw := util.AppendUB4(nil, left)
	if table {
		raw = util.AppendVarint(raw, uint64(c.rowid))
		return cell{raw: raw, left: left, rowid: c.rowid}
	}
	raw = util.AppendVarint(raw, uint64(len(c.key)))
	start := len(raw)
	raw = append(raw, c.key...)
	return cell{raw: raw, left: left, key: raw[start:]}
}

func badPage(pgno uint32, format string, args ...interface{}) error {
	return terror.ErrBadPage.GenWithPage(pgno, format, args...)
}

// parseCell decodes the cell at the start of b.
func parseCell(pgno uint32, typ byte, b []byte, maxLocal int) (cell, error) {
	var c cell
	pos := 0

	if !isLeafType(typ) {
		if len(b) < 4 {
			return c, badPage(pgno, "truncated cell")
		}
		c.left = util.ReadUB4(b, 0)
		pos = 4
	}

	if isTableType(typ) {
		v, n := util.GetVarint(b[pos:])
		if n == 0 {
			return c, badPage(pgno, "truncated rowid")
		}
		c.rowid = int64(v)
		pos += n
		if typ == TypeTableInterior {
			c.raw = append([]byte(nil), b[:pos]...)
			return c, nil
		}

		size, n := util.GetVarint(b[pos:])
		if n == 0 {
			return c, badPage(pgno, "truncated payload size")
		}
		pos += n
		local := int(size)
		if size > uint64(maxLocal) {
			local = maxLocal
		}
		end := pos + local
		if size > uint64(local) {
			end += 4
		}
		if end > len(b) {
			return c, badPage(pgno, "cell overruns page")
		}
		c.raw = append([]byte(nil), b[:end]...)
		c.size = size
		c.local = c.raw[pos : pos+local]
		if size > uint64(local) {
			c.ovfl = util.ReadUB4(c.raw, pos+local)
		}
		return c, nil
	}

	size, n := util.GetVarint(b[pos:])
	if n == 0 {
		return c, badPage(pgno, "truncated key size")
	}
	pos += n
	if size > uint64(maxLocal) || pos+int(size) > len(b) {
		return c, badPage(pgno, "key of %d bytes overruns page", size)
	}
	c.raw = append([]byte(nil), b[:pos+int(size)]...)
	c.key = c.raw[pos:]
	return c, nil
}

func decodeNode(pgno uint32, page []byte, maxLocal int) (*node, error) {
	typ := page[offType]
	if !IsTreePage(typ) {
		return nil, badPage(pgno, "page %d is not a b-tree page (type 0x%02x)", pgno, typ)
	}
	ncell := int(util.ReadUB2(page, offNumCells))
	ptrEnd := nodeHeaderSize + cellPointerSize*ncell
	if ptrEnd > len(page) {
		return nil, badPage(pgno, "%d cells do not fit the page", ncell)
	}

	n := &node{pgno: pgno, typ: typ, cells: make([]cell, ncell)}
	if !isLeafType(typ) {
		n.right = util.ReadUB4(page, offRightChild)
		if n.right == 0 {
			return nil, badPage(pgno, "interior page without right child")
		}
	}
	for i := 0; i < ncell; i++ {
		off := int(util.ReadUB2(page, nodeHeaderSize+cellPointerSize*i))
		if off < ptrEnd || off >= len(page) {
			return nil, badPage(pgno, "cell %d offset %d out of range", i, off)
		}
		c, err := parseCell(pgno, typ, page[off:], maxLocal)
		if err != nil {
			return nil, err
		}
		n.cells[i] = c
	}
	return n, nil
}

// encode renders n into a fresh page image. Cell content is packed at the
// end of the page in cell order.
func (n *node) encode(pageSize int) []byte {
	page := make([]byte, pageSize)
	page[offType] = n.typ
	util.WriteUB2(page, offNumCells, uint16(len(n.cells)))
	if !n.leaf() {
		util.WriteUB4(page, offRightChild, n.right)
	}

	off := pageSize
	for i := range n.cells {
		raw := n.cells[i].raw
		off -= len(raw)
		copy(page[off:], raw)
		util.WriteUB2(page, nodeHeaderSize+cellPointerSize*i, uint16(off))
	}
	// 65536 does not fit two bytes and is stored as 0
	util.WriteUB2(page, offContentStart, uint16(off))
	return page
}
