package pager

import (
	"bytes"

	"github.com/zhukovaskychina/xvdbe/terror"
	"github.com/zhukovaskychina/xvdbe/util"
)

const (
	MinPageSize     = 512
	MaxPageSize     = 65536
	DefaultPageSize = 4096

	// HeaderSize is the number of bytes of page 1 used by the header.
	HeaderSize = 76

	// NumMeta is the number of meta slots in the header.
	NumMeta = 8

	// PageTypeFree marks a page on the freelist.
	PageTypeFree = 0x0F
)

// Meta slots.
const (
	MetaSchemaGeneration = 0
	MetaSchemaRoot       = 1
	MetaUserVersion      = 2
)

const (
	offMagic         = 0
	offPageSize      = 16
	offPageCount     = 20
	offFreelistHead  = 24
	offFreelistCount = 28
	offChangeCounter = 32
	offMeta          = 36
	offChecksum      = 68
)

var magic = [16]byte{'x', 'v', 'd', 'b', 'e', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', '1'}

// Header is the content of page 1.
type Header struct {
	PageSize      uint32
	PageCount     uint32
	FreelistHead  uint32
	FreelistCount uint32
	ChangeCounter uint32
	Meta          [NumMeta]uint32
}

// Encode writes the header into the first HeaderSize bytes of page.
func (h *Header) Encode(page []byte) {
	copy(page[offMagic:], magic[:])
	util.WriteUB4(page, offPageSize, h.PageSize)
	util.WriteUB4(page, offPageCount, h.PageCount)
	util.WriteUB4(page, offFreelistHead, h.FreelistHead)
	util.WriteUB4(page, offFreelistCount, h.FreelistCount)
	util.WriteUB4(page, offChangeCounter, h.ChangeCounter)
	for i, v := range h.Meta {
		util.WriteUB4(page, offMeta+4*i, v)
	}
	util.WriteUB8(page, offChecksum, util.Checksum(page[:offChecksum]))
}

// DecodeHeader parses and validates page 1.
func DecodeHeader(page []byte) (Header, error) {
	var h Header
	if len(page) < HeaderSize {
		return h, terror.ErrBadHeader.GenWithPage(1, "header page is %d bytes", len(page))
	}
	if !bytes.Equal(page[offMagic:offMagic+16], magic[:]) {
		return h, terror.ErrBadHeader.GenWithPage(1, "bad magic %q", page[offMagic:offMagic+16])
	}
	if sum := util.Checksum(page[:offChecksum]); sum != util.ReadUB8(page, offChecksum) {
		return h, terror.ErrBadHeader.GenWithPage(1, "header checksum mismatch")
	}

	h.PageSize = util.ReadUB4(page, offPageSize)
	h.PageCount = util.ReadUB4(page, offPageCount)
	h.FreelistHead = util.ReadUB4(page, offFreelistHead)
	h.FreelistCount = util.ReadUB4(page, offFreelistCount)
	h.ChangeCounter = util.ReadUB4(page, offChangeCounter)
	for i := range h.Meta {
		h.Meta[i] = util.ReadUB4(page, offMeta+4*i)
	}

	if !ValidPageSize(int(h.PageSize)) {
		return h, terror.ErrBadHeader.GenWithPage(1, "invalid page size %d", h.PageSize)
	}
	if h.PageCount < 1 {
		return h, terror.ErrBadHeader.GenWithPage(1, "page count is zero")
	}
	return h, nil
}

// ValidPageSize reports whether n is a power of two in [MinPageSize, MaxPageSize].
func ValidPageSize(n int) bool {
	return n >= MinPageSize && n <= MaxPageSize && n&(n-1) == 0
}

// FreeNext returns the next pointer of a free page.
func FreeNext(page []byte) uint32 {
	return util.ReadUB4(page, 4)
}

// IsFreePage reports whether page carries the free page marker.
func IsFreePage(page []byte) bool {
	return len(page) > 0 && page[0] == PageTypeFree
}

func stampFree(page []byte, next uint32) {
	util.Zero(page)
	page[0] = PageTypeFree
	util.WriteUB4(page, 4, next)
}
