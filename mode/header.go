package mode

import "errors"

var (
	ErrShortModeSelect  = errors.New("mode: select data truncated")
	ErrSectorSizeChange = errors.New("mode: changing sector size is rejected")
)

// BlockDescriptor is the 8-byte block descriptor optionally following a
// MODE SENSE/SELECT header.
type BlockDescriptor struct {
	Blocks      uint32
	BlockLength uint32
}

// BuildHeader renders the 4-byte (6-byte CDB) or 8-byte (10-byte CDB)
// MODE SENSE header. dataLen is the total response length that follows
// this header's own length field (i.e. excludes the length field itself,
// per the standard convention).
func BuildHeader(cdb10 bool, dataLen int, writeProtected bool, bd *BlockDescriptor) []byte {
	var deviceSpecific byte
	if writeProtected {
		deviceSpecific = 0x80
	}
	bdLen := 0
	if bd != nil {
		bdLen = 8
	}

	if !cdb10 {
		h := make([]byte, 4)
		h[0] = byte(dataLen)
		h[2] = deviceSpecific
		h[3] = byte(bdLen)
		return append(h, encodeBlockDescriptor(bd)...)
	}

	h := make([]byte, 8)
	h[0] = byte(dataLen >> 8)
	h[1] = byte(dataLen)
	h[2] = deviceSpecific
	h[6] = byte(bdLen >> 8)
	h[7] = byte(bdLen)
	return append(h, encodeBlockDescriptor(bd)...)
}

func encodeBlockDescriptor(bd *BlockDescriptor) []byte {
	if bd == nil {
		return nil
	}
	out := make([]byte, 8)
	out[0] = byte(bd.Blocks >> 16)
	out[1] = byte(bd.Blocks >> 8)
	out[2] = byte(bd.Blocks)
	out[4] = byte(bd.BlockLength >> 16)
	out[5] = byte(bd.BlockLength >> 8)
	out[6] = byte(bd.BlockLength)
	return out
}

// SelectRequest is a parsed MODE SELECT payload.
type SelectRequest struct {
	BlockDescriptor *BlockDescriptor
	Pages           [][]byte // each entry is one page's raw bytes, header included
}

// ParseSelect decodes a MODE SELECT data-out payload. currentBlockLength
// is the LUN's current sector size in bytes; any block descriptor that
// attempts to change it is rejected with ErrSectorSizeChange, per §4.4.
func ParseSelect(data []byte, cdb10 bool, currentBlockLength uint32) (*SelectRequest, error) {
	headerLen := 4
	if cdb10 {
		headerLen = 8
	}
	if len(data) < headerLen {
		return nil, ErrShortModeSelect
	}

	var bdLen int
	if !cdb10 {
		bdLen = int(data[3])
	} else {
		bdLen = int(data[6])<<8 | int(data[7])
	}

	off := headerLen
	req := &SelectRequest{}
	if bdLen > 0 {
		if len(data) < off+8 {
			return nil, ErrShortModeSelect
		}
		bd := &BlockDescriptor{
			Blocks:      uint32(data[off])<<16 | uint32(data[off+1])<<8 | uint32(data[off+2]),
			BlockLength: uint32(data[off+4])<<16 | uint32(data[off+5])<<8 | uint32(data[off+6]),
		}
		if bd.BlockLength != 0 && bd.BlockLength != currentBlockLength {
			return nil, ErrSectorSizeChange
		}
		req.BlockDescriptor = bd
		off += 8
	}

	for off < len(data) {
		if off+2 > len(data) {
			break
		}
		pageLen := int(data[off+1])
		end := off + 2 + pageLen
		if end > len(data) {
			return nil, ErrShortModeSelect
		}
		req.Pages = append(req.Pages, data[off:end])
		off = end
	}
	return req, nil
}
