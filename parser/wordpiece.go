package parser

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
)

// Word 97-2003 binary layout constants.
const (
	fibMagic          = 0xA5EC
	fibFlagsOffset    = 0x0A
	fibWhichTblStm    = 0x0200
	fibEncrypted      = 0x0100
	fibCswOffset      = 32
	fibCcpTextIndex   = 3  // in fibRgLw
	fibFcClxIndex     = 33 // pair index in fibRgFcLcb
	pcdCompressedFlag = 0x40000000
	clxPrc            = 0x01
	clxPcdt           = 0x02
)

// fib holds the FIB fields the piece-table reader needs.
type fib struct {
	tableStream string
	ccpText     uint32
	fcClx       uint32
	lcbClx      uint32
}

func readFIB(wd []byte) (*fib, error) {
	if len(wd) < 64 {
		return nil, fmt.Errorf("WordDocument stream too short")
	}
	if binary.LittleEndian.Uint16(wd) != fibMagic {
		return nil, fmt.Errorf("bad FIB magic %#x", binary.LittleEndian.Uint16(wd))
	}
	flags := binary.LittleEndian.Uint16(wd[fibFlagsOffset:])
	if flags&fibEncrypted != 0 {
		return nil, fmt.Errorf("document is encrypted")
	}

	f := &fib{tableStream: "0Table"}
	if flags&fibWhichTblStm != 0 {
		f.tableStream = "1Table"
	}

	// FibBase, csw + fibRgW, cslw + fibRgLw, cbRgFcLcb + fibRgFcLcb.
	off := fibCswOffset
	csw := int(binary.LittleEndian.Uint16(wd[off:]))
	off += 2 + csw*2
	if off+2 > len(wd) {
		return nil, fmt.Errorf("FIB truncated at fibRgLw")
	}
	cslw := int(binary.LittleEndian.Uint16(wd[off:]))
	lw := off + 2
	if cslw > fibCcpTextIndex && lw+(fibCcpTextIndex+1)*4 <= len(wd) {
		f.ccpText = binary.LittleEndian.Uint32(wd[lw+fibCcpTextIndex*4:])
	}
	off = lw + cslw*4
	if off+2 > len(wd) {
		return nil, fmt.Errorf("FIB truncated at fibRgFcLcb")
	}
	cbRgFcLcb := int(binary.LittleEndian.Uint16(wd[off:]))
	rg := off + 2
	if cbRgFcLcb <= fibFcClxIndex || rg+(fibFcClxIndex+1)*8 > len(wd) {
		return nil, fmt.Errorf("FIB has no Clx entry")
	}
	f.fcClx = binary.LittleEndian.Uint32(wd[rg+fibFcClxIndex*8:])
	f.lcbClx = binary.LittleEndian.Uint32(wd[rg+fibFcClxIndex*8+4:])
	return f, nil
}

type piece struct {
	cpStart, cpEnd uint32
	fc             uint32
	compressed     bool
}

// readPieces parses the Clx: skip Prc entries, then read the PlcPcd.
func readPieces(table []byte, f *fib) ([]piece, error) {
	end := uint64(f.fcClx) + uint64(f.lcbClx)
	if f.lcbClx == 0 || end > uint64(len(table)) {
		return nil, fmt.Errorf("Clx out of range (fc=%d lcb=%d table=%d)", f.fcClx, f.lcbClx, len(table))
	}
	clx := table[f.fcClx:end]

	i := 0
	for i < len(clx) && clx[i] == clxPrc {
		if i+3 > len(clx) {
			return nil, fmt.Errorf("Prc truncated")
		}
		cb := int(int16(binary.LittleEndian.Uint16(clx[i+1:])))
		if cb < 0 {
			return nil, fmt.Errorf("negative Prc size")
		}
		i += 3 + cb
	}
	if i+5 > len(clx) || clx[i] != clxPcdt {
		return nil, fmt.Errorf("Pcdt not found")
	}
	lcb := int(binary.LittleEndian.Uint32(clx[i+1:]))
	plc := clx[i+5:]
	if lcb > len(plc) || lcb < 16 {
		return nil, fmt.Errorf("PlcPcd truncated")
	}
	plc = plc[:lcb]

	// (n+1) CPs of 4 bytes followed by n Pcds of 8 bytes.
	n := (lcb - 4) / 12
	pieces := make([]piece, 0, n)
	for k := 0; k < n; k++ {
		cpStart := binary.LittleEndian.Uint32(plc[k*4:])
		cpEnd := binary.LittleEndian.Uint32(plc[(k+1)*4:])
		pcd := plc[(n+1)*4+k*8:]
		fc := binary.LittleEndian.Uint32(pcd[2:])
		p := piece{cpStart: cpStart, cpEnd: cpEnd}
		if fc&pcdCompressedFlag != 0 {
			p.compressed = true
			p.fc = (fc &^ pcdCompressedFlag) / 2
		} else {
			p.fc = fc
		}
		pieces = append(pieces, p)
	}
	return pieces, nil
}

// pieceTableText rebuilds the main document text from the piece table.
func pieceTableText(ole *oleFile) (string, error) {
	wd := ole.stream("WordDocument")
	if wd == nil {
		return "", fmt.Errorf("no WordDocument stream")
	}
	f, err := readFIB(wd)
	if err != nil {
		return "", err
	}
	table := ole.stream(f.tableStream)
	if table == nil {
		return "", fmt.Errorf("no %s stream", f.tableStream)
	}
	pieces, err := readPieces(table, f)
	if err != nil {
		return "", err
	}

	var runes []rune
	for _, p := range pieces {
		if f.ccpText > 0 && p.cpStart >= f.ccpText {
			break
		}
		count := p.cpEnd - p.cpStart
		if f.ccpText > 0 && p.cpEnd > f.ccpText {
			count = f.ccpText - p.cpStart
		}
		if p.compressed {
			end := uint64(p.fc) + uint64(count)
			if end > uint64(len(wd)) {
				continue
			}
			for _, b := range wd[p.fc:end] {
				runes = append(runes, charmap.Windows1252.DecodeByte(b))
			}
			continue
		}
		end := uint64(p.fc) + uint64(count)*2
		if end > uint64(len(wd)) {
			continue
		}
		units := make([]uint16, count)
		for k := range units {
			units[k] = binary.LittleEndian.Uint16(wd[p.fc+uint32(k)*2:])
		}
		runes = append(runes, utf16.Decode(units)...)
	}
	return wordControlChars(runes), nil
}

// wordControlChars maps Word's in-text control characters: paragraph and
// line marks become newlines, cell marks tabs and a cell mark directly
// followed by the row mark ends the row. Field instructions (between 0x13
// and 0x14) and object anchors are dropped.
func wordControlChars(runes []rune) string {
	out := make([]rune, 0, len(runes))
	depth := 0   // field nesting
	inInstr := 0 // nesting levels currently in the instruction part
	prevCell := false
	for _, r := range runes {
		switch r {
		case 0x13:
			depth++
			inInstr++
			continue
		case 0x14:
			if inInstr > 0 {
				inInstr--
			}
			continue
		case 0x15:
			if depth > 0 {
				depth--
			}
			inInstr = min(inInstr, depth)
			continue
		}
		if inInstr > 0 {
			continue
		}

		if r == 0x07 {
			if prevCell && len(out) > 0 && out[len(out)-1] == '\t' {
				out[len(out)-1] = '\n'
				prevCell = false
				continue
			}
			out = append(out, '\t')
			prevCell = true
			continue
		}
		prevCell = false

		switch r {
		case 0x0D, 0x0B, 0x0C:
			out = append(out, '\n')
		case 0x09:
			out = append(out, '\t')
		case 0x1E:
			out = append(out, '-')
		default:
			if r >= 0x20 {
				out = append(out, r)
			}
		}
	}
	return string(out)
}
