package parser

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf16"

	"github.com/brunobiangulo/docanalysis/docerr"
)

// BIFF8 record types.
const (
	biffBOF        = 0x0809
	biffEOF        = 0x000A
	biffBoundSheet = 0x0085
	biffSST        = 0x00FC
	biffContinue   = 0x003C
	biffLabelSST   = 0x00FD
	biffLabel      = 0x0204
	biffNumber     = 0x0203
	biffRK         = 0x027E
	biffMulRK      = 0x00BD
	biffFormula    = 0x0006
	biffString     = 0x0207
	biffFilePass   = 0x002F

	biffVersion8 = 0x0600
	biffGlobals  = 0x0005
)

// XLSExtractor reads the BIFF8 Workbook stream of a legacy Excel file and
// renders it like the XLSX extractor.
type XLSExtractor struct{}

func (e *XLSExtractor) SupportedTypes() []Type { return []Type{TypeXLS} }

func (e *XLSExtractor) Extract(ctx context.Context, doc *Document) (*Result, error) {
	ole, err := openOLE(doc.Data)
	if err != nil {
		return nil, docerr.Wrap(docerr.KindCorruption, err, "无法解析XLS文件 (cannot open xls)")
	}
	wb := ole.stream("Workbook", "Book")
	if wb == nil {
		return nil, docerr.New(docerr.KindCorruption, "XLS文件缺少工作簿数据 (no Workbook stream)")
	}
	sheets, err := parseBIFF(wb)
	if err != nil {
		return nil, docerr.Wrap(docerr.KindCorruption, err, "无法解析XLS工作簿 (cannot parse BIFF8 workbook)")
	}

	meta := ole.meta
	meta["sheets"] = fmt.Sprint(len(sheets))
	return &Result{Text: renderSheets(sheets), Method: "xls_biff8", Metadata: meta, Attempts: 1}, nil
}

type biffRecord struct {
	offset int
	typ    uint16
	data   []byte
}

func biffRecords(stream []byte) []biffRecord {
	var recs []biffRecord
	for off := 0; off+4 <= len(stream); {
		typ := binary.LittleEndian.Uint16(stream[off:])
		n := int(binary.LittleEndian.Uint16(stream[off+2:]))
		if off+4+n > len(stream) {
			break
		}
		recs = append(recs, biffRecord{offset: off, typ: typ, data: stream[off+4 : off+4+n]})
		off += 4 + n
	}
	return recs
}

type biffSheet struct {
	name  string
	cells map[int]map[int]string
}

func (s *biffSheet) set(row, col int, v string) {
	if v == "" {
		return
	}
	r := s.cells[row]
	if r == nil {
		r = make(map[int]string)
		s.cells[row] = r
	}
	r[col] = v
}

func (s *biffSheet) rows() [][]string {
	rowNums := make([]int, 0, len(s.cells))
	for r := range s.cells {
		rowNums = append(rowNums, r)
	}
	sort.Ints(rowNums)
	out := make([][]string, 0, len(rowNums))
	for _, r := range rowNums {
		maxCol := -1
		for c := range s.cells[r] {
			maxCol = max(maxCol, c)
		}
		row := make([]string, maxCol+1)
		for c, v := range s.cells[r] {
			row[c] = v
		}
		out = append(out, row)
	}
	return out
}

// parseBIFF walks the workbook globals (sheet names, shared strings) and
// then every worksheet substream.
func parseBIFF(stream []byte) ([]sheetRows, error) {
	recs := biffRecords(stream)
	if len(recs) == 0 || recs[0].typ != biffBOF {
		return nil, fmt.Errorf("stream does not start with BOF")
	}
	if len(recs[0].data) >= 2 && binary.LittleEndian.Uint16(recs[0].data) != biffVersion8 {
		return nil, fmt.Errorf("unsupported BIFF version %#x", binary.LittleEndian.Uint16(recs[0].data))
	}

	names := make(map[int]string) // BOF offset -> sheet name
	var sst []string
	var sheets []sheetRows
	var cur *biffSheet
	pendingRow, pendingCol := -1, -1
	sheetIdx := 0

	for i := 0; i < len(recs); i++ {
		rec := recs[i]
		d := rec.data
		switch rec.typ {
		case biffFilePass:
			return nil, fmt.Errorf("workbook is encrypted")
		case biffBOF:
			if len(d) >= 4 && binary.LittleEndian.Uint16(d[2:]) == biffGlobals {
				continue
			}
			sheetIdx++
			name := names[rec.offset]
			if name == "" {
				name = fmt.Sprintf("Sheet%d", sheetIdx)
			}
			cur = &biffSheet{name: name, cells: make(map[int]map[int]string)}
		case biffEOF:
			if cur != nil {
				if len(cur.cells) > 0 {
					sheets = append(sheets, sheetRows{name: cur.name, rows: cur.rows()})
				}
				cur = nil
			}
		case biffBoundSheet:
			if len(d) >= 8 {
				pos := int(binary.LittleEndian.Uint32(d))
				r := &byteReader{segs: [][]byte{d[6:]}}
				cch, _ := r.u8()
				names[pos] = r.xlString(int(cch))
			}
		case biffSST:
			segs := [][]byte{d}
			for i+1 < len(recs) && recs[i+1].typ == biffContinue {
				i++
				segs = append(segs, recs[i].data)
			}
			sst = parseSST(segs)
		case biffLabelSST:
			if cur != nil && len(d) >= 10 {
				idx := int(binary.LittleEndian.Uint32(d[6:]))
				if idx < len(sst) {
					row, col := cellPos(d)
					cur.set(row, col, sst[idx])
				}
			}
		case biffLabel:
			if cur != nil && len(d) >= 8 {
				r := &byteReader{segs: [][]byte{d[6:]}}
				cch, _ := r.u16()
				row, col := cellPos(d)
				cur.set(row, col, r.xlString(int(cch)))
			}
		case biffNumber:
			if cur != nil && len(d) >= 14 {
				row, col := cellPos(d)
				cur.set(row, col, formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(d[6:]))))
			}
		case biffRK:
			if cur != nil && len(d) >= 10 {
				row, col := cellPos(d)
				cur.set(row, col, formatNumber(rkValue(binary.LittleEndian.Uint32(d[6:]))))
			}
		case biffMulRK:
			if cur != nil && len(d) >= 6 {
				row, col := cellPos(d)
				for off := 4; off+6 <= len(d)-2; off += 6 {
					cur.set(row, col, formatNumber(rkValue(binary.LittleEndian.Uint32(d[off+2:]))))
					col++
				}
			}
		case biffFormula:
			if cur != nil && len(d) >= 14 {
				row, col := cellPos(d)
				res := d[6:14]
				if res[6] == 0xFF && res[7] == 0xFF {
					switch res[0] {
					case 0: // string result follows in a STRING record
						pendingRow, pendingCol = row, col
					case 1:
						cur.set(row, col, strconv.FormatBool(res[2] != 0))
					}
					continue
				}
				cur.set(row, col, formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(res))))
			}
		case biffString:
			if cur != nil && pendingRow >= 0 && len(d) >= 3 {
				r := &byteReader{segs: [][]byte{d}}
				cch, _ := r.u16()
				cur.set(pendingRow, pendingCol, r.xlString(int(cch)))
				pendingRow, pendingCol = -1, -1
			}
		}
	}
	return sheets, nil
}

func cellPos(d []byte) (int, int) {
	return int(binary.LittleEndian.Uint16(d)), int(binary.LittleEndian.Uint16(d[2:]))
}

// rkValue decodes an RK number: bit 0 divides by 100, bit 1 marks a 30-bit
// signed integer, otherwise the upper 30 bits of an IEEE double.
func rkValue(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseSST reads the shared string table, which may span CONTINUE records.
func parseSST(segs [][]byte) []string {
	r := &byteReader{segs: segs}
	if _, ok := r.u32(); !ok { // cstTotal
		return nil
	}
	unique, ok := r.u32()
	if !ok {
		return nil
	}
	out := make([]string, 0, min(int(unique), 1<<16))
	for k := uint32(0); k < unique; k++ {
		cch, ok := r.u16()
		if !ok {
			break
		}
		out = append(out, r.xlString(int(cch)))
	}
	return out
}

// byteReader reads little-endian values across record segments. When a
// string's characters cross into a new segment, the segment starts with a
// fresh option byte.
type byteReader struct {
	segs [][]byte
	si   int
	off  int
}

func (r *byteReader) next() bool {
	for r.si < len(r.segs) && r.off >= len(r.segs[r.si]) {
		r.si++
		r.off = 0
	}
	return r.si < len(r.segs)
}

func (r *byteReader) u8() (byte, bool) {
	if !r.next() {
		return 0, false
	}
	b := r.segs[r.si][r.off]
	r.off++
	return b, true
}

func (r *byteReader) u16() (uint16, bool) {
	lo, ok1 := r.u8()
	hi, ok2 := r.u8()
	return uint16(lo) | uint16(hi)<<8, ok1 && ok2
}

func (r *byteReader) u32() (uint32, bool) {
	lo, ok1 := r.u16()
	hi, ok2 := r.u16()
	return uint32(lo) | uint32(hi)<<16, ok1 && ok2
}

func (r *byteReader) skip(n int) {
	for n > 0 && r.next() {
		step := min(n, len(r.segs[r.si])-r.off)
		r.off += step
		n -= step
	}
}

// xlString reads the option byte and cch characters of an
// XLUnicodeRichExtendedString, skipping rich-text runs and phonetic data.
func (r *byteReader) xlString(cch int) string {
	flags, ok := r.u8()
	if !ok {
		return ""
	}
	high := flags&0x01 != 0
	var runs uint16
	var ext uint32
	if flags&0x08 != 0 {
		runs, _ = r.u16()
	}
	if flags&0x04 != 0 {
		ext, _ = r.u32()
	}

	units := make([]uint16, 0, cch)
	for len(units) < cch {
		if r.si < len(r.segs) && r.off >= len(r.segs[r.si]) {
			// Characters continue in the next segment with a new option byte.
			if !r.next() {
				break
			}
			f, _ := r.u8()
			high = f&0x01 != 0
			continue
		}
		if !r.next() {
			break
		}
		if high {
			u, ok := r.u16()
			if !ok {
				break
			}
			units = append(units, u)
		} else {
			b, _ := r.u8()
			units = append(units, uint16(b))
		}
	}
	r.skip(int(runs) * 4)
	r.skip(int(ext))
	return string(utf16.Decode(units))
}
