package ot

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	buf    bufferKind
	offset int
	length int
}

// pieceTable is an edit buffer over rune positions: the original text is
// never copied, inserts land in a grow-only add buffer, and the document
// is the concatenation of the piece list.
type pieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

func newPieceTable(initial string) *pieceTable {
	r := []rune(initial)
	return &pieceTable{
		original: r,
		pieces:   []piece{{buf: bufOriginal, offset: 0, length: len(r)}},
	}
}

func (pt *pieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *pieceTable) String() string {
	out := make([]rune, 0, pt.Len())
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			out = append(out, pt.original[p.offset:p.offset+p.length]...)
		case bufAdd:
			out = append(out, pt.add[p.offset:p.offset+p.length]...)
		}
	}
	return string(out)
}

// Insert places text at rune position pos, clamped to the buffer bounds.
func (pt *pieceTable) Insert(pos int, text string) {
	if text == "" {
		return
	}
	if pos < 0 {
		pos = 0
	}
	if n := pt.Len(); pos > n {
		pos = n
	}

	r := []rune(text)
	start := len(pt.add)
	pt.add = append(pt.add, r...)
	added := piece{buf: bufAdd, offset: start, length: len(r)}

	idx, offset := pt.locate(pos)
	if idx >= len(pt.pieces) {
		pt.pieces = append(pt.pieces, added)
		return
	}

	cur := pt.pieces[idx]
	left := piece{buf: cur.buf, offset: cur.offset, length: offset}
	right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}

	next := make([]piece, 0, len(pt.pieces)+2)
	next = append(next, pt.pieces[:idx]...)
	if left.length > 0 {
		next = append(next, left)
	}
	next = append(next, added)
	if right.length > 0 {
		next = append(next, right)
	}
	next = append(next, pt.pieces[idx+1:]...)
	pt.pieces = next
}

// Delete removes length runes starting at pos, clamped to the buffer.
func (pt *pieceTable) Delete(pos, length int) {
	if pos < 0 {
		length += pos
		pos = 0
	}
	if n := pt.Len(); pos+length > n {
		length = n - pos
	}
	if length <= 0 {
		return
	}

	remain := length
	idx, offset := pt.locate(pos)
	for remain > 0 && idx < len(pt.pieces) {
		cur := &pt.pieces[idx]
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}

		take := remain
		if take > can {
			take = can
		}

		if offset == 0 && take == cur.length {
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
			offset = 0
		} else {
			leftLen := offset
			rightLen := cur.length - offset - take

			next := make([]piece, 0, len(pt.pieces)+1)
			next = append(next, pt.pieces[:idx]...)
			if leftLen > 0 {
				next = append(next, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
			}
			if rightLen > 0 {
				next = append(next, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
			}
			next = append(next, pt.pieces[idx+1:]...)
			if leftLen > 0 {
				idx++
			}
			offset = 0
			pt.pieces = next
		}

		remain -= take
	}
}

// locate maps a logical rune position to (piece index, offset within it).
func (pt *pieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
