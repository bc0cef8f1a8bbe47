package crossfade

// Fader walks a crossfade table one pair at a time and keeps yielding a
// terminal pair once the table is exhausted, so callers can pull a pair for
// every frame without tracking where the fade stands.
//
// A Fader is not safe for concurrent use.
type Fader struct {
	table []Pair
	pos   int
	tail  Pair
	idle  bool
}

// NewFader returns a fader that is idle until the first [Fader.Reset]: it
// yields [End] forever. After a reset it walks table and then yields End
// again.
func NewFader(table []Pair) *Fader {
	return &Fader{table: table, tail: End, idle: true, pos: len(table)}
}

// NewExactFader returns a fader positioned at the start of table. Past the
// end it repeats the last pair of table.
func NewExactFader(table []Pair) *Fader {
	tail := End
	if len(table) > 0 {
		tail = table[len(table)-1]
	}
	return &Fader{table: table, tail: tail}
}

// Next returns the current pair and advances.
func (f *Fader) Next() Pair {
	if f.idle || f.pos >= len(f.table) {
		return f.tail
	}
	p := f.table[f.pos]
	f.pos++
	return p
}

// Reset rewinds to the first pair of the table.
func (f *Fader) Reset() {
	f.pos = 0
	f.idle = false
}

// Idle reports whether the fader has run past its table and now yields only
// the terminal pair.
func (f *Fader) Idle() bool { return f.idle || f.pos >= len(f.table) }

// Len returns the size of the underlying table.
func (f *Fader) Len() int { return len(f.table) }
