package media

// Rect is a read-only rectangle in coded-picture coordinates, used for
// CodedRect and VisibleRect.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// within reports whether r lies entirely inside a w×h area anchored at the
// origin.
func (r Rect) within(w, h int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 &&
		r.X+r.Width <= w && r.Y+r.Height <= h
}

// PlaneLayout describes where one plane lives inside a destination buffer
// after CopyTo: the byte offset of its first row and the stride between rows.
type PlaneLayout struct {
	Offset int
	Stride int
}
