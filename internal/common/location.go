package common

// Location represents a contiguous range of bytes: [From,To)
type Location struct {
	From, To int
}

func (s Location) Len() int { return s.To - s.From }

func (s Location) Contains(i int) bool { return i >= s.From && i < s.To }

func (s Location) Intersects(s2 Location) bool {
	return s.From < s2.To && s.To > s2.From
}

// Slice cuts the location out of s, clamping it to the string bounds.
func (s Location) Slice(str string) string {
	from, to := max(0, min(s.From, len(str))), max(0, min(s.To, len(str)))
	if from > to {
		return ""
	}
	return str[from:to]
}
