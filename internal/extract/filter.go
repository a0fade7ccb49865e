package extract

import "time"

// DateLayout is the format of the date token that leads every master log line.
const DateLayout = "2006-01-02"

const dateTokenLen = len(DateLayout)

// Range is an inclusive span of calendar days.
type Range struct {
	From time.Time
	To   time.Time
}

// Day returns the range covering the single day d.
func Day(d time.Time) Range {
	return Range{From: d, To: d}
}

// Contains reports whether d falls inside the range, both ends included.
func (r Range) Contains(d time.Time) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

func (r Range) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// Include decides whether a master log line belongs in the output.
// The first ten bytes of the line must parse as YYYY-MM-DD and fall inside
// [from, to]. Short or unparseable lines are never included.
func Include(line []byte, from, to time.Time) bool {
	d, ok := lineDate(line)
	if !ok {
		return false
	}
	return Range{From: from, To: to}.Contains(d)
}

func lineDate(line []byte) (time.Time, bool) {
	if len(line) < dateTokenLen {
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, string(line[:dateTokenLen]))
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
