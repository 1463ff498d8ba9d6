package taxonomy

import (
	"strconv"
	"strings"
)

// GradeLevel is one of the twelve grade labels of the Chinese K-12 system.
// Values outside the known set are kept verbatim; they simply have no ordinal.
type GradeLevel string

const (
	GradePrimary1 GradeLevel = "小学1年级"
	GradePrimary2 GradeLevel = "小学2年级"
	GradePrimary3 GradeLevel = "小学3年级"
	GradePrimary4 GradeLevel = "小学4年级"
	GradePrimary5 GradeLevel = "小学5年级"
	GradePrimary6 GradeLevel = "小学6年级"
	GradeJunior1  GradeLevel = "初一"
	GradeJunior2  GradeLevel = "初二"
	GradeJunior3  GradeLevel = "初三"
	GradeSenior1  GradeLevel = "高一"
	GradeSenior2  GradeLevel = "高二"
	GradeSenior3  GradeLevel = "高三"
)

// Grades lists all grade labels in ascending order.
var Grades = []GradeLevel{
	GradePrimary1, GradePrimary2, GradePrimary3, GradePrimary4, GradePrimary5, GradePrimary6,
	GradeJunior1, GradeJunior2, GradeJunior3,
	GradeSenior1, GradeSenior2, GradeSenior3,
}

// Ordinal returns the 1-based school year of g. Canonical labels, bare numbers
// ("7") and "N年级" forms are understood; ok is false for anything else.
func (g GradeLevel) Ordinal() (int, bool) {
	s := strings.TrimSpace(string(g))
	for i, label := range Grades {
		if s == string(label) {
			return i + 1, true
		}
	}
	s = strings.TrimSuffix(s, "年级")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > len(Grades) {
		return 0, false
	}
	return n, true
}

// Valid reports whether g has an ordinal.
func (g GradeLevel) Valid() bool {
	_, ok := g.Ordinal()
	return ok
}

// Canonical maps any understood form of g to its canonical label.
func (g GradeLevel) Canonical() GradeLevel {
	if n, ok := g.Ordinal(); ok {
		return Grades[n-1]
	}
	return g
}

// GradeFromOrdinal returns the canonical label for school year n (1-12).
func GradeFromOrdinal(n int) (GradeLevel, bool) {
	if n < 1 || n > len(Grades) {
		return "", false
	}
	return Grades[n-1], true
}

// GradeDistance returns |a-b| in school years, or ok=false if either grade has no ordinal.
func GradeDistance(a, b GradeLevel) (int, bool) {
	x, ok := a.Ordinal()
	if !ok {
		return 0, false
	}
	y, ok := b.Ordinal()
	if !ok {
		return 0, false
	}
	if x > y {
		return x - y, true
	}
	return y - x, true
}

// rank is the sort key used for "order by grade": known grades by ordinal,
// unknown labels first.
func (g GradeLevel) rank() int {
	n, _ := g.Ordinal()
	return n
}
