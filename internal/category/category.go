// Package category defines the closed set of trash classes handled by the
// sorting device. Every per-category map in the system is keyed by Category.
package category

import "fmt"

type Category string

const (
	GeneralTrash Category = "general trash"
	Plastic      Category = "plastic"
	Metal        Category = "metal"
	Glass        Category = "glass"
)

// All lists every category in display order.
var All = []Category{GeneralTrash, Plastic, Metal, Glass}

var koreanLabels = map[Category]string{
	GeneralTrash: "일반쓰레기",
	Plastic:      "플라스틱",
	Metal:        "금속",
	Glass:        "유리",
}

// Valid reports whether c is one of the four known classes.
func Valid(c Category) bool {
	_, ok := koreanLabels[c]
	return ok
}

// Parse converts a raw request field into a Category.
func Parse(s string) (Category, error) {
	c := Category(s)
	if !Valid(c) {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// KoreanLabel returns the display label used by the admin alerts and the
// kiosk result screen. Unknown categories fall through unchanged.
func KoreanLabel(c Category) string {
	if l, ok := koreanLabels[c]; ok {
		return l
	}
	return string(c)
}
