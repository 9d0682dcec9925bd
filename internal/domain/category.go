package domain

import "fmt"

// Category is the listing category a tender was harvested from.
type Category string

const (
	Nonresidential Category = "nonresidential"
	ParkingSpace   Category = "parking_space"
)

// Categories lists every supported category in crawl order.
var Categories = []Category{Nonresidential, ParkingSpace}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	return c == Nonresidential || c == ParkingSpace
}

// ObjectTypeCode is the marketplace object type id used in search filters.
func (c Category) ObjectTypeCode() int {
	switch c {
	case ParkingSpace:
		return 30011578
	default:
		return 30011569
	}
}

// Table is the primary store table holding records of this category.
func (c Category) Table() string {
	switch c {
	case ParkingSpace:
		return "parking_spaces_tenders"
	default:
		return "nonresidential_tenders"
	}
}

// Grouped reports whether a listing entity is collapsed to one representative tender.
func (c Category) Grouped() bool {
	return c == ParkingSpace
}

func (c Category) String() string { return string(c) }
