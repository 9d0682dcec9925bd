package config

import (
	"fmt"
	"regexp"
	"time"
)

const (
	DefaultPriceRegex            = `\d[\d ]+,?\d+`
	DefaultAreaRegex             = `\d+(?:[.,]\d+)?`
	DefaultParkingPlaceRegex     = `(м/м №|м/м|мм)\s*(.+)`
	DefaultDateTimeSecondsLayout = "02.01.2006 15:04:05"
	DefaultDateTimeLayout        = "02.01.2006 15:04"
	DefaultTimezone              = "Europe/Moscow"
)

// Parsing holds the compiled extraction rules shared by the metric calculator.
// It is built once and never mutated afterwards.
type Parsing struct {
	Price                 *regexp.Regexp
	Area                  *regexp.Regexp
	ParkingPlace          *regexp.Regexp
	DateTimeSecondsLayout string
	DateTimeLayout        string
	Location              *time.Location
}

func NewParsing(price, area, parkingPlace, secondsLayout, layout, timezone string) (Parsing, error) {
	var p Parsing
	var err error

	if p.Price, err = regexp.Compile(price); err != nil {
		return Parsing{}, fmt.Errorf("compile price regex: %w", err)
	}
	if p.Area, err = regexp.Compile(area); err != nil {
		return Parsing{}, fmt.Errorf("compile area regex: %w", err)
	}
	if p.ParkingPlace, err = regexp.Compile(parkingPlace); err != nil {
		return Parsing{}, fmt.Errorf("compile parking place regex: %w", err)
	}
	if p.ParkingPlace.NumSubexp() < 1 {
		return Parsing{}, fmt.Errorf("parking place regex needs at least one capture group")
	}

	p.DateTimeSecondsLayout = secondsLayout
	p.DateTimeLayout = layout
	p.Location = loadLocation(timezone)
	return p, nil
}

// DefaultParsing returns the rules used when nothing is overridden.
func DefaultParsing() Parsing {
	p, err := NewParsing(DefaultPriceRegex, DefaultAreaRegex, DefaultParkingPlaceRegex,
		DefaultDateTimeSecondsLayout, DefaultDateTimeLayout, DefaultTimezone)
	if err != nil {
		panic(err)
	}
	return p
}

// loadLocation falls back to a fixed UTC+3 zone when tzdata is unavailable.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}
