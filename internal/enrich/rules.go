// Package enrich turns raw marketplace payloads into normalized tender records.
package enrich

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/tender-service/internal/config"
	"github.com/user/tender-service/internal/domain"
)

// Procedure step labels.
const (
	LabelDeposit             = "Размер задатка"
	LabelProcedureForm       = "Форма проведения"
	LabelApplicationsEnddate = "Дата окончания приёма заявок"
	LabelTendering           = "Проведение торгов"
	LabelAuctionStep         = "Шаг аукциона"
	LabelPriceDecreaseStep   = "Шаг понижения цены"
	LabelMinPrice            = "Цена отсечения"
)

// Object attribute labels.
const (
	LabelFloor        = "Этаж"
	LabelParkingType  = "Тип парковки"
	LabelParkingPlace = "Расположение"
)

// Rules are the pure parsing and derivation functions. They hold no mutable state.
type Rules struct {
	parsing       config.Parsing
	tenderBaseURL string
}

func NewRules(parsing config.Parsing, tenderBaseURL string) *Rules {
	return &Rules{parsing: parsing, tenderBaseURL: tenderBaseURL}
}

// ParsePrice reads a money amount such as "12 345,67 ₽". Empty or unmatched input yields 0.
func (r *Rules) ParsePrice(s string) float64 {
	return parseNumber(r.parsing.Price.FindString(stripNBSP(s)))
}

// ParseArea reads an area such as "1 234,5 кв.м". Spaces are dropped before
// matching so thousands groups stay together. Empty or unmatched input yields 0.
func (r *Rules) ParseArea(s string) float64 {
	return parseNumber(r.parsing.Area.FindString(stripSpaces(s)))
}

// ParseDateTime parses a procedure timestamp in the configured zone, trying
// layout first and the other configured layout second.
func (r *Rules) ParseDateTime(s, layout string) *time.Time {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	if s == "" {
		return nil
	}
	layouts := []string{layout}
	for _, l := range []string{r.parsing.DateTimeSecondsLayout, r.parsing.DateTimeLayout} {
		if l != layout {
			layouts = append(layouts, l)
		}
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, r.parsing.Location); err == nil {
			return &t
		}
	}
	return nil
}

// ParkingPlace extracts the place number from a location string like "м/м № 15".
func (r *Rules) ParkingPlace(s string) *string {
	m := r.parsing.ParkingPlace.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	return optionalString(m[len(m)-1])
}

// InvestmoscowURL is the public page of a tender.
func (r *Rules) InvestmoscowURL(tenderID string) string {
	return r.tenderBaseURL + tenderID
}

func (r *Rules) optionalPrice(s string) *float64 {
	return optionalFloat(r.ParsePrice(s))
}

// StartPrice prefers the listed map price and falls back to twice the deposit.
func StartPrice(mapPrice, deposit *float64) *float64 {
	if mapPrice != nil && *mapPrice != 0 {
		v := *mapPrice
		return &v
	}
	if deposit == nil {
		return nil
	}
	v := 2 * *deposit
	return &v
}

// M1StartPrice is the start price per square meter derived from the deposit.
func M1StartPrice(deposit, area *float64) *float64 {
	if deposit == nil || area == nil || *area == 0 {
		return nil
	}
	v := 2 * *deposit / *area
	return &v
}

// M1MinPrice is the cut-off price per square meter.
func M1MinPrice(minPrice, area *float64) *float64 {
	if minPrice == nil || area == nil || *minPrice == 0 || *area == 0 {
		return nil
	}
	v := *minPrice / *area
	return &v
}

func stepValue(steps []domain.ProcedureStep, label string) (string, bool) {
	for _, s := range steps {
		if s.Label == label {
			return s.Value, true
		}
	}
	return "", false
}

func attributeValue(attrs []domain.ObjectAttribute, label string) (string, bool) {
	for _, a := range attrs {
		if a.Label == label {
			return a.Value, true
		}
	}
	return "", false
}

// plainText drops markup that sometimes leaks into attribute values.
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func stripNBSP(s string) string {
	return strings.ReplaceAll(s, "\u00a0", "")
}

func stripSpaces(s string) string {
	return strings.ReplaceAll(stripNBSP(s), " ", "")
}

func parseNumber(m string) float64 {
	if m == "" {
		return 0
	}
	m = strings.ReplaceAll(m, " ", "")
	m = strings.Replace(m, ",", ".", 1)
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return v
}

func optionalFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
