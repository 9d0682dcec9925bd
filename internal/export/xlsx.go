// Package export renders stored tenders as a spreadsheet.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/user/tender-service/internal/domain"
)

const dateLayout = "2006-01-02 15:04"

type column struct {
	header string
	value  func(t *domain.Tender) any
}

var commonColumns = []column{
	{"tender_id", func(t *domain.Tender) any { return t.TenderID }},
	{"investmoscow_url", func(t *domain.Tender) any { return t.InvestmoscowURL }},
	{"address", func(t *domain.Tender) any { return derefString(t.Address) }},
	{"region_name", func(t *domain.Tender) any { return derefString(t.RegionName) }},
	{"district_name", func(t *domain.Tender) any { return derefString(t.DistrictName) }},
	{"subway_stations", func(t *domain.Tender) any { return derefString(t.SubwayStations) }},
	{"object_area", func(t *domain.Tender) any { return derefFloat(t.ObjectArea) }},
	{"floor", func(t *domain.Tender) any { return derefString(t.Floor) }},
	{"applications_enddate", func(t *domain.Tender) any { return derefTime(t.ApplicationsEnddate) }},
	{"deposit", func(t *domain.Tender) any { return derefFloat(t.Deposit) }},
	{"start_price", func(t *domain.Tender) any { return derefFloat(t.StartPrice) }},
	{"procedure_form", func(t *domain.Tender) any { return derefString(t.ProcedureForm) }},
}

var nonresidentialColumns = []column{
	{"m1_start_price", nonres(func(f *domain.NonresidentialFields) any { return derefFloat(f.M1StartPrice) })},
	{"min_price", nonres(func(f *domain.NonresidentialFields) any { return derefFloat(f.MinPrice) })},
	{"m1_min_price", nonres(func(f *domain.NonresidentialFields) any { return derefFloat(f.M1MinPrice) })},
	{"auction_step", nonres(func(f *domain.NonresidentialFields) any { return derefFloat(f.AuctionStep) })},
	{"price_decrease_step", nonres(func(f *domain.NonresidentialFields) any { return derefFloat(f.PriceDecreaseStep) })},
	{"tendering", nonres(func(f *domain.NonresidentialFields) any { return derefTime(f.Tendering) })},
	{"lat", nonres(func(f *domain.NonresidentialFields) any { return derefFloat(f.Lat) })},
	{"lon", nonres(func(f *domain.NonresidentialFields) any { return derefFloat(f.Lon) })},
	{"entrance_type", nonres(func(f *domain.NonresidentialFields) any { return derefString(f.EntranceType) })},
	{"windows", nonres(func(f *domain.NonresidentialFields) any { return derefString(f.Windows) })},
	{"ceilings", nonres(func(f *domain.NonresidentialFields) any { return derefString(f.Ceilings) })},
}

var parkingColumns = []column{
	{"parking_type", parking(func(f *domain.ParkingFields) any { return derefString(f.ParkingType) })},
	{"parking_place", parking(func(f *domain.ParkingFields) any { return derefString(f.ParkingPlace) })},
	{"count", parking(func(f *domain.ParkingFields) any {
		if f.Count == nil {
			return ""
		}
		return *f.Count
	})},
}

var imagesColumn = column{"images_links", func(t *domain.Tender) any { return strings.Join(t.ImagesLinks, "\n") }}

func columnsFor(c domain.Category) []column {
	cols := append([]column{}, commonColumns...)
	switch c {
	case domain.ParkingSpace:
		cols = append(cols, parkingColumns...)
	default:
		cols = append(cols, nonresidentialColumns...)
	}
	return append(cols, imagesColumn)
}

// Write renders one sheet per category, in the order given, and writes the workbook to w.
func Write(w io.Writer, categories []domain.Category, tenders map[domain.Category][]*domain.Tender) error {
	if len(categories) == 0 {
		return fmt.Errorf("export: no categories")
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, c := range categories {
		sheet := c.String()
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		if err := writeSheet(f, sheet, columnsFor(c), tenders[c]); err != nil {
			return fmt.Errorf("export %s: %w", sheet, err)
		}
	}
	_, err := f.WriteTo(w)
	return err
}

func writeSheet(f *excelize.File, sheet string, cols []column, tenders []*domain.Tender) error {
	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, col.header); err != nil {
			return err
		}
	}
	for r, t := range tenders {
		for i, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if err := f.SetCellValue(sheet, cell, col.value(t)); err != nil {
				return err
			}
		}
	}
	return nil
}

func nonres(fn func(*domain.NonresidentialFields) any) func(*domain.Tender) any {
	return func(t *domain.Tender) any {
		if t.NonresidentialFields == nil {
			return ""
		}
		return fn(t.NonresidentialFields)
	}
}

func parking(fn func(*domain.ParkingFields) any) func(*domain.Tender) any {
	return func(t *domain.Tender) any {
		if t.ParkingFields == nil {
			return ""
		}
		return fn(t.ParkingFields)
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func derefTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.Format(dateLayout)
}
