package enrich

import (
	"strings"

	"github.com/user/tender-service/internal/domain"
)

// Evaluation report labels, in extraction order.
const (
	DocLabelEntranceType = "Тип входа"
	DocLabelWindows      = "Наличие окон и их размер"
	DocLabelCeilings     = "Высота потолков, м"
	DocLabelRegionName   = "Округ города Москвы"
	DocLabelDistrictName = "Муниципальный район"
)

// DocumentLabels are the labels searched for in evaluation reports.
var DocumentLabels = []string{
	DocLabelEntranceType,
	DocLabelWindows,
	DocLabelCeilings,
	DocLabelRegionName,
	DocLabelDistrictName,
}

// DocumentFieldsFromLabels maps extractor output onto typed document fields.
func DocumentFieldsFromLabels(found map[string]string) domain.DocumentFields {
	pick := func(label string) *string {
		v, ok := found[label]
		if !ok {
			return nil
		}
		return optionalString(plainText(v))
	}
	return domain.DocumentFields{
		EntranceType: pick(DocLabelEntranceType),
		Windows:      pick(DocLabelWindows),
		Ceilings:     pick(DocLabelCeilings),
		RegionName:   pick(DocLabelRegionName),
		DistrictName: pick(DocLabelDistrictName),
	}
}

// Listing is the context a tender carries over from its search result entity.
type Listing struct {
	Address      string
	RegionName   string
	DistrictName string
	Count        int
}

// Input is everything the builder merges into one record.
type Input struct {
	Category domain.Category
	Detail   *domain.TenderDetail
	// Document is nil when no evaluation report was available.
	Document *domain.DocumentFields
	Listing  Listing
}

// Build merges the detail payload, report fields and listing context into a
// normalized record. It is deterministic for a given input.
func (r *Rules) Build(in Input) *domain.Tender {
	d := in.Detail
	id := d.TenderID.String()

	t := &domain.Tender{
		Category:        in.Category,
		TenderID:        id,
		InvestmoscowURL: r.InvestmoscowURL(id),
		ObjectArea:      optionalFloat(r.ParseArea(d.HeaderInfo.LandArea)),
		ProcedureForm:   stepText(d.ProcedureInfo, LabelProcedureForm),
		Floor:           attributeText(d.ObjectInfo, LabelFloor),
		SubwayStations:  firstStation(d.HeaderInfo.Subway),
	}

	if v, ok := stepValue(d.ProcedureInfo, LabelDeposit); ok {
		t.Deposit = r.optionalPrice(v)
	}
	if v, ok := stepValue(d.ProcedureInfo, LabelApplicationsEnddate); ok {
		t.ApplicationsEnddate = r.ParseDateTime(v, r.parsing.DateTimeSecondsLayout)
	}
	t.StartPrice = StartPrice(d.MapInfo.Price, t.Deposit)

	switch in.Category {
	case domain.ParkingSpace:
		r.buildParking(t, in)
	default:
		r.buildNonresidential(t, in)
	}
	return t
}

func (r *Rules) buildNonresidential(t *domain.Tender, in Input) {
	d := in.Detail
	t.Address = optionalString(d.HeaderInfo.Address)

	nf := &domain.NonresidentialFields{
		M1StartPrice: M1StartPrice(t.Deposit, t.ObjectArea),
	}
	if v, ok := stepValue(d.ProcedureInfo, LabelMinPrice); ok {
		nf.MinPrice = r.optionalPrice(v)
	}
	nf.M1MinPrice = M1MinPrice(nf.MinPrice, t.ObjectArea)
	if v, ok := stepValue(d.ProcedureInfo, LabelAuctionStep); ok {
		nf.AuctionStep = r.optionalPrice(v)
	}
	if v, ok := stepValue(d.ProcedureInfo, LabelPriceDecreaseStep); ok {
		nf.PriceDecreaseStep = r.optionalPrice(v)
	}
	if v, ok := stepValue(d.ProcedureInfo, LabelTendering); ok {
		nf.Tendering = r.ParseDateTime(v, r.parsing.DateTimeLayout)
	}
	if c := d.MapInfo.Coords; c != nil {
		lat, lon := c.Lat, c.Long
		nf.Lat, nf.Lon = &lat, &lon
	}
	if doc := in.Document; doc != nil {
		nf.EntranceType = doc.EntranceType
		nf.Windows = doc.Windows
		nf.Ceilings = doc.Ceilings
		t.RegionName = doc.RegionName
		t.DistrictName = doc.DistrictName
	}
	t.NonresidentialFields = nf
}

func (r *Rules) buildParking(t *domain.Tender, in Input) {
	d := in.Detail
	t.Address = optionalString(in.Listing.Address)
	t.RegionName = optionalString(in.Listing.RegionName)
	t.DistrictName = optionalString(in.Listing.DistrictName)

	count := in.Listing.Count
	pf := &domain.ParkingFields{
		ParkingType: attributeText(d.ObjectInfo, LabelParkingType),
		Count:       &count,
	}
	if v, ok := attributeValue(d.ObjectInfo, LabelParkingPlace); ok {
		pf.ParkingPlace = r.ParkingPlace(plainText(v))
	}
	t.ParkingFields = pf
}

func stepText(steps []domain.ProcedureStep, label string) *string {
	v, ok := stepValue(steps, label)
	if !ok {
		return nil
	}
	return optionalString(plainText(v))
}

func attributeText(attrs []domain.ObjectAttribute, label string) *string {
	v, ok := attributeValue(attrs, label)
	if !ok {
		return nil
	}
	return optionalString(plainText(v))
}

func firstStation(stations []domain.SubwayStation) *string {
	if len(stations) == 0 {
		return nil
	}
	return optionalString(strings.TrimSpace(stations[0].SubwayStationName))
}
