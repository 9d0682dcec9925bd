package domain

import "time"

// Tender is the normalized record written to the primary store and the cache.
// Category selects which of the embedded variant blocks is populated.
type Tender struct {
	Category            Category   `json:"category"`
	TenderID            string     `json:"tender_id"`
	InvestmoscowURL     string     `json:"investmoscow_url"`
	Address             *string    `json:"address"`
	RegionName          *string    `json:"region_name"`
	DistrictName        *string    `json:"district_name"`
	SubwayStations      *string    `json:"subway_stations"`
	ObjectArea          *float64   `json:"object_area"`
	Floor               *string    `json:"floor"`
	ApplicationsEnddate *time.Time `json:"applications_enddate"`
	Deposit             *float64   `json:"deposit"`
	StartPrice          *float64   `json:"start_price"`
	ProcedureForm       *string    `json:"procedure_form"`
	ImagesLinks         []string   `json:"images_links"`

	*NonresidentialFields
	*ParkingFields
}

type NonresidentialFields struct {
	M1StartPrice      *float64   `json:"m1_start_price"`
	MinPrice          *float64   `json:"min_price"`
	M1MinPrice        *float64   `json:"m1_min_price"`
	AuctionStep       *float64   `json:"auction_step"`
	PriceDecreaseStep *float64   `json:"price_decrease_step"`
	Tendering         *time.Time `json:"tendering"`
	Lat               *float64   `json:"lat"`
	Lon               *float64   `json:"lon"`
	EntranceType      *string    `json:"entrance_type"`
	Windows           *string    `json:"windows"`
	Ceilings          *string    `json:"ceilings"`
}

type ParkingFields struct {
	ParkingType  *string `json:"parking_type"`
	ParkingPlace *string `json:"parking_place"`
	Count        *int    `json:"count"`
}
