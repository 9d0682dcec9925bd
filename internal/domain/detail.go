package domain

import "encoding/json"

// TenderDetail is the marketplace object-information payload for one tender.
type TenderDetail struct {
	TenderID      FlexString        `json:"tenderId" validate:"required"`
	ImageInfo     ImageInfo         `json:"imageInfo"`
	HeaderInfo    HeaderInfo        `json:"headerInfo"`
	MapInfo       MapInfo           `json:"mapInfo"`
	ProcedureInfo []ProcedureStep   `json:"procedureInfo" validate:"dive"`
	ObjectInfo    []ObjectAttribute `json:"objectInfo" validate:"dive"`
	// DocumentInfo is decoded lazily, its shape varies between tenders.
	DocumentInfo json.RawMessage `json:"documentInfo"`
}

type ImageInfo struct {
	AttachedImages []AttachedImage `json:"attachedImages" validate:"dive"`
}

type AttachedImage struct {
	TenderID    FlexString `json:"tenderId"`
	IsMainPhoto bool       `json:"isMainPhoto"`
	URL         string     `json:"url" validate:"required"`
	FileBase    FileBase   `json:"fileBase"`
}

type FileBase struct {
	Name string `json:"name" validate:"required"`
}

type HeaderInfo struct {
	Address        string          `json:"address" validate:"required"`
	Subway         []SubwayStation `json:"subway"`
	LandArea       string          `json:"landArea"`
	TenderTypeName string          `json:"tenderTypeName"`
}

type SubwayStation struct {
	SubwayStationID   int    `json:"subwayStationId"`
	SubwayStationName string `json:"subwayStationName"`
}

type MapInfo struct {
	Coords *Coords  `json:"coords"`
	Price  *float64 `json:"price"`
}

type Coords struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// ProcedureStep is one labeled row of the procedure timeline.
type ProcedureStep struct {
	Label      string `json:"label"`
	Value      string `json:"value"`
	UserAction string `json:"userAction"`
}

type ObjectAttribute struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type DocumentInfo struct {
	DocumentGroups []DocumentGroup `json:"documentGroups"`
}

type DocumentGroup struct {
	GroupType string         `json:"groupType"`
	Files     []DocumentFile `json:"files"`
}

type DocumentFile struct {
	Name         string `json:"name"`
	DownloadLink string `json:"downloadLink"`
}

// DocumentFields are attributes recovered from the evaluation report.
// A nil field means the label was not found in the document.
type DocumentFields struct {
	EntranceType *string
	Windows      *string
	Ceilings     *string
	RegionName   *string
	DistrictName *string
}

// TenderImages are the listing photos queued for archiving.
type TenderImages struct {
	TenderID string
	Images   []AttachedImage
}
