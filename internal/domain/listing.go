package domain

import (
	"bytes"
	"encoding/json"
)

// ListingPage is one page of the marketplace search response.
type ListingPage struct {
	Entities []ListingEntity `json:"entities"`
}

// ListingEntity groups tenders that share an object address.
type ListingEntity struct {
	ObjectAddress string       `json:"objectAddress"`
	Count         int          `json:"count"`
	Tenders       []TenderStub `json:"tenders"`
}

// TenderStub is a listing entry. ObjectArea keeps the raw text, numbers
// included, and is read with the configured area rule.
type TenderStub struct {
	ID           FlexString `json:"id"`
	ObjectArea   FlexString `json:"objectArea"`
	RegionName   string     `json:"regionName"`
	DistrictName string     `json:"districtName"`
}

// FlexString accepts both JSON strings and numbers.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string { return string(s) }
