package marketplace

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/pkg/utils"
)

const (
	leaseTenderType  = "Аренда"
	objectDocsGroup  = "ObjectDocs"
	reportNamePrefix = "Отчет об оценке"
)

// EvaluationReportLink returns the download link of the tender's evaluation
// report, or "" when the tender is a lease or has no such document.
func EvaluationReportLink(d *domain.TenderDetail) string {
	if d.HeaderInfo.TenderTypeName == leaseTenderType {
		return ""
	}
	if len(d.DocumentInfo) == 0 {
		return ""
	}
	var info domain.DocumentInfo
	if err := json.Unmarshal(d.DocumentInfo, &info); err != nil {
		return ""
	}
	for _, g := range info.DocumentGroups {
		if g.GroupType != objectDocsGroup {
			continue
		}
		for _, f := range g.Files {
			if strings.HasPrefix(f.Name, reportNamePrefix) && f.DownloadLink != "" {
				return f.DownloadLink
			}
		}
		return ""
	}
	return ""
}

// EvaluationReportLink resolves the report link against the API host, since
// some documents are published with relative links.
func (c *Client) EvaluationReportLink(d *domain.TenderDetail) string {
	link := EvaluationReportLink(d)
	if link == "" {
		return ""
	}
	base, err := url.Parse(c.detailURL)
	if err != nil {
		return link
	}
	abs, err := utils.ToAbsoluteURL(base, link)
	if err != nil {
		return ""
	}
	return abs
}
