package marketplace

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/proxy"
)

func detailWithDocs(tenderType, docs string) *domain.TenderDetail {
	d := &domain.TenderDetail{HeaderInfo: domain.HeaderInfo{TenderTypeName: tenderType}}
	if docs != "" {
		d.DocumentInfo = json.RawMessage(docs)
	}
	return d
}

func TestEvaluationReportLink(t *testing.T) {
	const docs = `{"documentGroups":[
		{"groupType":"TenderDocs","files":[{"name":"Отчет об оценке (старый)","downloadLink":"https://x/wrong.pdf"}]},
		{"groupType":"ObjectDocs","files":[
			{"name":"Выписка ЕГРН","downloadLink":"https://x/egrn.pdf"},
			{"name":"Отчет об оценке №15","downloadLink":"https://x/report.pdf"},
			{"name":"Отчет об оценке №16","downloadLink":"https://x/second.pdf"}]}]}`

	tests := []struct {
		name   string
		detail *domain.TenderDetail
		want   string
	}{
		{"first matching object document", detailWithDocs("Продажа", docs), "https://x/report.pdf"},
		{"lease tenders have no report", detailWithDocs("Аренда", docs), ""},
		{"no document info", detailWithDocs("Продажа", ""), ""},
		{"malformed document info", detailWithDocs("Продажа", `{"documentGroups":"oops"}`), ""},
		{"no object docs group", detailWithDocs("Продажа", `{"documentGroups":[{"groupType":"Other","files":[]}]}`), ""},
		{"no report in group", detailWithDocs("Продажа", `{"documentGroups":[{"groupType":"ObjectDocs","files":[{"name":"План","downloadLink":"https://x/p.pdf"}]}]}`), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluationReportLink(tt.detail); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientEvaluationReportLinkResolvesRelative(t *testing.T) {
	c := NewClient(Options{DetailURL: "https://api.investmoscow.ru/investmoscow/tender/v1/object-info/getTenderObjectInformation"},
		proxy.NewManager(nil), zap.NewNop())
	d := detailWithDocs("Продажа", `{"documentGroups":[{"groupType":"ObjectDocs","files":[{"name":"Отчет об оценке","downloadLink":"/api/files/9"}]}]}`)

	if got := c.EvaluationReportLink(d); got != "https://api.investmoscow.ru/api/files/9" {
		t.Fatalf("got %q", got)
	}
}
