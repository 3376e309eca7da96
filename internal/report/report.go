package report

import (
	"fmt"
	"html/template"
	"strings"

	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

// Monthly holds one rendered month report ready to send.
type Monthly struct {
	Subject string
	HTML    string
}

var reportTmpl = template.Must(template.New("report").Parse(`<html>
  <body>
    <h1>{{.Year}}年{{.Month}}月の家計簿レポート</h1>
{{- if .Rows}}
    <pre>
========================
【請求金額】 {{.Billing}}円 (合計金額の1/2を10円単位で切り下げ)
【合計金額】 {{.Total}}円
========================

合計 {{len .Rows}} 件のレシート
    </pre>
    <table border="1" cellpadding="5" cellspacing="0">
      <thead>
        <tr>
          <th>日付</th>
          <th>店舗名</th>
          <th>合計金額</th>
        </tr>
      </thead>
      <tbody>
{{- range .Rows}}
        <tr>
          <td>{{.Date}}</td>
          <td>{{.Store}}</td>
          <td>{{.Amount}}円</td>
        </tr>
{{- end}}
      </tbody>
    </table>
{{- else}}
    <p>{{.Year}}年{{.Month}}月のレシートデータはありません。</p>
{{- end}}
  </body>
</html>
`))

type reportRow struct {
	Date   string
	Store  string
	Amount int64
}

type reportData struct {
	Year    int
	Month   int
	Total   int64
	Billing int64
	Rows    []reportRow
}

// Render builds the Japanese month report from the month's receipts.
// Receipts are expected in date order, as MonthlyDetails returns them.
func Render(ym core.YearMonth, details storage.MonthlyDetails) (Monthly, error) {
	data := reportData{
		Year:    ym.Year,
		Month:   ym.Month,
		Total:   details.Total,
		Billing: core.BillingAmount(details.Total),
	}

	for _, rec := range details.Receipts {
		data.Rows = append(data.Rows, reportRow{
			Date:   strings.ReplaceAll(rec.ReceiptDate, "-", "/"),
			Store:  rec.StoreName,
			Amount: rec.TotalAmount,
		})
	}

	var sb strings.Builder
	if err := reportTmpl.Execute(&sb, data); err != nil {
		return Monthly{}, fmt.Errorf("render month report: %w", err)
	}

	return Monthly{
		Subject: fmt.Sprintf("%d年%d月の家計簿レポート", ym.Year, ym.Month),
		HTML:    sb.String(),
	}, nil
}
