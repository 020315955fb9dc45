package export

import (
	"bytes"
	"context"
	"html/template"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/clinsync/patient-registry/pkg/types"
)

const pdfRenderTimeout = 30 * time.Second

var recordTemplate = template.Must(template.New("record").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 40px; color: #222; }
h1 { font-size: 20px; border-bottom: 2px solid #2c5f8a; padding-bottom: 8px; }
table { border-collapse: collapse; width: 100%; margin-top: 16px; }
td { padding: 6px 10px; border-bottom: 1px solid #ddd; vertical-align: top; }
td.label { width: 180px; font-weight: bold; color: #555; }
.status { display: inline-block; padding: 2px 8px; border-radius: 3px; font-size: 12px; }
.status.synced { background: #d4edda; }
.status.pending { background: #fff3cd; }
.status.error { background: #f8d7da; }
.footer { margin-top: 32px; font-size: 11px; color: #888; }
</style>
</head>
<body>
<h1>Patient Record {{.PatientID}}</h1>
<table>
<tr><td class="label">Name</td><td>{{.FirstName}} {{.LastName}}</td></tr>
{{if .DateOfBirth}}<tr><td class="label">Date of Birth</td><td>{{.DateOfBirth.Format "2006-01-02"}}</td></tr>{{end}}
{{if .Gender}}<tr><td class="label">Gender</td><td>{{.Gender}}</td></tr>{{end}}
{{if .Diagnosis}}<tr><td class="label">Diagnosis</td><td>{{.Diagnosis}}</td></tr>{{end}}
{{if .TreatmentPlan}}<tr><td class="label">Treatment Plan</td><td>{{.TreatmentPlan}}</td></tr>{{end}}
{{if .Notes}}<tr><td class="label">Notes</td><td>{{.Notes}}</td></tr>{{end}}
<tr><td class="label">Sync Status</td><td><span class="status {{.SyncStatus}}">{{.SyncStatus}}</span></td></tr>
{{if .ExternalRecordID}}<tr><td class="label">External Record ID</td><td>{{.ExternalRecordID}}</td></tr>{{end}}
<tr><td class="label">Entered By</td><td>{{.CreatedBy}}</td></tr>
<tr><td class="label">Created</td><td>{{.CreatedAt.Format "2006-01-02 15:04 MST"}}</td></tr>
</table>
<div class="footer">Generated {{.Now.Format "2006-01-02 15:04 MST"}}</div>
</body>
</html>`))

type recordView struct {
	*types.PatientRecord
	Now time.Time
}

// RenderHTML produces the printable HTML summary for a record
func (e *Exporter) RenderHTML(record *types.PatientRecord) (string, error) {
	var buf bytes.Buffer
	if err := recordTemplate.Execute(&buf, recordView{PatientRecord: record, Now: time.Now()}); err != nil {
		return "", types.NewInternalError(types.ErrCodeInternalError, "failed to render record template", err)
	}
	return buf.String(), nil
}

// RenderPDF renders a record summary to PDF through headless Chrome
func (e *Exporter) RenderPDF(ctx context.Context, record *types.PatientRecord) ([]byte, error) {
	html, err := e.RenderHTML(record)
	if err != nil {
		return nil, err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	renderCtx, cancelRender := context.WithTimeout(browserCtx, pdfRenderTimeout)
	defer cancelRender()

	var pdf []byte
	err = chromedp.Run(renderCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to render PDF", err)
	}

	e.logger.WithRecordID(record.ID).WithField("bytes", len(pdf)).Info("Rendered record PDF")
	return pdf, nil
}
