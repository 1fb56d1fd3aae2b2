package dunning

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// TemplateData feeds the notice body templates.
type TemplateData struct {
	CustomerName       string
	InvoiceNumber      string
	InvoiceDate        time.Time
	InvoiceDueDate     time.Time
	OpenAmount         decimal.Decimal
	Fee                decimal.Decimal
	Interest           decimal.Decimal
	TotalClaim         decimal.Decimal
	PaymentDeadline    time.Time
	PreviousNoticeDate time.Time
}

var templateFuncs = template.FuncMap{
	"eur":  shared.FormatEUR,
	"date": shared.FormatDate,
	"positive": func(d decimal.Decimal) bool {
		return d.IsPositive()
	},
}

const stage1Text = `Sehr geehrte Damen und Herren{{if .CustomerName}} ({{.CustomerName}}){{end}},

sicherlich haben Sie in der Hektik des Alltags übersehen, unsere Rechnung {{.InvoiceNumber}} vom {{date .InvoiceDate}} zu begleichen.
Der offene Betrag beläuft sich auf {{eur .OpenAmount}}.
{{if positive .Fee}}Für diese Zahlungserinnerung berechnen wir eine Mahngebühr von {{eur .Fee}}.
{{end}}{{if positive .Interest}}Verzugszinsen: {{eur .Interest}}.
{{end}}
Bitte überweisen Sie den Gesamtbetrag von {{eur .TotalClaim}} bis zum {{date .PaymentDeadline}}.

Sollten Sie die Zahlung bereits veranlasst haben, betrachten Sie dieses Schreiben bitte als gegenstandslos.

Mit freundlichen Grüßen`

const stage2Text = `Sehr geehrte Damen und Herren{{if .CustomerName}} ({{.CustomerName}}){{end}},

trotz unserer Zahlungserinnerung vom {{date .PreviousNoticeDate}} konnten wir bislang keinen Zahlungseingang zu unserer Rechnung {{.InvoiceNumber}} vom {{date .InvoiceDate}} feststellen.
Der offene Betrag beläuft sich auf {{eur .OpenAmount}}.
{{if positive .Fee}}Mahngebühr: {{eur .Fee}}.
{{end}}{{if positive .Interest}}Verzugszinsen: {{eur .Interest}}.
{{end}}
Wir fordern Sie dringend auf, den Gesamtbetrag von {{eur .TotalClaim}} bis spätestens {{date .PaymentDeadline}} zu überweisen.

Mit freundlichen Grüßen`

const stage3Text = `Sehr geehrte Damen und Herren{{if .CustomerName}} ({{.CustomerName}}){{end}},

unsere Rechnung {{.InvoiceNumber}} vom {{date .InvoiceDate}} ist trotz mehrfacher Mahnung, zuletzt am {{date .PreviousNoticeDate}}, weiterhin unbezahlt.
Der offene Betrag beläuft sich auf {{eur .OpenAmount}}.
{{if positive .Fee}}Mahngebühr: {{eur .Fee}}.
{{end}}{{if positive .Interest}}Verzugszinsen: {{eur .Interest}}.
{{end}}
Dies ist unsere letzte Mahnung. Sollte der Gesamtbetrag von {{eur .TotalClaim}} nicht bis zum {{date .PaymentDeadline}} bei uns eingehen, werden wir ohne weitere Ankündigung rechtliche Schritte einleiten und ein gerichtliches Mahnverfahren beantragen.

Mit freundlichen Grüßen`

var stageTemplates = [3]*template.Template{
	template.Must(template.New("stage1").Funcs(templateFuncs).Parse(stage1Text)),
	template.Must(template.New("stage2").Funcs(templateFuncs).Parse(stage2Text)),
	template.Must(template.New("stage3").Funcs(templateFuncs).Parse(stage3Text)),
}

// RenderBody renders the notice text for stage. A non-blank override replaces the
// built-in template; it may use the same placeholders and is used verbatim when
// it does not parse.
func RenderBody(stage int, data TemplateData, override string) (string, error) {
	if stage < 1 || stage > len(stageTemplates) {
		return "", shared.Validationf("stage must be between 1 and %d", len(stageTemplates))
	}
	tmpl := stageTemplates[stage-1]
	if override = strings.TrimSpace(override); override != "" {
		custom, err := template.New(fmt.Sprintf("custom%d", stage)).Funcs(templateFuncs).Parse(override)
		if err != nil {
			return override, nil
		}
		tmpl = custom
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		if override != "" {
			return override, nil
		}
		return "", fmt.Errorf("dunning: render stage %d: %w", stage, err)
	}
	return b.String(), nil
}
