package shared

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var dePrinter = message.NewPrinter(language.German)

// FormatAmount renders a money amount the way German documents print it, e.g. 1.190,00.
func FormatAmount(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return dePrinter.Sprint(number.Decimal(f, number.Scale(2)))
}

// FormatEUR renders an amount followed by the euro sign.
func FormatEUR(d decimal.Decimal) string {
	return FormatAmount(d) + " €"
}

// FormatDate renders a date as DD.MM.YYYY.
func FormatDate(t time.Time) string {
	return t.Format("02.01.2006")
}
