package template

import (
	"embed"
	"html/template"
	"io"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

//go:embed html/*.tmpl
var files embed.FS

var hundred = decimal.NewFromInt(100)

// USD formats an amount as US dollars, rounded to the cent.
func USD(amount decimal.Decimal) string {
	return money.New(amount.Mul(hundred).Round(0).IntPart(), money.USD).Display()
}

var funcs = template.FuncMap{
	"usd": USD,
}

func parse(name string) *template.Template {
	return template.Must(
		template.New(name).Funcs(funcs).ParseFS(files, "html/base.tmpl", "html/"+name),
	)
}

var Apology = parse("apology.tmpl")
var Login = parse("login.tmpl")
var Register = parse("register.tmpl")
var Portfolio = parse("portfolio.tmpl")
var Buy = parse("buy.tmpl")
var Sell = parse("sell.tmpl")
var Quote = parse("quote.tmpl")
var Quoted = parse("quoted.tmpl")
var History = parse("history.tmpl")

func Render(tmpl *template.Template, writer io.Writer, data any) error {
	return tmpl.ExecuteTemplate(writer, "base", data)
}
