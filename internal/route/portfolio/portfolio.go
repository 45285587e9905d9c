package portfolio

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dense-analysis/papertrade/internal/model"
	trading "github.com/dense-analysis/papertrade/internal/portfolio"
	"github.com/dense-analysis/papertrade/internal/quote"
	"github.com/dense-analysis/papertrade/internal/route/util"
	"github.com/dense-analysis/papertrade/internal/session"
	"github.com/dense-analysis/papertrade/internal/template"
)

// Engine is the trading engine the routes drive.
type Engine interface {
	Quote(ctx context.Context, symbol string) (model.Quote, error)
	Buy(ctx context.Context, userID int64, symbol string, shares int64) (model.TradeResult, error)
	Sell(ctx context.Context, userID int64, symbol string, shares int64) (model.TradeResult, error)
	View(ctx context.Context, userID int64) (model.PortfolioView, error)
	Holdings(ctx context.Context, userID int64) ([]model.Holding, error)
	History(ctx context.Context, userID int64) ([]model.Transaction, error)
}

type Routes struct {
	Engine Engine
}

type PortfolioPageData struct {
	util.Page
	View model.PortfolioView
}

type BuyPageData struct {
	util.Page
	Symbol string
}

type SellPageData struct {
	util.Page
	Holdings []model.Holding
}

type QuotedPageData struct {
	util.Page
	Quote model.Quote
}

type HistoryPageData struct {
	util.Page
	Transactions []model.Transaction
}

var loggedIn = util.Page{LoggedIn: true}

func loadUserID(writer http.ResponseWriter, request *http.Request) (int64, bool) {
	userID, ok := session.UserID(request.Context())

	if !ok {
		http.Redirect(writer, request, "/login", http.StatusFound)
	}

	return userID, ok
}

// readTrade reads the symbol and share count of a submitted trade form.
func readTrade(writer http.ResponseWriter, request *http.Request) (string, int64, bool) {
	request.ParseForm()
	symbol := quote.Normalize(request.Form.Get("symbol"))

	if symbol == "" {
		util.RespondValidationError(writer, "Invalid symbol")

		return "", 0, false
	}

	shares, err := trading.ParseShares(request.Form.Get("shares"))

	if err != nil {
		util.RespondEngineError(writer, err)

		return "", 0, false
	}

	return symbol, shares, true
}

// HandlePortfolio shows the user's positions valued at current prices.
func (routes *Routes) HandlePortfolio(writer http.ResponseWriter, request *http.Request) {
	userID, ok := loadUserID(writer, request)

	if !ok {
		return
	}

	view, err := routes.Engine.View(request.Context(), userID)

	if err != nil {
		util.RespondEngineError(writer, err)

		return
	}

	util.Render(writer, template.Portfolio, PortfolioPageData{loggedIn, view})
}

func (routes *Routes) HandleViewBuyForm(writer http.ResponseWriter, request *http.Request) {
	symbol := quote.Normalize(request.URL.Query().Get("symbol"))

	util.Render(writer, template.Buy, BuyPageData{loggedIn, symbol})
}

func (routes *Routes) HandleBuy(writer http.ResponseWriter, request *http.Request) {
	userID, ok := loadUserID(writer, request)

	if !ok {
		return
	}

	symbol, shares, ok := readTrade(writer, request)

	if !ok {
		return
	}

	result, err := routes.Engine.Buy(request.Context(), userID, symbol, shares)

	if err != nil {
		util.RespondEngineError(writer, err)

		return
	}

	log.Debug().Int64("transaction", result.Transaction.ID).Msg("bought")
	http.Redirect(writer, request, "/", http.StatusFound)
}

func (routes *Routes) HandleViewSellForm(writer http.ResponseWriter, request *http.Request) {
	userID, ok := loadUserID(writer, request)

	if !ok {
		return
	}

	holdings, err := routes.Engine.Holdings(request.Context(), userID)

	if err != nil {
		util.RespondEngineError(writer, err)

		return
	}

	util.Render(writer, template.Sell, SellPageData{loggedIn, holdings})
}

func (routes *Routes) HandleSell(writer http.ResponseWriter, request *http.Request) {
	userID, ok := loadUserID(writer, request)

	if !ok {
		return
	}

	symbol, shares, ok := readTrade(writer, request)

	if !ok {
		return
	}

	result, err := routes.Engine.Sell(request.Context(), userID, symbol, shares)

	if err != nil {
		util.RespondEngineError(writer, err)

		return
	}

	log.Debug().Int64("transaction", result.Transaction.ID).Msg("sold")
	http.Redirect(writer, request, "/", http.StatusFound)
}

func (routes *Routes) HandleViewQuoteForm(writer http.ResponseWriter, request *http.Request) {
	util.Render(writer, template.Quote, loggedIn)
}

func (routes *Routes) HandleQuote(writer http.ResponseWriter, request *http.Request) {
	request.ParseForm()
	symbol := quote.Normalize(request.Form.Get("symbol"))

	if symbol == "" {
		util.RespondValidationError(writer, "Invalid symbol")

		return
	}

	result, err := routes.Engine.Quote(request.Context(), symbol)

	if err != nil {
		util.RespondEngineError(writer, err)

		return
	}

	util.Render(writer, template.Quoted, QuotedPageData{loggedIn, result})
}

func (routes *Routes) HandleHistory(writer http.ResponseWriter, request *http.Request) {
	userID, ok := loadUserID(writer, request)

	if !ok {
		return
	}

	transactions, err := routes.Engine.History(request.Context(), userID)

	if err != nil {
		util.RespondEngineError(writer, err)

		return
	}

	util.Render(writer, template.History, HistoryPageData{loggedIn, transactions})
}
