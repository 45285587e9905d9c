// Package route wires every page of the site into one router.
package route

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dense-analysis/papertrade/internal/route/auth"
	"github.com/dense-analysis/papertrade/internal/route/portfolio"
	"github.com/dense-analysis/papertrade/internal/route/util"
	"github.com/dense-analysis/papertrade/internal/session"
)

// NewRouter builds the site. Every page except the login and register pages
// needs a user in the session.
func NewRouter(sessions *session.Store, authRoutes *auth.Routes, portfolioRoutes *portfolio.Routes) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(util.LogRequests, util.NoCache)

	private := func(handler http.HandlerFunc) http.Handler {
		return sessions.RequireUser(handler)
	}

	router.HandleFunc("/login", authRoutes.HandleViewLoginForm).Methods("GET")
	router.HandleFunc("/login", authRoutes.HandleLogin).Methods("POST")
	router.HandleFunc("/logout", authRoutes.HandleLogout).Methods("GET")
	router.HandleFunc("/register", authRoutes.HandleViewRegisterForm).Methods("GET")
	router.HandleFunc("/register", authRoutes.HandleRegister).Methods("POST")

	router.Handle("/", private(portfolioRoutes.HandlePortfolio)).Methods("GET")
	router.Handle("/buy", private(portfolioRoutes.HandleViewBuyForm)).Methods("GET")
	router.Handle("/buy", private(portfolioRoutes.HandleBuy)).Methods("POST")
	router.Handle("/sell", private(portfolioRoutes.HandleViewSellForm)).Methods("GET")
	router.Handle("/sell", private(portfolioRoutes.HandleSell)).Methods("POST")
	router.Handle("/quote", private(portfolioRoutes.HandleViewQuoteForm)).Methods("GET")
	router.Handle("/quote", private(portfolioRoutes.HandleQuote)).Methods("POST")
	router.Handle("/history", private(portfolioRoutes.HandleHistory)).Methods("GET")

	return router
}
