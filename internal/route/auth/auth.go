// Package auth defines routes for registering, logging in and logging out.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/dense-analysis/papertrade/internal/ledger"
	"github.com/dense-analysis/papertrade/internal/model"
	"github.com/dense-analysis/papertrade/internal/route/util"
	"github.com/dense-analysis/papertrade/internal/session"
	"github.com/dense-analysis/papertrade/internal/template"
)

// UserStore creates and finds users.
type UserStore interface {
	CreateUser(ctx context.Context, username, hash string, cash decimal.Decimal) (int64, error)
	FindUserByUsername(ctx context.Context, username string) (model.User, error)
}

type Routes struct {
	Users        UserStore
	Sessions     *session.Store
	BcryptCost   int
	StartingCash decimal.Decimal
}

// HashPassword hashes a password for storage.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)

	return string(hash), err
}

func (routes *Routes) HandleViewLoginForm(writer http.ResponseWriter, request *http.Request) {
	// Visiting the login page forgets any user.
	if err := routes.Sessions.Clear(writer, request); err != nil {
		util.RespondInternalServerError(writer, err)

		return
	}

	util.Render(writer, template.Login, util.Page{})
}

func (routes *Routes) HandleLogin(writer http.ResponseWriter, request *http.Request) {
	if err := routes.Sessions.Clear(writer, request); err != nil {
		util.RespondInternalServerError(writer, err)

		return
	}

	request.ParseForm()
	username := strings.TrimSpace(request.Form.Get("username"))
	password := request.Form.Get("password")

	if username == "" {
		util.RespondApology(writer, false, http.StatusForbidden, "must provide username")

		return
	}

	if password == "" {
		util.RespondApology(writer, false, http.StatusForbidden, "must provide password")

		return
	}

	user, err := routes.Users.FindUserByUsername(request.Context(), username)

	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		util.RespondInternalServerError(writer, err)

		return
	}

	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte(password)) != nil {
		util.RespondApology(writer, false, http.StatusForbidden, "invalid username and/or password")

		return
	}

	if err := routes.Sessions.SaveUserID(writer, request, user.ID); err != nil {
		util.RespondInternalServerError(writer, err)

		return
	}

	http.Redirect(writer, request, "/", http.StatusFound)
}

func (routes *Routes) HandleLogout(writer http.ResponseWriter, request *http.Request) {
	routes.Sessions.Clear(writer, request)
	http.Redirect(writer, request, "/", http.StatusFound)
}

func (routes *Routes) HandleViewRegisterForm(writer http.ResponseWriter, request *http.Request) {
	util.Render(writer, template.Register, util.Page{})
}

func (routes *Routes) HandleRegister(writer http.ResponseWriter, request *http.Request) {
	request.ParseForm()
	username := strings.TrimSpace(request.Form.Get("username"))
	password := request.Form.Get("password")

	if username == "" {
		util.RespondApology(writer, false, http.StatusBadRequest, "must provide username")

		return
	}

	if password == "" {
		util.RespondApology(writer, false, http.StatusBadRequest, "must provide password")

		return
	}

	if request.Form.Get("confirmation") != password {
		util.RespondApology(writer, false, http.StatusBadRequest, "confirmed password should be same as password")

		return
	}

	hash, err := HashPassword(password, routes.BcryptCost)

	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		util.RespondApology(writer, false, http.StatusBadRequest, "password must be at most 72 bytes")

		return
	} else if err != nil {
		util.RespondInternalServerError(writer, err)

		return
	}

	userID, err := routes.Users.CreateUser(request.Context(), username, hash, routes.StartingCash)

	if errors.Is(err, ledger.ErrUsernameTaken) {
		util.RespondApology(writer, false, http.StatusBadRequest, "User name already exists!")

		return
	} else if err != nil {
		util.RespondInternalServerError(writer, err)

		return
	}

	log.Info().Int64("user", userID).Str("username", username).Msg("registered")
	http.Redirect(writer, request, "/login", http.StatusFound)
}
