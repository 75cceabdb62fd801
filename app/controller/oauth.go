package controller

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpdto "github.com/vibast-solutions/ms-go-session-auth/app/dto/http"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"
	"github.com/vibast-solutions/ms-go-session-auth/config"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

	oauthStateCookie    = "oauth_state"
	oauthVerifierCookie = "oauth_verifier"
	oauthCookiePath     = "/auth/google"
)

type googleUserInfo struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

type GoogleOAuthController struct {
	oauth       *oauth2.Config
	userInfoURL string
	linker      service.OAuthLinker
	cookies     *SessionCookies
	successURL  string
	stateTTL    time.Duration
	secure      bool
}

func NewGoogleOAuthController(cfg *config.Config, linker service.OAuthLinker, cookies *SessionCookies) *GoogleOAuthController {
	stateTTL := cfg.OAuth.StateTTL
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &GoogleOAuthController{
		oauth: &oauth2.Config{
			ClientID:     cfg.OAuth.Google.ClientID,
			ClientSecret: cfg.OAuth.Google.ClientSecret,
			RedirectURL:  cfg.OAuth.Google.CallbackURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: GoogleUserInfoURL,
		linker:      linker,
		cookies:     cookies,
		successURL:  cfg.App.FrontendURL + cfg.OAuth.SuccessPath,
		stateTTL:    stateTTL,
		secure:      cfg.Cookie.Secure,
	}
}

// WithEndpoint points the controller at another provider deployment.
func (c *GoogleOAuthController) WithEndpoint(endpoint oauth2.Endpoint, userInfoURL string) *GoogleOAuthController {
	c.oauth.Endpoint = endpoint
	c.userInfoURL = userInfoURL
	return c
}

func (c *GoogleOAuthController) Redirect(ctx echo.Context) error {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	ctx.SetCookie(c.flowCookie(oauthStateCookie, state, c.stateTTL))
	ctx.SetCookie(c.flowCookie(oauthVerifierCookie, verifier, c.stateTTL))

	authURL := c.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
	logrus.Debug("Redirecting to Google OAuth consent")
	return ctx.Redirect(http.StatusFound, authURL)
}

func (c *GoogleOAuthController) Callback(ctx echo.Context) error {
	if errParam := ctx.QueryParam("error"); errParam != "" {
		logrus.WithField("error", errParam).Warn("Google OAuth denied")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "oauth authorization denied"})
	}

	code := ctx.QueryParam("code")
	state := ctx.QueryParam("state")
	if code == "" || state == "" {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "missing code or state"})
	}

	stateCookie, err := ctx.Cookie(oauthStateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		logrus.Warn("Google OAuth callback with invalid state")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid state"})
	}
	verifierCookie, err := ctx.Cookie(oauthVerifierCookie)
	if err != nil || verifierCookie.Value == "" {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid state"})
	}
	ctx.SetCookie(c.flowCookie(oauthStateCookie, "", -1))
	ctx.SetCookie(c.flowCookie(oauthVerifierCookie, "", -1))

	reqCtx := ctx.Request().Context()
	token, err := c.oauth.Exchange(reqCtx, code, oauth2.VerifierOption(verifierCookie.Value))
	if err != nil {
		logrus.WithError(err).Warn("Google OAuth code exchange failed")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "failed to exchange authorization code"})
	}

	identity, err := c.fetchIdentity(reqCtx, token)
	if err != nil {
		logrus.WithError(err).Warn("Google OAuth profile fetch failed")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "failed to fetch provider profile"})
	}

	result, err := c.linker.LoginWithIdentity(reqCtx, identity)
	if err != nil {
		if errors.Is(err, service.ErrEmailNotVerified) || errors.Is(err, service.ErrInvalidCredentials) {
			logrus.WithField("email", identity.Email).Warn("Google OAuth login rejected")
			return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
		}
		logrus.WithError(err).WithField("email", identity.Email).Error("Google OAuth login failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	c.cookies.Set(ctx, result.Tokens)
	logrus.WithField("user_id", result.User.ID).Info("Google OAuth login successful")
	return ctx.Redirect(http.StatusFound, c.successURL)
}

func (c *GoogleOAuthController) fetchIdentity(ctx context.Context, token *oauth2.Token) (service.ExternalIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return service.ExternalIdentity{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return service.ExternalIdentity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return service.ExternalIdentity{}, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err = json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return service.ExternalIdentity{}, err
	}

	return service.ExternalIdentity{
		Provider:      "google",
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		FirstName:     info.GivenName,
		LastName:      info.FamilyName,
		AvatarURL:     info.Picture,
	}, nil
}

func (c *GoogleOAuthController) flowCookie(name, value string, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     oauthCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
