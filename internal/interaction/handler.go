package interaction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jamesacres/bubblyclouds-auth/internal/account"
	"github.com/jamesacres/bubblyclouds-auth/internal/federated"
	"github.com/jamesacres/bubblyclouds-auth/internal/identity"
	"github.com/jamesacres/bubblyclouds-auth/internal/logging"
	"github.com/jamesacres/bubblyclouds-auth/internal/mailer"
	"github.com/jamesacres/bubblyclouds-auth/internal/metrics"
	"github.com/jamesacres/bubblyclouds-auth/internal/util"
)

const (
	promptLogin   = "login"
	promptConsent = "consent"

	methodEmail = "email"
)

var errConsentUnsupported = errors.New("consent prompt is not supported")

// CodeService issues and checks one-time sign-in codes.
type CodeService interface {
	Issue(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, code string) (bool, error)
}

// AccountResolver maps proven identities to accounts.
type AccountResolver interface {
	Resolve(ctx context.Context, ident *identity.Identity) (*account.Account, error)
	ResolveEmail(ctx context.Context, email string) (*account.Account, error)
}

// ProviderSource hands out federated providers by name.
type ProviderSource interface {
	Names() []string
	Get(ctx context.Context, name string) (federated.Provider, error)
}

// Config controls URLs and cookies produced by the handler.
type Config struct {
	// MountPath is the prefix the routes are served under, e.g. "/oidc".
	MountPath     string
	ProductName   string
	SecureCookies bool
}

type Option func(*Handler)

func WithMetrics(m metrics.Recorder) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler serves the login interaction pages.
type Handler struct {
	engine    Engine
	codes     CodeService
	accounts  AccountResolver
	providers ProviderSource
	sender    mailer.Sender
	cfg       Config
	metrics   metrics.Recorder
}

func NewHandler(engine Engine, codes CodeService, accounts AccountResolver, providers ProviderSource, sender mailer.Sender, cfg Config, opts ...Option) *Handler {
	cfg.MountPath = strings.TrimSuffix(cfg.MountPath, "/")
	if cfg.ProductName == "" {
		cfg.ProductName = "Bubbly Clouds"
	}
	h := &Handler{
		engine:    engine,
		codes:     codes,
		accounts:  accounts,
		providers: providers,
		sender:    sender,
		cfg:       cfg,
		metrics:   metrics.Nop{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the interaction router. submit wraps the endpoints that
// accept credentials, typically with a rate limiter.
func (h *Handler) Routes(submit ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/interaction/callback/{provider}", h.callback)
	r.Post("/interaction/callback/{provider}", h.callback)

	r.Get("/interaction/{uid}", h.show)
	r.With(submit...).Post("/interaction/{uid}", h.submit)
	r.Get("/interaction/{uid}/federated/{provider}", h.federatedRedirect)
	r.With(submit...).Post("/interaction/{uid}/federated", h.federatedComplete)
	r.Post("/interaction/{uid}/confirm", h.confirm)
	r.Get("/interaction/{uid}/abort", h.abort)
	return r
}

// GET /interaction/{uid}
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	d, err := h.step(r, EventLoginPrompt)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderLogin(w, http.StatusOK, d, AwaitingEmail, "", "")
}

// POST /interaction/{uid}
// Email alone sends a code. Email and code completes the login.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, identity.InvalidRequest("malformed form"))
		return
	}
	code := strings.TrimSpace(r.PostFormValue("code"))
	ev := EventEmailSubmitted
	if code != "" {
		ev = EventCodeAccepted
	}
	d, err := h.step(r, ev)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	email, err := util.NormalizeEmail(r.PostFormValue("email"))
	if err != nil {
		h.renderLogin(w, http.StatusBadRequest, d, AwaitingEmail, r.PostFormValue("email"), identity.Describe(err))
		return
	}

	if code == "" {
		h.sendCode(w, r, d, email)
		return
	}

	ok, err := h.codes.Verify(ctx, email, code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.metrics.RecordLogin(methodEmail, "rejected")
		log.Printf("[Interaction] %s code rejected for %s", h.reqID(r), d.UID)
		h.renderLogin(w, http.StatusOK, d, AwaitingCode, email, "Invalid code, please try again.")
		return
	}

	acct, err := h.accounts.ResolveEmail(ctx, email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.finishLogin(w, r, d.UID, methodEmail, acct)
}

func (h *Handler) sendCode(w http.ResponseWriter, r *http.Request, d *Details, email string) {
	ctx := r.Context()
	code, err := h.codes.Issue(ctx, email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg, err := mailer.SignInCodeMessage(h.cfg.ProductName, email, code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.sender.SendEmail(ctx, msg); err != nil {
		// The user can ask for the same code again.
		log.Printf("[Interaction] ⚠️ %s sign in code delivery failed for %s: %v", h.reqID(r), d.UID, err)
	}
	h.renderLogin(w, http.StatusOK, d, AwaitingCode, email, "")
}

// GET /interaction/{uid}/federated/{provider}
func (h *Handler) federatedRedirect(w http.ResponseWriter, r *http.Request) {
	d, err := h.step(r, EventProviderChosen)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := chi.URLParam(r, "provider")
	p, err := h.providers.Get(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	nonce := util.RandomHex(32)
	http.SetCookie(w, h.nonceCookie(d.UID, name, nonce))
	next, _ := Advance(AwaitingFederatedRedirect, EventRedirected)
	log.Printf("[Interaction] %s %s -> %s via %s", h.reqID(r), d.UID, next, name)
	http.Redirect(w, r, p.AuthorizationURL(d.UID, nonce, federated.DefaultScopes), http.StatusSeeOther)
}

// GET|POST /interaction/callback/{provider}
// Renders a page that reposts the upstream response, from the query,
// fragment or form body, to the interaction it belongs to.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	if !h.knownProvider(name) {
		h.fail(w, r, fmt.Errorf("%w: %s", federated.ErrUnknownProvider, name))
		return
	}
	fields := make(map[string]string)
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			h.fail(w, r, identity.InvalidRequest("malformed form"))
			return
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
	}

	nonce := util.RandomBase64(16)
	w.Header().Set("Content-Security-Policy",
		fmt.Sprintf("default-src 'none'; script-src 'nonce-%s'; form-action 'self'", nonce))
	render(w, http.StatusOK, "repost", repostView{
		Nonce:    nonce,
		Mount:    h.cfg.MountPath,
		Upstream: name,
		Fields:   fields,
	})
}

// POST /interaction/{uid}/federated
func (h *Handler) federatedComplete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, identity.InvalidRequest("malformed form"))
		return
	}
	d, err := h.step(r, EventCallbackVerified)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := r.PostFormValue("upstream")
	if name == "" {
		h.fail(w, r, identity.InvalidRequest("missing upstream"))
		return
	}
	ctx := r.Context()
	p, err := h.providers.Get(ctx, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var nonce string
	if c, err := r.Cookie(name + ".nonce"); err == nil {
		nonce = c.Value
	}
	expired := h.nonceCookie(d.UID, name, "")
	expired.MaxAge = -1
	http.SetCookie(w, expired)

	params := make(url.Values, len(r.PostForm))
	for k, v := range r.PostForm {
		if k != "upstream" {
			params[k] = v
		}
	}

	ident, err := p.ExchangeCallback(ctx, params, nonce, d.UID)
	if err != nil {
		h.metrics.RecordLogin(name, "rejected")
		h.fail(w, r, err)
		return
	}
	acct, err := h.accounts.Resolve(ctx, ident)
	if err != nil {
		h.metrics.RecordLogin(name, "rejected")
		h.fail(w, r, err)
		return
	}
	h.finishLogin(w, r, d.UID, name, acct)
}

// POST /interaction/{uid}/confirm
func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	d, err := h.details(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if d.Prompt.Name != promptConsent {
		h.fail(w, r, identity.InvalidRequest("unexpected prompt "+d.Prompt.Name))
		return
	}
	h.fail(w, r, errConsentUnsupported)
}

// GET /interaction/{uid}/abort
func (h *Handler) abort(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	d, err := h.engine.Details(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := Advance(StateOf(d), EventAbortRequested); err != nil {
		h.fail(w, r, identity.InvalidRequest(err.Error()))
		return
	}
	if err := h.engine.Finish(w, r, uid, AbortResult()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.RecordLogin("abort", "aborted")
	log.Printf("[Interaction] %s %s -> %s", h.reqID(r), uid, Aborted)
}

func (h *Handler) finishLogin(w http.ResponseWriter, r *http.Request, uid, method string, acct *account.Account) {
	result := Result{Login: &LoginResult{AccountID: acct.AccountID, Remember: true}}
	if err := h.engine.Finish(w, r, uid, result); err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.RecordLogin(method, "success")
	log.Printf("[Interaction] ✅ %s %s -> %s as %s via %s", h.reqID(r), uid, Resolved, acct.AccountID, method)
}

func (h *Handler) details(r *http.Request) (*Details, error) {
	return h.engine.Details(r.Context(), chi.URLParam(r, "uid"))
}

// step loads the interaction, requires the login prompt and checks that
// ev is allowed from its current state.
func (h *Handler) step(r *http.Request, ev Event) (*Details, error) {
	d, err := h.details(r)
	if err != nil {
		return nil, err
	}
	switch d.Prompt.Name {
	case promptLogin:
	case promptConsent:
		return nil, errConsentUnsupported
	default:
		return nil, identity.InvalidRequest("unexpected prompt " + d.Prompt.Name)
	}
	if _, err := Advance(StateOf(d), ev); err != nil {
		return nil, identity.InvalidRequest(err.Error())
	}
	return d, nil
}

func (h *Handler) renderLogin(w http.ResponseWriter, status int, d *Details, state State, email, errMsg string) {
	base := h.cfg.MountPath + "/interaction/" + url.PathEscape(d.UID)
	view := loginView{
		Title:    "Sign in to " + h.cfg.ProductName,
		State:    state,
		Email:    email,
		Error:    errMsg,
		Action:   base,
		AbortURL: base + "/abort",
	}
	for _, name := range h.providers.Names() {
		view.Providers = append(view.Providers, providerLink{
			Label: providerLabel(name),
			URL:   base + "/federated/" + url.PathEscape(name),
		})
	}
	render(w, status, "login", view)
}

func (h *Handler) nonceCookie(uid, provider, value string) *http.Cookie {
	return &http.Cookie{
		Name:     provider + ".nonce",
		Value:    value,
		Path:     h.cfg.MountPath + "/interaction/" + url.PathEscape(uid) + "/federated",
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}

func (h *Handler) knownProvider(name string) bool {
	for _, n := range h.providers.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// fail maps err onto a status and a page that reveals nothing internal.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "Something went wrong. Please try again."
	switch {
	case errors.Is(err, identity.ErrInvalidRequest):
		status = http.StatusBadRequest
		if desc := identity.Describe(err); desc != "" {
			msg = desc
		}
	case errors.Is(err, identity.ErrInvalidToken):
		status = http.StatusUnauthorized
		msg = "We could not verify your sign in. Please try again."
	case errors.Is(err, ErrInteractionNotFound):
		status = http.StatusBadRequest
		msg = "This sign in has expired. Please start again."
	case errors.Is(err, federated.ErrUnknownProvider):
		status = http.StatusNotFound
		msg = "Unknown sign in provider."
	}

	detail := util.TruncateLog(err.Error(), util.DefaultLogMaxLen)
	if status < http.StatusInternalServerError {
		log.Printf("[Interaction] ⚠️ %s %s %s: %d %s", h.reqID(r), r.Method, r.URL.Path, status, detail)
	} else {
		log.Printf("[Interaction] ❌ %s %s %s: %d %s", h.reqID(r), r.Method, r.URL.Path, status, detail)
	}
	render(w, status, "error", errorView{Title: h.cfg.ProductName, Message: msg})
}

func (h *Handler) reqID(r *http.Request) string {
	if id := logging.GetRequestID(r.Context()); id != "" {
		return "[" + id + "]"
	}
	return "[-]"
}

func providerLabel(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
