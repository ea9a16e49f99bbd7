package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	integrationRepo "psychology/database/repository/integration"
	"psychology/models"
	"psychology/utils"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

// refreshLeeway refreshes the access token this long before it expires.
const refreshLeeway = 60 * time.Second

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	HTTPTimeout  time.Duration
}

// OAuthService runs the Google authorization-code flow and hands out
// authorised calendar clients, persisting refreshed tokens encrypted.
type OAuthService struct {
	config       *oauth2.Config
	httpTimeout  time.Duration
	integrations IntegrationStore
	cipher       *TokenCipher
	clock        utils.Clock
	logger       *zap.Logger
	newAPI       func(ctx context.Context, ts oauth2.TokenSource, timeout time.Duration) (CalendarAPI, error)
}

func NewOAuthService(cfg OAuthConfig, integrations IntegrationStore, cipher *TokenCipher, clock utils.Clock, logger *zap.Logger) *OAuthService {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthService{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gcal.CalendarScope},
			Endpoint:     google.Endpoint,
		},
		httpTimeout:  cfg.HTTPTimeout,
		integrations: integrations,
		cipher:       cipher,
		clock:        clock,
		logger:       logger,
		newAPI:       NewGoogleCalendarAPI,
	}
}

// AuthURL returns the consent URL and marks the integration pending.
func (o *OAuthService) AuthURL(ctx context.Context, state string) (string, error) {
	if err := o.integrations.SetStatus(ctx, models.IntegrationPending, o.clock.Now()); err != nil {
		return "", err
	}
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades the authorization code for tokens, stores them and
// discovers the primary calendar.
func (o *OAuthService) Exchange(ctx context.Context, code string) error {
	tok, err := o.config.Exchange(o.httpContext(ctx), code)
	if err != nil {
		_ = o.integrations.SetStatus(ctx, models.IntegrationError, o.clock.Now())
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := o.saveToken(ctx, tok, models.IntegrationConnected); err != nil {
		return err
	}

	integration, err := o.integrations.GetPrimary(ctx)
	if err != nil {
		return err
	}
	api, err := o.ForIntegration(ctx, integration)
	if err != nil {
		return err
	}
	calendarID, timezone, err := api.PrimaryCalendar(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover primary calendar: %w", err)
	}
	o.logger.Info("Google Calendar connected", zap.String("calendarId", calendarID), zap.String("timezone", timezone))
	return o.integrations.SetCalendar(ctx, calendarID, timezone, o.clock.Now())
}

// ForIntegration builds a client from the stored tokens.
func (o *OAuthService) ForIntegration(ctx context.Context, integration *models.GoogleCalendarIntegration) (CalendarAPI, error) {
	if integration == nil || integration.Status != models.IntegrationConnected {
		return nil, ErrNotConnected
	}
	access, err := o.cipher.Decrypt(integration.EncryptedAccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := o.cipher.Decrypt(integration.EncryptedRefreshToken)
	if err != nil {
		return nil, err
	}
	if refresh == "" && access == "" {
		return nil, ErrNotConnected
	}

	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if integration.TokenExpiresAt != nil {
		tok.Expiry = *integration.TokenExpiresAt
	}

	refresher := o.config.TokenSource(o.httpContext(context.Background()), &oauth2.Token{RefreshToken: refresh})
	src := &persistingTokenSource{
		src:  oauth2.ReuseTokenSourceWithExpiry(tok, refresher, refreshLeeway),
		last: access,
		save: func(t *oauth2.Token) error {
			return o.saveToken(context.Background(), t, "")
		},
		onError: func(err error) {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) && !IsRetryable(err) {
				_ = o.integrations.SetStatus(context.Background(), models.IntegrationError, o.clock.Now())
			}
		},
		logger: o.logger,
	}
	return o.newAPI(ctx, src, o.httpTimeout)
}

func (o *OAuthService) saveToken(ctx context.Context, tok *oauth2.Token, status models.IntegrationStatus) error {
	access, err := o.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := o.cipher.Encrypt(tok.RefreshToken)
	if err != nil {
		return err
	}
	return o.integrations.SaveTokens(ctx, integrationRepo.TokenUpdate{
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		ExpiresAt:             tok.Expiry,
		Status:                status,
	}, o.clock.Now())
}

func (o *OAuthService) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: o.httpTimeout})
}

// persistingTokenSource stores every newly minted access token.
type persistingTokenSource struct {
	mu      sync.Mutex
	src     oauth2.TokenSource
	last    string
	save    func(*oauth2.Token) error
	onError func(error)
	logger  *zap.Logger
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.src.Token()
	if err != nil {
		p.logger.Warn("Google token refresh failed", zap.Error(err))
		if p.onError != nil {
			p.onError(err)
		}
		return nil, err
	}
	if tok.AccessToken != p.last {
		if err := p.save(tok); err != nil {
			p.logger.Warn("Failed to persist refreshed Google token", zap.Error(err))
		} else {
			p.last = tok.AccessToken
		}
	}
	return tok, nil
}
