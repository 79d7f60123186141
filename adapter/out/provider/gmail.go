// Package provider implements the MailProvider port (C2, §4.2) against
// Gmail. Token handling, the per-call circuit breaker, and the MIME
// depth-first body/attachment extraction are grounded on the teacher's
// adapter/out/provider/worker_gmail_adapter.go, trimmed to the read/modify
// surface this system needs: no send, reply, forward, drafts, or calendar
// sync, per the non-goal that this system never composes mail on a user's
// behalf.
package provider

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
	"mailgrouper/pkg/crypto"
	"mailgrouper/pkg/ratelimit"
	"mailgrouper/pkg/resilience"
)

// GmailAdapter is the only wired MailProvider (§4.2 "the spec describes one
// concrete provider binding").
type GmailAdapter struct {
	oauthConfig *oauth2.Config
	users       out.UserRepository
	limiter     *ratelimit.RateLimiter
	breaker     *resilience.CircuitBreaker
}

func NewGmailAdapter(clientID, clientSecret, redirectURL string, users out.UserRepository, limiter *ratelimit.RateLimiter, log zerolog.Logger) *GmailAdapter {
	log = log.With().Str("component", "gmail_adapter").Logger()
	cfg := resilience.DefaultCircuitBreakerConfig("gmail")
	// A 401/403 means this user's own credentials are bad, not that Gmail is
	// down for everyone; do's refresh-then-retry-once already handles that
	// case, so it shouldn't also count against the shared breaker and trip
	// it for every other user's requests.
	cfg.ShouldTrip = func(err error) bool { return !isUnauthorized(err) && !isForbidden(err) }
	breaker := resilience.NewCircuitBreaker(cfg)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("gmail circuit breaker state change")
	})
	return &GmailAdapter{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{gmail.GmailModifyScope, gmail.GmailLabelsScope},
			Endpoint:     google.Endpoint,
		},
		users:   users,
		limiter: limiter,
		breaker: breaker,
	}
}

var _ out.MailProvider = (*GmailAdapter)(nil)
var _ out.CredentialRefresher = (*GmailAdapter)(nil)

// tokenFromUser decrypts u's stored credentials into an oauth2.Token. It
// never talks to Google; callers decide whether a refresh is needed.
func tokenFromUser(u *domain.User) (*oauth2.Token, error) {
	access, refresh, err := crypto.DecryptCredentialPair(u.Credentials.AccessTokenEnc, u.Credentials.RefreshTokenEnc)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	return &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: u.Credentials.ExpiresAt}, nil
}

// refresh exchanges the refresh token for a new access token and persists
// it. A failed refresh marks the user AuthExpired (§7) rather than retrying
// indefinitely.
func (a *GmailAdapter) refresh(ctx context.Context, u *domain.User, tok *oauth2.Token) (*oauth2.Token, error) {
	fresh, err := a.oauthConfig.TokenSource(ctx, tok).Token()
	if err != nil {
		u.MarkAuthExpired()
		_ = a.users.Save(ctx, u)
		return nil, apperr.AuthExpired(u.ID)
	}
	refreshToken := fresh.RefreshToken
	if refreshToken == "" {
		refreshToken = tok.RefreshToken
	}
	accessEnc, refreshEnc, err := crypto.EncryptCredentialPair(fresh.AccessToken, refreshToken)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	u.RotateCredentials(domain.Credentials{AccessTokenEnc: accessEnc, RefreshTokenEnc: refreshEnc, ExpiresAt: fresh.Expiry})
	if err := a.users.Save(ctx, u); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Refresh implements CredentialRefresher for callers (the watch coordinator,
// admin tooling) that only need fresh credentials, not a live service.
func (a *GmailAdapter) Refresh(ctx context.Context, userID string) (domain.Credentials, error) {
	u, err := a.users.Get(ctx, userID)
	if err != nil {
		return domain.Credentials{}, err
	}
	tok, err := tokenFromUser(u)
	if err != nil {
		return domain.Credentials{}, err
	}
	fresh, err := a.refresh(ctx, u, tok)
	if err != nil {
		return domain.Credentials{}, err
	}
	_ = fresh
	return u.Credentials, nil
}

func (a *GmailAdapter) serviceFor(ctx context.Context, tok *oauth2.Token) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(a.oauthConfig.TokenSource(ctx, tok)))
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}
	return svc, nil
}

// do acquires rate-limit budget, builds a service for userID, runs fn behind
// the circuit breaker, and on a 401 refreshes the token exactly once before
// retrying — the refresh-then-retry-once contract of §4.2.
func (a *GmailAdapter) do(ctx context.Context, userID string, kind ratelimit.Kind, fn func(*gmail.Service) error) error {
	if res := a.limiter.Acquire(ctx, userID, kind); !res.OK {
		return apperr.RateLimited(res.RetryAfterMs)
	}

	u, err := a.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u.AuthExpired {
		return apperr.AuthExpired(userID)
	}
	tok, err := tokenFromUser(u)
	if err != nil {
		return err
	}
	if u.Credentials.ExpiresWithin(2 * time.Minute) {
		if tok, err = a.refresh(ctx, u, tok); err != nil {
			return err
		}
	}

	svc, err := a.serviceFor(ctx, tok)
	if err != nil {
		return err
	}

	runErr := a.breaker.Execute(func() error { return fn(svc) })
	if runErr == nil {
		return nil
	}
	if !isUnauthorized(runErr) {
		return mapGmailError(runErr)
	}

	fresh, err := a.refresh(ctx, u, tok)
	if err != nil {
		return err
	}
	svc2, err := a.serviceFor(ctx, fresh)
	if err != nil {
		return err
	}
	if err := a.breaker.Execute(func() error { return fn(svc2) }); err != nil {
		return mapGmailError(err)
	}
	return nil
}

func isUnauthorized(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 401
	}
	return false
}

func isForbidden(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 403
	}
	return false
}

// mapGmailError implements §4.2/§7's status mapping: 429 -> RateLimited,
// 403 quota_exceeded -> fatal-for-user, everything else -> ExternalError.
func mapGmailError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 429:
			return apperr.RateLimited(1000)
		case 403:
			if strings.Contains(strings.ToLower(gerr.Message), "quota") {
				return apperr.Forbidden("gmail quota exceeded for this account")
			}
			return apperr.Forbidden(gerr.Message)
		case 401:
			return apperr.AuthExpired("")
		case 404:
			return apperr.NotFound("gmail resource")
		}
		return apperr.ExternalError("gmail", gerr)
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequest) {
		return apperr.ExternalError("gmail", err)
	}
	return apperr.ExternalError("gmail", err)
}

func (a *GmailAdapter) Profile(ctx context.Context, userID string) (*out.ProviderProfile, error) {
	var profile *gmail.Profile
	err := a.do(ctx, userID, ratelimit.KindRead, func(svc *gmail.Service) error {
		p, err := svc.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out.ProviderProfile{
		EmailAddress:  profile.EmailAddress,
		HistoryID:     strconv.FormatUint(profile.HistoryId, 10),
		MessagesTotal: profile.MessagesTotal,
	}, nil
}

func (a *GmailAdapter) ListMessages(ctx context.Context, userID string, q out.ListQuery) (*out.ListResult, error) {
	var result out.ListResult
	err := a.do(ctx, userID, ratelimit.KindRead, func(svc *gmail.Service) error {
		call := svc.Users.Messages.List("me").Context(ctx)
		if q.Query != "" {
			call = call.Q(q.Query)
		}
		if q.PageSize > 0 {
			call = call.MaxResults(int64(q.PageSize))
		}
		if q.Cursor != "" {
			call = call.PageToken(q.Cursor)
		}
		resp, err := call.Do()
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		result = out.ListResult{MessageIDs: ids, NextCursor: resp.NextPageToken}
		return nil
	})
	return &result, err
}

func (a *GmailAdapter) FetchMessage(ctx context.Context, userID, messageID string, includeBody bool) (*domain.Message, error) {
	format := "metadata"
	if includeBody {
		format = "full"
	}
	var msg *gmail.Message
	err := a.do(ctx, userID, ratelimit.KindRead, func(svc *gmail.Service) error {
		m, err := svc.Users.Messages.Get("me", messageID).Format(format).Context(ctx).Do()
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convertMessage(msg), nil
}

func (a *GmailAdapter) ListLabels(ctx context.Context, userID string) ([]out.ProviderLabel, error) {
	var labels []out.ProviderLabel
	err := a.do(ctx, userID, ratelimit.KindRead, func(svc *gmail.Service) error {
		resp, err := svc.Users.Labels.List("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		labels = make([]out.ProviderLabel, 0, len(resp.Labels))
		for _, l := range resp.Labels {
			typ := "user"
			if l.Type == "system" {
				typ = "system"
			}
			labels = append(labels, out.ProviderLabel{ID: l.Id, Name: l.Name, Type: typ})
		}
		return nil
	})
	return labels, err
}

func (a *GmailAdapter) CreateLabel(ctx context.Context, userID, name string) (*out.ProviderLabel, error) {
	var created *gmail.Label
	err := a.do(ctx, userID, ratelimit.KindWrite, func(svc *gmail.Service) error {
		c, err := svc.Users.Labels.Create("me", &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out.ProviderLabel{ID: created.Id, Name: created.Name, Type: "user"}, nil
}

func (a *GmailAdapter) ModifyMessage(ctx context.Context, userID, messageID string, add, remove []string) error {
	return a.do(ctx, userID, ratelimit.KindWrite, func(svc *gmail.Service) error {
		_, err := svc.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}).Context(ctx).Do()
		return err
	})
}

func (a *GmailAdapter) BatchModify(ctx context.Context, userID string, messageIDs []string, add, remove []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return a.do(ctx, userID, ratelimit.KindWrite, func(svc *gmail.Service) error {
		return svc.Users.Messages.BatchModify("me", &gmail.BatchModifyMessagesRequest{
			Ids:            messageIDs,
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}).Context(ctx).Do()
	})
}

func (a *GmailAdapter) StartWatch(ctx context.Context, userID, topic string, labelFilter []string) (*out.WatchResult, error) {
	var resp *gmail.WatchResponse
	err := a.do(ctx, userID, ratelimit.KindWrite, func(svc *gmail.Service) error {
		req := &gmail.WatchRequest{TopicName: topic}
		if len(labelFilter) > 0 {
			req.LabelIds = labelFilter
		}
		r, err := svc.Users.Watch("me", req).Context(ctx).Do()
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out.WatchResult{
		Topic:         topic,
		HistoryCursor: strconv.FormatUint(resp.HistoryId, 10),
		ExpiresAt:     time.UnixMilli(resp.Expiration),
	}, nil
}

func (a *GmailAdapter) StopWatch(ctx context.Context, userID string) error {
	return a.do(ctx, userID, ratelimit.KindWrite, func(svc *gmail.Service) error {
		return svc.Users.Stop("me").Context(ctx).Do()
	})
}

// GetHistory implements the incremental-poll half of C3 (§4.3). An empty
// cursor means "cold start": there is nothing to diff against yet, so it
// just anchors on the mailbox's current historyId. A 404 means Gmail has
// aged the cursor out of its retention window; fn reports that as a
// PersistenceConflict, which do's mapGmailError then wraps in an
// ExternalError like any other non-googleapi error. No full re-poll runs
// on that error, here or in the watch coordinator.
func (a *GmailAdapter) GetHistory(ctx context.Context, userID, sinceCursor string) (*out.HistoryResult, error) {
	if sinceCursor == "" {
		profile, err := a.Profile(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &out.HistoryResult{NextCursor: profile.HistoryID}, nil
	}
	startHistoryID, perr := strconv.ParseUint(sinceCursor, 10, 64)
	if perr != nil {
		return nil, apperr.BadRequest("invalid history cursor")
	}

	var ids []string
	nextCursor := sinceCursor
	err := a.do(ctx, userID, ratelimit.KindRead, func(svc *gmail.Service) error {
		pageToken := ""
		for {
			call := svc.Users.History.List("me").StartHistoryId(startHistoryID).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			if err != nil {
				var gerr *googleapi.Error
				if errors.As(err, &gerr) && gerr.Code == 404 {
					return apperr.PersistenceConflict("history cursor expired")
				}
				return err
			}
			for _, h := range resp.History {
				for _, added := range h.MessagesAdded {
					if added.Message != nil {
						ids = append(ids, added.Message.Id)
					}
				}
			}
			if resp.HistoryId != 0 {
				nextCursor = strconv.FormatUint(resp.HistoryId, 10)
			}
			if resp.NextPageToken == "" {
				return nil
			}
			pageToken = resp.NextPageToken
		}
	})
	if err != nil {
		return nil, err
	}
	return &out.HistoryResult{NewMessageIDs: dedupStrings(ids), NextCursor: nextCursor}, nil
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func parseEmailAddress(raw string) domain.EmailAddress {
	if raw == "" {
		return domain.EmailAddress{}
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return domain.EmailAddress{Mailbox: strings.TrimSpace(raw)}
	}
	return domain.EmailAddress{Name: addr.Name, Mailbox: addr.Address}
}

func parseEmailAddresses(raw string) []domain.EmailAddress {
	if raw == "" {
		return nil
	}
	list, err := mail.ParseAddressList(raw)
	if err != nil {
		return []domain.EmailAddress{parseEmailAddress(raw)}
	}
	out := make([]domain.EmailAddress, 0, len(list))
	for _, a := range list {
		out = append(out, domain.EmailAddress{Name: a.Name, Mailbox: a.Address})
	}
	return out
}
