package wecom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onixbyte/helix/internal/audit"
	"github.com/onixbyte/helix/internal/auth"
	"github.com/onixbyte/helix/internal/obs"
)

const (
	// MsgRegistrationRequired tells the client to finish registration in WeCom.
	MsgRegistrationRequired = "Cannot find user. Please authorise to register via WeCom."

	msgMissingCode  = "WeCom authorisation code is required."
	msgInactiveUser = "Account is not active."

	defaultNotifyTimeout = 10 * time.Second
)

// Directory resolves codes to WeCom user ids and notifies unregistered users.
// *Client implements it.
type Directory interface {
	OpenID(ctx context.Context, code string) (string, error)
	SendRegisterMessage(ctx context.Context, audiences []string) error
}

var _ Directory = (*Client)(nil)

// Verifier authenticates WeCom OAuth codes. It never provisions accounts.
type Verifier struct {
	dir           Directory
	users         auth.UserStore
	logger        *zap.Logger
	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

var _ auth.Verifier = (*Verifier)(nil)

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithNotifyTimeout bounds each background registration notification.
func WithNotifyTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.notifyTimeout = d
		}
	}
}

// NewVerifier constructs a Verifier.
func NewVerifier(dir Directory, users auth.UserStore, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		dir:           dir,
		users:         users,
		logger:        zap.NewNop(),
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Supports(cred auth.Credential) bool {
	_, ok := cred.(*auth.WeComCodeCredential)
	return ok
}

func (v *Verifier) Authenticate(ctx context.Context, cred auth.Credential) (auth.User, error) {
	wc, ok := cred.(*auth.WeComCodeCredential)
	if !ok || wc == nil {
		return auth.User{}, auth.Internal("Cannot perform login due to server crashes.", fmt.Errorf("unexpected credential %T", cred))
	}
	code := strings.TrimSpace(string(wc.Code))
	wc.Erase()
	if code == "" {
		return auth.User{}, auth.BadRequest(msgMissingCode, nil)
	}

	openID, err := v.dir.OpenID(ctx, code)
	if err != nil {
		return auth.User{}, err
	}

	user, err := v.users.FindByIdentity(ctx, auth.ProviderWeCom, openID)
	if errors.Is(err, auth.ErrNotFound) {
		_ = audit.LogEvent(ctx, v.logger, "auth.registration.requested", map[string]any{
			"provider":   string(auth.ProviderWeCom),
			"wecom_user": openID,
		})
		v.notify(ctx, openID)
		return auth.User{}, auth.RegistrationRequired(MsgRegistrationRequired)
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("find wecom identity: %w", err)
	}
	if !user.Active() {
		return auth.User{}, auth.Unauthorized(msgInactiveUser, fmt.Errorf("user %d is %s", user.ID, user.Status))
	}
	return user.Sanitized(), nil
}

// notify sends the registration card in the background. The request context
// only contributes its values; cancellation of the login must not abort it.
func (v *Verifier) notify(ctx context.Context, openID string) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.notifyTimeout)
		defer cancel()
		if err := v.dir.SendRegisterMessage(nctx, []string{openID}); err != nil {
			obs.UpstreamRequest("wecom_register_notice", "failed")
			v.logger.Warn("registration notice failed", zap.String("wecom_user", openID), zap.Error(err))
			return
		}
		v.logger.Info("registration notice sent", zap.String("wecom_user", openID))
	}()
}

// Wait blocks until in-flight registration notices finish.
func (v *Verifier) Wait() {
	v.wg.Wait()
}
