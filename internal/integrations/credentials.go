package integrations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/store/schema"
	"github.com/ecommind/engine/internal/vault"
)

// refreshSkew is how long before expiry a token is refreshed proactively,
// so a request never leaves with a token about to die mid-flight
const refreshSkew = 5 * time.Minute

// RefreshFunc rotates a refresh token at the vendor and returns the new set.
// Vendor specifics (Shopee's shop_id, Bling's Basic auth) are bound by the
// caller before the manager sees it.
type RefreshFunc func(ctx context.Context, refreshToken string) (*domain.TokenSet, error)

// Store is the slice of the data layer the factory and credential manager need
type Store interface {
	GetIntegration(ctx context.Context, companyID uuid.UUID, vendor string) (*schema.IntegrationCredential, error)
	UpdateIntegrationTokens(ctx context.Context, cred *schema.IntegrationCredential) error
	UpsertIntegration(ctx context.Context, cred *schema.IntegrationCredential) error
}

// CredentialManager serves decrypted access tokens for one company's vendor
// integration and implements requester.TokenSource. Tokens are refreshed
// proactively near expiry and rotated tokens are persisted re-encrypted
// before being handed out. A vault decryption failure is fatal configuration
// damage and surfaces as domain.ErrDecryptFailed, never as "not connected".
type CredentialManager struct {
	store     Store
	vault     *vault.Vault
	clock     adapter.Clock
	refresh   RefreshFunc
	companyID uuid.UUID
	vendor    domain.Vendor

	mu sync.Mutex
}

// NewCredentialManager creates a manager bound to one (company, vendor) integration
func NewCredentialManager(store Store, v *vault.Vault, clock adapter.Clock, refresh RefreshFunc, companyID uuid.UUID, vendor domain.Vendor) *CredentialManager {
	return &CredentialManager{
		store:     store,
		vault:     v,
		clock:     clock,
		refresh:   refresh,
		companyID: companyID,
		vendor:    vendor,
	}
}

// AccessToken returns a usable access token, refreshing first when the
// stored one expires within the skew window
func (m *CredentialManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.load(ctx)
	if err != nil {
		return "", err
	}

	if m.clock.Now().Add(refreshSkew).Before(cred.ExpiresAt) {
		return m.vault.Decrypt(accessToken(cred))
	}

	logger.InfoCtx(ctx, "access token near expiry, refreshing",
		zap.String("vendor", string(m.vendor)),
		zap.String("company_id", m.companyID.String()))
	return m.rotate(ctx, cred)
}

// ForceRefresh rotates the token unconditionally after the vendor rejected
// it with a 401
func (m *CredentialManager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.load(ctx)
	if err != nil {
		return "", err
	}

	logger.WarnCtx(ctx, "vendor rejected access token, forcing refresh",
		zap.String("vendor", string(m.vendor)),
		zap.String("company_id", m.companyID.String()))
	return m.rotate(ctx, cred)
}

func (m *CredentialManager) load(ctx context.Context) (*schema.IntegrationCredential, error) {
	cred, err := m.store.GetIntegration(ctx, m.companyID, string(m.vendor))
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.ErrIntegrationNotFound
	}
	if !cred.Enabled {
		return nil, domain.ErrIntegrationDisabled
	}
	return cred, nil
}

// rotate refreshes at the vendor, persists the re-encrypted pair, and only
// then returns the new access token. Persist-before-use: a token the store
// never saw must not reach a request.
func (m *CredentialManager) rotate(ctx context.Context, cred *schema.IntegrationCredential) (string, error) {
	refreshToken, err := m.vault.Decrypt(refreshTokenOf(cred))
	if err != nil {
		return "", err
	}

	tokens, err := m.refresh(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh %s token: %w", m.vendor, err)
	}

	if err := EncryptInto(m.vault, cred, tokens); err != nil {
		return "", err
	}

	if err := m.store.UpdateIntegrationTokens(ctx, cred); err != nil {
		return "", fmt.Errorf("failed to persist rotated tokens: %w", err)
	}

	return tokens.AccessToken, nil
}

// EncryptInto encrypts a token set into the credential row's cipher columns.
// Vendors that do not rotate the refresh token keep the previous one.
func EncryptInto(v *vault.Vault, cred *schema.IntegrationCredential, tokens *domain.TokenSet) error {
	access, err := v.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	cred.AccessCipher = access.Cipher
	cred.AccessIV = access.IV
	cred.AccessTag = access.Tag

	if tokens.RefreshToken != "" {
		refresh, err := v.Encrypt(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		cred.RefreshCipher = refresh.Cipher
		cred.RefreshIV = refresh.IV
		cred.RefreshTag = refresh.Tag
	}

	cred.ExpiresAt = tokens.ExpiresAt
	if tokens.Scope != "" {
		cred.Scope = tokens.Scope
	}
	if tokens.ExternalAccountID != "" {
		cred.ExternalAccountID = tokens.ExternalAccountID
	}
	return nil
}

func accessToken(cred *schema.IntegrationCredential) vault.EncryptedToken {
	return vault.EncryptedToken{Cipher: cred.AccessCipher, IV: cred.AccessIV, Tag: cred.AccessTag}
}

func refreshTokenOf(cred *schema.IntegrationCredential) vault.EncryptedToken {
	return vault.EncryptedToken{Cipher: cred.RefreshCipher, IV: cred.RefreshIV, Tag: cred.RefreshTag}
}
