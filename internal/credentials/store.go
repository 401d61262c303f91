// Package credentials keeps Confluence API tokens encrypted at rest behind
// opaque references. Only the reference ever appears in plain configuration.
package credentials

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
	"github.com/olgasafonova/confluence-spec-mcp-server/internal/sanitize"
)

// RefPrefix starts every secure reference.
const RefPrefix = "secure_"

// KeySize is the length of the sealing key in bytes.
const KeySize = chacha20poly1305.KeySize

var refRegex = regexp.MustCompile(`^secure_\d{1,20}$`)

// KeyValueStore is the platform key-value store that holds sealed secrets.
// Implementations are expected to be atomic per key; Store adds no locking.
type KeyValueStore interface {
	Write(ctx context.Context, key string, value []byte) error
	// Read returns ok=false when the key does not exist.
	Read(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
}

// Store seals tokens with XChaCha20-Poly1305 before handing them to a
// KeyValueStore. The reference is bound to the ciphertext as associated data,
// so a sealed value copied under another reference will not open.
type Store struct {
	kv   KeyValueStore
	aead cipher.AEAD
	now  func() time.Time
	rand io.Reader
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now for reference generation.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store sealing with key, which must be KeySize bytes.
func NewStore(kv KeyValueStore, key []byte, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("credentials: key-value store is required")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: invalid sealing key: %w", err)
	}
	s := &Store{kv: kv, aead: aead, now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateKey returns a new random sealing key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// IsRef reports whether s has the shape of a secure reference.
func IsRef(s string) bool {
	return refRegex.MatchString(s)
}

// Store seals token and returns a new reference for it.
func (s *Store) Store(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if err := sanitize.ValidateToken(token); err != nil {
		return "", err
	}

	ref, err := s.newRef(ctx)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(token)+s.aead.Overhead())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return "", apierrors.Wrap(apierrors.KindValidation, err, "could not secure the API token").
			WithRecovery("Try storing the token again.")
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(token), []byte(ref))

	if err := s.kv.Write(ctx, ref, sealed); err != nil {
		return "", apierrors.Wrap(apierrors.KindValidation, err, "could not save the API token to secure storage").
			WithRecovery("Check that the credential database is writable.")
	}
	return ref, nil
}

// Get returns the token stored under ref. ok is false if nothing is stored.
// Every failure is a validation error that names neither the reference nor
// the token.
func (s *Store) Get(ctx context.Context, ref string) (string, bool, error) {
	if !IsRef(ref) {
		return "", false, apierrors.New(apierrors.KindValidation, "stored credential reference is malformed").
			WithRecovery("Store the API token again.")
	}

	sealed, ok, err := s.kv.Read(ctx, ref)
	if err != nil {
		return "", false, apierrors.Wrap(apierrors.KindValidation, err, "secure storage could not be read").
			WithRecovery("Store the API token again.")
	}
	if !ok {
		return "", false, nil
	}

	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return "", false, apierrors.New(apierrors.KindValidation, "stored credential is corrupted").
			WithRecovery("Store the API token again.")
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(ref))
	if err != nil {
		return "", false, apierrors.New(apierrors.KindValidation, "stored credential could not be decrypted").
			WithRecovery("The encryption key may have changed; store the API token again.")
	}
	return string(plain), true, nil
}

// Invalidate deletes the token stored under ref. Unknown references are not an error.
func (s *Store) Invalidate(ctx context.Context, ref string) error {
	if !IsRef(ref) {
		return apierrors.New(apierrors.KindValidation, "stored credential reference is malformed")
	}
	if err := s.kv.Delete(ctx, ref); err != nil {
		return apierrors.Wrap(apierrors.KindValidation, err, "secure storage could not be updated")
	}
	return nil
}

// newRef returns secure_<unix-nanos>, stepping forward past references
// already in use.
func (s *Store) newRef(ctx context.Context) (string, error) {
	n := s.now().UnixNano()
	for range 100 {
		ref := fmt.Sprintf("%s%d", RefPrefix, n)
		_, exists, err := s.kv.Read(ctx, ref)
		if err != nil {
			return "", apierrors.Wrap(apierrors.KindValidation, err, "secure storage could not be read")
		}
		if !exists {
			return ref, nil
		}
		n++
	}
	return "", apierrors.New(apierrors.KindValidation, "could not allocate a secure reference")
}
