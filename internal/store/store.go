package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/systmms/kmsenv/internal/envelope"
	"github.com/systmms/kmsenv/internal/envfile"
	"github.com/systmms/kmsenv/internal/kms"
	"github.com/systmms/kmsenv/internal/logging"
	"github.com/systmms/kmsenv/internal/metrics"
	"github.com/systmms/kmsenv/internal/secure"
)

// Cipher encrypts and decrypts single values with a plaintext data key.
type Cipher interface {
	Encrypt(plaintext string, key []byte) (string, error)
	Decrypt(encoded string, key []byte) (string, error)
}

// Bookkeeping is the typed view of the reserved pairs of a file.
type Bookkeeping struct {
	DataKey string
	Region  *string
}

// ReadBookkeeping extracts the reserved pairs. ok is false when
// KMS_DATA_KEY is absent.
func ReadBookkeeping(pairs []envfile.Pair) (bk Bookkeeping, ok bool) {
	idx := envfile.Index(pairs)
	if i, found := idx[envfile.RegionName]; found {
		region := pairs[i].Value
		bk.Region = &region
	}
	i, found := idx[envfile.DataKeyName]
	if !found {
		return bk, false
	}
	bk.DataKey = pairs[i].Value
	return bk, true
}

// Pairs renders bk as the leading lines of a file.
func (bk Bookkeeping) Pairs() []envfile.Pair {
	pairs := []envfile.Pair{{Key: envfile.DataKeyName, Value: bk.DataKey}}
	if bk.Region != nil && *bk.Region != "" {
		pairs = append(pairs, envfile.Pair{Key: envfile.RegionName, Value: *bk.Region})
	}
	return pairs
}

// Store runs secrets-file operations against a KMS adapter and a FileIO.
type Store struct {
	kms     kms.Adapter
	files   FileIO
	cipher  Cipher
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithFileIO replaces the filesystem.
func WithFileIO(files FileIO) Option {
	return func(s *Store) {
		s.files = files
	}
}

// WithCipher replaces the value cipher.
func WithCipher(c Cipher) Option {
	return func(s *Store) {
		s.cipher = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics records operation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a Store backed by adapter.
func New(adapter kms.Adapter, opts ...Option) *Store {
	s := &Store{
		kms:    adapter,
		files:  OSFileIO{},
		cipher: envelope.AESCTR{},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitResult describes what Initialize wrote.
type InitResult struct {
	KeyID  string
	Region string
	// Preserved counts the non-bookkeeping pairs carried over.
	Preserved int
	// Stale counts secure: values encrypted under the previous data key.
	Stale int
}

// Initialize mints a data key under keyID and writes it to the front of the
// file at path, creating the file if needed. Existing secret pairs are kept
// in order; existing secure: values are not re-encrypted.
func (s *Store) Initialize(ctx context.Context, keyID, path string) (res *InitResult, err error) {
	defer s.observe("init", &err)

	gen, err := s.kms.GenerateDataKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	// Only the protected form is needed here
	gen.Plaintext.Destroy()

	content, err := s.files.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Debug("%s does not exist, starting empty", path)
		content = ""
	case err != nil:
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	pairs, err := envfile.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	res = &InitResult{KeyID: gen.KeyID, Region: gen.Region}
	kept := make([]envfile.Pair, 0, len(pairs))
	for _, p := range pairs {
		if envfile.IsReserved(p.Key) {
			continue
		}
		if envelope.IsEncrypted(p.Value) {
			res.Stale++
		}
		kept = append(kept, p)
	}
	res.Preserved = len(kept)

	bk := Bookkeeping{DataKey: base64.StdEncoding.EncodeToString(gen.ProtectedBlob)}
	if gen.Region != "" {
		bk.Region = &gen.Region
	}

	out := append(bk.Pairs(), kept...)
	if err := s.files.Write(path, envfile.Serialize(out)); err != nil {
		return nil, &IOError{Op: "write", Path: path, Err: err}
	}
	return res, nil
}

// Add encrypts each KEY=VALUE entry and upserts it into the file at path.
// Existing keys keep their position; new keys are appended. Nothing is
// written unless every entry succeeds.
func (s *Store) Add(ctx context.Context, path string, entries []string) (err error) {
	defer s.observe("add", &err)

	updates := make([]envfile.Pair, 0, len(entries))
	for _, entry := range entries {
		p, err := envfile.ParseEntry(entry)
		if err != nil {
			return err
		}
		if envfile.IsReserved(p.Key) {
			return &envfile.FormatError{Content: entry, Reason: p.Key + " is reserved"}
		}
		updates = append(updates, p)
	}

	pairs, bk, err := s.load(path)
	if err != nil {
		return err
	}

	key, err := s.unwrap(ctx, bk)
	if err != nil {
		return err
	}
	defer key.Destroy()

	err = key.Use(func(k []byte) error {
		for _, u := range updates {
			enc, err := s.cipher.Encrypt(u.Value, k)
			if err != nil {
				return fmt.Errorf("failed to encrypt %s: %w", u.Key, err)
			}
			pairs = upsert(pairs, envfile.Pair{Key: u.Key, Value: enc})
			s.logger.Debug("encrypted %s=%s", u.Key, logging.Secret(u.Value))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.files.Write(path, envfile.Serialize(pairs)); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Show returns the file at path with every secure: value decrypted. It
// never writes.
func (s *Store) Show(ctx context.Context, path string) (out string, err error) {
	defer s.observe("show", &err)

	pairs, bk, err := s.load(path)
	if err != nil {
		return "", err
	}

	key, err := s.unwrap(ctx, bk)
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	err = key.Use(func(k []byte) error {
		for i, p := range pairs {
			if !envelope.IsEncrypted(p.Value) {
				continue
			}
			pt, err := s.decryptValue(p, k)
			if err != nil {
				return err
			}
			pairs[i].Value = pt
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return envfile.Serialize(pairs), nil
}

// Decrypt turns every secure: entry of env into a shell export line. It
// returns "" without error when env has no KMS_DATA_KEY.
func (s *Store) Decrypt(ctx context.Context, env Snapshot) (out string, err error) {
	defer s.observe("decrypt", &err)

	plain, decrypted, err := s.decryptSnapshot(ctx, env)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(decrypted))
	for _, i := range decrypted {
		lines = append(lines, ExportLine(plain[i].Key, plain[i].Value))
	}
	return strings.Join(lines, "\n"), nil
}

// Environ returns env as KEY=VALUE strings, in order, with every secure:
// value decrypted. Without KMS_DATA_KEY the entries pass through unchanged.
func (s *Store) Environ(ctx context.Context, env Snapshot) (out []string, err error) {
	defer s.observe("exec", &err)

	plain, _, err := s.decryptSnapshot(ctx, env)
	if err != nil {
		return nil, err
	}

	out = make([]string, 0, len(plain))
	for _, p := range plain {
		out = append(out, p.String())
	}
	return out, nil
}

// decryptSnapshot returns a copy of env with secure: values replaced by
// plaintext, plus the indexes that were replaced.
func (s *Store) decryptSnapshot(ctx context.Context, env Snapshot) (Snapshot, []int, error) {
	plain := append(Snapshot(nil), env...)

	blob, ok := env.Lookup(envfile.DataKeyName)
	if !ok {
		s.logger.Debug("%s not set, nothing to decrypt", envfile.DataKeyName)
		return plain, nil, nil
	}

	key, err := s.unwrap(ctx, Bookkeeping{DataKey: blob})
	if err != nil {
		return nil, nil, err
	}
	defer key.Destroy()

	var decrypted []int
	err = key.Use(func(k []byte) error {
		for i, p := range plain {
			if !envelope.IsEncrypted(p.Value) {
				continue
			}
			pt, err := s.decryptValue(p, k)
			if err != nil {
				return err
			}
			plain[i].Value = pt
			decrypted = append(decrypted, i)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return plain, decrypted, nil
}

// ExportLine renders one shell-evaluable export with an audit echo. The
// value is escaped for a double-quoted shell string.
func ExportLine(key, value string) string {
	return fmt.Sprintf(`export %s="%s";echo "Decrypted %s";`, key, shellEscaper.Replace(value), key)
}

var shellEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

// load reads and parses path and requires KMS_DATA_KEY.
func (s *Store) load(path string) ([]envfile.Pair, Bookkeeping, error) {
	content, err := s.files.Read(path)
	if err != nil {
		return nil, Bookkeeping{}, &IOError{Op: "read", Path: path, Err: err}
	}
	pairs, err := envfile.Parse(content)
	if err != nil {
		return nil, Bookkeeping{}, fmt.Errorf("%s: %w", path, err)
	}
	bk, ok := ReadBookkeeping(pairs)
	if !ok {
		return nil, Bookkeeping{}, &MissingDataKeyError{Path: path}
	}
	return pairs, bk, nil
}

// unwrap decodes and decrypts the protected data key: one KMS call.
func (s *Store) unwrap(ctx context.Context, bk Bookkeeping) (*secure.DataKey, error) {
	blob, err := base64.StdEncoding.DecodeString(bk.DataKey)
	if err != nil {
		return nil, &envelope.DecryptionError{Key: envfile.DataKeyName, Reason: "malformed base64", Err: err}
	}
	key, err := s.kms.DecryptDataKey(ctx, blob)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("data key unwrapped")
	return key, nil
}

func (s *Store) decryptValue(p envfile.Pair, key []byte) (string, error) {
	if envelope.IsLegacy(p.Value) {
		s.logger.Warn("%s uses the deprecated encoding without an IV; re-add it to migrate", p.Key)
		s.metrics.IncLegacyDecrypt()
	}
	pt, err := s.cipher.Decrypt(p.Value, key)
	if err != nil {
		var de *envelope.DecryptionError
		if errors.As(err, &de) && de.Key == "" {
			de.Key = p.Key
			return "", de
		}
		return "", &envelope.DecryptionError{Key: p.Key, Err: err}
	}
	return pt, nil
}

func (s *Store) observe(op string, err *error) {
	s.metrics.ObserveOperation(op, *err)
}

// upsert replaces every pair named p.Key in place, or appends p.
func upsert(pairs []envfile.Pair, p envfile.Pair) []envfile.Pair {
	found := false
	for i := range pairs {
		if pairs[i].Key == p.Key {
			pairs[i].Value = p.Value
			found = true
		}
	}
	if !found {
		pairs = append(pairs, p)
	}
	return pairs
}
