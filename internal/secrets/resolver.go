// Package secrets resolves credential references used throughout the
// cascade (offline-source license keys, scanner-intel API keys, inventory
// store credentials) so that no plaintext secret needs to live in a config
// file or flag.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

// Backend identifies which resolution path produced (or failed to produce)
// a secret, used both for the typed error and for non-sensitive logging.
type Backend string

const (
	BackendEnv       Backend = "env"
	BackendFile      Backend = "file"
	BackendOnePass   Backend = "op"
	BackendAWSSM     Backend = "aws-sm"
	BackendVault     Backend = "vault"
	BackendSOPS      Backend = "sops"
	BackendBareValue Backend = "bare"
)

// Error is returned when a reference cannot be resolved. Its Backend field
// lets callers map it onto the cascade's SecretResolutionError{backend} kind
// without the resolver importing the cascade package.
type Error struct {
	Backend Backend
	Ref     string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("secrets: resolve %s reference %q: %v", e.Backend, e.Ref, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver resolves secret references. It never logs a resolved value.
type Resolver struct {
	logger    *zap.Logger
	vaultAddr string
	vaultTok  string
	runCmd    func(name string, args ...string) ([]byte, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithVaultAddr overrides the Vault server address; defaults to the
// VAULT_ADDR environment variable.
func WithVaultAddr(addr string) Option {
	return func(r *Resolver) { r.vaultAddr = addr }
}

// WithVaultToken overrides the Vault auth token; defaults to VAULT_TOKEN.
func WithVaultToken(tok string) Option {
	return func(r *Resolver) { r.vaultTok = tok }
}

func New(logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		logger:    logger,
		vaultAddr: os.Getenv("VAULT_ADDR"),
		vaultTok:  os.Getenv("VAULT_TOKEN"),
		runCmd: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve turns a reference string into its secret value. Recognized
// prefixes: env:NAME, file:PATH, op://VAULT/ITEM/FIELD,
// aws-sm://[REGION/]ID[#JSON_KEY], vault://PATH[#FIELD],
// sops://PATH[#JSON.KEY]. A bare value with no recognized prefix is
// returned as-is with a logged warning.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		return r.resolveEnv(ref)
	case strings.HasPrefix(ref, "file:"):
		return r.resolveFile(ref)
	case strings.HasPrefix(ref, "op://"):
		return r.resolveOnePassword(ctx, ref)
	case strings.HasPrefix(ref, "aws-sm://"):
		return r.resolveAWSSecretsManager(ctx, ref)
	case strings.HasPrefix(ref, "vault://"):
		return r.resolveVault(ctx, ref)
	case strings.HasPrefix(ref, "sops://"):
		return r.resolveSOPS(ref)
	default:
		r.logger.Warn("secret reference has no recognized prefix, using bare value",
			zap.Int("ref_len", len(ref)))
		return ref, nil
	}
}

func (r *Resolver) resolveEnv(ref string) (string, error) {
	name := strings.TrimPrefix(ref, "env:")
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", &Error{Backend: BackendEnv, Ref: ref, Err: fmt.Errorf("environment variable %q not set", name)}
	}
	return v, nil
}

func (r *Resolver) resolveFile(ref string) (string, error) {
	path := strings.TrimPrefix(ref, "file:")
	b, err := os.ReadFile(path)
	if err != nil {
		return "", &Error{Backend: BackendFile, Ref: ref, Err: err}
	}
	return strings.TrimSpace(string(b)), nil
}

// resolveOnePassword shells out to the `op` CLI, the standard way to read
// 1Password items non-interactively; no Go SDK exists for this in the
// dependency corpus.
func (r *Resolver) resolveOnePassword(ctx context.Context, ref string) (string, error) {
	out, err := r.runCmd("op", "read", ref)
	if err != nil {
		return "", &Error{Backend: BackendOnePass, Ref: ref, Err: err}
	}
	return strings.TrimSpace(string(out)), nil
}

// resolveAWSSecretsManager parses aws-sm://[REGION/]ID[#JSON_KEY] and fetches
// the named secret, optionally extracting one key from a JSON secret value.
func (r *Resolver) resolveAWSSecretsManager(ctx context.Context, ref string) (string, error) {
	body := strings.TrimPrefix(ref, "aws-sm://")
	id, jsonKey, _ := strings.Cut(body, "#")

	region := ""
	if parts := strings.SplitN(id, "/", 2); len(parts) == 2 && looksLikeRegion(parts[0]) {
		region, id = parts[0], parts[1]
	}

	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return "", &Error{Backend: BackendAWSSM, Ref: ref, Err: err}
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", &Error{Backend: BackendAWSSM, Ref: ref, Err: err}
	}

	value := aws.ToString(out.SecretString)
	if jsonKey == "" {
		return value, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", &Error{Backend: BackendAWSSM, Ref: ref, Err: fmt.Errorf("secret value is not JSON: %w", err)}
	}
	v, ok := fields[jsonKey]
	if !ok {
		return "", &Error{Backend: BackendAWSSM, Ref: ref, Err: fmt.Errorf("key %q not present in secret JSON", jsonKey)}
	}
	return fmt.Sprintf("%v", v), nil
}

func looksLikeRegion(s string) bool {
	return strings.Count(s, "-") >= 2 && !strings.Contains(s, "/")
}

// resolveVault reads a HashiCorp Vault KV v2 secret over its HTTP API.
// There is no Vault Go SDK in the dependency corpus, so this talks to the
// documented REST interface directly rather than hand-rolling a wire
// protocol of our own.
func (r *Resolver) resolveVault(ctx context.Context, ref string) (string, error) {
	body := strings.TrimPrefix(ref, "vault://")
	path, field, _ := strings.Cut(body, "#")

	if r.vaultAddr == "" {
		return "", &Error{Backend: BackendVault, Ref: ref, Err: fmt.Errorf("VAULT_ADDR not configured")}
	}
	url := fmt.Sprintf("%s/v1/secret/data/%s", strings.TrimSuffix(r.vaultAddr, "/"), path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &Error{Backend: BackendVault, Ref: ref, Err: err}
	}
	req.Header.Set("X-Vault-Token", r.vaultTok)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", &Error{Backend: BackendVault, Ref: ref, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Backend: BackendVault, Ref: ref, Err: fmt.Errorf("vault returned status %d", resp.StatusCode)}
	}

	var payload struct {
		Data struct {
			Data map[string]interface{} `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &Error{Backend: BackendVault, Ref: ref, Err: err}
	}

	if field == "" {
		if len(payload.Data.Data) == 1 {
			for _, v := range payload.Data.Data {
				return fmt.Sprintf("%v", v), nil
			}
		}
		return "", &Error{Backend: BackendVault, Ref: ref, Err: fmt.Errorf("no #field given and secret has %d keys", len(payload.Data.Data))}
	}
	v, ok := payload.Data.Data[field]
	if !ok {
		return "", &Error{Backend: BackendVault, Ref: ref, Err: fmt.Errorf("field %q not present", field)}
	}
	return fmt.Sprintf("%v", v), nil
}

// resolveSOPS shells out to the sops CLI to decrypt a file and optionally
// extract a dotted JSON path; there is no SOPS Go SDK in the dependency
// corpus, and the CLI is the documented integration point.
func (r *Resolver) resolveSOPS(ref string) (string, error) {
	body := strings.TrimPrefix(ref, "sops://")
	path, jsonPath, hasPath := strings.Cut(body, "#")

	out, err := r.runCmd("sops", "--decrypt", path)
	if err != nil {
		return "", &Error{Backend: BackendSOPS, Ref: ref, Err: err}
	}
	if !hasPath {
		return strings.TrimSpace(string(out)), nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		return "", &Error{Backend: BackendSOPS, Ref: ref, Err: fmt.Errorf("decrypted file is not JSON: %w", err)}
	}
	v, err := lookupDottedPath(doc, jsonPath)
	if err != nil {
		return "", &Error{Backend: BackendSOPS, Ref: ref, Err: err}
	}
	return fmt.Sprintf("%v", v), nil
}

func lookupDottedPath(doc map[string]interface{}, path string) (interface{}, error) {
	cur := interface{}(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path segment %q: not an object", part)
		}
		v, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("path segment %q: not found", part)
		}
		cur = v
	}
	return cur, nil
}
