package policy

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SignerConfig describes the storage bucket a local Signer mints policies
// for. It covers self-hosted S3-compatible stores (MinIO and friends) where
// the service holds the signing credentials directly.
type SignerConfig struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	Expiry       time.Duration
	MaxSizeBytes int64
}

const (
	defaultPolicyExpiry  = 15 * time.Minute
	defaultPolicyMaxSize = int64(1) << 30
)

func applySignerDefaults(cfg SignerConfig) SignerConfig {
	if cfg.Expiry <= 0 {
		cfg.Expiry = defaultPolicyExpiry
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = defaultPolicyMaxSize
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	return cfg
}

// Signer mints AWS SigV4 POST policies without going through the AWS SDK.
type Signer struct {
	cfg SignerConfig
	now func() time.Time
}

// NewSigner validates the configuration and returns a local policy issuer.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	cfg = applySignerDefaults(cfg)
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage endpoint and bucket are required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("storage credentials are required")
	}
	return &Signer{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Signer) Issue(_ context.Context, req Request) (Policy, error) {
	if strings.TrimSpace(req.ObjectID) == "" || req.ObjectType == "" {
		return Policy{}, ErrObjectRequired
	}
	now := s.now()
	key := ObjectKey(req, now)
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	scope := strings.Join([]string{dateStamp, s.cfg.Region, "s3", "aws4_request"}, "/")
	credential := s.cfg.AccessKey + "/" + scope

	conditions := []interface{}{
		map[string]string{"bucket": s.cfg.Bucket},
		[]interface{}{"eq", "$key", key},
		map[string]string{"x-amz-algorithm": "AWS4-HMAC-SHA256"},
		map[string]string{"x-amz-credential": credential},
		map[string]string{"x-amz-date": amzDate},
		[]interface{}{"content-length-range", 0, s.cfg.MaxSizeBytes},
	}
	if req.ContentType != "" {
		conditions = append(conditions, map[string]string{"Content-Type": req.ContentType})
	}
	document := map[string]interface{}{
		"expiration": now.Add(s.cfg.Expiry).Format("2006-01-02T15:04:05.000Z"),
		"conditions": conditions,
	}
	encoded, err := json.Marshal(document)
	if err != nil {
		return Policy{}, fmt.Errorf("marshal policy document: %w", err)
	}
	policyB64 := base64.StdEncoding.EncodeToString(encoded)
	signature := hmacSHA256Hex(deriveSigningKey(s.cfg.SecretKey, dateStamp, s.cfg.Region), policyB64)

	fields := map[string]string{
		"key":              key,
		"x-amz-algorithm":  "AWS4-HMAC-SHA256",
		"x-amz-credential": credential,
		"x-amz-date":       amzDate,
		"policy":           policyB64,
		"x-amz-signature":  signature,
	}
	if req.ContentType != "" {
		fields["Content-Type"] = req.ContentType
	}
	return Policy{URL: s.bucketURL(), Fields: fields}, nil
}

func (s *Signer) bucketURL() string {
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	endpoint := strings.TrimSpace(s.cfg.Endpoint)
	if strings.Contains(endpoint, "://") {
		if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
			endpoint = parsed.Host
		}
	}
	u := url.URL{Scheme: scheme, Host: endpoint, Path: "/" + strings.Trim(s.cfg.Bucket, "/")}
	return u.String()
}

func deriveSigningKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte("s3"))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacSHA256Hex(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Issuer = (*Signer)(nil)
