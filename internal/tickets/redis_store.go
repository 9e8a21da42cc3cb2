package tickets

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"medialift/internal/models"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisStoreConfig configures the Redis-backed ticket store. Sharing tickets
// through Redis lets several dashboard replicas observe the same upload
// progress.
type RedisStoreConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	KeyPrefix    string
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

const defaultTicketTTL = 24 * time.Hour

// updateScript applies a progress/status change only when the stored
// generation matches and the attempt has not already finished, making the
// compare-and-set atomic across replicas. The terminal set mirrors
// Status.Terminal.
var updateScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return false end
local ticket = cjson.decode(raw)
if tostring(ticket.generation) ~= ARGV[1] then return false end
if ticket.status == 'success' or ticket.status == 'err_policy' or ticket.status == 'err_upload' then
	return false
end
ticket.progress = tonumber(ARGV[2])
ticket.status = ARGV[3]
ticket.updatedAt = ARGV[4]
local encoded = cjson.encode(ticket)
local ttl = redis.call('TTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], encoded, 'EX', ttl)
else
	redis.call('SET', KEYS[1], encoded)
end
return encoded
`)

type redisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore initialises a ticket store backed by Redis. The caller is
// responsible for ensuring the Redis instance is reachable.
func NewRedisStore(cfg RedisStoreConfig) (Store, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "medialift:ticket"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	return &redisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *redisStore) ticketKey(objectID string) string {
	return s.prefix + ":" + objectID
}

func (s *redisStore) generationKey(objectID string) string {
	return s.prefix + ":gen:" + objectID
}

func (s *redisStore) Begin(ctx context.Context, objectType models.ObjectType, objectID, filename string) (Ticket, error) {
	id := normalizeObjectID(objectID)
	if id == "" {
		return Ticket{}, ErrObjectIDRequired
	}
	generation, err := s.client.Incr(ctx, s.generationKey(id)).Uint64()
	if err != nil {
		return Ticket{}, fmt.Errorf("allocate ticket generation: %w", err)
	}
	ticket := Ticket{
		ObjectID:   id,
		ObjectType: objectType,
		Filename:   filename,
		Progress:   0,
		Status:     StatusInit,
		Generation: generation,
		UpdatedAt:  s.now(),
	}
	payload, err := json.Marshal(ticket)
	if err != nil {
		return Ticket{}, fmt.Errorf("marshal ticket: %w", err)
	}
	if err := s.client.Set(ctx, s.ticketKey(id), payload, s.ttl).Err(); err != nil {
		return Ticket{}, fmt.Errorf("store ticket: %w", err)
	}
	return ticket, nil
}

func (s *redisStore) Update(ctx context.Context, objectID string, generation uint64, progress int, status Status) (Ticket, bool, error) {
	id := normalizeObjectID(objectID)
	if id == "" {
		return Ticket{}, false, ErrObjectIDRequired
	}
	result, err := updateScript.Run(ctx, s.client,
		[]string{s.ticketKey(id)},
		fmt.Sprintf("%d", generation),
		clampProgress(progress),
		string(status),
		s.now().Format(time.RFC3339Nano),
	).Result()
	if errors.Is(err, redis.Nil) {
		return Ticket{}, false, nil
	}
	if err != nil {
		return Ticket{}, false, fmt.Errorf("update ticket: %w", err)
	}
	raw, ok := result.(string)
	if !ok {
		return Ticket{}, false, nil
	}
	var ticket Ticket
	if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
		return Ticket{}, false, fmt.Errorf("decode ticket: %w", err)
	}
	return ticket, true, nil
}

func (s *redisStore) Get(ctx context.Context, objectID string) (Ticket, bool, error) {
	id := normalizeObjectID(objectID)
	if id == "" {
		return Ticket{}, false, ErrObjectIDRequired
	}
	raw, err := s.client.Get(ctx, s.ticketKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return Ticket{}, false, nil
	}
	if err != nil {
		return Ticket{}, false, fmt.Errorf("load ticket: %w", err)
	}
	var ticket Ticket
	if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
		return Ticket{}, false, fmt.Errorf("decode ticket: %w", err)
	}
	return ticket, true, nil
}

func (s *redisStore) List(ctx context.Context) ([]Ticket, error) {
	pattern := s.prefix + ":*"
	var out []Ticket
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, s.prefix+":gen:") {
			continue
		}
		raw, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load ticket %s: %w", key, err)
		}
		var ticket Ticket
		if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
			continue
		}
		out = append(out, ticket)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan tickets: %w", err)
	}
	return out, nil
}

func (s *redisStore) Reset(ctx context.Context, objectID string) error {
	id := normalizeObjectID(objectID)
	if id == "" {
		return ErrObjectIDRequired
	}
	// The generation key is intentionally left behind so generations keep
	// increasing across resets.
	if err := s.client.Del(ctx, s.ticketKey(id)).Err(); err != nil {
		return fmt.Errorf("reset ticket: %w", err)
	}
	return nil
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		ServerName:         strings.TrimSpace(cfg.ServerName),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read redis CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse redis CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, fmt.Errorf("both redis TLS cert and key must be provided")
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
