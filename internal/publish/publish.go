// Package publish writes probe results to Redis so a fleet scheduler can
// place stress workloads only on hosts that support them.
//
// Each host is a hash at <prefix>:<host> holding one field per feature
// ("1" or "0") plus identity fields.  Hosts are also added to the set
// <prefix>:hosts.
package publish

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Publisher publishes snapshots to Redis.
type Publisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPublisher creates a client for cfg.  No connection is made until the
// first command.
func NewPublisher(cfg config.RedisConfig) *Publisher {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "cpuprobe"
	}
	return &Publisher{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
		ttl:    cfg.TTL,
	}
}

// Ping checks connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("Redis client initialized successfully")
	return nil
}

// Key returns the hash key for host.
func (p *Publisher) Key(host string) string {
	return p.prefix + ":" + host
}

func (p *Publisher) hostsKey() string {
	return p.prefix + ":hosts"
}

// Publish replaces the hash for host with snap in one transaction.
func (p *Publisher) Publish(ctx context.Context, host string, snap *cpufeatures.Snapshot) error {
	key := p.Key(host)
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, Fields(snap))
	if p.ttl > 0 {
		pipe.Expire(ctx, key, p.ttl)
	}
	pipe.SAdd(ctx, p.hostsKey(), host)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	log.Debugf("Published CPU features for %s to %s", host, key)
	return nil
}

// Hosts returns every host that has published.  Entries whose hash has
// expired are still listed.
func (p *Publisher) Hosts(ctx context.Context) ([]string, error) {
	return p.client.SMembers(ctx, p.hostsKey()).Result()
}

// Lookup reads the published hash for host.  A host that never published
// or whose entry expired yields redis.Nil.
func (p *Publisher) Lookup(ctx context.Context, host string) (map[string]string, error) {
	fields, err := p.client.HGetAll(ctx, p.Key(host)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}
	return fields, nil
}

// HostFeatures is one host's published view.
type HostFeatures struct {
	Host            string   `json:"host"`
	Vendor          string   `json:"vendor"`
	IntelCompatible bool     `json:"intel_compatible"`
	Features        []string `json:"features"`
	TakenAt         string   `json:"taken_at"`
}

// Fleet reads back every published host, sorted by name.  Hosts whose
// hash has expired are dropped from the host set.
func (p *Publisher) Fleet(ctx context.Context) ([]HostFeatures, error) {
	hosts, err := p.Hosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	sort.Strings(hosts)

	fleet := make([]HostFeatures, 0, len(hosts))
	for _, host := range hosts {
		fields, err := p.Lookup(ctx, host)
		if err == redis.Nil {
			log.Debugf("Published entry for %s expired, removing from %s", host, p.hostsKey())
			if err := p.client.SRem(ctx, p.hostsKey(), host).Err(); err != nil {
				return nil, fmt.Errorf("failed to remove stale host %s: %w", host, err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p.Key(host), err)
		}
		fleet = append(fleet, FromFields(host, fields))
	}
	return fleet, nil
}

// FromFields is the inverse of Fields for the values a scheduler needs.
func FromFields(host string, fields map[string]string) HostFeatures {
	hf := HostFeatures{
		Host:            host,
		Vendor:          fields["vendor"],
		IntelCompatible: fields["intel_compatible"] == "1",
		Features:        []string{},
		TakenAt:         fields["taken_at"],
	}
	for _, f := range cpufeatures.AllFeatures() {
		if fields["has_"+f.CPUInfoFlag()] == "1" {
			hf.Features = append(hf.Features, f.String())
		}
	}
	return hf
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Fields flattens snap into hash fields.  Feature fields use the
// /proc/cpuinfo flag names so they read the same as the kernel's view.
func Fields(snap *cpufeatures.Snapshot) map[string]interface{} {
	id := snap.Identity
	fields := map[string]interface{}{
		"arch":             snap.Arch,
		"vendor":           id.Vendor,
		"brand":            id.BrandName,
		"family":           strconv.Itoa(id.Family),
		"model":            strconv.Itoa(id.Model),
		"stepping":         strconv.Itoa(id.Stepping),
		"intel_compatible": flag(snap.IntelCompatible),
		"taken_at":         snap.TakenAt.UTC().Format(time.RFC3339),
	}
	for _, f := range cpufeatures.AllFeatures() {
		fields["has_"+f.CPUInfoFlag()] = flag(snap.Has(f))
	}
	return fields
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
