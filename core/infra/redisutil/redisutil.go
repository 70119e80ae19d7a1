package redisutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options carries connection settings resolved from service configuration.
type Options struct {
	URL          string
	ClusterAddrs []string
	TLS          TLSOptions
}

// TLSOptions configures client TLS. A zero value leaves the URL's TLS settings alone.
type TLSOptions struct {
	CAFile     string
	CertFile   string
	KeyFile    string
	ServerName string
	Insecure   bool
}

func (o TLSOptions) empty() bool {
	return o.CAFile == "" && o.CertFile == "" && o.KeyFile == "" && o.ServerName == "" && !o.Insecure
}

// NewClient creates a Redis universal client with optional TLS and clustering support.
func NewClient(opts Options) (redis.UniversalClient, error) {
	parsed, err := ParseOptions(opts.URL, opts.TLS)
	if err != nil {
		return nil, err
	}
	addrs := cleanAddrs(opts.ClusterAddrs)
	if len(addrs) == 0 {
		addrs = []string{parsed.Addr}
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     addrs,
		Username:  parsed.Username,
		Password:  parsed.Password,
		DB:        parsed.DB,
		TLSConfig: parsed.TLSConfig,
	}), nil
}

// Connect creates a client and verifies it answers PING.
func Connect(ctx context.Context, opts Options) (redis.UniversalClient, error) {
	client, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// ParseOptions parses a Redis URL and applies TLS settings.
func ParseOptions(url string, tlsOpts TLSOptions) (*redis.Options, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cfg, err := buildTLSConfig(opts.TLSConfig, tlsOpts)
	if err != nil {
		return nil, err
	}
	opts.TLSConfig = cfg
	return opts, nil
}

func buildTLSConfig(existing *tls.Config, o TLSOptions) (*tls.Config, error) {
	o.CAFile = strings.TrimSpace(o.CAFile)
	o.CertFile = strings.TrimSpace(o.CertFile)
	o.KeyFile = strings.TrimSpace(o.KeyFile)
	o.ServerName = strings.TrimSpace(o.ServerName)
	if o.empty() {
		return existing, nil
	}

	cfg := &tls.Config{}
	if existing != nil {
		cfg = existing.Clone()
	}
	if o.ServerName != "" {
		cfg.ServerName = o.ServerName
	}
	if o.Insecure {
		cfg.InsecureSkipVerify = true
	}

	if o.CAFile != "" {
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("redis tls ca read: %w", err)
		}
		pool := cfg.RootCAs
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(pem); !ok {
			return nil, fmt.Errorf("redis tls ca parse: %s", o.CAFile)
		}
		cfg.RootCAs = pool
	}

	if o.CertFile != "" || o.KeyFile != "" {
		if o.CertFile == "" || o.KeyFile == "" {
			return nil, fmt.Errorf("redis tls cert/key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("redis tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func cleanAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, addr := range in {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
