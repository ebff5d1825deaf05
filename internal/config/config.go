package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/policy"
	"github.com/alfredjeanlab/extgate/internal/upstream"
)

// Service holds the connection settings for one upstream service.
type Service struct {
	BaseURL     string
	Username    string // basic auth user (jira, bitbucket)
	Password    string // basic auth secret (jira, bitbucket)
	BearerToken string // bearer token (slack, google services)
}

type Config struct {
	HTTPAddr    string // EXTGATE_HTTP_ADDR (default "127.0.0.1:11583")
	GRPCAddr    string // EXTGATE_GRPC_ADDR (optional, empty = no gRPC health endpoint)
	DatabaseURL string // EXTGATE_DATABASE_URL (optional, empty = in-memory queue)
	NATSURL     string // EXTGATE_NATS_URL (optional, empty = no events)
	AuthToken   string // EXTGATE_AUTH_TOKEN (optional, empty = auth disabled)
	LogFormat   string // EXTGATE_LOG_FORMAT ("text" or "json", default "text")

	UpstreamTimeout time.Duration // EXTGATE_UPSTREAM_TIMEOUT (default 30s)
	ClaimLease      time.Duration // EXTGATE_CLAIM_LEASE (default 2m)

	// Policy settings
	PolicyFile    string              // EXTGATE_POLICY_FILE (optional TOML overlay, reloaded on SIGHUP)
	DryRunDeletes bool                // EXTGATE_DRY_RUN_DELETES
	Approvals     map[string][]string // EXTGATE_REQUIRE_APPROVAL_<SERVICE>, comma-separated methods

	// Upstream services, keyed by service name.
	Services map[string]Service

	// Archive settings
	ArchiveInterval   time.Duration // EXTGATE_ARCHIVE_INTERVAL (0 = disabled)
	ArchiveS3Bucket   string        // EXTGATE_ARCHIVE_S3_BUCKET (enables the archive when set)
	ArchiveS3Endpoint string        // EXTGATE_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // EXTGATE_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string        // EXTGATE_ARCHIVE_S3_KEY (default "extgate/review-queue.jsonl")
	ArchiveSnapshots  bool          // EXTGATE_ARCHIVE_S3_SNAPSHOTS (also keep timestamped copies)
}

func Load() (*Config, error) {
	c := &Config{
		HTTPAddr:          envOrDefault("EXTGATE_HTTP_ADDR", "127.0.0.1:11583"),
		GRPCAddr:          os.Getenv("EXTGATE_GRPC_ADDR"),
		DatabaseURL:       os.Getenv("EXTGATE_DATABASE_URL"),
		NATSURL:           os.Getenv("EXTGATE_NATS_URL"),
		AuthToken:         os.Getenv("EXTGATE_AUTH_TOKEN"),
		LogFormat:         envOrDefault("EXTGATE_LOG_FORMAT", "text"),
		PolicyFile:        os.Getenv("EXTGATE_POLICY_FILE"),
		ArchiveS3Bucket:   os.Getenv("EXTGATE_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("EXTGATE_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("EXTGATE_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Key:      envOrDefault("EXTGATE_ARCHIVE_S3_KEY", "extgate/review-queue.jsonl"),
		Approvals:         make(map[string][]string),
		Services: map[string]Service{
			"jira": {
				BaseURL:  envOrDefault("EXTGATE_JIRA_BASE_URL", "https://yourco.atlassian.net"),
				Username: os.Getenv("EXTGATE_JIRA_USER_EMAIL"),
				Password: os.Getenv("EXTGATE_JIRA_API_TOKEN"),
			},
			"bitbucket": {
				BaseURL:  envOrDefault("EXTGATE_BITBUCKET_BASE_URL", "https://api.bitbucket.org/2.0"),
				Username: os.Getenv("EXTGATE_BITBUCKET_USERNAME"),
				Password: os.Getenv("EXTGATE_BITBUCKET_APP_PASSWORD"),
			},
			"slack": {
				BaseURL:     envOrDefault("EXTGATE_SLACK_BASE_URL", "https://slack.com/api"),
				BearerToken: os.Getenv("EXTGATE_SLACK_BOT_TOKEN"),
			},
			"gmail": {
				BaseURL:     envOrDefault("EXTGATE_GMAIL_BASE_URL", "https://gmail.googleapis.com"),
				BearerToken: os.Getenv("EXTGATE_GOOGLE_ACCESS_TOKEN"),
			},
			"gdrive": {
				BaseURL:     envOrDefault("EXTGATE_GDRIVE_BASE_URL", "https://www.googleapis.com"),
				BearerToken: os.Getenv("EXTGATE_GOOGLE_ACCESS_TOKEN"),
			},
			"gcalendar": {
				BaseURL:     envOrDefault("EXTGATE_GCALENDAR_BASE_URL", "https://www.googleapis.com"),
				BearerToken: os.Getenv("EXTGATE_GOOGLE_ACCESS_TOKEN"),
			},
		},
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("EXTGATE_LOG_FORMAT: unknown format %q", c.LogFormat)
	}

	var err error
	if c.UpstreamTimeout, err = envDuration("EXTGATE_UPSTREAM_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	// The upstream client treats zero as "use its default", which would let
	// a call outlive the lease checked below.
	if c.UpstreamTimeout == 0 {
		return nil, fmt.Errorf("EXTGATE_UPSTREAM_TIMEOUT must be greater than zero")
	}
	if c.ClaimLease, err = envDuration("EXTGATE_CLAIM_LEASE", "2m"); err != nil {
		return nil, err
	}
	if c.ClaimLease <= c.UpstreamTimeout {
		return nil, fmt.Errorf("EXTGATE_CLAIM_LEASE (%s) must exceed EXTGATE_UPSTREAM_TIMEOUT (%s)", c.ClaimLease, c.UpstreamTimeout)
	}
	if c.ArchiveInterval, err = envDuration("EXTGATE_ARCHIVE_INTERVAL", ""); err != nil {
		return nil, err
	}
	if c.DryRunDeletes, err = envBool("EXTGATE_DRY_RUN_DELETES"); err != nil {
		return nil, err
	}
	if c.ArchiveSnapshots, err = envBool("EXTGATE_ARCHIVE_S3_SNAPSHOTS"); err != nil {
		return nil, err
	}

	for _, svc := range model.Services {
		key := "EXTGATE_REQUIRE_APPROVAL_" + strings.ToUpper(svc)
		if methods := policy.ParseMethods(os.Getenv(key)); len(methods) > 0 {
			c.Approvals[svc] = methods
		}
	}
	if err := c.PolicyDocument().Validate(); err != nil {
		return nil, fmt.Errorf("EXTGATE_REQUIRE_APPROVAL_*: %w", err)
	}

	return c, nil
}

// PolicyDocument returns the gate policy described by the environment.
func (c *Config) PolicyDocument() policy.Document {
	approvals := make(map[string][]string, len(c.Approvals))
	for svc, methods := range c.Approvals {
		approvals[svc] = append([]string(nil), methods...)
	}
	return policy.Document{DryRunDeletes: c.DryRunDeletes, Approvals: approvals}
}

// UpstreamConfigs returns one client configuration per service.
func (c *Config) UpstreamConfigs() []upstream.Config {
	out := make([]upstream.Config, 0, len(model.Services))
	for _, svc := range model.Services {
		s := c.Services[svc]
		out = append(out, upstream.Config{
			Service:     svc,
			BaseURL:     s.BaseURL,
			Username:    s.Username,
			Password:    s.Password,
			BearerToken: s.BearerToken,
			Timeout:     c.UpstreamTimeout,
		})
	}
	return out
}

// ArchiveEnabled reports whether periodic queue archiving is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveInterval > 0 && c.ArchiveS3Bucket != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key, fallback string) (time.Duration, error) {
	s := envOrDefault(key, fallback)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

// envBool accepts the usual spellings of true and false. Unset is false.
func envBool(key string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "", "0", "false", "f", "no", "n", "off":
		return false, nil
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	default:
		return false, fmt.Errorf("%s: invalid boolean %q", key, os.Getenv(key))
	}
}
