// Package config implements the node's configuration schema and its
// flag + environment-variable loading.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"cloudp2p/internal/quota"
)

// Config is the node daemon's configuration schema.
type Config struct {
	DataPath            string
	StorageOfferedBytes int64
	StorageQuotaBytes   int64
	ExpirationDays      int
	BootstrapNodes      []string
	EnableRelay         bool
	EnableMDNS          bool
	HTTPAddr            string
	ControlAddr         string
	Quota               quota.Config
}

// Default returns the baseline configuration before flags/env are
// applied.
func Default() Config {
	return Config{
		DataPath:            "./cloudp2p_data",
		StorageOfferedBytes: 10 * 1024 * 1024 * 1024,
		StorageQuotaBytes:   10 * 1024 * 1024 * 1024,
		ExpirationDays:      90,
		EnableRelay:         false,
		EnableMDNS:          true,
		HTTPAddr:            "0.0.0.0:7777",
		ControlAddr:         "127.0.0.1:7778",
		Quota:               quota.DefaultConfig(),
	}
}

// FromFlags parses command-line flags (and environment overrides) into
// a Config, starting from Default(). It does not call flag.Parse() on
// the package-global flag.CommandLine if fs is provided by the caller;
// pass flag.CommandLine from main to parse directly against the process
// args.
func FromFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()

	fs.StringVar(&cfg.DataPath, "data-path", cfg.DataPath, "directory for node data (fragments, index, secrets)")
	fs.Int64Var(&cfg.StorageOfferedBytes, "storage-offered", cfg.StorageOfferedBytes, "bytes this node offers to host for others")
	fs.Int64Var(&cfg.StorageQuotaBytes, "storage-quota", cfg.StorageQuotaBytes, "max bytes this node's own files may use (cloudp2pd does not read this value)")
	fs.IntVar(&cfg.ExpirationDays, "expiration-days", cfg.ExpirationDays, "default storage contract lifetime in days (cloudp2pd does not read this value; its contracts use 90 days)")
	var bootstrap string
	fs.StringVar(&bootstrap, "bootstrap", "", "comma-separated bootstrap peer multiaddrs")
	fs.BoolVar(&cfg.EnableRelay, "enable-relay", cfg.EnableRelay, "enable libp2p circuit relay (cloudp2pd does not pass this to its p2p host)")
	fs.BoolVar(&cfg.EnableMDNS, "enable-mdns", cfg.EnableMDNS, "enable mDNS LAN discovery")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "public peer-facing HTTP listen address")
	fs.StringVar(&cfg.ControlAddr, "control-addr", cfg.ControlAddr, "loopback-only control HTTP listen address")

	var contributionRatio string
	fs.StringVar(&contributionRatio, "contribution-ratio", "", "override quota contribution ratio")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if bootstrap != "" {
		cfg.BootstrapNodes = strings.Split(bootstrap, ",")
		for i := range cfg.BootstrapNodes {
			cfg.BootstrapNodes[i] = strings.TrimSpace(cfg.BootstrapNodes[i])
		}
	}

	applyEnvOverrides(&cfg)

	if contributionRatio != "" {
		if v, err := strconv.ParseFloat(contributionRatio, 64); err == nil {
			cfg.Quota.ContributionRatio = v
		}
	}

	return cfg, nil
}

// applyEnvOverrides mirrors keysaver-server/main.go's
// KEYSAVER_MASTER_KEY / KEYSAVER_TOKENS environment-variable override
// idiom, generalized to this daemon's config surface.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLOUDP2P_DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("CLOUDP2P_BOOTSTRAP"); v != "" {
		cfg.BootstrapNodes = strings.Split(v, ",")
	}
	if v := os.Getenv("CLOUDP2P_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
}
