// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serve

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/surety/api/server"
	"github.com/luxfi/surety/utils/units"
	"github.com/luxfi/surety/vms/suretyvm/config"
	"github.com/luxfi/surety/vms/suretyvm/relay"
)

const (
	EnvPrefix = "SURETY"

	ConfigFileKey      = "config"
	HTTPHostKey        = "http-host"
	HTTPPortKey        = "http-port"
	AllowedOriginsKey  = "http-allowed-origins"
	AllowedHostsKey    = "http-allowed-hosts"
	DBDirKey           = "db-dir"
	OraclesKey         = "oracles"
	OracleStakeKey     = "oracle-stake"
	RelayWorkersKey    = "relay-workers"
	RelayAttemptsKey   = "relay-max-attempts"
	RelayRetryDelayKey = "relay-retry-delay"

	OwnerKey               = "owner"
	FoundingAirlineKey     = "founding-airline"
	ConsensusThresholdKey  = "consensus-threshold"
	FundingThresholdKey    = "funding-threshold"
	MinOracleStakeKey      = "min-oracle-stake"
	MinResponsesKey        = "min-responses"
	IndexRangeKey          = "index-range"
	IndexesPerOracleKey    = "indexes-per-oracle"
	MaxInsuranceKey        = "max-insurance"
	PayoutMultiplierBpsKey = "payout-multiplier-bps"
	PayableStatusKey       = "payable-status"
)

func AddFlags(flags *pflag.FlagSet) {
	defaults := config.DefaultConfig()
	relayDefaults := relay.DefaultConfig()
	serverDefaults := server.DefaultConfig()

	flags.String(ConfigFileKey, "", "Config file (json, toml or yaml) overriding the defaults")
	flags.String(HTTPHostKey, "127.0.0.1", "Address of the HTTP server")
	flags.Uint16(HTTPPortKey, 9650, "Port of the HTTP server")
	flags.StringSlice(AllowedOriginsKey, serverDefaults.AllowedOrigins, "Origins to allow on the HTTP port")
	flags.StringSlice(AllowedHostsKey, serverDefaults.AllowedHosts, "Hostnames to accept in the HTTP host header")
	flags.String(DBDirKey, "", "Database directory. State is kept in memory when empty")
	flags.Int(OraclesKey, relayDefaults.Oracles, "Number of simulated oracles run by the relay")
	flags.String(OracleStakeKey, relayDefaults.Stake.String(), "Stake in wei paid by every simulated oracle")
	flags.Int(RelayWorkersKey, relayDefaults.Workers, "Maximum number of concurrent oracle responses")
	flags.Int(RelayAttemptsKey, relayDefaults.MaxAttempts, "Maximum number of sends of one oracle response")
	flags.Duration(RelayRetryDelayKey, relayDefaults.RetryDelay, "Delay between sends of one oracle response")

	flags.String(OwnerKey, defaults.Owner, "Address allowed to pause the contract. Defaults to the founding airline")
	flags.String(FoundingAirlineKey, defaults.FoundingAirline, "Address of the founding airline (required)")
	flags.Int(ConsensusThresholdKey, defaults.ConsensusThreshold, "Number of airlines from which registrations need votes")
	flags.String(FundingThresholdKey, defaults.FundingThreshold, "Stake in wei that makes an airline funded")
	flags.String(MinOracleStakeKey, defaults.MinOracleStake, "Minimum oracle stake in wei")
	flags.Int(MinResponsesKey, defaults.MinResponses, "Number of matching oracle responses that finalize a request")
	flags.Int(IndexRangeKey, defaults.IndexRange, "Number of oracle index buckets")
	flags.Int(IndexesPerOracleKey, defaults.IndexesPerOracle, "Number of index buckets assigned to every oracle")
	flags.String(MaxInsuranceKey, defaults.MaxInsurance, "Maximum cover in wei per passenger and flight")
	flags.Uint64(PayoutMultiplierBpsKey, defaults.PayoutMultiplierBps, "Payout multiplier in basis points")
	flags.Uint8(PayableStatusKey, defaults.PayableStatus, "Flight status code that pays out")
}

type Config struct {
	HTTPHost string
	HTTPPort uint16
	DBDir    string
	Surety   config.Config
	Relay    relay.Config
	Server   server.Config
}

// ParseFlags reads the config from flags, then SURETY_ prefixed environment
// variables, then the config file, in decreasing order of precedence.
func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString(ConfigFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", file, err)
		}
	}

	surety := config.DefaultConfig()
	if err := v.Unmarshal(&surety); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if _, err := surety.Parse(); err != nil {
		return nil, err
	}
	if surety.FoundingAirline == "" {
		return nil, fmt.Errorf("%w: --%s is required", config.ErrInvalidConfig, FoundingAirlineKey)
	}

	stake, err := units.ParseWei(v.GetString(OracleStakeKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", config.ErrInvalidConfig, OracleStakeKey, err)
	}

	rc := relay.DefaultConfig()
	rc.Oracles = v.GetInt(OraclesKey)
	rc.Stake = stake
	rc.Workers = v.GetInt(RelayWorkersKey)
	rc.MaxAttempts = v.GetInt(RelayAttemptsKey)
	rc.RetryDelay = v.GetDuration(RelayRetryDelayKey)

	sc := server.DefaultConfig()
	sc.AllowedOrigins = v.GetStringSlice(AllowedOriginsKey)
	sc.AllowedHosts = v.GetStringSlice(AllowedHostsKey)

	port := v.GetUint(HTTPPortKey)
	if port > 1<<16-1 {
		return nil, fmt.Errorf("%w: invalid port %d", config.ErrInvalidConfig, port)
	}

	return &Config{
		HTTPHost: v.GetString(HTTPHostKey),
		HTTPPort: uint16(port),
		DBDir:    v.GetString(DBDirKey),
		Surety:   surety,
		Relay:    rc,
		Server:   sc,
	}, nil
}
