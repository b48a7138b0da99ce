package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the distributor server and CLI
const (
	EnvDistributorConfigFile      = "DISTRIBUTOR_CONFIG_FILE"
	EnvDistributorPort            = "DISTRIBUTOR_PORT"
	EnvDistributorPersistenceType = "DISTRIBUTOR_PERSISTENCE_TYPE"
	EnvDistributorDataPath        = "DISTRIBUTOR_DATA_PATH"
	EnvDistributorRedisAddress    = "DISTRIBUTOR_REDIS_ADDRESS"
	EnvDistributorRedisPassword   = "DISTRIBUTOR_REDIS_PASSWORD"
	EnvDistributorRedisDB         = "DISTRIBUTOR_REDIS_DB"
	EnvDistributorRedisKeyPrefix  = "DISTRIBUTOR_REDIS_KEY_PREFIX"
	EnvDistributorOwner           = "DISTRIBUTOR_OWNER"
	EnvDistributorMaintainer      = "DISTRIBUTOR_MAINTAINER"
	EnvDistributorMerkleRoot      = "DISTRIBUTOR_MERKLE_ROOT"
	EnvDistributorClaimRateLimit  = "DISTRIBUTOR_CLAIM_RATE_LIMIT"
	EnvDistributorClaimBurst      = "DISTRIBUTOR_CLAIM_BURST"
	EnvDistributorMaxRequestTTL   = "DISTRIBUTOR_MAX_REQUEST_TTL"
	EnvDistributorSignedRateLimit = "DISTRIBUTOR_SIGNED_RATE_LIMIT"
	EnvDistributorSignedBurst     = "DISTRIBUTOR_SIGNED_BURST"
	EnvDistributorTrustProxy      = "DISTRIBUTOR_TRUST_PROXY_HEADERS"
	EnvDistributorVerbose         = "DISTRIBUTOR_VERBOSE"

	EnvDistributorURL        = "DISTRIBUTOR_URL"
	EnvDistributorPrivateKey = "DISTRIBUTOR_PRIVATE_KEY"
)

type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceTypeMemory PersistenceType = "memory"
	PersistenceTypeBadger PersistenceType = "badger"
	PersistenceTypeRedis  PersistenceType = "redis"
)

var SupportedPersistenceTypes = []PersistenceType{
	PersistenceTypeMemory,
	PersistenceTypeBadger,
	PersistenceTypeRedis,
}

// GetSupportedPersistenceTypesString returns supported persistence types for CLI help
func GetSupportedPersistenceTypesString() string {
	names := make([]string, 0, len(SupportedPersistenceTypes))
	for _, p := range SupportedPersistenceTypes {
		names = append(names, p.String())
	}
	return strings.Join(names, ", ")
}

// Defaults
const (
	DefaultPort            = 8080
	DefaultDataPath        = "./distributor-data"
	DefaultClaimRateLimit  = 50.0
	DefaultClaimBurst      = 100
	DefaultMaxRequestTTL   = 10 * time.Minute
	DefaultReplayCacheSize = 10_000

	DefaultSignedRateLimit = 5.0
	DefaultSignedBurst     = 20
)

type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

// DistributorServerConfig represents the complete configuration for a distributor server
type DistributorServerConfig struct {
	Port int `json:"port" yaml:"port"`

	// Persistence
	PersistenceType PersistenceType `json:"persistenceType" yaml:"persistenceType"`
	DataPath        string          `json:"dataPath" yaml:"dataPath"`
	Redis           RedisConfig     `json:"redis" yaml:"redis"`

	// Used only when the store holds no ledger yet
	Owner      string `json:"owner" yaml:"owner"`
	Maintainer string `json:"maintainer" yaml:"maintainer"`
	MerkleRoot string `json:"merkleRoot" yaml:"merkleRoot"`

	// Request handling
	ClaimRateLimit  float64       `json:"claimRateLimit" yaml:"claimRateLimit"` // claims per second per client
	ClaimBurst      int           `json:"claimBurst" yaml:"claimBurst"`
	MaxRequestTTL   time.Duration `json:"maxRequestTTL" yaml:"maxRequestTTL"`
	ReplayCacheSize int           `json:"replayCacheSize" yaml:"replayCacheSize"`

	SignedRateLimit float64 `json:"signedRateLimit" yaml:"signedRateLimit"` // signed requests per second per client
	SignedBurst     int     `json:"signedBurst" yaml:"signedBurst"`
	// TrustProxyHeaders takes the client address from X-Real-IP / X-Forwarded-For.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `json:"trustProxyHeaders" yaml:"trustProxyHeaders"`

	Debug   bool `json:"debug" yaml:"debug"`
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// NewDefaultDistributorServerConfig returns a config with every optional field set
func NewDefaultDistributorServerConfig() *DistributorServerConfig {
	return &DistributorServerConfig{
		Port:            DefaultPort,
		PersistenceType: PersistenceTypeBadger,
		DataPath:        DefaultDataPath,
		ClaimRateLimit:  DefaultClaimRateLimit,
		ClaimBurst:      DefaultClaimBurst,
		MaxRequestTTL:   DefaultMaxRequestTTL,
		ReplayCacheSize: DefaultReplayCacheSize,
		SignedRateLimit: DefaultSignedRateLimit,
		SignedBurst:     DefaultSignedBurst,
	}
}

// LoadDistributorServerConfig reads a YAML config file on top of the defaults
func LoadDistributorServerConfig(path string) (*DistributorServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	cfg := NewDefaultDistributorServerConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return cfg, nil
}

// Validate validates the distributor server configuration
func (c *DistributorServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	switch c.PersistenceType {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger:
		if c.DataPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataPath"), "dataPath is required for badger persistence"))
		}
	case PersistenceTypeRedis:
		if c.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redis", "address"), "address is required for redis persistence"))
		}
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redis", "db"), c.Redis.DB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistenceType"), c.PersistenceType, persistenceTypeNames()))
	}

	if c.Owner != "" && !common.IsHexAddress(c.Owner) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("owner"), c.Owner, "must be a hex address"))
	}
	if c.Maintainer != "" && !common.IsHexAddress(c.Maintainer) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maintainer"), c.Maintainer, "must be a hex address"))
	}
	if c.MerkleRoot != "" && !isHash(c.MerkleRoot) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("merkleRoot"), c.MerkleRoot, "must be 32 bytes of hex"))
	}

	if c.ClaimRateLimit <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("claimRateLimit"), c.ClaimRateLimit, "must be positive"))
	}
	if c.ClaimBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("claimBurst"), c.ClaimBurst, "must be at least 1"))
	}
	if c.SignedRateLimit <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("signedRateLimit"), c.SignedRateLimit, "must be positive"))
	}
	if c.SignedBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("signedBurst"), c.SignedBurst, "must be at least 1"))
	}
	if c.MaxRequestTTL <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxRequestTTL"), c.MaxRequestTTL.String(), "must be positive"))
	}
	if c.ReplayCacheSize < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("replayCacheSize"), c.ReplayCacheSize, "must be at least 1"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ValidateBootstrap checks the fields needed to initialize an empty ledger
func (c *DistributorServerConfig) ValidateBootstrap() error {
	var allErrors field.ErrorList
	if c.Owner == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("owner"), "owner is required to initialize a new ledger"))
	}
	if c.Maintainer == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("maintainer"), "maintainer is required to initialize a new ledger"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// OwnerAddress returns the configured owner, zero if unset
func (c *DistributorServerConfig) OwnerAddress() common.Address {
	return common.HexToAddress(c.Owner)
}

// MaintainerAddress returns the configured maintainer, zero if unset
func (c *DistributorServerConfig) MaintainerAddress() common.Address {
	return common.HexToAddress(c.Maintainer)
}

// MerkleRootHash returns the configured initial root, zero if unset
func (c *DistributorServerConfig) MerkleRootHash() common.Hash {
	return common.HexToHash(c.MerkleRoot)
}

func persistenceTypeNames() []string {
	names := make([]string, 0, len(SupportedPersistenceTypes))
	for _, p := range SupportedPersistenceTypes {
		names = append(names, p.String())
	}
	return names
}

func isHash(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*common.HashLength {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// DistributorClientConfig configures the distributor CLI's connection to a server
type DistributorClientConfig struct {
	ServerURL  string `json:"serverUrl" yaml:"serverUrl"`
	PrivateKey string `json:"privateKey" yaml:"privateKey"`
	// RequestTTL is how long a signed request stays valid
	RequestTTL time.Duration `json:"requestTTL" yaml:"requestTTL"`
}

func (c *DistributorClientConfig) Validate() error {
	var allErrors field.ErrorList
	if c.ServerURL == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("serverUrl"), "serverUrl is required"))
	} else if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		allErrors = append(allErrors, field.Invalid(field.NewPath("serverUrl"), c.ServerURL, "must start with http:// or https://"))
	}
	if c.RequestTTL < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestTTL"), c.RequestTTL.String(), "must not be negative"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// String hides the private key
func (c *DistributorClientConfig) String() string {
	return fmt.Sprintf("DistributorClientConfig{ServerURL: %s, RequestTTL: %s}", c.ServerURL, c.RequestTTL)
}
