package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *DistributorServerConfig {
	cfg := NewDefaultDistributorServerConfig()
	cfg.Owner = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	cfg.Maintainer = "0x0000000000000000000000000000000000000001"
	return cfg
}

func TestDistributorServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *DistributorServerConfig)
		wantErr string
	}{
		{"defaults are valid", func(c *DistributorServerConfig) {}, ""},
		{"memory", func(c *DistributorServerConfig) { c.PersistenceType = PersistenceTypeMemory; c.DataPath = "" }, ""},
		{"port too low", func(c *DistributorServerConfig) { c.Port = 0 }, "port"},
		{"port too high", func(c *DistributorServerConfig) { c.Port = 70000 }, "port"},
		{"badger without path", func(c *DistributorServerConfig) { c.DataPath = "" }, "dataPath"},
		{"redis without address", func(c *DistributorServerConfig) { c.PersistenceType = PersistenceTypeRedis }, "redis.address"},
		{"redis bad db", func(c *DistributorServerConfig) {
			c.PersistenceType = PersistenceTypeRedis
			c.Redis.Address = "localhost:6379"
			c.Redis.DB = 16
		}, "redis.db"},
		{"unknown persistence", func(c *DistributorServerConfig) { c.PersistenceType = "postgres" }, "persistenceType"},
		{"bad owner", func(c *DistributorServerConfig) { c.Owner = "0x1234" }, "owner"},
		{"bad maintainer", func(c *DistributorServerConfig) { c.Maintainer = "nope" }, "maintainer"},
		{"bad root", func(c *DistributorServerConfig) { c.MerkleRoot = "0x12" }, "merkleRoot"},
		{"non hex root", func(c *DistributorServerConfig) { c.MerkleRoot = "0x" + strings.Repeat("zz", 32) }, "merkleRoot"},
		{"zero rate", func(c *DistributorServerConfig) { c.ClaimRateLimit = 0 }, "claimRateLimit"},
		{"zero burst", func(c *DistributorServerConfig) { c.ClaimBurst = 0 }, "claimBurst"},
		{"zero signed rate", func(c *DistributorServerConfig) { c.SignedRateLimit = 0 }, "signedRateLimit"},
		{"zero signed burst", func(c *DistributorServerConfig) { c.SignedBurst = 0 }, "signedBurst"},
		{"zero ttl", func(c *DistributorServerConfig) { c.MaxRequestTTL = 0 }, "maxRequestTTL"},
		{"zero cache", func(c *DistributorServerConfig) { c.ReplayCacheSize = 0 }, "replayCacheSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 0
	cfg.ClaimBurst = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "claimBurst")
}

func TestValidateBootstrap(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.ValidateBootstrap())

	cfg.Owner = ""
	cfg.Maintainer = ""
	err := cfg.ValidateBootstrap()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
	assert.Contains(t, err.Error(), "maintainer")
}

func TestAddressHelpers(t *testing.T) {
	cfg := validConfig()
	cfg.MerkleRoot = "0xab" + strings.Repeat("00", 31)
	assert.Equal(t, common.HexToAddress(cfg.Owner), cfg.OwnerAddress())
	assert.Equal(t, common.HexToAddress("0x1"), cfg.MaintainerAddress())
	assert.Equal(t, byte(0xab), cfg.MerkleRootHash()[0])
	require.NoError(t, cfg.Validate())

	cfg.MerkleRoot = ""
	assert.Equal(t, common.Hash{}, cfg.MerkleRootHash())
}

func TestLoadDistributorServerConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "distributor.yaml")
	contents := `
port: 9090
persistenceType: redis
redis:
  address: localhost:6379
  db: 2
  keyPrefix: "airdrop-1:"
owner: "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
maintainer: "0x0000000000000000000000000000000000000001"
maxRequestTTL: 90s
trustProxyHeaders: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadDistributorServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, PersistenceTypeRedis, cfg.PersistenceType)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "airdrop-1:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 90*time.Second, cfg.MaxRequestTTL)
	// unset fields keep their defaults
	assert.Equal(t, DefaultClaimBurst, cfg.ClaimBurst)
	assert.Equal(t, DefaultClaimRateLimit, cfg.ClaimRateLimit)
	assert.Equal(t, DefaultSignedBurst, cfg.SignedBurst)
	assert.True(t, cfg.TrustProxyHeaders)
	require.NoError(t, cfg.Validate())

	_, err = LoadDistributorServerConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [1, 2"), 0o600))
	_, err = LoadDistributorServerConfig(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestDistributorClientConfig(t *testing.T) {
	cfg := &DistributorClientConfig{ServerURL: "http://localhost:8080", PrivateKey: "secret"}
	require.NoError(t, cfg.Validate())
	assert.NotContains(t, cfg.String(), "secret")

	require.Error(t, (&DistributorClientConfig{}).Validate())
	require.Error(t, (&DistributorClientConfig{ServerURL: "localhost:8080"}).Validate())
	require.Error(t, (&DistributorClientConfig{ServerURL: "http://x", RequestTTL: -time.Second}).Validate())
}

func TestGetSupportedPersistenceTypesString(t *testing.T) {
	assert.Equal(t, "memory, badger, redis", GetSupportedPersistenceTypesString())
}
