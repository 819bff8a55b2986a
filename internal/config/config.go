package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/pocketpay/transferd/internal/storage"
	"github.com/pocketpay/transferd/pkg/transfer"
	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	APIKey    string `env:"API_KEY,required"`
	SentryURL string `env:"SENTRY_URL"`
	DBPath    string `env:"DB_PATH,default=."`

	CustodyBaseURL string `env:"CUSTODY_BASE_URL,default=http://localhost:8080"`
	CustodyAPIKey  string `env:"CUSTODY_API_KEY"`

	SignerBaseURL      string `env:"SIGNER_BASE_URL"`
	AttestationBaseURL string `env:"ATTESTATION_BASE_URL"`

	WebhookURL string `env:"WEBHOOK_URL"`
	AppName    string `env:"APP_NAME,default=transferd"`

	// SigningKey is the app-held custody key, hex encoded.
	SigningKey string `env:"SIGNING_KEY"`

	ServiceFeePct     string `env:"SERVICE_FEE_PCT,default=0.005"`
	ServiceFeeMinimum string `env:"SERVICE_FEE_MIN,default=0.05"`
	ServiceFeeEnabled bool   `env:"SERVICE_FEE_ENABLED,default=true"`
}

func New(ctx context.Context, envpath string) (*Config, error) {
	if envpath != "" {
		log.Default().Println("loading env from file: ", envpath)
		err := godotenv.Load(envpath)
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	err := envconfig.Process(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ServiceFee returns the parsed service fee configuration.
func (c *Config) ServiceFee() (pct, minimum decimal.Decimal, err error) {
	pct, err = decimal.NewFromString(c.ServiceFeePct)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid SERVICE_FEE_PCT: %w", err)
	}

	minimum, err = decimal.NewFromString(c.ServiceFeeMinimum)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid SERVICE_FEE_MIN: %w", err)
	}

	return pct, minimum, nil
}

type chainsFile struct {
	Chains []chainEntry `json:"chains"`
}

type chainEntry struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Label            string `json:"label"`
	Sponsored        bool   `json:"sponsored"`
	DefaultFee       string `json:"default_fee"`
	StalenessSeconds int64  `json:"staleness_seconds"`
}

// LoadChains parses the chain table from chains.json at the given path.
func LoadChains(confpath string) (transfer.ChainTable, error) {
	path := fmt.Sprintf("%s/chains.json", confpath)

	if !storage.Exists(path) {
		return nil, fmt.Errorf("chains.json not found at %s", confpath)
	}

	b, err := storage.Read(path)
	if err != nil {
		return nil, err
	}

	var cf chainsFile
	err = json.Unmarshal(b, &cf)
	if err != nil {
		return nil, err
	}

	if len(cf.Chains) == 0 {
		return nil, fmt.Errorf("chains.json contains no chains")
	}

	table := transfer.ChainTable{}
	for _, e := range cf.Chains {
		defaultFee := decimal.Zero
		if e.DefaultFee != "" {
			defaultFee, err = decimal.NewFromString(e.DefaultFee)
			if err != nil {
				return nil, fmt.Errorf("invalid default_fee for chain %d: %w", e.ID, err)
			}
		}

		if e.StalenessSeconds == 0 {
			e.StalenessSeconds = 600
		}

		table[e.ID] = transfer.Chain{
			ID:               e.ID,
			Name:             e.Name,
			Label:            e.Label,
			Sponsored:        e.Sponsored,
			DefaultFee:       defaultFee,
			StalenessSeconds: e.StalenessSeconds,
		}
	}

	return table, nil
}
