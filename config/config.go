package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/keybot/internal/domain"
)

// Config es la configuración completa del agente.
type Config struct {
	Chain       ChainConfig       `yaml:"chain"`
	Detector    DetectorConfig    `yaml:"detector"`
	Eligibility EligibilityConfig `yaml:"eligibility"`
	Admission   AdmissionConfig   `yaml:"admission"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Reputation  ReputationConfig  `yaml:"reputation"`
	Journal     JournalConfig     `yaml:"journal"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// ChainConfig describe la red y el contrato del mercado.
type ChainConfig struct {
	RPCURL                string `yaml:"rpc_url"`
	ChainID               int64  `yaml:"chain_id"`
	MarketAddress         string `yaml:"market_address"`
	ReceiptTimeoutSeconds int    `yaml:"receipt_timeout_seconds"`
	ReceiptPollMillis     int    `yaml:"receipt_poll_ms"`
}

// DetectorConfig controla el sondeo.
type DetectorConfig struct {
	IntervalMillis     int `yaml:"interval_ms"`
	CycleTimeoutMillis int `yaml:"cycle_timeout_ms"`
	MaxTracked         int `yaml:"max_tracked"`
}

// EligibilityConfig contiene el techo de precio y los umbrales de reputación.
type EligibilityConfig struct {
	PriceCeilingETH string  `yaml:"price_ceiling_eth"` // decimal, p.ej. "0.012"
	HighFollowers   int64   `yaml:"high_followers"`
	LowFollowers    int64   `yaml:"low_followers"`
	LowScore        float64 `yaml:"low_score"`
	HighScore       float64 `yaml:"high_score"`
	PriceWorkers    int     `yaml:"price_workers"`
	LookupWorkers   int     `yaml:"lookup_workers"`
}

// AdmissionConfig controla el conjunto de admisión.
type AdmissionConfig struct {
	Capacity   int `yaml:"capacity"`
	TTLSeconds int `yaml:"ttl_seconds"` // 0 = solo vaciado completo
}

// ExecutionConfig contiene la identidad y los parámetros de gas.
// Sin clave privada el engine queda inerte.
type ExecutionConfig struct {
	PrivateKey      string `yaml:"private_key"` // mejor vía KEYBOT_PRIVATE_KEY
	GasLimit        uint64 `yaml:"gas_limit"`
	MaxFeeGwei      int64  `yaml:"max_fee_gwei"`
	PriorityFeeGwei int64  `yaml:"priority_fee_gwei"`
}

// ReputationConfig contiene los endpoints de reputación.
type ReputationConfig struct {
	UsersBase      string  `yaml:"users_base"`
	PrimaryBase    string  `yaml:"primary_base"`
	SecondaryBase  string  `yaml:"secondary_base"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Retries        int     `yaml:"retries"`
}

// JournalConfig acota el journal en memoria.
type JournalConfig struct {
	MaxRows int `yaml:"max_rows"`
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // vacío = desactivado, p.ej. ":9102"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json | pretty
	Quiet  bool   `yaml:"quiet"`  // no imprimir evaluaciones sin aceptados
}

// dotenvFile es el .env que leen Load y Reload.
var dotenvFile = ".env"

var (
	dotenvMu sync.Mutex
	// dotenvOwned son las claves cuyo valor actual vino del .env.
	dotenvOwned = map[string]bool{}
)

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML; el .env no
// pisa las variables que ya trae el proceso.
func Load(path string) (*Config, error) {
	applyDotenv(false)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Reload vuelve a leer la configuración para SIGHUP. A diferencia de Load,
// el .env pisa las variables del proceso, y las claves que el .env había
// fijado y ya no contiene se borran: quitar KEYBOT_PRIVATE_KEY del .env
// deja al agente en solo lectura.
func Reload(path string) (*Config, error) {
	applyDotenv(true)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Reload: read %q: %w", path, err)
	}
	return Parse(data)
}

// applyDotenv copia el .env al entorno. Un .env ausente cuenta como vacío.
func applyDotenv(override bool) {
	dotenvMu.Lock()
	defer dotenvMu.Unlock()

	env, err := godotenv.Read(dotenvFile)
	if err != nil {
		env = map[string]string{}
	}

	for k, v := range env {
		if _, present := os.LookupEnv(k); present && !override && !dotenvOwned[k] {
			continue
		}
		_ = os.Setenv(k, v)
		dotenvOwned[k] = true
	}
	if !override {
		return
	}
	for k := range dotenvOwned {
		if _, ok := env[k]; !ok {
			_ = os.Unsetenv(k)
			delete(dotenvOwned, k)
		}
	}
}

// Parse interpreta un YAML ya leído, aplica entorno y defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate comprueba los valores que no tienen default razonable.
func (c *Config) Validate() error {
	var errs []error
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("chain.chain_id must be positive, got %d", c.Chain.ChainID))
	}
	if !common.IsHexAddress(c.Chain.MarketAddress) {
		errs = append(errs, fmt.Errorf("chain.market_address %q is not an address", c.Chain.MarketAddress))
	}
	if ceiling, err := domain.ParseEther(c.Eligibility.PriceCeilingETH); err != nil {
		errs = append(errs, fmt.Errorf("eligibility.price_ceiling_eth: %w", err))
	} else if ceiling.Sign() == 0 {
		errs = append(errs, errors.New("eligibility.price_ceiling_eth must be positive"))
	}
	if c.Execution.PriorityFeeGwei > c.Execution.MaxFeeGwei {
		errs = append(errs, fmt.Errorf("execution.priority_fee_gwei (%d) exceeds max_fee_gwei (%d)",
			c.Execution.PriorityFeeGwei, c.Execution.MaxFeeGwei))
	}
	switch c.Log.Format {
	case "text", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text|json|pretty", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config.Validate: %w", errors.Join(errs...))
	}
	return nil
}

// Interval devuelve el intervalo de sondeo.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Detector.IntervalMillis) * time.Millisecond
}

// CycleTimeout devuelve el tope de duración de un ciclo del detector.
func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.Detector.CycleTimeoutMillis) * time.Millisecond
}

// Ceiling devuelve el techo de precio en wei. Validate garantiza que parsea.
func (c *Config) Ceiling() *big.Int {
	v, err := domain.ParseEther(c.Eligibility.PriceCeilingETH)
	if err != nil {
		return new(big.Int)
	}
	return v
}

// Thresholds devuelve los umbrales de aceptación.
func (c *Config) Thresholds() domain.Thresholds {
	return domain.Thresholds{
		HighFollowers: c.Eligibility.HighFollowers,
		LowFollowers:  c.Eligibility.LowFollowers,
		LowScore:      c.Eligibility.LowScore,
		HighScore:     c.Eligibility.HighScore,
	}
}

// Gas devuelve los parámetros fijos de gas.
func (c *Config) Gas() domain.GasParams {
	return domain.GasParams{
		Limit:          c.Execution.GasLimit,
		MaxFeePerGas:   domain.Gwei(c.Execution.MaxFeeGwei),
		MaxPriorityFee: domain.Gwei(c.Execution.PriorityFeeGwei),
	}
}

// Market devuelve la dirección del contrato del mercado.
func (c *Config) Market() common.Address {
	return common.HexToAddress(c.Chain.MarketAddress)
}

// ReceiptTimeout devuelve el tope de espera de una confirmación.
func (c *Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.Chain.ReceiptTimeoutSeconds) * time.Second
}

// ReceiptPoll devuelve el intervalo de sondeo de receipts.
func (c *Config) ReceiptPoll() time.Duration {
	return time.Duration(c.Chain.ReceiptPollMillis) * time.Millisecond
}

// AdmissionTTL devuelve la caducidad de las entradas admitidas (0 = sin caducidad).
func (c *Config) AdmissionTTL() time.Duration {
	return time.Duration(c.Admission.TTLSeconds) * time.Second
}

// ReputationTimeout devuelve el timeout HTTP de los proveedores de reputación.
func (c *Config) ReputationTimeout() time.Duration {
	return time.Duration(c.Reputation.TimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KEYBOT_PRIVATE_KEY"); v != "" {
		cfg.Execution.PrivateKey = v
	}
	if v := os.Getenv("KEYBOT_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("KEYBOT_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	cfg.Execution.PrivateKey = strings.TrimSpace(cfg.Execution.PrivateKey)
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://mainnet.base.org"
	}
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = 8453 // Base
	}
	if cfg.Chain.MarketAddress == "" {
		cfg.Chain.MarketAddress = "0xCF205808Ed36593aa40a44F10c7f7C2F67d4A4d4"
	}
	if cfg.Chain.ReceiptTimeoutSeconds <= 0 {
		cfg.Chain.ReceiptTimeoutSeconds = 120
	}
	if cfg.Chain.ReceiptPollMillis <= 0 {
		cfg.Chain.ReceiptPollMillis = 1000
	}

	if cfg.Detector.IntervalMillis <= 0 {
		cfg.Detector.IntervalMillis = 1000
	}
	if cfg.Detector.CycleTimeoutMillis <= 0 {
		cfg.Detector.CycleTimeoutMillis = 10_000
	}
	if cfg.Detector.MaxTracked <= 0 {
		cfg.Detector.MaxTracked = 200
	}

	if cfg.Eligibility.PriceCeilingETH == "" {
		cfg.Eligibility.PriceCeilingETH = "0.012"
	}
	def := domain.DefaultThresholds()
	if cfg.Eligibility.HighFollowers <= 0 {
		cfg.Eligibility.HighFollowers = def.HighFollowers
	}
	if cfg.Eligibility.LowFollowers <= 0 {
		cfg.Eligibility.LowFollowers = def.LowFollowers
	}
	if cfg.Eligibility.LowScore <= 0 {
		cfg.Eligibility.LowScore = def.LowScore
	}
	if cfg.Eligibility.HighScore <= 0 {
		cfg.Eligibility.HighScore = def.HighScore
	}

	if cfg.Admission.Capacity <= 0 {
		cfg.Admission.Capacity = 20
	}

	gas := domain.DefaultGasParams()
	if cfg.Execution.GasLimit == 0 {
		cfg.Execution.GasLimit = gas.Limit
	}
	if cfg.Execution.MaxFeeGwei <= 0 {
		cfg.Execution.MaxFeeGwei = 50
	}
	if cfg.Execution.PriorityFeeGwei <= 0 {
		cfg.Execution.PriorityFeeGwei = 20
	}

	if cfg.Reputation.TimeoutSeconds <= 0 {
		cfg.Reputation.TimeoutSeconds = 5
	}
	if cfg.Reputation.RatePerSecond <= 0 {
		cfg.Reputation.RatePerSecond = 10
	}
	if cfg.Journal.MaxRows <= 0 {
		cfg.Journal.MaxRows = 1000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
