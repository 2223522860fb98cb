// Package license decides whether enterprise features are unlocked.
//
// A license is checked either offline, as an RS256 JWT signed by the vendor key, or online by
// posting it to the vendor endpoint. Every failure is treated as an invalid license.
package license

import (
	"context"
	"crypto/rsa"
	_ "embed"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/flowguard/pkg/observability"
)

//go:embed public.pem
var embeddedPublicKey []byte

// Config configures a Verifier
type Config struct {
	Key     string
	URL     string
	Offline bool
	// PublicKeyPEM overrides the embedded vendor key
	PublicKeyPEM string
	Timeout      time.Duration
}

// Result is the outcome of a license check
type Result struct {
	Valid     bool      `json:"valid"`
	CheckedAt time.Time `json:"checkedAt"`
	Reason    string    `json:"reason,omitempty"`
}

// Verifier validates the configured license and caches the result
type Verifier struct {
	cfg     Config
	pub     *rsa.PublicKey
	client  *http.Client
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	group  singleflight.Group
	mu     sync.RWMutex
	result Result
}

// Option configures a Verifier
type Option func(*Verifier)

// WithHTTPClient sets the client used for online checks
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.client = c }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithMetrics records the cached result on the license gauge
func WithMetrics(m *observability.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier creates a verifier. An unparseable public key is logged and leaves offline
// checks permanently invalid.
func NewVerifier(cfg Config, logger *observability.Logger, opts ...Option) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	v := &Verifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.WithField("component", "license"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	pemBytes := embeddedPublicKey
	if cfg.PublicKeyPEM != "" {
		pemBytes = []byte(cfg.PublicKeyPEM)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		v.logger.WithError(err).Error("Failed to parse license public key")
	} else {
		v.pub = pub
	}
	return v
}

// Validate runs a check without touching the cached result
func (v *Verifier) Validate(ctx context.Context) Result {
	res := Result{CheckedAt: v.now()}
	if v.cfg.Key == "" {
		res.Reason = "no license key configured"
		return res
	}

	var err error
	if v.cfg.Offline {
		err = v.verifyOffline(v.cfg.Key, res.CheckedAt)
	} else {
		err = v.verifyOnline(ctx, v.cfg.Key)
	}
	if err != nil {
		v.logger.WithError(err).WithField("offline", v.cfg.Offline).Warn("License check failed")
		res.Reason = err.Error()
		return res
	}

	res.Valid = true
	return res
}

// Start performs the startup check and caches it for the process lifetime
func (v *Verifier) Start(ctx context.Context) Result {
	return v.Revalidate(ctx)
}

// Revalidate checks the license again and replaces the cached result. Concurrent callers
// share one check.
func (v *Verifier) Revalidate(ctx context.Context) Result {
	out, _, _ := v.group.Do("license", func() (interface{}, error) {
		res := v.Validate(ctx)
		v.mu.Lock()
		v.result = res
		v.mu.Unlock()
		v.metrics.SetLicenseValid(res.Valid)
		return res, nil
	})
	return out.(Result)
}

// IsValid returns the cached result
func (v *Verifier) IsValid() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.result.Valid
}

// Result returns the cached result
func (v *Verifier) Result() Result {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.result
}

// Schedule registers periodic re-validation on c. An empty spec schedules nothing.
func (v *Verifier) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	if spec == "" {
		return 0, nil
	}
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), v.cfg.Timeout)
		defer cancel()

		res := v.Revalidate(ctx)
		v.logger.WithField("valid", res.Valid).Info("License re-validated")
	})
}
