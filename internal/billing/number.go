package billing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-billswift/internal/obs"
)

const (
	defaultPrefix      = "BS"
	defaultMaxAttempts = 25
	anonymousCode      = "0000"
	suffixSpace        = 1000
)

// NumberProbe reports whether a bill number is already taken.
type NumberProbe interface {
	BillNumberExists(ctx context.Context, number string) (bool, error)
}

// Numberer mints short human-readable bill numbers of the form
// "{prefix}-{year}-{code}{NNN}". The probe only lowers the collision rate;
// the unique constraint on bill_number is the final arbiter at commit.
type Numberer struct {
	probe       NumberProbe
	prefix      string
	maxAttempts int
	node        *snowflake.Node
	intn        func(n int) int
	logger      zerolog.Logger
}

// NumbererConfig groups Numberer dependencies.
type NumbererConfig struct {
	Probe       NumberProbe
	Prefix      string
	MaxAttempts int
	NodeID      int64
	// Intn returns a value in [0, n). Defaults to math/rand/v2.
	Intn   func(n int) int
	Logger zerolog.Logger
}

// NewNumberer constructs a Numberer.
func NewNumberer(cfg NumbererConfig) (*Numberer, error) {
	if cfg.Probe == nil {
		return nil, errors.New("billing: number probe is required")
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("billing: snowflake node: %w", err)
	}
	n := &Numberer{
		probe:       cfg.Probe,
		prefix:      strings.TrimSpace(cfg.Prefix),
		maxAttempts: cfg.MaxAttempts,
		node:        node,
		intn:        cfg.Intn,
		logger:      cfg.Logger,
	}
	if n.prefix == "" {
		n.prefix = defaultPrefix
	}
	if n.maxAttempts < 1 {
		n.maxAttempts = defaultMaxAttempts
	}
	if n.intn == nil {
		n.intn = rand.IntN
	}
	return n, nil
}

// Generate returns a bill number not present at probe time. After
// maxAttempts collisions it falls back to a suffix taken from a snowflake id,
// which is time-ordered and monotonic for this node.
func (n *Numberer) Generate(ctx context.Context, year int, employeeCode string) (string, error) {
	base := fmt.Sprintf("%s-%d-%s", n.prefix, year, SanitizeEmployeeCode(employeeCode))
	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		candidate := fmt.Sprintf("%s%03d", base, n.intn(suffixSpace))
		exists, err := n.probe.BillNumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("probe bill number: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		if obs.BillNumberCollisionsTotal != nil {
			obs.BillNumberCollisionsTotal.Inc()
		}
	}
	if obs.BillNumberFallbackTotal != nil {
		obs.BillNumberFallbackTotal.Inc()
	}
	n.logger.Warn().Str("prefix", base).Int("attempts", n.maxAttempts).Msg("bill number suffix space exhausted, using fallback")
	return base + n.node.Generate().String(), nil
}

// SanitizeEmployeeCode keeps ASCII letters and digits. An empty result
// becomes "0000".
func SanitizeEmployeeCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return anonymousCode
	}
	return b.String()
}
