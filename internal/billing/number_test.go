package billing_test

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billswift/internal/billing"
	"github.com/noah-isme/backend-billswift/internal/obs"
)

func init() {
	obs.MustRegisterDomainMetrics("billswift_test", prometheus.NewRegistry())
}

type probeStub struct {
	takenFirst int
	calls      int
	seen       []string
}

func (p *probeStub) BillNumberExists(_ context.Context, number string) (bool, error) {
	p.calls++
	p.seen = append(p.seen, number)
	return p.calls <= p.takenFirst, nil
}

func newNumberer(t *testing.T, probe billing.NumberProbe, intn func(int) int) *billing.Numberer {
	t.Helper()
	n, err := billing.NewNumberer(billing.NumbererConfig{
		Probe:       probe,
		MaxAttempts: 25,
		NodeID:      1,
		Intn:        intn,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return n
}

func TestGenerateFormatsCandidate(t *testing.T) {
	n := newNumberer(t, &probeStub{}, func(int) int { return 7 })
	number, err := n.Generate(context.Background(), 2026, "E-42")
	require.NoError(t, err)
	require.Equal(t, "BS-2026-E42007", number)
}

func TestGenerateAcceptsTwentyFifthProbe(t *testing.T) {
	probe := &probeStub{takenFirst: 24}
	before := testutil.ToFloat64(obs.BillNumberCollisionsTotal)

	number, err := newNumberer(t, probe, nil).Generate(context.Background(), 2026, "E42")
	require.NoError(t, err)
	require.Equal(t, 25, probe.calls)
	require.Equal(t, probe.seen[24], number)
	require.Regexp(t, regexp.MustCompile(`^BS-2026-E42\d{3}$`), number)
	require.Equal(t, 24.0, testutil.ToFloat64(obs.BillNumberCollisionsTotal)-before)
}

func TestGenerateFallsBackWhenSuffixSpaceExhausted(t *testing.T) {
	probe := &probeStub{takenFirst: 1 << 30}
	n := newNumberer(t, probe, nil)
	before := testutil.ToFloat64(obs.BillNumberFallbackTotal)

	first, err := n.Generate(context.Background(), 2026, "E42")
	require.NoError(t, err)
	second, err := n.Generate(context.Background(), 2026, "E42")
	require.NoError(t, err)

	require.Equal(t, 50, probe.calls)
	require.True(t, strings.HasPrefix(first, "BS-2026-E42"))
	require.Greater(t, len(first), len("BS-2026-E42")+3)
	require.NotEqual(t, first, second)
	require.Equal(t, 2.0, testutil.ToFloat64(obs.BillNumberFallbackTotal)-before)
}

func TestSanitizeEmployeeCode(t *testing.T) {
	cases := map[string]string{
		"E42":     "E42",
		"e-42/x":  "e42x",
		" ab 12 ": "ab12",
		"":        "0000",
		"ü!?":     "0000",
	}
	for in, want := range cases {
		require.Equal(t, want, billing.SanitizeEmployeeCode(in), "input %q", in)
	}
}

func TestNewNumbererRequiresProbe(t *testing.T) {
	_, err := billing.NewNumberer(billing.NumbererConfig{})
	require.Error(t, err)
}
