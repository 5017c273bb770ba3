package runway

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func activeStream(perMonth, wrapped string) model.Stream {
	terms := TermsFor(dec(perMonth))
	return model.Stream{
		FlowRatePerMonth:  dec(perMonth),
		FlowRatePerSecond: terms.PerSecond,
		Funding:           model.Funding{Wrapped: dec(wrapped), Buffer: terms.Buffer},
		TotalStreamed:     decimal.Zero,
		TotalWithdrawn:    decimal.Zero,
		Status:            model.StreamActive,
		StartedAt:         t0,
	}
}

func TestTermsForTwoThousandPerMonth(t *testing.T) {
	terms := TermsFor(dec("2000"))

	if got := terms.PerSecond.Round(7); !got.Equal(dec("0.0007716")) {
		t.Fatalf("expected per second 0.0007716, got %s", got)
	}
	if got := terms.Buffer.Round(2); !got.Equal(dec("11.11")) {
		t.Fatalf("expected buffer 11.11, got %s", got)
	}
	if !terms.MinFunding.Equal(dec("477.78")) {
		t.Fatalf("expected min funding 477.78, got %s", terms.MinFunding)
	}
}

func TestFreshStreamWithMinimumFundingIsHealthy(t *testing.T) {
	s := activeStream("2000", TermsFor(dec("2000")).MinFunding.String())
	snap := Compute(s, t0)

	if !snap.Streamed.IsZero() || !snap.Available.IsZero() {
		t.Fatalf("expected nothing streamed, got %+v", snap)
	}
	// 477.78 * 1296 seconds per dollar
	if snap.RunwaySeconds != 619202 {
		t.Fatalf("expected runway 619202, got %d", snap.RunwaySeconds)
	}
	if snap.RunwaySeconds < MinRunwaySeconds {
		t.Fatalf("runway below 7 days")
	}
	if snap.Health != model.HealthHealthy {
		t.Fatalf("expected healthy, got %s", snap.Health)
	}
}

func TestStreamedGrowsAndCapsAtWrapped(t *testing.T) {
	// 2592 per month is exactly 0.001 per second
	s := activeStream("2592", "10")

	snap := Compute(s, t0.Add(1000*time.Second+500*time.Millisecond))
	if !snap.Streamed.Equal(dec("1")) {
		t.Fatalf("expected 1 streamed after 1000s, got %s", snap.Streamed)
	}
	if snap.RunwaySeconds != 9000 {
		t.Fatalf("expected runway 9000, got %d", snap.RunwaySeconds)
	}

	s.TotalWithdrawn = dec("0.4")
	snap = Compute(s, t0.Add(1000*time.Second))
	if !snap.Available.Equal(dec("0.6")) {
		t.Fatalf("expected available 0.6, got %s", snap.Available)
	}

	snap = Compute(s, t0.Add(30*24*time.Hour))
	if !snap.Streamed.Equal(dec("10")) || snap.RunwaySeconds != 0 || snap.Health != model.HealthCritical {
		t.Fatalf("expected exhausted stream, got %+v", snap)
	}
}

func TestPausedTimeIsExcluded(t *testing.T) {
	s := activeStream("2592", "100")

	// 100s active, 50s paused, 100s active
	s.TotalPausedSeconds = 50
	snap := Compute(s, t0.Add(250*time.Second))
	if !snap.Streamed.Equal(dec("0.2")) {
		t.Fatalf("expected 0.2, got %s", snap.Streamed)
	}

	// stream with no pause observed at the same active duration
	plain := activeStream("2592", "100")
	if got := Compute(plain, t0.Add(200*time.Second)).Streamed; !got.Equal(snap.Streamed) {
		t.Fatalf("pause/resume changed streamed amount: %s vs %s", got, snap.Streamed)
	}
}

func TestPausedAndCancelledAreFrozen(t *testing.T) {
	for _, status := range []model.StreamStatus{model.StreamPaused, model.StreamCancelled} {
		s := activeStream("2592", "100")
		s.Status = status
		s.TotalStreamed = dec("3.5")
		s.TotalWithdrawn = dec("1")

		snap := Compute(s, t0.Add(365*24*time.Hour))
		if !snap.Streamed.Equal(dec("3.5")) || !snap.Available.Equal(dec("2.5")) {
			t.Fatalf("%s: expected frozen values, got %+v", status, snap)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		runway int64
		want   model.Health
	}{
		{0, model.HealthCritical},
		{3600, model.HealthCritical},
		{24 * 3600, model.HealthCritical},
		{24*3600 + 1, model.HealthWarning},
		{7 * 24 * 3600, model.HealthWarning},
		{7*24*3600 + 1, model.HealthHealthy},
		{10 * 24 * 3600, model.HealthHealthy},
	}
	for _, tc := range cases {
		if got := Classify(tc.runway); got != tc.want {
			t.Errorf("Classify(%d) = %s, want %s", tc.runway, got, tc.want)
		}
	}
}

func TestStreamedNeverGoesBackwards(t *testing.T) {
	s := activeStream("2592", "100")
	s.TotalStreamed = dec("5")
	if got := Streamed(s, t0.Add(time.Second)); !got.Equal(dec("5")) {
		t.Fatalf("expected recorded value to hold, got %s", got)
	}
}
