package guard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAnomalyDetector(t *testing.T) (*AnomalyDetector, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := NewLimiter(rdb, nil)
	return NewAnomalyDetector(rdb, limiter, time.Hour), mr
}

func TestSeverityForAggregation(t *testing.T) {
	cases := []struct {
		indicators []string
		want       string
	}{
		{nil, ""},
		{[]string{"pattern"}, SeverityMedium},
		{[]string{"behavioral"}, SeverityMedium},
		{[]string{"volume"}, SeverityHigh},
		{[]string{"volume", "behavioral"}, SeverityCritical},
	}
	for _, tc := range cases {
		if got := severityFor(tc.indicators); got != tc.want {
			t.Errorf("severityFor(%v) = %q, want %q", tc.indicators, got, tc.want)
		}
	}
}

func TestInspectFlagsSuspiciousUserAgentAsMedium(t *testing.T) {
	detector, _ := newTestAnomalyDetector(t)
	ctx := context.Background()

	severity, err := detector.Inspect(ctx, "1.2.3.4", "/api/v1/clients", "sqlmap/1.6")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if severity != SeverityMedium {
		t.Fatalf("severity = %q, want %q", severity, SeverityMedium)
	}
}

func TestInspectFlagsSuspiciousPathAsMedium(t *testing.T) {
	detector, _ := newTestAnomalyDetector(t)
	ctx := context.Background()

	severity, err := detector.Inspect(ctx, "1.2.3.5", "/wp-admin/setup.php", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if severity != SeverityMedium {
		t.Fatalf("severity = %q, want %q", severity, SeverityMedium)
	}
}

// TestInspectFlagsEndpointDiversityAsMedium seeds endpoint diversity
// directly via checkBehavioral (bypassing checkVolume) so the assertion
// isolates the diversity signal from the unrelated volume counter.
func TestInspectFlagsEndpointDiversityAsMedium(t *testing.T) {
	detector, _ := newTestAnomalyDetector(t)
	ctx := context.Background()
	ip := "2.2.2.2"

	for i := 0; i <= diversityThreshold; i++ {
		path := fmt.Sprintf("/api/v1/resource/%d", i)
		if _, err := detector.checkBehavioral(ctx, ip, path); err != nil {
			t.Fatalf("seeding diversity: %v", err)
		}
	}

	severity, err := detector.Inspect(ctx, ip, "/api/v1/resource/final", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if severity != SeverityMedium {
		t.Fatalf("severity = %q, want %q", severity, SeverityMedium)
	}
}

// TestInspectFlagsVolumeAloneAsHigh seeds the volume counter directly via
// checkVolume (bypassing checkBehavioral) so the single closing Inspect
// call sees a fresh, undiversified endpoint/timing history and reports
// volume as the only fired indicator.
func TestInspectFlagsVolumeAloneAsHigh(t *testing.T) {
	detector, _ := newTestAnomalyDetector(t)
	ctx := context.Background()
	ip := "3.3.3.3"

	for i := 0; i <= volumeThreshold; i++ {
		if _, err := detector.checkVolume(ctx, ip); err != nil {
			t.Fatalf("seeding volume: %v", err)
		}
	}

	severity, err := detector.Inspect(ctx, ip, "/api/v1/status", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if severity != SeverityHigh {
		t.Fatalf("severity = %q, want %q", severity, SeverityHigh)
	}
}

// TestInspectCombinesVolumeAndBehavioralIntoCritical seeds both the volume
// counter and endpoint diversity past their thresholds for the same IP, so
// a single closing Inspect call reports both indicators and the aggregated
// severity reaches Critical.
func TestInspectCombinesVolumeAndBehavioralIntoCritical(t *testing.T) {
	detector, _ := newTestAnomalyDetector(t)
	ctx := context.Background()
	ip := "4.4.4.4"

	for i := 0; i <= volumeThreshold; i++ {
		if _, err := detector.checkVolume(ctx, ip); err != nil {
			t.Fatalf("seeding volume: %v", err)
		}
	}
	for i := 0; i <= diversityThreshold; i++ {
		path := fmt.Sprintf("/api/v1/resource/%d", i)
		if _, err := detector.checkBehavioral(ctx, ip, path); err != nil {
			t.Fatalf("seeding diversity: %v", err)
		}
	}

	severity, err := detector.Inspect(ctx, ip, "/api/v1/resource/final", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if severity != SeverityCritical {
		t.Fatalf("severity = %q, want %q", severity, SeverityCritical)
	}
}

func TestEmergencyModeTripAndStatus(t *testing.T) {
	detector, mr := newTestAnomalyDetector(t)
	ctx := context.Background()

	active, err := detector.EmergencyModeActive(ctx)
	if err != nil {
		t.Fatalf("EmergencyModeActive: %v", err)
	}
	if active {
		t.Fatal("expected emergency mode inactive before any trip")
	}

	if err := detector.TripEmergencyMode(ctx); err != nil {
		t.Fatalf("TripEmergencyMode: %v", err)
	}

	active, err = detector.EmergencyModeActive(ctx)
	if err != nil {
		t.Fatalf("EmergencyModeActive: %v", err)
	}
	if !active {
		t.Fatal("expected emergency mode active after trip")
	}

	mr.FastForward(2 * time.Hour)

	active, err = detector.EmergencyModeActive(ctx)
	if err != nil {
		t.Fatalf("EmergencyModeActive: %v", err)
	}
	if active {
		t.Fatal("expected emergency mode to expire after its ttl")
	}
}

// TestCriticalAnomalyTripsEmergencyModeEndToEnd exercises the same
// sequence pkg/guard/middleware.go runs: Inspect, and on Critical,
// TripEmergencyMode, then a status check — so a regression that makes
// Critical unreachable, or that decouples the trip from the status read,
// is caught here rather than only in the middleware itself.
func TestCriticalAnomalyTripsEmergencyModeEndToEnd(t *testing.T) {
	detector, _ := newTestAnomalyDetector(t)
	ctx := context.Background()
	ip := "5.5.5.5"

	for i := 0; i <= volumeThreshold; i++ {
		if _, err := detector.checkVolume(ctx, ip); err != nil {
			t.Fatalf("seeding volume: %v", err)
		}
	}
	for i := 0; i <= diversityThreshold; i++ {
		path := fmt.Sprintf("/api/v1/resource/%d", i)
		if _, err := detector.checkBehavioral(ctx, ip, path); err != nil {
			t.Fatalf("seeding diversity: %v", err)
		}
	}

	severity, err := detector.Inspect(ctx, ip, "/api/v1/resource/final", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if severity != SeverityCritical {
		t.Fatalf("severity = %q, want %q", severity, SeverityCritical)
	}

	if severity == SeverityCritical {
		if err := detector.TripEmergencyMode(ctx); err != nil {
			t.Fatalf("TripEmergencyMode: %v", err)
		}
	}

	active, err := detector.EmergencyModeActive(ctx)
	if err != nil {
		t.Fatalf("EmergencyModeActive: %v", err)
	}
	if !active {
		t.Fatal("expected emergency mode active after a critical anomaly hit")
	}
}
