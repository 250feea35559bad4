package projection

import (
	"testing"
	"time"

	"github.com/jittakal/loglake/pkg/projection"
)

func TestTimeResolver_Resolve(t *testing.T) {
	spec := projection.DefaultSpec("logs/")
	resolver := NewTimeResolver(spec)

	tests := []struct {
		name     string
		at       time.Time
		wantPath string
	}{
		{
			name:     "mid morning",
			at:       time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			wantPath: "logs/year=2024/month=01/day=15/hour=10/",
		},
		{
			name:     "single digit fields are padded",
			at:       time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC),
			wantPath: "logs/year=2024/month=03/day=05/hour=07/",
		},
		{
			name:     "midnight",
			at:       time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
			wantPath: "logs/year=2025/month=12/day=31/hour=00/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := resolver.Resolve(tt.at)
			if got := key.Path(spec); got != tt.wantPath {
				t.Errorf("Path = %q, want %q", got, tt.wantPath)
			}
		})
	}
}

func TestTimeResolver_NonUTCInput(t *testing.T) {
	spec := projection.DefaultSpec("logs/")
	resolver := NewTimeResolver(spec)

	// 23:30 in UTC+5 is 18:30 UTC; the key must reflect UTC.
	zone := time.FixedZone("UTC+5", 5*3600)
	key := resolver.Resolve(time.Date(2024, 6, 1, 23, 30, 0, 0, zone))

	if got := key.Value("hour"); got != "18" {
		t.Errorf("hour = %q, want 18", got)
	}
	if got := key.Value("day"); got != "01" {
		t.Errorf("day = %q, want 01", got)
	}
}

func TestTimeResolver_Deterministic(t *testing.T) {
	spec := projection.DefaultSpec("logs/")
	resolver := NewTimeResolver(spec)
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	first := resolver.Resolve(at).Path(spec)
	for i := 0; i < 10; i++ {
		if got := resolver.Resolve(at).Path(spec); got != first {
			t.Fatalf("Resolve not deterministic: %q != %q", got, first)
		}
	}
}
