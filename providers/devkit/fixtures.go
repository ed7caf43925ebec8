package devkit

import (
	"fmt"
	"time"

	"github.com/goliatone/go-wearables/core"
)

// ActivityFixtures returns count activities one hour apart, newest first,
// starting at start. Every third activity shares its start time with the
// previous one so tie-breaking by id gets exercised.
func ActivityFixtures(provider string, start time.Time, count int) []core.Activity {
	activities := make([]core.Activity, 0, count)
	at := start
	for i := 0; i < count; i++ {
		if i%3 != 2 {
			at = start.Add(-time.Duration(i) * time.Hour)
		}
		activities = append(activities, core.Activity{
			ID:              fmt.Sprintf("act-%03d", i),
			Name:            fmt.Sprintf("Session %d", i),
			SportType:       core.SportRun,
			StartDate:       at,
			DurationSeconds: int64(1800 + i*60),
			DistanceMeters:  float64(5000 + i*250),
			ElevationGain:   float64(20 + i),
			Provider:        provider,
		})
	}
	return activities
}

// CredentialsExpiringIn builds credentials whose access token expires after d.
func CredentialsExpiringIn(now time.Time, d time.Duration) core.OAuth2Credentials {
	expiresAt := now.Add(d)
	return core.OAuth2Credentials{
		ClientID:     "client",
		ClientSecret: "secret",
		AccessToken:  "tok_abc",
		RefreshToken: "ref_xyz",
		ExpiresAt:    &expiresAt,
	}
}
