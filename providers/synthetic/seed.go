package synthetic

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/goliatone/go-wearables/core"
)

type sportProfile struct {
	sport       core.SportType
	minDistance float64
	maxDistance float64
	// seconds per meter; zero for sessions without distance
	minPace   float64
	maxPace   float64
	minMinute int
	maxMinute int
	climbRate float64
}

var sportProfiles = []sportProfile{
	{sport: core.SportRun, minDistance: 3000, maxDistance: 25000, minPace: 0.24, maxPace: 0.42, climbRate: 0.008},
	{sport: core.SportRide, minDistance: 15000, maxDistance: 150000, minPace: 0.09, maxPace: 0.16, climbRate: 0.01},
	{sport: core.SportMountainBikeRide, minDistance: 10000, maxDistance: 60000, minPace: 0.14, maxPace: 0.25, climbRate: 0.025},
	{sport: core.SportSwim, minDistance: 500, maxDistance: 5000, minPace: 1.2, maxPace: 2.4},
	{sport: core.SportWalk, minDistance: 2000, maxDistance: 15000, minPace: 0.6, maxPace: 0.9, climbRate: 0.005},
	{sport: core.SportHike, minDistance: 5000, maxDistance: 30000, minPace: 0.7, maxPace: 1.2, climbRate: 0.06},
	{sport: core.SportNordicSki, minDistance: 5000, maxDistance: 50000, minPace: 0.18, maxPace: 0.36, climbRate: 0.015},
	{sport: core.SportStrength, minMinute: 30, maxMinute: 75},
	{sport: core.SportYoga, minMinute: 20, maxMinute: 90},
	{sport: core.SportWorkout, minMinute: 20, maxMinute: 60},
}

// Generate builds count plausible activities ending at now, one every day or
// two. The same seed always yields the same activities.
func Generate(now time.Time, count int, seed uint64) []core.Activity {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]core.Activity, 0, count)
	at := core.DayStart(now)
	for i := 0; i < count; i++ {
		at = at.AddDate(0, 0, -1-rng.IntN(2))
		start := at.Add(time.Duration(6+rng.IntN(13))*time.Hour + time.Duration(rng.IntN(60))*time.Minute)
		profile := sportProfiles[rng.IntN(len(sportProfiles))]

		activity := core.Activity{
			ID:        fmt.Sprintf("synthetic-%d-%03d", seed, i),
			Name:      fmt.Sprintf("%s session", profile.sport),
			SportType: profile.sport,
			StartDate: start,
			Provider:  Name,
		}
		if profile.maxDistance > 0 {
			distance := between(rng, profile.minDistance, profile.maxDistance)
			pace := between(rng, profile.minPace, profile.maxPace)
			activity.DistanceMeters = distance
			activity.DurationSeconds = int64(distance * pace)
			activity.ElevationGain = distance * profile.climbRate * between(rng, 0.5, 1.5)
			activity.AverageSpeed = core.Float64Ptr(1 / pace)
		} else {
			activity.DurationSeconds = int64(profile.minMinute+rng.IntN(profile.maxMinute-profile.minMinute+1)) * 60
		}
		averageHR := between(rng, 115, 165)
		activity.AverageHeartRate = core.Float64Ptr(averageHR)
		activity.MaxHeartRate = core.Float64Ptr(averageHR + between(rng, 10, 30))
		activity.Calories = core.Float64Ptr(float64(activity.DurationSeconds) / 60 * between(rng, 6, 12))
		out = append(out, activity)
	}
	return out
}

func between(rng *rand.Rand, low float64, high float64) float64 {
	return low + rng.Float64()*(high-low)
}
