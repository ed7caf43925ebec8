package terra

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
)

// activity type codes of the normalized payloads
var sportsByCode = map[int]core.SportType{
	1:  core.SportRun,
	2:  core.SportRun,
	3:  core.SportRun,
	4:  core.SportVirtualRun,
	5:  core.SportRide,
	6:  core.SportVirtualRide,
	7:  core.SportMountainBikeRide,
	8:  core.SportGravelRide,
	9:  core.SportEbikeRide,
	10: core.SportSwim,
	11: core.SportSwim,
	12: core.SportSwim,
	13: core.SportWalk,
	14: core.SportHike,
	15: core.SportNordicSki,
	16: core.SportAlpineSki,
	17: core.SportOther,
	18: core.SportOther,
	19: core.SportRowing,
	20: core.SportKayaking,
	21: core.SportOther,
	22: core.SportOther,
	30: core.SportStrength,
	31: core.SportCrossfit,
	32: core.SportYoga,
	33: core.SportPilates,
}

const (
	stageAwake = 1
	stageLight = 2
	stageDeep  = 3
	stageREM   = 4
)

func sportFromCode(code *int) core.SportType {
	if code == nil {
		return core.SportWorkout
	}
	if sport, ok := sportsByCode[*code]; ok {
		return sport
	}
	return core.SportWorkout
}

func stageFromCode(code int) core.SleepStageType {
	switch code {
	case stageAwake:
		return core.SleepStageAwake
	case stageDeep:
		return core.SleepStageDeep
	case stageREM:
		return core.SleepStageREM
	default:
		return core.SleepStageLight
	}
}

// sourceName labels records with the wearable the user connected through.
func sourceName(user User) string {
	if source := strings.ToLower(strings.TrimSpace(user.Provider)); source != "" {
		return Name + ":" + source
	}
	return Name
}

func recordID(meta metadata) string {
	if id := strings.TrimSpace(meta.SummaryID); id != "" {
		return id
	}
	return uuid.NewString()
}

func convertActivity(user User, in activityPayload) (core.Activity, error) {
	start, err := providers.ParseTimestamp(in.Metadata.StartTime)
	if err != nil {
		return core.Activity{}, fmt.Errorf("activity start time: %w", err)
	}
	sport := sportFromCode(in.Metadata.Type)
	activity := core.Activity{
		ID:              recordID(in.Metadata),
		Name:            in.Metadata.Name,
		SportType:       sport,
		SportTypeDetail: in.Metadata.Name,
		StartDate:       start,
		City:            in.Metadata.City,
		Country:         in.Metadata.Country,
		Provider:        sourceName(user),
	}
	if activity.Name == "" {
		activity.Name = string(sport)
	}
	if end, err := providers.ParseTimestamp(in.Metadata.EndTime); err == nil && end.After(start) {
		activity.DurationSeconds = int64(end.Sub(start) / time.Second)
	} else if in.ActiveDurations != nil && in.ActiveDurations.ActivitySeconds != nil {
		activity.DurationSeconds = int64(*in.ActiveDurations.ActivitySeconds)
	}
	if in.Distance != nil {
		if in.Distance.DistanceMeters != nil {
			activity.DistanceMeters = *in.Distance.DistanceMeters
		}
		if in.Distance.ElevationGainMetres != nil {
			activity.ElevationGain = *in.Distance.ElevationGainMetres
		}
		activity.Steps = in.Distance.Steps
	}
	if in.Calories != nil {
		activity.Calories = in.Calories.TotalBurnedCalories
	}
	if in.HeartRate != nil {
		activity.AverageHeartRate = in.HeartRate.AvgBPM
		activity.MaxHeartRate = in.HeartRate.MaxBPM
		activity.HRV = in.HeartRate.AvgRMSSD
	}
	if in.Movement != nil {
		activity.AverageSpeed = in.Movement.AvgSpeed
		activity.MaxSpeed = in.Movement.MaxSpeed
		activity.AverageCadence = in.Movement.AvgCadence
	}
	if in.Power != nil {
		activity.AveragePower = in.Power.AvgWatts
		activity.MaxPower = in.Power.MaxWatts
	}
	if in.Oxygen != nil {
		activity.SpO2 = in.Oxygen.AvgSaturation
	}
	if in.TSS != nil {
		activity.TrainingStress = in.TSS.TSS
	}
	if in.Strain != nil {
		activity.SufferScore = in.Strain.StrainLevel
	}
	if in.Position != nil && len(in.Position.Start) == 2 {
		activity.StartLatitude = core.Float64Ptr(in.Position.Start[0])
		activity.StartLongitude = core.Float64Ptr(in.Position.Start[1])
	}
	return activity, nil
}

func convertSleep(user User, in sleepPayload) (core.SleepSession, error) {
	start, err := providers.ParseTimestamp(in.Metadata.StartTime)
	if err != nil {
		return core.SleepSession{}, fmt.Errorf("sleep start time: %w", err)
	}
	end, err := providers.ParseTimestamp(in.Metadata.EndTime)
	if err != nil || end.Before(start) {
		return core.SleepSession{}, fmt.Errorf("sleep %s has no valid end time", in.Metadata.SummaryID)
	}
	session := core.SleepSession{
		ID:        recordID(in.Metadata),
		StartTime: start,
		EndTime:   end,
		Provider:  sourceName(user),
	}
	inBedSeconds := end.Sub(start).Seconds()
	if durations := in.Durations; durations != nil {
		if durations.InBedSeconds != nil {
			inBedSeconds = *durations.InBedSeconds
		}
		if durations.AsleepSeconds != nil {
			session.TotalSleepMinutes = int64(*durations.AsleepSeconds / 60)
		}
		if durations.NumAwakenings != nil {
			session.WakeCount = durations.NumAwakenings
		}
		if durations.SleepLatencySeconds != nil {
			session.SleepOnsetLatencyMinutes = core.Int64Ptr(int64(*durations.SleepLatencySeconds / 60))
		}
		for _, stage := range durations.Stages {
			stageStart, startErr := providers.ParseTimestamp(stage.StartTime)
			stageEnd, endErr := providers.ParseTimestamp(stage.EndTime)
			if startErr != nil || endErr != nil {
				continue
			}
			session.Stages = append(session.Stages, core.SleepStage{
				Stage:           stageFromCode(stage.Stage),
				StartTime:       stageStart,
				DurationMinutes: int64(stageEnd.Sub(stageStart) / time.Minute),
			})
		}
	}
	session.TimeInBedMinutes = int64(inBedSeconds / 60)
	switch {
	case session.TimeInBedMinutes > 0:
		session.Efficiency = core.Float64Ptr(float64(session.TotalSleepMinutes) / float64(session.TimeInBedMinutes) * 100)
	case in.Durations != nil && in.Durations.SleepEfficiency != nil:
		session.Efficiency = in.Durations.SleepEfficiency
	}
	if in.HeartRate != nil {
		session.HRVDuringSleep = in.HeartRate.AvgRMSSD
	}
	if in.Respiration != nil {
		session.RespiratoryRate = in.Respiration.AvgBreathsPerMinute
	}
	if in.Temperature != nil {
		session.TemperatureVariation = in.Temperature.DeltaCelsius
	}
	if in.Readiness != nil {
		session.Score = in.Readiness.RecoveryScore
		if session.Score == nil {
			session.Score = in.Readiness.ReadinessScore
		}
	}
	return session, nil
}

// recoveryFromSleep derives the morning readiness reading a sleep carries.
// The record is dated by the day the sleep ended.
func recoveryFromSleep(user User, in sleepPayload) (core.RecoveryMetrics, bool) {
	if in.Readiness == nil {
		return core.RecoveryMetrics{}, false
	}
	end, err := providers.ParseTimestamp(in.Metadata.EndTime)
	if err != nil {
		return core.RecoveryMetrics{}, false
	}
	readiness := in.Readiness
	metric := core.RecoveryMetrics{
		Date:           core.DayStart(end),
		RecoveryScore:  readiness.RecoveryScore,
		ReadinessScore: readiness.ReadinessScore,
		SleepScore:     readiness.SleepBalance,
		TrainingLoad:   readiness.ActivityBalance,
		Provider:       sourceName(user),
	}
	if readiness.HRVBalance != nil {
		switch {
		case *readiness.HRVBalance > 0:
			metric.HRVStatus = core.HRVStatusHigh
		case *readiness.HRVBalance < 0:
			metric.HRVStatus = core.HRVStatusLow
		default:
			metric.HRVStatus = core.HRVStatusNormal
		}
	}
	if in.HeartRate != nil {
		metric.RestingHeartRate = in.HeartRate.RestingBPM
		metric.HRV = in.HeartRate.AvgRMSSD
	}
	if in.Temperature != nil {
		metric.BodyTemperature = in.Temperature.DeltaCelsius
	}
	if in.Respiration != nil {
		metric.RestingRespiratoryRate = in.Respiration.AvgBreathsPerMinute
	}
	return metric, true
}

func convertDaily(user User, in dailyPayload) (core.RecoveryMetrics, error) {
	start, err := providers.ParseTimestamp(in.Metadata.StartTime)
	if err != nil {
		return core.RecoveryMetrics{}, fmt.Errorf("daily start time: %w", err)
	}
	metric := core.RecoveryMetrics{
		Date:     core.DayStart(start),
		Provider: sourceName(user),
	}
	if in.Scores != nil {
		metric.RecoveryScore = in.Scores.Recovery
		metric.ReadinessScore = in.Scores.Activity
		metric.SleepScore = in.Scores.Sleep
	}
	if in.Stress != nil {
		metric.StressLevel = in.Stress.AvgStressLevel
	}
	if in.HeartRate != nil {
		metric.RestingHeartRate = in.HeartRate.RestingBPM
	}
	return metric, nil
}

func convertBody(user User, in bodyPayload) (core.HealthMetrics, error) {
	start, err := providers.ParseTimestamp(in.Metadata.StartTime)
	if err != nil {
		return core.HealthMetrics{}, fmt.Errorf("body start time: %w", err)
	}
	metric := core.HealthMetrics{
		Date:     core.DayStart(start),
		Provider: sourceName(user),
	}
	if m := in.Measurements; m != nil {
		metric.WeightKg = m.WeightKg
		metric.BodyFatPercent = m.BodyFatPercentage
		metric.MuscleMassKg = m.MuscleMassKg
		metric.BoneMassKg = m.BoneMassKg
		metric.BodyWaterPct = m.BodyWaterPercentage
		metric.BMR = m.BMR
		metric.BloodGlucose = m.BloodGlucose
		if m.Systolic != nil && m.Diastolic != nil {
			metric.BloodPressure = &core.BloodPressure{Systolic: *m.Systolic, Diastolic: *m.Diastolic}
		}
	}
	if in.Oxygen != nil {
		metric.VO2Max = in.Oxygen.VO2Max
	}
	return metric, nil
}
