package terra

import "encoding/json"

// WebhookPayload is the envelope of every webhook delivery. Data items are
// decoded according to Type.
type WebhookPayload struct {
	Type        string            `json:"type"`
	User        *User             `json:"user,omitempty"`
	Data        []json.RawMessage `json:"data,omitempty"`
	Status      string            `json:"status,omitempty"`
	Message     string            `json:"message,omitempty"`
	OldUser     *User             `json:"old_user,omitempty"`
	ReferenceID string            `json:"reference_id,omitempty"`
}

type User struct {
	UserID            string `json:"user_id"`
	Provider          string `json:"provider,omitempty"`
	LastWebhookUpdate string `json:"last_webhook_update,omitempty"`
	ReferenceID       string `json:"reference_id,omitempty"`
	Scopes            string `json:"scopes,omitempty"`
}

type metadata struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Type      *int   `json:"type"`
	Name      string `json:"name"`
	SummaryID string `json:"summary_id"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

type activityPayload struct {
	Metadata        metadata `json:"metadata"`
	ActiveDurations *struct {
		ActivitySeconds *float64 `json:"activity_seconds"`
	} `json:"active_durations_data"`
	Distance *struct {
		DistanceMeters      *float64 `json:"distance_meters"`
		Steps               *int64   `json:"steps"`
		ElevationGainMetres *float64 `json:"elevation_gain_metres"`
	} `json:"distance_data"`
	Calories *struct {
		TotalBurnedCalories *float64 `json:"total_burned_calories"`
	} `json:"calories_data"`
	HeartRate *heartRateData `json:"heart_rate_data"`
	Movement  *struct {
		AvgSpeed   *float64 `json:"avg_speed_metres_per_second"`
		MaxSpeed   *float64 `json:"max_speed_metres_per_second"`
		AvgCadence *float64 `json:"avg_cadence"`
	} `json:"movement_data"`
	Position *struct {
		Start []float64 `json:"start_pos_lat_lng_deg"`
	} `json:"position_data"`
	Oxygen *struct {
		AvgSaturation *float64 `json:"avg_saturation_percentage"`
		VO2Max        *float64 `json:"vo2max_ml_per_min_per_kg"`
	} `json:"oxygen_data"`
	Strain *struct {
		StrainLevel *float64 `json:"strain_level"`
	} `json:"strain_data"`
	Power *struct {
		AvgWatts *float64 `json:"avg_watts"`
		MaxWatts *float64 `json:"max_watts"`
	} `json:"power_data"`
	TSS *struct {
		TSS *float64 `json:"tss"`
	} `json:"tss_data"`
}

type heartRateData struct {
	AvgBPM     *float64 `json:"avg_hr_bpm"`
	MaxBPM     *float64 `json:"max_hr_bpm"`
	RestingBPM *float64 `json:"resting_hr_bpm"`
	AvgRMSSD   *float64 `json:"avg_hrv_rmssd"`
}

type sleepPayload struct {
	Metadata  metadata `json:"metadata"`
	Durations *struct {
		AsleepSeconds       *float64 `json:"asleep_seconds"`
		InBedSeconds        *float64 `json:"in_bed_seconds"`
		SleepLatencySeconds *float64 `json:"sleep_latency_seconds"`
		NumAwakenings       *int64   `json:"num_awakenings"`
		SleepEfficiency     *float64 `json:"sleep_efficiency"`
		Stages              []struct {
			StartTime string `json:"start_time"`
			EndTime   string `json:"end_time"`
			Stage     int    `json:"stage"`
		} `json:"sleep_stages"`
	} `json:"sleep_durations_data"`
	HeartRate   *heartRateData `json:"heart_rate_data"`
	Respiration *struct {
		AvgBreathsPerMinute *float64 `json:"avg_breaths_per_minute"`
	} `json:"respiration_data"`
	Temperature *struct {
		DeltaCelsius *float64 `json:"delta_temperature_celsius"`
	} `json:"temperature_data"`
	Readiness *struct {
		ReadinessScore  *float64 `json:"readiness_score"`
		RecoveryScore   *float64 `json:"recovery_score"`
		ActivityBalance *float64 `json:"activity_balance"`
		SleepBalance    *float64 `json:"sleep_balance"`
		HRVBalance      *float64 `json:"hrv_balance"`
	} `json:"readiness_data"`
}

type bodyPayload struct {
	Metadata     metadata `json:"metadata"`
	Measurements *struct {
		WeightKg            *float64 `json:"weight_kg"`
		BodyFatPercentage   *float64 `json:"body_fat_percentage"`
		MuscleMassKg        *float64 `json:"muscle_mass_kg"`
		BoneMassKg          *float64 `json:"bone_mass_kg"`
		BodyWaterPercentage *float64 `json:"body_water_percentage"`
		BMR                 *float64 `json:"bmr"`
		Systolic            *float64 `json:"blood_pressure_systolic"`
		Diastolic           *float64 `json:"blood_pressure_diastolic"`
		BloodGlucose        *float64 `json:"blood_glucose_mg_per_dl"`
	} `json:"measurements_data"`
	Oxygen *struct {
		VO2Max *float64 `json:"vo2max_ml_per_min_per_kg"`
	} `json:"oxygen_data"`
}

type dailyPayload struct {
	Metadata  metadata       `json:"metadata"`
	HeartRate *heartRateData `json:"heart_rate_data"`
	Stress    *struct {
		AvgStressLevel *float64 `json:"avg_stress_level"`
	} `json:"stress_data"`
	Scores *struct {
		Activity *float64 `json:"activity_score"`
		Recovery *float64 `json:"recovery_score"`
		Sleep    *float64 `json:"sleep_score"`
	} `json:"scores"`
}
