package models

import "time"

// ResultRecord final per-participant result written by the extraction job
type ResultRecord struct {
	SessionID        string             `json:"session_id"`
	ParticipantID    string             `json:"participant_id"`
	ParticipantName  string             `json:"participant_name"`
	AvgHR            float64            `json:"avg_hr"`
	MaxHR            int                `json:"max_hr"`
	MinHR            int                `json:"min_hr"`
	CaloriesEstimate float64            `json:"calories_estimate"`
	EffortScore      float64            `json:"effort_score"`
	ZoneSeconds      [ZoneCount]float64 `json:"zone_seconds"`
	RankOverall      int                `json:"rank_overall"`
}

// RecapRecord session-level summary written alongside the results
type RecapRecord struct {
	SessionID        string    `json:"session_id"`
	Location         string    `json:"location"`
	TotalCalories    float64   `json:"total_calories"`
	ParticipantCount int       `json:"participant_count"`
	AverageEffort    float64   `json:"average_effort"`
	TopPerformers    []string  `json:"top_performers"`
	DurationSeconds  int       `json:"duration_seconds"`
	EndedAt          time.Time `json:"ended_at"`
}

// SessionOutcome what one extraction produced
type SessionOutcome struct {
	Results []ResultRecord `json:"results"`
	Recap   RecapRecord    `json:"recap"`
}
