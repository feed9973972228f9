package api

import (
	"encoding/json"
	"time"

	"github.com/thrive/vitalsync/internal/domain/metric"
)

// InsightRequest asks the backend to summarise one metric trend.
type InsightRequest struct {
	MetricName  string                 `json:"metric_name"`
	MetricValue float64                `json:"metric_value"`
	Trend       string                 `json:"trend"`
	Notes       *string                `json:"notes,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// Insight is the generated summary for an InsightRequest.
type Insight struct {
	Summary         string    `json:"summary"`
	Recommendations []string  `json:"recommendations"`
	Actions         []string  `json:"actions"`
	CreatedAt       time.Time `json:"created_at"`
}

func (in *Insight) UnmarshalJSON(data []byte) error {
	type plain Insight
	var aux struct {
		plain
		CreatedAt *string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*in = Insight(aux.plain)
	if aux.CreatedAt != nil && *aux.CreatedAt != "" {
		t, err := metric.ParseTime(*aux.CreatedAt)
		if err != nil {
			return err
		}
		in.CreatedAt = t
	}
	return nil
}

// EHRStatus describes the patient's link to an external EHR.
type EHRStatus struct {
	Connected bool       `json:"connected"`
	PatientID *string    `json:"patient_id,omitempty"`
	FHIRBase  *string    `json:"fhir_base_url,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (st *EHRStatus) UnmarshalJSON(data []byte) error {
	type plain EHRStatus
	var aux struct {
		plain
		ExpiresAt *string `json:"expires_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*st = EHRStatus(aux.plain)
	st.ExpiresAt = nil
	if aux.ExpiresAt != nil && *aux.ExpiresAt != "" {
		t, err := metric.ParseTime(*aux.ExpiresAt)
		if err != nil {
			return err
		}
		st.ExpiresAt = &t
	}
	return nil
}

// EHRVital is one vital sign pulled from the EHR, already flattened by the
// backend.
type EHRVital struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Unit       *string `json:"unit,omitempty"`
	RecordedAt *string `json:"recorded_at,omitempty"`
}

// EHRAuthURL starts the EHR authorization redirect handled by the host app.
type EHRAuthURL struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// SessionCredentials grant access to a real-time audio/video room.
type SessionCredentials struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type sessionTokenRequest struct {
	RoomName        string `json:"room_name"`
	ParticipantName string `json:"participant_name"`
}

// Profile is the authenticated patient's identity.
type Profile struct {
	UserID   string                 `json:"user_id"`
	Email    *string                `json:"email,omitempty"`
	Name     *string                `json:"name,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
