package domain

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
)

// State is the workflow baton: the accumulated run state serialized into each
// task's input/output and threaded from one task to the next.
type State map[string]any

// Merge returns a copy of s with the patch applied on top (shallow).
func (s State) Merge(patch State) State {
	merged := make(State, len(s)+len(patch))
	for k, v := range s {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// Int reads a numeric baton field, tolerating the float64 that JSON
// round-trips produce. Missing or non-numeric values read as 0.
func (s State) Int(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Envelope is the JSON shape of Task.Input and Task.Output: the baton plus
// the id of the root task of the chain (the job id).
type Envelope struct {
	State State     `json:"state"`
	JobID uuid.UUID `json:"job_id"`
}

func EncodeEnvelope(state State, jobID uuid.UUID) (datatypes.JSON, error) {
	raw, err := json.Marshal(Envelope{State: state, JobID: jobID})
	if err != nil {
		return nil, errors.Wrap(err, "encode state envelope")
	}
	return datatypes.JSON(raw), nil
}

func DecodeEnvelope(raw datatypes.JSON) (Envelope, error) {
	var env Envelope
	if len(raw) == 0 {
		return Envelope{State: State{}}, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, errors.Wrap(err, "decode state envelope")
	}
	if env.State == nil {
		env.State = State{}
	}
	return env, nil
}
