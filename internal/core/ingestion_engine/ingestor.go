package ingestion_engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	FileReadyQueue  = "file-ready"
	ProcessFileName = "process-file"
)

var ErrInvalidJob = errors.New("invalid file job")

// FileJob is the payload of a process-file job.
type FileJob struct {
	Filename    string `json:"filename"`
	Destination string `json:"destination"`
	Path        string `json:"path"`
}

func (j FileJob) Validate() error {
	if j.Filename == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidJob)
	}
	if j.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidJob)
	}
	return nil
}

func (j FileJob) Encode() (string, error) {
	if err := j.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeFileJob parses and validates a job payload.
func DecodeFileJob(payload string) (FileJob, error) {
	var j FileJob
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		return FileJob{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := j.Validate(); err != nil {
		return FileJob{}, err
	}
	return j, nil
}
