package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageStoreAudio Stage = "store_audio"
	StageDetect     Stage = "detect"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
	StagePersist    Stage = "persist"
	StageBroadcast  Stage = "broadcast"
)

// Status is the outcome of a stage.
type Status string

const (
	StatusOK       Status = "ok"
	StatusSkipped  Status = "skipped"
	StatusDegraded Status = "degraded" // succeeded through a fallback
	StatusFailed   Status = "failed"
)

// StageResult is the non-fatal record of what one stage did.
type StageResult struct {
	Stage   Stage
	Status  Status
	Detail  string
	Err     error
	Elapsed time.Duration
}

const sentinelPrefix = "[Translation unavailable"

// TranslationSentinel marks a translated_text whose translation failed.
func TranslationSentinel(err error) string {
	if err == nil {
		return sentinelPrefix + "]"
	}
	return fmt.Sprintf("%s: %s]", sentinelPrefix, err)
}

// IsTranslationSentinel reports whether s is a failed-translation marker.
func IsTranslationSentinel(s string) bool {
	return strings.HasPrefix(s, sentinelPrefix)
}
