package types

import (
	"fmt"
	"strings"
)

// LandmarkPoints is the number of facial landmarks produced by the 68-point predictor.
const LandmarkPoints = 68

// LandmarkDim is the length of a flattened landmark vector (x, y per point).
const LandmarkDim = LandmarkPoints * 2

// FrameRecord is the diagnostic trace of one sampled frame.
type FrameRecord struct {
	FrameIndex       int     `json:"frame_idx"`
	Timestamp        float64 `json:"timestamp"`
	FaceCount        int     `json:"face_count"`
	LightingScore    float64 `json:"lighting_score"`
	MotionScore      float64 `json:"motion_score"`
	ConsistencyScore float64 `json:"consistency_score"`
}

// ClipMetadata is derived once after the full scan.
type ClipMetadata struct {
	FPS               float64 `json:"fps"`
	FrameCount        int     `json:"frame_count"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Duration          float64 `json:"duration"`
	FaceDetectionRate float64 `json:"face_detection_rate"`
	AvgLightingScore  float64 `json:"avg_lighting_score"`
	AvgMotionScore    float64 `json:"avg_motion_score"`
}

// AnalysisSummary repeats the headline numbers for display.
type AnalysisSummary struct {
	OverallConfidence      float64 `json:"overall_confidence"`
	LightingConsistency    float64 `json:"lighting_consistency"`
	MotionConsistency      float64 `json:"motion_consistency"`
	FaceDetectionStability float64 `json:"face_detection_stability"`
	ProcessingEfficiency   float64 `json:"processing_efficiency"`
}

// AnalysisResult is the output of one clip analysis. It is owned by the caller.
// Visualization holds PNG bytes and is serialized as base64; it is nil when rendering was skipped or failed.
type AnalysisResult struct {
	IsDeepfake      bool            `json:"is_deepfake"`
	ConfidenceScore float64         `json:"confidence_score"`
	ProcessingTime  float64         `json:"processing_time"`
	Inconclusive    bool            `json:"inconclusive"`
	SampledFrames   int             `json:"sampled_frames"`
	FrameAnalysis   []FrameRecord   `json:"frame_analysis"`
	Metadata        ClipMetadata    `json:"metadata"`
	Visualization   []byte          `json:"visualization"`
	AnalysisSummary AnalysisSummary `json:"analysis_summary"`
}

// LandmarkVector is a flattened list of 68 (x, y) landmark coordinates.
type LandmarkVector [LandmarkDim]float64

// ClipFeatures is the landmark representation of a whole video.
// Vector is nil when no sampled frame produced landmarks.
type ClipFeatures struct {
	Vector     *LandmarkVector `json:"vector"`
	FramesUsed int             `json:"frames_used"`
}

// Signal reports whether at least one frame contributed to the vector.
func (c ClipFeatures) Signal() bool {
	return c.Vector != nil && c.FramesUsed > 0
}

// Label is the ground-truth or predicted class of a clip.
type Label int

const (
	Real Label = 0
	Fake Label = 1
)

func (l Label) String() string {
	switch l {
	case Real:
		return "real"
	case Fake:
		return "fake"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// ParseLabel accepts "real"/"fake" (any case) or "0"/"1".
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "real", "0":
		return Real, nil
	case "fake", "1":
		return Fake, nil
	}
	return 0, fmt.Errorf("invalid label %q: must be real|fake|0|1", s)
}

// Prediction is the output of a clip classifier.
type Prediction struct {
	Label       Label   `json:"label"`
	Probability float64 `json:"probability"` // probability that the clip is fake
}
