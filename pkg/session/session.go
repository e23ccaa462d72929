// Package session persists research runs as single JSON files, one per
// session. A session collects phase artifacts, the step scratchpad and the
// step digests; every mutation autosaves with a debounce, and phase
// artifact saves flush immediately. Writes are atomic (temp file + rename).
//
// Unknown top-level JSON keys are preserved across load/save cycles so
// newer fields written by other versions of the tool survive a resume.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fathom-agent/fathom/pkg/model"
)

// ErrSessionCorrupt marks a session file that exists but cannot be decoded.
// The orchestrator treats this as fatal.
var ErrSessionCorrupt = errors.New("session file corrupt")

type Status string

const (
	StatusInitialized Status = "initialized"
	StatusInProgress  Status = "in-progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Phase artifact keys.
const (
	KeyPhase0   = "phase0"
	KeyPhase0_5 = "phase0_5"
	KeyPhase1   = "phase1"
	KeyPhase1_5 = "phase1_5"
	KeyPhase2   = "phase2"
	KeyPhase3   = "phase3"
	KeyPhase4   = "phase4"
)

// StepArtifactKey returns the per-step phase 3 artifact key.
func StepArtifactKey(stepID int) string {
	return fmt.Sprintf("phase3_step_%d", stepID)
}

// Artifact is a stored phase output.
type Artifact struct {
	Data    json.RawMessage `json:"data"`
	SavedAt time.Time       `json:"saved_at"`
}

// ScratchpadEntry is the per-step research record.
type ScratchpadEntry struct {
	Findings   model.Findings `json:"findings"`
	Insights   string         `json:"insights"`
	Confidence float64        `json:"confidence"`
	Sources    []string       `json:"sources"`
	Timestamp  time.Time      `json:"timestamp"`
}

// StepDigest is a compact per-step summary carried as prompt context for
// subsequent steps.
type StepDigest struct {
	StepID    int       `json:"step_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// sessionData is the on-disk document. Extra holds unrecognized top-level
// keys verbatim.
type sessionData struct {
	SessionID          string                     `json:"session_id"`
	BatchID            string                     `json:"batch_id"`
	CreatedAt          time.Time                  `json:"created_at"`
	UpdatedAt          time.Time                  `json:"updated_at"`
	Status             Status                     `json:"status"`
	ResearchRole       *model.ResearchRole        `json:"research_role,omitempty"`
	SynthesizedGoal    *model.SynthesizedGoal     `json:"synthesized_goal,omitempty"`
	PrePhase1Feedback  string                     `json:"pre_phase1_feedback,omitempty"`
	PostPhase1Feedback string                     `json:"post_phase1_feedback,omitempty"`
	Quality            *model.QualityAssessment   `json:"quality_assessment,omitempty"`
	Cost               model.CostBreakdown        `json:"cost"`
	PhaseArtifacts     map[string]Artifact        `json:"phase_artifacts"`
	Scratchpad         map[string]ScratchpadEntry `json:"scratchpad"`
	StepDigests        []StepDigest               `json:"step_digests"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownKeys = map[string]bool{
	"session_id": true, "batch_id": true, "created_at": true,
	"updated_at": true, "status": true, "research_role": true,
	"synthesized_goal": true, "pre_phase1_feedback": true,
	"post_phase1_feedback": true, "quality_assessment": true, "cost": true,
	"phase_artifacts": true, "scratchpad": true, "step_digests": true,
}

func (d *sessionData) UnmarshalJSON(raw []byte) error {
	type alias sessionData
	var known alias
	if err := json.Unmarshal(raw, &known); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return err
	}
	for key := range all {
		if knownKeys[key] {
			delete(all, key)
		}
	}
	known.Extra = all
	*d = sessionData(known)
	return nil
}

func (d sessionData) MarshalJSON() ([]byte, error) {
	type alias sessionData
	base, err := json.Marshal(alias(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, val := range d.Extra {
		if _, taken := merged[key]; !taken {
			merged[key] = val
		}
	}
	return json.Marshal(merged)
}

// Session is a loaded research session. All methods are safe for use from
// the owning task; a single mutex serializes in-process writers.
type Session struct {
	mu        sync.Mutex
	store     *Store
	data      sessionData
	dirty     bool
	lastFlush time.Time
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SessionID
}

// BatchID returns the batch this session researches.
func (s *Session) BatchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.BatchID
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Status
}

// SetStatus transitions the lifecycle status and flushes immediately; status
// is what resume and the admin API key off, so it must not sit in the
// debounce window.
func (s *Session) SetStatus(status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Status = status
	return s.mutateLocked(true)
}

// SavePhaseArtifact records a phase output. With autosave the write is
// flushed immediately; otherwise the session is only marked dirty.
func (s *Session) SavePhaseArtifact(phaseKey string, data any, autosave bool) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %q: %w", phaseKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PhaseArtifacts[phaseKey] = Artifact{Data: raw, SavedAt: time.Now().UTC()}
	return s.mutateLocked(autosave)
}

// GetPhaseArtifact decodes a stored artifact into v. Returns false when the
// phase has no artifact.
func (s *Session) GetPhaseArtifact(phaseKey string, v any) (bool, error) {
	s.mu.Lock()
	artifact, ok := s.data.PhaseArtifacts[phaseKey]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if v == nil {
		return true, nil
	}
	if err := json.Unmarshal(artifact.Data, v); err != nil {
		return true, fmt.Errorf("failed to decode artifact %q: %w", phaseKey, err)
	}
	return true, nil
}

// HasArtifact reports whether the phase has a stored artifact.
func (s *Session) HasArtifact(phaseKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.PhaseArtifacts[phaseKey]
	return ok
}

// CompletedStepIDs returns the step ids that have phase3_step artifacts.
func (s *Session) CompletedStepIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int
	for key := range s.data.PhaseArtifacts {
		var id int
		if _, err := fmt.Sscanf(key, "phase3_step_%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// UpdateScratchpad upserts the per-step research record.
func (s *Session) UpdateScratchpad(stepID int, findings model.Findings, insights string, confidence float64, sources []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Scratchpad[strconv.Itoa(stepID)] = ScratchpadEntry{
		Findings:   findings,
		Insights:   insights,
		Confidence: confidence,
		Sources:    sources,
		Timestamp:  time.Now().UTC(),
	}
	return s.mutateLocked(false)
}

// Scratchpad returns the entries keyed by step id.
func (s *Session) Scratchpad() map[int]ScratchpadEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]ScratchpadEntry, len(s.data.Scratchpad))
	for key, entry := range s.data.Scratchpad {
		if id, err := strconv.Atoi(key); err == nil {
			out[id] = entry
		}
	}
	return out
}

// ScratchpadSummary renders the scratchpad deterministically in step order:
// insights, summary, prominent points and sources per step. Used as prompt
// context for downstream phases.
func (s *Session) ScratchpadSummary() string {
	entries := s.Scratchpad()

	ids := make([]int, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var b strings.Builder
	for _, id := range ids {
		entry := entries[id]
		fmt.Fprintf(&b, "### Step %d (confidence %.2f)\n", id, entry.Confidence)
		if entry.Insights != "" {
			fmt.Fprintf(&b, "Insights: %s\n", entry.Insights)
		}
		if entry.Findings.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", entry.Findings.Summary)
		}
		poi := entry.Findings.PointsOfInterest
		writePoints(&b, "Key claims", poi.KeyClaims, "key_claims")
		writePoints(&b, "Notable evidence", poi.NotableEvidence, "notable_evidence")
		writePoints(&b, "Specific examples", poi.SpecificExamples, "specific_examples")
		if len(entry.Sources) > 0 {
			fmt.Fprintf(&b, "Sources: %s\n", strings.Join(entry.Sources, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func writePoints(b *strings.Builder, label string, entries []model.PointEntry, subArray string) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, e := range entries {
		text := e.CanonicalText(subArray)
		if text == "" {
			continue
		}
		if e.Speaker != "" {
			fmt.Fprintf(b, "- %s (%s)\n", text, e.Speaker)
		} else {
			fmt.Fprintf(b, "- %s\n", text)
		}
	}
}

// AppendStepDigest appends a digest, dropping the oldest entries beyond cap.
func (s *Session) AppendStepDigest(digest StepDigest, cap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.StepDigests = append(s.data.StepDigests, digest)
	if cap > 0 && len(s.data.StepDigests) > cap {
		s.data.StepDigests = s.data.StepDigests[len(s.data.StepDigests)-cap:]
	}
	return s.mutateLocked(false)
}

// StepDigests returns the retained digests oldest-first.
func (s *Session) StepDigests() []StepDigest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StepDigest, len(s.data.StepDigests))
	copy(out, s.data.StepDigests)
	return out
}

// SetResearchRole stores the phase 0.5 persona.
func (s *Session) SetResearchRole(role model.ResearchRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ResearchRole = &role
	return s.mutateLocked(false)
}

// ResearchRole returns the stored persona, if set.
func (s *Session) ResearchRole() (model.ResearchRole, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.ResearchRole == nil {
		return model.ResearchRole{}, false
	}
	return *s.data.ResearchRole, true
}

// SetSynthesizedGoal stores the phase 1.5 research frame.
func (s *Session) SetSynthesizedGoal(goal model.SynthesizedGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.SynthesizedGoal = &goal
	return s.mutateLocked(false)
}

// SynthesizedGoal returns the stored research frame, if set.
func (s *Session) SynthesizedGoal() (model.SynthesizedGoal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.SynthesizedGoal == nil {
		return model.SynthesizedGoal{}, false
	}
	return *s.data.SynthesizedGoal, true
}

// SetFeedback records the user feedback given before or after phase 1.
func (s *Session) SetFeedback(prePhase1, postPhase1 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prePhase1 != "" {
		s.data.PrePhase1Feedback = prePhase1
	}
	if postPhase1 != "" {
		s.data.PostPhase1Feedback = postPhase1
	}
	return s.mutateLocked(false)
}

// SetQuality stores the batch quality assessment.
func (s *Session) SetQuality(q model.QualityAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Quality = &q
	return s.mutateLocked(false)
}

// AddCost accumulates token usage into the session metadata.
func (s *Session) AddCost(cost model.CostBreakdown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Cost.Add(cost)
	return s.mutateLocked(false)
}

// Cost returns the accumulated token usage.
func (s *Session) Cost() model.CostBreakdown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Cost
}

// SetMetadata stores an arbitrary top-level key. Keys colliding with the
// session's own fields are rejected.
func (s *Session) SetMetadata(key string, value any) error {
	if knownKeys[key] {
		return fmt.Errorf("metadata key %q conflicts with a session field", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Extra == nil {
		s.data.Extra = make(map[string]json.RawMessage)
	}
	s.data.Extra[key] = raw
	return s.mutateLocked(false)
}

// GetMetadata decodes an arbitrary top-level key into v.
func (s *Session) GetMetadata(key string, v any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data.Extra[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// mutateLocked records the mutation and applies the autosave policy:
// force=true flushes now; otherwise a flush happens only when the debounce
// window since the last flush has elapsed.
func (s *Session) mutateLocked(force bool) error {
	s.data.UpdatedAt = time.Now().UTC()
	s.dirty = true

	if force || time.Since(s.lastFlush) >= s.store.debounce {
		return s.flushLocked()
	}
	return nil
}

// Flush writes the session to disk if dirty.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.flushLocked()
}

func (s *Session) flushLocked() error {
	if err := s.store.write(&s.data); err != nil {
		return err
	}
	s.dirty = false
	s.lastFlush = time.Now()
	return nil
}
