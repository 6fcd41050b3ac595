// Package pipeline runs the post-call sequence after the voice platform
// reports a call ended: transcript recovery, behavioral analysis, artifact
// archival, record persistence, and similarity indexing.
//
// Every step is best-effort and independently logged. A failed step never
// stops the ones after it; losing the recording upload must not cost us the
// insight row, and vice versa.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"companion-calls/internal/analysis"
	"companion-calls/internal/blob"
	"companion-calls/internal/store"
	"companion-calls/internal/voice"
)

// Outcome reports which steps succeeded. Observability only; callers must
// not branch on it.
type Outcome struct {
	ExternalCallID   string   `json:"external_call_id"`
	TranscriptFound  bool     `json:"transcript_found"`
	CrisisDetected   bool     `json:"crisis_detected"`
	RecordingStored  bool     `json:"recording_stored"`
	TranscriptStored bool     `json:"transcript_stored"`
	RecordPersisted  bool     `json:"record_persisted"`
	InsightPersisted bool     `json:"insight_persisted"`
	Indexed          bool     `json:"indexed"`
	Errors           []string `json:"errors,omitempty"`
}

// Indexer is the slice of the similarity index the pipeline needs.
type Indexer interface {
	Index(ctx context.Context, doc analysis.ConversationDoc) error
}

// Pipeline wires the post-call collaborators. Index may be nil; the
// indexing step is then skipped.
type Pipeline struct {
	store    store.Store
	blobs    blob.Store
	index    Indexer
	platform voice.Platform
	log      *slog.Logger

	httpClient *http.Client
	clock      func() time.Time
	loc        *time.Location
}

func New(st store.Store, blobs blob.Store, index Indexer, platform voice.Platform, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:      st,
		blobs:      blobs,
		index:      index,
		platform:   platform,
		log:        log,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		clock:      time.Now,
		loc:        time.Local,
	}
}

// SetLocation sets the timezone used for next-call dates. Defaults to the
// process timezone.
func (p *Pipeline) SetLocation(loc *time.Location) {
	if loc != nil {
		p.loc = loc
	}
}

// archivedTranscript is the JSON document written to the active bucket.
type archivedTranscript struct {
	ExternalCallID  string `json:"external_call_id"`
	UserID          string `json:"user_id"`
	Transcript      string `json:"transcript"`
	Summary         string `json:"summary,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
	EndedReason     string `json:"ended_reason,omitempty"`
	ProcessedAt     string `json:"processed_at"`
}

// Process runs the full post-call sequence for one ended call.
func (p *Pipeline) Process(ctx context.Context, userID string, call voice.CallPayload) Outcome {
	out := Outcome{ExternalCallID: call.ID}
	log := p.log.With("external_call_id", call.ID, "user_id", userID)
	now := p.clock()

	// Step 1: transcript, with an API fallback when the event arrived bare.
	transcript := call.Transcript
	if transcript == "" && p.platform != nil {
		t, err := p.platform.GetTranscript(ctx, call.ID)
		if err != nil {
			out.fail(log, "transcript fallback", err)
		} else {
			transcript = t
		}
	}
	out.TranscriptFound = transcript != ""
	if transcript == "" {
		log.Warn("no transcript available, continuing with empty analysis")
	}

	// Step 2: behavioral analysis.
	res := analysis.Analyze(transcript)
	out.CrisisDetected = res.CrisisDetected
	if res.CrisisDetected {
		log.Error("crisis phrases detected in transcript",
			"emotional_state", res.EmotionalState, "codes", res.BehavioralCodes)
	}

	// Step 3: artifacts. Recording goes to both bucket classes; the legal
	// copy is the retention record, the active copy serves the product.
	keyBase := fmt.Sprintf("recordings/%s/%s", userID, call.ID)
	if call.RecordingURL != "" {
		if audio, contentType, err := p.download(ctx, call.RecordingURL); err != nil {
			out.fail(log, "recording download", err)
		} else {
			stored := true
			for _, class := range []blob.Class{blob.ClassLegal, blob.ClassActive} {
				if err := p.blobs.Put(ctx, class, keyBase+"/audio.mp3", audio, contentType); err != nil {
					out.fail(log, fmt.Sprintf("recording upload (%s)", class), err)
					stored = false
				}
			}
			out.RecordingStored = stored
		}
	}
	if transcript != "" {
		doc, err := json.Marshal(archivedTranscript{
			ExternalCallID:  call.ID,
			UserID:          userID,
			Transcript:      transcript,
			Summary:         call.Summary,
			DurationSeconds: call.DurationSeconds,
			EndedReason:     call.EndedReason,
			ProcessedAt:     now.UTC().Format(time.RFC3339),
		})
		if err == nil {
			err = p.blobs.Put(ctx, blob.ClassActive, keyBase+"/transcript.json", doc, "application/json")
		}
		if err != nil {
			out.fail(log, "transcript archive", err)
		} else {
			out.TranscriptStored = true
		}
	}

	// Step 4: durable record + insight.
	codes := make([]string, len(res.BehavioralCodes))
	for i, c := range res.BehavioralCodes {
		codes[i] = string(c)
	}
	rec := store.CallRecord{
		UserID:          userID,
		ExternalCallID:  call.ID,
		Status:          store.CallStatusCompleted,
		DurationSeconds: call.DurationSeconds,
		EndReason:       call.EndedReason,
		RecordingURL:    call.RecordingURL,
		Transcript:      transcript,
		Sentiment:       string(res.EmotionalState),
		Topics:          res.Topics,
		BehavioralCodes: codes,
		FollowUpNeeded:  res.FollowUpNeeded,
	}
	if res.FollowUpNeeded {
		next := p.nextCallDate(now)
		rec.NextCallAt = &next
	}
	if err := p.store.UpsertCallRecord(ctx, rec); err != nil {
		out.fail(log, "call record upsert", err)
	} else {
		out.RecordPersisted = true
	}

	ins := store.Insight{
		ExternalCallID:  call.ID,
		UserID:          userID,
		BehavioralCodes: codes,
		EmotionalState:  string(res.EmotionalState),
		HealthMentions:  res.HealthMentions,
		FamilyMentions:  res.FamilyMentions,
		NeedsIdentified: res.NeedsIdentified,
		ActionItems:     res.ActionItems,
		CrisisDetected:  res.CrisisDetected,
	}
	if err := p.store.InsertInsight(ctx, ins); err != nil {
		out.fail(log, "insight insert", err)
	} else {
		out.InsightPersisted = true
	}

	// Step 5: anonymized similarity document. Identifying data never
	// reaches the index.
	if p.index != nil && transcript != "" {
		age := 0
		if user, err := p.store.GetUser(ctx, userID); err == nil {
			age = user.Age(now)
		} else {
			log.Warn("user lookup for age group failed", "error", err)
		}
		doc := analysis.NewConversationDoc(
			analysis.Anonymize(transcript), res, age,
			call.DurationSeconds, now.UTC().Format(time.RFC3339))
		if err := p.index.Index(ctx, doc); err != nil {
			out.fail(log, "similarity index", err)
		} else {
			out.Indexed = true
		}
	}

	log.Info("post-call pipeline finished",
		"transcript_found", out.TranscriptFound,
		"record_persisted", out.RecordPersisted,
		"insight_persisted", out.InsightPersisted,
		"indexed", out.Indexed,
		"errors", len(out.Errors))
	return out
}

// nextCallDate is tomorrow at 10:00 in the pipeline's location.
func (p *Pipeline) nextCallDate(now time.Time) time.Time {
	local := now.In(p.loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 10, 0, 0, 0, p.loc)
}

func (p *Pipeline) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return data, contentType, nil
}

// fail records a step failure without interrupting the run.
func (o *Outcome) fail(log *slog.Logger, step string, err error) {
	log.Error("pipeline step failed", "step", step, "error", err)
	o.Errors = append(o.Errors, fmt.Sprintf("%s: %v", step, err))
}
