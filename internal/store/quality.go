package store

// QualityScore computes the 0-10 metadata-completeness rubric for a snapshot.
// It is the Go mirror of the snapshot_quality SQL view; the two must agree
// indicator for indicator:
//
//	1. summary present (>= 50 chars)
//	2. embedding present
//	3. tags non-empty
//	4. mentioned files non-empty
//	5. key decisions non-empty
//	6. bugs fixed non-empty
//	7. git commit hash present
//	8. session id present
//	9. message count >= 5
//	10. summary longer than 200 chars
func QualityScore(s *Snapshot) int {
	score := 0
	if len(s.Summary) >= 50 {
		score++
	}
	if len(s.Embedding) == EmbeddingDimensions {
		score++
	}
	if len(s.Tags) > 0 {
		score++
	}
	if len(s.MentionedFiles) > 0 {
		score++
	}
	if len(s.KeyDecisions) > 0 {
		score++
	}
	if len(s.BugsFixed) > 0 {
		score++
	}
	if s.GitCommitHash != "" {
		score++
	}
	if s.SessionID != "" {
		score++
	}
	if s.MessageCount >= 5 {
		score++
	}
	if len(s.Summary) > 200 {
		score++
	}
	return score
}
