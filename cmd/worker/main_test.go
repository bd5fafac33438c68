package main

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/cluster"
	"github.com/your-org/facegroups/internal/models"
)

func TestResultEventOutcome(t *testing.T) {
	imageID := uuid.New()
	matched := []uuid.UUID{uuid.New()}
	created := []uuid.UUID{uuid.New(), uuid.New()}

	tests := []struct {
		name    string
		summary *cluster.Summary
		err     error
		// publish mirrors the consumer's decision: terminal outcomes are
		// broadcast, rejections are only logged.
		publish    bool
		wantStatus models.ImageStatus
	}{
		{
			name:       "decode failure publishes failed",
			err:        fmt.Errorf("load image: %w", cluster.ErrDecodeFailure),
			publish:    true,
			wantStatus: models.ImageStatusFailed,
		},
		{
			name:       "storage outage publishes failed",
			err:        fmt.Errorf("fetch bytes: %w", cluster.ErrStorageUnavailable),
			publish:    true,
			wantStatus: models.ImageStatusFailed,
		},
		{
			name:       "persistence failure publishes failed",
			err:        fmt.Errorf("create face: %w", cluster.ErrPersistenceFailure),
			publish:    true,
			wantStatus: models.ImageStatusFailed,
		},
		{
			name:    "redelivered task for completed image is skipped",
			err:     cluster.ErrAlreadyProcessed,
			publish: false,
		},
		{
			name:    "in-flight image is skipped",
			err:     cluster.ErrAlreadyProcessing,
			publish: false,
		},
		{
			name:    "missing image is skipped",
			err:     cluster.ErrNotFound,
			publish: false,
		},
		{
			name: "success publishes completed with summary",
			summary: &cluster.Summary{
				FacesDetected: 3,
				GroupsMatched: matched,
				GroupsCreated: created,
			},
			publish:    true,
			wantStatus: models.ImageStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publish := tt.err == nil || cluster.IsTerminalError(tt.err)
			if publish != tt.publish {
				t.Fatalf("publish decision = %v, want %v", publish, tt.publish)
			}
			if !publish {
				return
			}

			evt := resultEvent(imageID, tt.summary, tt.err)
			if evt.ImageID != imageID {
				t.Errorf("image id = %s, want %s", evt.ImageID, imageID)
			}
			if evt.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", evt.Status, tt.wantStatus)
			}
			if tt.err != nil && evt.Error == "" {
				t.Error("failed event carries no error message")
			}
			if tt.err == nil {
				if evt.FacesDetected != tt.summary.FacesDetected {
					t.Errorf("faces detected = %d, want %d", evt.FacesDetected, tt.summary.FacesDetected)
				}
				if len(evt.GroupsMatched) != len(matched) || len(evt.GroupsCreated) != len(created) {
					t.Errorf("groups matched/created = %d/%d, want %d/%d",
						len(evt.GroupsMatched), len(evt.GroupsCreated), len(matched), len(created))
				}
			}
		})
	}
}
