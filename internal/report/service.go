package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrNotFound       = errors.New("report not found")
	ErrInvalidRequest = errors.New("invalid report request")
	ErrStorageFailure = errors.New("report storage failure")
)

type Service struct {
	reader Reader
	log    *zap.Logger
}

func NewService(reader Reader, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{reader: reader, log: log}
}

// BuildReport recomputes the report for userID's session on every call.
// A session owned by someone else is reported as not found.
func (s *Service) BuildReport(ctx context.Context, userID int64, sessionID string) (*Report, error) {
	sessionID = strings.TrimSpace(sessionID)
	if userID <= 0 || sessionID == "" {
		return nil, ErrInvalidRequest
	}

	snap, err := s.reader.Snapshot(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		s.log.Error("report snapshot failed",
			zap.String("session_id", sessionID),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if snap.Session.UserID != userID {
		return nil, ErrNotFound
	}
	if len(snap.Questions) == 0 {
		return nil, fmt.Errorf("%w: test %d has no questions", ErrNotFound, snap.Session.TestID)
	}
	return Aggregate(*snap), nil
}
