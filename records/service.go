package records

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit is the page size of List when the caller doesn't give one
const DefaultListLimit = 100

// Service writes and reads dispatch records through a Repository
type Service struct {
	Repo         Repository
	DefaultLimit int

	// Now and NewID can be replaced in tests
	Now   func() time.Time
	NewID func() string
}

func NewService(repo Repository) *Service {
	return &Service{
		Repo:         repo,
		DefaultLimit: DefaultListLimit,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Write stores the payload as a new record with a fresh id and the current
// time. Client-sent id and ts are overwritten. Missing fields are fine.
func (s *Service) Write(ctx context.Context, payload *Record) (*Record, error) {
	if payload == nil {
		payload = &Record{}
	}
	rec := payload.Clone()
	rec.ID = s.newID()
	rec.Ts = s.now().UTC().UnixMilli()
	if err := s.Repo.Append(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns up to limit newest records. limit <= 0 means DefaultLimit.
func (s *Service) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = s.DefaultLimit
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	res, err := s.Repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []*Record{}
	}
	return res, nil
}

// ExportCSV writes all records as CSV and returns the number of rows
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	recs, err := s.Repo.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	return len(recs), WriteCSV(w, recs)
}

// CSVFileName returns the suggested download name for an export made at t
func (s *Service) CSVFileName() string {
	return CSVFileName(s.now())
}
