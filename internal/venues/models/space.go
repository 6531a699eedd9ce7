package models

import (
	"strings"
	"time"

	id "ticketeer/pkg/domain"
	dErrors "ticketeer/pkg/domain-errors"
)

// Space is a rentable room or hall.
type Space struct {
	ID              id.SpaceID `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Capacity        int        `json:"capacity"`
	HourlyRateCents int64      `json:"hourly_rate_cents"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SpaceInput carries the editable fields of a space.
type SpaceInput struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Capacity        int    `json:"capacity"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
	Active          *bool  `json:"active,omitempty"`
}

func (in *SpaceInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	switch {
	case in.Name == "":
		return dErrors.New(dErrors.CodeValidation, "name is required")
	case len(in.Name) > 120:
		return dErrors.New(dErrors.CodeValidation, "name must be at most 120 characters")
	case len(in.Description) > 4000:
		return dErrors.New(dErrors.CodeValidation, "description must be at most 4000 characters")
	case in.Capacity < 1:
		return dErrors.New(dErrors.CodeValidation, "capacity must be at least 1")
	case in.HourlyRateCents < 0:
		return dErrors.New(dErrors.CodeValidation, "hourly rate cannot be negative")
	}
	return nil
}

func NewSpace(spaceID id.SpaceID, in SpaceInput, now time.Time) *Space {
	s := &Space{ID: spaceID, Active: true, CreatedAt: now}
	s.Apply(in, now)
	return s
}

func (s *Space) Apply(in SpaceInput, now time.Time) {
	s.Name = in.Name
	s.Description = in.Description
	s.Capacity = in.Capacity
	s.HourlyRateCents = in.HourlyRateCents
	if in.Active != nil {
		s.Active = *in.Active
	}
	s.UpdatedAt = now
}
