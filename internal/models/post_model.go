package models

import (
	"errors"
	"fmt"
	"time"
)

type PostStatus string

const (
	PostStatusDraft              PostStatus = "draft"
	PostStatusScheduled          PostStatus = "scheduled"
	PostStatusPublishing         PostStatus = "publishing"
	PostStatusPublished          PostStatus = "published"
	PostStatusPartiallyPublished PostStatus = "partially_published"
	PostStatusFailed             PostStatus = "failed"
	PostStatusCancelled          PostStatus = "cancelled"
)

type ContentFormat string

const (
	ContentFormatPost     ContentFormat = "post"
	ContentFormatStory    ContentFormat = "story"
	ContentFormatReel     ContentFormat = "reel"
	ContentFormatCarousel ContentFormat = "carousel"
)

func (f ContentFormat) Valid() bool {
	switch f {
	case ContentFormatPost, ContentFormatStory, ContentFormatReel, ContentFormatCarousel:
		return true
	}
	return false
}

type TargetStatus string

const (
	TargetStatusPending   TargetStatus = "pending"
	TargetStatusPublished TargetStatus = "published"
	TargetStatusFailed    TargetStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists every status change a compare-and-swap may apply.
// Terminal statuses have no outgoing edges.
var transitions = map[PostStatus][]PostStatus{
	PostStatusDraft:      {PostStatusScheduled, PostStatusCancelled},
	PostStatusScheduled:  {PostStatusPublishing, PostStatusCancelled, PostStatusDraft},
	PostStatusPublishing: {PostStatusPublished, PostStatusPartiallyPublished, PostStatusFailed, PostStatusScheduled},
}

func CanTransition(from, to PostStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidateTransition(from, to PostStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func (s PostStatus) Terminal() bool {
	switch s {
	case PostStatusPublished, PostStatusPartiallyPublished, PostStatusFailed, PostStatusCancelled:
		return true
	}
	return false
}

// Blocking reports whether a post in this status occupies its slot for conflict detection.
func (s PostStatus) Blocking() bool {
	return s != PostStatusCancelled && s != PostStatusFailed
}

type PlatformTarget struct {
	Platform       string       `json:"platform"`
	Status         TargetStatus `json:"status"`
	ExternalPostID string       `json:"external_post_id,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	Attempts       int          `json:"attempts"`
	PublishedAt    *time.Time   `json:"published_at,omitempty"`
}

type ScheduledPost struct {
	ID              string           `db:"id" json:"id"`
	WorkspaceID     string           `db:"workspace_id" json:"workspace_id"`
	Targets         []PlatformTarget `db:"targets" json:"targets"`
	ContentFormat   ContentFormat    `db:"content_format" json:"content_format"`
	MediaRef        string           `db:"media_ref" json:"media_ref"`
	Caption         string           `db:"caption" json:"caption"`
	ScheduledFor    time.Time        `db:"scheduled_for" json:"scheduled_for"`
	Status          PostStatus       `db:"status" json:"status"`
	Version         int64            `db:"version" json:"version"`
	RetryCount      int              `db:"retry_count" json:"retry_count"`
	LastError       string           `db:"last_error" json:"last_error,omitempty"`
	LeaseOwner      string           `db:"lease_owner" json:"-"`
	LeaseExpiresAt  *time.Time       `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
	CancelRequested bool             `db:"cancel_requested" json:"cancel_requested"`
	PublishedAt     *time.Time       `db:"published_at" json:"published_at,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

func (p *ScheduledPost) Platforms() []string {
	platforms := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		platforms = append(platforms, t.Platform)
	}
	return platforms
}

func (p *ScheduledPost) HasPlatform(platform string) bool {
	for _, t := range p.Targets {
		if t.Platform == platform {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (p *ScheduledPost) Clone() *ScheduledPost {
	c := *p
	c.Targets = make([]PlatformTarget, len(p.Targets))
	for i, t := range p.Targets {
		c.Targets[i] = t
		if t.PublishedAt != nil {
			at := *t.PublishedAt
			c.Targets[i].PublishedAt = &at
		}
	}
	if p.LeaseExpiresAt != nil {
		at := *p.LeaseExpiresAt
		c.LeaseExpiresAt = &at
	}
	if p.PublishedAt != nil {
		at := *p.PublishedAt
		c.PublishedAt = &at
	}
	return &c
}

// LeaseExpired reports whether a publishing post's lease has lapsed at now.
func (p *ScheduledPost) LeaseExpired(now time.Time) bool {
	return p.Status == PostStatusPublishing && p.LeaseExpiresAt != nil && !p.LeaseExpiresAt.After(now)
}

// Due reports whether the post is eligible for lease acquisition at now.
func (p *ScheduledPost) Due(now time.Time) bool {
	if p.Status == PostStatusScheduled {
		return !p.ScheduledFor.After(now)
	}
	return p.LeaseExpired(now)
}
