package marker

import (
	"context"
	"errors"
)

//go:generate mockgen -source=marker.go -destination=mock_marker.go -package=marker

var ErrNotConfigured = errors.New("marker endpoint not configured")

// Metadata mirrors the reward for display. It is never read back.
type Metadata struct {
	RewardID      string `json:"rewardId"`
	Points        int64  `json:"points"`
	TargetStateID string `json:"targetStateId"`
	Claimed       bool   `json:"claimed"`
}

type Marker struct {
	IssueID  string `json:"-"`
	MarkerID string `json:"id,omitempty"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`

	Metadata Metadata `json:"metadata"`
}

// Auth identifies the organization a call is made for and the bearer credential it uses.
type Auth struct {
	OrganizationID string
	Token          string
}

// Client writes the reward marker attached to an issue. Calls are best-effort and are
// never retried by the client.
type Client interface {
	Upsert(ctx context.Context, auth Auth, m Marker) (string, error)
	Delete(ctx context.Context, auth Auth, issueID, markerID string) error
}

type nopClient struct{}

// Nop returns a Client that writes nothing and reports ErrNotConfigured on every call.
func Nop() Client { return nopClient{} }

func (nopClient) Upsert(context.Context, Auth, Marker) (string, error) { return "", ErrNotConfigured }
func (nopClient) Delete(context.Context, Auth, string, string) error { return ErrNotConfigured }
