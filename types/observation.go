package types

import "time"

// Status is the moderation state shared by observations and comments.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the three moderation states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Decision reports whether s is a status an admin may assign.
// Nothing ever moves back to pending.
func (s Status) Decision() bool {
	return s == StatusApproved || s == StatusRejected
}

// VoteValue is the community signal on a species identification.
type VoteValue string

const (
	VoteCoherent   VoteValue = "coherent"
	VoteIncoherent VoteValue = "incoherent"
)

// Valid reports whether v is a known vote value.
func (v VoteValue) Valid() bool {
	return v == VoteCoherent || v == VoteIncoherent
}

// Observation is a submitted wildlife sighting.
type Observation struct {
	// ID is the unique identifier of the observation.
	ID string `json:"id" db:"id"`

	// AuthorID identifies the user who submitted the sighting.
	AuthorID string `json:"userId" db:"user_id"`

	// AuthorName is the author's display name at submission time.
	AuthorName string `json:"userName" db:"user_name"`

	// PhotoRef is the opaque storage key of the uploaded photo.
	PhotoRef string `json:"-" db:"photo_ref"`

	PopularName    string `json:"popularName" db:"popular_name"`
	ScientificName string `json:"scientificName" db:"scientific_name"`

	// Group is the taxonomic group (bird, mammal, ...) chosen by the observer.
	Group    string `json:"group" db:"species_group"`
	Location string `json:"location" db:"location"`
	Sex      string `json:"sex" db:"sex"`

	// ObservedAt is when the animal was seen, in UTC.
	ObservedAt time.Time `json:"observedAt" db:"observed_at"`

	// Status is the moderation state. New observations start pending.
	Status Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ObservationFields carries the user-supplied part of a new observation.
type ObservationFields struct {
	PopularName    string
	ScientificName string
	Group          string
	Location       string
	Sex            string
	ObservedAt     time.Time
}

// Comment is a community remark attached to an observation.
type Comment struct {
	ID            string    `json:"id" db:"id"`
	ObservationID string    `json:"-" db:"observation_id"`
	AuthorID      string    `json:"userId" db:"user_id"`
	AuthorName    string    `json:"userName" db:"user_name"`
	Text          string    `json:"text" db:"text"`
	Status        Status    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// Vote is one user's opinion on an observation. There is at most one
// vote per (observation, voter) pair.
type Vote struct {
	ID            string    `json:"id" db:"id"`
	ObservationID string    `json:"observationId" db:"observation_id"`
	VoterID       string    `json:"userId" db:"user_id"`
	Value         VoteValue `json:"value" db:"value"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// VoteTally partitions voter ids by the value they cast.
type VoteTally struct {
	Coherent   []string `json:"coherent"`
	Incoherent []string `json:"incoherent"`
}

// Bundle is an observation enriched with its visible comments, its vote
// partition and the requester's own vote.
type Bundle struct {
	Observation
	Photo    string     `json:"photo"`
	Comments []Comment  `json:"comments"`
	Votes    VoteTally  `json:"votes"`
	MyVote   *VoteValue `json:"myVote"`
}
